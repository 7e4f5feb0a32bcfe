package main

import (
	"flag"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/bsp/magnetic"
	"github.com/mklimuk/bsp/pkg/config"
)

func TestHexByte(t *testing.T) {
	tests := []struct {
		in      string
		want    byte
		wantErr bool
	}{
		{in: "21", want: 0x21},
		{in: "ff", want: 0xFF},
		{in: "0x21", wantErr: true},
		{in: "2122", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := hexByte(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAccessMode(t *testing.T) {
	m, err := parseAccessMode("ultra-low-power")
	require.NoError(t, err)
	assert.Equal(t, magnetic.UltraLowPower, m)
	_, err = parseAccessMode("turbo")
	assert.Error(t, err)
}

func newContext(t *testing.T, args ...string) *cli.Context {
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	set.String("config", "", "")
	set.Var(cli.NewStringSlice(), "sensor", "")
	require.NoError(t, set.Parse(args))
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.yaml")
	cfg, err := loadConfig(newContext(t, "-config", missing))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg, "reference layout without a file")

	path := filepath.Join(dir, "board.yaml")
	want := config.Default()
	want.Supervisor.Window = 5
	require.NoError(t, config.Save(path, want))
	cfg, err = loadConfig(newContext(t, "-config", path))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Supervisor.Window)
}

func TestSelected(t *testing.T) {
	all := newContext(t)
	assert.True(t, selected(all, "dps368-1"))

	some := newContext(t, "-sensor", "dps368-1", "-sensor", "tlv493d")
	assert.True(t, selected(some, "tlv493d"))
	assert.False(t, selected(some, "dps368-2"))
}
