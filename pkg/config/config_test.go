package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	b := Default()
	require.NoError(t, b.Validate())
	assert.Len(t, b.Pressure, 5)
	assert.Equal(t, DefaultWindow, b.Supervisor.Window)
}

func TestParse(t *testing.T) {
	b, err := Parse([]byte(`
i2c:
  driver: mcp2221
spi:
  driver: gobot
  speed: 500000
pressure:
  - name: dps368-1
    bus: spi
    owner: DPS368_1
    extender: true
magnetic:
  - name: tlv493d
    owner: TLV493D
    address: 0x5e
speed:
  - name: fan
    dir_pin: mcp23017:B1
    pole_pairs: 2
    mode: timer
supervisor:
  interval: 250ms
  rail_pin: mcp23017:A0
mqtt:
  enabled: true
  broker: localhost:1883
`))
	require.NoError(t, err)
	assert.Equal(t, DriverMCP2221, b.I2C.Driver)
	assert.Equal(t, DefaultI2CRetryLimit, b.I2C.RetryLimit)
	assert.Equal(t, int64(500000), b.SPI.Speed)
	assert.True(t, b.Pressure[0].Extender)
	assert.Equal(t, uint8(0x5E), b.Magnetic[0].Address)
	assert.Equal(t, "hz", b.Speed[0].Unit)
	assert.Equal(t, 250*time.Millisecond, b.Supervisor.Interval)
	assert.Equal(t, DefaultWindow, b.Supervisor.Window)
	assert.Equal(t, "mcp23017:A0", b.Supervisor.RailPin)
	assert.True(t, b.MQTT.Enabled)
}

func TestParse_Empty(t *testing.T) {
	b, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DriverHost, b.I2C.Driver)
	assert.Equal(t, DriverNone, b.SPI.Driver)
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse([]byte("i2c:\n  drvier: host\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(b *Board)
	}{
		{"unknown i2c driver", func(b *Board) { b.I2C.Driver = "ftdi" }},
		{"unknown spi driver", func(b *Board) { b.SPI.Driver = "bitbang" }},
		{"spi sensor without spi", func(b *Board) { b.SPI.Driver = DriverNone }},
		{"duplicate name", func(b *Board) { b.Magnetic[0].Name = "dps368-1" }},
		{"missing name", func(b *Board) { b.Switches[0].Name = "" }},
		{"i2c pressure without address", func(b *Board) { b.Pressure[3].Address = 0 }},
		{"unknown bus", func(b *Board) { b.Pressure[0].Bus = "can" }},
		{"switch without pin", func(b *Board) { b.Switches[0].Pin = "" }},
		{"speed without pole pairs", func(b *Board) { b.Speed[0].PolePairs = 0 }},
		{"polling without speed pin", func(b *Board) { b.Speed[0].SpeedPin = "" }},
		{"unknown unit", func(b *Board) { b.Speed[0].Unit = "mph" }},
		{"unknown mode", func(b *Board) { b.Speed[0].Mode = "dma" }},
		{"bad bank", func(b *Board) { b.Expander.Bank = 2 }},
		{"mqtt without broker", func(b *Board) { b.MQTT.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Default()
			tt.modify(b)
			assert.ErrorIs(t, b.Validate(), ErrInvalid)
		})
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yaml")
	want := Default()
	want.Supervisor.RailPin = "GPIO5"
	require.NoError(t, Save(path, want))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
