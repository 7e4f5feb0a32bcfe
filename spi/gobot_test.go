package spi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gobotspi "gobot.io/x/gobot/v2/drivers/spi"
	"gobot.io/x/gobot/v2/platforms/adaptors"
	"gobot.io/x/gobot/v2/system"
	spiconn "periph.io/x/conn/v3/spi"
)

func newGobotTestConn(t *testing.T) (*GobotConn, *system.MockSpiAccess) {
	t.Helper()
	sys := system.NewAccesser()
	a := adaptors.NewSpiBusAdaptor(sys, func(int) error { return nil }, 0, 0, 0, 8, 1_000_000, nil)
	spi := sys.UseMockSpi()
	c, err := NewGobotConn(a, gobotspi.WithSpeed(500_000))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, spi
}

func TestGobotConn_Tx(t *testing.T) {
	c, spi := newGobotTestConn(t)

	spi.SetSimRead([]byte{0x00, 0x10})
	r := make([]byte, 2)
	require.NoError(t, c.Tx([]byte{0x8D}, r))
	assert.Equal(t, []byte{0x00, 0x10}, r)
	assert.Equal(t, []byte{0x8D, 0x00}, spi.Written(), "command padded to the read length")

	spi.Reset()
	require.NoError(t, c.Tx([]byte{0x06, 0x27}, nil))
	assert.Equal(t, []byte{0x06, 0x27}, spi.Written())

	spi.SetReadError(true)
	assert.Error(t, c.Tx([]byte{0x8D}, r))
}

func TestGobotConn_SetMode(t *testing.T) {
	c, spi := newGobotTestConn(t)
	require.NoError(t, c.Tx([]byte{0x01}, nil))

	require.NoError(t, c.SetMode(spiconn.Mode0))
	assert.Equal(t, []byte{0x01}, spi.Written(), "same mode keeps the connection")

	require.NoError(t, c.SetMode(spiconn.Mode3))
	assert.Equal(t, 3, c.mode)
	assert.Empty(t, spi.Written(), "new connection after a mode change")
	require.NoError(t, c.Tx([]byte{0x02}, nil))
	assert.Equal(t, []byte{0x02}, spi.Written())
}
