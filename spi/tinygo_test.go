package spi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/drivers"
)

var _ drivers.SPI = (*loopback)(nil)

// loopback echoes every written byte back.
type loopback struct{}

func (loopback) Tx(w, r []byte) error {
	copy(r, w)
	return nil
}

func (loopback) Transfer(b byte) (byte, error) {
	return b, nil
}

func TestTinyGoConn(t *testing.T) {
	c := NewTinyGoConn(loopback{})
	r := make([]byte, 2)
	require.NoError(t, c.Tx([]byte{0x8D, 0x00}, r))
	assert.Equal(t, []byte{0x8D, 0x00}, r)
}
