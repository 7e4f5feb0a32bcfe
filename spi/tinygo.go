package spi

import (
	"sync"

	"tinygo.org/x/drivers"

	"github.com/mklimuk/bsp"
)

var _ bsp.SPIConn = &TinyGoConn{}

// TinyGoConn uses a tinygo drivers.SPI (machine.SPI on a microcontroller) as the bus
// transport. Clock mode is fixed by the port configuration.
type TinyGoConn struct {
	mx   sync.Mutex
	port drivers.SPI
}

func NewTinyGoConn(port drivers.SPI) *TinyGoConn {
	return &TinyGoConn{port: port}
}

func (c *TinyGoConn) Tx(w, r []byte) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.port.Tx(w, r)
}
