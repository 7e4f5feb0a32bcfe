package spi

import (
	"fmt"
	"sync"

	gobotspi "gobot.io/x/gobot/v2/drivers/spi"
	spiconn "periph.io/x/conn/v3/spi"

	"github.com/mklimuk/bsp"
)

var _ bsp.SPIConn = &GobotConn{}
var _ ModeSetter = &GobotConn{}

// GobotAdaptor is a Gobot platform adaptor with SPI support, e.g. nanopi.Adaptor.
type GobotAdaptor interface {
	gobotspi.Connector
	Connect() error
	Finalize() error
}

// GobotConn runs transfers over a connection of a Gobot adaptor. The adaptor caches one
// connection per bus and chip, so a mode change reconnects the whole adaptor; the
// adaptor must not be shared with other drivers.
type GobotConn struct {
	mx      sync.Mutex
	adaptor GobotAdaptor
	cfg     gobotspi.Config
	conn    gobotspi.Connection
	mode    int
}

// NewGobotConn connects adaptor and opens the SPI connection. Options select bus, chip
// and speed as in other Gobot SPI drivers.
func NewGobotConn(adaptor GobotAdaptor, opts ...func(gobotspi.Config)) (*GobotConn, error) {
	cfg := gobotspi.NewConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	c := &GobotConn{
		adaptor: adaptor,
		cfg:     cfg,
		mode:    cfg.GetModeOrDefault(adaptor.SpiDefaultMode()),
	}
	if err := adaptor.Connect(); err != nil {
		return nil, fmt.Errorf("could not connect gobot adaptor: %w", err)
	}
	if err := c.open(); err != nil {
		_ = adaptor.Finalize()
		return nil, err
	}
	return c, nil
}

func (c *GobotConn) open() error {
	a := c.adaptor
	conn, err := a.GetSpiConnection(
		c.cfg.GetBusNumberOrDefault(a.SpiDefaultBusNumber()),
		c.cfg.GetChipNumberOrDefault(a.SpiDefaultChipNumber()),
		c.mode,
		c.cfg.GetBitCountOrDefault(a.SpiDefaultBitCount()),
		c.cfg.GetSpeedOrDefault(a.SpiDefaultMaxSpeed()),
	)
	if err != nil {
		return fmt.Errorf("could not open spi connection in mode %d: %w", c.mode, err)
	}
	c.conn = conn
	return nil
}

// Tx is a full-duplex transfer. The shorter of w and r is padded so that both sides
// clock the same number of bytes.
func (c *GobotConn) Tx(w, r []byte) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if len(r) == 0 {
		if len(w) == 0 {
			return nil
		}
		return c.conn.WriteBytes(w)
	}
	n := max(len(w), len(r))
	tx := make([]byte, n)
	copy(tx, w)
	rx := make([]byte, n)
	if err := c.conn.ReadCommandData(tx, rx); err != nil {
		return err
	}
	copy(r, rx)
	return nil
}

// SetMode reopens the connection with the new clock mode.
func (c *GobotConn) SetMode(mode spiconn.Mode) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	m := int(mode & spiconn.Mode3)
	if m == c.mode {
		return nil
	}
	if err := c.adaptor.Finalize(); err != nil {
		return fmt.Errorf("could not close spi connection: %w", err)
	}
	if err := c.adaptor.Connect(); err != nil {
		return fmt.Errorf("could not reconnect gobot adaptor: %w", err)
	}
	prev := c.mode
	c.mode = m
	if err := c.open(); err != nil {
		c.mode = prev
		return err
	}
	return nil
}

func (c *GobotConn) Close() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.adaptor.Finalize()
}
