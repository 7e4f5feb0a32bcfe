package spi

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"
	spiconn "periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/mklimuk/bsp"
)

var _ bsp.SPIConn = &PeriphPort{}
var _ ModeSetter = &PeriphPort{}

// PeriphPort is a host SPI port (spidev on Linux). periph allows a single Connect per
// open port, so a mode change reopens the port.
type PeriphPort struct {
	mx   sync.Mutex
	name string
	freq physic.Frequency
	mode spiconn.Mode
	port spiconn.PortCloser
	conn spiconn.Conn
}

// OpenPeriphPort initialises periph host drivers and connects the named port in mode 0.
func OpenPeriphPort(name string, freq physic.Frequency) (*PeriphPort, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	p := &PeriphPort{name: name, freq: freq}
	if err := p.connect(spiconn.Mode0); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PeriphPort) connect(mode spiconn.Mode) error {
	port, err := spireg.Open(p.name)
	if err != nil {
		return fmt.Errorf("could not open spi port %q: %w", p.name, err)
	}
	conn, err := port.Connect(p.freq, mode, 8)
	if err != nil {
		_ = port.Close()
		return fmt.Errorf("could not connect spi port %q in %s: %w", p.name, mode, err)
	}
	p.port = port
	p.conn = conn
	p.mode = mode
	return nil
}

// Tx performs a full-duplex transfer. Buffers of different lengths are padded to the
// longer one.
func (p *PeriphPort) Tx(w, r []byte) error {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.conn == nil {
		return fmt.Errorf("spi port %q is closed", p.name)
	}
	if r == nil || len(r) == len(w) {
		return p.conn.Tx(w, r)
	}
	n := max(len(w), len(r))
	wb := make([]byte, n)
	rb := make([]byte, n)
	copy(wb, w)
	if err := p.conn.Tx(wb, rb); err != nil {
		return err
	}
	copy(r, rb)
	return nil
}

func (p *PeriphPort) SetMode(mode spiconn.Mode) error {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.conn != nil && p.mode == mode {
		return nil
	}
	if p.port != nil {
		if err := p.port.Close(); err != nil {
			return fmt.Errorf("could not close spi port %q: %w", p.name, err)
		}
		p.port = nil
		p.conn = nil
	}
	return p.connect(mode)
}

func (p *PeriphPort) Close() error {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	p.conn = nil
	return err
}
