package gpio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mklimuk/bsp/devbus"
	"github.com/mklimuk/bsp/mux"
)

const DefaultMCP23017Address = 0x21

type register byte

const (
	IODIR register = iota
	IPOL
	GPINTEN
	DEFVAL
	INTCON
	IOCON
	GPPU
	INTF
	INTCAP
	GPIO
	OLAT
)

// Port selects one of the two 8-bit I/O ports.
type Port uint8

const (
	PortA Port = iota
	PortB
)

func (p Port) String() string {
	if p == PortB {
		return "B"
	}
	return "A"
}

// Bank is the register addressing scheme selected by IOCON.BANK.
type Bank uint8

const (
	// Bank0 interleaves port A and B registers (power-up default).
	Bank0 Bank = iota
	// Bank1 groups the registers of each port.
	Bank1
)

var ErrPin = errors.New("gpio: invalid pin")

type Option func(*MCP23017)

// WithBank tells the driver which addressing the chip is configured for.
func WithBank(b Bank) Option {
	return func(m *MCP23017) {
		m.bank = b
	}
}

// WithRetryLimit sets how many times an operation is attempted while the bus is held
// by another owner. Default 1.
func WithRetryLimit(n int) Option {
	return func(m *MCP23017) {
		if n > 0 {
			m.retryLimit = n
		}
	}
}

/*
	Steps to read GPIO:

1. Set 0xFF to IODIR (all inputs)
2. Configure pull-ups in GPPU
3. Read the GPIO register
*/
type MCP23017 struct {
	mx         sync.Mutex
	dev        devbus.Device
	bank       Bank
	retryLimit int
}

func NewMCP23017(dev devbus.Device, opts ...Option) *MCP23017 {
	m := &MCP23017{dev: dev, retryLimit: 1}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MCP23017) addr(r register, p Port) byte {
	if m.bank == Bank1 {
		return byte(p)<<4 | byte(r)
	}
	return byte(r)<<1 | byte(p)
}

// retry runs op again when the bus stayed held by another owner.
func (m *MCP23017) retry(what string, p Port, op func() error) error {
	var err error
	for i := m.retryLimit; i > 0; i-- {
		err = op()
		if err == nil {
			return nil
		}
		if !errors.Is(err, mux.ErrTimeout) && !errors.Is(err, mux.ErrBusy) {
			return fmt.Errorf("could not %s on gpio %s set: %w", what, p, err)
		}
	}
	return fmt.Errorf("could not %s on gpio %s set (retry limit reached): %w", what, p, err)
}

func (m *MCP23017) write(ctx context.Context, what string, r register, p Port, val byte) error {
	return m.retry(what, p, func() error {
		return m.dev.WriteReg(ctx, m.addr(r, p), val)
	})
}

func (m *MCP23017) read(ctx context.Context, what string, r register, p Port) (byte, error) {
	var res byte
	err := m.retry(what, p, func() error {
		var err error
		res, err = m.dev.ReadReg(ctx, m.addr(r, p))
		return err
	})
	return res, err
}

// Init prepares the bus device. The chip itself needs no setup after power-up.
func (m *MCP23017) Init(ctx context.Context) error {
	if err := m.dev.Init(ctx); err != nil {
		return fmt.Errorf("could not init gpio expander: %w", err)
	}
	return nil
}

// SetDirection writes IODIR of port p; a set bit makes the pin an input.
func (m *MCP23017) SetDirection(ctx context.Context, p Port, inout byte) error {
	return m.write(ctx, "set direction", IODIR, p, inout)
}

// SetPullUp enables the 100k pull-up of every input with its bit set.
func (m *MCP23017) SetPullUp(ctx context.Context, p Port, settings byte) error {
	return m.write(ctx, "set pull-up", GPPU, p, settings)
}

// ReadPort reads the input levels of port p.
func (m *MCP23017) ReadPort(ctx context.Context, p Port) (byte, error) {
	return m.read(ctx, "read", GPIO, p)
}

// WritePort sets the output latch of port p.
func (m *MCP23017) WritePort(ctx context.Context, p Port, val byte) error {
	return m.write(ctx, "write", OLAT, p, val)
}

// Read returns the levels of port A and B.
func (m *MCP23017) Read(ctx context.Context) ([]byte, error) {
	res := make([]byte, 2)
	var err error
	res[0], err = m.ReadPort(ctx, PortA)
	if err != nil {
		return nil, err
	}
	res[1], err = m.ReadPort(ctx, PortB)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ReadSettings reads IOCON. Both ports share the register.
func (m *MCP23017) ReadSettings(ctx context.Context, p Port) (byte, error) {
	return m.read(ctx, "read settings", IOCON, p)
}

func (m *MCP23017) WriteSettings(ctx context.Context, p Port, settings byte) error {
	return m.write(ctx, "write settings", IOCON, p, settings)
}

// update sets or clears bit in register r of port p.
func (m *MCP23017) update(ctx context.Context, r register, p Port, bit byte, set bool) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	v, err := m.read(ctx, "read register", r, p)
	if err != nil {
		return err
	}
	if set {
		v |= 1 << bit
	} else {
		v &^= 1 << bit
	}
	return m.write(ctx, "write register", r, p, v)
}

// Pin returns pin n (0-7) of port p.
func (m *MCP23017) Pin(p Port, n uint8) (*Pin, error) {
	if p > PortB || n > 7 {
		return nil, fmt.Errorf("%w: GP%s%d", ErrPin, p, n)
	}
	return &Pin{exp: m, port: p, bit: n}, nil
}
