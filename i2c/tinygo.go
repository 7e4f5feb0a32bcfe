package i2c

import (
	"context"
	"fmt"

	"github.com/mklimuk/bsp"
	"tinygo.org/x/drivers"
)

var _ bsp.I2CBus = &TinyGoBus{}

// TinyGoBus adapts a tinygo drivers.I2C bus (machine.I2C on a microcontroller, or any
// driver-compatible bridge).
type TinyGoBus struct {
	bus drivers.I2C
}

func NewTinyGoBus(bus drivers.I2C) *TinyGoBus {
	return &TinyGoBus{bus: bus}
}

func (b *TinyGoBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.bus.Tx(uint16(address), nil, buffer); err != nil {
		return fmt.Errorf("could not read from %x: %w", address, classify(err))
	}
	return nil
}

func (b *TinyGoBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.bus.Tx(uint16(address), buffer, nil); err != nil {
		return fmt.Errorf("could not write to %x: %w", address, classify(err))
	}
	return nil
}

func (b *TinyGoBus) Release(ctx context.Context) error {
	return nil
}
