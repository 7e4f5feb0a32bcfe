package i2c

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mklimuk/bsp"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

var _ bsp.I2CBus = &HostBus{}

// HostBus is an I2C bus exposed by the host operating system (i2c-dev on Linux).
type HostBus struct {
	bus i2c.BusCloser
}

// NewHostBus initialises periph host drivers and opens the named bus. An empty name
// opens the first bus found.
func NewHostBus(name string) (*HostBus, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("host driver loaded", "driver", driver.String())
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus %q: %w", name, err)
	}
	return &HostBus{bus: bus}, nil
}

// WrapHostBus uses an already opened periph bus.
func WrapHostBus(bus i2c.BusCloser) *HostBus {
	return &HostBus{bus: bus}
}

func (b *HostBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.bus.Tx(uint16(address), nil, buffer)
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, classify(err))
	}
	return nil
}

func (b *HostBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.bus.Tx(uint16(address), buffer, nil)
	if err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, classify(err))
	}
	return nil
}

func (b *HostBus) Release(ctx context.Context) error {
	return nil
}

func (b *HostBus) SetSpeed(f physic.Frequency) error {
	return b.bus.SetSpeed(f)
}

func (b *HostBus) String() string {
	return b.bus.String()
}

func (b *HostBus) Close() error {
	return b.bus.Close()
}

// messages of a missing acknowledge: i2c-dev errnos (EREMOTEIO, ENXIO) and the NACK
// errors of the tinygo machine packages
var noAckMessages = []string{"remote i/o error", "no such device or address", "nack", "nak"}

// classify marks a transport error caused by a missing acknowledge with bsp.ErrNoAck.
// The drivers format errnos with %v, so only the message is left to inspect.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	for _, m := range noAckMessages {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %w", bsp.ErrNoAck, err)
		}
	}
	return err
}
