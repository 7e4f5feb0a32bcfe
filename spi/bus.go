// Package spi shares one SPI port between several logical devices. Each device has its
// own chip select and clock mode; both are applied when the device takes the bus.
package spi

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"
	spiconn "periph.io/x/conn/v3/spi"

	"github.com/mklimuk/bsp"
	"github.com/mklimuk/bsp/mux"
)

// ChipSelect drives a device select line. Lines are active low.
type ChipSelect interface {
	Out(l gpio.Level) error
}

// ModeSetter is implemented by transports that can change clock polarity and phase
// between transfers.
type ModeSetter interface {
	SetMode(mode spiconn.Mode) error
}

type Bus struct {
	conn bsp.SPIConn
	mux  *mux.Mux
	busy atomic.Bool

	mu      sync.Mutex
	cs      map[mux.Owner]ChipSelect
	modes   map[mux.Owner]spiconn.Mode
	current spiconn.Mode
	active  mux.Owner
	depth   int
}

// NewBus shares conn between the owners of m. Nested acquires need a mux built with
// mux.WithReentrant.
func NewBus(conn bsp.SPIConn, m *mux.Mux) *Bus {
	return &Bus{
		conn:    conn,
		mux:     m,
		cs:      make(map[mux.Owner]ChipSelect),
		modes:   make(map[mux.Owner]spiconn.Mode),
		current: -1,
	}
}

func (b *Bus) Mux() *mux.Mux {
	return b.mux
}

// SetChipSelect assigns the select line of owner. Owners without a line rely on the
// transport's own chip select.
func (b *Bus) SetChipSelect(owner mux.Owner, pin ChipSelect) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cs[owner] = pin
}

// SetMode sets the clock mode used while owner holds the bus.
func (b *Bus) SetMode(owner mux.Owner, mode spiconn.Mode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.modes[owner] = mode
}

// Acquire takes the bus for owner, applies its clock mode and asserts its chip select.
// Nested acquires by the active owner do not touch the lines.
func (b *Bus) Acquire(ctx context.Context, owner mux.Owner, timeout time.Duration) error {
	if err := b.mux.Acquire(ctx, owner, timeout); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == owner && b.depth > 0 {
		b.depth++
		return nil
	}
	if err := b.applyMode(owner); err != nil {
		_ = b.mux.Release(owner)
		return err
	}
	if cs, ok := b.cs[owner]; ok {
		if err := cs.Out(gpio.Low); err != nil {
			_ = b.mux.Release(owner)
			return fmt.Errorf("could not select device %d: %w", owner, err)
		}
	}
	b.active = owner
	b.depth = 1
	return nil
}

func (b *Bus) applyMode(owner mux.Owner) error {
	mode, ok := b.modes[owner]
	if !ok || mode == b.current {
		return nil
	}
	ms, ok := b.conn.(ModeSetter)
	if !ok {
		return nil
	}
	if err := ms.SetMode(mode); err != nil {
		return fmt.Errorf("could not set %s for device %d: %w", mode, owner, err)
	}
	b.current = mode
	return nil
}

// Release deasserts the chip select of owner and frees the bus.
func (b *Bus) Release(owner mux.Owner) error {
	b.mu.Lock()
	if b.active == owner && b.depth > 1 {
		b.depth--
		b.mu.Unlock()
		return b.mux.Release(owner)
	}
	var csErr error
	if cs, ok := b.cs[owner]; ok {
		csErr = cs.Out(gpio.High)
	}
	b.active = mux.Unknown
	b.depth = 0
	b.mu.Unlock()
	if err := b.mux.Release(owner); err != nil {
		return err
	}
	if csErr != nil {
		return fmt.Errorf("could not deselect device %d: %w", owner, csErr)
	}
	return nil
}

// Transfer clocks tx out while reading into rx. A nil rx makes it a write.
func (b *Bus) Transfer(ctx context.Context, tx, rx []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.busy.Store(true)
	err := b.conn.Tx(tx, rx)
	b.busy.Store(false)
	if err != nil {
		b.mux.Notify(mux.EventError)
		return fmt.Errorf("spi transfer failed: %w", err)
	}
	if rx != nil {
		b.mux.Notify(mux.EventEndReceive)
	} else {
		b.mux.Notify(mux.EventEndTransmit)
	}
	return nil
}

func (b *Bus) Transmit(ctx context.Context, tx []byte) error {
	return b.Transfer(ctx, tx, nil)
}

// Busy reports a transfer in progress or a completion event not yet dispatched.
func (b *Bus) Busy() bool {
	return b.busy.Load() || b.mux.Pending() > 0
}

func (b *Bus) PollInterval() time.Duration {
	return b.mux.PollInterval()
}
