package i2c

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mklimuk/bsp"
	"github.com/mklimuk/bsp/mux"
)

var _ mux.Recoverer = &Controller{}

type ControllerOpt func(*Controller)

// WithRetryLimit sets how many times a transfer is attempted while the transport reports
// a busy engine.
func WithRetryLimit(n int) ControllerOpt {
	return func(c *Controller) {
		if n > 0 {
			c.retryLimit = n
		}
	}
}

// Controller drives an I2C transport on behalf of the owners of a mux. Every transfer
// posts its completion to the mux: EventEndTransmit / EventEndReceive on success,
// EventNack when the transport reports bsp.ErrNoAck and EventError on any other transport
// failure. Callers check IsNack once TxBusy / RxBusy report false.
type Controller struct {
	bus        bsp.I2CBus
	mux        *mux.Mux
	retryLimit int
	txBusy     atomic.Bool
	rxBusy     atomic.Bool
}

// NewController binds bus to m and installs the controller as the mux recovery handler.
func NewController(bus bsp.I2CBus, m *mux.Mux, opts ...ControllerOpt) *Controller {
	c := &Controller{
		bus:        bus,
		mux:        m,
		retryLimit: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	m.SetRecoverer(c)
	return c
}

func (c *Controller) Mux() *mux.Mux {
	return c.mux
}

func (c *Controller) Acquire(ctx context.Context, owner mux.Owner, timeout time.Duration) error {
	return c.mux.Acquire(ctx, owner, timeout)
}

func (c *Controller) Release(owner mux.Owner) error {
	return c.mux.Release(owner)
}

func (c *Controller) IsNack() bool {
	return c.mux.IsNack()
}

func (c *Controller) PollInterval() time.Duration {
	return c.mux.PollInterval()
}

// Transmit writes data to address. A missing acknowledge is not returned as an error; it
// raises the NACK flag of the current owner.
func (c *Controller) Transmit(ctx context.Context, address byte, data []byte) error {
	c.mux.ClearNack()
	c.txBusy.Store(true)
	defer c.txBusy.Store(false)
	err := c.transfer(ctx, func() error {
		return c.bus.WriteToAddr(ctx, address, data)
	})
	return c.complete(err, mux.EventEndTransmit, "transmit", address)
}

// Receive reads len(buffer) bytes from address.
func (c *Controller) Receive(ctx context.Context, address byte, buffer []byte) error {
	c.mux.ClearNack()
	c.rxBusy.Store(true)
	defer c.rxBusy.Store(false)
	err := c.transfer(ctx, func() error {
		return c.bus.ReadFromAddr(ctx, address, buffer)
	})
	return c.complete(err, mux.EventEndReceive, "receive", address)
}

func (c *Controller) complete(err error, done mux.Event, op string, address byte) error {
	switch {
	case err == nil:
		c.mux.Notify(done)
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s to %x: %w", op, address, err)
	case errors.Is(err, bsp.ErrNoAck):
		slog.Debug("i2c transfer not acknowledged", "op", op, "address", address, "error", err)
		c.mux.Notify(mux.EventNack)
		return nil
	default:
		c.mux.Notify(mux.EventError)
		return fmt.Errorf("%s to %x: %w", op, address, err)
	}
}

func (c *Controller) transfer(ctx context.Context, op func() error) error {
	var err error
	for i := c.retryLimit; i > 0; i-- {
		err = op()
		if err == nil {
			return nil
		}
		if !errors.Is(err, bsp.ErrBusBusy) {
			return err
		}
		// try to release the bus
		_ = c.bus.Release(ctx)
	}
	return fmt.Errorf("retry limit reached: %w", err)
}

// TxBusy reports a transmit in progress or a completion event not yet dispatched.
func (c *Controller) TxBusy() bool {
	return c.txBusy.Load() || c.mux.Pending() > 0
}

// RxBusy reports a receive in progress or a completion event not yet dispatched.
func (c *Controller) RxBusy() bool {
	return c.rxBusy.Load() || c.mux.Pending() > 0
}

// Abort asks the transport to drop whatever transfer its engine holds.
func (c *Controller) Abort() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.bus.Release(ctx); err != nil {
		slog.Debug("i2c abort failed", "bus", c.mux.Name(), "error", err)
	}
}

func (c *Controller) Busy() bool {
	return c.txBusy.Load() || c.rxBusy.Load()
}
