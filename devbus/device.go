// Package devbus lets sensor drivers talk to registers without knowing whether the
// sensor sits on I2C or SPI. Every operation takes the shared bus for the sensor's
// owner, runs the transfer, waits for the peripheral to finish and releases the bus
// exactly once.
package devbus

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNack      = errors.New("devbus: not acknowledged")
	ErrEmptyRead = errors.New("devbus: empty read buffer")
)

// Device is the register interface sensor drivers are written against.
type Device interface {
	Init(ctx context.Context) error
	ReadReg(ctx context.Context, reg byte) (byte, error)
	// ReadBlock fills buf starting at reg and returns the number of bytes read.
	ReadBlock(ctx context.Context, reg byte, buf []byte) (int, error)
	WriteReg(ctx context.Context, reg, val byte) error
	Delay(ctx context.Context, d time.Duration) error
}

const (
	DefaultTimeout         = 100 * time.Millisecond
	DefaultModeSwitchDelay = 60 * time.Millisecond
)

type config struct {
	timeout         time.Duration
	extender        bool
	modeSwitchDelay time.Duration
}

type Option func(*config)

// WithTimeout bounds both the bus acquire and the wait for transfer completion.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithExtender marks an SPI device reached through an LTC4332 extender, which delays
// the answer by one byte.
func WithExtender() Option {
	return func(c *config) {
		c.extender = true
	}
}

// WithModeSwitchDelay sets the pauses around the chip select pulse that moves a
// dual-interface sensor into SPI mode.
func WithModeSwitchDelay(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.modeSwitchDelay = d
		}
	}
}

func newConfig(opts []Option) config {
	c := config{
		timeout:         DefaultTimeout,
		modeSwitchDelay: DefaultModeSwitchDelay,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
