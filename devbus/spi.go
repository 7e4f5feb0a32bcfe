package devbus

import (
	"context"
	"fmt"
	"time"

	spiconn "periph.io/x/conn/v3/spi"

	"github.com/mklimuk/bsp"
	"github.com/mklimuk/bsp/mux"
)

var _ Device = &SPIDevice{}

// SPIMaster is the bus side of an SPI device, such as spi.Bus.
type SPIMaster interface {
	Acquire(ctx context.Context, owner mux.Owner, timeout time.Duration) error
	Release(owner mux.Owner) error
	Transfer(ctx context.Context, tx, rx []byte) error
	Transmit(ctx context.Context, tx []byte) error
	Busy() bool
	SetMode(owner mux.Owner, mode spiconn.Mode)
	PollInterval() time.Duration
}

const readFlag = 0x80

// SPIDevice is a sensor selected by the chip select line of owner. Registers are read
// with the top address bit set.
type SPIDevice struct {
	master SPIMaster
	owner  mux.Owner
	mode   spiconn.Mode
	cfg    config
}

// NewSPIDevice creates a device using clock mode 3 (CPOL=1).
func NewSPIDevice(master SPIMaster, owner mux.Owner, opts ...Option) *SPIDevice {
	return &SPIDevice{
		master: master,
		owner:  owner,
		mode:   spiconn.Mode3,
		cfg:    newConfig(opts),
	}
}

func (d *SPIDevice) Owner() mux.Owner {
	return d.owner
}

// Init sets the clock mode of the device and pulses its chip select, which switches
// dual-interface sensors from I2C to SPI.
func (d *SPIDevice) Init(ctx context.Context) error {
	d.master.SetMode(d.owner, d.mode)
	if err := d.master.Acquire(ctx, d.owner, d.cfg.timeout); err != nil {
		return fmt.Errorf("could not acquire bus for spi device %d: %w", d.owner, err)
	}
	err := bsp.Sleep(ctx, d.cfg.modeSwitchDelay)
	if rerr := d.master.Release(d.owner); rerr != nil && err == nil {
		err = rerr
	}
	if err != nil {
		return fmt.Errorf("spi mode switch of device %d failed: %w", d.owner, err)
	}
	return bsp.Sleep(ctx, d.cfg.modeSwitchDelay)
}

func (d *SPIDevice) ReadReg(ctx context.Context, reg byte) (byte, error) {
	var val byte
	err := d.locked(ctx, func() error {
		var err error
		val, err = d.read(ctx, reg)
		return err
	})
	return val, err
}

// ReadBlock reads registers reg..reg+len(buf)-1 one at a time.
func (d *SPIDevice) ReadBlock(ctx context.Context, reg byte, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, ErrEmptyRead
	}
	err := d.locked(ctx, func() error {
		for i := range buf {
			v, err := d.read(ctx, reg+byte(i))
			if err != nil {
				return err
			}
			buf[i] = v
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(buf), nil
}

func (d *SPIDevice) WriteReg(ctx context.Context, reg, val byte) error {
	return d.locked(ctx, func() error {
		if err := d.master.Transmit(ctx, []byte{reg, val}); err != nil {
			return fmt.Errorf("write register %#x failed: %w", reg, err)
		}
		return d.wait(ctx)
	})
}

func (d *SPIDevice) Delay(ctx context.Context, dur time.Duration) error {
	return bsp.Sleep(ctx, dur)
}

func (d *SPIDevice) read(ctx context.Context, reg byte) (byte, error) {
	n := 2
	if d.cfg.extender {
		n++
	}
	tx := make([]byte, n)
	rx := make([]byte, n)
	tx[0] = reg | readFlag
	if err := d.master.Transfer(ctx, tx, rx); err != nil {
		return 0, fmt.Errorf("read register %#x failed: %w", reg, err)
	}
	if err := d.wait(ctx); err != nil {
		return 0, err
	}
	return rx[n-1], nil
}

func (d *SPIDevice) wait(ctx context.Context) error {
	if err := mux.Wait(ctx, d.cfg.timeout, d.master.PollInterval(), d.master.Busy); err != nil {
		return fmt.Errorf("spi device %d: %w", d.owner, err)
	}
	return nil
}

func (d *SPIDevice) locked(ctx context.Context, op func() error) (err error) {
	if err := d.master.Acquire(ctx, d.owner, d.cfg.timeout); err != nil {
		return fmt.Errorf("could not acquire bus for spi device %d: %w", d.owner, err)
	}
	defer func() {
		if rerr := d.master.Release(d.owner); rerr != nil && err == nil {
			err = fmt.Errorf("could not release bus for spi device %d: %w", d.owner, rerr)
		}
	}()
	return op()
}
