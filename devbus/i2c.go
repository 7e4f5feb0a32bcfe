package devbus

import (
	"context"
	"fmt"
	"time"

	"github.com/mklimuk/bsp"
	"github.com/mklimuk/bsp/mux"
)

var _ Device = &I2CDevice{}

// I2CMaster is the bus side of an I2C device: a muxed controller such as i2c.Controller.
type I2CMaster interface {
	Acquire(ctx context.Context, owner mux.Owner, timeout time.Duration) error
	Release(owner mux.Owner) error
	Transmit(ctx context.Context, address byte, data []byte) error
	Receive(ctx context.Context, address byte, buffer []byte) error
	TxBusy() bool
	RxBusy() bool
	IsNack() bool
	PollInterval() time.Duration
}

// I2CDevice is a sensor at a 7-bit address, owning the bus as owner. A transfer is
// finished once its completion event has been dispatched, so the mux of the master must
// be running (mux.Run); otherwise every access ends in mux.ErrTimeout.
type I2CDevice struct {
	master  I2CMaster
	address byte
	owner   mux.Owner
	cfg     config
}

func NewI2CDevice(master I2CMaster, address byte, owner mux.Owner, opts ...Option) *I2CDevice {
	return &I2CDevice{
		master:  master,
		address: address,
		owner:   owner,
		cfg:     newConfig(opts),
	}
}

func (d *I2CDevice) Address() byte {
	return d.address
}

func (d *I2CDevice) Owner() mux.Owner {
	return d.owner
}

// Init has nothing to do on I2C; the device answers on its address after power-up.
func (d *I2CDevice) Init(context.Context) error {
	return nil
}

func (d *I2CDevice) ReadReg(ctx context.Context, reg byte) (byte, error) {
	var buf [1]byte
	err := d.locked(ctx, func() error {
		if err := d.transmit(ctx, []byte{reg}); err != nil {
			return err
		}
		return d.receive(ctx, buf[:])
	})
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (d *I2CDevice) ReadBlock(ctx context.Context, reg byte, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, ErrEmptyRead
	}
	err := d.locked(ctx, func() error {
		if err := d.transmit(ctx, []byte{reg}); err != nil {
			return err
		}
		return d.receive(ctx, buf)
	})
	if err != nil {
		return 0, err
	}
	return len(buf), nil
}

func (d *I2CDevice) WriteReg(ctx context.Context, reg, val byte) error {
	return d.locked(ctx, func() error {
		return d.transmit(ctx, []byte{reg, val})
	})
}

func (d *I2CDevice) Delay(ctx context.Context, dur time.Duration) error {
	return bsp.Sleep(ctx, dur)
}

// Raw transfers are used by sensors without a register pointer (TLV493D).

// Read receives len(buf) bytes starting at the device's internal read pointer.
func (d *I2CDevice) Read(ctx context.Context, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, ErrEmptyRead
	}
	if err := d.locked(ctx, func() error { return d.receive(ctx, buf) }); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// Write transmits data as is.
func (d *I2CDevice) Write(ctx context.Context, data []byte) error {
	return d.locked(ctx, func() error { return d.transmit(ctx, data) })
}

func (d *I2CDevice) locked(ctx context.Context, op func() error) (err error) {
	if err := d.master.Acquire(ctx, d.owner, d.cfg.timeout); err != nil {
		return fmt.Errorf("could not acquire bus for device %#x: %w", d.address, err)
	}
	defer func() {
		if rerr := d.master.Release(d.owner); rerr != nil && err == nil {
			err = fmt.Errorf("could not release bus for device %#x: %w", d.address, rerr)
		}
	}()
	return op()
}

func (d *I2CDevice) transmit(ctx context.Context, data []byte) error {
	if err := d.master.Transmit(ctx, d.address, data); err != nil {
		return fmt.Errorf("transmit to %#x failed: %w", d.address, err)
	}
	if err := mux.Wait(ctx, d.cfg.timeout, d.master.PollInterval(), d.master.TxBusy); err != nil {
		return fmt.Errorf("transmit to %#x: %w", d.address, err)
	}
	if d.master.IsNack() {
		return fmt.Errorf("transmit to %#x: %w", d.address, ErrNack)
	}
	return nil
}

func (d *I2CDevice) receive(ctx context.Context, buf []byte) error {
	if err := d.master.Receive(ctx, d.address, buf); err != nil {
		return fmt.Errorf("receive from %#x failed: %w", d.address, err)
	}
	if err := mux.Wait(ctx, d.cfg.timeout, d.master.PollInterval(), d.master.RxBusy); err != nil {
		return fmt.Errorf("receive from %#x: %w", d.address, err)
	}
	if d.master.IsNack() {
		return fmt.Errorf("receive from %#x: %w", d.address, ErrNack)
	}
	return nil
}
