package pressure

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mklimuk/bsp/devbus"
	"github.com/mklimuk/bsp/mux"
)

// I2C addresses (7-bit), selected by the SDO pin.
const (
	AddressPrimary   = 0x77
	AddressSecondary = 0x76
)

const (
	// AcquireTimeout bounds bus acquisition and transfer completion for every register access.
	AcquireTimeout  = 100 * time.Millisecond
	ConnectAttempts = 3
)

// readings with an integer part in this range are produced by a sensor that lost its
// configuration and must be discarded
const (
	invalidTempLow  = 110
	invalidTempHigh = 114
)

// Sensor is the connect-then-poll interface of a pressure sensor.
type Sensor interface {
	Connect(ctx context.Context) error
	GetData(ctx context.Context) (Measurement, error)
}

var (
	_ Sensor = &DPS368{}
	_ Sensor = &MockPressureSensor{}
)

// NewI2C creates a sensor on an I2C controller.
func NewI2C(master devbus.I2CMaster, address byte, owner mux.Owner) *DPS368 {
	return New(devbus.NewI2CDevice(master, address, owner, devbus.WithTimeout(AcquireTimeout)))
}

// NewSPI creates a sensor on a shared SPI bus. Pass devbus.WithExtender() for sensors
// behind the LTC4332 extender.
func NewSPI(master devbus.SPIMaster, owner mux.Owner, opts ...devbus.Option) *DPS368 {
	opts = append([]devbus.Option{devbus.WithTimeout(AcquireTimeout)}, opts...)
	return New(devbus.NewSPIDevice(master, owner, opts...))
}

// Connect initialises the sensor, retrying up to ConnectAttempts times, then switches to
// the operating configuration (temperature x8 at 32Hz, pressure x128 at 128Hz).
func (d *DPS368) Connect(ctx context.Context) error {
	var err error
	for i := 1; i <= ConnectAttempts; i++ {
		if err = d.Init(ctx); err == nil {
			break
		}
		if ctx.Err() != nil {
			return err
		}
		slog.Debug("dps368 init failed", "attempt", i, "error", err)
	}
	if err != nil {
		return fmt.Errorf("dps368: connect failed after %d attempts: %w", ConnectAttempts, err)
	}
	if err := d.Standby(ctx); err != nil {
		return err
	}
	if err := d.Configure(ctx, OSR8, Rate32, OSR128, Rate128); err != nil {
		return err
	}
	return d.Resume(ctx)
}

// GetData returns the latest compensated measurement. Readings with a temperature
// between 110 and 114 °C are rejected with ErrInvalidReading.
func (d *DPS368) GetData(ctx context.Context) (Measurement, error) {
	m, err := d.Measure(ctx)
	if err != nil {
		return Measurement{}, err
	}
	if t := math.Trunc(float64(m.Temperature)); t >= invalidTempLow && t <= invalidTempHigh {
		return m, fmt.Errorf("%w: temperature %.2f", ErrInvalidReading, m.Temperature)
	}
	return m, nil
}

func (d *DPS368) GetTemperature(ctx context.Context) (float32, error) {
	m, err := d.GetData(ctx)
	if err != nil {
		return 0, err
	}
	return m.Temperature, nil
}

func (d *DPS368) GetPressure(ctx context.Context) (float32, error) {
	m, err := d.GetData(ctx)
	if err != nil {
		return 0, err
	}
	return m.Pressure, nil
}
