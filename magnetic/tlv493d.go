// Package magnetic drives the Infineon TLV493D 3D magnetic sensor. The sensor has no
// register pointer: reads always start at register 0 and writes always cover the four
// configuration registers, kept here as a write image with a parity bit.
package magnetic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mklimuk/bsp/devbus"
	"github.com/mklimuk/bsp/mux"
)

var ErrFrame = errors.New("magnetic: results span two measurement frames")

// I2C addresses (7-bit), selected by SDA level at power-up.
const (
	AddressDefault   = 0x5E
	AddressSecondary = 0x1F
)

const (
	// AcquireTimeout bounds bus acquisition and transfer completion.
	AcquireTimeout = 50 * time.Millisecond
	DefaultMode    = Fast

	startupDelay = 40 * time.Millisecond

	readSize        = 10
	writeSize       = 4
	measurementRead = 7
	fastRead        = 3

	bMult      = 0.098
	tempMult   = 1.1
	tempOffset = 315
)

// Transport moves whole register images. devbus.I2CDevice implements it.
type Transport interface {
	Read(ctx context.Context, buf []byte) (int, error)
	Write(ctx context.Context, data []byte) error
	Delay(ctx context.Context, d time.Duration) error
}

type TLV493D struct {
	bus           Transport
	read          [readSize]byte
	write         [writeSize]byte
	mode          AccessMode
	x, y, z, temp int16
	expectedFrame byte
}

func New(bus Transport) *TLV493D {
	return &TLV493D{bus: bus, mode: PowerDown}
}

// NewI2C creates a sensor at address on an I2C controller.
func NewI2C(master devbus.I2CMaster, address byte, owner mux.Owner) *TLV493D {
	return New(devbus.NewI2CDevice(master, address, owner, devbus.WithTimeout(AcquireTimeout)))
}

// Init waits for the sensor to start, copies its factory settings into the write image,
// enables the parity check and switches to DefaultMode.
func (s *TLV493D) Init(ctx context.Context) error {
	s.read = [readSize]byte{}
	s.write = [writeSize]byte{}
	if err := s.bus.Delay(ctx, startupDelay); err != nil {
		return err
	}
	if err := s.readOut(ctx, readSize); err != nil {
		return err
	}
	s.setRegBits(wRes1, s.getRegBits(rRes1))
	s.setRegBits(wRes2, s.getRegBits(rRes2))
	s.setRegBits(wRes3, s.getRegBits(rRes3))
	s.setRegBits(wParityEn, 1)
	return s.SetAccessMode(ctx, DefaultMode)
}

// SetAccessMode writes the mode bits. The current mode changes only when the write
// succeeds.
func (s *TLV493D) SetAccessMode(ctx context.Context, mode AccessMode) error {
	if int(mode) >= len(accessModes) {
		return fmt.Errorf("magnetic: unknown access mode %d", mode)
	}
	cfg := accessModes[mode]
	s.setRegBits(wFast, cfg.fast)
	s.setRegBits(wLowPower, cfg.lowPower)
	s.setRegBits(wLPPeriod, cfg.lowPowerPeriod)
	if err := s.writeOut(ctx); err != nil {
		return fmt.Errorf("magnetic: could not set %s mode: %w", mode, err)
	}
	s.mode = mode
	return nil
}

func (s *TLV493D) Mode() AccessMode {
	return s.mode
}

// MeasurementDelay is the time the current mode needs for one measurement.
func (s *TLV493D) MeasurementDelay() time.Duration {
	return accessModes[s.mode].measurementTime
}

func (s *TLV493D) EnableInterrupt(ctx context.Context) error {
	s.setRegBits(wInt, 1)
	return s.writeOut(ctx)
}

func (s *TLV493D) DisableInterrupt(ctx context.Context) error {
	s.setRegBits(wInt, 0)
	return s.writeOut(ctx)
}

func (s *TLV493D) EnableTemperature(ctx context.Context) error {
	s.setRegBits(wTempNEn, 0)
	return s.writeOut(ctx)
}

func (s *TLV493D) DisableTemperature(ctx context.Context) error {
	s.setRegBits(wTempNEn, 1)
	return s.writeOut(ctx)
}

// End disables the interrupt and powers the sensor down.
func (s *TLV493D) End(ctx context.Context) error {
	if err := s.DisableInterrupt(ctx); err != nil {
		return err
	}
	return s.SetAccessMode(ctx, PowerDown)
}

// Update reads new results. A sensor in power-down is woken for a single measurement.
// ErrFrame is returned when the results belong to different frames; the values are
// updated anyway.
func (s *TLV493D) Update(ctx context.Context) error {
	wake := s.mode == PowerDown
	if wake {
		if err := s.SetAccessMode(ctx, MasterControlled); err != nil {
			return err
		}
		if err := s.bus.Delay(ctx, s.MeasurementDelay()); err != nil {
			return err
		}
	}
	n := measurementRead
	if s.mode == Fast {
		// only the most significant bits of x, y and z
		n = fastRead
	}
	err := s.readOut(ctx, n)
	if err == nil {
		s.x = concat(s.getRegBits(rBX1), s.getRegBits(rBX2), true)
		s.y = concat(s.getRegBits(rBY1), s.getRegBits(rBY2), true)
		s.z = concat(s.getRegBits(rBZ1), s.getRegBits(rBZ2), true)
		s.temp = concat(s.getRegBits(rTemp1), s.getRegBits(rTemp2), false)
		if wake {
			err = s.SetAccessMode(ctx, PowerDown)
		}
		if err == nil && s.getRegBits(rChannel) != 0 {
			err = ErrFrame
		}
	}
	s.expectedFrame = s.getRegBits(rFrameCounter) + 1
	return err
}

// ExpectedFrame is the frame counter value the next measurement should carry.
func (s *TLV493D) ExpectedFrame() byte {
	return s.expectedFrame
}

// X returns the field along x in mT.
func (s *TLV493D) X() float32 {
	return float32(float64(s.x) * bMult)
}

func (s *TLV493D) Y() float32 {
	return float32(float64(s.y) * bMult)
}

func (s *TLV493D) Z() float32 {
	return float32(float64(s.z) * bMult)
}

// Temperature returns the die temperature in °C.
func (s *TLV493D) Temperature() float32 {
	return float32(float64(int(s.temp)-tempOffset) * tempMult)
}

// Amount is the magnitude of the field vector in mT.
func (s *TLV493D) Amount() float32 {
	x, y, z := float64(s.x), float64(s.y), float64(s.z)
	return float32(bMult * math.Sqrt(x*x+y*y+z*z))
}

// Azimuth is the angle of the field in the x-y plane, in radians.
func (s *TLV493D) Azimuth() float32 {
	return float32(math.Atan2(float64(s.y), float64(s.x)))
}

// Polar is the angle between the field and the x-y plane, in radians.
func (s *TLV493D) Polar() float32 {
	x, y := float64(s.x), float64(s.y)
	return float32(math.Atan2(float64(s.z), math.Sqrt(x*x+y*y)))
}

func (s *TLV493D) readOut(ctx context.Context, n int) error {
	if n > readSize {
		n = readSize
	}
	if _, err := s.bus.Read(ctx, s.read[:n]); err != nil {
		return fmt.Errorf("magnetic: read failed: %w", err)
	}
	return nil
}

func (s *TLV493D) writeOut(ctx context.Context) error {
	s.calcParity()
	data := s.write
	if err := s.bus.Write(ctx, data[:]); err != nil {
		return fmt.Errorf("magnetic: write failed: %w", err)
	}
	return nil
}

func (s *TLV493D) setRegBits(f field, v byte) {
	if f >= numFields {
		return
	}
	m := regMasks[f]
	buf := s.read[:]
	if m.write {
		buf = s.write[:]
	}
	buf[m.index] = buf[m.index]&^m.mask | (v<<m.shift)&m.mask
}

func (s *TLV493D) getRegBits(f field) byte {
	if f >= numFields {
		return 0
	}
	m := regMasks[f]
	buf := s.read[:]
	if m.write {
		buf = s.write[:]
	}
	return (buf[m.index] & m.mask) >> m.shift
}

// calcParity sets the parity bit so the write image has odd parity.
func (s *TLV493D) calcParity() {
	s.setRegBits(wParity, 1)
	var y byte
	for _, b := range s.write {
		y ^= b
	}
	y ^= y >> 1
	y ^= y >> 2
	y ^= y >> 4
	s.setRegBits(wParity, y&0x01)
}

// concat builds a signed 12-bit value. With upperFull the upper byte carries bits 11:4,
// otherwise only its low nibble is used as bits 11:8.
func concat(upper, lower byte, upperFull bool) int16 {
	var v uint16
	if upperFull {
		v = uint16(upper)<<8 | uint16(lower&0x0F)<<4
	} else {
		v = uint16(upper&0x0F)<<12 | uint16(lower)<<4
	}
	return int16(v) >> 4
}
