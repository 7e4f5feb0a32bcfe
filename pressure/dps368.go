// Package pressure drives the Infineon DPS368 barometric pressure and temperature sensor
// over any devbus.Device (I2C or SPI).
//
// Typical usage; register completions are delivered by the mux dispatcher, so Run must
// be going before the first register access:
//
//	m := mux.New(owners)
//	_ = m.Register(owner, mux.Callbacks{})
//	go m.Run(ctx)
//	ctrl := i2c.NewController(bus, m)
//	s := pressure.NewI2C(ctrl, pressure.AddressPrimary, owner)
//	if err := s.Connect(ctx); err != nil { ... }
//	m, err := s.GetData(ctx)
package pressure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mklimuk/bsp/devbus"
)

var (
	ErrProductID      = errors.New("pressure: unexpected product id")
	ErrNotInitialised = errors.New("pressure: sensor not initialised")
	ErrInvalidReading = errors.New("pressure: invalid reading")
)

// Registers
const (
	regPSR      = 0x00
	regPRSCfg   = 0x06
	regTMPCfg   = 0x07
	regMeasCfg  = 0x08
	regCfg      = 0x09
	regReset    = 0x0C
	regProdID   = 0x0D
	regCoef     = 0x10
	regCoefSrce = 0x28
)

const (
	productID = 0x10

	psrLen  = 6
	coefLen = 18

	measPrsRdy = 1 << 4
	measTmpRdy = 1 << 5

	cfgTmpShift = 0x08
	cfgPrsShift = 0x04

	softResetCmd = 0x09
	fifoFlushCmd = 0x80

	coefSrceBit = 7

	coefDelay = 40 * time.Millisecond
)

// Mode is the measurement mode written to MEAS_CFG.
type Mode uint8

const (
	ModeIdle                  Mode = 0b000
	ModeCommandPressure       Mode = 0b001
	ModeCommandTemperature    Mode = 0b010
	ModeBackgroundPressure    Mode = 0b101
	ModeBackgroundTemperature Mode = 0b110
	ModeBackgroundAll         Mode = 0b111
)

// OSR is the oversampling rate code.
type OSR uint8

const (
	OSR1 OSR = iota
	OSR2
	OSR4
	OSR8
	OSR16
	OSR32
	OSR64
	OSR128
)

var scaleFactors = [...]float64{524288, 1572864, 3670016, 7864320, 253952, 516096, 1040384, 2088960}

func (o OSR) scale() float64 {
	if int(o) >= len(scaleFactors) {
		return scaleFactors[0]
	}
	return scaleFactors[o]
}

func (o OSR) String() string {
	return fmt.Sprintf("x%d", 1<<o)
}

// Rate is the measurement rate code, placed in bits 6:4 of PRS_CFG / TMP_CFG.
type Rate uint8

const (
	Rate1   Rate = 0 << 4
	Rate2   Rate = 1 << 4
	Rate4   Rate = 2 << 4
	Rate8   Rate = 3 << 4
	Rate16  Rate = 4 << 4
	Rate32  Rate = 5 << 4
	Rate64  Rate = 6 << 4
	Rate128 Rate = 7 << 4
)

func (r Rate) String() string {
	return fmt.Sprintf("%dHz", 1<<(r>>4))
}

// TempSource selects the temperature sensing element. It must match the element used
// for the factory calibration (COEF_SRCE).
type TempSource uint8

const (
	TempASIC TempSource = 0x00
	TempMEMS TempSource = 0x80
)

// Coefficients are the factory calibration values read once at init.
type Coefficients struct {
	C0, C1                  int32
	C00, C10                int32
	C01, C11, C20, C21, C30 int32
}

// Measurement holds compensated values: temperature in °C, pressure in hPa.
type Measurement struct {
	Temperature float32
	Pressure    float32
}

type DPS368 struct {
	dev     devbus.Device
	coef    Coefficients
	src     TempSource
	cfgWord byte
	tScale  float64
	pScale  float64
	tOSR    OSR
	pOSR    OSR
	tRate   Rate
	pRate   Rate
	mode    Mode
	inited  bool
}

func New(dev devbus.Device) *DPS368 {
	return &DPS368{dev: dev}
}

// Init checks the sensor ID, reads calibration, applies the temperature gain trim, sets the
// default configuration and starts background measurement. It stops at the first error.
func (d *DPS368) Init(ctx context.Context) error {
	d.inited = false
	d.cfgWord = 0
	if err := d.dev.Init(ctx); err != nil {
		return fmt.Errorf("dps368: bus init failed: %w", err)
	}
	id, err := d.dev.ReadReg(ctx, regProdID)
	if err != nil {
		return fmt.Errorf("dps368: could not read product id: %w", err)
	}
	if id != productID {
		return fmt.Errorf("%w: %#x", ErrProductID, id)
	}
	// coefficients become available about 40ms after power-up
	if err := d.dev.Delay(ctx, coefDelay); err != nil {
		return err
	}
	if err := d.dev.Delay(ctx, coefDelay); err != nil {
		return err
	}
	if err := d.readCoefficients(ctx); err != nil {
		return err
	}
	if err := d.applyGainTrim(ctx); err != nil {
		return err
	}
	if err := d.Configure(ctx, OSR2, Rate4, OSR64, Rate8); err != nil {
		return err
	}
	if err := d.Resume(ctx); err != nil {
		return err
	}
	d.inited = true
	return nil
}

func (d *DPS368) readCoefficients(ctx context.Context) error {
	buf := make([]byte, coefLen)
	n, err := d.dev.ReadBlock(ctx, regCoef, buf)
	if err != nil {
		return fmt.Errorf("dps368: could not read coefficients: %w", err)
	}
	if n != coefLen {
		return fmt.Errorf("dps368: short coefficient read (%d bytes)", n)
	}
	d.coef = decodeCoefficients(buf)
	srce, err := d.dev.ReadReg(ctx, regCoefSrce)
	if err != nil {
		return fmt.Errorf("dps368: could not read coefficient source: %w", err)
	}
	if (srce>>coefSrceBit)&1 == 1 {
		d.src = TempMEMS
	} else {
		d.src = TempASIC
	}
	return nil
}

// unlock 0x62 with the 0x0E/0x0F signature, set the temperature high gain, lock again
var gainTrim = [...][2]byte{
	{0x0E, 0xA5},
	{0x0F, 0x96},
	{0x62, 0x02},
	{0x0E, 0x00},
	{0x0F, 0x00},
}

func (d *DPS368) applyGainTrim(ctx context.Context) error {
	for _, w := range gainTrim {
		if err := d.dev.WriteReg(ctx, w[0], w[1]); err != nil {
			return fmt.Errorf("dps368: gain trim write %#x failed: %w", w[0], err)
		}
	}
	return nil
}

// Configure sets oversampling and measurement rate for temperature and pressure. Result
// bit shifts are enabled for oversampling above 8.
func (d *DPS368) Configure(ctx context.Context, tOSR OSR, tRate Rate, pOSR OSR, pRate Rate) error {
	if err := d.dev.WriteReg(ctx, regTMPCfg, byte(d.src)|byte(tRate)|byte(tOSR)); err != nil {
		return fmt.Errorf("dps368: could not write TMP_CFG: %w", err)
	}
	if err := d.dev.WriteReg(ctx, regPRSCfg, byte(pRate)|byte(pOSR)); err != nil {
		return fmt.Errorf("dps368: could not write PRS_CFG: %w", err)
	}
	cfg := d.cfgWord
	if tOSR > OSR8 {
		cfg |= cfgTmpShift
	}
	if pOSR > OSR8 {
		cfg |= cfgPrsShift
	}
	if err := d.dev.WriteReg(ctx, regCfg, cfg); err != nil {
		return fmt.Errorf("dps368: could not write CFG_REG: %w", err)
	}
	d.tScale = tOSR.scale()
	d.pScale = pOSR.scale()
	d.tOSR, d.tRate = tOSR, tRate
	d.pOSR, d.pRate = pOSR, pRate
	return nil
}

func (d *DPS368) setMode(ctx context.Context, m Mode) error {
	if err := d.dev.WriteReg(ctx, regMeasCfg, byte(m)); err != nil {
		return fmt.Errorf("dps368: could not set mode %d: %w", m, err)
	}
	d.mode = m
	return nil
}

// Standby stops measurements.
func (d *DPS368) Standby(ctx context.Context) error {
	return d.setMode(ctx, ModeIdle)
}

// Resume starts continuous pressure and temperature measurement.
func (d *DPS368) Resume(ctx context.Context) error {
	return d.setMode(ctx, ModeBackgroundAll)
}

func (d *DPS368) SoftReset(ctx context.Context) error {
	if err := d.dev.WriteReg(ctx, regReset, softResetCmd); err != nil {
		return fmt.Errorf("dps368: soft reset failed: %w", err)
	}
	d.inited = false
	d.mode = ModeIdle
	return nil
}

func (d *DPS368) FlushFIFO(ctx context.Context) error {
	if err := d.dev.WriteReg(ctx, regReset, fifoFlushCmd); err != nil {
		return fmt.Errorf("dps368: fifo flush failed: %w", err)
	}
	return nil
}

// Ready reports whether both a pressure and a temperature result are available.
func (d *DPS368) Ready(ctx context.Context) (bool, error) {
	v, err := d.dev.ReadReg(ctx, regMeasCfg)
	if err != nil {
		return false, fmt.Errorf("dps368: could not read MEAS_CFG: %w", err)
	}
	return v&measPrsRdy != 0 && v&measTmpRdy != 0, nil
}

// Measure reads the latest raw results and returns compensated values.
func (d *DPS368) Measure(ctx context.Context) (Measurement, error) {
	if d.tScale == 0 || d.pScale == 0 {
		return Measurement{}, ErrNotInitialised
	}
	buf := make([]byte, psrLen)
	n, err := d.dev.ReadBlock(ctx, regPSR, buf)
	if err != nil {
		return Measurement{}, fmt.Errorf("dps368: could not read results: %w", err)
	}
	if n < psrLen {
		return Measurement{}, fmt.Errorf("dps368: short result read (%d bytes)", n)
	}
	prs := signExtend(uint32(buf[0])<<16|uint32(buf[1])<<8|uint32(buf[2]), 24)
	tmp := signExtend(uint32(buf[3])<<16|uint32(buf[4])<<8|uint32(buf[5]), 24)
	return d.compensate(prs, tmp), nil
}

func (d *DPS368) compensate(prsRaw, tmpRaw int32) Measurement {
	c := d.coef
	ts := float64(tmpRaw) / d.tScale
	ps := float64(prsRaw) / d.pScale
	t := float64(c.C0)/2 + float64(c.C1)*ts
	p := float64(c.C00) +
		ps*(float64(c.C10)+ps*(float64(c.C20)+ps*float64(c.C30))) +
		ts*float64(c.C01) +
		ts*ps*(float64(c.C11)+ps*float64(c.C21))
	// Pa to hPa
	return Measurement{Temperature: float32(t), Pressure: float32(p * 0.01)}
}

func (d *DPS368) Coefficients() Coefficients {
	return d.coef
}

func (d *DPS368) TempSource() TempSource {
	return d.src
}

func (d *DPS368) Mode() Mode {
	return d.mode
}

func (d *DPS368) Initialised() bool {
	return d.inited
}

// signExtend interprets the low bits of v as a two's-complement number.
func signExtend(v uint32, bits uint) int32 {
	limit := uint32(1) << (bits - 1)
	v &= (limit << 1) - 1
	if v >= limit {
		return int32(int64(v) - int64(limit<<1))
	}
	return int32(v)
}

func decodeCoefficients(b []byte) Coefficients {
	u := func(i int) uint32 { return uint32(b[i]) }
	return Coefficients{
		C0:  signExtend(u(0)<<4|u(1)>>4, 12),
		C1:  signExtend((u(1)&0x0F)<<8|u(2), 12),
		C00: signExtend(u(3)<<12|u(4)<<4|u(5)>>4, 20),
		C10: signExtend((u(5)&0x0F)<<16|u(6)<<8|u(7), 20),
		C01: signExtend(u(8)<<8|u(9), 16),
		C11: signExtend(u(10)<<8|u(11), 16),
		C20: signExtend(u(12)<<8|u(13), 16),
		C21: signExtend(u(14)<<8|u(15), 16),
		C30: signExtend(u(16)<<8|u(17), 16),
	}
}
