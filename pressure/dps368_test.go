package pressure

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice serves registers from a map and records writes.
type fakeDevice struct {
	regs     map[byte]byte
	writes   [][2]byte
	initErrs []error
	inits    int
	delay    time.Duration
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{regs: map[byte]byte{regProdID: productID}}
}

func (f *fakeDevice) Init(ctx context.Context) error {
	f.inits++
	if len(f.initErrs) > 0 {
		err := f.initErrs[0]
		f.initErrs = f.initErrs[1:]
		return err
	}
	return nil
}

func (f *fakeDevice) ReadReg(ctx context.Context, reg byte) (byte, error) {
	return f.regs[reg], nil
}

func (f *fakeDevice) ReadBlock(ctx context.Context, reg byte, buf []byte) (int, error) {
	for i := range buf {
		buf[i] = f.regs[reg+byte(i)]
	}
	return len(buf), nil
}

func (f *fakeDevice) WriteReg(ctx context.Context, reg, val byte) error {
	f.writes = append(f.writes, [2]byte{reg, val})
	f.regs[reg] = val
	return nil
}

func (f *fakeDevice) Delay(ctx context.Context, d time.Duration) error {
	f.delay += d
	return nil
}

func (f *fakeDevice) load(reg byte, data []byte) {
	for i, b := range data {
		f.regs[reg+byte(i)] = b
	}
}

// C0=-1 C1=-2 C00=-100000 C10=74565 C01=-3 C11=1000 C20=-32768 C21=32767 C30=0
var testCoefBlock = []byte{
	0xFF, 0xFF, 0xFE,
	0xE7, 0x96, 0x01, 0x23, 0x45,
	0xFF, 0xFD,
	0x03, 0xE8,
	0x80, 0x00,
	0x7F, 0xFF,
	0x00, 0x00,
}

func TestSignExtend(t *testing.T) {
	for _, bits := range []uint{12, 16, 20, 24} {
		lo := -int32(1) << (bits - 1)
		hi := int32(1)<<(bits-1) - 1
		mask := uint32(1)<<bits - 1
		for _, v := range []int32{-1, -123, lo, lo + 1, 0, 1, hi} {
			got := signExtend(uint32(v)&mask, bits)
			assert.Equal(t, v, got, "width %d value %d", bits, v)
		}
	}
}

func TestDecodeCoefficients(t *testing.T) {
	c := decodeCoefficients(testCoefBlock)
	assert.Equal(t, Coefficients{
		C0: -1, C1: -2,
		C00: -100000, C10: 74565,
		C01: -3, C11: 1000, C20: -32768, C21: 32767, C30: 0,
	}, c)
}

func TestDPS368_Init(t *testing.T) {
	dev := newFakeDevice()
	dev.load(regCoef, testCoefBlock)
	dev.regs[regCoefSrce] = 0x80

	d := New(dev)
	require.NoError(t, d.Init(context.Background()))
	assert.True(t, d.Initialised())
	assert.Equal(t, TempMEMS, d.TempSource())
	assert.Equal(t, ModeBackgroundAll, d.Mode())
	assert.Equal(t, int32(-100000), d.Coefficients().C00)
	assert.Equal(t, 80*time.Millisecond, dev.delay)

	assert.Equal(t, [][2]byte{
		{0x0E, 0xA5}, {0x0F, 0x96}, {0x62, 0x02}, {0x0E, 0x00}, {0x0F, 0x00},
		{regTMPCfg, 0xA1},
		{regPRSCfg, 0x36},
		{regCfg, cfgPrsShift},
		{regMeasCfg, byte(ModeBackgroundAll)},
	}, dev.writes)
}

func TestDPS368_InitProductID(t *testing.T) {
	dev := newFakeDevice()
	dev.regs[regProdID] = 0x11
	d := New(dev)
	err := d.Init(context.Background())
	assert.ErrorIs(t, err, ErrProductID)
	assert.False(t, d.Initialised())
	assert.Empty(t, dev.writes)
}

func TestDPS368_Measure(t *testing.T) {
	dev := newFakeDevice()
	dev.load(regCoef, testCoefBlock)
	d := New(dev)
	require.NoError(t, d.Init(context.Background()))

	// pressure raw -1040384 (ps = -1 at x64), temperature raw 1572864 (ts = 1 at x2)
	dev.load(regPSR, []byte{0xF0, 0x20, 0x00, 0x18, 0x00, 0x00})
	m, err := d.Measure(context.Background())
	require.NoError(t, err)

	// T = C0/2 + C1*ts
	assert.InDelta(t, -2.5, m.Temperature, 1e-6)
	// P = C00 + ps*(C10 + ps*(C20 + ps*C30)) + ts*C01 + ts*ps*(C11 + ps*C21)
	//   = -100000 - 107333 - 3 + 31767 Pa
	assert.InDelta(t, -1755.69, m.Pressure, 0.01)
}

func TestDPS368_MeasureBeforeInit(t *testing.T) {
	d := New(newFakeDevice())
	_, err := d.Measure(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialised)
}

func TestDPS368_Configure(t *testing.T) {
	tests := []struct {
		name    string
		tOSR    OSR
		tRate   Rate
		pOSR    OSR
		pRate   Rate
		wantTMP byte
		wantPRS byte
		wantCFG byte
	}{
		{name: "low oversampling", tOSR: OSR8, tRate: Rate32, pOSR: OSR8, pRate: Rate1, wantTMP: 0x53, wantPRS: 0x03, wantCFG: 0x00},
		{name: "pressure shift", tOSR: OSR8, tRate: Rate32, pOSR: OSR128, pRate: Rate128, wantTMP: 0x53, wantPRS: 0x77, wantCFG: 0x04},
		{name: "both shifts", tOSR: OSR16, tRate: Rate1, pOSR: OSR16, pRate: Rate2, wantTMP: 0x04, wantPRS: 0x14, wantCFG: 0x0C},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice()
			d := New(dev)
			require.NoError(t, d.Configure(context.Background(), tt.tOSR, tt.tRate, tt.pOSR, tt.pRate))
			assert.Equal(t, tt.wantTMP, dev.regs[regTMPCfg])
			assert.Equal(t, tt.wantPRS, dev.regs[regPRSCfg])
			assert.Equal(t, tt.wantCFG, dev.regs[regCfg])
			assert.Equal(t, tt.tOSR.scale(), d.tScale)
		})
	}
}

func TestDPS368_Ready(t *testing.T) {
	dev := newFakeDevice()
	d := New(dev)
	for _, tc := range []struct {
		meas byte
		want bool
	}{
		{0x00, false},
		{measPrsRdy, false},
		{measTmpRdy, false},
		{measPrsRdy | measTmpRdy | byte(ModeBackgroundAll), true},
	} {
		dev.regs[regMeasCfg] = tc.meas
		ok, err := d.Ready(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tc.want, ok, "MEAS_CFG %#x", tc.meas)
	}
}

func TestDPS368_Connect(t *testing.T) {
	busErr := errors.New("bus error")
	tests := []struct {
		name      string
		initErrs  []error
		wantErr   bool
		wantInits int
	}{
		{name: "first attempt", wantInits: 1},
		{name: "third attempt", initErrs: []error{busErr, busErr}, wantInits: 3},
		{name: "all attempts fail", initErrs: []error{busErr, busErr, busErr}, wantErr: true, wantInits: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice()
			dev.load(regCoef, testCoefBlock)
			dev.initErrs = tt.initErrs
			d := New(dev)
			err := d.Connect(context.Background())
			assert.Equal(t, tt.wantInits, dev.inits)
			if tt.wantErr {
				assert.ErrorIs(t, err, busErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, byte(0x53), dev.regs[regTMPCfg])
			assert.Equal(t, byte(0x77), dev.regs[regPRSCfg])
			assert.Equal(t, byte(cfgPrsShift), dev.regs[regCfg])
			assert.Equal(t, ModeBackgroundAll, d.Mode())
		})
	}
}

func TestDPS368_GetData(t *testing.T) {
	tests := []struct {
		c0      int32
		wantErr bool
	}{
		{c0: 218, wantErr: false},
		{c0: 220, wantErr: true},
		{c0: 226, wantErr: true},
		{c0: 229, wantErr: true},
		{c0: 230, wantErr: false},
		{c0: 50, wantErr: false},
	}
	for _, tt := range tests {
		dev := newFakeDevice()
		d := New(dev)
		require.NoError(t, d.Configure(context.Background(), OSR8, Rate32, OSR128, Rate128))
		d.coef = Coefficients{C0: tt.c0}
		_, err := d.GetData(context.Background())
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidReading, "temperature %.1f", float64(tt.c0)/2)
		} else {
			assert.NoError(t, err, "temperature %.1f", float64(tt.c0)/2)
		}
	}
}
