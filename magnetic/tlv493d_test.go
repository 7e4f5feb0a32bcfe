package magnetic

import (
	"context"
	"errors"
	"math/bits"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	image  [readSize]byte
	reads  []int
	writes [][]byte
	delays []time.Duration
	err    error
}

func (f *fakeTransport) Read(ctx context.Context, buf []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.reads = append(f.reads, len(buf))
	return copy(buf, f.image[:]), nil
}

func (f *fakeTransport) Write(ctx context.Context, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Delay(ctx context.Context, d time.Duration) error {
	f.delays = append(f.delays, d)
	return nil
}

func oddParity(b []byte) bool {
	n := 0
	for _, v := range b {
		n += bits.OnesCount8(v)
	}
	return n%2 == 1
}

func TestCalcParity(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	s := New(&fakeTransport{})
	for i := 0; i < 1000; i++ {
		r.Read(s.write[:])
		s.calcParity()
		require.True(t, oddParity(s.write[:]), "image %x", s.write)
		before := s.write
		s.calcParity()
		require.Equal(t, before, s.write, "parity not idempotent for %x", before)
	}
}

func TestRegBits_RoundTrip(t *testing.T) {
	tests := []struct {
		f   field
		max byte
	}{
		{wAddr, 0x03},
		{wInt, 0x01},
		{wFast, 0x01},
		{wLowPower, 0x01},
		{wTempNEn, 0x01},
		{wLPPeriod, 0x01},
		{wParityEn, 0x01},
		{wRes1, 0x03},
		{wRes2, 0xFF},
		{wRes3, 0x1F},
	}
	for _, tt := range tests {
		s := New(&fakeTransport{})
		for v := 0; v <= int(tt.max); v++ {
			s.setRegBits(tt.f, byte(v))
			assert.Equal(t, byte(v), s.getRegBits(tt.f), "field %d value %d", tt.f, v)
		}
		// bits outside the field are untouched
		s.write = [writeSize]byte{0xFF, 0xFF, 0xFF, 0xFF}
		s.setRegBits(tt.f, 0)
		m := regMasks[tt.f]
		assert.Equal(t, ^m.mask, s.write[m.index], "field %d", tt.f)
	}
}

func TestConcat(t *testing.T) {
	tests := []struct {
		name      string
		upper     byte
		lower     byte
		upperFull bool
		want      int16
	}{
		{"max", 0x7F, 0x0F, true, 2047},
		{"min", 0x80, 0x00, true, -2048},
		{"minus one", 0xFF, 0x0F, true, -1},
		{"upper nibble of lower ignored", 0x01, 0xF2, true, 0x12},
		{"temperature offset", 0x01, 0x3B, false, 315},
		{"temperature negative", 0x0F, 0xFF, false, -1},
		{"temperature upper nibble ignored", 0xF0, 0x10, false, 0x10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, concat(tt.upper, tt.lower, tt.upperFull))
		})
	}
}

func TestTLV493D_Init(t *testing.T) {
	tr := &fakeTransport{}
	// factory settings: RES1=0b10 in byte 7, RES2=0xA5 in byte 8, RES3=0x15 in byte 9
	tr.image[7] = 0x10
	tr.image[8] = 0xA5
	tr.image[9] = 0x15
	s := New(tr)
	require.NoError(t, s.Init(context.Background()))

	assert.Equal(t, []time.Duration{startupDelay}, tr.delays)
	assert.Equal(t, []int{readSize}, tr.reads)
	require.Len(t, tr.writes, 1)
	w := tr.writes[0]
	assert.Equal(t, byte(0x02), (w[1]&0x18)>>3)
	assert.Equal(t, byte(0xA5), w[2])
	assert.Equal(t, byte(0x15), w[3]&0x1F)
	assert.Equal(t, byte(0x20), w[3]&0x20, "parity test enabled")
	assert.Equal(t, byte(0x02), w[1]&0x03, "fast mode bits")
	assert.True(t, oddParity(w))
	assert.Equal(t, Fast, s.Mode())
}

func TestTLV493D_SetAccessModeFailure(t *testing.T) {
	tr := &fakeTransport{}
	s := New(tr)
	require.NoError(t, s.SetAccessMode(context.Background(), LowPower))
	tr.err = errors.New("bus error")
	assert.Error(t, s.SetAccessMode(context.Background(), Fast))
	assert.Equal(t, LowPower, s.Mode())
	assert.Error(t, s.SetAccessMode(context.Background(), AccessMode(9)))
}

func TestTLV493D_Update(t *testing.T) {
	tr := &fakeTransport{}
	s := New(tr)
	require.NoError(t, s.SetAccessMode(context.Background(), LowPower))

	// x = 0x123, y = -2, z = 0x7FF, temp = 340, frame 2, channel 0
	tr.image = [readSize]byte{0x12, 0xFF, 0x7F, 0x18, 0x3E, 0x0F, 0x54}
	require.NoError(t, s.Update(context.Background()))
	assert.Equal(t, []int{measurementRead}, tr.reads)
	assert.InDelta(t, 0x123*bMult, s.X(), 1e-4)
	assert.InDelta(t, -2*bMult, s.Y(), 1e-4)
	assert.InDelta(t, 2047*bMult, s.Z(), 1e-4)
	assert.InDelta(t, (340-tempOffset)*tempMult, s.Temperature(), 1e-4)
	assert.Equal(t, byte(3), s.ExpectedFrame())
}

func TestTLV493D_UpdateFrameError(t *testing.T) {
	tr := &fakeTransport{}
	s := New(tr)
	require.NoError(t, s.SetAccessMode(context.Background(), LowPower))
	tr.image = [readSize]byte{0x01, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}
	err := s.Update(context.Background())
	assert.ErrorIs(t, err, ErrFrame)
	assert.InDelta(t, 16*bMult, s.X(), 1e-4)
}

func TestTLV493D_UpdateFastMode(t *testing.T) {
	tr := &fakeTransport{}
	s := New(tr)
	require.NoError(t, s.SetAccessMode(context.Background(), Fast))
	require.NoError(t, s.Update(context.Background()))
	assert.Equal(t, []int{fastRead}, tr.reads)
}

func TestTLV493D_UpdatePowerDown(t *testing.T) {
	tr := &fakeTransport{}
	s := New(tr)
	require.NoError(t, s.SetAccessMode(context.Background(), PowerDown))
	tr.writes = nil

	require.NoError(t, s.Update(context.Background()))
	assert.Equal(t, []time.Duration{accessModes[MasterControlled].measurementTime}, tr.delays)
	require.Len(t, tr.writes, 2)
	assert.Equal(t, byte(0x03), tr.writes[0][1]&0x03, "master controlled")
	assert.Equal(t, byte(0x00), tr.writes[1][1]&0x03, "power down")
	assert.Equal(t, PowerDown, s.Mode())
	assert.Equal(t, []int{measurementRead}, tr.reads)
}

func TestTLV493D_Angles(t *testing.T) {
	s := New(&fakeTransport{})
	s.x, s.y, s.z = 3, 4, 0
	assert.InDelta(t, 5*bMult, s.Amount(), 1e-5)
	assert.InDelta(t, 0.9273, s.Azimuth(), 1e-4)
	assert.InDelta(t, 0, s.Polar(), 1e-6)
	s.z = 5
	assert.InDelta(t, 0.7854, s.Polar(), 1e-4)
}

func TestTLV493D_End(t *testing.T) {
	tr := &fakeTransport{}
	s := New(tr)
	require.NoError(t, s.EnableInterrupt(context.Background()))
	require.NoError(t, s.End(context.Background()))
	require.Len(t, tr.writes, 3)
	assert.Equal(t, byte(0), tr.writes[2][1]&0x04)
	assert.Equal(t, PowerDown, s.Mode())
}
