package devbus

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/bsp"
	"github.com/mklimuk/bsp/i2c"
	"github.com/mklimuk/bsp/mux"
)

// failingBus fails every transfer with err.
type failingBus struct {
	err error
}

func (b failingBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	return b.err
}

func (b failingBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	return b.err
}

func (b failingBus) Release(ctx context.Context) error {
	return nil
}

func newControllerDevice(t *testing.T, bus bsp.I2CBus) (*I2CDevice, *mux.Mux) {
	t.Helper()
	m := mux.New(int(testOwner) + 1)
	require.NoError(t, m.Register(testOwner, mux.Callbacks{}))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = m.Run(ctx) }()
	return NewI2CDevice(i2c.NewController(bus, m), 0x77, testOwner, WithTimeout(time.Second)), m
}

func TestI2CDevice_OverController(t *testing.T) {
	errUSB := errors.New("hid: write failed")
	tests := []struct {
		name    string
		err     error
		wantErr error
		nack    bool
	}{
		{name: "interface error keeps its cause", err: errUSB, wantErr: errUSB},
		{name: "missing acknowledge", err: fmt.Errorf("%w: 77", bsp.ErrNoAck), wantErr: ErrNack, nack: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, m := newControllerDevice(t, failingBus{err: tt.err})
			_, err := d.ReadReg(context.Background(), 0x0D)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.nack, errors.Is(err, ErrNack))
			assert.True(t, m.IsAvailable(), "bus released")
		})
	}
}

func TestI2CDevice_NeedsDispatcher(t *testing.T) {
	m := mux.New(int(testOwner) + 1)
	require.NoError(t, m.Register(testOwner, mux.Callbacks{}))
	d := NewI2CDevice(i2c.NewController(failingBus{}, m), 0x77, testOwner, WithTimeout(20*time.Millisecond))
	_, err := d.ReadReg(context.Background(), 0x0D)
	assert.ErrorIs(t, err, mux.ErrTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()
	_, err = d.ReadReg(context.Background(), 0x0D)
	assert.NoError(t, err)
}
