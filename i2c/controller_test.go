package i2c

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/bsp"
	"github.com/mklimuk/bsp/mux"
)

// MockI2CBus is a mock implementation of bsp.I2CBus using testify/mock
type MockI2CBus struct {
	mock.Mock
}

func (m *MockI2CBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	args := m.Called(ctx, address, buffer)
	return args.Error(0)
}

func (m *MockI2CBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	args := m.Called(ctx, address, buffer)
	if data, ok := args.Get(0).([]byte); ok && len(data) <= len(buffer) {
		copy(buffer, data)
	}
	return args.Error(1)
}

func (m *MockI2CBus) Release(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

const testOwner mux.Owner = 1

func newTestController(t *testing.T, bus bsp.I2CBus, cb mux.Callbacks) *Controller {
	t.Helper()
	m := mux.New(2)
	require.NoError(t, m.Register(testOwner, cb))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = m.Run(ctx) }()
	return NewController(bus, m)
}

func waitIdle(t *testing.T, c *Controller) {
	t.Helper()
	require.Eventually(t, func() bool { return !c.TxBusy() && !c.RxBusy() }, time.Second, time.Millisecond)
}

func TestController_TransmitReceive(t *testing.T) {
	bus := new(MockI2CBus)
	var tx, rx atomic.Int32
	c := newTestController(t, bus, mux.Callbacks{
		EndTransmit: func() { tx.Add(1) },
		EndReceive:  func() { rx.Add(1) },
	})
	ctx := context.Background()

	bus.On("WriteToAddr", mock.Anything, byte(0x77), []byte{0x0D}).Return(nil).Once()
	bus.On("ReadFromAddr", mock.Anything, byte(0x77), mock.Anything).Return([]byte{0x10}, nil).Once()

	require.NoError(t, c.Acquire(ctx, testOwner, time.Second))
	require.NoError(t, c.Transmit(ctx, 0x77, []byte{0x0D}))
	waitIdle(t, c)
	assert.False(t, c.IsNack())

	buf := make([]byte, 1)
	require.NoError(t, c.Receive(ctx, 0x77, buf))
	waitIdle(t, c)
	assert.False(t, c.IsNack())
	assert.Equal(t, byte(0x10), buf[0])
	require.NoError(t, c.Release(testOwner))

	assert.Equal(t, int32(1), tx.Load())
	assert.Equal(t, int32(1), rx.Load())
	bus.AssertExpectations(t)
}

func TestController_NotAcknowledged(t *testing.T) {
	bus := new(MockI2CBus)
	var nack atomic.Int32
	c := newTestController(t, bus, mux.Callbacks{Nack: func() { nack.Add(1) }})
	ctx := context.Background()

	bus.On("WriteToAddr", mock.Anything, byte(0x76), mock.Anything).Return(fmt.Errorf("could not write to i2c bus 76: %w", bsp.ErrNoAck)).Once()
	bus.On("Release", mock.Anything).Return(nil)

	require.NoError(t, c.Acquire(ctx, testOwner, time.Second))
	require.NoError(t, c.Transmit(ctx, 0x76, []byte{0x0D}))
	waitIdle(t, c)
	assert.True(t, c.IsNack())
	assert.Equal(t, int32(1), nack.Load())
	bus.AssertCalled(t, "Release", mock.Anything)
	require.NoError(t, c.Release(testOwner))
}

func TestController_BusyRetry(t *testing.T) {
	bus := new(MockI2CBus)
	c := newTestController(t, bus, mux.Callbacks{})
	ctx := context.Background()

	bus.On("WriteToAddr", mock.Anything, byte(0x5E), mock.Anything).Return(bsp.ErrBusBusy).Once()
	bus.On("WriteToAddr", mock.Anything, byte(0x5E), mock.Anything).Return(nil).Once()
	bus.On("Release", mock.Anything).Return(nil).Once()

	require.NoError(t, c.Acquire(ctx, testOwner, time.Second))
	require.NoError(t, c.Transmit(ctx, 0x5E, []byte{0x00}))
	waitIdle(t, c)
	assert.False(t, c.IsNack())
	bus.AssertExpectations(t)
	require.NoError(t, c.Release(testOwner))
}

func TestController_BusyRetryLimit(t *testing.T) {
	bus := new(MockI2CBus)
	c := newTestController(t, bus, mux.Callbacks{})
	ctx := context.Background()

	bus.On("WriteToAddr", mock.Anything, byte(0x5E), mock.Anything).Return(bsp.ErrBusBusy)
	bus.On("Release", mock.Anything).Return(nil)

	require.NoError(t, c.Acquire(ctx, testOwner, time.Second))
	err := c.Transmit(ctx, 0x5E, []byte{0x00})
	assert.ErrorIs(t, err, bsp.ErrBusBusy)
	bus.AssertNumberOfCalls(t, "WriteToAddr", 3)
	require.NoError(t, c.Release(testOwner))
}

func TestController_TransportError(t *testing.T) {
	bus := new(MockI2CBus)
	errUSB := errors.New("hid: device disconnected")
	var nack, failed atomic.Int32
	c := newTestController(t, bus, mux.Callbacks{
		Nack:  func() { nack.Add(1) },
		Error: func() { failed.Add(1) },
	})
	ctx := context.Background()

	bus.On("ReadFromAddr", mock.Anything, byte(0x77), mock.Anything).Return(nil, errUSB).Once()
	bus.On("Release", mock.Anything).Return(nil)

	require.NoError(t, c.Acquire(ctx, testOwner, time.Second))
	err := c.Receive(ctx, 0x77, make([]byte, 1))
	assert.ErrorIs(t, err, errUSB)
	waitIdle(t, c)
	assert.False(t, c.IsNack())
	assert.Equal(t, int32(0), nack.Load())
	assert.Eventually(t, func() bool { return failed.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, c.Release(testOwner))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		noAck bool
	}{
		{name: "i2c-dev remote io", err: errors.New("sysfs-i2c: remote I/O error"), noAck: true},
		{name: "i2c-dev no device", err: errors.New("sysfs-i2c: no such device or address"), noAck: true},
		{name: "tinygo nack", err: errors.New("I2C error: expected ACK not NACK"), noAck: true},
		{name: "bus missing", err: errors.New("sysfs-i2c: no such file or directory")},
		{name: "timeout", err: errors.New("i2c: timeout")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.noAck, errors.Is(err, bsp.ErrNoAck))
		})
	}
}
