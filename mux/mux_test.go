package mux

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ownerA Owner = iota + 1
	ownerB
	ownerISR
	ownerCount
)

func newTestMux(t *testing.T, opts ...Option) *Mux {
	t.Helper()
	m := New(int(ownerCount), opts...)
	for _, o := range []Owner{ownerA, ownerB, ownerISR} {
		require.NoError(t, m.Register(o, Callbacks{}))
	}
	return m
}

func TestMux_Exclusivity(t *testing.T) {
	m := newTestMux(t)
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, ownerA, 100*time.Millisecond))
	assert.Equal(t, ownerA, m.Current())
	assert.False(t, m.IsAvailable())

	var wg sync.WaitGroup
	var errB error
	wg.Add(1)
	go func() {
		defer wg.Done()
		errB = m.Acquire(ctx, ownerB, 50*time.Millisecond)
	}()
	wg.Wait()
	assert.ErrorIs(t, errB, ErrTimeout)
	assert.Equal(t, ownerA, m.Current())

	require.NoError(t, m.Release(ownerA))
	assert.Equal(t, Unknown, m.Current())

	start := time.Now()
	require.NoError(t, m.Acquire(ctx, ownerB, 50*time.Millisecond))
	assert.Less(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, ownerB, m.Current())
	require.NoError(t, m.Release(ownerB))
}

func TestMux_AtMostOneOwner(t *testing.T) {
	m := newTestMux(t)
	ctx := context.Background()

	var holders atomic.Int32
	var maxHolders atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		owner := ownerA
		if i%2 == 1 {
			owner = ownerB
		}
		wg.Add(1)
		go func(owner Owner) {
			defer wg.Done()
			if err := m.Acquire(ctx, owner, Forever); err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := holders.Add(1)
			for {
				cur := maxHolders.Load()
				if n <= cur || maxHolders.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			holders.Add(-1)
			if err := m.Release(owner); err != nil {
				t.Errorf("release: %v", err)
			}
		}(owner)
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxHolders.Load())
	assert.True(t, m.IsAvailable())
}

func TestMux_AcquireErrors(t *testing.T) {
	m := New(int(ownerCount))
	require.NoError(t, m.Register(ownerA, Callbacks{}))
	ctx := context.Background()

	tests := []struct {
		name     string
		owner    Owner
		expected error
	}{
		{"unknown owner", Unknown, ErrInvalidOwner},
		{"out of range", ownerCount, ErrInvalidOwner},
		{"not registered", ownerB, ErrNotRegistered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Acquire(ctx, tt.owner, 10*time.Millisecond)
			assert.ErrorIs(t, err, tt.expected)
			assert.True(t, m.IsAvailable())
		})
	}
}

func TestMux_Unregister(t *testing.T) {
	m := newTestMux(t)
	require.NoError(t, m.Unregister(ownerA))
	assert.False(t, m.Registered(ownerA))
	assert.ErrorIs(t, m.Acquire(context.Background(), ownerA, time.Millisecond), ErrNotRegistered)
	assert.ErrorIs(t, m.Unregister(Unknown), ErrInvalidOwner)
}

func TestMux_NonBlockingOwner(t *testing.T) {
	m := newTestMux(t, WithNonBlocking(ownerISR))
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, ownerA, Forever))
	start := time.Now()
	err := m.Acquire(ctx, ownerISR, time.Second)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	require.NoError(t, m.Release(ownerA))
	require.NoError(t, m.Acquire(ctx, ownerISR, Forever))
	assert.Equal(t, ownerISR, m.Current())
	require.NoError(t, m.Release(ownerISR))
}

func TestMux_ReleaseFreeLock(t *testing.T) {
	m := newTestMux(t)
	assert.ErrorIs(t, m.Release(ownerA), ErrNotHeld)
	assert.ErrorIs(t, m.Release(Unknown), ErrInvalidOwner)
	assert.True(t, m.IsAvailable())
}

func TestMux_ReleaseIsUnconditional(t *testing.T) {
	m := newTestMux(t)
	require.NoError(t, m.Acquire(context.Background(), ownerA, Forever))
	require.NoError(t, m.Release(ownerB))
	assert.True(t, m.IsAvailable())
	assert.Equal(t, Unknown, m.Current())
}

func TestMux_Reentrant(t *testing.T) {
	m := newTestMux(t, WithReentrant())
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, ownerA, Forever))
	require.NoError(t, m.Acquire(ctx, ownerA, 10*time.Millisecond))
	assert.ErrorIs(t, m.Acquire(ctx, ownerB, 10*time.Millisecond), ErrTimeout)

	require.NoError(t, m.Release(ownerA))
	assert.False(t, m.IsAvailable(), "inner release keeps the lock")
	assert.Equal(t, ownerA, m.Current())

	require.NoError(t, m.Release(ownerA))
	assert.True(t, m.IsAvailable())
}

func TestMux_AcquireContextCancelled(t *testing.T) {
	m := newTestMux(t)
	require.NoError(t, m.Acquire(context.Background(), ownerA, Forever))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Acquire(ctx, ownerB, Forever)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMux_AcquireClearsNack(t *testing.T) {
	m := newTestMux(t)
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, ownerA, Forever))
	m.Dispatch(EventNack)
	assert.True(t, m.IsNack())
	require.NoError(t, m.Release(ownerA))
	assert.False(t, m.IsNack(), "free bus reports no NACK")

	require.NoError(t, m.Acquire(ctx, ownerA, Forever))
	assert.False(t, m.IsNack())
	require.NoError(t, m.Release(ownerA))
}

func TestMux_WaitUntilFree(t *testing.T) {
	ctx := context.Background()

	t.Run("free", func(t *testing.T) {
		m := newTestMux(t)
		assert.NoError(t, m.WaitUntilFree(ctx, 10*time.Millisecond))
	})

	t.Run("held past deadline", func(t *testing.T) {
		m := newTestMux(t)
		require.NoError(t, m.Acquire(ctx, ownerA, Forever))
		start := time.Now()
		err := m.WaitUntilFree(ctx, 30*time.Millisecond)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	})

	t.Run("released within deadline", func(t *testing.T) {
		m := newTestMux(t)
		require.NoError(t, m.Acquire(ctx, ownerA, Forever))
		go func() {
			time.Sleep(10 * time.Millisecond)
			_ = m.Release(ownerA)
		}()
		assert.NoError(t, m.WaitUntilFree(ctx, 500*time.Millisecond))
	})
}

func TestWait(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	err := Wait(ctx, 200*time.Millisecond, time.Millisecond, func() bool {
		return calls.Add(1) < 3
	})
	assert.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())

	err = Wait(ctx, 5*time.Millisecond, time.Millisecond, func() bool { return true })
	assert.ErrorIs(t, err, ErrTimeout)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	err = Wait(cctx, Forever, time.Millisecond, func() bool { return true })
	assert.ErrorIs(t, err, context.Canceled)
}
