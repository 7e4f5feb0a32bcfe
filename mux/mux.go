// Package mux serialises access to a physical bus shared by several logical devices.
//
// Each logical device is identified by an Owner. A Mux holds a binary lock, the
// current owner and a channel record per owner (callbacks and NACK flag). Events
// raised by the bus peripheral are queued with Notify and dispatched to the
// current owner's callbacks by Run.
package mux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Owner identifies a logical device sharing the bus.
type Owner uint8

// Unknown is the owner of a free bus.
const Unknown Owner = 0

// Forever disables the acquire timeout; the wait is bounded by the context only.
const Forever time.Duration = 0

var (
	ErrInvalidOwner  = errors.New("mux: invalid owner")
	ErrNotRegistered = errors.New("mux: channel not registered")
	ErrTimeout       = errors.New("mux: timeout")
	ErrBusy          = errors.New("mux: bus busy")
	ErrNotHeld       = errors.New("mux: lock not held")
)

const (
	defaultPollInterval    = time.Millisecond
	defaultQueueLen        = 16
	defaultRecoveryTimeout = 10 * time.Millisecond
)

type Option func(*Mux)

// WithName sets the name used in log records.
func WithName(name string) Option {
	return func(m *Mux) {
		m.name = name
	}
}

// WithNonBlocking marks owners whose acquire never waits. Such owners are used from
// contexts that must not block; a busy bus fails immediately with ErrBusy.
func WithNonBlocking(owners ...Owner) Option {
	return func(m *Mux) {
		for _, o := range owners {
			m.nonBlocking[o] = true
		}
	}
}

// WithReentrant lets the current owner acquire the lock again. The lock is freed by the
// release matching the outermost acquire.
func WithReentrant() Option {
	return func(m *Mux) {
		m.reentrant = true
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(m *Mux) {
		if d > 0 {
			m.poll = d
		}
	}
}

// WithQueueLen sets the capacity of the event queue.
func WithQueueLen(n int) Option {
	return func(m *Mux) {
		if n > 0 {
			m.queueLen = n
		}
	}
}

// WithRecoveryTimeout bounds the spin on the peripheral busy flag after a bus error.
func WithRecoveryTimeout(d time.Duration) Option {
	return func(m *Mux) {
		if d > 0 {
			m.recoveryTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Mux) {
		if l != nil {
			m.log = l
		}
	}
}

type Mux struct {
	name            string
	sem             chan struct{}
	events          chan Event
	queueLen        int
	poll            time.Duration
	recoveryTimeout time.Duration
	reentrant       bool
	nonBlocking     map[Owner]bool
	log             *slog.Logger

	mu        sync.RWMutex
	owner     Owner
	depth     int
	channels  []channel
	recoverer Recoverer

	pending atomic.Int64
	drops   atomic.Uint64
}

// New creates a mux for owners in range [1, owners). The lock starts free.
func New(owners int, opts ...Option) *Mux {
	if owners < 2 {
		owners = 2
	}
	if owners > 256 {
		owners = 256
	}
	m := &Mux{
		name:            "bus",
		sem:             make(chan struct{}, 1),
		queueLen:        defaultQueueLen,
		poll:            defaultPollInterval,
		recoveryTimeout: defaultRecoveryTimeout,
		nonBlocking:     make(map[Owner]bool),
		log:             slog.Default(),
		channels:        make([]channel, owners),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.events = make(chan Event, m.queueLen)
	m.sem <- struct{}{}
	return m
}

func (m *Mux) Name() string {
	return m.name
}

func (m *Mux) checkOwner(owner Owner) error {
	if owner == Unknown || int(owner) >= len(m.channels) {
		return fmt.Errorf("%w: %d", ErrInvalidOwner, owner)
	}
	return nil
}

// Acquire takes exclusive ownership of the bus for owner. It waits until the bus is
// released, timeout elapses (ErrTimeout) or ctx is done. Owners configured with
// WithNonBlocking do not wait. On success the owner's NACK flag is cleared.
func (m *Mux) Acquire(ctx context.Context, owner Owner, timeout time.Duration) error {
	if err := m.checkOwner(owner); err != nil {
		return err
	}
	m.mu.Lock()
	ch := &m.channels[owner]
	if !ch.registered {
		m.mu.Unlock()
		return fmt.Errorf("%w: owner %d", ErrNotRegistered, owner)
	}
	if m.reentrant && m.depth > 0 && m.owner == owner {
		m.depth++
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if m.nonBlocking[owner] {
		select {
		case <-m.sem:
		default:
			return fmt.Errorf("acquire %s for owner %d: %w", m.name, owner, ErrBusy)
		}
	} else if err := m.take(ctx, owner, timeout); err != nil {
		return err
	}

	m.mu.Lock()
	m.owner = owner
	m.depth = 1
	m.mu.Unlock()
	ch.nack.Store(false)
	return nil
}

func (m *Mux) take(ctx context.Context, owner Owner, timeout time.Duration) error {
	select {
	case <-m.sem:
		return nil
	default:
	}
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-m.sem:
		return nil
	case <-expired:
		return fmt.Errorf("acquire %s for owner %d: %w", m.name, owner, ErrTimeout)
	case <-ctx.Done():
		return fmt.Errorf("acquire %s for owner %d: %w", m.name, owner, ctx.Err())
	}
}

// Release frees the bus and resets the current owner to Unknown. The lock is released
// regardless of which owner holds it; ErrNotHeld reports a release of a free lock.
func (m *Mux) Release(owner Owner) error {
	if err := m.checkOwner(owner); err != nil {
		return err
	}
	m.mu.Lock()
	if m.reentrant && m.owner == owner && m.depth > 1 {
		m.depth--
		m.mu.Unlock()
		return nil
	}
	m.owner = Unknown
	m.depth = 0
	m.mu.Unlock()
	select {
	case m.sem <- struct{}{}:
		return nil
	default:
		return fmt.Errorf("release %s for owner %d: %w", m.name, owner, ErrNotHeld)
	}
}

// IsAvailable reports whether the lock is currently free.
func (m *Mux) IsAvailable() bool {
	return len(m.sem) > 0
}

// WaitUntilFree polls the lock until it is free. It returns ErrTimeout once timeout has
// elapsed without the lock becoming free.
func (m *Mux) WaitUntilFree(ctx context.Context, timeout time.Duration) error {
	err := Wait(ctx, timeout, m.poll, func() bool { return !m.IsAvailable() })
	if err != nil {
		return fmt.Errorf("wait for %s: %w", m.name, err)
	}
	return nil
}

// Current returns the owner holding the bus.
func (m *Mux) Current() Owner {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.owner
}

// PollInterval is the period used by busy-wait loops on this bus.
func (m *Mux) PollInterval() time.Duration {
	return m.poll
}
