package mux

import (
	"fmt"
	"sync/atomic"
)

// Callbacks are invoked for the current owner when the matching event is dispatched.
// Any of them may be nil.
type Callbacks struct {
	EndTransmit     func()
	EndReceive      func()
	Error           func()
	Nack            func()
	ArbitrationLost func()
}

type channel struct {
	registered bool
	nack       atomic.Bool
	cb         Callbacks
}

// Register initialises the channel of owner with its callbacks. Only registered owners
// may acquire the bus.
func (m *Mux) Register(owner Owner, cb Callbacks) error {
	if err := m.checkOwner(owner); err != nil {
		return fmt.Errorf("register on %s: %w", m.name, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := &m.channels[owner]
	ch.cb = cb
	ch.registered = true
	ch.nack.Store(false)
	return nil
}

// Unregister clears the callbacks and the initialised flag of owner.
func (m *Mux) Unregister(owner Owner) error {
	if err := m.checkOwner(owner); err != nil {
		return fmt.Errorf("unregister on %s: %w", m.name, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := &m.channels[owner]
	ch.cb = Callbacks{}
	ch.registered = false
	return nil
}

func (m *Mux) Registered(owner Owner) bool {
	if m.checkOwner(owner) != nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channels[owner].registered
}

// IsNack reports the NACK flag of the current owner. A free bus never reports NACK.
func (m *Mux) IsNack() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.owner == Unknown {
		return false
	}
	return m.channels[m.owner].nack.Load()
}

// ClearNack resets the NACK flag of the current owner before a new transfer.
func (m *Mux) ClearNack() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.owner == Unknown {
		return
	}
	m.channels[m.owner].nack.Store(false)
}
