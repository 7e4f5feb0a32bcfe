package mux

import (
	"context"
	"runtime"
	"time"
)

type Event uint8

const (
	EventEndTransmit Event = iota + 1
	EventEndReceive
	EventError
	EventNack
	EventArbitrationLost
)

func (e Event) String() string {
	switch e {
	case EventEndTransmit:
		return "end-transmit"
	case EventEndReceive:
		return "end-receive"
	case EventError:
		return "error"
	case EventNack:
		return "nack"
	case EventArbitrationLost:
		return "arbitration-lost"
	default:
		return "unknown"
	}
}

// Recoverer is the peripheral side of error recovery: Abort stops any transfer in
// flight and Busy reports whether the peripheral is still active.
type Recoverer interface {
	Abort()
	Busy() bool
}

// SetRecoverer installs the peripheral used for recovery after error events.
func (m *Mux) SetRecoverer(r Recoverer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recoverer = r
}

// Notify queues ev for dispatch. It never blocks and may be called from any goroutine
// including peripheral completion handlers. It returns false when the queue is full and
// the event was dropped.
func (m *Mux) Notify(ev Event) bool {
	m.pending.Add(1)
	select {
	case m.events <- ev:
		return true
	default:
		m.pending.Add(-1)
		m.drops.Add(1)
		m.log.Debug("event dropped", "bus", m.name, "event", ev)
		return false
	}
}

// Pending is the number of queued events not yet fully dispatched.
func (m *Mux) Pending() int {
	return int(m.pending.Load())
}

// Drops is the number of events lost to a full queue.
func (m *Mux) Drops() uint64 {
	return m.drops.Load()
}

// Run dispatches queued events until ctx is done.
func (m *Mux) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-m.events:
			m.Dispatch(ev)
			m.pending.Add(-1)
		}
	}
}

// Dispatch handles a single event synchronously. Error events (NACK, arbitration lost,
// bus error) first abort the peripheral. Nothing else happens while the bus is free.
func (m *Mux) Dispatch(ev Event) {
	switch ev {
	case EventNack, EventArbitrationLost, EventError:
		m.recoverPeripheral()
	}

	m.mu.RLock()
	owner := m.owner
	if owner == Unknown {
		m.mu.RUnlock()
		return
	}
	ch := &m.channels[owner]
	var cb func()
	switch ev {
	case EventEndTransmit:
		cb = ch.cb.EndTransmit
	case EventEndReceive:
		cb = ch.cb.EndReceive
	case EventError:
		cb = ch.cb.Error
	case EventNack:
		ch.nack.Store(true)
		cb = ch.cb.Nack
	case EventArbitrationLost:
		cb = ch.cb.ArbitrationLost
	}
	m.mu.RUnlock()

	if cb != nil {
		cb()
	}
}

func (m *Mux) recoverPeripheral() {
	m.mu.RLock()
	r := m.recoverer
	m.mu.RUnlock()
	if r == nil {
		return
	}
	r.Abort()
	deadline := time.Now().Add(m.recoveryTimeout)
	for r.Busy() {
		if !time.Now().Before(deadline) {
			m.log.Warn("peripheral still busy after abort", "bus", m.name)
			return
		}
		runtime.Gosched()
	}
}
