package gpio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// EdgePollInterval is how often WaitForEdge samples an expander input.
const EdgePollInterval = 5 * time.Millisecond

// Pin is a single expander line. It speaks the periph gpio vocabulary so it can power a
// sensor rail or feed a Hall sensor output. Calls without a context use
// context.Background; the bus acquire timeout bounds them.
type Pin struct {
	exp  *MCP23017
	port Port
	bit  uint8

	mu   sync.Mutex
	edge gpio.Edge
	last gpio.Level
}

func (p *Pin) String() string {
	return fmt.Sprintf("MCP23017_GP%s%d", p.port, p.bit)
}

// Out turns the pin into an output driving l.
func (p *Pin) Out(l gpio.Level) error {
	ctx := context.Background()
	if err := p.exp.update(ctx, OLAT, p.port, p.bit, bool(l)); err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	if err := p.exp.update(ctx, IODIR, p.port, p.bit, false); err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	return nil
}

// In turns the pin into an input. The chip has pull-ups only; edges are detected by
// polling in WaitForEdge.
func (p *Pin) In(pull gpio.Pull, edge gpio.Edge) error {
	ctx := context.Background()
	if pull == gpio.PullDown {
		return fmt.Errorf("%w: %s has no pull-down", ErrPin, p)
	}
	if err := p.exp.update(ctx, IODIR, p.port, p.bit, true); err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	if pull != gpio.PullNoChange {
		if err := p.exp.update(ctx, GPPU, p.port, p.bit, pull == gpio.PullUp); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	l := p.Read()
	p.mu.Lock()
	p.edge = edge
	p.last = l
	p.mu.Unlock()
	return nil
}

// Read returns Low when the port cannot be read.
func (p *Pin) Read() gpio.Level {
	v, err := p.exp.ReadPort(context.Background(), p.port)
	if err != nil {
		slog.Warn("could not read expander pin", "pin", p.String(), "error", err)
		return gpio.Low
	}
	return gpio.Level(v&(1<<p.bit) != 0)
}

// WaitForEdge polls the pin until it changes in the direction set by In or timeout
// elapses. A negative timeout waits forever.
func (p *Pin) WaitForEdge(timeout time.Duration) bool {
	p.mu.Lock()
	edge := p.edge
	p.mu.Unlock()
	if edge == gpio.NoEdge {
		return false
	}
	var deadline <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	tick := time.NewTicker(EdgePollInterval)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			return false
		case <-tick.C:
		}
		l := p.Read()
		p.mu.Lock()
		prev := p.last
		p.last = l
		p.mu.Unlock()
		if l == prev {
			continue
		}
		switch {
		case edge == gpio.BothEdges,
			edge == gpio.RisingEdge && l == gpio.High,
			edge == gpio.FallingEdge && l == gpio.Low:
			return true
		}
	}
}
