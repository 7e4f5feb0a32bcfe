package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/mklimuk/bsp/supervisor"
)

// Publisher delivers sensor reports somewhere.
type Publisher interface {
	Publish(ctx context.Context, reports []supervisor.Report) error
	Close() error
}

// Sink adapts p to the supervisor loop.
func Sink(p Publisher) supervisor.Sink {
	return p.Publish
}

var _ Publisher = &WriterPublisher{}

// WriterPublisher writes every report document as a line of JSON.
type WriterPublisher struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterPublisher(w io.Writer) *WriterPublisher {
	return &WriterPublisher{w: w}
}

func (p *WriterPublisher) Publish(ctx context.Context, reports []supervisor.Report) error {
	payload, err := Encode(reports)
	if err != nil {
		return fmt.Errorf("could not encode reports: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.w.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("could not write reports: %w", err)
	}
	slog.Debug("reports written", "sensors", len(reports), "bytes", len(payload))
	return nil
}

func (p *WriterPublisher) Close() error {
	if c, ok := p.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Multi publishes every report set to all of its publishers, in order. A failing
// publisher does not stop the others.
type Multi []Publisher

var _ Publisher = Multi{}

func (m Multi) Publish(ctx context.Context, reports []supervisor.Report) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, reports); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
