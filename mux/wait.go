package mux

import (
	"context"
	"time"
)

// Wait polls busy every poll interval until it reports false. It returns ErrTimeout when
// timeout elapses first and the context error when ctx is done. A timeout of Forever
// waits for ctx only.
func Wait(ctx context.Context, timeout, poll time.Duration, busy func() bool) error {
	if !busy() {
		return nil
	}
	if poll <= 0 {
		poll = defaultPollInterval
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return ErrTimeout
		}
		if !busy() {
			return nil
		}
	}
}
