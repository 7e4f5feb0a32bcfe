// Package supervisor keeps a set of sensors alive: it initialises them with retries,
// power-cycles the sensor rail when some fail, samples the live ones into windows and
// turns every window into per-feature statistics.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mklimuk/bsp/stats"
)

// AttemptsLimit is the number of failed initialisations after which a sensor is
// switched off for good.
const AttemptsLimit = 3

var (
	ErrSensorsReset = errors.New("supervisor: sensors reset after read failures")
	ErrDuplicate    = errors.New("supervisor: duplicate sensor name")
)

// Sample is one reading of a named quantity (feature) of a sensor.
type Sample struct {
	Feature string
	Value   float64
}

type Sensor interface {
	Init(ctx context.Context) error
	Read(ctx context.Context) ([]Sample, error)
}

// Restorer power-cycles the sensors. It runs at most once per initialisation round.
type Restorer func(ctx context.Context) error

// Entry is the bookkeeping of one sensor.
type Entry struct {
	Name   string
	Sensor Sensor `yaml:"-"`
	On     bool
	Inited bool
	Errors int
}

// Report is the outcome of one sampling window.
type Report struct {
	Name   string
	On     bool
	Errors int
	Stats  map[string]stats.Summary
}

// Sink receives the reports of every window.
type Sink func(ctx context.Context, reports []Report) error

type Option func(*Supervisor)

func WithRestore(r Restorer) Option {
	return func(s *Supervisor) {
		s.restore = r
	}
}

func WithAttemptsLimit(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.limit = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		s.log = l
	}
}

type Supervisor struct {
	mu      sync.Mutex
	entries []*Entry
	windows []map[string][]float64
	ticks   int
	restore Restorer
	limit   int
	log     *slog.Logger
}

func New(opts ...Option) *Supervisor {
	s := &Supervisor{limit: AttemptsLimit, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a sensor. Sensors start switched on and uninitialised.
func (s *Supervisor) Add(name string, sensor Sensor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Name == name {
			return fmt.Errorf("%w: %s", ErrDuplicate, name)
		}
	}
	s.entries = append(s.entries, &Entry{Name: name, Sensor: sensor, On: true})
	s.windows = append(s.windows, map[string][]float64{})
	return nil
}

// Entries returns a snapshot of the bookkeeping.
func (s *Supervisor) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		res[i] = *e
	}
	return res
}

func (s *Supervisor) pending() int {
	n := 0
	for _, e := range s.entries {
		if e.On && !e.Inited {
			n++
		}
	}
	return n
}

// InitAll initialises every sensor that is on and not yet initialised, round after round,
// until none is pending. A failing sensor gets the rail power-cycled and another try;
// after AttemptsLimit failures it is switched off.
func (s *Supervisor) InitAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.pending() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, e := range s.entries {
			if !e.On || e.Inited {
				continue
			}
			if err := e.Sensor.Init(ctx); err != nil {
				e.Errors++
				s.log.Debug("sensor init failed", "sensor", e.Name, "attempt", e.Errors, "error", err)
				continue
			}
			e.Inited = true
			e.Errors = 0
			s.log.Info("sensor initialised", "sensor", e.Name)
		}
		restore := false
		for _, e := range s.entries {
			if !e.On || e.Inited {
				continue
			}
			if e.Errors < s.limit {
				restore = true
				continue
			}
			e.On = false
			e.Errors = 0
			s.log.Warn("sensor switched off", "sensor", e.Name, "attempts", s.limit)
		}
		if restore && s.restore != nil {
			if err := s.restore(ctx); err != nil {
				return fmt.Errorf("could not restore sensors: %w", err)
			}
		}
	}
	return nil
}

// Sample reads every live sensor once. Read failures are counted against the sensor.
func (s *Supervisor) Sample(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
	for i, e := range s.entries {
		if !e.On || !e.Inited {
			continue
		}
		samples, err := e.Sensor.Read(ctx)
		if err != nil {
			e.Errors++
			s.log.Debug("sensor read failed", "sensor", e.Name, "error", err)
			continue
		}
		for _, sm := range samples {
			s.windows[i][sm.Feature] = append(s.windows[i][sm.Feature], sm.Value)
		}
	}
}

// CheckReadErrors ends the error window: it resets the sensors that failed too many
// reads, a third of the samples taken or a single one in a short window, and clears the
// counters. Reset sensors are initialised again by the next InitAll after the rail is
// restored. Returns ErrSensorsReset when at least one sensor was reset.
func (s *Supervisor) CheckReadErrors(ctx context.Context) error {
	s.mu.Lock()
	ref := 1
	if s.ticks > AttemptsLimit {
		ref = s.ticks / 3
	}
	var reset []string
	for _, e := range s.entries {
		if !e.On || !e.Inited {
			continue
		}
		if e.Errors >= ref {
			e.Inited = false
			reset = append(reset, e.Name)
		}
		e.Errors = 0
	}
	s.ticks = 0
	restore := s.restore
	s.mu.Unlock()

	if len(reset) == 0 {
		return nil
	}
	s.log.Warn("sensors reset after read failures", "sensors", reset)
	if restore != nil {
		if err := restore(ctx); err != nil {
			return fmt.Errorf("could not restore sensors: %w", err)
		}
	}
	return fmt.Errorf("%w: %v", ErrSensorsReset, reset)
}

// Flush computes the statistics of the current window and starts a new one. Report.Errors
// holds the read failures counted since the last CheckReadErrors.
func (s *Supervisor) Flush() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	reports := make([]Report, len(s.entries))
	for i, e := range s.entries {
		r := Report{Name: e.Name, On: e.On && e.Inited, Errors: e.Errors}
		if r.On {
			r.Stats = make(map[string]stats.Summary, len(s.windows[i]))
			for feature, values := range s.windows[i] {
				sum, err := stats.Compute(values)
				if err != nil {
					continue
				}
				r.Stats[feature] = sum
			}
		}
		reports[i] = r
		s.windows[i] = map[string][]float64{}
	}
	return reports
}

// Run initialises the sensors, then samples them every interval. After window samples
// the failing sensors are reset and re-initialised and the window's reports go to sink.
// Run returns when ctx is done.
func (s *Supervisor) Run(ctx context.Context, interval time.Duration, window int, sink Sink) error {
	if window <= 0 {
		return fmt.Errorf("invalid window size %d", window)
	}
	if err := s.InitAll(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	n := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		s.Sample(ctx)
		if n++; n < window {
			continue
		}
		n = 0
		reports := s.Flush()
		if err := s.CheckReadErrors(ctx); err != nil {
			s.log.Warn("read error check failed", "error", err)
		}
		if sink != nil {
			if err := sink(ctx, reports); err != nil {
				s.log.Error("could not deliver sensor reports", "error", err)
			}
		}
		if err := s.InitAll(ctx); err != nil {
			return err
		}
	}
}
