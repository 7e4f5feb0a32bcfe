package hall

import (
	"context"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/mklimuk/bsp"
)

// Unit is the unit speed is reported in.
type Unit uint8

const (
	Hertz Unit = iota
	RadiansPerSecond
	RPM
)

// per-millisecond conversion coefficients, indexed by Unit
var speedCoefficients = [...]float64{
	Hertz:            1000,
	RadiansPerSecond: 6283.2,
	RPM:              60000,
}

func (u Unit) String() string {
	switch u {
	case RadiansPerSecond:
		return "rad/s"
	case RPM:
		return "rpm"
	default:
		return "Hz"
	}
}

// Direction of rotation, as reported by the direction output.
type Direction uint8

const (
	DirectionUndefined Direction = iota
	DirectionLow
	DirectionHigh
)

func (d Direction) String() string {
	switch d {
	case DirectionLow:
		return "low"
	case DirectionHigh:
		return "high"
	default:
		return "undefined"
	}
}

type SpeedStatus uint8

const (
	SpeedUninitialised SpeedStatus = iota
	SpeedInitialised
	SpeedOff
	SpeedOn
)

// PulseTimer measures the time between speed pulses.
type PulseTimer interface {
	Start()
	Stop()
	Elapsed() time.Duration
}

const startupDelay = time.Millisecond

type SpeedConfig struct {
	PolePairs uint8
	Unit      Unit
	MeasMode  MeasMode
	// Power switches the sensor supply. Nil for a permanently powered sensor.
	Power Output
}

// Speed is a TLx4966 double Hall sensor with speed and direction outputs.
type Speed struct {
	speedPin Input
	dirPin   Input
	timer    PulseTimer
	cfg      SpeedConfig

	mu            sync.Mutex
	status        SpeedStatus
	direction     Direction
	speed         float64
	waitingRising bool
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

func NewSpeed(speedPin, dirPin Input, timer PulseTimer, cfg SpeedConfig) *Speed {
	return &Speed{
		speedPin:      speedPin,
		dirPin:        dirPin,
		timer:         timer,
		cfg:           cfg,
		waitingRising: true,
	}
}

// Init checks the configuration and sets up the pins. The speed pin is not used in
// timer mode.
func (s *Speed) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = SpeedUninitialised
	s.direction = DirectionUndefined
	s.speed = 0
	if s.cfg.PolePairs == 0 {
		return fmt.Errorf("%w: pole pairs must be positive", ErrConfig)
	}
	if int(s.cfg.Unit) >= len(speedCoefficients) {
		return fmt.Errorf("%w: unknown unit %d", ErrConfig, s.cfg.Unit)
	}
	if s.dirPin == nil || s.timer == nil || (s.cfg.MeasMode != Timer && s.speedPin == nil) {
		return fmt.Errorf("%w: pin or timer missing", ErrConfig)
	}
	edge := gpio.NoEdge
	if s.cfg.MeasMode == Interrupt {
		edge = gpio.BothEdges
	}
	if err := s.dirPin.In(gpio.PullNoChange, edge); err != nil {
		return fmt.Errorf("%w: direction pin: %v", ErrInterface, err)
	}
	if s.cfg.MeasMode != Timer {
		if s.cfg.MeasMode == Interrupt {
			edge = gpio.RisingEdge
		}
		if err := s.speedPin.In(gpio.PullNoChange, edge); err != nil {
			return fmt.Errorf("%w: speed pin: %v", ErrInterface, err)
		}
	}
	s.status = SpeedInitialised
	return nil
}

// Enable powers the sensor, waits for it to start and starts the pulse timer. In
// interrupt mode both outputs are watched until Disable or ctx is done.
func (s *Speed) Enable(ctx context.Context) error {
	s.mu.Lock()
	if s.status == SpeedUninitialised {
		s.mu.Unlock()
		return fmt.Errorf("%w: not initialised", ErrInterface)
	}
	if s.cfg.Power != nil {
		if err := s.cfg.Power.Out(gpio.High); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("%w: %v", ErrInterface, err)
		}
	}
	s.mu.Unlock()

	if err := bsp.Sleep(ctx, startupDelay); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.MeasMode == Interrupt && s.cancel == nil {
		wctx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			watch(wctx, s.dirPin, s.onDirectionEdge)
		}()
		go func() {
			defer s.wg.Done()
			watch(wctx, s.speedPin, s.onSpeedEdge)
		}()
	}
	s.timer.Start()
	s.status = SpeedOn
	return nil
}

// Disable stops watching, removes the supply and stops the timer.
func (s *Speed) Disable() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		s.wg.Wait()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Power != nil {
		if err := s.cfg.Power.Out(gpio.Low); err != nil {
			return fmt.Errorf("%w: %v", ErrInterface, err)
		}
	}
	s.timer.Stop()
	s.status = SpeedOff
	return nil
}

// Update refreshes speed and direction. In polling mode the speed is computed once per
// rising edge of the speed output; between pulses it decays so a stopped rotor reads
// towards zero.
func (s *Speed) Update() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.MeasMode == Timer {
		s.calculate()
	} else if s.cfg.MeasMode == Polling {
		level := s.speedPin.Read()
		if s.waitingRising && level == gpio.High {
			s.calculate()
			s.restartTimer()
			s.waitingRising = false
		} else if !s.waitingRising && level == gpio.Low {
			s.waitingRising = true
		}
	}
	s.direction = levelToDirection(s.dirPin.Read())
	if v, ok := s.current(); ok && v < s.speed {
		s.speed = v
	}
}

func (s *Speed) Speed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

func (s *Speed) Direction() Direction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direction
}

func (s *Speed) Status() SpeedStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Speed) Unit() Unit {
	return s.cfg.Unit
}

func (s *Speed) onSpeedEdge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speedPin.Read() != gpio.High {
		return
	}
	s.calculate()
	s.restartTimer()
}

func (s *Speed) onDirectionEdge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.direction = levelToDirection(s.dirPin.Read())
}

// current is the speed implied by the time since the last pulse.
func (s *Speed) current() (float64, bool) {
	ms := float64(s.timer.Elapsed()) / float64(time.Millisecond)
	if ms <= 0 {
		return 0, false
	}
	return speedCoefficients[s.cfg.Unit] / (float64(s.cfg.PolePairs) * ms), true
}

func (s *Speed) calculate() {
	if v, ok := s.current(); ok {
		s.speed = v
	}
}

func (s *Speed) restartTimer() {
	s.timer.Stop()
	s.timer.Start()
}

func levelToDirection(l gpio.Level) Direction {
	if l == gpio.Low {
		return DirectionLow
	}
	return DirectionHigh
}

// Stopwatch is a PulseTimer on the monotonic clock.
type Stopwatch struct {
	mu      sync.Mutex
	started time.Time
	stopped time.Duration
	running bool
}

func (w *Stopwatch) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = time.Now()
	w.running = true
}

func (w *Stopwatch) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		w.stopped = time.Since(w.started)
		w.running = false
	}
}

// Elapsed is the time since Start, frozen at Stop.
func (w *Stopwatch) Elapsed() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return time.Since(w.started)
	}
	return w.stopped
}
