package hall

import (
	"context"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
)

// Variant is the switch part number. All variants share the same interface.
type Variant uint8

const (
	TLE4964_3M Variant = iota
	TLE4961_3K
	TLE4913
	TLE4961_1K
)

var variantNames = [...]string{"TLE4964-3M", "TLE4961-3K", "TLE4913", "TLE4961-1K"}

func (v Variant) String() string {
	if int(v) < len(variantNames) {
		return variantNames[v]
	}
	return "unknown"
}

type Status uint8

const (
	Uninitialised Status = iota
	Initialised
	PowerOn
	PowerOff
)

func (s Status) String() string {
	switch s {
	case Initialised:
		return "initialised"
	case PowerOn:
		return "on"
	case PowerOff:
		return "off"
	default:
		return "uninitialised"
	}
}

// Field is the switch state. The output is pulled low while the field is present.
type Field uint8

const (
	FieldUndefined Field = iota
	FieldOn
	FieldOff
)

func (f Field) String() string {
	switch f {
	case FieldOn:
		return "on"
	case FieldOff:
		return "off"
	default:
		return "undefined"
	}
}

type SwitchOption func(*Switch)

// WithSwitchPower makes the host switch the sensor supply through pin.
func WithSwitchPower(pin Output) SwitchOption {
	return func(s *Switch) {
		s.power = pin
		s.powerMode = PowerSwitch
	}
}

// WithInterrupt watches the output for edges after Enable. cb, if not nil, receives
// the new state after every edge.
func WithInterrupt(cb func(Field)) SwitchOption {
	return func(s *Switch) {
		s.measMode = Interrupt
		s.onChange = cb
	}
}

func WithVariant(v Variant) SwitchOption {
	return func(s *Switch) {
		s.variant = v
	}
}

type Switch struct {
	input     Input
	power     Output
	variant   Variant
	powerMode PowerMode
	measMode  MeasMode
	onChange  func(Field)

	mu     sync.Mutex
	status Status
	field  Field
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSwitch creates a polled, permanently powered switch on input unless options say
// otherwise.
func NewSwitch(input Input, opts ...SwitchOption) *Switch {
	s := &Switch{input: input}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Switch) Variant() Variant {
	return s.variant
}

// Init checks the configuration and sets up the pins.
func (s *Switch) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = Uninitialised
	s.field = FieldUndefined
	if s.measMode == Timer {
		return fmt.Errorf("%w: timer mode not supported by %s", ErrConfig, s.variant)
	}
	if s.powerMode == PowerSwitch && s.power == nil {
		return fmt.Errorf("%w: power pin missing", ErrConfig)
	}
	if s.input == nil {
		return fmt.Errorf("%w: input pin missing", ErrConfig)
	}
	edge := gpio.NoEdge
	if s.measMode == Interrupt {
		edge = gpio.BothEdges
	}
	if err := s.input.In(gpio.PullNoChange, edge); err != nil {
		return fmt.Errorf("%w: %v", ErrInterface, err)
	}
	s.status = Initialised
	return nil
}

// Enable powers the sensor and, in interrupt mode, starts watching its output until
// Disable is called or ctx is done.
func (s *Switch) Enable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == Uninitialised {
		return fmt.Errorf("%w: not initialised", ErrInterface)
	}
	if s.powerMode == PowerSwitch {
		if err := s.power.Out(gpio.High); err != nil {
			return fmt.Errorf("%w: %v", ErrInterface, err)
		}
	}
	if s.measMode == Interrupt && s.cancel == nil {
		wctx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.done = make(chan struct{})
		go func(done chan struct{}) {
			defer close(done)
			watch(wctx, s.input, s.onEdge)
		}(s.done)
	}
	s.status = PowerOn
	return nil
}

// Disable stops watching and removes the sensor supply.
func (s *Switch) Disable() error {
	s.mu.Lock()
	if s.status == Uninitialised {
		s.mu.Unlock()
		return fmt.Errorf("%w: not initialised", ErrInterface)
	}
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.powerMode == PowerSwitch {
		if err := s.power.Out(gpio.Low); err != nil {
			return fmt.Errorf("%w: %v", ErrInterface, err)
		}
	}
	s.status = PowerOff
	return nil
}

// Close disables the sensor and forgets its state.
func (s *Switch) Close() error {
	err := s.Disable()
	s.mu.Lock()
	s.status = Uninitialised
	s.field = FieldUndefined
	s.mu.Unlock()
	return err
}

// Update samples the output.
func (s *Switch) Update() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == Uninitialised {
		return fmt.Errorf("%w: not initialised", ErrInterface)
	}
	s.field = levelToField(s.input.Read())
	return nil
}

func (s *Switch) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Field returns the last sampled state.
func (s *Switch) Field() Field {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == Uninitialised {
		return FieldUndefined
	}
	return s.field
}

func (s *Switch) onEdge() {
	s.mu.Lock()
	// the level after the edge tells its direction: falling means field on
	s.field = levelToField(s.input.Read())
	f, cb := s.field, s.onChange
	s.mu.Unlock()
	if cb != nil {
		cb(f)
	}
}

func levelToField(l gpio.Level) Field {
	if l == gpio.Low {
		return FieldOn
	}
	return FieldOff
}
