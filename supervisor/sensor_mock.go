package supervisor

import "context"

// InitBehaviorFunc is called on every Init of a MockSensor.
type InitBehaviorFunc func(ctx context.Context) error

// ReadBehaviorFunc is called on every Read of a MockSensor.
type ReadBehaviorFunc func(ctx context.Context) ([]Sample, error)

// MockSensor is a Sensor driven by behavior functions. A nil function succeeds.
type MockSensor struct {
	init  InitBehaviorFunc
	read  ReadBehaviorFunc
	inits int
	reads int
}

// NewMockSensor creates a mock sensor.
//
// Example usage:
//
//	// fails twice, then works
//	attempts := 0
//	sensor := NewMockSensor(func(ctx context.Context) error {
//		attempts++
//		if attempts < 3 {
//			return fmt.Errorf("no answer")
//		}
//		return nil
//	}, func(ctx context.Context) ([]Sample, error) {
//		return []Sample{{Feature: "temperature", Value: 21.5}}, nil
//	})
func NewMockSensor(init InitBehaviorFunc, read ReadBehaviorFunc) *MockSensor {
	return &MockSensor{init: init, read: read}
}

func (m *MockSensor) Init(ctx context.Context) error {
	m.inits++
	if m.init == nil {
		return nil
	}
	return m.init(ctx)
}

func (m *MockSensor) Read(ctx context.Context) ([]Sample, error) {
	m.reads++
	if m.read == nil {
		return nil, nil
	}
	return m.read(ctx)
}

// Inits returns how many times Init was called.
func (m *MockSensor) Inits() int {
	return m.inits
}

// Reads returns how many times Read was called.
func (m *MockSensor) Reads() int {
	return m.reads
}
