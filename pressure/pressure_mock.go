package pressure

import "context"

// MeasurementBehaviorFunc defines the function signature for measurement behavior.
type MeasurementBehaviorFunc func(ctx context.Context) (Measurement, error)

// MockPressureSensor produces measurements from a behavior function without any
// hardware. Connect succeeds unless connectErr is set.
type MockPressureSensor struct {
	behavior   MeasurementBehaviorFunc
	connectErr error
	connects   int
}

// NewMockPressureSensor creates a mock sensor.
//
// Example usage:
//
//	sensor := NewMockPressureSensor(func(ctx context.Context) (Measurement, error) {
//		return Measurement{Temperature: 21.5, Pressure: 1013.25}, nil
//	})
func NewMockPressureSensor(behavior MeasurementBehaviorFunc) *MockPressureSensor {
	return &MockPressureSensor{behavior: behavior}
}

// FailConnect makes every subsequent Connect return err.
func (m *MockPressureSensor) FailConnect(err error) {
	m.connectErr = err
}

func (m *MockPressureSensor) Connect(ctx context.Context) error {
	m.connects++
	return m.connectErr
}

// Connects returns how many times Connect was called.
func (m *MockPressureSensor) Connects() int {
	return m.connects
}

func (m *MockPressureSensor) GetData(ctx context.Context) (Measurement, error) {
	return m.behavior(ctx)
}
