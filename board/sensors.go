package board

import (
	"context"
	"errors"

	"github.com/mklimuk/bsp/hall"
	"github.com/mklimuk/bsp/magnetic"
	"github.com/mklimuk/bsp/pressure"
	"github.com/mklimuk/bsp/supervisor"
)

// Features reported by the board sensors.
const (
	FeatureTemperature = "temperature"
	FeaturePressure    = "pressure"
	FeatureX           = "x"
	FeatureY           = "y"
	FeatureZ           = "z"
	FeatureField       = "field"
	FeatureSpeed       = "speed"
	FeatureDirection   = "direction"
)

var (
	_ supervisor.Sensor = &PressureSensor{}
	_ supervisor.Sensor = &MagneticSensor{}
	_ supervisor.Sensor = &SwitchSensor{}
	_ supervisor.Sensor = &SpeedSensor{}
)

type PressureSensor struct {
	Sensor pressure.Sensor
}

func (s *PressureSensor) Init(ctx context.Context) error {
	return s.Sensor.Connect(ctx)
}

func (s *PressureSensor) Read(ctx context.Context) ([]supervisor.Sample, error) {
	m, err := s.Sensor.GetData(ctx)
	if err != nil {
		return nil, err
	}
	return []supervisor.Sample{
		{Feature: FeatureTemperature, Value: float64(m.Temperature)},
		{Feature: FeaturePressure, Value: float64(m.Pressure)},
	}, nil
}

// MagneticSensor samples a TLV493D in low-power mode, which delivers full resolution
// results and the temperature.
type MagneticSensor struct {
	Sensor *magnetic.TLV493D
}

func (s *MagneticSensor) Init(ctx context.Context) error {
	if err := s.Sensor.Init(ctx); err != nil {
		return err
	}
	if err := s.Sensor.SetAccessMode(ctx, magnetic.LowPower); err != nil {
		return err
	}
	return s.Sensor.EnableTemperature(ctx)
}

func (s *MagneticSensor) Read(ctx context.Context) ([]supervisor.Sample, error) {
	err := s.Sensor.Update(ctx)
	// a frame mismatch still leaves consistent axis values
	if err != nil && !errors.Is(err, magnetic.ErrFrame) {
		return nil, err
	}
	return []supervisor.Sample{
		{Feature: FeatureX, Value: float64(s.Sensor.X())},
		{Feature: FeatureY, Value: float64(s.Sensor.Y())},
		{Feature: FeatureZ, Value: float64(s.Sensor.Z())},
		{Feature: FeatureTemperature, Value: float64(s.Sensor.Temperature())},
	}, nil
}

// SwitchSensor reports the field as 1 (on) or 0 (off).
type SwitchSensor struct {
	Sensor *hall.Switch
}

func (s *SwitchSensor) Init(ctx context.Context) error {
	if err := s.Sensor.Init(); err != nil {
		return err
	}
	return s.Sensor.Enable(ctx)
}

func (s *SwitchSensor) Read(ctx context.Context) ([]supervisor.Sample, error) {
	if err := s.Sensor.Update(); err != nil {
		return nil, err
	}
	v := 0.0
	if s.Sensor.Field() == hall.FieldOn {
		v = 1
	}
	return []supervisor.Sample{{Feature: FeatureField, Value: v}}, nil
}

// SpeedSensor reports the speed in the configured unit and the direction as its
// numeric code.
type SpeedSensor struct {
	Sensor *hall.Speed
}

func (s *SpeedSensor) Init(ctx context.Context) error {
	if err := s.Sensor.Init(); err != nil {
		return err
	}
	return s.Sensor.Enable(ctx)
}

func (s *SpeedSensor) Read(ctx context.Context) ([]supervisor.Sample, error) {
	s.Sensor.Update()
	return []supervisor.Sample{
		{Feature: FeatureSpeed, Value: s.Sensor.Speed()},
		{Feature: FeatureDirection, Value: float64(s.Sensor.Direction())},
	}, nil
}
