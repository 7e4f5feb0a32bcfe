// Package stats summarises a window of sensor samples.
package stats

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var ErrEmpty = errors.New("stats: empty sample window")

// Summary holds the features reported for every sampled quantity. Variance and Std
// are sample estimates (N-1 denominator); a single sample has zero spread.
type Summary struct {
	Min      float64 `json:"min" yaml:"min"`
	Max      float64 `json:"max" yaml:"max"`
	Mean     float64 `json:"mean" yaml:"mean"`
	RMS      float64 `json:"rms" yaml:"rms"`
	Std      float64 `json:"std" yaml:"std"`
	Variance float64 `json:"var" yaml:"var"`
}

// Values returns the features in report order: min, max, mean, rms, std, var.
func (s Summary) Values() []float64 {
	return []float64{s.Min, s.Max, s.Mean, s.RMS, s.Std, s.Variance}
}

func Compute(samples []float64) (Summary, error) {
	n := len(samples)
	if n == 0 {
		return Summary{}, ErrEmpty
	}
	s := Summary{
		Min: floats.Min(samples),
		Max: floats.Max(samples),
		RMS: floats.Norm(samples, 2) / math.Sqrt(float64(n)),
	}
	if n == 1 {
		s.Mean = samples[0]
		return s, nil
	}
	s.Mean, s.Variance = stat.MeanVariance(samples, nil)
	s.Std = math.Sqrt(s.Variance)
	return s, nil
}
