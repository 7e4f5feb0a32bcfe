package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		want    Summary
		wantErr error
	}{
		{name: "empty", wantErr: ErrEmpty},
		{name: "single sample", samples: []float64{-3}, want: Summary{Min: -3, Max: -3, Mean: -3, RMS: 3}},
		{
			name:    "window",
			samples: []float64{2, 4, 4, 4, 5, 5, 7, 9},
			want: Summary{
				Min:      2,
				Max:      9,
				Mean:     5,
				RMS:      math.Sqrt(232.0 / 8),
				Variance: 32.0 / 7,
				Std:      math.Sqrt(32.0 / 7),
			},
		},
		{name: "constant", samples: []float64{1013.25, 1013.25, 1013.25}, want: Summary{Min: 1013.25, Max: 1013.25, Mean: 1013.25, RMS: 1013.25}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(tt.samples)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			want, have := tt.want.Values(), got.Values()
			for i := range want {
				assert.InDelta(t, want[i], have[i], 1e-9, "feature %d", i)
			}
		})
	}
}
