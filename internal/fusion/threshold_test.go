package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}

	tests := []struct {
		p, want float64
	}{
		{0, 1},
		{0.25, 1.75},
		{0.5, 2.5},
		{0.75, 3.25},
		{1, 4},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Quantile(sorted, tt.p), 1e-12, "p=%v", tt.p)
	}

	assert.Equal(t, 7.0, Quantile([]float64{7}, 0.25))
}

func TestAdaptiveThreshold(t *testing.T) {
	tests := []struct {
		name      string
		scores    []float64
		floor     float64
		wantQ1    float64
		wantQ3    float64
		effective float64
	}{
		{
			name:      "empty uses floor",
			scores:    nil,
			floor:     0.2,
			effective: 0.2,
		},
		{
			name:      "tight distribution above floor",
			scores:    []float64{0.8, 0.7, 0.75, 0.85},
			floor:     0.2,
			wantQ1:    0.7375,
			wantQ3:    0.8125,
			effective: 0.8125 - 1.5*0.075,
		},
		{
			name:      "wide distribution clamps to floor",
			scores:    []float64{0.1, 0.9, 0.2, 0.8},
			floor:     0.2,
			wantQ1:    0.175,
			wantQ3:    0.825,
			effective: 0.2,
		},
		{
			name:      "equal scores below floor",
			scores:    []float64{0.1, 0.1, 0.1, 0.1, 0.1},
			floor:     0.2,
			wantQ1:    0.1,
			wantQ3:    0.1,
			effective: 0.2,
		},
		{
			name:      "equal scores above floor",
			scores:    []float64{0.45, 0.45, 0.45},
			floor:     0.2,
			wantQ1:    0.45,
			wantQ3:    0.45,
			effective: 0.45,
		},
		{
			name:      "single score",
			scores:    []float64{0.6},
			floor:     0.2,
			wantQ1:    0.6,
			wantQ3:    0.6,
			effective: 0.6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := AdaptiveThreshold(tt.scores, tt.floor)
			assert.InDelta(t, tt.wantQ1, info.Q1, 1e-9)
			assert.InDelta(t, tt.wantQ3, info.Q3, 1e-9)
			assert.InDelta(t, tt.wantQ3-tt.wantQ1, info.IQR, 1e-9)
			assert.Equal(t, tt.floor, info.Floor)
			assert.InDelta(t, tt.effective, info.Effective, 1e-9)
			assert.GreaterOrEqual(t, info.Effective, tt.floor)
		})
	}
}

func TestAdaptiveThreshold_DoesNotMutateInput(t *testing.T) {
	scores := []float64{0.9, 0.1, 0.5}
	AdaptiveThreshold(scores, DefaultFloor)
	assert.Equal(t, []float64{0.9, 0.1, 0.5}, scores)
}
