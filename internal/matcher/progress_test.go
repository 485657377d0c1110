package matcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/kwmatch/pkg/types"
)

func TestStepWeightsSumToOne(t *testing.T) {
	var sum float64
	for _, w := range stepWeights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestTracker(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	var got []Progress
	tr := newTracker(func(p Progress) { got = append(got, p) }, time.Second, clock)

	tr.begin(types.StepLoad)
	tr.begin(types.StepChunk)
	tr.begin(types.StepEmbed)
	require.Len(t, got, 3, "step transitions are never throttled")
	assert.InDelta(t, 0.05, got[2].Fraction, 1e-9)

	tr.update(1, 4)
	assert.Len(t, got, 3, "within the interval")

	now = now.Add(2 * time.Second)
	tr.update(2, 4)
	require.Len(t, got, 4)
	assert.InDelta(t, 0.05+0.30*0.5, got[3].Fraction, 1e-9)
	assert.Equal(t, types.StepEmbed, got[3].Step)

	tr.update(4, 4)
	require.Len(t, got, 5, "completing a step is never throttled")
	assert.InDelta(t, 0.35, got[4].Fraction, 1e-9)

	tr.update(0, 0)
	assert.Len(t, got, 5)
}

func TestTracker_Monotonic(t *testing.T) {
	var got []float64
	tr := newTracker(func(p Progress) { got = append(got, p.Fraction) }, 0, time.Now)

	tr.begin(types.StepScore)
	tr.update(3, 4)
	tr.update(1, 4) // batches may finish out of order

	require.Len(t, got, 3)
	assert.Equal(t, got[1], got[2])
}

func TestTracker_NilFunc(t *testing.T) {
	tr := newTracker(nil, 0, time.Now)
	assert.NotPanics(t, func() {
		tr.begin(types.StepLoad)
		tr.update(1, 1)
	})
}
