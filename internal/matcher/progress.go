package matcher

import (
	"runtime"
	"sync"
	"time"

	"github.com/dshills/kwmatch/pkg/types"
)

// stepWeights are the shares of overall progress; they sum to 1.
var stepWeights = map[types.Step]float64{
	types.StepLoad:            0.02,
	types.StepChunk:           0.03,
	types.StepEmbed:           0.30,
	types.StepVectorIndex:     0.10,
	types.StepLexicalIndex:    0.05,
	types.StepScore:           0.45,
	types.StepFinalize:        0.04,
	types.StepCannibalization: 0.01,
}

// Progress is a pipeline progress report
type Progress struct {
	Step           types.Step
	Fraction       float64 // Overall, 0..1
	MemoryEstimate uint64  // Heap bytes sampled when Step began
}

// ProgressFunc receives progress reports. Calls are serialized and
// Fraction never decreases.
type ProgressFunc func(Progress)

// tracker turns per-step unit counts into overall progress. Step
// transitions are always reported; updates within a step are throttled to
// one per interval, except the one completing the step.
type tracker struct {
	fn       ProgressFunc
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	step     types.Step
	base     float64 // Weight of finished steps
	fraction float64
	memory   uint64
	last     time.Time
}

func newTracker(fn ProgressFunc, interval time.Duration, now func() time.Time) *tracker {
	return &tracker{fn: fn, interval: interval, now: now}
}

// begin closes the current step and starts the next one
func (t *tracker) begin(step types.Step) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.step != types.StepNone {
		t.base += stepWeights[t.step]
	}
	t.step = step
	t.memory = heapInUse()
	t.emit(0)
}

// update reports done of total units of the current step
func (t *tracker) update(done, total int) {
	if total <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if done < total && t.now().Sub(t.last) < t.interval {
		return
	}
	t.emit(float64(done) / float64(total))
}

func (t *tracker) emit(stepFraction float64) {
	f := t.base + stepWeights[t.step]*stepFraction
	if f > 1 {
		f = 1
	}
	if f < t.fraction {
		f = t.fraction
	}
	t.fraction = f
	t.last = t.now()

	if t.fn != nil {
		t.fn(Progress{Step: t.step, Fraction: f, MemoryEstimate: t.memory})
	}
}

func heapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}
