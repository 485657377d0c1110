package fusion

import (
	"math"
	"sort"

	"github.com/dshills/kwmatch/pkg/types"
)

// DefaultFloor is the lowest effective threshold
const DefaultFloor = 0.20

// Quantile returns the p-quantile of sorted values using linear
// interpolation between closest ranks (Hyndman-Fan type 7). sorted must be
// ascending and non-empty.
func Quantile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	h := float64(len(sorted)-1) * p
	lo := math.Floor(h)
	i := int(lo)
	if i >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}

// AdaptiveThreshold computes the outlier cut-off Q3 - 1.5*IQR over the best
// score of every keyword, never below floor. An empty distribution yields
// the floor.
func AdaptiveThreshold(scores []float64, floor float64) types.ThresholdInfo {
	info := types.ThresholdInfo{Floor: floor, Effective: floor}
	if len(scores) == 0 {
		return info
	}

	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)

	info.Q1 = Quantile(sorted, 0.25)
	info.Q3 = Quantile(sorted, 0.75)
	info.IQR = info.Q3 - info.Q1
	info.Effective = math.Max(info.Q3-1.5*info.IQR, floor)
	return info
}
