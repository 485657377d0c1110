package fusion

import "math"

// Normalizer min-max scales raw BM25 scores observed across a whole job
type Normalizer struct {
	Min  float64
	Max  float64
	seen bool
}

// Observe widens the range to include raw
func (n *Normalizer) Observe(raw float64) {
	if !n.seen {
		n.Min, n.Max, n.seen = raw, raw, true
		return
	}
	n.Min = math.Min(n.Min, raw)
	n.Max = math.Max(n.Max, raw)
}

// Merge widens the range to include another normalizer's
func (n *Normalizer) Merge(o Normalizer) {
	if !o.seen {
		return
	}
	n.Observe(o.Min)
	n.Observe(o.Max)
}

// Empty reports whether nothing was observed
func (n *Normalizer) Empty() bool {
	return !n.seen
}

// Normalize maps raw into [0, 1]. With a degenerate range every positive
// score maps to 1 and everything else to 0.
func (n *Normalizer) Normalize(raw float64) float64 {
	if !n.seen || n.Max == n.Min {
		if raw > 0 {
			return 1
		}
		return 0
	}
	return Clamp((raw - n.Min) / (n.Max - n.Min))
}
