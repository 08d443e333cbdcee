package bbi

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// BigSummary is the whole-file (or whole-bin) aggregate (count, min, max,
// sum, sumSquares), stored as 40 bytes on disk: count u64, then four f64
// fields. It forms a monoid under Merge with identity EmptySummary.
type BigSummary struct {
	Count      uint64
	Min        float64
	Max        float64
	Sum        float64
	SumSquares float64
}

// EmptySummary is the monoid identity: (0, +Inf, -Inf, 0, 0). Merging it
// with any summary yields that summary unchanged.
var EmptySummary = BigSummary{
	Count: 0,
	Min:   math.Inf(1),
	Max:   math.Inf(-1),
}

// IsEmpty reports whether s is the identity summary (Count == 0).
func (s BigSummary) IsEmpty() bool { return s.Count == 0 }

// Merge combines s and o under the BigSummary monoid: componentwise sum of
// count/sum/sumSquares, min of mins, max of maxes. Either operand being
// empty short-circuits to the other.
func (s BigSummary) Merge(o BigSummary) BigSummary {
	if s.IsEmpty() {
		return o
	}
	if o.IsEmpty() {
		return s
	}
	return BigSummary{
		Count:      s.Count + o.Count,
		Min:        floats.Min([]float64{s.Min, o.Min}),
		Max:        floats.Max([]float64{s.Max, o.Max}),
		Sum:        s.Sum + o.Sum,
		SumSquares: s.SumSquares + o.SumSquares,
	}
}

// MergeAll folds a slice of summaries through the monoid, starting from
// EmptySummary.
func MergeAll(summaries []BigSummary) BigSummary {
	out := EmptySummary
	for _, s := range summaries {
		out = out.Merge(s)
	}
	return out
}

// Mean returns Sum/Count, or 0 for an empty summary.
func (s BigSummary) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// Variance returns the population variance E[X^2] - E[X]^2 derived from Sum
// and SumSquares, or 0 for an empty summary. Negative rounding error near
// zero is clamped to zero.
func (s BigSummary) Variance() float64 {
	if s.Count == 0 {
		return 0
	}
	n := float64(s.Count)
	mean := s.Sum / n
	v := s.SumSquares/n - mean*mean
	if v < 0 {
		v = 0
	}
	return v
}

// ZoomData is one pre-reduced bin at a given zoom level: fixed 32 bytes on
// disk, narrowed to float32 for UCSC compatibility. Callers reading many
// zoom records should expect catastrophic cancellation for very large sums;
// this package does not attempt to correct for it.
type ZoomData struct {
	ChromIx    uint32
	Start      uint32
	End        uint32
	Count      uint32
	Min        float32
	Max        float32
	Sum        float32
	SumSquares float32
}

// Summary widens z to a BigSummary for use with the shared monoid.
func (z ZoomData) Summary() BigSummary {
	return BigSummary{
		Count:      uint64(z.Count),
		Min:        float64(z.Min),
		Max:        float64(z.Max),
		Sum:        float64(z.Sum),
		SumSquares: float64(z.SumSquares),
	}
}

// zoomDataBytes is the fixed on-disk size of one ZoomData record.
const zoomDataBytes = 32

// bigSummaryBytes is the fixed on-disk size of the total-summary slot.
const bigSummaryBytes = 40
