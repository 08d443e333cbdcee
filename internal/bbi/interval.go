package bbi

import "math"

// ChromosomeInterval is a half-open range [Start, End) on a single
// chromosome identified by a small integer. The invariant Start < End is
// enforced by constructors that accept user input; callers within this
// package that already know the bound holds may build one directly.
type ChromosomeInterval struct {
	ChromIx uint32
	Start   uint32
	End     uint32
}

// NewChromosomeInterval validates Start < End.
func NewChromosomeInterval(chromIx, start, end uint32) (ChromosomeInterval, error) {
	if start >= end {
		return ChromosomeInterval{}, invariantErrf("empty or negative-length interval [%d, %d)", start, end)
	}
	return ChromosomeInterval{ChromIx: chromIx, Start: start, End: end}, nil
}

// Length returns End - Start.
func (c ChromosomeInterval) Length() uint32 { return c.End - c.Start }

// Intersects reports whether c and o overlap. Both must be on the same
// chromosome to possibly overlap; this is O(1).
func (c ChromosomeInterval) Intersects(o ChromosomeInterval) bool {
	if c.ChromIx != o.ChromIx {
		return false
	}
	return c.Start < o.End && o.Start < c.End
}

// Contains reports whether o lies entirely within c.
func (c ChromosomeInterval) Contains(o ChromosomeInterval) bool {
	if c.ChromIx != o.ChromIx {
		return false
	}
	return o.Start >= c.Start && o.End <= c.End
}

// Intersection returns the overlap of c and o on the same chromosome. ok is
// false when they are disjoint or on different chromosomes.
func (c ChromosomeInterval) Intersection(o ChromosomeInterval) (result ChromosomeInterval, ok bool) {
	if !c.Intersects(o) {
		return ChromosomeInterval{}, false
	}
	start := c.Start
	if o.Start > start {
		start = o.Start
	}
	end := c.End
	if o.End < end {
		end = o.End
	}
	return ChromosomeInterval{ChromIx: c.ChromIx, Start: start, End: end}, true
}

// MultiInterval is a bounding box spanning a starting and an ending
// chromosome, used only for R+-tree bounding boxes that straddle a
// chromosome boundary: it represents "from (StartChromIx, StartBase) to
// (EndChromIx, EndBase)" inclusive of every chromosome in between, not a
// set of two disjoint intervals.
type MultiInterval struct {
	StartChromIx uint32
	StartBase    uint32
	EndChromIx   uint32
	EndBase      uint32
}

// AsMulti widens a ChromosomeInterval into the degenerate single-chromosome
// case of MultiInterval.
func (c ChromosomeInterval) AsMulti() MultiInterval {
	return MultiInterval{StartChromIx: c.ChromIx, StartBase: c.Start, EndChromIx: c.ChromIx, EndBase: c.End}
}

// Union returns the bounding MultiInterval covering both m and o.
func (m MultiInterval) Union(o MultiInterval) MultiInterval {
	out := m
	if less(o.StartChromIx, o.StartBase, m.StartChromIx, m.StartBase) {
		out.StartChromIx, out.StartBase = o.StartChromIx, o.StartBase
	}
	if less(m.EndChromIx, m.EndBase, o.EndChromIx, o.EndBase) {
		out.EndChromIx, out.EndBase = o.EndChromIx, o.EndBase
	}
	return out
}

// Intersects reports whether the bounding boxes m and o overlap, using
// lexicographic (chromIx, base) ordering of the box endpoints.
func (m MultiInterval) Intersects(o MultiInterval) bool {
	// m starts before or at o's end, and o starts before or at m's end.
	return !less(o.EndChromIx, o.EndBase, m.StartChromIx, m.StartBase) &&
		!less(m.EndChromIx, m.EndBase, o.StartChromIx, o.StartBase)
}

// less compares (chromA, baseA) < (chromB, baseB) lexicographically.
func less(chromA, baseA, chromB, baseB uint32) bool {
	if chromA != chromB {
		return chromA < chromB
	}
	return baseA < baseB
}

// Union returns the bounding MultiInterval of c and o. When both are on the
// same chromosome the result has StartChromIx == EndChromIx.
func (c ChromosomeInterval) Union(o ChromosomeInterval) MultiInterval {
	return c.AsMulti().Union(o.AsMulti())
}

// Slice partitions c into n disjoint sub-intervals of near-equal width that
// are pairwise disjoint and whose union is c. The i-th sub-interval is
// [Start + round(i*w), min(End, Start + round((i+1)*w))) with w =
// Length()/n computed in floating point. When Length() is a multiple of n,
// widths are exactly equal.
func (c ChromosomeInterval) Slice(n int) ([]ChromosomeInterval, error) {
	if n <= 0 {
		return nil, invariantErrf("slice count must be positive, got %d", n)
	}
	length := c.Length()
	if uint32(n) > length {
		return nil, invariantErrf("cannot slice interval of length %d into %d bins", length, n)
	}
	out := make([]ChromosomeInterval, n)
	w := float64(length) / float64(n)
	if length%uint32(n) == 0 {
		// Exact case: guarantee equal widths without floating point drift.
		step := length / uint32(n)
		for i := 0; i < n; i++ {
			out[i] = ChromosomeInterval{
				ChromIx: c.ChromIx,
				Start:   c.Start + uint32(i)*step,
				End:     c.Start + uint32(i+1)*step,
			}
		}
		return out, nil
	}
	prevEnd := c.Start
	for i := 0; i < n; i++ {
		start := prevEnd
		var end uint32
		if i == n-1 {
			end = c.End
		} else {
			end = c.Start + uint32(math.Round(float64(i+1)*w))
			if end > c.End {
				end = c.End
			}
			if end < start {
				end = start
			}
		}
		out[i] = ChromosomeInterval{ChromIx: c.ChromIx, Start: start, End: end}
		prevEnd = end
	}
	return out, nil
}
