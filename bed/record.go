// Package bed implements the BED record shape used as BigBED's data block
// payload: a genomic interval plus an opaque tab-separated remainder, with
// an optional decoder for the conventional extended BED columns.
package bed

import (
	"strconv"
	"strings"

	"github.com/ucsc-bbi/bbi/internal/bbi"
)

// Record is one BED feature as stored in a BigBED block: the interval plus
// the raw, tab-joined remainder of the line (columns 4 and beyond). Chrom is
// populated on read by looking up ChromIx in the file's dictionary; it is
// not itself stored in the block.
type Record struct {
	Chrom   string
	ChromIx uint32
	Start   uint32
	End     uint32
	Rest    string
}

// Bounds implements bbi.Intervaled.
func (r Record) Bounds() bbi.ChromosomeInterval {
	return bbi.ChromosomeInterval{ChromIx: r.ChromIx, Start: r.Start, End: r.End}
}

// Magnitude implements bbi.Intervaled. BED records carry no value column of
// their own; presence within the interval is weight 1, matching how
// Summarize treats coverage rather than a measured quantity.
func (r Record) Magnitude() float64 { return 1 }

// ExtendedFields unpacks the conventional extra BED columns (name, score,
// strand, thickStart, thickEnd, itemRgb, blockCount, blockSizes,
// blockStarts) from a Rest string. Columns beyond blockStarts are returned
// verbatim in Extra. Any column actually present must parse and validate;
// Rest may be shorter than the full set, in which case only the columns
// present are populated and the rest report zero values.
type ExtendedFields struct {
	Name        string
	Score       uint16
	Strand      byte // '+', '-', or '.'
	ThickStart  uint32
	ThickEnd    uint32
	ItemRGB     string
	BlockCount  int
	BlockSizes  []int
	BlockStarts []int
	Extra       []string
}

// ParseExtendedFields splits rest on tabs and decodes the conventional BED
// columns in order, stopping at whichever column is absent. Score must be
// in [0, 1000] and strand must be one of "+", "-", "." when present;
// violations fail with an Invariant error. blockSizes and blockStarts must
// have length equal to blockCount when blockCount is present.
func ParseExtendedFields(rest string) (ExtendedFields, error) {
	var f ExtendedFields
	if rest == "" {
		return f, nil
	}
	cols := strings.Split(rest, "\t")

	get := func(i int) (string, bool) {
		if i < len(cols) {
			return cols[i], true
		}
		return "", false
	}

	if v, ok := get(0); ok {
		f.Name = v
	}
	if v, ok := get(1); ok {
		score, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return f, bbi.InvariantErrorf("score %q is not an integer", v)
		}
		if score > 1000 {
			return f, bbi.InvariantErrorf("score %d out of range [0, 1000]", score)
		}
		f.Score = uint16(score)
	}
	if v, ok := get(2); ok {
		if v != "+" && v != "-" && v != "." {
			return f, bbi.InvariantErrorf("strand %q not in {+, -, .}", v)
		}
		f.Strand = v[0]
	}
	if v, ok := get(3); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return f, bbi.InvariantErrorf("thickStart %q is not an integer", v)
		}
		f.ThickStart = uint32(n)
	}
	if v, ok := get(4); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return f, bbi.InvariantErrorf("thickEnd %q is not an integer", v)
		}
		f.ThickEnd = uint32(n)
	}
	if v, ok := get(5); ok {
		f.ItemRGB = v
	}
	haveBlockCount := false
	if v, ok := get(6); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, bbi.InvariantErrorf("blockCount %q is not an integer", v)
		}
		f.BlockCount = n
		haveBlockCount = true
	}
	if v, ok := get(7); ok {
		sizes, err := parseIntList(v)
		if err != nil {
			return f, err
		}
		if haveBlockCount && len(sizes) != f.BlockCount {
			return f, bbi.InvariantErrorf("blockSizes has %d entries, want blockCount %d", len(sizes), f.BlockCount)
		}
		f.BlockSizes = sizes
	}
	if v, ok := get(8); ok {
		starts, err := parseIntList(v)
		if err != nil {
			return f, err
		}
		if haveBlockCount && len(starts) != f.BlockCount {
			return f, bbi.InvariantErrorf("blockStarts has %d entries, want blockCount %d", len(starts), f.BlockCount)
		}
		f.BlockStarts = starts
	}
	if len(cols) > 9 {
		f.Extra = cols[9:]
	}
	return f, nil
}

func parseIntList(s string) ([]int, error) {
	s = strings.TrimSuffix(s, ",")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, bbi.InvariantErrorf("block list entry %q is not an integer", p)
		}
		out[i] = n
	}
	return out, nil
}
