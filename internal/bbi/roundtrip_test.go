package bbi

import (
	"encoding/binary"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// testMagic is an arbitrary 4-byte tag used only by this test's fake format;
// the generic engine does not care which of the two real BBI magics (or
// neither) it is given.
const testMagic uint32 = 0xC0FFEE01

// testRecord is the smallest possible Intervaled implementation: a single
// half-open interval carrying one float64 value.
type testRecord struct {
	c    uint32
	s, e uint32
	v    float64
}

func (r testRecord) Bounds() ChromosomeInterval {
	return ChromosomeInterval{ChromIx: r.c, Start: r.s, End: r.e}
}
func (r testRecord) Magnitude() float64 { return r.v }

type testCodec struct{}

func (testCodec) EncodeBlock(chromIx uint32, records []Intervaled, order binary.ByteOrder) ([]byte, error) {
	buf := make([]byte, 0, len(records)*16)
	put32 := func(v uint32) {
		var b [4]byte
		order.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	for _, rec := range records {
		r := rec.(testRecord)
		put32(r.s)
		put32(r.e)
		var fb [8]byte
		order.PutUint64(fb[:], math64Bits(r.v))
		buf = append(buf, fb[:]...)
	}
	return buf, nil
}

func (testCodec) DecodeBlock(buf []byte, order binary.ByteOrder, chromIx uint32) ([]Intervaled, error) {
	const recSize = 16
	if len(buf)%recSize != 0 {
		return nil, formatErrf("truncated test block: %d bytes", len(buf))
	}
	out := make([]Intervaled, 0, len(buf)/recSize)
	for pos := 0; pos < len(buf); pos += recSize {
		start := order.Uint32(buf[pos:])
		end := order.Uint32(buf[pos+4:])
		v := math64FromBits(order.Uint64(buf[pos+8:]))
		out = append(out, testRecord{c: chromIx, s: start, e: end, v: v})
	}
	return out, nil
}

type testSource struct {
	chroms []ChromEntry
	blocks map[uint32][][]Intervaled
}

func (s *testSource) Chroms() []ChromEntry { return s.chroms }
func (s *testSource) Blocks(chromIx uint32) [][]Intervaled {
	return s.blocks[chromIx]
}

// buildTestSource lays out records (already grouped by chromosome) into
// blocks of at most itemsPerBlock, the way a real format package's
// grouping step would.
func buildTestSource(chroms []ChromEntry, byChrom map[uint32][]testRecord, itemsPerBlock int) *testSource {
	blocks := make(map[uint32][][]Intervaled)
	for chromIx, recs := range byChrom {
		var cur []Intervaled
		for _, r := range recs {
			cur = append(cur, r)
			if len(cur) >= itemsPerBlock {
				blocks[chromIx] = append(blocks[chromIx], cur)
				cur = nil
			}
		}
		if len(cur) > 0 {
			blocks[chromIx] = append(blocks[chromIx], cur)
		}
	}
	return &testSource{chroms: chroms, blocks: blocks}
}

func TestWriteFileRoundTrip(t *testing.T) {
	chroms := []ChromEntry{
		{Name: "chrA", ID: 0, Length: 1000},
		{Name: "chrB", ID: 1, Length: 500},
	}
	byChrom := map[uint32][]testRecord{
		0: {
			{c: 0, s: 0, e: 100, v: 1},
			{c: 0, s: 100, e: 200, v: 2},
			{c: 0, s: 200, e: 300, v: 3},
			{c: 0, s: 500, e: 600, v: 4},
		},
		1: {
			{c: 1, s: 0, e: 50, v: 10},
			{c: 1, s: 50, e: 100, v: 20},
		},
	}
	src := buildTestSource(chroms, byChrom, 2)

	for _, comp := range []Compression{CompressionNone, CompressionDeflate, CompressionSnappy} {
		buf := &seekBuf{}
		version := uint16(3)
		switch comp {
		case CompressionDeflate:
			version = 4
		case CompressionSnappy:
			version = 5
		}
		opts := WriteOptions{
			Order:             binary.LittleEndian,
			Version:           version,
			Compression:       comp,
			TreeBlockSize:     4,
			ZoomReductions:    []uint32{50, 200},
			ZoomItemsPerBlock: 4,
		}
		if err := WriteFile(buf, testMagic, src, testCodec{}, opts); err != nil {
			t.Fatalf("compression=%v WriteFile: %v", comp, err)
		}

		c, err := Open(buf, testMagic, testCodec{})
		if err != nil {
			t.Fatalf("compression=%v Open: %v", comp, err)
		}

		gotChroms := c.Chromosomes()
		wantChroms := []ChromEntry{
			{Name: "chrA", ID: 0, Length: 1000},
			{Name: "chrB", ID: 1, Length: 500},
		}
		sort.Slice(wantChroms, func(i, j int) bool { return wantChroms[i].Name < wantChroms[j].Name })
		if diff := cmp.Diff(wantChroms, gotChroms); diff != "" {
			t.Fatalf("compression=%v: Chromosomes() mismatch (-want +got):\n%s", comp, diff)
		}

		records, err := c.Query("chrA", 0, 0, true)
		if err != nil {
			t.Fatalf("compression=%v Query: %v", comp, err)
		}
		if len(records) != 4 {
			t.Fatalf("compression=%v: Query(chrA, full range) returned %d records, want 4", comp, len(records))
		}

		// Overlap vs containment: a query of [50, 150) intersects both of
		// the first two records but contains neither fully.
		overlap, err := c.Query("chrA", 50, 150, true)
		if err != nil {
			t.Fatalf("compression=%v Query(overlap): %v", comp, err)
		}
		if len(overlap) != 2 {
			t.Errorf("compression=%v: overlap query returned %d records, want 2", comp, len(overlap))
		}
		contained, err := c.Query("chrA", 50, 150, false)
		if err != nil {
			t.Fatalf("compression=%v Query(contains): %v", comp, err)
		}
		if len(contained) != 0 {
			t.Errorf("compression=%v: containment query returned %d records, want 0", comp, len(contained))
		}

		total, err := c.TotalSummary()
		if err != nil {
			t.Fatalf("compression=%v TotalSummary: %v", comp, err)
		}
		// Every record here has an integer length of 50 or 100 bases; the
		// monoid's Count is the sum of covered bases across every record in
		// the file, not the record count.
		wantCount := uint64(100 + 100 + 100 + 100 + 50 + 50)
		if total.Count != wantCount {
			t.Errorf("compression=%v: TotalSummary.Count = %d, want %d", comp, total.Count, wantCount)
		}
		if total.Min != 1 {
			t.Errorf("compression=%v: TotalSummary.Min = %v, want 1", comp, total.Min)
		}
		if total.Max != 20 {
			t.Errorf("compression=%v: TotalSummary.Max = %v, want 20", comp, total.Max)
		}

		levels := c.ZoomLevels()
		if len(levels) != 2 {
			t.Fatalf("compression=%v: got %d zoom levels, want 2", comp, len(levels))
		}

		sums, err := c.Summarize("chrA", 0, 1000, 2, true)
		if err != nil {
			t.Fatalf("compression=%v Summarize: %v", comp, err)
		}
		if len(sums) != 2 {
			t.Fatalf("compression=%v: Summarize returned %d bins, want 2", comp, len(sums))
		}

		if err := c.Close(); err != nil {
			t.Fatalf("compression=%v Close: %v", comp, err)
		}
	}
}

func TestWriteFileRejectsCancelledWrite(t *testing.T) {
	chroms := []ChromEntry{{Name: "chrA", ID: 0, Length: 100}}
	byChrom := map[uint32][]testRecord{0: {{c: 0, s: 0, e: 10, v: 1}}}
	src := buildTestSource(chroms, byChrom, 10)

	buf := &seekBuf{}
	cancelErr := formatErrf("stop")
	opts := WriteOptions{
		Order:  binary.LittleEndian,
		Cancel: func() error { return cancelErr },
	}
	err := WriteFile(buf, testMagic, src, testCodec{}, opts)
	if err == nil {
		t.Fatalf("expected WriteFile to fail when Cancel returns an error")
	}
	if !IsKind(err, KindCancelled) {
		t.Errorf("expected KindCancelled, got %v", err)
	}
}
