package bigwig

import (
	"io"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/ucsc-bbi/bbi/internal/bbi"
	"github.com/ucsc-bbi/bbi/wig"
)

// memFile is a minimal io.WriteSeeker + io.ReaderAt backed by a growable
// byte slice, standing in for an *os.File in these tests.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	need := m.pos + len(p)
	if need > len(m.buf) {
		grown := make([]byte, need)
		copy(grown, m.buf)
		m.buf = grown
	}
	n := copy(m.buf[m.pos:], p)
	m.pos += n
	return n, nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		m.pos = int(offset)
	case io.SeekEnd:
		m.pos = len(m.buf)
	default:
		m.pos += int(offset)
	}
	return int64(m.pos), nil
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	if int(off) >= len(m.buf) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// TestBigWigFixedStepRoundTrip exercises a fixedStep section whose query
// range does not start on a step boundary: [400700, 410000) over a section
// starting at 400601 with step 100, span 1, values [11, 22, 33] covers
// positions 400601, 400701, 400801. Only the latter two fall in range.
func TestBigWigFixedStepRoundTrip(t *testing.T) {
	chroms := []ChromSize{{Name: "chr3", Length: 500000}}
	sections := []wig.Section{
		wig.FixedStepSection{Chrom: "chr3", Start: 400601, Step: 100, Span: 1, Values: []float32{11, 22, 33}},
	}
	f := &memFile{}
	if err := Write(f, sections, chroms, WriteOptions{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	c, err := Open(f)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	got, err := c.Query("chr3", 400700, 410000, true)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Query returned %d values, want 2", len(got))
	}
	if got[0].Start != 400701 || got[0].V != 22 {
		t.Errorf("got[0] = %+v, want Start=400701 V=22", got[0])
	}
	if got[1].Start != 400801 || got[1].V != 33 {
		t.Errorf("got[1] = %+v, want Start=400801 V=33", got[1])
	}
}

func TestBigWigVariableStepRoundTrip(t *testing.T) {
	chroms := []ChromSize{{Name: "chr1", Length: 10000}}
	sections := []wig.Section{
		wig.VariableStepSection{
			Chrom: "chr1",
			Span:  5,
			Entries: []wig.VariableStepEntry{
				{Position: 100, Value: 1.5},
				{Position: 200, Value: 2.5},
				{Position: 300, Value: 3.5},
			},
		},
	}
	f := &memFile{}
	if err := Write(f, sections, chroms, WriteOptions{Compression: bbi.CompressionSnappy}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	c, err := Open(f)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	got, err := c.Query("chr1", 0, 0, true)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Query returned %d values, want 3", len(got))
	}
	for i, e := range sections[0].(wig.VariableStepSection).Entries {
		if got[i].Start != e.Position || got[i].End != e.Position+5 || got[i].V != e.Value {
			t.Errorf("value %d = %+v, want Start=%d End=%d V=%v", i, got[i], e.Position, e.Position+5, e.Value)
		}
	}
}

// TestBigWigZoomSummarize builds uniform coverage over a chromosome and
// checks that Summarize, using the zoom index, partitions it into the
// requested number of equal-width bins with the expected mean.
func TestBigWigZoomSummarize(t *testing.T) {
	const length = 1 << 16
	chroms := []ChromSize{{Name: "chr1", Length: length}}
	values := make([]float32, length)
	for i := range values {
		values[i] = 7
	}
	sections := []wig.Section{
		wig.FixedStepSection{Chrom: "chr1", Start: 0, Step: 1, Span: 1, Values: values},
	}
	f := &memFile{}
	if err := Write(f, sections, chroms, WriteOptions{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	c, err := Open(f)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	sums, err := c.Summarize("chr1", 0, length, 4, true)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(sums) != 4 {
		t.Fatalf("Summarize returned %d bins, want 4", len(sums))
	}
	for i, s := range sums {
		if s.Mean() < 6.9 || s.Mean() > 7.1 {
			t.Errorf("bin %d mean = %v, want ~7", i, s.Mean())
		}
	}
}

// TestBigWigConcurrentQueries mirrors bigbed's concurrent-query test: eight
// goroutines issue Query against one open Container, the way a server
// handling concurrent track requests would.
func TestBigWigConcurrentQueries(t *testing.T) {
	chroms := []ChromSize{{Name: "chr1", Length: 10000}}
	sections := []wig.Section{
		wig.VariableStepSection{
			Chrom: "chr1",
			Span:  5,
			Entries: []wig.VariableStepEntry{
				{Position: 100, Value: 1.5},
				{Position: 200, Value: 2.5},
				{Position: 300, Value: 3.5},
			},
		},
	}
	f := &memFile{}
	if err := Write(f, sections, chroms, WriteOptions{Compression: bbi.CompressionSnappy}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	c, err := Open(f)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			got, err := c.Query("chr1", 0, 0, true)
			if err != nil {
				return err
			}
			if len(got) != 3 {
				return bbi.InvariantErrorf("goroutine query returned %d values, want 3", len(got))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent Query: %v", err)
	}
}

func TestBigWigRejectsBedGraphWrite(t *testing.T) {
	chroms := []ChromSize{{Name: "chr1", Length: 1000}}
	sections := []wig.Section{
		wig.BedGraphSection{Chrom: "chr1", Entries: []wig.BedGraphEntry{{Start: 0, End: 10, Value: 1}}},
	}
	f := &memFile{}
	err := Write(f, sections, chroms, WriteOptions{})
	if err == nil {
		t.Fatalf("expected an error writing a bedGraph section")
	}
	if !bbi.IsKind(err, bbi.KindNotSupported) {
		t.Errorf("expected KindNotSupported, got %v", err)
	}
}
