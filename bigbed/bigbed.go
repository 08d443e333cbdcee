// Package bigbed implements the BigBED track format: BED records packed
// into the shared BBI container (internal/bbi), with sort-order, score and
// strand validation on write. Records on chromosomes missing from the
// chromosome sizes are dropped.
package bigbed

import (
	"encoding/binary"
	"io"
	"sort"

	"github.com/ucsc-bbi/bbi/bed"
	"github.com/ucsc-bbi/bbi/internal/bbi"
)

// decoder implements bbi.BlockDecoder for BigBED's record-concatenation
// block shape.
type decoder struct{}

func (decoder) DecodeBlock(buf []byte, order binary.ByteOrder, chromIx uint32) ([]bbi.Intervaled, error) {
	var out []bbi.Intervaled
	pos := 0
	for pos < len(buf) {
		if len(buf)-pos < 12 {
			return nil, bbi.FormatErrorf("truncated BigBED record header")
		}
		gotChromIx := order.Uint32(buf[pos:])
		start := order.Uint32(buf[pos+4:])
		end := order.Uint32(buf[pos+8:])
		pos += 12
		if gotChromIx != chromIx {
			return nil, bbi.FormatErrorf("record chromIx %d disagrees with block chromIx %d", gotChromIx, chromIx)
		}
		nul := pos
		for nul < len(buf) && buf[nul] != 0 {
			nul++
		}
		if nul >= len(buf) {
			return nil, bbi.FormatErrorf("unterminated BigBED rest string")
		}
		rest := string(buf[pos:nul])
		pos = nul + 1
		out = append(out, bed.Record{ChromIx: gotChromIx, Start: start, End: end, Rest: rest})
	}
	return out, nil
}

// encoder implements bbi.BlockEncoder for BigBED, enforcing ascending order
// by start within a block.
type encoder struct{}

func (encoder) EncodeBlock(chromIx uint32, records []bbi.Intervaled, order binary.ByteOrder) ([]byte, error) {
	var buf []byte
	put32 := func(v uint32) {
		var b [4]byte
		order.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	prevStart := uint32(0)
	for i, iv := range records {
		r, ok := iv.(bed.Record)
		if !ok {
			return nil, bbi.FormatErrorf("non-BED record in BigBED block")
		}
		if i > 0 && r.Start < prevStart {
			return nil, bbi.InvariantErrorf("BigBED input not sorted: start %d follows %d", r.Start, prevStart)
		}
		prevStart = r.Start
		put32(chromIx)
		put32(r.Start)
		put32(r.End)
		buf = append(buf, []byte(r.Rest)...)
		buf = append(buf, 0)
	}
	return buf, nil
}

// ChromSize is one input (name, length) pair for Write.
type ChromSize struct {
	Name   string
	Length uint32
}

// WriteOptions configures Write. Zero values select ItemsPerSlot=1024,
// ZoomLevelCount=8, CompressionNone (an uncompressed version 3 file), and
// little-endian order.
type WriteOptions struct {
	ItemsPerSlot   uint32
	ZoomLevelCount int
	Compression    bbi.Compression
	Order          binary.ByteOrder
	Cancel         func() error
}

func (o *WriteOptions) setDefaults() {
	if o.ItemsPerSlot == 0 {
		o.ItemsPerSlot = 1024
	}
	if o.ZoomLevelCount == 0 {
		o.ZoomLevelCount = 8
	}
	if o.Order == nil {
		o.Order = binary.LittleEndian
	}
}

type blockSource struct {
	chroms []bbi.ChromEntry
	blocks map[uint32][][]bbi.Intervaled
}

func (s *blockSource) Chroms() []bbi.ChromEntry { return s.chroms }
func (s *blockSource) Blocks(chromIx uint32) [][]bbi.Intervaled {
	return s.blocks[chromIx]
}

// Write streams records into a new BigBED file at w. records must already
// be sorted by (chrom, start); chromSizes supplies the authoritative
// dictionary, filtered down to the chromosomes actually referenced.
func Write(w io.WriteSeeker, records []bed.Record, chromSizes []ChromSize, opts WriteOptions) error {
	opts.setDefaults()

	used := make(map[string]bool)
	for _, r := range records {
		used[r.Chrom] = true
	}
	var chroms []bbi.ChromEntry
	byName := make(map[string]uint32)
	var nextID uint32
	for _, cs := range chromSizes {
		if !used[cs.Name] {
			continue
		}
		byName[cs.Name] = nextID
		chroms = append(chroms, bbi.ChromEntry{Name: cs.Name, ID: nextID, Length: cs.Length})
		nextID++
	}

	grouped := make(map[uint32][]bed.Record)
	var totalSpan, totalCount uint64
	prevID := int64(-1)
	prevStart := uint32(0)
	for _, r := range records {
		id, ok := byName[r.Chrom]
		if !ok {
			continue
		}
		if int64(id) == prevID && r.Start < prevStart {
			return bbi.InvariantErrorf("BigBED input not sorted by (chrom, start): %q start %d follows %d", r.Chrom, r.Start, prevStart)
		}
		prevID, prevStart = int64(id), r.Start
		if _, err := bed.ParseExtendedFields(r.Rest); err != nil {
			return err
		}
		r.ChromIx = id
		grouped[id] = append(grouped[id], r)
		totalSpan += uint64(r.End - r.Start)
		totalCount++
	}

	blocks := make(map[uint32][][]bbi.Intervaled, len(grouped))
	for id, recs := range grouped {
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].Start < recs[j].Start })
		var chunks [][]bbi.Intervaled
		for i := 0; i < len(recs); i += int(opts.ItemsPerSlot) {
			end := i + int(opts.ItemsPerSlot)
			if end > len(recs) {
				end = len(recs)
			}
			chunk := make([]bbi.Intervaled, end-i)
			for j, r := range recs[i:end] {
				chunk[j] = r
			}
			chunks = append(chunks, chunk)
		}
		blocks[id] = chunks
	}

	src := &blockSource{chroms: chroms, blocks: blocks}

	version := uint16(3)
	switch opts.Compression {
	case bbi.CompressionSnappy:
		version = 5
	case bbi.CompressionDeflate:
		version = 4
	}

	avgLen := uint32(10)
	if totalCount > 0 {
		avgLen = uint32(totalSpan / totalCount)
		if avgLen == 0 {
			avgLen = 1
		}
	}
	reduction := avgLen * 10
	reductions := make([]uint32, 0, opts.ZoomLevelCount)
	for i := 0; i < opts.ZoomLevelCount; i++ {
		reductions = append(reductions, reduction)
		if reduction > ^uint32(0)/4 {
			break // the next reduction would overflow uint32
		}
		reduction *= 4
	}

	wopts := bbi.WriteOptions{
		Order:             opts.Order,
		Version:           version,
		FieldCount:        3,
		DefinedFieldCount: 3,
		Compression:       opts.Compression,
		TreeBlockSize:     4,
		ZoomReductions:    reductions,
		ZoomItemsPerBlock: opts.ItemsPerSlot,
		Cancel:            opts.Cancel,
	}

	return bbi.WriteFile(w, bbi.MagicBigBed, src, encoder{}, wopts)
}

// Container is an opened BigBED file.
type Container struct {
	c *bbi.Container
}

// Open reads the header, chromosome dictionary and zoom-level table from ra.
func Open(ra io.ReaderAt) (*Container, error) {
	c, err := bbi.Open(ra, bbi.MagicBigBed, decoder{})
	if err != nil {
		return nil, err
	}
	return &Container{c: c}, nil
}

// OpenFile opens path, selecting a memory-mapped read view when mode.Mmap is
// set (appropriate for a file served to many concurrent queries) or plain
// positioned reads otherwise. The returned Container owns the opened file.
func OpenFile(path string, mode bbi.OpenMode) (*Container, error) {
	c, err := bbi.OpenFile(path, bbi.MagicBigBed, decoder{}, mode)
	if err != nil {
		return nil, err
	}
	return &Container{c: c}, nil
}

// Close releases resources owned by the container (e.g. a memory map).
func (c *Container) Close() error { return c.c.Close() }

// Chromosomes returns the dictionary in name order.
func (c *Container) Chromosomes() []bbi.ChromEntry { return c.c.Chromosomes() }

// ZoomLevels returns the zoom-level table.
func (c *Container) ZoomLevels() []bbi.ZoomLevel { return c.c.ZoomLevels() }

// TotalSummary reads the whole-file summary.
func (c *Container) TotalSummary() (bbi.BigSummary, error) { return c.c.TotalSummary() }

// Query decodes every record satisfying the query on the named chromosome.
// end == 0 means the chromosome's full length.
func (c *Container) Query(name string, start, end uint32, overlaps bool) ([]bed.Record, error) {
	items, err := c.c.Query(name, start, end, overlaps)
	if err != nil {
		return nil, err
	}
	out := make([]bed.Record, len(items))
	for i, it := range items {
		r := it.(bed.Record)
		r.Chrom = name
		out[i] = r
	}
	return out, nil
}

// Summarize partitions [start, end) into numBins bins and returns one
// BigSummary per bin.
func (c *Container) Summarize(name string, start, end uint32, numBins int, useIndex bool) ([]bbi.BigSummary, error) {
	return c.c.Summarize(name, start, end, numBins, useIndex)
}
