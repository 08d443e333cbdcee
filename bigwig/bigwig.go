// Package bigwig implements the BigWIG track format: WIG sections packed
// one-per-block into the shared BBI container (internal/bbi).
package bigwig

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/ucsc-bbi/bbi/internal/bbi"
	"github.com/ucsc-bbi/bbi/wig"
)

type sectionType = uint8

const (
	typeBedGraph sectionType = 1
	typeVariable sectionType = 2
	typeFixed    sectionType = 3
)

const maxSectionItems = 1<<15 - 1

// blockRecord is one decoded or pending-to-encode point, tagged with the
// section metadata needed to re-derive its neighbours' layout on write
// (every record in a block shares Type/Step/Span/SectionStart, since a
// BigWIG block is always exactly one section).
type blockRecord struct {
	wig.Value
	Type         sectionType
	Step         uint32
	Span         uint32
	SectionStart uint32
}

type decoder struct{}

func (decoder) DecodeBlock(buf []byte, order binary.ByteOrder, chromIx uint32) ([]bbi.Intervaled, error) {
	if len(buf) < 24 {
		return nil, bbi.FormatErrorf("truncated BigWIG section header")
	}
	gotChromIx := order.Uint32(buf[0:])
	sectionStart := order.Uint32(buf[4:])
	step := order.Uint32(buf[12:])
	span := order.Uint32(buf[16:])
	typ := buf[20]
	count := order.Uint16(buf[22:])
	if gotChromIx != chromIx {
		return nil, bbi.FormatErrorf("section chromIx %d disagrees with block chromIx %d", gotChromIx, chromIx)
	}

	pos := 24
	out := make([]bbi.Intervaled, 0, count)
	switch typ {
	case typeBedGraph:
		for i := uint16(0); i < count; i++ {
			if len(buf)-pos < 12 {
				return nil, bbi.FormatErrorf("truncated bedGraph entry")
			}
			start := order.Uint32(buf[pos:])
			end := order.Uint32(buf[pos+4:])
			value := math.Float32frombits(order.Uint32(buf[pos+8:]))
			pos += 12
			out = append(out, wig.Value{ChromIx: chromIx, Start: start, End: end, V: value})
		}
	case typeVariable:
		for i := uint16(0); i < count; i++ {
			if len(buf)-pos < 8 {
				return nil, bbi.FormatErrorf("truncated variableStep entry")
			}
			start := order.Uint32(buf[pos:])
			value := math.Float32frombits(order.Uint32(buf[pos+4:]))
			pos += 8
			out = append(out, wig.Value{ChromIx: chromIx, Start: start, End: start + span, V: value})
		}
	case typeFixed:
		for i := uint16(0); i < count; i++ {
			if len(buf)-pos < 4 {
				return nil, bbi.FormatErrorf("truncated fixedStep entry")
			}
			value := math.Float32frombits(order.Uint32(buf[pos:]))
			pos += 4
			start := sectionStart + uint32(i)*step
			out = append(out, wig.Value{ChromIx: chromIx, Start: start, End: start + span, V: value})
		}
	default:
		return nil, bbi.FormatErrorf("unknown WIG section type %d", typ)
	}
	return out, nil
}

type encoder struct{}

func (encoder) EncodeBlock(chromIx uint32, records []bbi.Intervaled, order binary.ByteOrder) ([]byte, error) {
	if len(records) == 0 {
		return nil, bbi.InvariantErrorf("empty BigWIG section")
	}
	if len(records) > maxSectionItems {
		return nil, bbi.InvariantErrorf("section has %d items, exceeds %d", len(records), maxSectionItems)
	}
	first, ok := records[0].(blockRecord)
	if !ok {
		return nil, bbi.FormatErrorf("non-WIG record in BigWIG block")
	}

	sectionEnd := first.End
	for _, iv := range records[1:] {
		if b, ok := iv.(blockRecord); ok && b.End > sectionEnd {
			sectionEnd = b.End
		}
	}

	var buf []byte
	put32 := func(v uint32) {
		var b [4]byte
		order.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	put32(chromIx)
	put32(first.SectionStart)
	put32(sectionEnd)
	put32(first.Step)
	put32(first.Span)
	buf = append(buf, first.Type, 0)
	var cnt [2]byte
	order.PutUint16(cnt[:], uint16(len(records)))
	buf = append(buf, cnt[:]...)

	for _, iv := range records {
		r := iv.(blockRecord)
		switch r.Type {
		case typeBedGraph:
			return nil, bbi.NotSupportedErrorf("bedGraph sections cannot be written")
		case typeVariable:
			put32(r.Start)
			put32(math.Float32bits(r.V))
		case typeFixed:
			put32(math.Float32bits(r.V))
		default:
			return nil, bbi.FormatErrorf("unknown WIG section type %d", r.Type)
		}
	}
	return buf, nil
}

// WriteOptions configures Write.
type WriteOptions struct {
	ZoomLevelCount int
	Compression    bbi.Compression
	Order          binary.ByteOrder
	Cancel         func() error
}

func (o *WriteOptions) setDefaults() {
	if o.ZoomLevelCount == 0 {
		o.ZoomLevelCount = 8
	}
	if o.Order == nil {
		o.Order = binary.LittleEndian
	}
}

// ChromSize is one input (name, length) pair for Write.
type ChromSize struct {
	Name   string
	Length uint32
}

type blockSource struct {
	chroms []bbi.ChromEntry
	blocks map[uint32][][]bbi.Intervaled
}

func (s *blockSource) Chroms() []bbi.ChromEntry { return s.chroms }
func (s *blockSource) Blocks(chromIx uint32) [][]bbi.Intervaled {
	return s.blocks[chromIx]
}

// Write streams sections into a new BigWIG file at w. sections must already
// be sorted by (chrom, start); bedGraph sections are rejected since a
// BigWIG block cannot represent one on write. Each section is spliced at
// maxSectionItems entries to respect the on-disk u16 count field; each
// resulting sub-section becomes exactly one block.
func Write(w io.WriteSeeker, sections []wig.Section, chromSizes []ChromSize, opts WriteOptions) error {
	opts.setDefaults()

	used := make(map[string]bool)
	for _, s := range sections {
		used[s.Chromosome()] = true
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

	blocks := make(map[uint32][][]bbi.Intervaled)
	for _, sec := range sections {
		id, ok := byName[sec.Chromosome()]
		if !ok {
			continue
		}
		chunks, err := spliceSection(id, sec)
		if err != nil {
			return err
		}
		blocks[id] = append(blocks[id], chunks...)
	}

	src := &blockSource{chroms: chroms, blocks: blocks}

	version := uint16(3)
	switch opts.Compression {
	case bbi.CompressionSnappy:
		version = 5
	case bbi.CompressionDeflate:
		version = 4
	}

	reductions := make([]uint32, 0, opts.ZoomLevelCount)
	reduction := uint32(8)
	for i := 0; i < opts.ZoomLevelCount; i++ {
		reductions = append(reductions, reduction)
		if reduction > math.MaxUint32/64 {
			break // the next reduction would overflow uint32
		}
		reduction *= 64
	}

	wopts := bbi.WriteOptions{
		Order:             opts.Order,
		Version:           version,
		FieldCount:        0,
		DefinedFieldCount: 0,
		Compression:       opts.Compression,
		TreeBlockSize:     4,
		ZoomReductions:    reductions,
		ZoomItemsPerBlock: 512,
		Cancel:            opts.Cancel,
	}

	return bbi.WriteFile(w, bbi.MagicBigWig, src, encoder{}, wopts)
}

func spliceSection(chromIx uint32, sec wig.Section) ([][]bbi.Intervaled, error) {
	switch s := sec.(type) {
	case wig.BedGraphSection:
		return nil, bbi.NotSupportedErrorf("bedGraph sections cannot be written")
	case wig.VariableStepSection:
		var out [][]bbi.Intervaled
		for i := 0; i < len(s.Entries); i += maxSectionItems {
			end := i + maxSectionItems
			if end > len(s.Entries) {
				end = len(s.Entries)
			}
			part := s.Entries[i:end]
			block := make([]bbi.Intervaled, len(part))
			for j, e := range part {
				block[j] = blockRecord{
					Value:        wig.Value{ChromIx: chromIx, Start: e.Position, End: e.Position + s.Span, V: e.Value},
					Type:         typeVariable,
					Span:         s.Span,
					SectionStart: part[0].Position,
				}
			}
			out = append(out, block)
		}
		return out, nil
	case wig.FixedStepSection:
		var out [][]bbi.Intervaled
		for i := 0; i < len(s.Values); i += maxSectionItems {
			end := i + maxSectionItems
			if end > len(s.Values) {
				end = len(s.Values)
			}
			chunkStart := s.Start + uint32(i)*s.Step
			block := make([]bbi.Intervaled, end-i)
			for j, v := range s.Values[i:end] {
				pos := chunkStart + uint32(j)*s.Step
				block[j] = blockRecord{
					Value:        wig.Value{ChromIx: chromIx, Start: pos, End: pos + s.Span, V: v},
					Type:         typeFixed,
					Step:         s.Step,
					Span:         s.Span,
					SectionStart: chunkStart,
				}
			}
			out = append(out, block)
		}
		return out, nil
	default:
		return nil, bbi.NotSupportedErrorf("unknown WIG section type %T", sec)
	}
}

// Container is an opened BigWIG file.
type Container struct {
	c *bbi.Container
}

// Open reads the header, chromosome dictionary and zoom-level table from ra.
func Open(ra io.ReaderAt) (*Container, error) {
	c, err := bbi.Open(ra, bbi.MagicBigWig, decoder{})
	if err != nil {
		return nil, err
	}
	return &Container{c: c}, nil
}

// OpenFile opens path, selecting a memory-mapped read view when mode.Mmap is
// set (appropriate for a file served to many concurrent queries) or plain
// positioned reads otherwise. The returned Container owns the opened file.
func OpenFile(path string, mode bbi.OpenMode) (*Container, error) {
	c, err := bbi.OpenFile(path, bbi.MagicBigWig, decoder{}, mode)
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

// Query decodes every value satisfying the query on the named chromosome.
// end == 0 means the chromosome's full length.
func (c *Container) Query(name string, start, end uint32, overlaps bool) ([]wig.Value, error) {
	items, err := c.c.Query(name, start, end, overlaps)
	if err != nil {
		return nil, err
	}
	out := make([]wig.Value, len(items))
	for i, it := range items {
		out[i] = it.(wig.Value)
	}
	return out, nil
}

// Summarize partitions [start, end) into numBins bins and returns one
// BigSummary per bin.
func (c *Container) Summarize(name string, start, end uint32, numBins int, useIndex bool) ([]bbi.BigSummary, error) {
	return c.c.Summarize(name, start, end, numBins, useIndex)
}
