package bbi

import (
	"encoding/binary"
	"io"
)

// BlockEncoder serializes a group of already-ordered records from a single
// chromosome into the uncompressed bytes of one data block. BigBed and
// BigWig implement this with their own field layouts; the writer pipeline
// below never looks inside the returned bytes.
type BlockEncoder interface {
	EncodeBlock(chromIx uint32, records []Intervaled, order binary.ByteOrder) ([]byte, error)
}

// DataBlockSource supplies the writer pipeline with a chromosome dictionary
// and, per chromosome, the records already grouped into the blocks they
// should be written as. Grouping is the format package's responsibility
// (e.g. BigWig splices a section at 32767 items; BigBed groups by a target
// items-per-block count).
type DataBlockSource interface {
	Chroms() []ChromEntry
	Blocks(chromIx uint32) [][]Intervaled
}

// WriteOptions configures WriteFile. ZoomReductions must be ascending; an
// empty slice produces a file with no zoom pyramid.
type WriteOptions struct {
	Order             binary.ByteOrder
	Version           uint16
	FieldCount        uint16
	DefinedFieldCount uint16
	ASOffset          uint64
	Compression       Compression
	TreeBlockSize     uint32
	ZoomReductions    []uint32
	ZoomItemsPerBlock uint32
	// Cancel is polled between chromosomes and between data blocks; a
	// non-nil return aborts the write with a KindCancelled error wrapping it.
	Cancel func() error
}

// WriteFile streams a complete BBI file to w: header placeholder, chromosome
// B+-tree, per-chromosome data blocks with their R+-tree, the zoom pyramid,
// and the whole-file summary, followed by two header fix-up passes (the
// fixed header, then the zoom-level table) once the offsets assigned during
// the single forward pass are known.
func WriteFile(w io.WriteSeeker, magic uint32, src DataBlockSource, encoder BlockEncoder, opts WriteOptions) error {
	bw := NewWriter(w, opts.Order)

	zoomLevelCount := len(opts.ZoomReductions)
	header := Header{
		Magic:          magic,
		Version:        opts.Version,
		ZoomLevelCount: uint16(zoomLevelCount),
		FieldCount:     opts.FieldCount,
		DefinedFieldCount: opts.DefinedFieldCount,
		ASOffset:       opts.ASOffset,
	}
	if opts.Compression != CompressionNone {
		header.UncompressBufSize = 1 // corrected to the true maximum below
	}

	placeholderLevels := make([]ZoomLevel, zoomLevelCount)
	if err := WriteHeader(bw, header, placeholderLevels); err != nil {
		return err
	}

	chroms := src.Chroms()
	header.ChromTreeOffset = uint64(bw.Offset())
	if err := BuildChromTree(bw, chroms, opts.TreeBlockSize); err != nil {
		return err
	}

	header.UnzoomedDataOffset = uint64(bw.Offset())

	total := EmptySummary
	var rtreeLeaves []RtreeLeaf
	var maxUncompressed int

	for _, chrom := range chroms {
		if opts.Cancel != nil {
			if err := opts.Cancel(); err != nil {
				return Cancelled(err)
			}
		}
		for _, block := range src.Blocks(chrom.ID) {
			if len(block) == 0 {
				continue
			}
			if opts.Cancel != nil {
				if err := opts.Cancel(); err != nil {
					return Cancelled(err)
				}
			}
			raw, err := encoder.EncodeBlock(chrom.ID, block, opts.Order)
			if err != nil {
				return err
			}
			dataOffset := bw.Offset()
			uncompressed, err := bw.WithCompression(raw, opts.Compression)
			if err != nil {
				return err
			}
			if uncompressed > maxUncompressed {
				maxUncompressed = uncompressed
			}
			dataSize := bw.Offset() - dataOffset

			bounds := block[0].Bounds().AsMulti()
			for _, rec := range block[1:] {
				bounds = bounds.Union(rec.Bounds().AsMulti())
			}
			rtreeLeaves = append(rtreeLeaves, RtreeLeaf{
				Bounds:     bounds,
				DataOffset: uint64(dataOffset),
				DataSize:   uint64(dataSize),
			})

			for _, rec := range block {
				total = total.Merge(recordSummary(rec))
			}
		}
	}

	header.UnzoomedIndexOffset = uint64(bw.Offset())
	if err := BuildRtree(bw, rtreeLeaves, opts.TreeBlockSize, uint64(bw.Offset())); err != nil {
		return err
	}

	levels := make([]ZoomLevel, zoomLevelCount)
	for i, reduction := range opts.ZoomReductions {
		lv, err := buildZoomLevel(bw, src, reduction, opts)
		if err != nil {
			return err
		}
		levels[i] = lv
	}

	header.TotalSummaryOffset = uint64(bw.Offset())
	if err := WriteTotalSummary(bw, total); err != nil {
		return err
	}
	if opts.Compression != CompressionNone {
		header.UncompressBufSize = uint32(maxUncompressed)
	}

	if err := bw.SeekTo(0); err != nil {
		return err
	}
	if err := writeFixedHeader(bw, header); err != nil {
		return err
	}
	if err := bw.SeekTo(HeaderBytes); err != nil {
		return err
	}
	if err := writeZoomLevelTable(bw, levels); err != nil {
		return err
	}
	return bw.SeekEnd()
}

// recordSummary weights one record's contribution to a BigSummary by its
// base-pair length, matching how Summarize later aggregates raw records.
func recordSummary(rec Intervaled) BigSummary {
	bounds := rec.Bounds()
	bases := float64(bounds.Length())
	v := rec.Magnitude()
	return BigSummary{
		Count:      uint64(bounds.Length()),
		Min:        v,
		Max:        v,
		Sum:        v * bases,
		SumSquares: v * v * bases,
	}
}

// buildZoomLevel aggregates every chromosome's records into fixed-width
// windows of size reduction, groups the resulting ZoomData records into
// blocks of opts.ZoomItemsPerBlock (never spanning a chromosome boundary),
// and indexes those blocks with their own R+-tree.
func buildZoomLevel(bw *Writer, src DataBlockSource, reduction uint32, opts WriteOptions) (ZoomLevel, error) {
	lv := ZoomLevel{Reduction: reduction}
	lv.DataOffset = uint64(bw.Offset())

	var rtreeLeaves []RtreeLeaf
	for _, chrom := range src.Chroms() {
		var records []Intervaled
		for _, block := range src.Blocks(chrom.ID) {
			records = append(records, block...)
		}
		if len(records) == 0 {
			continue
		}
		windows := fixedWidthWindows(chrom.ID, chrom.Length, reduction)

		var pending []ZoomData
		flush := func() error {
			if len(pending) == 0 {
				return nil
			}
			raw := encodeZoomData(pending, opts.Order)
			dataOffset := bw.Offset()
			if _, err := bw.WithCompression(raw, opts.Compression); err != nil {
				return err
			}
			dataSize := bw.Offset() - dataOffset
			bounds := zoomDataBounds(pending)
			rtreeLeaves = append(rtreeLeaves, RtreeLeaf{
				Bounds:     bounds,
				DataOffset: uint64(dataOffset),
				DataSize:   uint64(dataSize),
			})
			pending = nil
			return nil
		}

		for _, win := range windows {
			s := summarizeRawBin(records, win)
			if s.IsEmpty() {
				continue
			}
			pending = append(pending, ZoomData{
				ChromIx:    win.ChromIx,
				Start:      win.Start,
				End:        win.End,
				Count:      uint32(s.Count),
				Min:        float32(s.Min),
				Max:        float32(s.Max),
				Sum:        float32(s.Sum),
				SumSquares: float32(s.SumSquares),
			})
			if uint32(len(pending)) >= opts.ZoomItemsPerBlock {
				if err := flush(); err != nil {
					return lv, err
				}
			}
		}
		if err := flush(); err != nil {
			return lv, err
		}
	}

	lv.IndexOffset = uint64(bw.Offset())
	if err := BuildRtree(bw, rtreeLeaves, opts.TreeBlockSize, uint64(bw.Offset())); err != nil {
		return lv, err
	}
	return lv, nil
}

// fixedWidthWindows partitions [0, length) into consecutive windows of size
// width, the last one possibly shorter. Unlike ChromosomeInterval.Slice
// (which divides into a fixed bin COUNT), zoom reduction divides by a fixed
// bin WIDTH.
func fixedWidthWindows(chromIx uint32, length, width uint32) []ChromosomeInterval {
	if width == 0 || length == 0 {
		return nil
	}
	n := ceilDivU64(uint64(length), uint64(width))
	out := make([]ChromosomeInterval, 0, n)
	for start := uint32(0); start < length; start += width {
		end := start + width
		if end > length {
			end = length
		}
		out = append(out, ChromosomeInterval{ChromIx: chromIx, Start: start, End: end})
	}
	return out
}

func zoomDataBounds(zs []ZoomData) MultiInterval {
	iv := ChromosomeInterval{ChromIx: zs[0].ChromIx, Start: zs[0].Start, End: zs[0].End}
	m := iv.AsMulti()
	for _, z := range zs[1:] {
		m = m.Union(ChromosomeInterval{ChromIx: z.ChromIx, Start: z.Start, End: z.End}.AsMulti())
	}
	return m
}

func encodeZoomData(zs []ZoomData, order binary.ByteOrder) []byte {
	buf := make([]byte, 0, len(zs)*zoomDataBytes)
	put32 := func(v uint32) {
		var b [4]byte
		order.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	for _, z := range zs {
		put32(z.ChromIx)
		put32(z.Start)
		put32(z.End)
		put32(z.Count)
		put32(math32Bits(z.Min))
		put32(math32Bits(z.Max))
		put32(math32Bits(z.Sum))
		put32(math32Bits(z.SumSquares))
	}
	return buf
}

func writeFixedHeader(w *Writer, h Header) error {
	return WriteHeader(w, h, nil)
}

func writeZoomLevelTable(w *Writer, levels []ZoomLevel) error {
	for _, lv := range levels {
		if err := w.U32(lv.Reduction); err != nil {
			return err
		}
		if err := w.U32(0); err != nil {
			return err
		}
		if err := w.U64(lv.DataOffset); err != nil {
			return err
		}
		if err := w.U64(lv.IndexOffset); err != nil {
			return err
		}
	}
	return nil
}
