package bbi

import (
	"encoding/binary"
)

// Magic constants identifying each file kind and index structure.
const (
	MagicBigWig  uint32 = 0x888FFC26
	MagicBigBed  uint32 = 0x8789F2EB
	magicBptree  uint32 = 0x78CA8C91
	magicRtree   uint32 = 0x2468ACE0
)

// HeaderBytes is the fixed size of the file header at offset 0.
const HeaderBytes = 64

// ZoomLevelBytes is the fixed size of one zoom-level table entry.
const ZoomLevelBytes = 24

// Header is the fixed 64-byte header at offset 0 of a BBI file.
type Header struct {
	Magic                uint32
	Version              uint16
	ZoomLevelCount       uint16
	ChromTreeOffset      uint64
	UnzoomedDataOffset   uint64
	UnzoomedIndexOffset  uint64
	FieldCount           uint16
	DefinedFieldCount    uint16
	ASOffset             uint64
	TotalSummaryOffset   uint64
	UncompressBufSize    uint32
	ExtendedHeaderOffset uint64
}

// ZoomLevel is one entry of the zoom-level table immediately following the
// header.
type ZoomLevel struct {
	Reduction   uint32
	DataOffset  uint64
	IndexOffset uint64
}

// DetectOrder interprets raw, the file's first 4 bytes, as a little-endian
// value and compares it against want. If it matches directly the file is
// little-endian; if the byte-reversed value matches, the file is
// big-endian; otherwise the file is not a BBI file of the expected kind.
func DetectOrder(raw [4]byte, want uint32) (order binary.ByteOrder, ok bool) {
	le := binary.LittleEndian.Uint32(raw[:])
	if le == want {
		return binary.LittleEndian, true
	}
	be := binary.BigEndian.Uint32(raw[:])
	if be == want {
		return binary.BigEndian, true
	}
	return nil, false
}

// ReadHeader parses the fixed header at offset 0 and the zoom-level table
// immediately following it. wantMagic selects BigWig or BigBed; the file's
// actual magic (after endian correction) must equal it exactly, since order
// has already been resolved by the caller via DetectOrder.
func ReadHeader(r *Reader, wantMagic uint32) (Header, []ZoomLevel, error) {
	var h Header
	var off int64

	magic, err := r.u32(off)
	if err != nil {
		return h, nil, err
	}
	off += 4
	if magic != wantMagic {
		return h, nil, formatErrf("bad magic %#x, want %#x", magic, wantMagic)
	}
	h.Magic = magic

	if h.Version, err = r.u16(off); err != nil {
		return h, nil, err
	}
	off += 2
	if h.ZoomLevelCount, err = r.u16(off); err != nil {
		return h, nil, err
	}
	off += 2
	if h.ChromTreeOffset, err = r.u64(off); err != nil {
		return h, nil, err
	}
	off += 8
	if h.UnzoomedDataOffset, err = r.u64(off); err != nil {
		return h, nil, err
	}
	off += 8
	if h.UnzoomedIndexOffset, err = r.u64(off); err != nil {
		return h, nil, err
	}
	off += 8
	if h.FieldCount, err = r.u16(off); err != nil {
		return h, nil, err
	}
	off += 2
	if h.DefinedFieldCount, err = r.u16(off); err != nil {
		return h, nil, err
	}
	off += 2
	if h.ASOffset, err = r.u64(off); err != nil {
		return h, nil, err
	}
	off += 8
	if h.TotalSummaryOffset, err = r.u64(off); err != nil {
		return h, nil, err
	}
	off += 8
	if h.UncompressBufSize, err = r.u32(off); err != nil {
		return h, nil, err
	}
	off += 4
	if h.ExtendedHeaderOffset, err = r.u64(off); err != nil {
		return h, nil, err
	}
	off += 8

	if h.Version < 3 && h.UncompressBufSize != 0 {
		return h, nil, notSupportedErrf("compression requires version >= 3, got %d", h.Version)
	}
	if off != HeaderBytes {
		return h, nil, formatErrf("internal error: header decode consumed %d bytes, want %d", off, HeaderBytes)
	}

	levels := make([]ZoomLevel, h.ZoomLevelCount)
	for i := range levels {
		base := off + int64(i)*ZoomLevelBytes
		red, err := r.u32(base)
		if err != nil {
			return h, nil, err
		}
		dataOff, err := r.u64(base + 8)
		if err != nil {
			return h, nil, err
		}
		idxOff, err := r.u64(base + 16)
		if err != nil {
			return h, nil, err
		}
		levels[i] = ZoomLevel{Reduction: red, DataOffset: dataOff, IndexOffset: idxOff}
	}

	return h, levels, nil
}

// WriteHeader writes the fixed header followed by the zoom-level table at
// the writer's current position (used both for the initial reservation,
// where levels may be a slice of zeros, and for the final fix-up pass).
func WriteHeader(w *Writer, h Header, levels []ZoomLevel) error {
	if err := w.U32(h.Magic); err != nil {
		return err
	}
	if err := w.U16(h.Version); err != nil {
		return err
	}
	if err := w.U16(h.ZoomLevelCount); err != nil {
		return err
	}
	if err := w.U64(h.ChromTreeOffset); err != nil {
		return err
	}
	if err := w.U64(h.UnzoomedDataOffset); err != nil {
		return err
	}
	if err := w.U64(h.UnzoomedIndexOffset); err != nil {
		return err
	}
	if err := w.U16(h.FieldCount); err != nil {
		return err
	}
	if err := w.U16(h.DefinedFieldCount); err != nil {
		return err
	}
	if err := w.U64(h.ASOffset); err != nil {
		return err
	}
	if err := w.U64(h.TotalSummaryOffset); err != nil {
		return err
	}
	if err := w.U32(h.UncompressBufSize); err != nil {
		return err
	}
	if err := w.U64(h.ExtendedHeaderOffset); err != nil {
		return err
	}
	for _, lv := range levels {
		if err := w.U32(lv.Reduction); err != nil {
			return err
		}
		if err := w.U32(0); err != nil { // reserved padding between level and dataOffset
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

// ReadTotalSummary reads the 40-byte BigSummary slot at offset.
func ReadTotalSummary(r *Reader, offset int64) (BigSummary, error) {
	var s BigSummary
	count, err := r.u64(offset)
	if err != nil {
		return s, err
	}
	min, err := r.readF64(offset + 8)
	if err != nil {
		return s, err
	}
	max, err := r.readF64(offset + 16)
	if err != nil {
		return s, err
	}
	sum, err := r.readF64(offset + 24)
	if err != nil {
		return s, err
	}
	sumSq, err := r.readF64(offset + 32)
	if err != nil {
		return s, err
	}
	return BigSummary{Count: count, Min: min, Max: max, Sum: sum, SumSquares: sumSq}, nil
}

func (r *Reader) readF64(offset int64) (float64, error) {
	v, err := r.u64(offset)
	if err != nil {
		return 0, err
	}
	return math64FromBits(v), nil
}

// WriteTotalSummary writes the 40-byte BigSummary slot at the writer's
// current position.
func WriteTotalSummary(w *Writer, s BigSummary) error {
	if err := w.U64(s.Count); err != nil {
		return err
	}
	if err := w.F64(s.Min); err != nil {
		return err
	}
	if err := w.F64(s.Max); err != nil {
		return err
	}
	if err := w.F64(s.Sum); err != nil {
		return err
	}
	return w.F64(s.SumSquares)
}
