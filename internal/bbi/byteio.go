package bbi

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/flate"
)

// Compression selects the per-block codec. The zero value, CompressionNone,
// means blocks are stored raw.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionDeflate
	CompressionSnappy
)

// compressionFor derives the Compression in effect for a header: version
// selects the codec, but uncompressBufSize == 0 means uncompressed
// regardless of version.
func compressionFor(version uint16, uncompressBufSize uint32) Compression {
	if uncompressBufSize == 0 {
		return CompressionNone
	}
	if version >= 5 {
		return CompressionSnappy
	}
	return CompressionDeflate
}

// decompressBlock inflates raw according to c. uncompressedSize is a hint
// used to preallocate; 0 means unknown.
func decompressBlock(raw []byte, c Compression, uncompressedSize int) ([]byte, error) {
	switch c {
	case CompressionNone:
		return raw, nil
	case CompressionDeflate:
		zr := flate.NewReader(bytes.NewReader(raw))
		defer zr.Close()
		buf := bytes.NewBuffer(make([]byte, 0, uncompressedSize))
		if _, err := io.Copy(buf, zr); err != nil {
			return nil, formatErrf("inflating block: %w", err)
		}
		return buf.Bytes(), nil
	case CompressionSnappy:
		out, err := snappy.Decode(nil, raw)
		if err != nil {
			return nil, formatErrf("snappy-decoding block: %w", err)
		}
		return out, nil
	default:
		return nil, formatErrf("unknown compression mode %d", c)
	}
}

// compressBlock deflates/snappy-encodes raw according to c, returning the
// bytes that should be written to disk.
func compressBlock(raw []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return raw, nil
	case CompressionDeflate:
		var buf bytes.Buffer
		// Raw DEFLATE (no zlib wrapper), matching the UCSC on-disk format,
		// which stores compressed blocks without a zlib header/checksum.
		zw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(raw); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionSnappy:
		return snappy.Encode(nil, raw), nil
	default:
		return nil, formatErrf("unknown compression mode %d", c)
	}
}

// Reader provides endian-aware, positioned reads over a seekable source. It
// does not own the underlying file; Close releases only resources this
// Reader itself allocated (an optional memory map).
type Reader struct {
	ra    io.ReaderAt
	order binary.ByteOrder

	mm mmap.MMap // non-nil if this Reader owns a memory map
}

// NewReader wraps ra (not owned) for little/big-endian positioned reads.
func NewReader(ra io.ReaderAt, order binary.ByteOrder) *Reader {
	return &Reader{ra: ra, order: order}
}

// NewMmapReader memory-maps f read-only and returns a Reader backed by the
// mapping. The returned Reader's Close unmaps it; f itself is left open and
// must be closed by the caller.
func NewMmapReader(f *os.File, order binary.ByteOrder) (*Reader, error) {
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, ioErrf("mmap: %w", err)
	}
	return &Reader{ra: bytes.NewReader(m), order: order, mm: m}, nil
}

// Close unmaps the memory map owned by this Reader, if any.
func (r *Reader) Close() error {
	if r.mm != nil {
		err := r.mm.Unmap()
		r.mm = nil
		return err
	}
	return nil
}

// section returns an independent, positioned view over [offset, offset+length),
// suitable for sharing across goroutines (each gets its own cursor).
func (r *Reader) section(offset, length int64) *io.SectionReader {
	return io.NewSectionReader(r.ra, offset, length)
}

// at returns an independent, positioned view starting at offset running to
// the end of the underlying source's addressable range.
func (r *Reader) at(offset int64) *io.SectionReader {
	return io.NewSectionReader(r.ra, offset, 1<<62)
}

func (r *Reader) readAt(p []byte, offset int64) error {
	n, err := r.ra.ReadAt(p, offset)
	if err != nil && !(err == io.EOF && n == len(p)) {
		return ioErrf("read at %d: %w", offset, err)
	}
	return nil
}

func (r *Reader) u8(offset int64) (uint8, error) {
	var b [1]byte
	if err := r.readAt(b[:], offset); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) u16(offset int64) (uint16, error) {
	var b [2]byte
	if err := r.readAt(b[:], offset); err != nil {
		return 0, err
	}
	return r.order.Uint16(b[:]), nil
}

func (r *Reader) u32(offset int64) (uint32, error) {
	var b [4]byte
	if err := r.readAt(b[:], offset); err != nil {
		return 0, err
	}
	return r.order.Uint32(b[:]), nil
}

func (r *Reader) u64(offset int64) (uint64, error) {
	var b [8]byte
	if err := r.readAt(b[:], offset); err != nil {
		return 0, err
	}
	return r.order.Uint64(b[:]), nil
}

// bounded is a positioned, order-aware cursor over a fixed-size decoded
// region (typically a decompressed block). Reads past the end fail with a
// KindFormat error rather than silently truncating.
type bounded struct {
	buf   []byte
	pos   int
	order binary.ByteOrder
}

func newBounded(buf []byte, order binary.ByteOrder) *bounded {
	return &bounded{buf: buf, order: order}
}

func (b *bounded) remaining() int { return len(b.buf) - b.pos }

func (b *bounded) need(n int) error {
	if b.remaining() < n {
		return formatErrf("truncated block: need %d bytes, have %d", n, b.remaining())
	}
	return nil
}

func (b *bounded) u8() (uint8, error) {
	if err := b.need(1); err != nil {
		return 0, err
	}
	v := b.buf[b.pos]
	b.pos++
	return v, nil
}

func (b *bounded) u16() (uint16, error) {
	if err := b.need(2); err != nil {
		return 0, err
	}
	v := b.order.Uint16(b.buf[b.pos:])
	b.pos += 2
	return v, nil
}

func (b *bounded) u32() (uint32, error) {
	if err := b.need(4); err != nil {
		return 0, err
	}
	v := b.order.Uint32(b.buf[b.pos:])
	b.pos += 4
	return v, nil
}

func (b *bounded) u64() (uint64, error) {
	if err := b.need(8); err != nil {
		return 0, err
	}
	v := b.order.Uint64(b.buf[b.pos:])
	b.pos += 8
	return v, nil
}

func (b *bounded) f32() (float32, error) {
	v, err := b.u32()
	if err != nil {
		return 0, err
	}
	return math32FromBits(v), nil
}

func (b *bounded) f64() (float64, error) {
	v, err := b.u64()
	if err != nil {
		return 0, err
	}
	return math64FromBits(v), nil
}

// cstring reads a NUL-terminated ASCII string, consuming the terminator.
func (b *bounded) cstring() (string, error) {
	start := b.pos
	for {
		if b.pos >= len(b.buf) {
			return "", formatErrf("unterminated string in block")
		}
		if b.buf[b.pos] == 0 {
			s := string(b.buf[start:b.pos])
			b.pos++
			return s, nil
		}
		b.pos++
	}
}

// fixed reads n raw bytes without interpretation.
func (b *bounded) fixed(n int) ([]byte, error) {
	if err := b.need(n); err != nil {
		return nil, err
	}
	v := b.buf[b.pos : b.pos+n]
	b.pos += n
	return v, nil
}

// Writer is a positioned writer tracking bytes produced, honoring a fixed
// byte order. It supports reopening at an offset for the writer pipeline's
// two post-pass header fix-ups.
type Writer struct {
	w     io.WriteSeeker
	order binary.ByteOrder
	n     int64
}

// NewWriter wraps w for positioned writes in the given byte order. w is
// assumed to be positioned at the start of the region the caller intends
// Writer to produce; the byte counter starts at 0.
func NewWriter(w io.WriteSeeker, order binary.ByteOrder) *Writer {
	return &Writer{w: w, order: order}
}

// Offset returns the current write position as tracked by this Writer. It
// is not re-derived from the underlying Seek position so it stays correct
// across SeekTo/back-to-end sequences used by the fix-up passes.
func (w *Writer) Offset() int64 { return w.n }

func (w *Writer) write(p []byte) error {
	n, err := w.w.Write(p)
	w.n += int64(n)
	if err != nil {
		return ioErrf("write: %w", err)
	}
	return nil
}

func (w *Writer) U8(v uint8) error { return w.write([]byte{v}) }

func (w *Writer) U16(v uint16) error {
	var b [2]byte
	w.order.PutUint16(b[:], v)
	return w.write(b[:])
}

func (w *Writer) U32(v uint32) error {
	var b [4]byte
	w.order.PutUint32(b[:], v)
	return w.write(b[:])
}

func (w *Writer) U64(v uint64) error {
	var b [8]byte
	w.order.PutUint64(b[:], v)
	return w.write(b[:])
}

func (w *Writer) F32(v float32) error { return w.U32(math32Bits(v)) }
func (w *Writer) F64(v float64) error { return w.U64(math64Bits(v)) }

// Bytes writes raw bytes as-is.
func (w *Writer) Bytes(p []byte) error { return w.write(p) }

// CString writes s followed by a single NUL byte.
func (w *Writer) CString(s string) error {
	if err := w.write([]byte(s)); err != nil {
		return err
	}
	return w.U8(0)
}

// FixedString writes s padded or truncated to exactly n bytes (no
// terminator), as used for B+-tree keys.
func (w *Writer) FixedString(s string, n int) error {
	b := make([]byte, n)
	copy(b, s)
	return w.write(b)
}

// SkipBytes reserves n bytes, filling them with value.
func (w *Writer) SkipBytes(n int, value byte) error {
	if n <= 0 {
		return nil
	}
	buf := make([]byte, n)
	if value != 0 {
		for i := range buf {
			buf[i] = value
		}
	}
	return w.write(buf)
}

// SeekTo repositions the underlying writer to an absolute offset without
// truncating the file, for the header/zoom-level/summary fix-up passes.
// The byte counter is reset to off so subsequent Offset() calls remain
// meaningful for the bounded region being rewritten.
func (w *Writer) SeekTo(off int64) error {
	if _, err := w.w.Seek(off, io.SeekStart); err != nil {
		return ioErrf("seek to %d: %w", off, err)
	}
	w.n = off
	return nil
}

// SeekEnd repositions to the end of the underlying file, for resuming
// appends after a fix-up pass.
func (w *Writer) SeekEnd() error {
	off, err := w.w.Seek(0, io.SeekEnd)
	if err != nil {
		return ioErrf("seek to end: %w", err)
	}
	w.n = off
	return nil
}

// WithCompression writes raw through the selected compression scope,
// returning the number of uncompressed bytes (the caller needs this to
// track the running uncompressBufSize maximum).
func (w *Writer) WithCompression(raw []byte, c Compression) (uncompressedSize int, err error) {
	out, err := compressBlock(raw, c)
	if err != nil {
		return 0, err
	}
	if err := w.write(out); err != nil {
		return 0, err
	}
	return len(raw), nil
}
