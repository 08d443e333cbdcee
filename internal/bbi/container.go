package bbi

import (
	"encoding/binary"
	"io"
	"os"
	"sort"
)

// Intervaled is one decoded record from a data block: a BigBed feature or a
// single BigWig value. Magnitude is the quantity aggregated into BigSummary
// during Summarize; BigBed records report a constant 1.0 (presence), while
// BigWig values report the value itself.
type Intervaled interface {
	Bounds() ChromosomeInterval
	Magnitude() float64
}

// BlockDecoder turns a decompressed data block into its records. chromIx is
// supplied separately because BigBed/BigWig blocks only ever cover a single
// chromosome and do not repeat it per record.
type BlockDecoder interface {
	DecodeBlock(buf []byte, order binary.ByteOrder, chromIx uint32) ([]Intervaled, error)
}

// Container is the shared read path for BigWig and BigBed: header, chromosome
// dictionary, unzoomed R+-tree and zoom pyramid. Format packages wrap it with
// their own typed Query/Summarize signatures and supply a BlockDecoder.
type Container struct {
	r       *Reader
	header  Header
	levels  []ZoomLevel
	byName  map[string]ChromEntry
	byID    map[uint32]ChromEntry
	decoder BlockDecoder
	file    *os.File // non-nil when OpenFile opened (and owns) the underlying file
}

// detectFileOrder reads the 4-byte magic at the start of ra and resolves the
// byte order against wantMagic, shared by Open and OpenFile so both fail the
// same way on an unrecognized file.
func detectFileOrder(ra io.ReaderAt, wantMagic uint32) (binary.ByteOrder, error) {
	var raw [4]byte
	if _, err := ra.ReadAt(raw[:], 0); err != nil {
		return nil, ioErrf("reading magic: %w", err)
	}
	order, ok := DetectOrder(raw, wantMagic)
	if !ok {
		return nil, formatErrf("not a recognized BBI file (magic %x)", raw)
	}
	return order, nil
}

// Open reads the header, chromosome dictionary and zoom-level table from ra.
// wantMagic selects BigWig or BigBed; ra's first 4 bytes are used to detect
// byte order via DetectOrder.
func Open(ra io.ReaderAt, wantMagic uint32, decoder BlockDecoder) (*Container, error) {
	order, err := detectFileOrder(ra, wantMagic)
	if err != nil {
		return nil, err
	}
	return openContainer(NewReader(ra, order), wantMagic, decoder)
}

// OpenMode configures OpenFile's read strategy.
type OpenMode struct {
	// Mmap selects a memory-mapped read view over the file instead of plain
	// positioned reads. This avoids a syscall per block read and lets many
	// goroutines query the same mapping concurrently without contending on
	// a shared file offset, at the cost of holding the whole file mapped
	// into the process's address space for as long as the Container is open.
	Mmap bool
}

// OpenFile opens path and returns a Container over it, selecting a
// memory-mapped read view when mode.Mmap is set or plain positioned reads
// otherwise. Unlike Open, the returned Container owns the *os.File (and the
// memory map, if any); Close releases both.
func OpenFile(path string, wantMagic uint32, decoder BlockDecoder, mode OpenMode) (*Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ioErrf("opening %s: %w", path, err)
	}
	order, err := detectFileOrder(f, wantMagic)
	if err != nil {
		f.Close()
		return nil, err
	}

	var r *Reader
	if mode.Mmap {
		r, err = NewMmapReader(f, order)
		if err != nil {
			f.Close()
			return nil, err
		}
	} else {
		r = NewReader(f, order)
	}

	c, err := openContainer(r, wantMagic, decoder)
	if err != nil {
		r.Close()
		f.Close()
		return nil, err
	}
	c.file = f
	return c, nil
}

// openContainer loads the header, chromosome dictionary and zoom-level table
// through an already-constructed Reader, shared by Open and OpenFile.
func openContainer(r *Reader, wantMagic uint32, decoder BlockDecoder) (*Container, error) {
	h, levels, err := ReadHeader(r, wantMagic)
	if err != nil {
		return nil, err
	}
	chroms, err := ListChroms(r, int64(h.ChromTreeOffset))
	if err != nil {
		return nil, err
	}
	byName := make(map[string]ChromEntry, len(chroms))
	byID := make(map[uint32]ChromEntry, len(chroms))
	for _, c := range chroms {
		byName[c.Name] = c
		byID[c.ID] = c
	}

	return &Container{r: r, header: h, levels: levels, byName: byName, byID: byID, decoder: decoder}, nil
}

// Close releases resources owned by the underlying Reader (a memory map, if
// any) and, for a Container returned by OpenFile, the file it opened. The
// ReaderAt passed to Open is not owned and is not closed here.
func (c *Container) Close() error {
	err := c.r.Close()
	if c.file != nil {
		if ferr := c.file.Close(); err == nil {
			err = ferr
		}
		c.file = nil
	}
	return err
}

// Chromosomes returns the dictionary in name order.
func (c *Container) Chromosomes() []ChromEntry {
	out := make([]ChromEntry, 0, len(c.byName))
	for _, e := range c.byName {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ChromName resolves a chromosome id assigned at write time back to its
// name, for format packages that decode chromIx-only block records.
func (c *Container) ChromName(id uint32) (string, bool) {
	e, ok := c.byID[id]
	return e.Name, ok
}

// ZoomLevels returns the zoom-level table in the order stored on disk
// (ascending reduction, per the writer).
func (c *Container) ZoomLevels() []ZoomLevel { return c.levels }

// Header exposes the fixed file header for format packages that need fields
// like FieldCount or UncompressBufSize.
func (c *Container) Header() Header { return c.header }

// TotalSummary reads the whole-file BigSummary slot.
func (c *Container) TotalSummary() (BigSummary, error) {
	if c.header.TotalSummaryOffset == 0 {
		return EmptySummary, nil
	}
	return ReadTotalSummary(c.r, int64(c.header.TotalSummaryOffset))
}

// chromInterval resolves a chromosome name to an interval, validating the
// requested range against the dictionary's recorded length.
func (c *Container) chromInterval(name string, start, end uint32) (ChromosomeInterval, error) {
	entry, ok := c.byName[name]
	if !ok {
		return ChromosomeInterval{}, ErrNotFound
	}
	if end > entry.Length {
		end = entry.Length
	}
	if start >= end {
		return ChromosomeInterval{}, invariantErrf("empty query range [%d, %d) on %q", start, end, name)
	}
	return ChromosomeInterval{ChromIx: entry.ID, Start: start, End: end}, nil
}

// Query decodes every record satisfying the query on the named chromosome
// from the unzoomed data, in ascending order. When overlaps is false, a
// record is retained only if it is fully contained in [start, end); when
// true, any intersection qualifies. end == 0 is normalised to the
// chromosome's recorded length. A chromosome absent from the dictionary
// yields an empty result, not an error.
func (c *Container) Query(name string, start, end uint32, overlaps bool) ([]Intervaled, error) {
	entry, ok := c.byName[name]
	if !ok {
		return nil, nil
	}
	if end == 0 {
		end = entry.Length
	}
	iv, err := c.chromInterval(name, start, end)
	if err != nil {
		return nil, err
	}
	return c.queryIndex(int64(c.header.UnzoomedIndexOffset), iv, overlaps)
}

func (c *Container) queryIndex(indexOffset int64, iv ChromosomeInterval, overlaps bool) ([]Intervaled, error) {
	blocks, err := FindOverlappingBlocks(c.r, indexOffset, iv.AsMulti())
	if err != nil {
		return nil, err
	}
	comp := compressionFor(c.header.Version, c.header.UncompressBufSize)

	var out []Intervaled
	for _, b := range blocks {
		raw := make([]byte, b.DataSize)
		if err := c.r.readAt(raw, int64(b.DataOffset)); err != nil {
			return nil, err
		}
		buf, err := decompressBlock(raw, comp, 0)
		if err != nil {
			return nil, err
		}
		records, err := c.decoder.DecodeBlock(buf, c.r.order, iv.ChromIx)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			keep := false
			if overlaps {
				keep = rec.Bounds().Intersects(iv)
			} else {
				keep = iv.Contains(rec.Bounds())
			}
			if keep {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

// SelectZoomLevel returns the index into ZoomLevels() of the coarsest level
// whose reduction does not exceed desiredReduction, or -1 if none qualifies
// (the caller should fall back to the unzoomed data).
func (c *Container) SelectZoomLevel(desiredReduction uint32) int {
	best := -1
	var bestReduction uint32
	for i, lv := range c.levels {
		if lv.Reduction <= desiredReduction && lv.Reduction > bestReduction {
			best = i
			bestReduction = lv.Reduction
		}
	}
	return best
}

// zoomQuery decodes ZoomData records overlapping iv from the zoom level at
// index idx.
func (c *Container) zoomQuery(idx int, iv ChromosomeInterval) ([]ZoomData, error) {
	lv := c.levels[idx]
	blocks, err := FindOverlappingBlocks(c.r, int64(lv.IndexOffset), iv.AsMulti())
	if err != nil {
		return nil, err
	}
	comp := compressionFor(c.header.Version, c.header.UncompressBufSize)

	var out []ZoomData
	for _, b := range blocks {
		raw := make([]byte, b.DataSize)
		if err := c.r.readAt(raw, int64(b.DataOffset)); err != nil {
			return nil, err
		}
		buf, err := decompressBlock(raw, comp, 0)
		if err != nil {
			return nil, err
		}
		cur := newBounded(buf, c.r.order)
		for cur.remaining() >= zoomDataBytes {
			var z ZoomData
			var e error
			if z.ChromIx, e = cur.u32(); e != nil {
				return nil, e
			}
			if z.Start, e = cur.u32(); e != nil {
				return nil, e
			}
			if z.End, e = cur.u32(); e != nil {
				return nil, e
			}
			if z.Count, e = cur.u32(); e != nil {
				return nil, e
			}
			minF, e := cur.f32()
			if e != nil {
				return nil, e
			}
			maxF, e := cur.f32()
			if e != nil {
				return nil, e
			}
			sumF, e := cur.f32()
			if e != nil {
				return nil, e
			}
			sumSqF, e := cur.f32()
			if e != nil {
				return nil, e
			}
			z.Min, z.Max, z.Sum, z.SumSquares = minF, maxF, sumF, sumSqF
			zi, err := NewChromosomeInterval(z.ChromIx, z.Start, z.End)
			if err == nil && zi.Intersects(iv) {
				out = append(out, z)
			}
		}
	}
	return out, nil
}

// Summarize partitions [start, end) on name into numBins equal-width bins
// (per ChromosomeInterval.Slice) and returns one BigSummary per bin. A zoom
// level is used when its reduction is no coarser than intervalLength /
// (2*numBins) — the factor of two guarantees at least two zoom records per
// bin so a standard deviation is well defined — and useIndex permits it;
// otherwise raw records are scanned directly. numBins must not exceed the
// interval length.
func (c *Container) Summarize(name string, start, end uint32, numBins int, useIndex bool) ([]BigSummary, error) {
	if end == 0 {
		entry, ok := c.byName[name]
		if !ok {
			return nil, ErrNotFound
		}
		end = entry.Length
	}
	iv, err := c.chromInterval(name, start, end)
	if err != nil {
		return nil, err
	}
	if uint32(numBins) > iv.Length() {
		return nil, invariantErrf("numBins %d exceeds interval length %d", numBins, iv.Length())
	}
	bins, err := iv.Slice(numBins)
	if err != nil {
		return nil, err
	}

	var zoomIdx int = -1
	if useIndex {
		desired := iv.Length() / uint32(2*numBins)
		zoomIdx = c.SelectZoomLevel(desired)
	}

	out := make([]BigSummary, numBins)
	if zoomIdx >= 0 {
		zdata, err := c.zoomQuery(zoomIdx, iv)
		if err != nil {
			return nil, err
		}
		for i, bin := range bins {
			out[i] = summarizeZoomBin(zdata, bin)
		}
		return out, nil
	}

	records, err := c.queryIndex(int64(c.header.UnzoomedIndexOffset), iv, true)
	if err != nil {
		return nil, err
	}
	for i, bin := range bins {
		out[i] = summarizeRawBin(records, bin)
	}
	return out, nil
}

func summarizeRawBin(records []Intervaled, bin ChromosomeInterval) BigSummary {
	out := EmptySummary
	for _, rec := range records {
		overlap, ok := rec.Bounds().Intersection(bin)
		if !ok {
			continue
		}
		bases := float64(overlap.Length())
		v := rec.Magnitude()
		out = out.Merge(BigSummary{
			Count:      uint64(overlap.Length()),
			Min:        v,
			Max:        v,
			Sum:        v * bases,
			SumSquares: v * v * bases,
		})
	}
	return out
}

func summarizeZoomBin(zdata []ZoomData, bin ChromosomeInterval) BigSummary {
	out := EmptySummary
	for _, z := range zdata {
		zi, err := NewChromosomeInterval(z.ChromIx, z.Start, z.End)
		if err != nil {
			continue
		}
		overlap, ok := zi.Intersection(bin)
		if !ok {
			continue
		}
		frac := float64(overlap.Length()) / float64(zi.Length())
		s := z.Summary()
		out = out.Merge(BigSummary{
			Count:      uint64(frac * float64(s.Count)),
			Min:        s.Min,
			Max:        s.Max,
			Sum:        frac * s.Sum,
			SumSquares: frac * s.SumSquares,
		})
	}
	return out
}
