package bbi

// RtreeHeaderBytes is the fixed size of the R+-tree header.
const RtreeHeaderBytes = 48

const (
	rtreeLeafEntryBytes     = 4 + 4 + 4 + 4 + 8 + 8 // bounds + dataOffset + dataSize
	rtreeInternalEntryBytes = 4 + 4 + 4 + 4 + 8      // bounds + childOffset
	rtreeNodeHeaderBytes    = 1 + 1 + 2
)

// RtreeLeaf is one data block indexed by the R+-tree: its genomic bounding
// box and its byte range in the file.
type RtreeLeaf struct {
	Bounds     MultiInterval
	DataOffset uint64
	DataSize   uint64
}

// BuildRtree writes a complete R+-tree (header, index levels, leaves) at the
// writer's current position, indexing leaves in the order given. leaves must
// already be ordered the way the data blocks were written (ascending by
// chromosome then start); BuildRtree does not sort them, since the single-
// pass writer produces them in that order as a side effect of chromosome
// iteration order.
func BuildRtree(w *Writer, leaves []RtreeLeaf, blockSize uint32, endFileOffset uint64) error {
	itemCount := uint64(len(leaves))

	var span MultiInterval
	if itemCount > 0 {
		span = leaves[0].Bounds
		for _, l := range leaves[1:] {
			span = span.Union(l.Bounds)
		}
	}

	if err := w.U32(magicRtree); err != nil {
		return err
	}
	if err := w.U32(blockSize); err != nil {
		return err
	}
	if err := w.U64(itemCount); err != nil {
		return err
	}
	if err := w.U32(span.StartChromIx); err != nil {
		return err
	}
	if err := w.U32(span.StartBase); err != nil {
		return err
	}
	if err := w.U32(span.EndChromIx); err != nil {
		return err
	}
	if err := w.U32(span.EndBase); err != nil {
		return err
	}
	if err := w.U64(endFileOffset); err != nil {
		return err
	}
	if err := w.U32(blockSize); err != nil { // itemsPerSlot: informational only
		return err
	}
	if err := w.U32(0); err != nil { // reserved
		return err
	}

	if itemCount == 0 {
		return nil
	}

	counts, levels := bptLevelCounts(itemCount, uint64(blockSize))
	leafNodeSize := rtreeNodeHeaderBytes + int(blockSize)*rtreeLeafEntryBytes
	internalNodeSize := rtreeNodeHeaderBytes + int(blockSize)*rtreeInternalEntryBytes

	if levels == 0 {
		return writeRtreeLeafNode(w, leaves, 0, len(leaves), int(blockSize))
	}

	// Bounding boxes per node at each level (boundsByLevel[0] holds one box
	// per leaf node), computed bottom-up from the leaf entries.
	boundsByLevel := make([][]MultiInterval, levels+1)
	below := make([]MultiInterval, itemCount)
	for i, l := range leaves {
		below[i] = l.Bounds
	}
	for d := 0; d <= levels; d++ {
		cur := make([]MultiInterval, counts[d])
		for k := range cur {
			start := k * int(blockSize)
			end := start + int(blockSize)
			if end > len(below) {
				end = len(below)
			}
			box := below[start]
			for _, b := range below[start+1 : end] {
				box = box.Union(b)
			}
			cur[k] = box
		}
		boundsByLevel[d] = cur
		below = cur
	}

	nodeSizeAt := func(level int) int64 {
		if level == 0 {
			return int64(leafNodeSize)
		}
		return int64(internalNodeSize)
	}

	rootOffset := w.Offset()
	offsets := make([]int64, levels+1)
	offsets[levels] = rootOffset
	for d := levels; d > 0; d-- {
		offsets[d-1] = offsets[d] + int64(counts[d])*nodeSizeAt(d)
	}

	for d := levels; d >= 1; d-- {
		below := boundsByLevel[d-1]
		for node := 0; node < int(counts[d]); node++ {
			childBase := node * int(blockSize)
			childCount := len(below) - childBase
			if childCount > int(blockSize) {
				childCount = int(blockSize)
			}
			if err := w.U8(0); err != nil {
				return err
			}
			if err := w.U8(0); err != nil {
				return err
			}
			if err := w.U16(uint16(childCount)); err != nil {
				return err
			}
			for slot := 0; slot < int(blockSize); slot++ {
				if slot < childCount {
					childIdx := childBase + slot
					box := below[childIdx]
					if err := writeRtreeBounds(w, box); err != nil {
						return err
					}
					childOffset := offsets[d-1] + int64(childIdx)*nodeSizeAt(d-1)
					if err := w.U64(uint64(childOffset)); err != nil {
						return err
					}
				} else {
					if err := w.SkipBytes(rtreeInternalEntryBytes, 0); err != nil {
						return err
					}
				}
			}
		}
	}

	for node := 0; node < int(counts[0]); node++ {
		start := node * int(blockSize)
		end := start + int(blockSize)
		if end > len(leaves) {
			end = len(leaves)
		}
		if err := writeRtreeLeafNode(w, leaves, start, end, int(blockSize)); err != nil {
			return err
		}
	}

	return nil
}

func writeRtreeBounds(w *Writer, m MultiInterval) error {
	if err := w.U32(m.StartChromIx); err != nil {
		return err
	}
	if err := w.U32(m.StartBase); err != nil {
		return err
	}
	if err := w.U32(m.EndChromIx); err != nil {
		return err
	}
	return w.U32(m.EndBase)
}

func writeRtreeLeafNode(w *Writer, leaves []RtreeLeaf, start, end, blockSize int) error {
	childCount := end - start
	if err := w.U8(1); err != nil {
		return err
	}
	if err := w.U8(0); err != nil {
		return err
	}
	if err := w.U16(uint16(childCount)); err != nil {
		return err
	}
	for i := 0; i < blockSize; i++ {
		if i < childCount {
			l := leaves[start+i]
			if err := writeRtreeBounds(w, l.Bounds); err != nil {
				return err
			}
			if err := w.U64(l.DataOffset); err != nil {
				return err
			}
			if err := w.U64(l.DataSize); err != nil {
				return err
			}
		} else {
			if err := w.SkipBytes(rtreeLeafEntryBytes, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

// rtHeader is the decoded R+-tree header.
type rtHeader struct {
	BlockSize uint32
	ItemCount uint64
	Root      int64
}

func readRtHeader(r *Reader, offset int64) (rtHeader, error) {
	var h rtHeader
	magic, err := r.u32(offset)
	if err != nil {
		return h, err
	}
	if magic != magicRtree {
		return h, formatErrf("bad R+-tree magic %#x", magic)
	}
	if h.BlockSize, err = r.u32(offset + 4); err != nil {
		return h, err
	}
	if h.ItemCount, err = r.u64(offset + 8); err != nil {
		return h, err
	}
	h.Root = offset + RtreeHeaderBytes
	return h, nil
}

func readRtreeBounds(r *Reader, offset int64) (MultiInterval, error) {
	var m MultiInterval
	var err error
	if m.StartChromIx, err = r.u32(offset); err != nil {
		return m, err
	}
	if m.StartBase, err = r.u32(offset + 4); err != nil {
		return m, err
	}
	if m.EndChromIx, err = r.u32(offset + 8); err != nil {
		return m, err
	}
	if m.EndBase, err = r.u32(offset + 12); err != nil {
		return m, err
	}
	return m, nil
}

// FindOverlappingBlocks returns every leaf entry whose bounding box
// intersects query, found by a depth-first walk of the R+-tree rooted at
// rtreeOffset. At each internal node every child entry is read and filtered
// against query before any recursive descent, so a node with no matching
// children is pruned without touching its subtree at all.
func FindOverlappingBlocks(r *Reader, rtreeOffset int64, query MultiInterval) ([]RtreeLeaf, error) {
	h, err := readRtHeader(r, rtreeOffset)
	if err != nil {
		return nil, err
	}
	if h.ItemCount == 0 {
		return nil, nil
	}
	var out []RtreeLeaf
	if err := rtWalk(r, h.Root, query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func rtWalk(r *Reader, nodeOffset int64, query MultiInterval, out *[]RtreeLeaf) error {
	isLeaf, err := r.u8(nodeOffset)
	if err != nil {
		return err
	}
	childCount, err := r.u16(nodeOffset + 2)
	if err != nil {
		return err
	}
	base := nodeOffset + rtreeNodeHeaderBytes

	if isLeaf != 0 {
		type candidate struct {
			bounds     MultiInterval
			dataOffset uint64
			dataSize   uint64
		}
		entries := make([]candidate, 0, childCount)
		for i := uint16(0); i < childCount; i++ {
			off := base + int64(i)*rtreeLeafEntryBytes
			bounds, err := readRtreeBounds(r, off)
			if err != nil {
				return err
			}
			dataOffset, err := r.u64(off + 16)
			if err != nil {
				return err
			}
			dataSize, err := r.u64(off + 24)
			if err != nil {
				return err
			}
			entries = append(entries, candidate{bounds, dataOffset, dataSize})
		}
		for _, e := range entries {
			if e.bounds.Intersects(query) {
				*out = append(*out, RtreeLeaf{Bounds: e.bounds, DataOffset: e.dataOffset, DataSize: e.dataSize})
			}
		}
		return nil
	}

	type childEntry struct {
		bounds MultiInterval
		offset int64
	}
	children := make([]childEntry, 0, childCount)
	for i := uint16(0); i < childCount; i++ {
		off := base + int64(i)*rtreeInternalEntryBytes
		bounds, err := readRtreeBounds(r, off)
		if err != nil {
			return err
		}
		co, err := r.u64(off + 16)
		if err != nil {
			return err
		}
		children = append(children, childEntry{bounds, int64(co)})
	}
	for _, c := range children {
		if !c.bounds.Intersects(query) {
			continue
		}
		if err := rtWalk(r, c.offset, query, out); err != nil {
			return err
		}
	}
	return nil
}
