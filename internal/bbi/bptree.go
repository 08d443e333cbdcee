package bbi

import (
	"bytes"
	"sort"
)

// ChromEntry is one chromosome dictionary entry: a name, its small integer
// id, and its length in bases.
type ChromEntry struct {
	Name   string
	ID     uint32
	Length uint32
}

// bptHeaderBytes is the fixed size of the B+-tree header: magic, blockSize,
// keySize, valSize, itemCount, reserved.
const bptHeaderBytes = 4 + 4 + 4 + 4 + 8 + 8

// bptNodeHeaderBytes is (isLeaf, reserved, childCount).
const bptNodeHeaderBytes = 1 + 1 + 2

// bptValSize is fixed at 8: a leaf value is (id uint32, length uint32).
const bptValSize = 8

// BuildChromTree writes a complete B+-tree (header, index levels, leaves) at
// the writer's current position, storing each entry's caller-assigned ID and
// Length. chroms need not be pre-sorted; BuildChromTree sorts a copy by name.
// blockSize bounds the number of children per node.
func BuildChromTree(w *Writer, chroms []ChromEntry, blockSize uint32) error {
	items := make([]ChromEntry, len(chroms))
	copy(items, chroms)
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })

	keySize := 0
	for _, it := range items {
		if len(it.Name) > keySize {
			keySize = len(it.Name)
		}
	}

	itemCount := uint64(len(items))

	if err := w.U32(magicBptree); err != nil {
		return err
	}
	if err := w.U32(blockSize); err != nil {
		return err
	}
	if err := w.U32(uint32(keySize)); err != nil {
		return err
	}
	if err := w.U32(8); err != nil { // valSize
		return err
	}
	if err := w.U64(itemCount); err != nil {
		return err
	}
	if err := w.U64(0); err != nil { // reserved
		return err
	}

	if itemCount == 0 {
		return nil
	}

	levelNodeCounts, levels := bptLevelCounts(itemCount, uint64(blockSize))
	nodeSize := bptNodeHeaderBytes + int(blockSize)*(keySize+8)

	if levels == 0 {
		// The root is the single leaf block.
		return writeBptLeafNode(w, items, 0, int(itemCount), int(blockSize), keySize)
	}

	rootOffset := w.Offset()
	offsets := make([]int64, levels+1) // offsets[0] = leaf level start, offsets[levels] = root
	offsets[levels] = rootOffset
	for d := levels; d > 0; d-- {
		offsets[d-1] = offsets[d] + int64(levelNodeCounts[d])*int64(nodeSize)
	}

	for d := levels; d >= 1; d-- {
		span := bptPow(uint64(blockSize), uint64(d)) // leaf items per child subtree
		for node := uint64(0); node < levelNodeCounts[d]; node++ {
			childBase := node * uint64(blockSize)
			childCount := levelNodeCounts[d-1] - childBase
			if childCount > uint64(blockSize) {
				childCount = uint64(blockSize)
			}
			if err := w.U8(0); err != nil { // isLeaf
				return err
			}
			if err := w.U8(0); err != nil { // reserved
				return err
			}
			if err := w.U16(uint16(childCount)); err != nil {
				return err
			}
			for slot := uint64(0); slot < uint64(blockSize); slot++ {
				if slot < childCount {
					childIdx := childBase + slot
					firstItem := childIdx * span
					if firstItem >= itemCount {
						firstItem = itemCount - 1
					}
					key := paddedKey(items[firstItem].Name, keySize)
					if err := w.Bytes(key); err != nil {
						return err
					}
					childOffset := offsets[d-1] + int64(childIdx)*int64(nodeSize)
					if err := w.U64(uint64(childOffset)); err != nil {
						return err
					}
				} else {
					if err := w.SkipBytes(keySize+8, 0); err != nil {
						return err
					}
				}
			}
		}
	}

	// Leaf level.
	for node := uint64(0); node < levelNodeCounts[0]; node++ {
		start := int(node) * int(blockSize)
		end := start + int(blockSize)
		if end > len(items) {
			end = len(items)
		}
		if err := writeBptLeafNode(w, items, start, end, int(blockSize), keySize); err != nil {
			return err
		}
	}

	return nil
}

func writeBptLeafNode(w *Writer, items []ChromEntry, start, end, blockSize, keySize int) error {
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
			it := items[start+i]
			if err := w.Bytes(paddedKey(it.Name, keySize)); err != nil {
				return err
			}
			if err := w.U32(it.ID); err != nil {
				return err
			}
			if err := w.U32(it.Length); err != nil {
				return err
			}
		} else {
			if err := w.SkipBytes(keySize+8, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

func paddedKey(name string, keySize int) []byte {
	b := make([]byte, keySize)
	copy(b, name)
	return b
}

// bptLevelCounts computes, bottom-up, the node count at each index level
// (levelNodeCounts[0] is the leaf-block count) by repeatedly grouping the
// level below into runs of blockSize, stopping once a level has exactly one
// node (the root). levels is the number of INDEX levels above the leaves;
// levels == 0 means itemCount fit in a single leaf block, which is then
// written directly as the root (no index level at all).
func bptLevelCounts(itemCount, blockSize uint64) (levelNodeCounts []uint64, levels int) {
	counts := []uint64{ceilDivU64(itemCount, blockSize)}
	for counts[len(counts)-1] > 1 {
		counts = append(counts, ceilDivU64(counts[len(counts)-1], blockSize))
	}
	levels = len(counts) - 1
	if levels == 0 {
		return counts, 0
	}
	return counts, levels
}

func bptPow(base, exp uint64) uint64 {
	out := uint64(1)
	for i := uint64(0); i < exp; i++ {
		out *= base
	}
	return out
}

func ceilDivU64(a, b uint64) uint64 {
	if a == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// bptHeader is the decoded B+-tree header.
type bptHeader struct {
	BlockSize uint32
	KeySize   uint32
	ValSize   uint32
	ItemCount uint64
	Root      int64
}

// readBptHeader parses the B+-tree header at offset, validating magic and
// valSize.
func readBptHeader(r *Reader, offset int64) (bptHeader, error) {
	var h bptHeader
	magic, err := r.u32(offset)
	if err != nil {
		return h, err
	}
	if magic != magicBptree {
		return h, formatErrf("bad B+-tree magic %#x", magic)
	}
	if h.BlockSize, err = r.u32(offset + 4); err != nil {
		return h, err
	}
	if h.KeySize, err = r.u32(offset + 8); err != nil {
		return h, err
	}
	if h.ValSize, err = r.u32(offset + 12); err != nil {
		return h, err
	}
	if h.ValSize != 8 {
		return h, formatErrf("B+-tree valSize %d, want 8", h.ValSize)
	}
	if h.ItemCount, err = r.u64(offset + 16); err != nil {
		return h, err
	}
	h.Root = offset + bptHeaderBytes
	return h, nil
}

// FindChrom looks up name in the B+-tree rooted at chromTreeOffset, returning
// found == false (not an error) when absent.
func FindChrom(r *Reader, chromTreeOffset int64, name string) (id uint32, length uint32, found bool, err error) {
	h, err := readBptHeader(r, chromTreeOffset)
	if err != nil {
		return 0, 0, false, err
	}
	if h.ItemCount == 0 || len(name) > int(h.KeySize) {
		return 0, 0, false, nil
	}
	queryKey := paddedKey(name, int(h.KeySize))
	return bptFind(r, h, h.Root, queryKey)
}

func bptFind(r *Reader, h bptHeader, nodeOffset int64, queryKey []byte) (id uint32, length uint32, found bool, err error) {
	isLeaf, err := r.u8(nodeOffset)
	if err != nil {
		return 0, 0, false, err
	}
	childCount, err := r.u16(nodeOffset + 2)
	if err != nil {
		return 0, 0, false, err
	}
	entrySize := int64(h.KeySize) + 8
	base := nodeOffset + bptNodeHeaderBytes

	if isLeaf != 0 {
		for i := uint16(0); i < childCount; i++ {
			off := base + int64(i)*entrySize
			key, err := readFixed(r, off, int(h.KeySize))
			if err != nil {
				return 0, 0, false, err
			}
			if bytes.Equal(key, queryKey) {
				idv, err := r.u32(off + int64(h.KeySize))
				if err != nil {
					return 0, 0, false, err
				}
				lenv, err := r.u32(off + int64(h.KeySize) + 4)
				if err != nil {
					return 0, 0, false, err
				}
				return idv, lenv, true, nil
			}
		}
		return 0, 0, false, nil
	}

	var childOffset int64 = -1
	for i := uint16(0); i < childCount; i++ {
		off := base + int64(i)*entrySize
		key, err := readFixed(r, off, int(h.KeySize))
		if err != nil {
			return 0, 0, false, err
		}
		if bytes.Compare(key, queryKey) <= 0 {
			co, err := r.u64(off + int64(h.KeySize))
			if err != nil {
				return 0, 0, false, err
			}
			childOffset = int64(co)
		} else {
			break
		}
	}
	if childOffset < 0 {
		return 0, 0, false, nil
	}
	return bptFind(r, h, childOffset, queryKey)
}

func readFixed(r *Reader, offset int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := r.readAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// ListChroms performs a full depth-first traversal of the B+-tree, yielding
// every leaf in key order.
func ListChroms(r *Reader, chromTreeOffset int64) ([]ChromEntry, error) {
	h, err := readBptHeader(r, chromTreeOffset)
	if err != nil {
		return nil, err
	}
	var out []ChromEntry
	if h.ItemCount == 0 {
		return out, nil
	}
	if err := bptWalk(r, h, h.Root, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func bptWalk(r *Reader, h bptHeader, nodeOffset int64, out *[]ChromEntry) error {
	isLeaf, err := r.u8(nodeOffset)
	if err != nil {
		return err
	}
	childCount, err := r.u16(nodeOffset + 2)
	if err != nil {
		return err
	}
	entrySize := int64(h.KeySize) + 8
	base := nodeOffset + bptNodeHeaderBytes

	if isLeaf != 0 {
		for i := uint16(0); i < childCount; i++ {
			off := base + int64(i)*entrySize
			key, err := readFixed(r, off, int(h.KeySize))
			if err != nil {
				return err
			}
			id, err := r.u32(off + int64(h.KeySize))
			if err != nil {
				return err
			}
			length, err := r.u32(off + int64(h.KeySize) + 4)
			if err != nil {
				return err
			}
			name := string(bytes.TrimRight(key, "\x00"))
			*out = append(*out, ChromEntry{Name: name, ID: id, Length: length})
		}
		return nil
	}

	for i := uint16(0); i < childCount; i++ {
		off := base + int64(i)*entrySize
		co, err := r.u64(off + int64(h.KeySize))
		if err != nil {
			return err
		}
		if err := bptWalk(r, h, int64(co), out); err != nil {
			return err
		}
	}
	return nil
}
