package bbi

import (
	"encoding/binary"
	"testing"
)

func buildTestRtree(t *testing.T, leaves []RtreeLeaf, blockSize uint32) *seekBuf {
	t.Helper()
	buf := &seekBuf{}
	w := NewWriter(buf, binary.LittleEndian)
	if err := BuildRtree(w, leaves, blockSize, uint64(w.Offset())); err != nil {
		t.Fatalf("BuildRtree: %v", err)
	}
	return buf
}

func mkLeaf(chromIx, start, end uint32, dataOffset, dataSize uint64) RtreeLeaf {
	iv := ChromosomeInterval{ChromIx: chromIx, Start: start, End: end}
	return RtreeLeaf{Bounds: iv.AsMulti(), DataOffset: dataOffset, DataSize: dataSize}
}

func TestRtreeFindOverlappingBlocks(t *testing.T) {
	leaves := []RtreeLeaf{
		mkLeaf(0, 0, 100, 1000, 10),
		mkLeaf(0, 100, 200, 1010, 10),
		mkLeaf(0, 200, 300, 1020, 10),
		mkLeaf(1, 0, 50, 1030, 10),
		mkLeaf(1, 50, 150, 1040, 10),
	}
	for _, blockSize := range []uint32{2, 3, 100} {
		buf := buildTestRtree(t, leaves, blockSize)
		r := NewReader(buf, binary.LittleEndian)

		query := ChromosomeInterval{ChromIx: 0, Start: 50, End: 250}.AsMulti()
		got, err := FindOverlappingBlocks(r, 0, query)
		if err != nil {
			t.Fatalf("blockSize=%d FindOverlappingBlocks: %v", blockSize, err)
		}
		wantOffsets := map[uint64]bool{1000: true, 1010: true, 1020: true}
		if len(got) != len(wantOffsets) {
			t.Fatalf("blockSize=%d: got %d matches, want %d", blockSize, len(got), len(wantOffsets))
		}
		for _, g := range got {
			if !wantOffsets[g.DataOffset] {
				t.Errorf("blockSize=%d: unexpected match at dataOffset %d", blockSize, g.DataOffset)
			}
		}

		none := ChromosomeInterval{ChromIx: 1, Start: 1000, End: 2000}.AsMulti()
		got, err = FindOverlappingBlocks(r, 0, none)
		if err != nil {
			t.Fatalf("FindOverlappingBlocks: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("blockSize=%d: expected no matches for a disjoint query, got %d", blockSize, len(got))
		}
	}
}

func TestRtreeSingleLeafRoot(t *testing.T) {
	leaves := []RtreeLeaf{mkLeaf(0, 10, 20, 500, 8)}
	buf := buildTestRtree(t, leaves, 4)
	r := NewReader(buf, binary.LittleEndian)

	query := ChromosomeInterval{ChromIx: 0, Start: 0, End: 100}.AsMulti()
	got, err := FindOverlappingBlocks(r, 0, query)
	if err != nil {
		t.Fatalf("FindOverlappingBlocks: %v", err)
	}
	if len(got) != 1 || got[0].DataOffset != 500 {
		t.Errorf("got %+v, want a single leaf at offset 500", got)
	}
}
