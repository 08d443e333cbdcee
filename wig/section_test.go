package wig

import "testing"

func TestSectionChromosome(t *testing.T) {
	cases := []Section{
		BedGraphSection{Chrom: "chr1"},
		VariableStepSection{Chrom: "chr2"},
		FixedStepSection{Chrom: "chr3"},
	}
	want := []string{"chr1", "chr2", "chr3"}
	for i, s := range cases {
		if got := s.Chromosome(); got != want[i] {
			t.Errorf("case %d: Chromosome() = %q, want %q", i, got, want[i])
		}
	}
}

func TestValueBoundsAndMagnitude(t *testing.T) {
	v := Value{ChromIx: 2, Start: 10, End: 20, V: 3.5}
	wantBounds := v.Bounds()
	if wantBounds.ChromIx != 2 || wantBounds.Start != 10 || wantBounds.End != 20 {
		t.Errorf("Bounds() = %+v", wantBounds)
	}
	if got := v.Magnitude(); got != 3.5 {
		t.Errorf("Magnitude() = %v, want 3.5", got)
	}
}

func TestFixedStepImplicitPositions(t *testing.T) {
	s := FixedStepSection{Chrom: "chr1", Start: 100, Step: 10, Span: 5, Values: []float32{1, 2, 3}}
	for i, v := range s.Values {
		pos := s.Start + uint32(i)*s.Step
		if i == 0 && pos != 100 {
			t.Errorf("first position = %d, want 100", pos)
		}
		_ = v
	}
	lastPos := s.Start + uint32(len(s.Values)-1)*s.Step
	if lastPos != 120 {
		t.Errorf("last position = %d, want 120", lastPos)
	}
}
