package bed

import (
	"reflect"
	"testing"

	"github.com/ucsc-bbi/bbi/internal/bbi"
)

func TestRecordBoundsAndMagnitude(t *testing.T) {
	r := Record{Chrom: "chr1", ChromIx: 3, Start: 100, End: 200, Rest: "feature1\t500\t+"}
	want := bbi.ChromosomeInterval{ChromIx: 3, Start: 100, End: 200}
	if got := r.Bounds(); got != want {
		t.Errorf("Bounds() = %+v, want %+v", got, want)
	}
	if got := r.Magnitude(); got != 1 {
		t.Errorf("Magnitude() = %v, want 1", got)
	}
}

func TestParseExtendedFieldsEmpty(t *testing.T) {
	f, err := ParseExtendedFields("")
	if err != nil {
		t.Fatalf("ParseExtendedFields(\"\"): %v", err)
	}
	if !reflect.DeepEqual(f, ExtendedFields{}) {
		t.Errorf("ParseExtendedFields(\"\") = %+v, want the zero value", f)
	}
}

func TestParseExtendedFieldsPartial(t *testing.T) {
	f, err := ParseExtendedFields("myFeature\t500")
	if err != nil {
		t.Fatalf("ParseExtendedFields: %v", err)
	}
	if f.Name != "myFeature" || f.Score != 500 {
		t.Errorf("got Name=%q Score=%d, want Name=myFeature Score=500", f.Name, f.Score)
	}
	if f.Strand != 0 {
		t.Errorf("Strand = %q, want zero value (absent column)", f.Strand)
	}
}

func TestParseExtendedFieldsFull(t *testing.T) {
	rest := "myFeature\t750\t-\t100\t200\t255,0,0\t3\t10,20,30\t0,40,90\tsomeExtra"
	f, err := ParseExtendedFields(rest)
	if err != nil {
		t.Fatalf("ParseExtendedFields: %v", err)
	}
	want := ExtendedFields{
		Name:        "myFeature",
		Score:       750,
		Strand:      '-',
		ThickStart:  100,
		ThickEnd:    200,
		ItemRGB:     "255,0,0",
		BlockCount:  3,
		BlockSizes:  []int{10, 20, 30},
		BlockStarts: []int{0, 40, 90},
		Extra:       []string{"someExtra"},
	}
	if !reflect.DeepEqual(f, want) {
		t.Errorf("ParseExtendedFields = %+v, want %+v", f, want)
	}
}

func TestParseExtendedFieldsRejectsOutOfRangeScore(t *testing.T) {
	_, err := ParseExtendedFields("name\t1001")
	if err == nil {
		t.Fatalf("expected an error for a score above 1000")
	}
	if !bbi.IsKind(err, bbi.KindInvariant) {
		t.Errorf("expected KindInvariant, got %v", err)
	}
}

func TestParseExtendedFieldsRejectsBadStrand(t *testing.T) {
	_, err := ParseExtendedFields("name\t500\t?")
	if err == nil {
		t.Fatalf("expected an error for an invalid strand")
	}
	if !bbi.IsKind(err, bbi.KindInvariant) {
		t.Errorf("expected KindInvariant, got %v", err)
	}
}

func TestParseExtendedFieldsRejectsBlockCountMismatch(t *testing.T) {
	rest := "name\t500\t+\t0\t0\t0\t2\t10,20,30\t0,10,30"
	_, err := ParseExtendedFields(rest)
	if err == nil {
		t.Fatalf("expected an error when blockSizes disagrees with blockCount")
	}
	if !bbi.IsKind(err, bbi.KindInvariant) {
		t.Errorf("expected KindInvariant, got %v", err)
	}
}
