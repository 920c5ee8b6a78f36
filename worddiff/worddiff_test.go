package worddiff

import (
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTokenize_PreservesWhitespace(t *testing.T) {
	// WHAT: tokens alternate between word and whitespace runs.
	// WHY: rejoining tokens must reproduce the input exactly.
	in := "hello  world\n\tagain "
	got := Tokenize(in)
	want := []string{"hello", "  ", "world", "\n\t", "again", " "}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("tokens mismatch (-want +got):\n%s", diff)
	}
	if strings.Join(got, "") != in {
		t.Fatal("join(tokens) != input")
	}
	if Tokenize("") != nil {
		t.Fatal("empty input should yield no tokens")
	}
}

func TestCompare_Identical(t *testing.T) {
	r := Compare("same text here", "same text here")
	if r.Similarity != 1 {
		t.Fatalf("similarity = %v, want 1", r.Similarity)
	}
	want := []Chunk{{Op: Equal, Text: "same text here"}}
	if diff := cmp.Diff(want, r.Chunks); diff != "" {
		t.Fatalf("chunks (-want +got):\n%s", diff)
	}
}

func TestCompare_BothEmpty(t *testing.T) {
	r := Compare("", "")
	if r.Similarity != 1 {
		t.Fatalf("similarity = %v, want 1", r.Similarity)
	}
	if len(r.Chunks) != 0 {
		t.Fatalf("chunks = %v, want none", r.Chunks)
	}
}

func TestCompare_SingleWordChange(t *testing.T) {
	// WHAT: replacing one word yields removed+added in the middle.
	r := Compare("price is 10 euros", "price is 12 euros")
	want := []Chunk{
		{Op: Equal, Text: "price is "},
		{Op: Removed, Text: "10"},
		{Op: Added, Text: "12"},
		{Op: Equal, Text: " euros"},
	}
	if diff := cmp.Diff(want, r.Chunks); diff != "" {
		t.Fatalf("chunks (-want +got):\n%s", diff)
	}
	// 1 - (2+2)/(17+17)
	wantSim := 1 - 4.0/34.0
	if math.Abs(r.Similarity-wantSim) > 1e-9 {
		t.Fatalf("similarity = %v, want %v", r.Similarity, wantSim)
	}
}

func TestCompare_FromEmpty(t *testing.T) {
	r := Compare("", "brand new")
	if r.Similarity != 0 {
		t.Fatalf("similarity = %v, want 0", r.Similarity)
	}
	want := []Chunk{{Op: Added, Text: "brand new"}}
	if diff := cmp.Diff(want, r.Chunks); diff != "" {
		t.Fatalf("chunks (-want +got):\n%s", diff)
	}
}

func TestCompare_RoundTrip(t *testing.T) {
	// WHAT: Equal+Added rebuilds current, Equal+Removed rebuilds previous.
	// WHY: the report renders both sides from the same chunk list.
	cases := []struct{ prev, cur string }{
		{"a b c d e", "a c d f e"},
		{"the quick brown fox", "a slow brown dog jumps"},
		{"line one\nline two\nline three", "line zero\nline one\nline three\nline four"},
		{"x", ""},
		{"", "y"},
		{"  leading", "trailing  "},
		{"déjà vu à Paris", "déjà vu à Lyon"},
	}
	for _, tc := range cases {
		r := Compare(tc.prev, tc.cur)
		if got := Current(r.Chunks); got != tc.cur {
			t.Errorf("Current(%q→%q) = %q", tc.prev, tc.cur, got)
		}
		if got := Previous(r.Chunks); got != tc.prev {
			t.Errorf("Previous(%q→%q) = %q", tc.prev, tc.cur, got)
		}
		for i := 1; i < len(r.Chunks); i++ {
			if r.Chunks[i].Op == r.Chunks[i-1].Op {
				t.Errorf("%q→%q: adjacent chunks %d,%d share op %v", tc.prev, tc.cur, i-1, i, r.Chunks[i].Op)
			}
		}
		if r.Similarity < 0 || r.Similarity > 1 {
			t.Errorf("similarity out of range: %v", r.Similarity)
		}
	}
}

func TestDiff_Minimal(t *testing.T) {
	// WHAT: classic Myers example ABCABBA → CBABAC has edit distance 5.
	a := strings.Split("ABCABBA", "")
	b := strings.Split("CBABAC", "")
	chunks := Diff(a, b)
	edits := 0
	for _, c := range chunks {
		if c.Op != Equal {
			edits += len(c.Text)
		}
	}
	if edits != 5 {
		t.Fatalf("edit distance = %d, want 5 (chunks=%v)", edits, chunks)
	}
	if Current(chunks) != "CBABAC" || Previous(chunks) != "ABCABBA" {
		t.Fatalf("round trip failed: %v", chunks)
	}
}

func TestCompare_InputTruncated(t *testing.T) {
	big := strings.Repeat("a", MaxInputChars+10)
	r := Compare(big, "a")
	if !r.InputTruncated {
		t.Fatal("expected InputTruncated")
	}
	if r.OutputTruncated != true {
		// the removed side alone exceeds the output cap
		t.Fatal("expected OutputTruncated")
	}
}

func TestCompare_OutputTruncated(t *testing.T) {
	prev := strings.Repeat("w ", 50_000)
	r := Compare(prev, "")
	if r.InputTruncated {
		t.Fatal("input is under the cap")
	}
	if !r.OutputTruncated {
		t.Fatal("expected OutputTruncated")
	}
	total := 0
	for _, c := range r.Chunks {
		total += len(c.Text)
	}
	if total != MaxOutputChars {
		t.Fatalf("output chars = %d, want %d", total, MaxOutputChars)
	}
	if r.RemovedChars != 100_000 {
		t.Fatalf("removed chars = %d, want 100000", r.RemovedChars)
	}
}

func TestCompare_LargeEditDistanceStaysMinimal(t *testing.T) {
	// WHAT: 3000 one-letter word changes give exactly 3000 removed and
	// 3000 added characters.
	// WHY: a page where many small values move must not be reported as
	// rewritten wholesale; the similarity feeds the report file name.
	prev := strings.Repeat("same x ", 3000)
	cur := strings.Repeat("same y ", 3000)
	r := Compare(prev, cur)
	if r.AddedChars != 3000 || r.RemovedChars != 3000 {
		t.Fatalf("added=%d removed=%d, want 3000 each", r.AddedChars, r.RemovedChars)
	}
	want := 1 - 6000.0/float64(len(prev)+len(cur))
	if math.Abs(r.Similarity-want) > 1e-9 {
		t.Fatalf("similarity = %v, want %v", r.Similarity, want)
	}
	if Previous(r.Chunks) != prev || Current(r.Chunks) != cur {
		t.Fatal("chunks do not round trip")
	}
}

func TestDiff_MinimalOnShiftedBlocks(t *testing.T) {
	// WHAT: an inserted header and a deleted footer around a long shared
	// body cost only their own tokens.
	body := strings.Repeat("row value ", 2500)
	prev := body + "old footer"
	cur := "new header " + body
	r := Compare(prev, cur)
	if r.AddedChars != len("new header ") || r.RemovedChars != len("old footer") {
		t.Fatalf("added=%d removed=%d", r.AddedChars, r.RemovedChars)
	}
	if Previous(r.Chunks) != prev || Current(r.Chunks) != cur {
		t.Fatal("chunks do not round trip")
	}
}

func TestSimilarity_Symmetric(t *testing.T) {
	// ratio depends only on edit volume and total length
	a, b := "one two three", "one four three five"
	if Similarity(a, b) != Similarity(b, a) {
		t.Fatalf("%v != %v", Similarity(a, b), Similarity(b, a))
	}
}

func TestOp_String(t *testing.T) {
	if Equal.String() != "equal" || Added.String() != "added" || Removed.String() != "removed" {
		t.Fatal("unexpected Op names")
	}
}
