package voice

import (
	"strings"
	"testing"
)

func TestUnitScannerHoldsShortReplyUntilFinalize(t *testing.T) {
	s := newUnitScanner()

	var units []string
	for _, delta := range []string{"Two", " plus two is", " four."} {
		units = append(units, s.Push(delta)...)
	}
	if len(units) != 0 {
		t.Fatalf("units before finalize = %v, want none", units)
	}

	units = s.Finalize()
	if len(units) != 1 {
		t.Fatalf("finalized units = %v, want exactly one", units)
	}
	if units[0] != "Two plus two is four." {
		t.Fatalf("unit = %q, want %q", units[0], "Two plus two is four.")
	}
}

func TestUnitScannerEmitsAtSentenceBoundary(t *testing.T) {
	s := newUnitScanner()

	units := s.Push("Here is the first full sentence. And now the second one keeps going for a while.")
	if len(units) == 0 {
		t.Fatal("expected at least one unit at the sentence boundary")
	}
	if units[0] != "Here is the first full sentence." {
		t.Fatalf("first unit = %q, want the first sentence", units[0])
	}
}

func TestUnitScannerAbbreviationGuard(t *testing.T) {
	s := newUnitScanner()

	text := "You should speak with Dr. Smith about it soon."
	units := append(s.Push(text), s.Finalize()...)
	for _, u := range units {
		if strings.HasSuffix(u, "Dr.") {
			t.Fatalf("unit %q ends at an abbreviation, want the guard to hold", u)
		}
	}
	joined := strings.Join(units, " ")
	if joined != text {
		t.Fatalf("joined units = %q, want %q", joined, text)
	}
}

func TestUnitScannerDecimalGuard(t *testing.T) {
	s := newUnitScanner()

	text := "The value of pi is about 3.14159 rounded to five places."
	units := append(s.Push(text), s.Finalize()...)
	for _, u := range units {
		if strings.HasSuffix(u, "3.") {
			t.Fatalf("unit %q splits a decimal number", u)
		}
	}
}

func TestUnitScannerOrderingProperty(t *testing.T) {
	s := newUnitScanner()

	deltas := []string{
		"First sentence lands right here. ",
		"Second sentence follows the first one naturally. ",
		"And a third sentence closes",
		" the reply out completely.",
	}
	var units []string
	for _, d := range deltas {
		units = append(units, s.Push(d)...)
	}
	units = append(units, s.Finalize()...)

	want := normalizeUnit(strings.Join(deltas, ""))
	got := strings.Join(units, " ")
	if got != want {
		t.Fatalf("concatenated units = %q, want %q", got, want)
	}
	if len(units) < 2 {
		t.Fatalf("units = %v, want the reply split across multiple units", units)
	}
}

func TestUnitScannerLengthCapCut(t *testing.T) {
	s := newUnitScanner()

	text := "this reply has no punctuation at all and just keeps running on and on well past the cap"
	var units []string
	units = append(units, s.Push(text)...)
	units = append(units, s.Finalize()...)

	if len(units) < 2 {
		t.Fatalf("units = %v, want a length-cap split", units)
	}
	if strings.Join(units, " ") != text {
		t.Fatalf("joined units = %q, want %q", strings.Join(units, " "), text)
	}
}

func TestUnitScannerReset(t *testing.T) {
	s := newUnitScanner()
	s.Push("Some buffered text that was never spoken")
	s.Reset()
	if units := s.Finalize(); len(units) != 0 {
		t.Fatalf("units after reset = %v, want none", units)
	}
}

func TestIsStructuredFragment(t *testing.T) {
	cases := []struct {
		chunk string
		want  bool
	}{
		{`{"type":"delta","text":"hi"}`, true},
		{`[{"op":"add"}]`, true},
		{`{"partial`, true},
		{"Plain reply text.", false},
		{"{", false},
		{"brackets [like this] inline", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := isStructuredFragment(tc.chunk); got != tc.want {
			t.Fatalf("isStructuredFragment(%q) = %v, want %v", tc.chunk, got, tc.want)
		}
	}
}
