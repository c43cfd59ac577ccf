package domain

import "testing"

func TestNormalizePlate(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "abc 123", want: "ABC123"},
		{raw: "B-1234-XYZ", want: "B1234XYZ"},
		{raw: "  d 4 ", want: "D4"},
		{raw: "ÄBC1", want: "BC1"},
		{raw: "", want: ""},
	}
	for _, tc := range tests {
		got := NormalizePlate(tc.raw)
		if got != tc.want {
			t.Fatalf("NormalizePlate(%q) = %q, want %q", tc.raw, got, tc.want)
		}
		if again := NormalizePlate(got); again != got {
			t.Fatalf("NormalizePlate not idempotent: %q -> %q", got, again)
		}
	}
}

func TestSelectCandidate(t *testing.T) {
	candidates := []PlateCandidate{
		{Text: "AB1", Confidence: 0.99},
		{Text: "b 1234 xyz", Confidence: 0.7},
		{Text: "ZZZ999", Confidence: 0.95},
	}
	got, ok := SelectCandidate(candidates)
	if !ok {
		t.Fatal("expected a candidate")
	}
	if got.Text != "B1234XYZ" {
		t.Fatalf("text = %q, want %q", got.Text, "B1234XYZ")
	}
	if got.Confidence != 0.7 {
		t.Fatalf("confidence = %v, want 0.7", got.Confidence)
	}
}

func TestSelectCandidateRejectsImplausibleLengths(t *testing.T) {
	_, ok := SelectCandidate([]PlateCandidate{{Text: "AB12"}, {Text: "ABCDEFGHIJ"}})
	if ok {
		t.Fatal("expected no candidate")
	}
}
