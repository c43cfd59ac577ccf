package pagination

import "testing"

func TestClampPageSize(t *testing.T) {
	cfg := PageSizeConfig{Default: 20, Max: 100}
	tests := []struct {
		in   int
		want int
	}{
		{0, 20},
		{-3, 20},
		{5, 5},
		{500, 100},
	}
	for _, tc := range tests {
		if got := ClampPageSize(tc.in, cfg); got != tc.want {
			t.Fatalf("ClampPageSize(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
	if got := ClampPageSize(0, PageSizeConfig{}); got != 1 {
		t.Fatalf("ClampPageSize with empty config = %d, want 1", got)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	if EncodeToken(0) != "" {
		t.Fatal("expected empty token for offset zero")
	}
	offset, err := DecodeToken(EncodeToken(40))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if offset != 40 {
		t.Fatalf("offset = %d, want 40", offset)
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	for _, token := range []string{"!!!", "eDQw", "bzA"} {
		if _, err := DecodeToken(token); err == nil {
			t.Fatalf("expected error for token %q", token)
		}
	}
}
