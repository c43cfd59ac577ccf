package filter

import (
	"reflect"
	"testing"
	"time"
)

func TestParseEmpty(t *testing.T) {
	cond, err := Parse("  ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cond.Empty() {
		t.Fatalf("cond = %+v, want empty", cond)
	}
}

func TestParse(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	tests := []struct {
		name       string
		filter     string
		wantClause string
		wantParams []any
	}{
		{
			name:       "status equality",
			filter:     `status = "Failed"`,
			wantClause: "status = ?",
			wantParams: []any{"Failed"},
		},
		{
			name:       "plate is normalized",
			filter:     `plate_number = "b 1234-xyz"`,
			wantClause: "plate_number = ?",
			wantParams: []any{"B1234XYZ"},
		},
		{
			name:       "and with timestamp",
			filter:     `destination = "Masjid" AND start_time >= timestamp("2026-03-01T00:00:00Z")`,
			wantClause: "(destination = ? AND started_at >= ?)",
			wantParams: []any{"Masjid", since},
		},
		{
			name:       "or",
			filter:     `status = "Passed" OR status = "Failed"`,
			wantClause: "(status = ? OR status = ?)",
			wantParams: []any{"Passed", "Failed"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cond, err := Parse(tc.filter)
			if err != nil {
				t.Fatalf("parse %q: %v", tc.filter, err)
			}
			if cond.Clause != tc.wantClause {
				t.Fatalf("clause = %q, want %q", cond.Clause, tc.wantClause)
			}
			if !reflect.DeepEqual(cond.Params, tc.wantParams) {
				t.Fatalf("params = %#v, want %#v", cond.Params, tc.wantParams)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	for _, raw := range []string{
		`owner = "x"`,
		`status = "Lost"`,
		`visitor_name > "A"`,
		`status = `,
	} {
		if _, err := Parse(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
