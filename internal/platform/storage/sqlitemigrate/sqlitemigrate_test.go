package sqlitemigrate

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func TestApplyRecordsEachFileOnce(t *testing.T) {
	db := openMemoryDB(t)
	migrations := fstest.MapFS{
		"001_journeys.sql":   {Data: []byte("-- +migrate Up\nCREATE TABLE journeys(id TEXT PRIMARY KEY);\n-- +migrate Down\nDROP TABLE journeys;")},
		"002_detections.sql": {Data: []byte("CREATE TABLE detections(id INTEGER PRIMARY KEY);")},
		"README.md":          {Data: []byte("not a migration")},
	}

	for i := 0; i < 2; i++ {
		if err := Apply(context.Background(), db, migrations, ""); err != nil {
			t.Fatalf("apply pass %d: %v", i, err)
		}
	}

	if got := countRows(t, db, "SELECT COUNT(*) FROM schema_migrations"); got != 2 {
		t.Fatalf("recorded migrations = %d, want 2", got)
	}
	for _, table := range []string{"journeys", "detections"} {
		if !tableExists(t, db, table) {
			t.Fatalf("expected table %s", table)
		}
	}
}

func TestApplyLeavesFailedMigrationUnrecorded(t *testing.T) {
	db := openMemoryDB(t)
	bad := fstest.MapFS{"001_bad.sql": {Data: []byte("-- +migrate Up\nCREAT TABLE things(id INT);")}}

	if err := Apply(context.Background(), db, bad, ""); err == nil {
		t.Fatal("expected bad migration to fail")
	}
	if got := countRows(t, db, "SELECT COUNT(*) FROM schema_migrations"); got != 0 {
		t.Fatalf("recorded migrations = %d, want 0", got)
	}

	fixed := fstest.MapFS{"001_bad.sql": {Data: []byte("-- +migrate Up\nCREATE TABLE things(id INTEGER PRIMARY KEY);")}}
	if err := Apply(context.Background(), db, fixed, ""); err != nil {
		t.Fatalf("apply fixed migration: %v", err)
	}
	if got := countRows(t, db, "SELECT COUNT(*) FROM schema_migrations"); got != 1 {
		t.Fatalf("recorded migrations = %d, want 1", got)
	}
}

func TestApplyKeysByRoot(t *testing.T) {
	db := openMemoryDB(t)
	migrations := fstest.MapFS{"tracker/001_init.sql": {Data: []byte("CREATE TABLE routes(id TEXT);")}}

	if err := Apply(context.Background(), db, migrations, "tracker"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	var key string
	if err := db.QueryRow("SELECT name FROM schema_migrations").Scan(&key); err != nil {
		t.Fatalf("read key: %v", err)
	}
	if key != "tracker/001_init.sql" {
		t.Fatalf("key = %q, want %q", key, "tracker/001_init.sql")
	}
}

func TestApplyRequiresDB(t *testing.T) {
	if err := Apply(context.Background(), nil, fstest.MapFS{}, ""); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestUpSection(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "no markers", content: "CREATE TABLE a(x);", want: "CREATE TABLE a(x);"},
		{name: "up only", content: "-- +migrate Up\nSELECT 1;", want: "\nSELECT 1;"},
		{name: "up and down", content: "-- +migrate Up\nSELECT 1;\n-- +migrate Down\nSELECT 2;", want: "\nSELECT 1;\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := UpSection(tc.content); got != tc.want {
				t.Fatalf("UpSection = %q, want %q", got, tc.want)
			}
		})
	}
}

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	// Each pooled connection would otherwise see its own empty database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func countRows(t *testing.T, db *sql.DB, query string) int64 {
	t.Helper()
	var value int64
	if err := db.QueryRow(query).Scan(&value); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return value
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if err != nil {
		t.Fatalf("check table: %v", err)
	}
	return name == table
}
