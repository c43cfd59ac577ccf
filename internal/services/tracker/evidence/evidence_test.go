package evidence

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveWritesNamedFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "evidence")
	dir, err := NewDir(root)
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	at := time.Date(2026, 3, 4, 8, 5, 9, 0, time.UTC)

	path, err := dir.Save(3, "b 1234-xy", at, []byte("jpeg"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	want := filepath.Join(root, "cam3_B1234XY_20260304_080509.jpg")
	if path != want {
		t.Fatalf("path = %q, want %q", path, want)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read evidence: %v", err)
	}
	if string(data) != "jpeg" {
		t.Fatalf("content = %q, want jpeg", data)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
}

func TestFileNameWithoutPlate(t *testing.T) {
	got := FileName(1, "--", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if got != "cam1_UNKNOWN_20260102_030405.jpg" {
		t.Fatalf("name = %q", got)
	}
}

func TestNewDirRequiresRoot(t *testing.T) {
	if _, err := NewDir(""); err == nil {
		t.Fatal("expected error for empty root")
	}
}
