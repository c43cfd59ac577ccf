// Package evidence stores the frames detections were read from.
package evidence

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/etle/vtrack/internal/services/tracker/domain"
)

// Dir writes evidence frames into one directory.
type Dir struct {
	root string
}

// NewDir creates root if needed.
func NewDir(root string) (*Dir, error) {
	if root == "" {
		return nil, fmt.Errorf("evidence dir is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	return &Dir{root: root}, nil
}

// Save writes image as cam{checkpoint}_{plate}_{YYYYMMDD_HHMMSS}.jpg and
// returns its path.
func (d *Dir) Save(checkpoint domain.CheckpointID, plate string, at time.Time, image []byte) (string, error) {
	name := FileName(checkpoint, plate, at)
	path := filepath.Join(d.root, name)
	tmp, err := os.CreateTemp(d.root, ".evidence-*")
	if err != nil {
		return "", fmt.Errorf("create evidence file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(image); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write evidence file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close evidence file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("store evidence file: %w", err)
	}
	return path, nil
}

// FileName is the evidence file name for a read.
func FileName(checkpoint domain.CheckpointID, plate string, at time.Time) string {
	plate = domain.NormalizePlate(plate)
	if plate == "" {
		plate = "UNKNOWN"
	}
	return fmt.Sprintf("cam%d_%s_%s.jpg", checkpoint, plate, at.Format("20060102_150405"))
}
