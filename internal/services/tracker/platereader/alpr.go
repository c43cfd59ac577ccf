// Package platereader runs the OpenALPR command line recognizer over a frame
// and converts its JSON output into plate candidates.
package platereader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/etle/vtrack/internal/platform/timeouts"
	"github.com/etle/vtrack/internal/services/tracker/domain"
)

const (
	defaultBinary  = "alpr"
	defaultCountry = "eu"
	defaultTopN    = 3
)

// Config selects the recognizer binary and its region settings.
type Config struct {
	Binary  string
	Country string
	TopN    int
	// TempDir holds frames while the recognizer reads them. Empty uses the
	// system temp dir.
	TempDir string
	Timeout time.Duration
}

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// ALPR reads plates by invoking the alpr binary once per frame.
type ALPR struct {
	cfg Config
	run runFunc
}

// New returns a reader for cfg with defaults applied.
func New(cfg Config) *ALPR {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = defaultBinary
	}
	if strings.TrimSpace(cfg.Country) == "" {
		cfg.Country = defaultCountry
	}
	if cfg.TopN <= 0 {
		cfg.TopN = defaultTopN
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = timeouts.PlateRead
	}
	return &ALPR{cfg: cfg, run: runCommand}
}

// Read writes image to a temp file, runs the recognizer on it and returns
// its candidates, best first, with confidence scaled to [0, 1].
func (a *ALPR) Read(ctx context.Context, image []byte) ([]domain.PlateCandidate, error) {
	if len(image) == 0 {
		return nil, errors.New("image is empty")
	}
	f, err := os.CreateTemp(a.cfg.TempDir, "frame-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("create frame file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(image); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write frame file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close frame file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	out, err := a.run(ctx, a.cfg.Binary, "-c", a.cfg.Country, "-n", strconv.Itoa(a.cfg.TopN), "-j", f.Name())
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", a.cfg.Binary, err)
	}
	return parseOutput(out)
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

type response struct {
	Results []result `json:"results"`
}

type result struct {
	Plate       string  `json:"plate"`
	Confidence  float64 `json:"confidence"`
	Coordinates []point `json:"coordinates"`
}

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func parseOutput(out []byte) ([]domain.PlateCandidate, error) {
	// alpr can print one JSON document per frame; a single image yields one.
	line := bytes.TrimSpace(out)
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if len(line) == 0 {
		return nil, nil
	}
	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("decode alpr output: %w", err)
	}
	candidates := make([]domain.PlateCandidate, 0, len(resp.Results))
	for _, r := range resp.Results {
		candidates = append(candidates, domain.PlateCandidate{
			Box:        boundingBox(r.Coordinates),
			Text:       r.Plate,
			Confidence: clamp(r.Confidence / 100),
		})
	}
	return candidates, nil
}

func boundingBox(points []point) domain.Box {
	if len(points) == 0 {
		return domain.Box{}
	}
	minX, minY := points[0].X, points[0].Y
	maxX, maxY := minX, minY
	for _, p := range points[1:] {
		minX, maxX = min(minX, p.X), max(maxX, p.X)
		minY, maxY = min(minY, p.Y), max(maxY, p.Y)
	}
	return domain.Box{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

func clamp(v float64) float64 {
	return min(max(v, 0), 1)
}
