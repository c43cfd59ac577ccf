package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/etle/vtrack/internal/services/tracker/domain"
	"github.com/etle/vtrack/internal/services/tracker/metrics"
	"github.com/etle/vtrack/internal/services/tracker/notify"
)

// FrameSource yields frames from one checkpoint camera.
type FrameSource interface {
	Frame(ctx context.Context) ([]byte, error)
	Close() error
}

// SourceOpener opens the capture source of a checkpoint.
type SourceOpener interface {
	Open(ctx context.Context, checkpoint domain.CheckpointID) (FrameSource, error)
}

// PlateReader recognizes plates in an encoded image.
type PlateReader interface {
	Read(ctx context.Context, image []byte) ([]domain.PlateCandidate, error)
}

// EvidenceWriter stores the frame a detection was made from.
type EvidenceWriter interface {
	Save(checkpoint domain.CheckpointID, plate string, at time.Time, image []byte) (string, error)
}

// Publisher accepts notification events.
type Publisher interface {
	Publish(notify.Event)
}

// ReadHandler consumes a plate read attributed to a checkpoint.
type ReadHandler func(ctx context.Context, read domain.PlateRead) error

// DetectorConfig wires a Detector.
type DetectorConfig struct {
	Sources  SourceOpener
	Reader   PlateReader
	Evidence EvidenceWriter
	Handle   ReadHandler
	Metrics  *metrics.Metrics
	// Notices receives camera health changes. Optional.
	Notices  Publisher
	Renderer *notify.Renderer
	// SampleInterval throttles plate reader calls per checkpoint.
	SampleInterval time.Duration
	// PollInterval bounds each wait in the capture loop.
	PollInterval time.Duration
	// MaxRetryElapsed caps how long a failing camera is retried before the
	// task gives up. Zero retries until the task is cancelled.
	MaxRetryElapsed time.Duration
	Clock           func() time.Time
	Logf            func(string, ...any)
}

type cameraState int

const (
	cameraHealthy cameraState = iota
	cameraRetrying
	cameraStopped
)

// Detector is the capture and detect loop run for the active checkpoint.
type Detector struct {
	cfg DetectorConfig

	mu      sync.Mutex
	cameras map[domain.CheckpointID]cameraState
}

// NewDetector fills defaults and validates cfg.
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if cfg.Sources == nil {
		return nil, fmt.Errorf("capture sources are required")
	}
	if cfg.Reader == nil {
		return nil, fmt.Errorf("plate reader is required")
	}
	if cfg.Handle == nil {
		return nil, fmt.Errorf("read handler is required")
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 3 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logf == nil {
		cfg.Logf = log.Printf
	}
	if cfg.Renderer == nil {
		cfg.Renderer = notify.NewRenderer("en", cfg.Clock)
	}
	return &Detector{cfg: cfg, cameras: make(map[domain.CheckpointID]cameraState)}, nil
}

// Run samples checkpoint until ctx ends. Plate reads are handed off on their
// own goroutines and are allowed to finish after cancellation.
func (d *Detector) Run(ctx context.Context, checkpoint domain.CheckpointID) {
	var inflight sync.WaitGroup
	defer inflight.Wait()

	source, err := d.open(ctx, checkpoint)
	if err != nil {
		if ctx.Err() == nil {
			d.cfg.Logf("checkpoint capture unavailable checkpoint=%d: %v", checkpoint, err)
			d.setCamera(checkpoint, cameraStopped)
		}
		return
	}
	defer func() {
		if source != nil {
			_ = source.Close()
		}
	}()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	var lastSample time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		now := d.cfg.Clock()
		if !lastSample.IsZero() && now.Sub(lastSample) < d.cfg.SampleInterval {
			continue
		}
		lastSample = now

		read, ok, err := d.sample(ctx, checkpoint, source, now)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.cfg.Metrics.CaptureError(int(checkpoint))
			d.cfg.Logf("sample checkpoint=%d: %v", checkpoint, err)
			if !errors.Is(err, errFrame) {
				continue
			}
			_ = source.Close()
			source = nil
			if source, err = d.open(ctx, checkpoint); err != nil {
				if ctx.Err() == nil {
					d.cfg.Logf("checkpoint capture lost checkpoint=%d: %v", checkpoint, err)
					d.setCamera(checkpoint, cameraStopped)
				}
				return
			}
			continue
		}
		if !ok {
			continue
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			if err := d.cfg.Handle(context.WithoutCancel(ctx), read); err != nil {
				d.cfg.Logf("handle read checkpoint=%d plate=%s: %v", checkpoint, read.Plate, err)
			}
		}()
	}
}

var errFrame = errors.New("frame capture failed")

// sample grabs one frame and runs the plate reader on it.
func (d *Detector) sample(ctx context.Context, checkpoint domain.CheckpointID, source FrameSource, now time.Time) (domain.PlateRead, bool, error) {
	frame, err := source.Frame(ctx)
	if err != nil {
		return domain.PlateRead{}, false, fmt.Errorf("%w: %v", errFrame, err)
	}
	candidates, err := d.cfg.Reader.Read(ctx, frame)
	if err != nil {
		d.cfg.Metrics.PlateRead(int(checkpoint), "error")
		return domain.PlateRead{}, false, fmt.Errorf("read plate: %w", err)
	}
	candidate, ok := domain.SelectCandidate(candidates)
	if !ok {
		d.cfg.Metrics.PlateRead(int(checkpoint), "none")
		return domain.PlateRead{}, false, nil
	}
	d.cfg.Metrics.PlateRead(int(checkpoint), "candidate")

	read := domain.PlateRead{
		Plate:      candidate.Text,
		Checkpoint: checkpoint,
		Confidence: candidate.Confidence,
		At:         now,
	}
	if d.cfg.Evidence != nil {
		path, err := d.cfg.Evidence.Save(checkpoint, candidate.Text, now, frame)
		if err != nil {
			d.cfg.Logf("save evidence checkpoint=%d plate=%s: %v", checkpoint, candidate.Text, err)
		}
		read.EvidencePath = path
	}
	return read, true, nil
}

// open retries transient open failures with exponential backoff until ctx
// ends or MaxRetryElapsed passes. Errors wrapped with backoff.Permanent stop
// the retry.
func (d *Detector) open(ctx context.Context, checkpoint domain.CheckpointID) (FrameSource, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 10 * time.Second

	source, err := backoff.Retry(ctx, func() (FrameSource, error) {
		return d.cfg.Sources.Open(ctx, checkpoint)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(d.cfg.MaxRetryElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.cfg.Metrics.CaptureError(int(checkpoint))
			d.cfg.Logf("open checkpoint=%d failed, retrying in %s: %v", checkpoint, next, err)
			d.setCamera(checkpoint, cameraRetrying)
		}),
	)
	if err != nil {
		return nil, err
	}
	d.setCamera(checkpoint, cameraHealthy)
	return source, nil
}

// setCamera records a camera health change and publishes a notice when it
// differs from the last state seen for checkpoint. A stopped camera stays
// stopped through later retries until an open succeeds.
func (d *Detector) setCamera(checkpoint domain.CheckpointID, state cameraState) {
	d.mu.Lock()
	prev := d.cameras[checkpoint]
	if prev == state || (prev == cameraStopped && state == cameraRetrying) {
		d.mu.Unlock()
		return
	}
	d.cameras[checkpoint] = state
	d.mu.Unlock()
	if d.cfg.Notices == nil {
		return
	}

	kind := notify.KindCaptureRestored
	switch state {
	case cameraRetrying:
		kind = notify.KindCaptureRetrying
	case cameraStopped:
		kind = notify.KindCaptureStopped
	}
	d.cfg.Notices.Publish(d.cfg.Renderer.Event(notify.Notice{Kind: kind, Checkpoint: checkpoint}))
}
