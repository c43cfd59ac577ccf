package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/etle/vtrack/internal/services/tracker/domain"
	"github.com/etle/vtrack/internal/services/tracker/notify"
)

type fakeSource struct {
	frames atomic.Int32
	fail   bool
	closed atomic.Bool
}

func (s *fakeSource) Frame(ctx context.Context) ([]byte, error) {
	s.frames.Add(1)
	if s.fail {
		return nil, errors.New("camera offline")
	}
	return []byte("jpeg"), nil
}

func (s *fakeSource) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeOpener struct {
	mu       sync.Mutex
	failures int
	err      error
	opens    int
	source   *fakeSource
}

func (o *fakeOpener) Open(ctx context.Context, cp domain.CheckpointID) (FrameSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.err != nil {
		return nil, o.err
	}
	if o.failures > 0 {
		o.failures--
		return nil, errors.New("connection refused")
	}
	return o.source, nil
}

type fakeReader struct {
	candidates []domain.PlateCandidate
	calls      atomic.Int32
}

func (r *fakeReader) Read(ctx context.Context, image []byte) ([]domain.PlateCandidate, error) {
	r.calls.Add(1)
	return r.candidates, nil
}

type fakeEvidence struct{}

func (fakeEvidence) Save(cp domain.CheckpointID, plate string, at time.Time, image []byte) (string, error) {
	return "evidence/" + plate + ".jpg", nil
}

func TestDetectorHandsOffSelectedCandidate(t *testing.T) {
	source := &fakeSource{}
	reads := make(chan domain.PlateRead, 10)
	d, err := NewDetector(DetectorConfig{
		Sources:        &fakeOpener{source: source},
		Reader:         &fakeReader{candidates: []domain.PlateCandidate{{Text: "ab"}, {Text: "abc 123", Confidence: 0.87}}},
		Evidence:       fakeEvidence{},
		Handle:         func(ctx context.Context, r domain.PlateRead) error { reads <- r; return nil },
		SampleInterval: time.Hour,
		PollInterval:   time.Millisecond,
		Logf:           quiet,
	})
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx, 3)
		close(done)
	}()

	var got domain.PlateRead
	select {
	case got = <-reads:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for read")
	}
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if got.Plate != "ABC123" || got.Checkpoint != 3 || got.Confidence != 0.87 || got.EvidencePath != "evidence/ABC123.jpg" {
		t.Fatalf("read = %+v", got)
	}
	if n := source.frames.Load(); n != 1 {
		t.Fatalf("frames sampled = %d, want 1 within one sample interval", n)
	}
	if !source.closed.Load() {
		t.Fatal("expected source closed on exit")
	}
}

func TestDetectorRetriesTransientOpenFailures(t *testing.T) {
	opener := &fakeOpener{failures: 2, source: &fakeSource{}}
	reader := &fakeReader{}
	d, err := NewDetector(DetectorConfig{
		Sources:      opener,
		Reader:       reader,
		Handle:       func(context.Context, domain.PlateRead) error { return nil },
		PollInterval: time.Millisecond,
		Logf:         quiet,
	})
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx, 1)
		close(done)
	}()
	waitFor(t, func() bool { return reader.calls.Load() > 0 })
	cancel()
	<-done

	opener.mu.Lock()
	defer opener.mu.Unlock()
	if opener.opens != 3 {
		t.Fatalf("opens = %d, want 3", opener.opens)
	}
}

func TestDetectorStopsOnPermanentOpenFailure(t *testing.T) {
	opener := &fakeOpener{err: backoff.Permanent(errors.New("no snapshot url"))}
	bus := notify.NewBus(10)
	d, err := NewDetector(DetectorConfig{
		Sources: opener,
		Reader:  &fakeReader{},
		Handle:  func(context.Context, domain.PlateRead) error { return nil },
		Notices: bus,
		Logf:    quiet,
	})
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}
	s := New(d.Run, WithLogf(quiet))
	s.Start(context.Background())
	defer func() {
		s.Stop()
		s.Wait()
	}()

	if !s.Activate(2) {
		t.Fatal("expected activation of checkpoint 2")
	}
	waitFor(t, func() bool { return s.Snapshot().Active == 0 })

	opener.mu.Lock()
	opens := opener.opens
	opener.mu.Unlock()
	if opens != 1 {
		t.Fatalf("opens = %d, want 1", opens)
	}
	events := bus.DrainAll()
	if len(events) != 1 || events[0].Kind != notify.KindCaptureStopped || events[0].Severity != notify.SeverityFailed {
		t.Fatalf("events = %+v, want one capture stopped notice", events)
	}

	// A restart that fails the same way stays quiet.
	if !s.Activate(2) {
		t.Fatal("expected checkpoint 2 to be activatable again")
	}
	waitFor(t, func() bool { return s.Snapshot().Active == 0 })
	if events := bus.DrainAll(); len(events) != 0 {
		t.Fatalf("events after restart = %+v, want none", events)
	}
}

func TestDetectorReportsRetryAndRecovery(t *testing.T) {
	opener := &fakeOpener{failures: 2, source: &fakeSource{}}
	reader := &fakeReader{}
	bus := notify.NewBus(10)
	d, err := NewDetector(DetectorConfig{
		Sources:      opener,
		Reader:       reader,
		Handle:       func(context.Context, domain.PlateRead) error { return nil },
		Notices:      bus,
		PollInterval: time.Millisecond,
		Logf:         quiet,
	})
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx, 1)
		close(done)
	}()
	waitFor(t, func() bool { return reader.calls.Load() > 0 })
	cancel()
	<-done

	events := bus.DrainAll()
	if len(events) != 2 || events[0].Kind != notify.KindCaptureRetrying || events[1].Kind != notify.KindCaptureRestored {
		t.Fatalf("events = %+v, want retrying then restored", events)
	}
}

func TestDetectorExitsPromptlyOnCancel(t *testing.T) {
	d, err := NewDetector(DetectorConfig{
		Sources:      &fakeOpener{source: &fakeSource{fail: true}},
		Reader:       &fakeReader{},
		Handle:       func(context.Context, domain.PlateRead) error { return nil },
		PollInterval: time.Millisecond,
		Logf:         quiet,
	})
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx, 4)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after cancellation")
	}
}

func TestNewDetectorValidates(t *testing.T) {
	if _, err := NewDetector(DetectorConfig{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}
