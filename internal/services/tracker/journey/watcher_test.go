package journey

import (
	"context"
	"testing"
	"time"
)

func TestWatcherRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	w := NewWatcher(h.store, h.machine, 5*time.Millisecond, quiet)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcherDefaultInterval(t *testing.T) {
	w := NewWatcher(nil, nil, 0, quiet)
	if w.interval != 30*time.Second {
		t.Fatalf("interval = %v, want 30s", w.interval)
	}
}

func TestWatcherRunRestartsReleasedCheckpoint(t *testing.T) {
	h := newHarness(t)
	h.register(t, "ABC123", "Departemen IT PSP")
	h.sched.Deactivate()

	w := NewWatcher(h.store, h.machine, 5*time.Millisecond, quiet)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(2 * time.Second)
	for h.sched.Snapshot().Active != 3 {
		if time.Now().After(deadline) {
			t.Fatalf("active = %d, want 3", h.sched.Snapshot().Active)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
