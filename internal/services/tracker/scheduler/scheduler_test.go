package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/etle/vtrack/internal/services/tracker/domain"
)

type taskRecorder struct {
	mu      sync.Mutex
	started []domain.CheckpointID
	running map[domain.CheckpointID]int
}

func newTaskRecorder() *taskRecorder {
	return &taskRecorder{running: make(map[domain.CheckpointID]int)}
}

func (r *taskRecorder) run(ctx context.Context, cp domain.CheckpointID) {
	r.mu.Lock()
	r.started = append(r.started, cp)
	r.running[cp]++
	r.mu.Unlock()
	<-ctx.Done()
	r.mu.Lock()
	r.running[cp]--
	r.mu.Unlock()
}

func (r *taskRecorder) runningTotal() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.running {
		total += n
	}
	return total
}

func quiet(string, ...any) {}

func TestActivateRequiresRunning(t *testing.T) {
	rec := newTaskRecorder()
	s := New(rec.run, WithLogf(quiet))

	if s.Activate(3) {
		t.Fatal("expected activate to be refused while stopped")
	}
	if got := s.Snapshot(); got != (State{}) {
		t.Fatalf("state = %+v, want zero", got)
	}
}

func TestActivateSwitchesSingleTask(t *testing.T) {
	rec := newTaskRecorder()
	s := New(rec.run, WithLogf(quiet))
	s.Start(context.Background())
	defer func() {
		s.Stop()
		s.Wait()
	}()

	if !s.Activate(3) {
		t.Fatal("expected activation of checkpoint 3")
	}
	if s.Activate(3) {
		t.Fatal("re-activating the same checkpoint should be a no-op")
	}
	if !s.Activate(4) {
		t.Fatal("expected switch to checkpoint 4")
	}
	if got := s.Snapshot(); got != (State{Running: true, Active: 4}) {
		t.Fatalf("state = %+v", got)
	}
	waitFor(t, func() bool { return rec.runningTotal() == 1 })
}

func TestStopClearsStateAndCancelsTask(t *testing.T) {
	rec := newTaskRecorder()
	s := New(rec.run, WithLogf(quiet))
	s.Start(context.Background())
	s.Activate(5)

	s.Stop()
	s.Wait()

	if got := s.Snapshot(); got != (State{}) {
		t.Fatalf("state = %+v, want zero", got)
	}
	if rec.runningTotal() != 0 {
		t.Fatalf("running tasks = %d, want 0", rec.runningTotal())
	}
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name   string
		active domain.CheckpointID
		needs  []domain.CheckpointID
		want   domain.CheckpointID
	}{
		{name: "keeps active still needed", active: 4, needs: []domain.CheckpointID{1, 4}, want: 4},
		{name: "switches to first need", active: 4, needs: []domain.CheckpointID{1, 2}, want: 1},
		{name: "activates from idle", needs: []domain.CheckpointID{6}, want: 6},
		{name: "deactivates without needs", active: 4, want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := New(nil, WithLogf(quiet))
			s.Start(context.Background())
			defer s.Stop()
			if tc.active != 0 {
				s.Activate(tc.active)
			}

			s.Reconcile(tc.needs)

			if got := s.Snapshot().Active; got != tc.want {
				t.Fatalf("active = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestObserverSeesChanges(t *testing.T) {
	var states []State
	s := New(nil, WithLogf(quiet), WithObserver(func(st State) { states = append(states, st) }))
	s.Start(context.Background())
	s.Activate(2)
	s.Deactivate()
	s.Stop()

	want := []State{{Running: true}, {Running: true, Active: 2}, {Running: true}, {}}
	if len(states) != len(want) {
		t.Fatalf("states = %+v, want %+v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states[%d] = %+v, want %+v", i, states[i], want[i])
		}
	}
}

func TestConcurrentActivationKeepsOneActive(t *testing.T) {
	rec := newTaskRecorder()
	s := New(rec.run, WithLogf(quiet))
	s.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(cp domain.CheckpointID) {
			defer wg.Done()
			s.Activate(cp)
		}(domain.CheckpointID(i%6 + 1))
	}
	wg.Wait()

	waitFor(t, func() bool { return rec.runningTotal() == 1 })
	s.Stop()
	s.Wait()
	if rec.runningTotal() != 0 {
		t.Fatalf("running tasks after stop = %d, want 0", rec.runningTotal())
	}
}

func TestTaskExitReleasesCheckpoint(t *testing.T) {
	var runs atomic.Int32
	s := New(func(context.Context, domain.CheckpointID) { runs.Add(1) }, WithLogf(quiet))
	s.Start(context.Background())
	defer func() {
		s.Stop()
		s.Wait()
	}()

	s.Activate(3)
	waitFor(t, func() bool { return s.Snapshot().Active == 0 })
	if got := s.Snapshot(); !got.Running {
		t.Fatalf("state = %+v, want running", got)
	}

	if !s.Activate(3) {
		t.Fatal("expected checkpoint 3 to restart after its task exited")
	}
	waitFor(t, func() bool { return runs.Load() == 2 && s.Snapshot().Active == 0 })

	s.Reconcile([]domain.CheckpointID{3})
	waitFor(t, func() bool { return runs.Load() == 3 })
}

func TestCancelledTaskDoesNotReleaseNewerActivation(t *testing.T) {
	rec := newTaskRecorder()
	s := New(rec.run, WithLogf(quiet))
	s.Start(context.Background())
	defer func() {
		s.Stop()
		s.Wait()
	}()

	s.Activate(3)
	s.Activate(4)
	s.Activate(3)
	waitFor(t, func() bool { return rec.runningTotal() == 1 })
	time.Sleep(20 * time.Millisecond)

	if got := s.Snapshot().Active; got != 3 {
		t.Fatalf("active = %d, want 3", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
