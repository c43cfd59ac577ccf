// Package scheduler owns the single active checkpoint: which camera runs the
// plate-reading pipeline, and the lifetime of its capture task.
package scheduler

import (
	"context"
	"log"
	"slices"
	"sync"

	"github.com/etle/vtrack/internal/services/tracker/domain"
)

// State is a point-in-time copy of the scheduler.
type State struct {
	Running bool                `json:"running"`
	Active  domain.CheckpointID `json:"active_checkpoint"`
}

// TaskFunc runs a checkpoint's capture and detect loop until ctx ends. A task
// that returns early gives up its checkpoint; the next Activate or Reconcile
// that asks for it starts a new task.
type TaskFunc func(ctx context.Context, checkpoint domain.CheckpointID)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithObserver is called, under the scheduler lock, after every state change.
func WithObserver(fn func(State)) Option {
	return func(s *Scheduler) {
		s.observe = fn
	}
}

// WithLogf overrides the logger.
func WithLogf(logf func(string, ...any)) Option {
	return func(s *Scheduler) {
		s.logf = logf
	}
}

// Scheduler guarantees at most one checkpoint task runs at a time.
type Scheduler struct {
	mu      sync.Mutex
	base    context.Context
	running bool
	active  domain.CheckpointID
	gen     uint64
	cancel  context.CancelFunc
	task    TaskFunc
	tasks   sync.WaitGroup
	observe func(State)
	logf    func(string, ...any)
}

// New returns a stopped scheduler that runs task for the active checkpoint.
func New(task TaskFunc, opts ...Option) *Scheduler {
	s := &Scheduler{task: task, logf: log.Printf}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start enables detection. Tasks started later derive from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.base = ctx
	s.running = true
	s.logf("detection started")
	s.changed()
}

// Stop disables detection, clears the active checkpoint, and signals its
// task to exit at its next poll.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.deactivateLocked()
	s.running = false
	s.base = nil
	s.logf("detection stopped")
	s.changed()
}

// Running reports whether detection is enabled.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Snapshot returns the current state.
func (s *Scheduler) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Activate switches scanning to checkpoint, stopping the previous task. It
// reports whether the active checkpoint changed.
func (s *Scheduler) Activate(checkpoint domain.CheckpointID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activateLocked(checkpoint)
}

// Deactivate stops scanning on every checkpoint.
func (s *Scheduler) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == 0 {
		return
	}
	s.deactivateLocked()
	s.changed()
}

// Reconcile chooses the active checkpoint from needs, ordered by priority.
// The current checkpoint is kept while any journey still needs it; otherwise
// the first need wins, and no needs deactivates.
func (s *Scheduler) Reconcile(needs []domain.CheckpointID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != 0 && slices.Contains(needs, s.active) {
		return
	}
	if len(needs) == 0 {
		if s.active != 0 {
			s.deactivateLocked()
			s.changed()
		}
		return
	}
	s.activateLocked(needs[0])
}

// Wait blocks until every task started so far has returned.
func (s *Scheduler) Wait() {
	s.tasks.Wait()
}

func (s *Scheduler) activateLocked(checkpoint domain.CheckpointID) bool {
	if !s.running || checkpoint <= 0 || checkpoint == s.active {
		return false
	}
	if s.active != 0 {
		s.deactivateLocked()
	}

	ctx, cancel := context.WithCancel(s.base)
	s.gen++
	gen := s.gen
	s.active = checkpoint
	s.cancel = cancel
	if s.task != nil {
		s.tasks.Add(1)
		go func() {
			defer s.tasks.Done()
			s.task(ctx, checkpoint)
			s.taskExited(checkpoint, gen)
		}()
	}
	s.logf("checkpoint activated checkpoint=%d", checkpoint)
	s.changed()
	return true
}

// taskExited releases checkpoint when its task returned on its own, so the
// scheduler never reports a checkpoint nobody is scanning.
func (s *Scheduler) taskExited(checkpoint domain.CheckpointID, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.active != checkpoint {
		return
	}
	s.logf("checkpoint task exited checkpoint=%d", checkpoint)
	s.deactivateLocked()
	s.changed()
}

func (s *Scheduler) deactivateLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.active != 0 {
		s.logf("checkpoint deactivated checkpoint=%d", s.active)
	}
	s.active = 0
}

func (s *Scheduler) stateLocked() State {
	return State{Running: s.running, Active: s.active}
}

func (s *Scheduler) changed() {
	if s.observe != nil {
		s.observe(s.stateLocked())
	}
}
