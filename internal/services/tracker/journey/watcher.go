package journey

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/etle/vtrack/internal/services/tracker/storage"
)

// Expirer fails a journey whose time budget has run out and recomputes which
// checkpoint should scan.
type Expirer interface {
	Expire(ctx context.Context, journeyID string) (bool, error)
	Reschedule(ctx context.Context)
}

// Watcher periodically fails in-flight journeys that stopped progressing.
type Watcher struct {
	store    storage.JourneyStore
	expirer  Expirer
	interval time.Duration
	logf     func(string, ...any)
}

// NewWatcher builds a watcher that sweeps every interval.
func NewWatcher(store storage.JourneyStore, expirer Expirer, interval time.Duration, logf func(string, ...any)) *Watcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logf == nil {
		logf = log.Printf
	}
	return &Watcher{store: store, expirer: expirer, interval: interval, logf: logf}
}

// Run sweeps and reschedules until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.logf("timeout sweep: %v", err)
			}
			// Restarts a checkpoint whose capture task gave up.
			if ctx.Err() == nil {
				w.expirer.Reschedule(ctx)
			}
		}
	}
}

// Sweep checks every in-flight journey once and returns how many failed.
// One journey's error does not stop the sweep.
func (w *Watcher) Sweep(ctx context.Context) (int, error) {
	journeys, err := w.store.ListActiveJourneys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active journeys: %w", err)
	}
	expired := 0
	for _, j := range journeys {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		failed, err := w.expirer.Expire(ctx, j.ID)
		if err != nil {
			w.logf("expire journey journey_id=%s: %v", j.ID, err)
			continue
		}
		if failed {
			expired++
		}
	}
	return expired, nil
}
