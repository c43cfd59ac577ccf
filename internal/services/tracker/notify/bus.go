// Package notify carries tracker events to operators: an in-memory drainable
// feed for the control API plus optional mirrors such as MQTT.
package notify

import (
	"sync"
	"time"
)

// Severity grades an event for display.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityFailed  Severity = "failed"
)

// Event is one feed entry.
type Event struct {
	Time      time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	JourneyID string    `json:"journey_id,omitempty"`
}

// Sink receives a copy of every published event. Forward must not block.
type Sink interface {
	Forward(Event)
}

const defaultCapacity = 500

// Bus is an append-only feed drained by a single reader. When full it drops
// the oldest entry.
type Bus struct {
	mu       sync.Mutex
	events   []Event
	capacity int
	dropped  int
	sinks    []Sink
}

// NewBus returns a bus holding at most capacity undrained events.
func NewBus(capacity int, sinks ...Sink) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Bus{capacity: capacity, sinks: sinks}
}

// Publish appends e. It never blocks on consumers and never fails.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	if len(b.events) == b.capacity {
		b.events = append(b.events[:0], b.events[1:]...)
		b.dropped++
	}
	b.events = append(b.events, e)
	sinks := b.sinks
	b.mu.Unlock()

	for _, sink := range sinks {
		sink.Forward(e)
	}
}

// DrainAll returns the pending events in publish order and clears them.
func (b *Bus) DrainAll() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	drained := b.events
	b.events = nil
	return drained
}

// Dropped reports how many events were discarded because nobody drained.
func (b *Bus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
