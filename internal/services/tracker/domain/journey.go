// Package domain holds the journey tracking model and the pure rules that
// decide a journey's status from its route and detections.
package domain

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a journey.
type Status string

const (
	StatusPending           Status = "Pending"
	StatusNeedsManualReview Status = "NeedsManualReview"
	StatusPassed            Status = "Passed"
	StatusFailed            Status = "Failed"
)

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusPassed || s == StatusFailed
}

// InFlight reports whether a journey in s still consumes checkpoint scans.
func (s Status) InFlight() bool {
	return s == StatusPending || s == StatusNeedsManualReview
}

// ParseStatus accepts the canonical status names.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusPending, StatusNeedsManualReview, StatusPassed, StatusFailed:
		return s, nil
	default:
		return "", fmt.Errorf("unknown status %q", raw)
	}
}

// CheckpointID identifies a checkpoint camera. Zero means none.
type CheckpointID int

// Journey is one vehicle's attempt to travel a destination's route.
type Journey struct {
	ID          string
	VisitorName string
	PlateNumber string
	Destination string
	Status      Status
	StartedAt   time.Time
	// EndedAt is set only when Status is terminal.
	EndedAt time.Time
}

// Detection is one plate sighting at a checkpoint.
type Detection struct {
	ID int64
	// JourneyID is empty for anomalous sightings.
	JourneyID    string
	PlateNumber  string
	Checkpoint   CheckpointID
	DetectedAt   time.Time
	Confidence   float64
	EvidencePath string
}

// Anomalous reports whether no in-flight journey matched the sighting.
func (d Detection) Anomalous() bool {
	return d.JourneyID == ""
}

// PlateRead is one plate reader result attributed to a checkpoint, before
// it is matched to a journey.
type PlateRead struct {
	Plate        string
	Checkpoint   CheckpointID
	Confidence   float64
	EvidencePath string
	At           time.Time
}
