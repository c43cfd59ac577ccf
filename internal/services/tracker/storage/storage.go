// Package storage defines the persistence boundary for journeys and
// detections.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/etle/vtrack/internal/services/tracker/domain"
	"github.com/etle/vtrack/internal/services/tracker/storage/filter"
)

var (
	// ErrNotFound indicates a requested journey is missing.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate indicates the (journey, checkpoint) pair already has a detection.
	ErrDuplicate = errors.New("duplicate detection")
	// ErrConflict indicates the journey changed status since it was read.
	ErrConflict = errors.New("record conflict")
)

// JourneyPage is one page of journey history, newest first.
type JourneyPage struct {
	Journeys      []domain.Journey
	NextPageToken string
}

// ListQuery selects a page of journey history.
type ListQuery struct {
	Filter    filter.Condition
	PageSize  int
	PageToken string
}

// StatusChange is a compare-and-set status write.
type StatusChange struct {
	JourneyID string
	From      domain.Status
	To        domain.Status
	// EndedAt is written as-is; zero clears it.
	EndedAt time.Time
}

// Verification is a human verdict on a journey.
type Verification struct {
	JourneyID   string
	From        domain.Status
	Verdict     domain.Status
	PlateNumber string
	EndedAt     time.Time
	// RelabelDetections rewrites the plate on the journey's detections.
	RelabelDetections bool
}

// DetectionCounts aggregates detections over calendar windows.
type DetectionCounts struct {
	Total int
	Today int
	Week  int
	Month int
}

// JourneyStore persists journeys.
type JourneyStore interface {
	CreateJourney(ctx context.Context, journey domain.Journey) error
	GetJourney(ctx context.Context, id string) (domain.Journey, error)
	// FindActiveJourneysByPlate returns in-flight journeys for plate, latest
	// start first, ties broken by highest id.
	FindActiveJourneysByPlate(ctx context.Context, plate string) ([]domain.Journey, error)
	// ListActiveJourneys returns all in-flight journeys in the same order.
	ListActiveJourneys(ctx context.Context) ([]domain.Journey, error)
	ListJourneys(ctx context.Context, query ListQuery) (JourneyPage, error)
	// UpdateJourneyStatus returns ErrConflict when the stored status is not change.From.
	UpdateJourneyStatus(ctx context.Context, change StatusChange) error
	ApplyVerification(ctx context.Context, verification Verification) error
}

// DetectionStore persists detections.
type DetectionStore interface {
	// InsertDetection returns ErrDuplicate when the journey already has a
	// detection at the checkpoint. Anomalous detections never collide.
	InsertDetection(ctx context.Context, detection domain.Detection) (domain.Detection, error)
	// ListDetections returns the journey's detections in the order they were recorded.
	ListDetections(ctx context.Context, journeyID string) ([]domain.Detection, error)
	CountDetections(ctx context.Context, now time.Time) (DetectionCounts, error)
}

// Store is the full tracker persistence surface.
type Store interface {
	JourneyStore
	DetectionStore
}
