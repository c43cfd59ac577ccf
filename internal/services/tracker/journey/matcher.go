package journey

import (
	"context"
	"errors"
	"fmt"
	"log"

	apperrors "github.com/etle/vtrack/internal/platform/errors"
	"github.com/etle/vtrack/internal/services/tracker/domain"
	"github.com/etle/vtrack/internal/services/tracker/metrics"
	"github.com/etle/vtrack/internal/services/tracker/notify"
	"github.com/etle/vtrack/internal/services/tracker/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Recorder stores a detection against its journey and re-evaluates the
// journey.
type Recorder interface {
	Record(ctx context.Context, d domain.Detection) (domain.Detection, domain.Journey, error)
}

// MatchResult describes what the matcher did with a read.
type MatchResult struct {
	Outcome   string
	Detection domain.Detection
	// Journey is the matched journey after evaluation; zero for anomalies
	// and duplicates.
	Journey domain.Journey
}

// Matcher attributes plate reads to in-flight journeys. It records
// detections and leaves status decisions to the Recorder.
type Matcher struct {
	store   storage.Store
	records Recorder
	bus     Publisher
	render  *notify.Renderer
	metrics *metrics.Metrics
	logf    func(string, ...any)
	tracer  trace.Tracer
}

// NewMatcher builds a Matcher. A nil renderer renders English; a nil logf
// logs through the standard logger.
func NewMatcher(store storage.Store, records Recorder, bus Publisher, render *notify.Renderer, m *metrics.Metrics, logf func(string, ...any)) *Matcher {
	if render == nil {
		render = notify.NewRenderer("en", nil)
	}
	if logf == nil {
		logf = log.Printf
	}
	return &Matcher{
		store:   store,
		records: records,
		bus:     bus,
		render:  render,
		metrics: m,
		logf:    logf,
		tracer:  otel.Tracer(tracerName),
	}
}

// HandleRead records read against the most recently started in-flight
// journey with the same plate. Reads with no such journey are recorded as
// anomalies; repeats of a satisfied checkpoint are discarded.
func (m *Matcher) HandleRead(ctx context.Context, read domain.PlateRead) (MatchResult, error) {
	ctx, span := m.tracer.Start(ctx, "journey.HandleRead", trace.WithAttributes(
		attribute.Int("checkpoint.id", int(read.Checkpoint)),
	))
	defer span.End()

	result, err := m.handle(ctx, read)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return MatchResult{}, err
	}
	span.SetAttributes(attribute.String("detection.outcome", result.Outcome))
	return result, nil
}

func (m *Matcher) handle(ctx context.Context, read domain.PlateRead) (MatchResult, error) {
	plate := domain.NormalizePlate(read.Plate)
	if plate == "" {
		m.metrics.Detection(metrics.OutcomeRejected)
		return MatchResult{}, apperrors.New(apperrors.CodeDetectionPlateEmpty, "plate text is empty after normalization")
	}
	if read.Confidence < 0 || read.Confidence > 1 {
		m.metrics.Detection(metrics.OutcomeRejected)
		return MatchResult{}, apperrors.New(apperrors.CodeDetectionBadConfidence, "confidence must be within [0, 1]")
	}
	if read.Checkpoint <= 0 {
		m.metrics.Detection(metrics.OutcomeRejected)
		return MatchResult{}, apperrors.New(apperrors.CodeCheckpointUnknown, "checkpoint id must be positive")
	}

	detection := domain.Detection{
		PlateNumber:  plate,
		Checkpoint:   read.Checkpoint,
		DetectedAt:   read.At.UTC(),
		Confidence:   read.Confidence,
		EvidencePath: read.EvidencePath,
	}

	journeys, err := m.store.FindActiveJourneysByPlate(ctx, plate)
	if err != nil {
		return MatchResult{}, fmt.Errorf("find active journeys: %w", err)
	}
	if len(journeys) == 0 {
		return m.recordAnomaly(ctx, detection)
	}

	j := journeys[0]
	detection.JourneyID = j.ID
	stored, evaluated, err := m.records.Record(ctx, detection)
	switch {
	case errors.Is(err, storage.ErrDuplicate):
		m.metrics.Detection(metrics.OutcomeDuplicate)
		return MatchResult{Outcome: metrics.OutcomeDuplicate, Detection: detection}, nil
	case errors.Is(err, errJourneyClosed):
		m.logf("journey closed before read was recorded journey_id=%s plate=%s", j.ID, plate)
		detection.JourneyID = ""
		return m.recordAnomaly(ctx, detection)
	case err != nil && stored.ID == 0:
		return MatchResult{}, fmt.Errorf("record detection: %w", err)
	}
	m.metrics.Detection(metrics.OutcomeRecorded)
	m.logf("detection recorded journey_id=%s plate=%s checkpoint=%d confidence=%.2f", j.ID, plate, read.Checkpoint, read.Confidence)
	if err != nil {
		return MatchResult{}, err
	}
	return MatchResult{Outcome: metrics.OutcomeRecorded, Detection: stored, Journey: evaluated}, nil
}

func (m *Matcher) recordAnomaly(ctx context.Context, detection domain.Detection) (MatchResult, error) {
	stored, err := m.store.InsertDetection(ctx, detection)
	if err != nil {
		return MatchResult{}, fmt.Errorf("record anomalous detection: %w", err)
	}
	m.metrics.Detection(metrics.OutcomeAnomalous)
	m.logf("anomalous detection plate=%s checkpoint=%d", detection.PlateNumber, detection.Checkpoint)
	m.bus.Publish(m.render.Event(notify.Notice{
		Kind:       notify.KindAnomaly,
		Plate:      detection.PlateNumber,
		Checkpoint: detection.Checkpoint,
	}))
	return MatchResult{Outcome: metrics.OutcomeAnomalous, Detection: stored}, nil
}
