// Package journey decides journey status: the state machine that applies the
// domain rules, the matcher that routes plate reads to journeys, and the
// watcher that fails journeys whose time budget ran out.
package journey

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	apperrors "github.com/etle/vtrack/internal/platform/errors"
	"github.com/etle/vtrack/internal/platform/id"
	"github.com/etle/vtrack/internal/services/tracker/domain"
	"github.com/etle/vtrack/internal/services/tracker/metrics"
	"github.com/etle/vtrack/internal/services/tracker/notify"
	"github.com/etle/vtrack/internal/services/tracker/route"
	"github.com/etle/vtrack/internal/services/tracker/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/etle/vtrack/internal/services/tracker/journey"

// CheckpointScheduler is the part of the scheduler the machine drives.
type CheckpointScheduler interface {
	Running() bool
	// Activate makes checkpoint the scanning one if detection is running.
	Activate(checkpoint domain.CheckpointID) bool
	// Reconcile picks the active checkpoint from the needs of all in-flight
	// journeys, most recent first.
	Reconcile(needs []domain.CheckpointID)
}

// Publisher accepts notification events.
type Publisher interface {
	Publish(notify.Event)
}

// Config wires a Machine.
type Config struct {
	Store     storage.Store
	Routes    *route.Table
	Rules     domain.Rules
	Scheduler CheckpointScheduler
	Bus       Publisher
	Renderer  *notify.Renderer
	Metrics   *metrics.Metrics
	// Clock defaults to time.Now.
	Clock func() time.Time
	// NewID defaults to id.NewID.
	NewID func() (string, error)
	Logf  func(string, ...any)
}

// Machine owns every journey status transition.
type Machine struct {
	store   storage.Store
	routes  *route.Table
	rules   domain.Rules
	sched   CheckpointScheduler
	bus     Publisher
	render  *notify.Renderer
	metrics *metrics.Metrics
	clock   func() time.Time
	newID   func() (string, error)
	logf    func(string, ...any)
	locks   *keyedMutex
	tracer  trace.Tracer
}

// NewMachine validates cfg and builds a Machine.
func NewMachine(cfg Config) (*Machine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("journey store is required")
	}
	if cfg.Scheduler == nil {
		return nil, fmt.Errorf("checkpoint scheduler is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("notification bus is required")
	}
	if cfg.Rules.Budget <= 0 {
		return nil, fmt.Errorf("time budget must be positive")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = id.NewID
	}
	if cfg.Renderer == nil {
		cfg.Renderer = notify.NewRenderer("en", cfg.Clock)
	}
	if cfg.Logf == nil {
		cfg.Logf = log.Printf
	}
	return &Machine{
		store:   cfg.Store,
		routes:  cfg.Routes,
		rules:   cfg.Rules,
		sched:   cfg.Scheduler,
		bus:     cfg.Bus,
		render:  cfg.Renderer,
		metrics: cfg.Metrics,
		clock:   cfg.Clock,
		newID:   cfg.NewID,
		logf:    cfg.Logf,
		locks:   newKeyedMutex(),
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// Registration is the input for a new journey.
type Registration struct {
	VisitorName string
	Plate       string
	Destination string
}

// Register opens a Pending journey and evaluates it so its first checkpoint
// starts scanning. Detection must be running.
func (m *Machine) Register(ctx context.Context, in Registration) (domain.Journey, error) {
	if !m.sched.Running() {
		return domain.Journey{}, apperrors.New(apperrors.CodeDetectionNotRunning, "detection is not running")
	}
	plate := domain.NormalizePlate(in.Plate)
	if plate == "" {
		return domain.Journey{}, apperrors.New(apperrors.CodeJourneyPlateEmpty, "plate number is required")
	}
	visitor := strings.TrimSpace(in.VisitorName)
	if visitor == "" {
		return domain.Journey{}, apperrors.New(apperrors.CodeJourneyVisitorEmpty, "visitor name is required")
	}
	destination := strings.TrimSpace(in.Destination)
	if destination == "" {
		return domain.Journey{}, apperrors.New(apperrors.CodeJourneyDestinationEmpty, "destination is required")
	}

	journeyID, err := m.newID()
	if err != nil {
		return domain.Journey{}, fmt.Errorf("generate journey id: %w", err)
	}
	j := domain.Journey{
		ID:          journeyID,
		VisitorName: visitor,
		PlateNumber: plate,
		Destination: destination,
		Status:      domain.StatusPending,
		StartedAt:   m.clock().UTC(),
	}
	if err := m.store.CreateJourney(ctx, j); err != nil {
		return domain.Journey{}, fmt.Errorf("create journey: %w", err)
	}
	m.logf("journey registered journey_id=%s plate=%s destination=%q", j.ID, j.PlateNumber, j.Destination)
	m.notify(notify.Notice{Kind: notify.KindRegistered, JourneyID: j.ID, Plate: plate, Destination: destination})
	if !m.routes.Known(destination) {
		m.logf("destination has no route journey_id=%s destination=%q", j.ID, destination)
		m.notify(notify.Notice{Kind: notify.KindUnknownDestination, JourneyID: j.ID, Plate: plate, Destination: destination})
	}

	return m.Evaluate(ctx, j.ID)
}

// Evaluate re-applies the rules to a journey and, when the target status
// differs, writes it, notifies, and reschedules. Re-evaluating an unchanged
// journey writes nothing and notifies nobody.
func (m *Machine) Evaluate(ctx context.Context, journeyID string) (domain.Journey, error) {
	ctx, span := m.tracer.Start(ctx, "journey.Evaluate", trace.WithAttributes(attribute.String("journey.id", journeyID)))
	defer span.End()

	unlock := m.locks.Lock(journeyID)
	defer unlock()

	j, err := m.load(ctx, journeyID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.Journey{}, err
	}
	j, err = m.evaluateLocked(ctx, span, j)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.Journey{}, err
	}
	return j, nil
}

// errJourneyClosed means the journey left flight between matching and
// recording; nothing was stored against it.
var errJourneyClosed = errors.New("journey is closed")

// Record stores d against its journey and evaluates the journey, both under
// the journey lock, so no detection lands on a closed journey. The detection
// time is clamped to [journey start, now].
func (m *Machine) Record(ctx context.Context, d domain.Detection) (domain.Detection, domain.Journey, error) {
	ctx, span := m.tracer.Start(ctx, "journey.Record", trace.WithAttributes(
		attribute.String("journey.id", d.JourneyID),
		attribute.Int("checkpoint.id", int(d.Checkpoint)),
	))
	defer span.End()

	unlock := m.locks.Lock(d.JourneyID)
	defer unlock()

	j, err := m.load(ctx, d.JourneyID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.Detection{}, domain.Journey{}, err
	}
	if !j.Status.InFlight() {
		return domain.Detection{}, domain.Journey{}, errJourneyClosed
	}
	d.DetectedAt = clampTime(d.DetectedAt.UTC(), j.StartedAt, m.clock().UTC())
	stored, err := m.store.InsertDetection(ctx, d)
	if err != nil {
		return domain.Detection{}, domain.Journey{}, err
	}
	j, err = m.evaluateLocked(ctx, span, j)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return stored, domain.Journey{}, fmt.Errorf("evaluate journey %s: %w", d.JourneyID, err)
	}
	return stored, j, nil
}

// evaluateLocked applies the rules to j. Callers hold the journey lock.
func (m *Machine) evaluateLocked(ctx context.Context, span trace.Span, j domain.Journey) (domain.Journey, error) {
	if j.Status.Terminal() {
		return j, nil
	}
	detections, err := m.store.ListDetections(ctx, j.ID)
	if err != nil {
		return domain.Journey{}, fmt.Errorf("list detections: %w", err)
	}

	ev := m.rules.Evaluate(j, m.routes.Route(j.Destination), detections, m.clock())
	span.SetAttributes(attribute.String("journey.target", string(ev.Target)), attribute.String("journey.reason", string(ev.Reason)))
	j, err = m.transition(ctx, j, ev, detections)
	if err != nil {
		return domain.Journey{}, err
	}
	m.schedule(ctx, ev)
	return j, nil
}

func clampTime(t, lo, hi time.Time) time.Time {
	if t.Before(lo) {
		return lo
	}
	if t.After(hi) {
		return hi
	}
	return t
}

// Expire fails an in-flight journey whose budget has elapsed since its last
// progress. It reports whether the journey was failed.
func (m *Machine) Expire(ctx context.Context, journeyID string) (bool, error) {
	unlock := m.locks.Lock(journeyID)
	defer unlock()

	j, err := m.load(ctx, journeyID)
	if err != nil {
		return false, err
	}
	if !j.Status.InFlight() {
		return false, nil
	}
	detections, err := m.store.ListDetections(ctx, journeyID)
	if err != nil {
		return false, fmt.Errorf("list detections: %w", err)
	}
	if !m.rules.Expired(j, detections, m.clock()) {
		return false, nil
	}

	ev := domain.Evaluation{Target: domain.StatusFailed, Reason: domain.ReasonTimeout}
	if _, err := m.transition(ctx, j, ev, detections); err != nil {
		return false, err
	}
	m.schedule(ctx, ev)
	return true, nil
}

// Verify applies a human verdict with a corrected plate. Detections are
// relabeled only when the verdict is Passed.
func (m *Machine) Verify(ctx context.Context, journeyID, correctedPlate string, verdict domain.Status) (domain.Journey, error) {
	if !verdict.Terminal() {
		return domain.Journey{}, apperrors.WithMetadata(apperrors.CodeJourneyInvalidVerdict,
			fmt.Sprintf("verdict must be %s or %s", domain.StatusPassed, domain.StatusFailed),
			map[string]string{"verdict": string(verdict)})
	}

	unlock := m.locks.Lock(journeyID)
	defer unlock()

	j, err := m.load(ctx, journeyID)
	if err != nil {
		return domain.Journey{}, err
	}
	if j.Status.Terminal() {
		return domain.Journey{}, apperrors.WithMetadata(apperrors.CodeJourneyAlreadyClosed,
			fmt.Sprintf("journey is already %s", j.Status),
			map[string]string{"journey_id": j.ID})
	}

	plate := domain.NormalizePlate(correctedPlate)
	if plate == "" {
		plate = j.PlateNumber
	}
	now := m.clock().UTC()
	err = m.store.ApplyVerification(ctx, storage.Verification{
		JourneyID:         j.ID,
		From:              j.Status,
		Verdict:           verdict,
		PlateNumber:       plate,
		EndedAt:           now,
		RelabelDetections: verdict == domain.StatusPassed,
	})
	if errors.Is(err, storage.ErrConflict) {
		return domain.Journey{}, apperrors.Wrap(apperrors.CodeJourneyConcurrentUpdate, "journey changed during verification", err)
	}
	if err != nil {
		return domain.Journey{}, fmt.Errorf("apply verification: %w", err)
	}

	m.logf("journey verified journey_id=%s verdict=%s plate=%s", j.ID, verdict, plate)
	m.metrics.Transition(string(verdict), "manual")
	kind := notify.KindVerifiedFailed
	if verdict == domain.StatusPassed {
		kind = notify.KindVerifiedPassed
	}
	m.notify(notify.Notice{Kind: kind, JourneyID: j.ID, Plate: plate, Destination: j.Destination})

	j.Status = verdict
	j.PlateNumber = plate
	j.EndedAt = now
	m.Reschedule(ctx)
	return j, nil
}

// Reschedule recomputes which checkpoint in-flight journeys need and hands
// the list, most recently started first, to the scheduler.
func (m *Machine) Reschedule(ctx context.Context) {
	journeys, err := m.store.ListActiveJourneys(ctx)
	if err != nil {
		m.logf("reschedule: list active journeys: %v", err)
		return
	}
	needs := make([]domain.CheckpointID, 0, len(journeys))
	for _, j := range journeys {
		detections, err := m.store.ListDetections(ctx, j.ID)
		if err != nil {
			m.logf("reschedule: list detections journey_id=%s: %v", j.ID, err)
			continue
		}
		next := domain.NextCheckpoint(m.routes.Route(j.Destination), domain.Visited(detections))
		if next != 0 {
			needs = append(needs, next)
		}
	}
	m.sched.Reconcile(needs)
}

func (m *Machine) load(ctx context.Context, journeyID string) (domain.Journey, error) {
	j, err := m.store.GetJourney(ctx, journeyID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Journey{}, apperrors.WithMetadata(apperrors.CodeJourneyNotFound, "journey not found",
			map[string]string{"journey_id": journeyID})
	}
	if err != nil {
		return domain.Journey{}, fmt.Errorf("get journey: %w", err)
	}
	return j, nil
}

// transition writes ev.Target when it differs from j.Status. Callers hold
// the journey lock.
func (m *Machine) transition(ctx context.Context, j domain.Journey, ev domain.Evaluation, detections []domain.Detection) (domain.Journey, error) {
	if ev.Target == j.Status {
		return j, nil
	}
	var endedAt time.Time
	if ev.Target.Terminal() {
		endedAt = m.clock().UTC()
	}
	err := m.store.UpdateJourneyStatus(ctx, storage.StatusChange{
		JourneyID: j.ID,
		From:      j.Status,
		To:        ev.Target,
		EndedAt:   endedAt,
	})
	if errors.Is(err, storage.ErrConflict) {
		return domain.Journey{}, apperrors.Wrap(apperrors.CodeJourneyConcurrentUpdate, "journey changed during evaluation", err)
	}
	if err != nil {
		return domain.Journey{}, fmt.Errorf("update journey status: %w", err)
	}

	m.logf("journey transition journey_id=%s from=%s to=%s reason=%s", j.ID, j.Status, ev.Target, ev.Reason)
	m.metrics.Transition(string(ev.Target), string(ev.Reason))
	j.Status = ev.Target
	j.EndedAt = endedAt

	notice := notify.Notice{JourneyID: j.ID, Plate: j.PlateNumber, Destination: j.Destination}
	switch ev.Reason {
	case domain.ReasonCompleted:
		notice.Kind = notify.KindCompleted
	case domain.ReasonRouteViolation:
		notice.Kind = notify.KindRouteViolation
		if n := len(detections); n > 0 {
			notice.Checkpoint = detections[n-1].Checkpoint
		}
	case domain.ReasonTimeout:
		notice.Kind = notify.KindTimeout
	case domain.ReasonLowConfidence:
		notice.Kind = notify.KindLowConfidence
	default:
		return j, nil
	}
	m.notify(notice)
	return j, nil
}

func (m *Machine) schedule(ctx context.Context, ev domain.Evaluation) {
	if !ev.Target.Terminal() && ev.Next != 0 {
		m.sched.Activate(ev.Next)
		return
	}
	m.Reschedule(ctx)
}

func (m *Machine) notify(n notify.Notice) {
	m.bus.Publish(m.render.Event(n))
}
