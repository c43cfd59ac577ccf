package notify

import (
	"time"

	"github.com/etle/vtrack/internal/services/tracker/domain"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Kind identifies what happened.
type Kind string

const (
	KindRegistered         Kind = "journey.registered"
	KindCompleted          Kind = "journey.completed"
	KindRouteViolation     Kind = "journey.route_violation"
	KindTimeout            Kind = "journey.timeout"
	KindLowConfidence      Kind = "journey.low_confidence"
	KindVerifiedPassed     Kind = "journey.verified_passed"
	KindVerifiedFailed     Kind = "journey.verified_failed"
	KindAnomaly            Kind = "detection.anomaly"
	KindUnknownDestination Kind = "route.unknown_destination"
	KindCaptureRetrying    Kind = "checkpoint.capture_retrying"
	KindCaptureStopped     Kind = "checkpoint.capture_stopped"
	KindCaptureRestored    Kind = "checkpoint.capture_restored"
)

var severities = map[Kind]Severity{
	KindRegistered:         SeverityInfo,
	KindCompleted:          SeveritySuccess,
	KindRouteViolation:     SeverityFailed,
	KindTimeout:            SeverityFailed,
	KindLowConfidence:      SeverityWarning,
	KindVerifiedPassed:     SeveritySuccess,
	KindVerifiedFailed:     SeverityFailed,
	KindAnomaly:            SeverityFailed,
	KindUnknownDestination: SeverityWarning,
	KindCaptureRetrying:    SeverityWarning,
	KindCaptureStopped:     SeverityFailed,
	KindCaptureRestored:    SeverityInfo,
}

// Notice is the data an event message is rendered from.
type Notice struct {
	Kind        Kind
	JourneyID   string
	Plate       string
	Destination string
	Checkpoint  domain.CheckpointID
}

// Localizer is the minimal message-printer contract required by Renderer.
type Localizer interface {
	Sprintf(key message.Reference, args ...any) string
}

// Renderer turns notices into localized events.
type Renderer struct {
	loc   Localizer
	clock func() time.Time
}

// NewRenderer prints in locale ("en" or "id"); unknown locales fall back to
// English. A nil clock means time.Now.
func NewRenderer(locale string, clock func() time.Time) *Renderer {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	_, index, _ := matcher.Match(tag)
	if clock == nil {
		clock = time.Now
	}
	return &Renderer{loc: message.NewPrinter(supportedLocales[index]), clock: clock}
}

// Event renders n with the current time.
func (r *Renderer) Event(n Notice) Event {
	return Event{
		Time:      r.clock().UTC(),
		Kind:      n.Kind,
		Message:   r.message(n),
		Severity:  SeverityOf(n.Kind),
		JourneyID: n.JourneyID,
	}
}

// SeverityOf grades a kind. Unknown kinds are informational.
func SeverityOf(kind Kind) Severity {
	if s, ok := severities[kind]; ok {
		return s
	}
	return SeverityInfo
}

func (r *Renderer) message(n Notice) string {
	switch n.Kind {
	case KindRegistered:
		return r.loc.Sprintf("journey.registered", n.Plate, n.Destination)
	case KindCompleted:
		return r.loc.Sprintf("journey.completed", n.Plate, n.Destination)
	case KindRouteViolation:
		return r.loc.Sprintf("journey.route_violation", n.Plate, int(n.Checkpoint))
	case KindTimeout:
		return r.loc.Sprintf("journey.timeout", n.Plate)
	case KindLowConfidence:
		return r.loc.Sprintf("journey.low_confidence", n.Plate)
	case KindVerifiedPassed:
		return r.loc.Sprintf("journey.verified_passed", n.Plate)
	case KindVerifiedFailed:
		return r.loc.Sprintf("journey.verified_failed", n.Plate)
	case KindAnomaly:
		return r.loc.Sprintf("detection.anomaly", n.Plate, int(n.Checkpoint))
	case KindUnknownDestination:
		return r.loc.Sprintf("route.unknown_destination", n.Destination, n.Plate)
	case KindCaptureRetrying:
		return r.loc.Sprintf("checkpoint.capture_retrying", int(n.Checkpoint))
	case KindCaptureStopped:
		return r.loc.Sprintf("checkpoint.capture_stopped", int(n.Checkpoint))
	case KindCaptureRestored:
		return r.loc.Sprintf("checkpoint.capture_restored", int(n.Checkpoint))
	default:
		return string(n.Kind)
	}
}
