package domain

import (
	"slices"
	"time"
)

// Reason explains why an evaluation produced its target status.
type Reason string

const (
	ReasonInProgress     Reason = "in_progress"
	ReasonCompleted      Reason = "completed"
	ReasonRouteViolation Reason = "route_violation"
	ReasonTimeout        Reason = "timeout"
	ReasonLowConfidence  Reason = "low_confidence"
	ReasonClosed         Reason = "closed"
)

// Rules are the process-wide evaluation parameters.
type Rules struct {
	// Budget is the time allowed between progress events.
	Budget time.Duration
	// ReviewThreshold is the confidence below which a detection needs review.
	ReviewThreshold float64
}

// Evaluation is the outcome of applying Rules to one journey.
type Evaluation struct {
	Target Status
	Reason Reason
	// Next is the checkpoint the journey waits on, or zero.
	Next CheckpointID
}

// Evaluate computes the status a journey should hold given its route and
// detections. Detections must be in the order they were recorded. Terminal
// journeys keep their status.
func (r Rules) Evaluate(j Journey, route []CheckpointID, detections []Detection, now time.Time) Evaluation {
	if j.Status.Terminal() {
		return Evaluation{Target: j.Status, Reason: ReasonClosed}
	}

	visited := Visited(detections)
	var ev Evaluation
	switch {
	case !InRouteOrder(route, visited):
		ev = Evaluation{Target: StatusFailed, Reason: ReasonRouteViolation}
	case len(route) > 0 && len(visited) == len(route):
		ev = Evaluation{Target: StatusPassed, Reason: ReasonCompleted}
	case r.Expired(j, detections, now):
		ev = Evaluation{Target: StatusFailed, Reason: ReasonTimeout}
	default:
		ev = Evaluation{Target: StatusPending, Reason: ReasonInProgress, Next: NextCheckpoint(route, visited)}
	}

	if ev.Target != StatusFailed && r.hasLowConfidence(detections) {
		ev.Target = StatusNeedsManualReview
		ev.Reason = ReasonLowConfidence
	}
	if ev.Target.Terminal() {
		ev.Next = 0
	}
	return ev
}

// Expired reports whether the budget has elapsed since the journey's last
// progress.
func (r Rules) Expired(j Journey, detections []Detection, now time.Time) bool {
	return now.After(ReferenceTime(j, detections).Add(r.Budget))
}

func (r Rules) hasLowConfidence(detections []Detection) bool {
	return slices.ContainsFunc(detections, func(d Detection) bool {
		return d.Confidence < r.ReviewThreshold
	})
}

// ReferenceTime is the later of the journey start and its latest detection.
func ReferenceTime(j Journey, detections []Detection) time.Time {
	ref := j.StartedAt
	for _, d := range detections {
		if d.DetectedAt.After(ref) {
			ref = d.DetectedAt
		}
	}
	return ref
}

// Visited returns the distinct checkpoints in the order they were recorded.
func Visited(detections []Detection) []CheckpointID {
	visited := make([]CheckpointID, 0, len(detections))
	for _, d := range detections {
		if !slices.Contains(visited, d.Checkpoint) {
			visited = append(visited, d.Checkpoint)
		}
	}
	return visited
}

// InRouteOrder reports whether visited is a prefix of route.
func InRouteOrder(route, visited []CheckpointID) bool {
	if len(visited) > len(route) {
		return false
	}
	return slices.Equal(route[:len(visited)], visited)
}

// NextCheckpoint is the route entry after the visited prefix, or zero when
// the route is exhausted or already violated.
func NextCheckpoint(route, visited []CheckpointID) CheckpointID {
	if !InRouteOrder(route, visited) || len(visited) >= len(route) {
		return 0
	}
	return route[len(visited)]
}
