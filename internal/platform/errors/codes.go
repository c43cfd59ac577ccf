package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"
	// CodeInvalidRequest marks a malformed request body or parameter.
	CodeInvalidRequest Code = "INVALID_REQUEST"

	// Journey errors
	CodeJourneyNotFound          Code = "JOURNEY_NOT_FOUND"
	CodeJourneyPlateEmpty        Code = "JOURNEY_PLATE_EMPTY"
	CodeJourneyVisitorEmpty      Code = "JOURNEY_VISITOR_EMPTY"
	CodeJourneyDestinationEmpty  Code = "JOURNEY_DESTINATION_EMPTY"
	CodeJourneyInvalidVerdict    Code = "JOURNEY_INVALID_VERDICT"
	CodeJourneyAlreadyClosed     Code = "JOURNEY_ALREADY_CLOSED"
	CodeJourneyConcurrentUpdate  Code = "JOURNEY_CONCURRENT_UPDATE"
	CodeJourneyInvalidFilter     Code = "JOURNEY_INVALID_FILTER"
	CodeJourneyInvalidPageSize   Code = "JOURNEY_INVALID_PAGE_SIZE"
	CodeJourneyInvalidPageCursor Code = "JOURNEY_INVALID_PAGE_TOKEN"

	// Detection errors
	CodeDetectionNotRunning     Code = "DETECTION_NOT_RUNNING"
	CodeDetectionPlateEmpty     Code = "DETECTION_PLATE_EMPTY"
	CodeDetectionBadConfidence  Code = "DETECTION_INVALID_CONFIDENCE"
	CodeCheckpointNotActive     Code = "CHECKPOINT_NOT_ACTIVE"
	CodeCheckpointUnknown       Code = "CHECKPOINT_UNKNOWN"
	CodeCheckpointSourceMissing Code = "CHECKPOINT_SOURCE_MISSING"
)

// HTTPStatus maps domain codes to control API status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad input
	case CodeInvalidRequest,
		CodeJourneyPlateEmpty,
		CodeJourneyVisitorEmpty,
		CodeJourneyDestinationEmpty,
		CodeJourneyInvalidVerdict,
		CodeJourneyInvalidFilter,
		CodeJourneyInvalidPageSize,
		CodeJourneyInvalidPageCursor,
		CodeDetectionPlateEmpty,
		CodeDetectionBadConfidence,
		CodeCheckpointUnknown:
		return http.StatusBadRequest

	// State does not allow the operation
	case CodeJourneyAlreadyClosed,
		CodeJourneyConcurrentUpdate,
		CodeDetectionNotRunning,
		CodeCheckpointNotActive,
		CodeCheckpointSourceMissing:
		return http.StatusConflict

	case CodeJourneyNotFound:
		return http.StatusNotFound

	default:
		return http.StatusInternalServerError
	}
}
