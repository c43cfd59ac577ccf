package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	apperrors "github.com/etle/vtrack/internal/platform/errors"
	"github.com/etle/vtrack/internal/services/tracker/domain"
	"github.com/etle/vtrack/internal/services/tracker/notify"
	"github.com/etle/vtrack/internal/services/tracker/route"
)

type registerRequest struct {
	VisitorName string `json:"visitor_name"`
	PlateNumber string `json:"plate_number"`
	Destination string `json:"destination"`
}

type verifyRequest struct {
	PlateNumber string `json:"plate_number"`
	Verdict     string `json:"verdict"`
}

type readRequest struct {
	Plate        string              `json:"plate"`
	Checkpoint   domain.CheckpointID `json:"checkpoint"`
	Confidence   float64             `json:"confidence"`
	DetectedAt   *time.Time          `json:"detected_at,omitempty"`
	EvidencePath string              `json:"evidence_path,omitempty"`
}

type journeyView struct {
	ID          string     `json:"id"`
	VisitorName string     `json:"visitor_name"`
	PlateNumber string     `json:"plate_number"`
	Destination string     `json:"destination"`
	Status      string     `json:"status"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
}

type detectionView struct {
	ID           int64               `json:"id"`
	JourneyID    string              `json:"journey_id,omitempty"`
	PlateNumber  string              `json:"plate_number"`
	Checkpoint   domain.CheckpointID `json:"checkpoint"`
	DetectedAt   time.Time           `json:"detected_at"`
	Confidence   float64             `json:"confidence"`
	EvidencePath string              `json:"evidence_path,omitempty"`
}

type journeyPageView struct {
	Journeys      []journeyView `json:"journeys"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

type journeyDetailView struct {
	Journey    journeyView     `json:"journey"`
	Detections []detectionView `json:"detections"`
}

type readResultView struct {
	Outcome   string        `json:"outcome"`
	Detection detectionView `json:"detection"`
	Journey   *journeyView  `json:"journey,omitempty"`
}

type statsView struct {
	Total int `json:"total"`
	Today int `json:"today"`
	Week  int `json:"week"`
	Month int `json:"month"`
}

type notificationsView struct {
	Notifications []notify.Event `json:"notifications"`
}

type routeView struct {
	Destination string             `json:"destination"`
	Checkpoints []route.Checkpoint `json:"checkpoints"`
}

type routesView struct {
	Routes []routeView `json:"routes"`
}

type errorResponse struct {
	Error            string            `json:"error"`
	ErrorDescription string            `json:"error_description"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

func toJourneyView(j domain.Journey) journeyView {
	v := journeyView{
		ID:          j.ID,
		VisitorName: j.VisitorName,
		PlateNumber: j.PlateNumber,
		Destination: j.Destination,
		Status:      string(j.Status),
		StartTime:   j.StartedAt,
	}
	if !j.EndedAt.IsZero() {
		end := j.EndedAt
		v.EndTime = &end
	}
	return v
}

func toDetectionView(d domain.Detection) detectionView {
	return detectionView{
		ID:           d.ID,
		JourneyID:    d.JourneyID,
		PlateNumber:  d.PlateNumber,
		Checkpoint:   d.Checkpoint,
		DetectedAt:   d.DetectedAt,
		Confidence:   d.Confidence,
		EvidencePath: d.EvidencePath,
	}
}

// writeError maps domain errors to their status; anything else is logged
// and reported as an internal error.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && appErr.Code != apperrors.CodeUnknown {
		writeJSON(w, appErr.Code.HTTPStatus(), errorResponse{
			Error:            string(appErr.Code),
			ErrorDescription: appErr.Message,
			Metadata:         appErr.Metadata,
		})
		return
	}
	s.logf("control api error: %v", err)
	writeJSONError(w, http.StatusInternalServerError, string(apperrors.CodeUnknown), "internal error")
}

func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorResponse{Error: code, ErrorDescription: description})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}
