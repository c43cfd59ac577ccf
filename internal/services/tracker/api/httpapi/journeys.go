package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/etle/vtrack/internal/platform/errors"
	"github.com/etle/vtrack/internal/platform/pagination"
	"github.com/etle/vtrack/internal/services/tracker/domain"
	"github.com/etle/vtrack/internal/services/tracker/journey"
	"github.com/etle/vtrack/internal/services/tracker/storage"
	"github.com/etle/vtrack/internal/services/tracker/storage/filter"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	j, err := s.journeys.Register(r.Context(), journey.Registration{
		VisitorName: req.VisitorName,
		Plate:       req.PlateNumber,
		Destination: req.Destination,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJourneyView(j))
}

func (s *Server) handleListJourneys(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := storage.ListQuery{PageToken: q.Get("page_token")}

	if raw := strings.TrimSpace(q.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 0 {
			s.writeError(w, apperrors.WithMetadata(apperrors.CodeJourneyInvalidPageSize,
				"page_size must be a non-negative integer", map[string]string{"page_size": raw}))
			return
		}
		query.PageSize = size
	}
	if _, err := pagination.DecodeToken(query.PageToken); err != nil {
		s.writeError(w, apperrors.Wrap(apperrors.CodeJourneyInvalidPageCursor, "invalid page_token", err))
		return
	}
	cond, err := filter.Parse(q.Get("filter"))
	if err != nil {
		s.writeError(w, apperrors.Wrap(apperrors.CodeJourneyInvalidFilter, "invalid filter", err))
		return
	}
	query.Filter = cond

	page, err := s.store.ListJourneys(r.Context(), query)
	if err != nil {
		s.writeError(w, fmt.Errorf("list journeys: %w", err))
		return
	}
	out := journeyPageView{Journeys: make([]journeyView, 0, len(page.Journeys)), NextPageToken: page.NextPageToken}
	for _, j := range page.Journeys {
		out.Journeys = append(out.Journeys, toJourneyView(j))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetJourney(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	j, err := s.store.GetJourney(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, apperrors.WithMetadata(apperrors.CodeJourneyNotFound, "journey not found",
			map[string]string{"journey_id": id}))
		return
	}
	if err != nil {
		s.writeError(w, fmt.Errorf("get journey: %w", err))
		return
	}
	detections, err := s.store.ListDetections(r.Context(), id)
	if err != nil {
		s.writeError(w, fmt.Errorf("list detections: %w", err))
		return
	}
	out := journeyDetailView{Journey: toJourneyView(j), Detections: make([]detectionView, 0, len(detections))}
	for _, d := range detections {
		out.Detections = append(out.Detections, toDetectionView(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	verdict, err := domain.ParseStatus(req.Verdict)
	if err != nil {
		s.writeError(w, apperrors.Wrap(apperrors.CodeJourneyInvalidVerdict, "invalid verdict", err))
		return
	}
	j, err := s.journeys.Verify(r.Context(), r.PathValue("id"), req.PlateNumber, verdict)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJourneyView(j))
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	var req readRequest
	if !decodeBody(w, r, &req) {
		return
	}
	state := s.detection.Snapshot()
	if !state.Running {
		s.writeError(w, apperrors.New(apperrors.CodeDetectionNotRunning, "detection is not running"))
		return
	}
	if state.Active != req.Checkpoint {
		s.writeError(w, apperrors.WithMetadata(apperrors.CodeCheckpointNotActive, "checkpoint is not scanning",
			map[string]string{
				"checkpoint":        strconv.Itoa(int(req.Checkpoint)),
				"active_checkpoint": strconv.Itoa(int(state.Active)),
			}))
		return
	}
	// Camera clocks may run ahead of ours; a read is never recorded in the future.
	at := s.clock()
	if req.DetectedAt != nil && req.DetectedAt.Before(at) {
		at = *req.DetectedAt
	}
	res, err := s.reads.HandleRead(r.Context(), domain.PlateRead{
		Plate:        req.Plate,
		Checkpoint:   req.Checkpoint,
		Confidence:   req.Confidence,
		EvidencePath: req.EvidencePath,
		At:           at,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := readResultView{Outcome: res.Outcome, Detection: toDetectionView(res.Detection)}
	if res.Journey.ID != "" {
		jv := toJourneyView(res.Journey)
		out.Journey = &jv
	}
	writeJSON(w, http.StatusAccepted, out)
}

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, string(apperrors.CodeInvalidRequest), "invalid JSON body")
		return false
	}
	return true
}
