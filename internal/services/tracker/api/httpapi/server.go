// Package httpapi serves the tracker control API: journey registration,
// history, manual verification, detection control, external plate reads,
// statistics, the notification feed and Prometheus metrics.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/etle/vtrack/internal/services/tracker/domain"
	"github.com/etle/vtrack/internal/services/tracker/journey"
	"github.com/etle/vtrack/internal/services/tracker/metrics"
	"github.com/etle/vtrack/internal/services/tracker/notify"
	"github.com/etle/vtrack/internal/services/tracker/route"
	"github.com/etle/vtrack/internal/services/tracker/scheduler"
	"github.com/etle/vtrack/internal/services/tracker/storage"
)

// Journeys opens, verifies, and reschedules journeys.
type Journeys interface {
	Register(ctx context.Context, in journey.Registration) (domain.Journey, error)
	Verify(ctx context.Context, journeyID, correctedPlate string, verdict domain.Status) (domain.Journey, error)
	Reschedule(ctx context.Context)
}

// ReadMatcher attributes plate reads to journeys.
type ReadMatcher interface {
	HandleRead(ctx context.Context, read domain.PlateRead) (journey.MatchResult, error)
}

// Detection switches the checkpoint scheduler on and off.
type Detection interface {
	Start(ctx context.Context)
	Stop()
	Snapshot() scheduler.State
}

// Feed hands out pending notifications.
type Feed interface {
	DrainAll() []notify.Event
}

// Config wires a Server.
type Config struct {
	// Context is the lifetime of detection tasks started through the API.
	Context   context.Context
	Store     storage.Store
	Routes    *route.Table
	Journeys  Journeys
	Reads     ReadMatcher
	Detection Detection
	Feed      Feed
	Metrics   *metrics.Metrics
	Clock     func() time.Time
	Logf      func(string, ...any)
}

// Server is the control API handler.
type Server struct {
	base      context.Context
	store     storage.Store
	routes    *route.Table
	journeys  Journeys
	reads     ReadMatcher
	detection Detection
	feed      Feed
	metrics   *metrics.Metrics
	clock     func() time.Time
	logf      func(string, ...any)
	mux       *http.ServeMux
}

// New validates cfg and registers every route.
func New(cfg Config) (*Server, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("store is required")
	case cfg.Journeys == nil:
		return nil, errors.New("journey service is required")
	case cfg.Reads == nil:
		return nil, errors.New("read matcher is required")
	case cfg.Detection == nil:
		return nil, errors.New("detection control is required")
	case cfg.Feed == nil:
		return nil, errors.New("notification feed is required")
	}
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logf == nil {
		cfg.Logf = log.Printf
	}
	s := &Server{
		base:      cfg.Context,
		store:     cfg.Store,
		routes:    cfg.Routes,
		journeys:  cfg.Journeys,
		reads:     cfg.Reads,
		detection: cfg.Detection,
		feed:      cfg.Feed,
		metrics:   cfg.Metrics,
		clock:     cfg.Clock,
		logf:      cfg.Logf,
		mux:       http.NewServeMux(),
	}
	s.routesTable()
	return s, nil
}

func (s *Server) routesTable() {
	s.handle("GET /api/status", "status", s.handleStatus)
	s.handle("POST /api/detection/start", "detection_start", s.handleStart)
	s.handle("POST /api/detection/stop", "detection_stop", s.handleStop)
	s.handle("POST /api/journeys", "journey_register", s.handleRegister)
	s.handle("GET /api/journeys", "journey_list", s.handleListJourneys)
	s.handle("GET /api/journeys/{id}", "journey_get", s.handleGetJourney)
	s.handle("POST /api/journeys/{id}/verification", "journey_verify", s.handleVerify)
	s.handle("POST /api/reads", "read_ingest", s.handleRead)
	s.handle("GET /api/stats", "stats", s.handleStats)
	s.handle("GET /api/notifications", "notifications", s.handleNotifications)
	s.handle("GET /api/routes", "routes", s.handleRoutes)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

func (s *Server) handle(pattern, name string, fn http.HandlerFunc) {
	s.mux.Handle(pattern, s.metrics.Instrument(name, fn))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// NewHTTPServer wraps handler with the server timeouts used by the tracker.
func NewHTTPServer(addr string, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.detection.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.detection.Start(s.base)
	s.journeys.Reschedule(r.Context())
	state := s.detection.Snapshot()
	s.logf("detection start requested active_checkpoint=%d", state.Active)
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.detection.Stop()
	s.logf("detection stop requested")
	writeJSON(w, http.StatusOK, s.detection.Snapshot())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountDetections(r.Context(), s.clock())
	if err != nil {
		s.writeError(w, fmt.Errorf("count detections: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, statsView{
		Total: counts.Total,
		Today: counts.Today,
		Week:  counts.Week,
		Month: counts.Month,
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	events := s.feed.DrainAll()
	if events == nil {
		events = []notify.Event{}
	}
	writeJSON(w, http.StatusOK, notificationsView{Notifications: events})
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	out := routesView{Routes: []routeView{}}
	for _, destination := range s.routes.Destinations() {
		rv := routeView{Destination: destination, Checkpoints: []route.Checkpoint{}}
		for _, id := range s.routes.Route(destination) {
			cp, _ := s.routes.Checkpoint(id)
			rv.Checkpoints = append(rv.Checkpoints, cp)
		}
		out.Routes = append(out.Routes, rv)
	}
	writeJSON(w, http.StatusOK, out)
}
