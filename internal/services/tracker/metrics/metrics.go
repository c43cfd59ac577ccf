// Package metrics exposes tracker counters on a private Prometheus registry.
// A nil *Metrics discards every observation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Detection outcomes.
const (
	OutcomeRecorded  = "recorded"
	OutcomeDuplicate = "duplicate"
	OutcomeAnomalous = "anomalous"
	OutcomeRejected  = "rejected"
)

// Metrics holds the tracker collectors.
type Metrics struct {
	registry         *prometheus.Registry
	detections       *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	plateReads       *prometheus.CounterVec
	captureErrors    *prometheus.CounterVec
	activeCheckpoint prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New registers the tracker collectors plus Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vtrack_detections_total",
			Help: "Plate detections handled by the matcher, by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vtrack_journey_transitions_total",
			Help: "Journey status transitions, by target status and reason.",
		}, []string{"status", "reason"}),
		plateReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vtrack_plate_reads_total",
			Help: "Plate reader invocations, by checkpoint and result.",
		}, []string{"checkpoint", "result"}),
		captureErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vtrack_capture_errors_total",
			Help: "Frame capture failures, by checkpoint.",
		}, []string{"checkpoint"}),
		activeCheckpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vtrack_active_checkpoint",
			Help: "Checkpoint currently running detection, 0 when none.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vtrack_http_requests_total",
			Help: "Control API requests.",
		}, []string{"handler", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vtrack_http_request_duration_seconds",
			Help:    "Control API request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"handler", "method"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.detections,
		m.transitions,
		m.plateReads,
		m.captureErrors,
		m.activeCheckpoint,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Detection(outcome string) {
	if m == nil {
		return
	}
	m.detections.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Transition(status, reason string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status, reason).Inc()
}

func (m *Metrics) PlateRead(checkpoint int, result string) {
	if m == nil {
		return
	}
	m.plateReads.WithLabelValues(strconv.Itoa(checkpoint), result).Inc()
}

func (m *Metrics) CaptureError(checkpoint int) {
	if m == nil {
		return
	}
	m.captureErrors.WithLabelValues(strconv.Itoa(checkpoint)).Inc()
}

func (m *Metrics) ActiveCheckpoint(checkpoint int) {
	if m == nil {
		return
	}
	m.activeCheckpoint.Set(float64(checkpoint))
}

// Instrument records request count and latency for one named handler.
func (m *Metrics) Instrument(name string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.httpDuration.WithLabelValues(name, r.Method).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(name, r.Method, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
