package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndGauge(t *testing.T) {
	m := New()
	m.Detection(OutcomeRecorded)
	m.Detection(OutcomeRecorded)
	m.Detection(OutcomeAnomalous)
	m.Transition("Passed", "completed")
	m.ActiveCheckpoint(4)

	if got := testutil.ToFloat64(m.detections.WithLabelValues(OutcomeRecorded)); got != 2 {
		t.Fatalf("recorded = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("Passed", "completed")); got != 1 {
		t.Fatalf("transitions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.activeCheckpoint); got != 4 {
		t.Fatalf("active checkpoint = %v, want 4", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Detection(OutcomeDuplicate)
	m.Transition("Failed", "timeout")
	m.PlateRead(1, "candidate")
	m.CaptureError(1)
	m.ActiveCheckpoint(0)

	h := m.Instrument("noop", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestHandlerExposesInstrumentedRequests(t *testing.T) {
	m := New()
	h := m.Instrument("status", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/reads", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	want := `vtrack_http_requests_total{handler="status",method="POST",status="409"} 1`
	if !strings.Contains(string(body), want) {
		t.Fatalf("metrics output missing %q", want)
	}
}
