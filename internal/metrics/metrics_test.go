package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordIntake("http", "accepted")
	m.RecordTick("idle")
	m.RecordTransition("submitted")
	m.ObserveSubmit(time.Second)
	m.RecordLedgerDial()
	m.SetQueueDepth(3)
	m.RecordHTTP("/health", http.MethodGet, http.StatusOK)
	if m.Registry() != nil {
		t.Fatal("expected nil registry from nil metrics")
	}
}

func TestCountersAccumulate(t *testing.T) {
	m := New()
	m.RecordIntake("http", "accepted")
	m.RecordIntake("http", "accepted")
	m.RecordIntake("amqp", "rejected")
	m.RecordTick("skipped_busy")
	m.SetQueueDepth(7)

	if got := testutil.ToFloat64(m.intake.WithLabelValues("http", "accepted")); got != 2 {
		t.Fatalf("expected 2 accepted http intakes, got %v", got)
	}
	if got := testutil.ToFloat64(m.intake.WithLabelValues("amqp", "rejected")); got != 1 {
		t.Fatalf("expected 1 rejected amqp intake, got %v", got)
	}
	if got := testutil.ToFloat64(m.workerTicks.WithLabelValues("skipped_busy")); got != 1 {
		t.Fatalf("expected 1 skipped tick, got %v", got)
	}
	if got := testutil.ToFloat64(m.queueDepth); got != 7 {
		t.Fatalf("expected queue depth 7, got %v", got)
	}
}

func TestHandlerExposesRelayerMetrics(t *testing.T) {
	m := New()
	m.RecordTransition("failed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `relayer_job_transitions_total{status="failed"} 1`) {
		t.Fatalf("expected transition counter in exposition, got:\n%s", rec.Body.String())
	}
}
