package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relayer"

// Metrics groups the relayer's Prometheus collectors. A nil *Metrics is valid and
// records nothing, which keeps call sites free of nil checks in tests.
type Metrics struct {
	registry         *prometheus.Registry
	intake           *prometheus.CounterVec
	workerTicks      *prometheus.CounterVec
	jobTransitions   *prometheus.CounterVec
	submitDuration   prometheus.Histogram
	ledgerReconnects prometheus.Counter
	queueDepth       prometheus.Gauge
	httpRequests     *prometheus.CounterVec
}

// New registers every collector on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		intake: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intake_requests_total",
			Help:      "Remittance submissions by outcome.",
		}, []string{"source", "outcome"}),
		workerTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_ticks_total",
			Help:      "Submission worker ticks by outcome.",
		}, []string{"outcome"}),
		jobTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "Job status transitions by target status.",
		}, []string{"status"}),
		submitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_submit_duration_seconds",
			Help:      "Latency of ledger submission calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		ledgerReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_dials_total",
			Help:      "Ledger connections established.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs waiting in the submission queue at the last worker tick.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
	}
	registry.MustRegister(
		m.intake,
		m.workerTicks,
		m.jobTransitions,
		m.submitDuration,
		m.ledgerReconnects,
		m.queueDepth,
		m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordIntake(source, outcome string) {
	if m == nil {
		return
	}
	m.intake.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) RecordTick(outcome string) {
	if m == nil {
		return
	}
	m.workerTicks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordTransition(status string) {
	if m == nil {
		return
	}
	m.jobTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveSubmit(d time.Duration) {
	if m == nil {
		return
	}
	m.submitDuration.Observe(d.Seconds())
}

// RecordLedgerDial matches the ledger client's dial hook signature.
func (m *Metrics) RecordLedgerDial() {
	if m == nil {
		return
	}
	m.ledgerReconnects.Inc()
}

func (m *Metrics) SetQueueDepth(depth int64) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) RecordHTTP(route, method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}
