package pool

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "dbpool"
	subsystem = "pool"
)

// Metrics holds all pool-level Prometheus metrics.
type Metrics struct {
	Connections           *prometheus.GaugeVec
	Waiting               *prometheus.GaugeVec
	AcquireTotal          *prometheus.CounterVec
	AcquireDuration       *prometheus.HistogramVec
	ConnectionsOpened     *prometheus.CounterVec
	ConnectFailuresTotal  *prometheus.CounterVec
	EvictionsTotal        *prometheus.CounterVec
	QueriesTotal          *prometheus.CounterVec
	QueryDurationSeconds  *prometheus.HistogramVec
	SlowQueriesTotal      *prometheus.CounterVec
	HealthChecksTotal     *prometheus.CounterVec
	HealthCheckDurationMS *prometheus.HistogramVec
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// NewMetrics creates a Metrics instance registered via promauto
// (default global registry).
//
//nolint:funlen // many metrics require many statements
func NewMetrics() *Metrics {
	return &Metrics{
		Connections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "connections",
				Help:      "Number of pool connections by state",
			},
			[]string{"pool", "backend", "state"},
		),
		Waiting: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "waiting_callers",
				Help:      "Number of callers waiting for a connection",
			},
			[]string{"pool", "backend"},
		),
		AcquireTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "acquire_total",
				Help:      "Total number of acquire calls by outcome",
			},
			[]string{"pool", "backend", "result"},
		),
		AcquireDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "acquire_duration_seconds",
				Help:      "Time spent acquiring a connection",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
			},
			[]string{"pool", "backend"},
		),
		ConnectionsOpened: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "connections_opened_total",
				Help:      "Total number of backend sessions opened",
			},
			[]string{"pool", "backend"},
		),
		ConnectFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "connect_failures_total",
				Help:      "Total number of failed session opens",
			},
			[]string{"pool", "backend"},
		),
		EvictionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "evictions_total",
				Help:      "Total number of evicted connections by reason",
			},
			[]string{"pool", "backend", "reason"},
		),
		QueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queries_total",
				Help:      "Total number of queries by outcome",
			},
			[]string{"pool", "backend", "result"},
		),
		QueryDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "query_duration_seconds",
				Help:      "Duration of single query attempts",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"pool", "backend"},
		),
		SlowQueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "slow_queries_total",
				Help:      "Total number of queries slower than maxQueryTime",
			},
			[]string{"pool", "backend"},
		),
		HealthChecksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "health_checks_total",
				Help:      "Total number of health sweeps",
			},
			[]string{"pool", "backend"},
		),
		HealthCheckDurationMS: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "health_check_duration_milliseconds",
				Help:      "Duration of health sweeps in milliseconds",
				Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
			},
			[]string{"pool", "backend"},
		),
	}
}

// GetMetrics returns the process-wide pool metrics.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = NewMetrics()
	})
	return metricsInstance
}

// Acquire outcomes.
const (
	acquireIdle      = "idle"
	acquireCreated   = "created"
	acquireWaited    = "waited"
	acquireTimeout   = "timeout"
	acquireCancelled = "cancelled"
	acquireClosed    = "closed"
	acquireError     = "error"
)

// Eviction reasons.
const (
	evictIdleTimeout      = "idle_timeout"
	evictValidationFailed = "validation_failed"
	evictUnhealthy        = "unhealthy"
)

// Query outcomes.
const (
	querySuccess  = "success"
	queryFailure  = "failure"
	queryRejected = "rejected"
)

// RecordAcquire records the outcome and latency of an acquire call.
func (m *Metrics) RecordAcquire(pool, backend, result string, d time.Duration) {
	m.AcquireTotal.WithLabelValues(pool, backend, result).Inc()
	m.AcquireDuration.WithLabelValues(pool, backend).Observe(d.Seconds())
}

// RecordQuery records a query outcome.
func (m *Metrics) RecordQuery(pool, backend, result string) {
	m.QueriesTotal.WithLabelValues(pool, backend, result).Inc()
}

// RecordQueryDuration records the duration of one attempt.
func (m *Metrics) RecordQueryDuration(pool, backend string, d time.Duration, slow bool) {
	m.QueryDurationSeconds.WithLabelValues(pool, backend).Observe(d.Seconds())
	if slow {
		m.SlowQueriesTotal.WithLabelValues(pool, backend).Inc()
	}
}

// RecordEviction records an evicted connection.
func (m *Metrics) RecordEviction(pool, backend, reason string) {
	m.EvictionsTotal.WithLabelValues(pool, backend, reason).Inc()
}

// RecordOpen records a session open attempt.
func (m *Metrics) RecordOpen(pool, backend string, err error) {
	if err != nil {
		m.ConnectFailuresTotal.WithLabelValues(pool, backend).Inc()
		return
	}
	m.ConnectionsOpened.WithLabelValues(pool, backend).Inc()
}

// RecordHealthCheck records a completed sweep.
func (m *Metrics) RecordHealthCheck(pool, backend string, d time.Duration) {
	m.HealthChecksTotal.WithLabelValues(pool, backend).Inc()
	m.HealthCheckDurationMS.WithLabelValues(pool, backend).Observe(float64(d.Milliseconds()))
}

// SetStats publishes pool gauges.
func (m *Metrics) SetStats(pool string, s Stats) {
	backend := string(s.BackendKind)
	m.Connections.WithLabelValues(pool, backend, "active").Set(float64(s.Active))
	m.Connections.WithLabelValues(pool, backend, "idle").Set(float64(s.Idle))
	m.Connections.WithLabelValues(pool, backend, "healthy").Set(float64(s.Healthy))
	m.Connections.WithLabelValues(pool, backend, "total").Set(float64(s.Total))
	m.Waiting.WithLabelValues(pool, backend).Set(float64(s.Waiting))
}

// Forget drops the label sets of a pool that no longer exists.
func (m *Metrics) Forget(pool string) {
	labels := prometheus.Labels{"pool": pool}
	m.Connections.DeletePartialMatch(labels)
	m.Waiting.DeletePartialMatch(labels)
}
