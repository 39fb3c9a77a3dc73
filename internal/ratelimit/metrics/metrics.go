package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for ChecksTotal.
const (
	OutcomeAllowed   = "allowed"
	OutcomeThrottled = "throttled"
)

type Metrics struct {
	ChecksTotal         *prometheus.CounterVec
	RecordsTotal        *prometheus.CounterVec
	CleanupDeletedTotal prometheus.Counter
	StoreErrorsTotal    *prometheus.CounterVec
	FallbackTotal       *prometheus.CounterVec
	StoreLatency        *prometheus.HistogramVec
}

// New registers the rate limit metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anyzine_ratelimit_checks_total",
			Help: "Total rate limit checks by tier and outcome",
		}, []string{"tier", "outcome"}),
		RecordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anyzine_ratelimit_records_total",
			Help: "Total hits recorded against a consumption window by tier",
		}, []string{"tier"}),
		CleanupDeletedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "anyzine_ratelimit_cleanup_deleted_total",
			Help: "Total expired consumption windows removed by cleanup",
		}),
		StoreErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anyzine_ratelimit_store_errors_total",
			Help: "Total window store failures by operation",
		}, []string{"operation"}),
		FallbackTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anyzine_ratelimit_fallback_total",
			Help: "Total requests served by the local fallback counter by operation",
		}, []string{"operation"}),
		StoreLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "anyzine_ratelimit_store_latency_seconds",
			Help:    "Window store call latency by operation",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		}, []string{"operation"}),
	}
}

// The methods below are nil-safe so services can run without metrics.

func (m *Metrics) IncrementChecks(tier string, allowed bool) {
	if m == nil {
		return
	}
	outcome := OutcomeAllowed
	if !allowed {
		outcome = OutcomeThrottled
	}
	m.ChecksTotal.WithLabelValues(tier, outcome).Inc()
}

func (m *Metrics) IncrementRecords(tier string) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(tier).Inc()
}

func (m *Metrics) AddCleanupDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CleanupDeletedTotal.Add(float64(n))
}

func (m *Metrics) IncrementStoreErrors(operation string) {
	if m == nil {
		return
	}
	m.StoreErrorsTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncrementFallback(operation string) {
	if m == nil {
		return
	}
	m.FallbackTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveStoreLatency(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.StoreLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
