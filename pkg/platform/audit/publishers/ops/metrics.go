package ops

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit pipeline.
type Metrics struct {
	Forwarded             prometheus.Counter
	Sampled               prometheus.Counter
	QueueFull             prometheus.Counter
	CircuitBreakerDropped prometheus.Counter
	SinkFailures          prometheus.Counter
}

// NewMetrics registers audit pipeline metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Forwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "anyzine_audit_forwarded_total",
			Help: "Audit events written to the sink",
		}),
		Sampled: factory.NewCounter(prometheus.CounterOpts{
			Name: "anyzine_audit_sampled_out_total",
			Help: "Audit events dropped by sampling",
		}),
		QueueFull: factory.NewCounter(prometheus.CounterOpts{
			Name: "anyzine_audit_queue_full_total",
			Help: "Audit events dropped because the in-process queue was full",
		}),
		CircuitBreakerDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "anyzine_audit_circuit_breaker_dropped_total",
			Help: "Audit events dropped while the sink circuit was open",
		}),
		SinkFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "anyzine_audit_sink_failures_total",
			Help: "Audit sink write failures",
		}),
	}
}

func (m *Metrics) incForwarded() {
	if m != nil {
		m.Forwarded.Inc()
	}
}

func (m *Metrics) incSampled() {
	if m != nil {
		m.Sampled.Inc()
	}
}

func (m *Metrics) incQueueFull() {
	if m != nil {
		m.QueueFull.Inc()
	}
}

func (m *Metrics) incCircuitDropped() {
	if m != nil {
		m.CircuitBreakerDropped.Inc()
	}
}

func (m *Metrics) incSinkFailures() {
	if m != nil {
		m.SinkFailures.Inc()
	}
}
