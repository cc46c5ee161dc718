package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for audit event publishing.
type Metrics struct {
	Emitted         *prometheus.CounterVec
	Dropped         prometheus.Counter
	PersistFailures prometheus.Counter
	BufferDepth     prometheus.Gauge
}

// NewMetrics registers publisher metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Emitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "privacy_audit_events_emitted_total",
			Help: "Total number of audit events handed to the sink, by category",
		}, []string{"category"}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "privacy_audit_events_dropped_total",
			Help: "Total number of audit events dropped because the async buffer was full",
		}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "privacy_audit_persist_failures_total",
			Help: "Total number of audit events the sink failed to persist",
		}),
		BufferDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "privacy_audit_buffer_depth",
			Help: "Number of audit events waiting in the async buffer",
		}),
	}
}

func (m *Metrics) IncEmitted(category string) {
	m.Emitted.WithLabelValues(category).Inc()
}

func (m *Metrics) IncDropped() {
	m.Dropped.Inc()
}

func (m *Metrics) IncPersistFailures() {
	m.PersistFailures.Inc()
}

func (m *Metrics) SetBufferDepth(n int) {
	m.BufferDepth.Set(float64(n))
}
