package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the privacy engine.
// Tracks entity lifecycle counts, rights request outcomes and retention passes.
type Metrics struct {
	SubjectsCreated     prometheus.Counter
	SubjectsDeleted     *prometheus.CounterVec
	ConsentsRecorded    prometheus.Counter
	ConsentsWithdrawn   prometheus.Counter
	ProcessingRecorded  prometheus.Counter
	ProcessingBlocked   prometheus.Counter
	RequestsProcessed   *prometheus.CounterVec
	FulfillmentDuration prometheus.Histogram
	RetentionEnforced   *prometheus.CounterVec
	RetentionSkipped    prometheus.Counter
	RetentionFailed     prometheus.Counter
	SweepDuration       prometheus.Histogram
	BreachesReported    *prometheus.CounterVec
	Anonymizations      *prometheus.CounterVec
}

// New registers every privacy metric on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SubjectsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "privacy_subjects_created_total",
			Help: "Total number of data subjects created",
		}),
		SubjectsDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "privacy_subjects_deleted_total",
			Help: "Total number of data subjects deleted, by reason",
		}, []string{"reason"}),
		ConsentsRecorded: factory.NewCounter(prometheus.CounterOpts{
			Name: "privacy_consents_recorded_total",
			Help: "Total number of consent records appended",
		}),
		ConsentsWithdrawn: factory.NewCounter(prometheus.CounterOpts{
			Name: "privacy_consents_withdrawn_total",
			Help: "Total number of consents withdrawn",
		}),
		ProcessingRecorded: factory.NewCounter(prometheus.CounterOpts{
			Name: "privacy_processing_records_total",
			Help: "Total number of processing records appended",
		}),
		ProcessingBlocked: factory.NewCounter(prometheus.CounterOpts{
			Name: "privacy_processing_blocked_total",
			Help: "Total number of processing records refused by a restriction or objection",
		}),
		RequestsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "privacy_rights_requests_total",
			Help: "Total number of rights requests reaching a terminal state, by type and status",
		}, []string{"type", "status"}),
		FulfillmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "privacy_rights_request_fulfillment_duration_seconds",
			Help:    "Duration of rights request fulfillment",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		RetentionEnforced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "privacy_retention_enforced_total",
			Help: "Total number of retention enforcements, by deletion method",
		}, []string{"method"}),
		RetentionSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "privacy_retention_locked_skips_total",
			Help: "Total number of subjects skipped by a sweep because they were locked",
		}),
		RetentionFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "privacy_retention_failures_total",
			Help: "Total number of subjects a sweep failed to enforce",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "privacy_retention_sweep_duration_seconds",
			Help:    "Duration of a full retention sweep",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		BreachesReported: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "privacy_breaches_reported_total",
			Help: "Total number of breaches reported, by overall risk",
		}, []string{"risk"}),
		Anonymizations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "privacy_anonymizations_total",
			Help: "Total number of anonymization runs, by technique",
		}, []string{"technique"}),
	}
}

func (m *Metrics) IncSubjectsCreated() {
	m.SubjectsCreated.Inc()
}

func (m *Metrics) IncSubjectsDeleted(reason string) {
	m.SubjectsDeleted.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncConsentsRecorded() {
	m.ConsentsRecorded.Inc()
}

func (m *Metrics) IncConsentsWithdrawn() {
	m.ConsentsWithdrawn.Inc()
}

func (m *Metrics) IncProcessingRecorded() {
	m.ProcessingRecorded.Inc()
}

func (m *Metrics) IncProcessingBlocked() {
	m.ProcessingBlocked.Inc()
}

func (m *Metrics) IncRequestProcessed(requestType, status string) {
	m.RequestsProcessed.WithLabelValues(requestType, status).Inc()
}

// ObserveFulfillment records fulfillment time. Call with time.Now() taken at
// the start of the operation.
func (m *Metrics) ObserveFulfillment(start time.Time) {
	m.FulfillmentDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncRetentionEnforced(method string) {
	m.RetentionEnforced.WithLabelValues(method).Inc()
}

func (m *Metrics) IncRetentionSkipped() {
	m.RetentionSkipped.Inc()
}

func (m *Metrics) IncRetentionFailed() {
	m.RetentionFailed.Inc()
}

func (m *Metrics) ObserveSweep(start time.Time) {
	m.SweepDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncBreachReported(risk string) {
	m.BreachesReported.WithLabelValues(risk).Inc()
}

func (m *Metrics) IncAnonymization(technique string) {
	m.Anonymizations.WithLabelValues(technique).Inc()
}
