// Package service is the privacy-compliance engine: subject lifecycle, the
// consent ledger, the processing log, the rights request workflow, retention
// enforcement, anonymization, breach risk and reporting.
//
// The service holds no entity state. Everything goes through the injected
// Store, every mutation of a subject runs under that subject's lock, and
// every mutation emits an audit event.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"privacy/internal/privacy/anonymize"
	"privacy/internal/privacy/lock"
	"privacy/internal/privacy/metrics"
	"privacy/internal/privacy/models"
	id "privacy/pkg/domain"
	dErrors "privacy/pkg/domain-errors"
	audit "privacy/pkg/platform/audit"
	"privacy/pkg/platform/sentinel"
)

type SubjectStore interface {
	CreateSubject(ctx context.Context, subject *models.DataSubject) error
	FindSubject(ctx context.Context, subjectID id.SubjectID) (*models.DataSubject, error)
	UpdateSubject(ctx context.Context, subject *models.DataSubject) error
	DeleteSubject(ctx context.Context, subjectID id.SubjectID) error
	ListSubjects(ctx context.Context) ([]*models.DataSubject, error)
}

type ConsentStore interface {
	AppendConsent(ctx context.Context, consent *models.ConsentRecord) error
	FindConsent(ctx context.Context, consentID id.ConsentID) (*models.ConsentRecord, error)
	UpdateConsent(ctx context.Context, consent *models.ConsentRecord) error
	ListConsents(ctx context.Context, subjectID id.SubjectID) ([]*models.ConsentRecord, error)
	ListAllConsents(ctx context.Context) ([]*models.ConsentRecord, error)
}

type ProcessingStore interface {
	AppendProcessing(ctx context.Context, record *models.DataProcessingRecord) error
	ListProcessing(ctx context.Context, subjectID id.SubjectID) ([]*models.DataProcessingRecord, error)
	ListAllProcessing(ctx context.Context) ([]*models.DataProcessingRecord, error)
}

type RequestStore interface {
	SaveRequest(ctx context.Context, request *models.DataAccessRequest) error
	FindRequest(ctx context.Context, requestID id.AccessRequestID) (*models.DataAccessRequest, error)
	ListRequestsBySubject(ctx context.Context, subjectID id.SubjectID) ([]*models.DataAccessRequest, error)
	ListRequests(ctx context.Context) ([]*models.DataAccessRequest, error)
}

type BreachStore interface {
	SaveBreach(ctx context.Context, breach *models.DataBreach) error
	FindBreach(ctx context.Context, breachID id.BreachID) (*models.DataBreach, error)
	ListBreaches(ctx context.Context) ([]*models.DataBreach, error)
}

type PolicyStore interface {
	CreatePolicy(ctx context.Context, policy *models.RetentionPolicy) error
	UpdatePolicy(ctx context.Context, policy *models.RetentionPolicy) error
	FindPolicy(ctx context.Context, policyID id.PolicyID) (*models.RetentionPolicy, error)
	ListPolicies(ctx context.Context) ([]*models.RetentionPolicy, error)
}

type PIAStore interface {
	SavePIA(ctx context.Context, pia *models.PrivacyImpactAssessment) error
	FindPIA(ctx context.Context, piaID id.AssessmentID) (*models.PrivacyImpactAssessment, error)
	ListPIAs(ctx context.Context) ([]*models.PrivacyImpactAssessment, error)
}

// Store is the Entity Store. memory.Store and postgres.Store implement it.
type Store interface {
	SubjectStore
	ConsentStore
	ProcessingStore
	RequestStore
	BreachStore
	PolicyStore
	PIAStore
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// HealthThresholds decide when healthCheck reports unhealthy.
type HealthThresholds struct {
	MaxPendingRequests int
	MaxOverduePIAs     int
	PIAMaxDraftAge     time.Duration
	BreachWindow       time.Duration
}

// DefaultHealthThresholds: unhealthy at 10 pending requests or 5 drafts older
// than 30 days; breaches are counted over the last 30 days.
var DefaultHealthThresholds = HealthThresholds{
	MaxPendingRequests: 10,
	MaxOverduePIAs:     5,
	PIAMaxDraftAge:     30 * 24 * time.Hour,
	BreachWindow:       30 * 24 * time.Hour,
}

const defaultSweepWorkers = 4

// Service orchestrates the privacy engine.
type Service struct {
	store          Store
	locker         lock.Locker
	pipeline       *anonymize.Pipeline
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	thresholds     HealthThresholds
	sweepWorkers   int
	txRunner       TxRunner
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLocker replaces the in-process per-subject lock, e.g. with a
// lock.RedisLocker when several replicas share a store.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		s.locker = l
	}
}

func WithPipeline(p *anonymize.Pipeline) Option {
	return func(s *Service) {
		s.pipeline = p
	}
}

func WithHealthThresholds(t HealthThresholds) Option {
	return func(s *Service) {
		s.thresholds = t
	}
}

// WithSweepWorkers bounds how many subjects a retention pass enforces at once.
func WithSweepWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sweepWorkers = n
		}
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:        store,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		thresholds:   DefaultHealthThresholds,
		sweepWorkers: defaultSweepWorkers,
		tracer:       otel.Tracer("privacy/internal/privacy/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = lock.NewKeyedMutex()
	}
	if s.pipeline == nil {
		s.pipeline = anonymize.New()
	}
	return s
}

// emit hands the event to the publisher. Outside atomically a failing sink is
// logged and never surfaced; inside it the failure aborts the transaction.
// The mutation has already happened by the time emit runs, so caller
// cancellation must not suppress its event.
func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(context.WithoutCancel(ctx), event); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"action", event.Action,
			"entity_id", event.EntityID,
			"error", err,
		)
		if failed, ok := ctx.Value(emitFailureKey{}).(*error); ok && *failed == nil {
			*failed = dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
		}
	}
}

// lockSubject waits for the subject's lock.
func (s *Service) lockSubject(ctx context.Context, subjectID id.SubjectID) (lock.Unlock, error) {
	unlock, err := s.locker.Lock(ctx, subjectID.String())
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeTimeout) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock data subject")
	}
	return unlock, nil
}

// storeError translates store sentinels into coded errors naming what.
func storeError(err error, what string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, what+" not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, what+" already exists")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to access "+what)
	}
}

// asValidation converts model invariant violations into validation errors for
// callers; anything else passes through.
func asValidation(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeValidation, err.Error())
	}
	return err
}

func (s *Service) findSubject(ctx context.Context, subjectID id.SubjectID) (*models.DataSubject, error) {
	subject, err := s.store.FindSubject(ctx, subjectID)
	if err != nil {
		return nil, storeError(err, "data subject")
	}
	return subject, nil
}
