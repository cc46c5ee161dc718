package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"privacy/internal/privacy/anonymize"
	"privacy/internal/privacy/models"
	id "privacy/pkg/domain"
	dErrors "privacy/pkg/domain-errors"
	audit "privacy/pkg/platform/audit"
	"privacy/pkg/platform/sentinel"
	"privacy/pkg/requestcontext"
	"privacy/pkg/validation"
)

// RetentionActor is the actor id stamped on events emitted by a sweep.
const RetentionActor = "retention-enforcer"

// CreateRetentionPolicy registers a policy. A second policy for the same
// (category, purpose) is a configuration error and fails with CodeConflict.
func (s *Service) CreateRetentionPolicy(ctx context.Context, req models.RetentionPolicyRequest) (*models.RetentionPolicy, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	policy := &models.RetentionPolicy{
		ID:        id.PolicyID(uuid.New()),
		CreatedAt: now,
	}
	applyPolicyRequest(policy, req, now)

	err := s.atomically(ctx, func(ctx context.Context) error {
		if err := s.store.CreatePolicy(ctx, policy); err != nil {
			return policyError(err, policy)
		}
		s.emit(ctx, audit.Event{
			EntityID:   policy.ID.String(),
			Action:     string(audit.EventRetentionPolicyCreated),
			Purpose:    policy.Purpose,
			Attributes: policyAttributes(policy),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return policy, nil
}

func (s *Service) UpdateRetentionPolicy(ctx context.Context, policyID id.PolicyID, req models.RetentionPolicyRequest) (*models.RetentionPolicy, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	policy, err := s.store.FindPolicy(ctx, policyID)
	if err != nil {
		return nil, storeError(err, "retention policy")
	}
	applyPolicyRequest(policy, req, requestcontext.Now(ctx))

	err = s.atomically(ctx, func(ctx context.Context) error {
		if err := s.store.UpdatePolicy(ctx, policy); err != nil {
			return policyError(err, policy)
		}
		s.emit(ctx, audit.Event{
			EntityID:   policy.ID.String(),
			Action:     string(audit.EventRetentionPolicyUpdated),
			Purpose:    policy.Purpose,
			Attributes: policyAttributes(policy),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return policy, nil
}

func (s *Service) GetRetentionPolicy(ctx context.Context, policyID id.PolicyID) (*models.RetentionPolicy, error) {
	policy, err := s.store.FindPolicy(ctx, policyID)
	if err != nil {
		return nil, storeError(err, "retention policy")
	}
	return policy, nil
}

func (s *Service) ListRetentionPolicies(ctx context.Context) ([]*models.RetentionPolicy, error) {
	policies, err := s.store.ListPolicies(ctx)
	if err != nil {
		return nil, storeError(err, "retention policies")
	}
	return policies, nil
}

func applyPolicyRequest(p *models.RetentionPolicy, req models.RetentionPolicyRequest, now time.Time) {
	p.DataCategory = req.DataCategory
	p.Purpose = req.Purpose
	p.RetentionPeriodDays = req.RetentionPeriodDays
	p.DeletionMethod = req.DeletionMethod
	p.Exceptions = req.Exceptions
	p.LegalRequirements = req.LegalRequirements
	p.ReviewFrequencyDays = req.ReviewFrequencyDays
	p.UpdatedAt = now
}

func policyError(err error, p *models.RetentionPolicy) error {
	if dErr := storeError(err, "retention policy"); !dErrors.HasCode(dErr, dErrors.CodeConflict) {
		return dErr
	}
	return dErrors.New(dErrors.CodeConflict,
		"a retention policy for category "+p.DataCategory+" and purpose "+p.Purpose+" already exists")
}

func policyAttributes(p *models.RetentionPolicy) map[string]string {
	return map[string]string{
		"data_category":   p.DataCategory,
		"deletion_method": string(p.DeletionMethod),
	}
}

type subjectOutcome int

const (
	outcomeScanned subjectOutcome = iota
	outcomeSkipped
	outcomeFailed
)

// EnforceRetention runs one retention pass over every subject. Each subject
// is evaluated against the policy snapshot taken at the start of the pass and
// a single "now". A failure on one subject is logged and the pass continues;
// a locked subject is skipped and picked up by the next pass.
func (s *Service) EnforceRetention(ctx context.Context) (models.SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "privacy.enforce_retention")
	defer span.End()
	start := time.Now()

	now := requestcontext.Now(ctx)
	ctx = requestcontext.WithTime(ctx, now)
	if requestcontext.ActorID(ctx) == "" {
		ctx = requestcontext.WithActorID(ctx, RetentionActor)
	}

	var result models.SweepResult
	policies, err := s.store.ListPolicies(ctx)
	if err != nil {
		return result, storeError(err, "retention policies")
	}
	byKey := make(map[models.PolicyKey]*models.RetentionPolicy, len(policies))
	for _, p := range policies {
		byKey[p.Key()] = p
	}
	subjects, err := s.store.ListSubjects(ctx)
	if err != nil {
		return result, storeError(err, "data subjects")
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.sweepWorkers)
	for _, subject := range subjects {
		if ctx.Err() != nil {
			break
		}
		subjectID := subject.ID
		g.Go(func() error {
			enforced, outcome := s.enforceSubject(ctx, subjectID, byKey, now)
			mu.Lock()
			defer mu.Unlock()
			result.Scanned++
			result.Enforced += enforced
			switch outcome {
			case outcomeSkipped:
				result.Skipped++
			case outcomeFailed:
				result.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	if s.metrics != nil {
		s.metrics.ObserveSweep(start)
	}
	span.SetAttributes(
		attribute.Int("retention.scanned", result.Scanned),
		attribute.Int("retention.enforced", result.Enforced),
		attribute.Int("retention.skipped", result.Skipped),
		attribute.Int("retention.failed", result.Failed),
	)
	s.logger.InfoContext(ctx, "retention pass finished",
		"scanned", result.Scanned,
		"enforced", result.Enforced,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"duration", time.Since(start),
	)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// enforceSubject applies every expired policy to one subject. A hard delete
// ends evaluation; weaker methods only move the subject forward, so a second
// pass finds nothing to do.
func (s *Service) enforceSubject(ctx context.Context, subjectID id.SubjectID, policies map[models.PolicyKey]*models.RetentionPolicy, now time.Time) (int, subjectOutcome) {
	unlock, ok, err := s.locker.TryLock(ctx, subjectID.String())
	if err != nil {
		s.logger.WarnContext(ctx, "retention lock failed", "subject_id", subjectID, "error", err)
		if s.metrics != nil {
			s.metrics.IncRetentionFailed()
		}
		return 0, outcomeFailed
	}
	if !ok {
		s.logger.WarnContext(ctx, "retention skipped locked subject", "subject_id", subjectID)
		if s.metrics != nil {
			s.metrics.IncRetentionSkipped()
		}
		return 0, outcomeSkipped
	}
	defer unlock()

	var enforced int
	err = s.atomically(ctx, func(ctx context.Context) error {
		var err error
		enforced, err = s.applyRetention(ctx, subjectID, policies, now)
		return err
	})
	if err != nil {
		if s.txRunner != nil {
			// rolled back
			enforced = 0
		}
		s.logger.WarnContext(ctx, "retention enforcement failed", "subject_id", subjectID, "error", err)
		if s.metrics != nil {
			s.metrics.IncRetentionFailed()
		}
		return enforced, outcomeFailed
	}
	return enforced, outcomeScanned
}

func (s *Service) applyRetention(ctx context.Context, subjectID id.SubjectID, policies map[models.PolicyKey]*models.RetentionPolicy, now time.Time) (int, error) {
	subject, err := s.store.FindSubject(ctx, subjectID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// erased since the pass listed it
			return 0, nil
		}
		return 0, storeError(err, "data subject")
	}
	records, err := s.store.ListProcessing(ctx, subjectID)
	if err != nil {
		return 0, storeError(err, "processing records")
	}

	enforced := 0
	for _, record := range records {
		policy, ok := policies[models.PolicyKey{DataCategory: record.DataCategory, Purpose: record.Purpose}]
		if !ok || !policy.IsExpired(record.Timestamp, now) {
			continue
		}
		if policy.DeletionMethod.AlreadyEnforced(subject.Status) {
			continue
		}

		if policy.DeletionMethod == models.DeletionHardDelete {
			if err := s.deleteSubject(ctx, subjectID, reasonRetention); err != nil {
				return enforced, err
			}
			s.recordEnforcement(ctx, subjectID, policy)
			return enforced + 1, nil
		}

		if err := s.transform(subject, policy.DeletionMethod, now); err != nil {
			return enforced, err
		}
		if err := s.store.UpdateSubject(ctx, subject); err != nil {
			return enforced, storeError(err, "data subject")
		}
		s.recordEnforcement(ctx, subjectID, policy)
		enforced++
	}
	return enforced, nil
}

// transform applies a non-destructive deletion method in place.
func (s *Service) transform(subject *models.DataSubject, method models.DeletionMethod, now time.Time) error {
	switch method {
	case models.DeletionSoftDelete:
	case models.DeletionAnonymization:
		if err := s.pipeline.Apply(subject, models.TechniqueSuppression, anonymize.Params{}); err != nil {
			return err
		}
	case models.DeletionPseudonymization:
		s.pipeline.Pseudonymize(subject)
	default:
		return dErrors.New(dErrors.CodeValidation, "unsupported deletion method "+string(method))
	}
	status, _ := method.ResultingStatus()
	subject.ApplyStatus(status, now)
	return nil
}

func (s *Service) recordEnforcement(ctx context.Context, subjectID id.SubjectID, policy *models.RetentionPolicy) {
	if s.metrics != nil {
		s.metrics.IncRetentionEnforced(string(policy.DeletionMethod))
	}
	s.emit(ctx, audit.Event{
		SubjectID: subjectID,
		EntityID:  subjectID.String(),
		Action:    string(audit.EventRetentionEnforced),
		Purpose:   policy.Purpose,
		Attributes: map[string]string{
			"policy_id":     policy.ID.String(),
			"method":        string(policy.DeletionMethod),
			"data_category": policy.DataCategory,
		},
	})
}
