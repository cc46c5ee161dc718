package service

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"privacy/internal/privacy/anonymize"
	"privacy/internal/privacy/models"
	"privacy/internal/privacy/store/memory"
	id "privacy/pkg/domain"
	dErrors "privacy/pkg/domain-errors"
	audit "privacy/pkg/platform/audit"
)

// brokenUpdateStore fails subject updates for one email address.
type brokenUpdateStore struct {
	*memory.Store
	email string
}

func (b brokenUpdateStore) UpdateSubject(ctx context.Context, subject *models.DataSubject) error {
	if subject.Email == b.email {
		return errors.New("disk full")
	}
	return b.Store.UpdateSubject(ctx, subject)
}

func (s *ServiceSuite) createPolicy(category, purpose string, days int, method models.DeletionMethod) *models.RetentionPolicy {
	policy, err := s.service.CreateRetentionPolicy(s.ctx, models.RetentionPolicyRequest{
		DataCategory:        category,
		Purpose:             purpose,
		RetentionPeriodDays: days,
		DeletionMethod:      method,
	})
	s.Require().NoError(err)
	return policy
}

func (s *ServiceSuite) daysAgo(n int) time.Time {
	return s.now.AddDate(0, 0, -n)
}

func (s *ServiceSuite) enforce() models.SweepResult {
	result, err := s.service.EnforceRetention(s.ctx)
	s.Require().NoError(err)
	return result
}

// =============================================================================
// Retention policies
// =============================================================================

func (s *ServiceSuite) TestRetentionPolicies() {
	policy := s.createPolicy("contact_information", "marketing", 30, models.DeletionHardDelete)

	s.Run("one policy per category and purpose", func() {
		_, err := s.service.CreateRetentionPolicy(s.ctx, models.RetentionPolicyRequest{
			DataCategory:        "contact_information",
			Purpose:             "marketing",
			RetentionPeriodDays: 90,
			DeletionMethod:      models.DeletionAnonymization,
		})
		s.requireCode(err, dErrors.CodeConflict)
		s.Contains(err.Error(), "contact_information")
	})

	s.Run("update cannot take another policy's key", func() {
		other := s.createPolicy("usage_data", "analytics", 30, models.DeletionSoftDelete)
		_, err := s.service.UpdateRetentionPolicy(s.ctx, other.ID, models.RetentionPolicyRequest{
			DataCategory:        "contact_information",
			Purpose:             "marketing",
			RetentionPeriodDays: 30,
			DeletionMethod:      models.DeletionSoftDelete,
		})
		s.requireCode(err, dErrors.CodeConflict)
	})

	s.Run("update changes period and method", func() {
		updated, err := s.service.UpdateRetentionPolicy(s.at(s.now.Add(time.Hour)), policy.ID, models.RetentionPolicyRequest{
			DataCategory:        "contact_information",
			Purpose:             "marketing",
			RetentionPeriodDays: 60,
			DeletionMethod:      models.DeletionPseudonymization,
		})
		s.Require().NoError(err)
		s.Equal(60, updated.RetentionPeriodDays)
		s.Equal(policy.CreatedAt, updated.CreatedAt)
		s.Equal(s.now.Add(time.Hour), updated.UpdatedAt)

		events := s.eventsForEntity(audit.EventRetentionPolicyUpdated, policy.ID.String())
		s.Require().Len(events, 1)
		s.Equal("pseudonymization", events[0].Attributes["deletion_method"])
	})

	s.Run("retention period must be positive", func() {
		_, err := s.service.CreateRetentionPolicy(s.ctx, models.RetentionPolicyRequest{
			DataCategory:   "logs",
			Purpose:        "debugging",
			DeletionMethod: models.DeletionHardDelete,
		})
		s.requireCode(err, dErrors.CodeValidation)
	})

	s.Run("unknown policy is not found", func() {
		_, err := s.service.GetRetentionPolicy(s.ctx, id.PolicyID{4})
		s.requireCode(err, dErrors.CodeNotFound)
	})

	policies, err := s.service.ListRetentionPolicies(s.ctx)
	s.Require().NoError(err)
	s.Len(policies, 2)
}

// =============================================================================
// Retention enforcement
// =============================================================================

func (s *ServiceSuite) TestEnforceRetention_HardDelete() {
	policy := s.createPolicy("contact_information", "marketing", 30, models.DeletionHardDelete)
	expired := s.createSubject("expired@b.com")
	s.recordProcessing(expired.ID, "contact_information", "marketing", id.LegalBasisConsent, s.daysAgo(31))
	fresh := s.createSubject("fresh@b.com")
	s.recordProcessing(fresh.ID, "contact_information", "marketing", id.LegalBasisConsent, s.daysAgo(29))

	result := s.enforce()

	s.Equal(models.SweepResult{Scanned: 2, Enforced: 1}, result)
	_, err := s.service.GetDataSubject(s.ctx, expired.ID)
	s.requireCode(err, dErrors.CodeNotFound)
	_, err = s.service.GetDataSubject(s.ctx, fresh.ID)
	s.Require().NoError(err)

	enforced := s.eventsForEntity(audit.EventRetentionEnforced, expired.ID.String())
	s.Require().Len(enforced, 1)
	s.Equal(policy.ID.String(), enforced[0].Attributes["policy_id"])
	s.Equal("hard_delete", enforced[0].Attributes["method"])
	s.Equal(RetentionActor, enforced[0].ActorID)

	deleted := s.eventsForEntity(audit.EventDataSubjectDeleted, expired.ID.String())
	s.Require().Len(deleted, 1)
	s.Equal(reasonRetention, deleted[0].Reason)

	s.Run("a second pass is a no-op", func() {
		result := s.enforce()
		s.Equal(models.SweepResult{Scanned: 1}, result)
		s.Len(s.eventsFor(audit.EventRetentionEnforced), 1)
	})

	s.Equal(1.0, testutil.ToFloat64(s.metrics.RetentionEnforced.WithLabelValues("hard_delete")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.SubjectsDeleted.WithLabelValues("retention")))
}

func (s *ServiceSuite) TestEnforceRetention_ExpiryBoundary() {
	s.createPolicy("contact_information", "marketing", 30, models.DeletionHardDelete)
	subject := s.createSubject("boundary@b.com")
	s.recordProcessing(subject.ID, "contact_information", "marketing", id.LegalBasisConsent, s.daysAgo(30))

	result := s.enforce()

	s.Zero(result.Enforced, "data is kept up to and including the end of the period")
	_, err := s.service.GetDataSubject(s.ctx, subject.ID)
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestEnforceRetention_NoMatchingPolicy() {
	s.createPolicy("contact_information", "marketing", 30, models.DeletionHardDelete)
	subject := s.createSubject("other@b.com")
	s.recordProcessing(subject.ID, "contact_information", "support", id.LegalBasisConsent, s.daysAgo(365))

	result := s.enforce()

	s.Zero(result.Enforced)
	s.Empty(s.eventsFor(audit.EventRetentionEnforced))
}

func (s *ServiceSuite) TestEnforceRetention_Anonymization() {
	s.createPolicy("contact_information", "marketing", 30, models.DeletionAnonymization)
	subject := s.createSubject("anon@b.com")
	s.recordProcessing(subject.ID, "contact_information", "marketing", id.LegalBasisConsent, s.daysAgo(45))

	s.Equal(1, s.enforce().Enforced)

	stored, err := s.service.GetDataSubject(s.ctx, subject.ID)
	s.Require().NoError(err)
	s.Equal(models.SubjectStatusAnonymized, stored.Status)
	s.Empty(stored.Name)
	s.Empty(stored.Phone)
	s.Equal("anon@b.com", stored.Email)

	s.Equal(0, s.enforce().Enforced)
	s.Len(s.eventsForEntity(audit.EventRetentionEnforced, subject.ID.String()), 1)
}

func (s *ServiceSuite) TestEnforceRetention_ReappliesAfterReidentifyingUpdate() {
	s.createPolicy("contact_information", "marketing", 30, models.DeletionAnonymization)
	subject := s.createSubject("restored@b.com")
	s.recordProcessing(subject.ID, "contact_information", "marketing", id.LegalBasisConsent, s.daysAgo(31))

	s.Equal(1, s.enforce().Enforced)

	name := "Ada Lovelace"
	updated, err := s.service.UpdateDataSubject(s.ctx, subject.ID, models.UpdateSubjectRequest{Name: &name})
	s.Require().NoError(err)
	s.Equal(models.SubjectStatusActive, updated.Status)

	s.Equal(1, s.enforce().Enforced)

	stored, err := s.service.GetDataSubject(s.ctx, subject.ID)
	s.Require().NoError(err)
	s.Empty(stored.Name)
	s.Equal(models.SubjectStatusAnonymized, stored.Status)
	s.Len(s.eventsForEntity(audit.EventRetentionEnforced, subject.ID.String()), 2)
}

func (s *ServiceSuite) TestEnforceRetention_Pseudonymization() {
	s.createPolicy("contact_information", "marketing", 30, models.DeletionPseudonymization)
	subject := s.createSubject("pseudo@b.com")
	s.recordProcessing(subject.ID, "contact_information", "marketing", id.LegalBasisConsent, s.daysAgo(45))

	s.Equal(1, s.enforce().Enforced)

	stored, err := s.service.GetDataSubject(s.ctx, subject.ID)
	s.Require().NoError(err)
	s.Equal(models.SubjectStatusPseudonymized, stored.Status)
	s.True(anonymize.IsPseudonym(stored.Email))
	s.True(anonymize.IsPseudonym(stored.Name))
	s.True(anonymize.IsPseudonym(stored.Phone))

	s.Equal(0, s.enforce().Enforced)
	again, err := s.service.GetDataSubject(s.ctx, subject.ID)
	s.Require().NoError(err)
	s.Equal(stored.Email, again.Email, "pseudonyms are not re-keyed on later passes")
}

func (s *ServiceSuite) TestEnforceRetention_OverlappingPoliciesOnlyMoveForward() {
	s.createPolicy("contact_information", "marketing", 30, models.DeletionSoftDelete)
	s.createPolicy("usage_data", "analytics", 30, models.DeletionAnonymization)
	s.createPolicy("location", "ads", 30, models.DeletionPseudonymization)
	subject := s.createSubject("overlap@b.com")
	s.recordProcessing(subject.ID, "contact_information", "marketing", id.LegalBasisConsent, s.daysAgo(40))
	s.recordProcessing(subject.ID, "usage_data", "analytics", id.LegalBasisConsent, s.daysAgo(40))
	s.recordProcessing(subject.ID, "location", "ads", id.LegalBasisConsent, s.daysAgo(40))

	result := s.enforce()

	s.Equal(2, result.Enforced, "pseudonymization is weaker than the anonymization already applied")
	stored, err := s.service.GetDataSubject(s.ctx, subject.ID)
	s.Require().NoError(err)
	s.Equal(models.SubjectStatusAnonymized, stored.Status)

	s.Equal(0, s.enforce().Enforced)
	s.Len(s.eventsForEntity(audit.EventRetentionEnforced, subject.ID.String()), 2)
}

func (s *ServiceSuite) TestEnforceRetention_HardDeleteEndsEvaluation() {
	s.createPolicy("contact_information", "marketing", 30, models.DeletionHardDelete)
	s.createPolicy("usage_data", "analytics", 30, models.DeletionAnonymization)
	subject := s.createSubject("both@b.com")
	s.recordProcessing(subject.ID, "contact_information", "marketing", id.LegalBasisConsent, s.daysAgo(40))
	s.recordProcessing(subject.ID, "usage_data", "analytics", id.LegalBasisConsent, s.daysAgo(40))

	s.Equal(1, s.enforce().Enforced)

	events := s.eventsForEntity(audit.EventRetentionEnforced, subject.ID.String())
	s.Require().Len(events, 1)
	s.Equal("hard_delete", events[0].Attributes["method"])
}

func (s *ServiceSuite) TestEnforceRetention_SkipsLockedSubject() {
	s.createPolicy("contact_information", "marketing", 30, models.DeletionHardDelete)
	subject := s.createSubject("busy@b.com")
	s.recordProcessing(subject.ID, "contact_information", "marketing", id.LegalBasisConsent, s.daysAgo(40))

	unlock, err := s.locker.Lock(s.ctx, subject.ID.String())
	s.Require().NoError(err)
	result := s.enforce()
	unlock()

	s.Equal(models.SweepResult{Scanned: 1, Skipped: 1}, result)
	_, err = s.service.GetDataSubject(s.ctx, subject.ID)
	s.Require().NoError(err)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.RetentionSkipped))

	s.Equal(1, s.enforce().Enforced, "the next pass picks it up")
}

func (s *ServiceSuite) TestEnforceRetention_FailureDoesNotAbortPass() {
	svc := s.newService(brokenUpdateStore{Store: s.store, email: "broken@b.com"})
	s.createPolicy("contact_information", "marketing", 30, models.DeletionSoftDelete)
	broken := s.createSubject("broken@b.com")
	healthy := s.createSubject("healthy@b.com")
	s.recordProcessing(broken.ID, "contact_information", "marketing", id.LegalBasisConsent, s.daysAgo(40))
	s.recordProcessing(healthy.ID, "contact_information", "marketing", id.LegalBasisConsent, s.daysAgo(40))

	result, err := svc.EnforceRetention(s.ctx)

	s.Require().NoError(err)
	s.Equal(models.SweepResult{Scanned: 2, Enforced: 1, Failed: 1}, result)
	stored, err := s.service.GetDataSubject(s.ctx, healthy.ID)
	s.Require().NoError(err)
	s.Equal(models.SubjectStatusSoftDeleted, stored.Status)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.RetentionFailed))
}

func (s *ServiceSuite) TestEnforceRetention_CancelledContext() {
	s.createSubject("cancel@b.com")
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := s.service.EnforceRetention(ctx)

	s.ErrorIs(err, context.Canceled)
}
