package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"privacy/internal/privacy/models"
	id "privacy/pkg/domain"
	dErrors "privacy/pkg/domain-errors"
	audit "privacy/pkg/platform/audit"
)

func (s *ServiceSuite) reportBreach(likelihood models.Likelihood, impact models.Impact, severity models.Severity) *models.DataBreach {
	b, err := s.service.ReportDataBreach(s.ctx, models.ReportBreachRequest{
		Description:      "customer table exported by a misconfigured job",
		Severity:         severity,
		AffectedSubjects: 1200,
		Likelihood:       likelihood,
		Impact:           impact,
	})
	s.Require().NoError(err)
	return b
}

// =============================================================================
// Breach risk engine
// =============================================================================

func (s *ServiceSuite) TestReportDataBreach() {
	s.Run("high risk notifies the supervisory authority only", func() {
		b := s.reportBreach(models.LikelihoodHigh, models.ImpactHigh, "")

		s.Equal(9, b.Risk.Score)
		s.Equal(models.RiskHigh, b.Risk.OverallRisk)
		s.Equal(models.SeverityHigh, b.Severity, "severity defaults to the assessed risk")
		s.Equal(s.now, b.ReportedAt)
		s.Equal(s.now, b.DetectedAt)
		s.False(b.SupervisoryAuthorityNotified)

		s.Len(s.eventsForEntity(audit.EventDataBreachReported, b.ID.String()), 1)
		required := s.eventsForEntity(audit.EventBreachNotificationRequired, b.ID.String())
		s.Require().Len(required, 1)
		s.Equal(string(models.NotifySupervisoryAuthority), required[0].Decision)
		s.Equal(audit.CategorySecurity, required[0].Category)
		s.Empty(s.eventsForEntity(audit.EventDataSubjectNotificationRequired, b.ID.String()))
	})

	s.Run("critical severity escalates high risk and notifies subjects", func() {
		b := s.reportBreach(models.LikelihoodHigh, models.ImpactHigh, models.SeverityCritical)

		s.Equal(models.RiskCritical, b.Risk.OverallRisk)
		s.Len(s.eventsForEntity(audit.EventBreachNotificationRequired, b.ID.String()), 1)
		s.Len(s.eventsForEntity(audit.EventDataSubjectNotificationRequired, b.ID.String()), 1)
	})

	s.Run("low risk needs no notification", func() {
		b := s.reportBreach(models.LikelihoodLow, models.ImpactLow, "")

		s.Equal(models.RiskLow, b.Risk.OverallRisk)
		s.Len(s.eventsForEntity(audit.EventDataBreachReported, b.ID.String()), 1)
		s.Empty(s.eventsForEntity(audit.EventBreachNotificationRequired, b.ID.String()))
		s.Empty(s.eventsForEntity(audit.EventDataSubjectNotificationRequired, b.ID.String()))
	})

	s.Run("likelihood and impact are required", func() {
		_, err := s.service.ReportDataBreach(s.ctx, models.ReportBreachRequest{Description: "lost laptop"})
		s.requireCode(err, dErrors.CodeValidation)
	})

	s.Equal(1.0, testutil.ToFloat64(s.metrics.BreachesReported.WithLabelValues("high")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.BreachesReported.WithLabelValues("critical")))
}

func (s *ServiceSuite) TestConfirmBreachNotification() {
	b := s.reportBreach(models.LikelihoodHigh, models.ImpactCritical, "")

	confirmed, err := s.service.ConfirmBreachNotification(s.at(s.now.Add(time.Hour)), b.ID, models.NotifySupervisoryAuthority)
	s.Require().NoError(err)
	s.True(confirmed.SupervisoryAuthorityNotified)
	s.Require().NotNil(confirmed.SupervisoryAuthorityNotifiedAt)
	s.Equal(s.now.Add(time.Hour), *confirmed.SupervisoryAuthorityNotifiedAt)
	s.False(confirmed.DataSubjectsNotified)

	s.Run("confirming twice is a no-op", func() {
		again, err := s.service.ConfirmBreachNotification(s.at(s.now.Add(2*time.Hour)), b.ID, models.NotifySupervisoryAuthority)
		s.Require().NoError(err)
		s.Equal(s.now.Add(time.Hour), *again.SupervisoryAuthorityNotifiedAt)
		s.Len(s.eventsForEntity(audit.EventBreachNotificationConfirmed, b.ID.String()), 1)
	})

	s.Run("unknown target is invalid", func() {
		_, err := s.service.ConfirmBreachNotification(s.ctx, b.ID, models.NotificationTarget("press"))
		s.requireCode(err, dErrors.CodeValidation)
	})

	s.Run("unknown breach is not found", func() {
		_, err := s.service.ConfirmBreachNotification(s.ctx, id.BreachID{8}, models.NotifyDataSubjects)
		s.requireCode(err, dErrors.CodeNotFound)
	})

	stored, err := s.service.GetDataBreach(s.ctx, b.ID)
	s.Require().NoError(err)
	s.True(stored.SupervisoryAuthorityNotified)
}

// =============================================================================
// Anonymization
// =============================================================================

func (s *ServiceSuite) TestAnonymizeData() {
	dob := time.Date(1987, time.June, 15, 0, 0, 0, 0, time.UTC)
	subject, err := s.service.CreateDataSubject(s.ctx, models.CreateSubjectRequest{
		Email:       "alice@example.com",
		Name:        "Alice",
		DateOfBirth: &dob,
	})
	s.Require().NoError(err)

	s.Run("masking keeps the first two characters", func() {
		anonymized, err := s.service.AnonymizeData(s.ctx, models.AnonymizeRequest{SubjectID: subject.ID, Technique: models.TechniqueMasking})
		s.Require().NoError(err)
		s.Equal("al***@example.com", anonymized.Email)
		s.Equal(models.SubjectStatusActive, anonymized.Status)

		stored, err := s.service.GetDataSubject(s.ctx, subject.ID)
		s.Require().NoError(err)
		s.Equal("al***@example.com", stored.Email)

		events := s.eventsForEntity(audit.EventDataAnonymized, subject.ID.String())
		s.Require().Len(events, 1)
		s.Equal("masking", events[0].Attributes["technique"])
	})

	s.Run("differential privacy shifts whole years", func() {
		anonymized, err := s.service.AnonymizeData(s.ctx, models.AnonymizeRequest{
			SubjectID:   subject.ID,
			Technique:   models.TechniqueDifferentialPrivacy,
			Epsilon:     1,
			Sensitivity: 1,
		})
		s.Require().NoError(err)
		s.Require().NotNil(anonymized.DateOfBirth)
		s.Equal(time.June, anonymized.DateOfBirth.Month())
		s.Equal(15, anonymized.DateOfBirth.Day())
	})

	s.Run("generalization truncates to the decade", func() {
		anonymized, err := s.service.AnonymizeData(s.ctx, models.AnonymizeRequest{SubjectID: subject.ID, Technique: models.TechniqueGeneralization})
		s.Require().NoError(err)
		s.Require().NotNil(anonymized.DateOfBirth)
		s.Equal(time.January, anonymized.DateOfBirth.Month())
		s.Equal(1, anonymized.DateOfBirth.Day())
		s.Zero(anonymized.DateOfBirth.Year() % 10)
	})

	s.Run("suppression clears name and phone", func() {
		anonymized, err := s.service.AnonymizeData(s.ctx, models.AnonymizeRequest{SubjectID: subject.ID, Technique: models.TechniqueSuppression})
		s.Require().NoError(err)
		s.Empty(anonymized.Name)
		s.Empty(anonymized.Phone)
	})

	s.Run("negative epsilon is invalid", func() {
		_, err := s.service.AnonymizeData(s.ctx, models.AnonymizeRequest{
			SubjectID: subject.ID,
			Technique: models.TechniqueDifferentialPrivacy,
			Epsilon:   -1,
		})
		s.requireCode(err, dErrors.CodeValidation)
	})

	s.Run("unknown technique is invalid", func() {
		_, err := s.service.AnonymizeData(s.ctx, models.AnonymizeRequest{SubjectID: subject.ID, Technique: "hashing"})
		s.requireCode(err, dErrors.CodeValidation)
	})

	s.Run("unknown subject is not found", func() {
		_, err := s.service.AnonymizeData(s.ctx, models.AnonymizeRequest{SubjectID: id.SubjectID{2}, Technique: models.TechniqueMasking})
		s.requireCode(err, dErrors.CodeNotFound)
	})
}

// =============================================================================
// Privacy impact assessments
// =============================================================================

func (s *ServiceSuite) TestPrivacyImpactAssessments() {
	pia, err := s.service.CreatePrivacyImpactAssessment(s.ctx, models.CreatePIARequest{
		Title:              "Recommendation engine",
		ProcessingPurposes: []string{"profiling"},
		Assessor:           "dpo",
	})
	s.Require().NoError(err)
	s.Equal(models.PIAStatusDraft, pia.Status)
	s.Len(s.eventsForEntity(audit.EventPIACreated, pia.ID.String()), 1)

	ptr := func(st models.PIAStatus) *models.PIAStatus { return &st }

	s.Run("draft cannot be approved directly", func() {
		_, err := s.service.UpdatePrivacyImpactAssessment(s.ctx, pia.ID, models.UpdatePIARequest{Status: ptr(models.PIAStatusApproved)})
		s.requireCode(err, dErrors.CodeConflict)
	})

	s.Run("draft moves to review and review to approved", func() {
		risks := []string{"re-identification"}
		reviewed, err := s.service.UpdatePrivacyImpactAssessment(s.ctx, pia.ID, models.UpdatePIARequest{
			Risks:  risks,
			Status: ptr(models.PIAStatusReview),
		})
		s.Require().NoError(err)
		s.Equal(models.PIAStatusReview, reviewed.Status)
		s.Equal(risks, reviewed.Risks)
		s.Nil(reviewed.DecidedAt)

		approved, err := s.service.UpdatePrivacyImpactAssessment(s.at(s.now.Add(time.Hour)), pia.ID, models.UpdatePIARequest{Status: ptr(models.PIAStatusApproved)})
		s.Require().NoError(err)
		s.Equal(models.PIAStatusApproved, approved.Status)
		s.Require().NotNil(approved.DecidedAt)
		s.Equal(s.now.Add(time.Hour), *approved.DecidedAt)
	})

	s.Run("approved assessments are frozen", func() {
		title := "Changed"
		_, err := s.service.UpdatePrivacyImpactAssessment(s.ctx, pia.ID, models.UpdatePIARequest{Title: &title})
		s.requireCode(err, dErrors.CodeConflict)
	})

	s.Run("empty title is invalid", func() {
		other, err := s.service.CreatePrivacyImpactAssessment(s.ctx, models.CreatePIARequest{Title: "Chat logs"})
		s.Require().NoError(err)
		empty := ""
		_, err = s.service.UpdatePrivacyImpactAssessment(s.ctx, other.ID, models.UpdatePIARequest{Title: &empty})
		s.requireCode(err, dErrors.CodeValidation)
	})

	s.Run("unknown assessment is not found", func() {
		_, err := s.service.GetPrivacyImpactAssessment(s.ctx, id.AssessmentID{6})
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Len(s.eventsForEntity(audit.EventPIAUpdated, pia.ID.String()), 2)
}

// =============================================================================
// Compliance reporting
// =============================================================================

func (s *ServiceSuite) TestGeneratePrivacyReport() {
	past := s.at(s.daysAgo(10))

	old, err := s.service.CreateDataSubject(past, models.CreateSubjectRequest{Email: "old@b.com"})
	s.Require().NoError(err)
	_, err = s.service.RecordConsent(past, models.RecordConsentRequest{SubjectID: old.ID, Purpose: "marketing", ConsentGiven: true})
	s.Require().NoError(err)
	_, err = s.service.RecordDataProcessing(past, models.RecordProcessingRequest{
		SubjectID: old.ID, DataCategory: "contact_information", Purpose: "marketing",
		LegalBasis: string(id.LegalBasisConsent), ProcessingType: "storage",
	})
	s.Require().NoError(err)
	_, err = s.service.SubmitDataAccessRequest(past, models.SubmitAccessRequest{SubjectID: old.ID, Type: models.RequestTypeAccess})
	s.Require().NoError(err)
	_, err = s.service.ReportDataBreach(past, models.ReportBreachRequest{
		Description: "old incident", Likelihood: models.LikelihoodLow, Impact: models.ImpactLow,
	})
	s.Require().NoError(err)

	subject := s.createSubject("current@b.com")
	given, err := s.service.RecordConsent(s.ctx, models.RecordConsentRequest{SubjectID: subject.ID, Purpose: "marketing", ConsentGiven: true})
	s.Require().NoError(err)
	_, err = s.service.WithdrawConsent(s.at(s.now.Add(time.Hour)), given.ID)
	s.Require().NoError(err)
	_, err = s.service.RecordConsent(s.ctx, models.RecordConsentRequest{SubjectID: subject.ID, Purpose: "profiling", ConsentGiven: false})
	s.Require().NoError(err)
	s.recordProcessing(subject.ID, "contact_information", "support", id.LegalBasisContract, time.Time{})
	s.submit(subject.ID, models.RequestTypeAccess)
	deferred, err := s.service.SubmitDataAccessRequest(s.ctx, models.SubmitAccessRequest{
		SubjectID: subject.ID, Type: models.RequestTypePortability, Defer: true,
	})
	s.Require().NoError(err)
	_, err = s.service.ProcessDataAccessRequest(s.at(s.now.Add(48*time.Hour)), deferred.ID)
	s.Require().NoError(err)
	b := s.reportBreach(models.LikelihoodHigh, models.ImpactHigh, "")
	_, err = s.service.ConfirmBreachNotification(s.ctx, b.ID, models.NotifySupervisoryAuthority)
	s.Require().NoError(err)

	report, err := s.service.GeneratePrivacyReport(s.ctx, s.daysAgo(1), s.now.AddDate(0, 0, 3))
	s.Require().NoError(err)

	s.Equal(1, report.SubjectsCreated)
	s.Equal(1, report.ConsentsGiven, "a withdrawn consent was still given; a refusal was not")
	s.Equal(1, report.ConsentsWithdrawn)
	s.Equal(1, report.ProcessingRecords)
	s.Len(report.RequestsByType, len(models.RequestTypes))
	s.Equal(1, report.RequestsByType[models.RequestTypeAccess])
	s.Equal(1, report.RequestsByType[models.RequestTypePortability])
	s.Equal(0, report.RequestsByType[models.RequestTypeErasure])
	s.Equal(2, report.RequestsByStatus[models.RequestStatusCompleted])
	s.InDelta(1.0, report.AverageCompletionDays, 1e-9)
	s.Equal(1, report.Breaches.Total)
	s.Equal(1, report.Breaches.ByRisk[models.RiskHigh])
	s.Equal(1, report.Breaches.BySeverity[models.SeverityHigh])
	s.Equal(1, report.Breaches.NotificationRequired)
	s.Equal(1, report.Breaches.SupervisoryAuthorityNotified)
	s.Equal(0, report.Breaches.DataSubjectsNotified)

	s.Run("window bounds are inclusive", func() {
		report, err := s.service.GeneratePrivacyReport(s.ctx, s.now, s.now)
		s.Require().NoError(err)
		s.Equal(1, report.SubjectsCreated)
	})

	s.Run("end before start is invalid", func() {
		_, err := s.service.GeneratePrivacyReport(s.ctx, s.now, s.daysAgo(1))
		s.requireCode(err, dErrors.CodeValidation)
	})
}

// =============================================================================
// Health
// =============================================================================

func (s *ServiceSuite) TestHealthCheck() {
	s.Run("empty engine is healthy", func() {
		health, err := s.service.HealthCheck(s.ctx)
		s.Require().NoError(err)
		s.Equal(models.HealthStatusHealthy, health.Status)
		s.Empty(health.Reasons)
		s.Equal(s.now, health.CheckedAt)
	})

	s.Run("recent breaches only count inside the window", func() {
		_, err := s.service.ReportDataBreach(s.at(s.daysAgo(40)), models.ReportBreachRequest{
			Description: "old", Likelihood: models.LikelihoodLow, Impact: models.ImpactLow,
		})
		s.Require().NoError(err)
		_, err = s.service.ReportDataBreach(s.at(s.daysAgo(1)), models.ReportBreachRequest{
			Description: "new", Likelihood: models.LikelihoodLow, Impact: models.ImpactLow,
		})
		s.Require().NoError(err)

		health, err := s.service.HealthCheck(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, health.Metrics.RecentBreaches)
		s.Equal(models.HealthStatusHealthy, health.Status)
	})

	s.Run("overdue drafts make it unhealthy", func() {
		for range DefaultHealthThresholds.MaxOverduePIAs {
			_, err := s.service.CreatePrivacyImpactAssessment(s.at(s.daysAgo(31)), models.CreatePIARequest{Title: "stale"})
			s.Require().NoError(err)
		}
		_, err := s.service.CreatePrivacyImpactAssessment(s.at(s.daysAgo(29)), models.CreatePIARequest{Title: "recent"})
		s.Require().NoError(err)

		health, err := s.service.HealthCheck(s.ctx)
		s.Require().NoError(err)
		s.Equal(DefaultHealthThresholds.MaxOverduePIAs, health.Metrics.OverduePIAs)
		s.Equal(models.HealthStatusUnhealthy, health.Status)
		s.Require().Len(health.Reasons, 1)
		s.Contains(health.Reasons[0], "overdue")
	})

	s.Run("pending backlog makes it unhealthy", func() {
		subject := s.createSubject("backlog@b.com")
		for range DefaultHealthThresholds.MaxPendingRequests {
			_, err := s.service.SubmitDataAccessRequest(s.ctx, models.SubmitAccessRequest{
				SubjectID: subject.ID, Type: models.RequestTypeErasure, Defer: true,
			})
			s.Require().NoError(err)
		}
		s.createPolicy("contact_information", "marketing", 30, models.DeletionHardDelete)

		health, err := s.service.HealthCheck(s.ctx)
		s.Require().NoError(err)
		s.Equal(DefaultHealthThresholds.MaxPendingRequests, health.Metrics.PendingRequests)
		s.Equal(1, health.Metrics.Subjects)
		s.Equal(1, health.Metrics.Policies)
		s.Len(health.Reasons, 2)
	})

	s.Run("custom thresholds", func() {
		svc := New(s.store, WithHealthThresholds(HealthThresholds{
			MaxPendingRequests: 100,
			MaxOverduePIAs:     100,
			PIAMaxDraftAge:     30 * 24 * time.Hour,
			BreachWindow:       7 * 24 * time.Hour,
		}))
		health, err := svc.HealthCheck(s.ctx)
		s.Require().NoError(err)
		s.Equal(models.HealthStatusHealthy, health.Status)
	})
}
