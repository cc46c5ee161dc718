package service

import (
	"context"
	"strconv"
	"time"

	"privacy/internal/privacy/models"
	dErrors "privacy/pkg/domain-errors"
	"privacy/pkg/requestcontext"
)

func within(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

// GeneratePrivacyReport aggregates activity in [start, end]. It is read-only.
func (s *Service) GeneratePrivacyReport(ctx context.Context, start, end time.Time) (*models.PrivacyReport, error) {
	if end.Before(start) {
		return nil, dErrors.New(dErrors.CodeValidation, "report end must not be before start")
	}

	report := &models.PrivacyReport{
		PeriodStart:      start,
		PeriodEnd:        end,
		GeneratedAt:      requestcontext.Now(ctx),
		RequestsByType:   make(map[models.RequestType]int, len(models.RequestTypes)),
		RequestsByStatus: make(map[models.RequestStatus]int),
		Breaches: models.BreachSummary{
			BySeverity: make(map[models.Severity]int),
			ByRisk:     make(map[models.RiskLevel]int),
		},
	}
	for _, t := range models.RequestTypes {
		report.RequestsByType[t] = 0
	}

	subjects, err := s.store.ListSubjects(ctx)
	if err != nil {
		return nil, storeError(err, "data subjects")
	}
	for _, subject := range subjects {
		if within(subject.CreatedAt, start, end) {
			report.SubjectsCreated++
		}
	}

	consents, err := s.store.ListAllConsents(ctx)
	if err != nil {
		return nil, storeError(err, "consents")
	}
	for _, c := range consents {
		// a withdrawn record was given before it was withdrawn
		if (c.ConsentGiven || c.IsWithdrawn()) && within(c.ConsentTimestamp, start, end) {
			report.ConsentsGiven++
		}
		if c.WithdrawnAt != nil && within(*c.WithdrawnAt, start, end) {
			report.ConsentsWithdrawn++
		}
	}

	records, err := s.store.ListAllProcessing(ctx)
	if err != nil {
		return nil, storeError(err, "processing records")
	}
	for _, r := range records {
		if within(r.Timestamp, start, end) {
			report.ProcessingRecords++
		}
	}

	requests, err := s.store.ListRequests(ctx)
	if err != nil {
		return nil, storeError(err, "data access requests")
	}
	var totalDays float64
	completed := 0
	for _, r := range requests {
		if !within(r.RequestTimestamp, start, end) {
			continue
		}
		report.RequestsByType[r.Type]++
		report.RequestsByStatus[r.Status]++
		if days, ok := r.CompletionDays(); ok {
			totalDays += days
			completed++
		}
	}
	if completed > 0 {
		report.AverageCompletionDays = totalDays / float64(completed)
	}

	breaches, err := s.store.ListBreaches(ctx)
	if err != nil {
		return nil, storeError(err, "data breaches")
	}
	for _, b := range breaches {
		if !within(b.ReportedAt, start, end) {
			continue
		}
		summary := &report.Breaches
		summary.Total++
		summary.BySeverity[b.Severity]++
		summary.ByRisk[b.Risk.OverallRisk]++
		if b.Risk.RequiresSupervisoryNotification() {
			summary.NotificationRequired++
		}
		if b.SupervisoryAuthorityNotified {
			summary.SupervisoryAuthorityNotified++
		}
		if b.DataSubjectsNotified {
			summary.DataSubjectsNotified++
		}
	}
	return report, nil
}

// HealthCheck derives engine health from backlog thresholds.
func (s *Service) HealthCheck(ctx context.Context) (*models.HealthReport, error) {
	now := requestcontext.Now(ctx)
	var m models.HealthMetrics

	subjects, err := s.store.ListSubjects(ctx)
	if err != nil {
		return nil, storeError(err, "data subjects")
	}
	m.Subjects = len(subjects)

	requests, err := s.store.ListRequests(ctx)
	if err != nil {
		return nil, storeError(err, "data access requests")
	}
	for _, r := range requests {
		if r.Status == models.RequestStatusPending {
			m.PendingRequests++
		}
	}

	pias, err := s.store.ListPIAs(ctx)
	if err != nil {
		return nil, storeError(err, "privacy impact assessments")
	}
	for _, p := range pias {
		if p.IsOverdueDraft(now, s.thresholds.PIAMaxDraftAge) {
			m.OverduePIAs++
		}
	}

	policies, err := s.store.ListPolicies(ctx)
	if err != nil {
		return nil, storeError(err, "retention policies")
	}
	m.Policies = len(policies)

	breaches, err := s.store.ListBreaches(ctx)
	if err != nil {
		return nil, storeError(err, "data breaches")
	}
	since := now.Add(-s.thresholds.BreachWindow)
	for _, b := range breaches {
		if !b.ReportedAt.Before(since) {
			m.RecentBreaches++
		}
	}

	report := &models.HealthReport{
		Status:    models.HealthStatusHealthy,
		Metrics:   m,
		CheckedAt: now,
	}
	if m.PendingRequests >= s.thresholds.MaxPendingRequests {
		report.Reasons = append(report.Reasons, strconv.Itoa(m.PendingRequests)+" pending data access requests")
	}
	if m.OverduePIAs >= s.thresholds.MaxOverduePIAs {
		report.Reasons = append(report.Reasons, strconv.Itoa(m.OverduePIAs)+" overdue draft privacy impact assessments")
	}
	if len(report.Reasons) > 0 {
		report.Status = models.HealthStatusUnhealthy
	}
	return report, nil
}
