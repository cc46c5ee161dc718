package service

import (
	"context"

	"github.com/google/uuid"

	"privacy/internal/privacy/breach"
	"privacy/internal/privacy/models"
	id "privacy/pkg/domain"
	dErrors "privacy/pkg/domain-errors"
	audit "privacy/pkg/platform/audit"
	"privacy/pkg/requestcontext"
	"privacy/pkg/validation"
)

// ReportDataBreach records a breach with its risk assessment and emits the
// notification decisions. Nothing is sent from here; an external notifier
// acts on the events and reports back through ConfirmBreachNotification.
func (s *Service) ReportDataBreach(ctx context.Context, req models.ReportBreachRequest) (*models.DataBreach, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	risk := breach.Assess(req.Likelihood, req.Impact, req.Severity)
	severity := req.Severity
	if severity == "" {
		severity = models.Severity(risk.OverallRisk)
	}
	detectedAt := req.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = now
	}
	b := &models.DataBreach{
		ID:                  id.BreachID(uuid.New()),
		Description:         req.Description,
		BreachType:          req.BreachType,
		Severity:            severity,
		DetectedAt:          detectedAt,
		ReportedAt:          now,
		AffectedSubjects:    req.AffectedSubjects,
		AffectedCategories:  req.AffectedCategories,
		ContainmentMeasures: req.ContainmentMeasures,
		Risk:                risk,
	}
	attrs := map[string]string{
		"severity":     string(b.Severity),
		"overall_risk": string(risk.OverallRisk),
	}
	decision := breach.Decide(risk)
	err := s.atomically(ctx, func(ctx context.Context) error {
		if err := s.store.SaveBreach(ctx, b); err != nil {
			return storeError(err, "data breach")
		}
		s.emit(ctx, audit.Event{
			EntityID:   b.ID.String(),
			Action:     string(audit.EventDataBreachReported),
			Attributes: attrs,
		})
		if decision.SupervisoryAuthority {
			s.emit(ctx, audit.Event{
				EntityID:   b.ID.String(),
				Action:     string(audit.EventBreachNotificationRequired),
				Decision:   string(models.NotifySupervisoryAuthority),
				Attributes: attrs,
			})
		}
		if decision.DataSubjects {
			s.emit(ctx, audit.Event{
				EntityID:   b.ID.String(),
				Action:     string(audit.EventDataSubjectNotificationRequired),
				Decision:   string(models.NotifyDataSubjects),
				Attributes: attrs,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncBreachReported(string(risk.OverallRisk))
	}
	return b, nil
}

// ConfirmBreachNotification records that the external notifier reached
// target. Confirming twice is a no-op.
func (s *Service) ConfirmBreachNotification(ctx context.Context, breachID id.BreachID, target models.NotificationTarget) (*models.DataBreach, error) {
	if target != models.NotifySupervisoryAuthority && target != models.NotifyDataSubjects {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown notification target "+string(target))
	}
	b, err := s.store.FindBreach(ctx, breachID)
	if err != nil {
		return nil, storeError(err, "data breach")
	}
	if !b.ApplyNotificationConfirmed(target, requestcontext.Now(ctx)) {
		return b, nil
	}
	err = s.atomically(ctx, func(ctx context.Context) error {
		if err := s.store.SaveBreach(ctx, b); err != nil {
			return storeError(err, "data breach")
		}
		s.emit(ctx, audit.Event{
			EntityID: b.ID.String(),
			Action:   string(audit.EventBreachNotificationConfirmed),
			Decision: string(target),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) GetDataBreach(ctx context.Context, breachID id.BreachID) (*models.DataBreach, error) {
	b, err := s.store.FindBreach(ctx, breachID)
	if err != nil {
		return nil, storeError(err, "data breach")
	}
	return b, nil
}
