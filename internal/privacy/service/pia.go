package service

import (
	"context"

	"github.com/google/uuid"

	"privacy/internal/privacy/models"
	id "privacy/pkg/domain"
	dErrors "privacy/pkg/domain-errors"
	audit "privacy/pkg/platform/audit"
	"privacy/pkg/requestcontext"
	"privacy/pkg/validation"
)

func (s *Service) CreatePrivacyImpactAssessment(ctx context.Context, req models.CreatePIARequest) (*models.PrivacyImpactAssessment, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	pia := &models.PrivacyImpactAssessment{
		ID:                 id.AssessmentID(uuid.New()),
		Title:              req.Title,
		Description:        req.Description,
		ProcessingPurposes: req.ProcessingPurposes,
		DataCategories:     req.DataCategories,
		Risks:              req.Risks,
		Mitigations:        req.Mitigations,
		Assessor:           req.Assessor,
		Status:             models.PIAStatusDraft,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err := s.atomically(ctx, func(ctx context.Context) error {
		if err := s.store.SavePIA(ctx, pia); err != nil {
			return storeError(err, "privacy impact assessment")
		}
		s.emit(ctx, audit.Event{
			EntityID: pia.ID.String(),
			Action:   string(audit.EventPIACreated),
			Decision: string(pia.Status),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pia, nil
}

// UpdatePrivacyImpactAssessment edits content and/or moves the assessment
// through its lifecycle. Illegal transitions and edits to a decided
// assessment fail with CodeConflict.
func (s *Service) UpdatePrivacyImpactAssessment(ctx context.Context, piaID id.AssessmentID, req models.UpdatePIARequest) (*models.PrivacyImpactAssessment, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	pia, err := s.store.FindPIA(ctx, piaID)
	if err != nil {
		return nil, storeError(err, "privacy impact assessment")
	}
	changes := req.Changes()
	if err := pia.CanApply(changes); err != nil {
		return nil, dErrors.New(dErrors.CodeConflict, err.Error())
	}
	pia.ApplyChanges(changes, requestcontext.Now(ctx))
	err = s.atomically(ctx, func(ctx context.Context) error {
		if err := s.store.SavePIA(ctx, pia); err != nil {
			return storeError(err, "privacy impact assessment")
		}
		s.emit(ctx, audit.Event{
			EntityID: pia.ID.String(),
			Action:   string(audit.EventPIAUpdated),
			Decision: string(pia.Status),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pia, nil
}

func (s *Service) GetPrivacyImpactAssessment(ctx context.Context, piaID id.AssessmentID) (*models.PrivacyImpactAssessment, error) {
	pia, err := s.store.FindPIA(ctx, piaID)
	if err != nil {
		return nil, storeError(err, "privacy impact assessment")
	}
	return pia, nil
}
