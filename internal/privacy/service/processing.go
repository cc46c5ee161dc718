package service

import (
	"context"

	"github.com/google/uuid"

	"privacy/internal/privacy/models"
	id "privacy/pkg/domain"
	audit "privacy/pkg/platform/audit"
	"privacy/pkg/requestcontext"
	"privacy/pkg/validation"
)

// RecordDataProcessing appends a processing record. Processing in a
// restricted category, or on legitimate interests for a purpose the subject
// objected to, is refused with CodeProcessingBlocked.
func (s *Service) RecordDataProcessing(ctx context.Context, req models.RecordProcessingRequest) (*models.DataProcessingRecord, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	basis, err := id.ParseLegalBasis(req.LegalBasis)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lockSubject(ctx, req.SubjectID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	subject, err := s.findSubject(ctx, req.SubjectID)
	if err != nil {
		return nil, err
	}
	if err := models.CheckProcessingAllowed(subject, req.DataCategory, req.Purpose, basis); err != nil {
		if s.metrics != nil {
			s.metrics.IncProcessingBlocked()
		}
		return nil, err
	}

	timestamp := req.Timestamp
	if timestamp.IsZero() {
		timestamp = requestcontext.Now(ctx)
	}
	record := &models.DataProcessingRecord{
		ID:                      id.ProcessingRecordID(uuid.New()),
		SubjectID:               req.SubjectID,
		DataCategory:            req.DataCategory,
		Purpose:                 req.Purpose,
		LegalBasis:              basis,
		ProcessingType:          req.ProcessingType,
		Location:                req.Location,
		RetentionPeriodDays:     req.RetentionPeriodDays,
		ThirdPartySharing:       req.ThirdPartySharing,
		AutomatedDecisionMaking: req.AutomatedDecisionMaking,
		Profiling:               req.Profiling,
		Timestamp:               timestamp,
	}
	err = s.atomically(ctx, func(ctx context.Context) error {
		if err := s.store.AppendProcessing(ctx, record); err != nil {
			return storeError(err, "data subject")
		}
		s.emit(ctx, audit.Event{
			SubjectID: record.SubjectID,
			EntityID:  record.ID.String(),
			Action:    string(audit.EventDataProcessingRecorded),
			Purpose:   record.Purpose,
			Attributes: map[string]string{
				"data_category": record.DataCategory,
				"legal_basis":   string(record.LegalBasis),
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncProcessingRecorded()
	}
	return record, nil
}

func (s *Service) ListProcessingRecords(ctx context.Context, subjectID id.SubjectID) ([]*models.DataProcessingRecord, error) {
	if _, err := s.findSubject(ctx, subjectID); err != nil {
		return nil, err
	}
	records, err := s.store.ListProcessing(ctx, subjectID)
	if err != nil {
		return nil, storeError(err, "processing records")
	}
	return records, nil
}
