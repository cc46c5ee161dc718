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

func (s *Service) CreateDataSubject(ctx context.Context, req models.CreateSubjectRequest) (*models.DataSubject, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	details := models.SubjectDetails{
		Name:        &req.Name,
		Phone:       &req.Phone,
		DateOfBirth: req.DateOfBirth,
		Nationality: &req.Nationality,
	}
	subject, err := models.NewDataSubject(id.SubjectID(uuid.New()), req.Email, details, requestcontext.Now(ctx))
	if err != nil {
		return nil, asValidation(err)
	}

	err = s.atomically(ctx, func(ctx context.Context) error {
		if err := s.store.CreateSubject(ctx, subject); err != nil {
			return storeError(err, "data subject")
		}
		s.emit(ctx, audit.Event{
			SubjectID: subject.ID,
			EntityID:  subject.ID.String(),
			Action:    string(audit.EventDataSubjectCreated),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncSubjectsCreated()
	}
	return subject, nil
}

func (s *Service) GetDataSubject(ctx context.Context, subjectID id.SubjectID) (*models.DataSubject, error) {
	return s.findSubject(ctx, subjectID)
}

func (s *Service) UpdateDataSubject(ctx context.Context, subjectID id.SubjectID, req models.UpdateSubjectRequest) (*models.DataSubject, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	unlock, err := s.lockSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	subject, err := s.findSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	details := req.Details()
	if err := subject.CanUpdate(details); err != nil {
		return nil, asValidation(err)
	}
	subject.ApplyUpdate(details, requestcontext.Now(ctx))

	err = s.atomically(ctx, func(ctx context.Context) error {
		if err := s.store.UpdateSubject(ctx, subject); err != nil {
			return storeError(err, "data subject")
		}
		s.emit(ctx, audit.Event{
			SubjectID: subject.ID,
			EntityID:  subject.ID.String(),
			Action:    string(audit.EventDataSubjectUpdated),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return subject, nil
}

// DeleteDataSubject removes a subject with its consents and processing
// records. reason is carried on the data-subject-deleted event.
func (s *Service) DeleteDataSubject(ctx context.Context, subjectID id.SubjectID, reason string) error {
	unlock, err := s.lockSubject(ctx, subjectID)
	if err != nil {
		return err
	}
	defer unlock()

	return s.atomically(ctx, func(ctx context.Context) error {
		return s.deleteSubject(ctx, subjectID, reason)
	})
}

// deleteSubject is the single deletion primitive shared by direct deletion,
// erasure fulfillment and hard-delete retention. The caller holds the
// subject's lock and runs it inside atomically.
func (s *Service) deleteSubject(ctx context.Context, subjectID id.SubjectID, reason string) error {
	if err := s.store.DeleteSubject(ctx, subjectID); err != nil {
		return storeError(err, "data subject")
	}
	if s.metrics != nil {
		s.metrics.IncSubjectsDeleted(deletionReasonLabel(reason))
	}
	s.emit(ctx, audit.Event{
		SubjectID: subjectID,
		EntityID:  subjectID.String(),
		Action:    string(audit.EventDataSubjectDeleted),
		Reason:    reason,
	})
	return nil
}

// Deletion reasons used by the engine itself. Metric labels collapse any
// caller-supplied reason to "other" to keep cardinality bounded.
const (
	reasonErasureRequest = "erasure request"
	reasonRetention      = "retention policy"
)

func deletionReasonLabel(reason string) string {
	switch reason {
	case reasonErasureRequest:
		return "erasure"
	case reasonRetention:
		return "retention"
	default:
		return "other"
	}
}
