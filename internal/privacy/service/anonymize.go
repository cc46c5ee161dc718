package service

import (
	"context"

	"privacy/internal/privacy/anonymize"
	"privacy/internal/privacy/models"
	audit "privacy/pkg/platform/audit"
	"privacy/pkg/requestcontext"
	"privacy/pkg/validation"
)

// AnonymizeData applies one technique to a subject and stores the result.
// The subject's status is left alone; it only tracks retention outcomes.
func (s *Service) AnonymizeData(ctx context.Context, req models.AnonymizeRequest) (*models.DataSubject, error) {
	if err := validation.Struct(req); err != nil {
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
	params := anonymize.Params{Epsilon: req.Epsilon, Sensitivity: req.Sensitivity}
	if err := s.pipeline.Apply(subject, req.Technique, params); err != nil {
		return nil, err
	}
	subject.UpdatedAt = requestcontext.Now(ctx)
	err = s.atomically(ctx, func(ctx context.Context) error {
		if err := s.store.UpdateSubject(ctx, subject); err != nil {
			return storeError(err, "data subject")
		}
		s.emit(ctx, audit.Event{
			SubjectID: subject.ID,
			EntityID:  subject.ID.String(),
			Action:    string(audit.EventDataAnonymized),
			Attributes: map[string]string{
				"technique": string(req.Technique),
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncAnonymization(string(req.Technique))
	}
	return subject, nil
}
