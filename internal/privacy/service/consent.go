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

// RecordConsent appends a new consent decision for a known subject. Earlier
// records for the same purpose are left untouched.
func (s *Service) RecordConsent(ctx context.Context, req models.RecordConsentRequest) (*models.ConsentRecord, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	unlock, err := s.lockSubject(ctx, req.SubjectID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := s.findSubject(ctx, req.SubjectID); err != nil {
		return nil, err
	}

	basis := id.LegalBasisConsent
	if req.LegalBasis != "" {
		basis = id.LegalBasis(req.LegalBasis)
	}
	timestamp := req.ConsentTimestamp
	if timestamp.IsZero() {
		timestamp = requestcontext.Now(ctx)
	}
	record := &models.ConsentRecord{
		ID:               id.ConsentID(uuid.New()),
		SubjectID:        req.SubjectID,
		Purpose:          req.Purpose,
		LegalBasis:       basis,
		ConsentGiven:     req.ConsentGiven,
		ConsentTimestamp: timestamp,
		Source:           req.Source,
		GranularConsent:  req.GranularConsent,
	}
	decision := "granted"
	if !record.ConsentGiven {
		decision = "refused"
	}
	err = s.atomically(ctx, func(ctx context.Context) error {
		if err := s.store.AppendConsent(ctx, record); err != nil {
			return storeError(err, "data subject")
		}
		s.emit(ctx, audit.Event{
			SubjectID: record.SubjectID,
			EntityID:  record.ID.String(),
			Action:    string(audit.EventConsentRecorded),
			Purpose:   record.Purpose,
			Decision:  decision,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncConsentsRecorded()
	}
	return record, nil
}

// WithdrawConsent withdraws a consent record. Withdrawing an already
// withdrawn record returns it unchanged and emits nothing.
func (s *Service) WithdrawConsent(ctx context.Context, consentID id.ConsentID) (*models.ConsentRecord, error) {
	record, err := s.store.FindConsent(ctx, consentID)
	if err != nil {
		return nil, storeError(err, "consent")
	}

	unlock, err := s.lockSubject(ctx, record.SubjectID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// re-read under the lock; an erasure may have won the race
	record, err = s.store.FindConsent(ctx, consentID)
	if err != nil {
		return nil, storeError(err, "consent")
	}
	if !record.ApplyWithdrawal(requestcontext.Now(ctx)) {
		return record, nil
	}
	err = s.atomically(ctx, func(ctx context.Context) error {
		if err := s.store.UpdateConsent(ctx, record); err != nil {
			return storeError(err, "consent")
		}
		s.emit(ctx, audit.Event{
			SubjectID: record.SubjectID,
			EntityID:  record.ID.String(),
			Action:    string(audit.EventConsentWithdrawn),
			Purpose:   record.Purpose,
			Decision:  "withdrawn",
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncConsentsWithdrawn()
	}
	return record, nil
}

// GetConsentStatus returns the latest record for purpose, or nil when the
// subject has none. An unknown subject simply has no consent.
func (s *Service) GetConsentStatus(ctx context.Context, subjectID id.SubjectID, purpose string) (*models.ConsentRecord, error) {
	records, err := s.store.ListConsents(ctx, subjectID)
	if err != nil {
		return nil, storeError(err, "consents")
	}
	return models.LatestConsent(records, purpose), nil
}

// HasValidConsent is true iff the latest record for purpose was given and
// never withdrawn.
func (s *Service) HasValidConsent(ctx context.Context, subjectID id.SubjectID, purpose string) (bool, error) {
	latest, err := s.GetConsentStatus(ctx, subjectID, purpose)
	if err != nil {
		return false, err
	}
	return latest != nil && latest.IsActive(), nil
}

func (s *Service) ListConsents(ctx context.Context, subjectID id.SubjectID) ([]*models.ConsentRecord, error) {
	if _, err := s.findSubject(ctx, subjectID); err != nil {
		return nil, err
	}
	records, err := s.store.ListConsents(ctx, subjectID)
	if err != nil {
		return nil, storeError(err, "consents")
	}
	return records, nil
}
