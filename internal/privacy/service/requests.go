package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"privacy/internal/privacy/models"
	id "privacy/pkg/domain"
	dErrors "privacy/pkg/domain-errors"
	audit "privacy/pkg/platform/audit"
	"privacy/pkg/requestcontext"
	"privacy/pkg/validation"
)

// ReasonRectificationUnsupported is recorded on rectification requests; the
// data itself is corrected through UpdateDataSubject.
const ReasonRectificationUnsupported = "Rectification is not performed by this workflow; update the data subject directly"

// SubmitDataAccessRequest persists a rights request and, unless the caller
// defers it, fulfills it immediately. Access requests are never deferred.
// Fulfillment failures end in status rejected rather than an error; the
// returned error covers validation and storage only.
func (s *Service) SubmitDataAccessRequest(ctx context.Context, req models.SubmitAccessRequest) (*models.DataAccessRequest, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	request, err := models.NewDataAccessRequest(id.AccessRequestID(uuid.New()), req.SubjectID, req.Type, requestcontext.Now(ctx))
	if err != nil {
		return nil, asValidation(err)
	}
	request.VerificationMethod = req.VerificationMethod
	request.Categories = req.Categories
	request.Purpose = req.Purpose

	err = s.atomically(ctx, func(ctx context.Context) error {
		if err := s.store.SaveRequest(ctx, request); err != nil {
			return storeError(err, "data access request")
		}
		s.emit(ctx, audit.Event{
			SubjectID: request.SubjectID,
			EntityID:  request.ID.String(),
			Action:    string(audit.EventAccessRequestSubmitted),
			Attributes: map[string]string{
				"request_type": string(request.Type),
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if req.Defer && request.Type != models.RequestTypeAccess {
		return request, nil
	}
	if err := s.process(ctx, request); err != nil {
		return nil, err
	}
	return request, nil
}

// ProcessDataAccessRequest fulfills a deferred request. Only pending requests
// can be processed.
func (s *Service) ProcessDataAccessRequest(ctx context.Context, requestID id.AccessRequestID) (*models.DataAccessRequest, error) {
	request, err := s.store.FindRequest(ctx, requestID)
	if err != nil {
		return nil, storeError(err, "data access request")
	}
	if err := request.CanStartProcessing(); err != nil {
		return nil, dErrors.New(dErrors.CodeConflict, err.Error())
	}
	if err := s.process(ctx, request); err != nil {
		return nil, err
	}
	return request, nil
}

func (s *Service) GetDataAccessRequest(ctx context.Context, requestID id.AccessRequestID) (*models.DataAccessRequest, error) {
	request, err := s.store.FindRequest(ctx, requestID)
	if err != nil {
		return nil, storeError(err, "data access request")
	}
	return request, nil
}

// process drives a pending request to a terminal state. Once processing
// starts it always finishes; any fulfillment error becomes the rejection
// reason and the request is persisted either way.
func (s *Service) process(ctx context.Context, request *models.DataAccessRequest) error {
	ctx, span := s.tracer.Start(ctx, "privacy.fulfill_request")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.id", request.ID.String()),
		attribute.String("request.type", string(request.Type)),
	)
	start := time.Now()

	if err := request.CanStartProcessing(); err != nil {
		return dErrors.New(dErrors.CodeConflict, err.Error())
	}
	request.ApplyStartProcessing()
	if err := s.store.SaveRequest(ctx, request); err != nil {
		return storeError(err, "data access request")
	}

	started := *request
	if err := s.fulfill(ctx, request); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request rejected")
		// discard whatever the failed attempt wrote onto the request
		*request = started
		if rejectErr := request.Reject(err.Error(), requestcontext.Now(ctx)); rejectErr != nil {
			return dErrors.Wrap(rejectErr, dErrors.CodeInternal, "failed to reject data access request")
		}
		saveErr := s.atomically(ctx, func(ctx context.Context) error {
			return s.finishRequest(ctx, request)
		})
		if saveErr != nil {
			return saveErr
		}
	}

	if s.metrics != nil {
		s.metrics.IncRequestProcessed(string(request.Type), string(request.Status))
		s.metrics.ObserveFulfillment(start)
	}
	span.SetAttributes(attribute.String("request.status", string(request.Status)))
	return nil
}

// fulfill runs the type-specific algorithm under the subject's lock, so an
// erasure and any other request for the same subject are serialised. A
// request that loses the race to an erasure finds no subject and is rejected.
// The side effects, the terminal request state and its events commit together.
func (s *Service) fulfill(ctx context.Context, request *models.DataAccessRequest) error {
	unlock, err := s.lockSubject(ctx, request.SubjectID)
	if err != nil {
		return err
	}
	defer unlock()

	return s.atomically(ctx, func(ctx context.Context) error {
		if err := s.fulfillByType(ctx, request); err != nil {
			return err
		}
		return s.finishRequest(ctx, request)
	})
}

func (s *Service) fulfillByType(ctx context.Context, request *models.DataAccessRequest) error {
	subject, err := s.findSubject(ctx, request.SubjectID)
	if err != nil {
		return err
	}
	now := requestcontext.Now(ctx)

	switch request.Type {
	case models.RequestTypeAccess:
		return s.fulfillAccess(ctx, request, subject, now)
	case models.RequestTypePortability:
		return s.fulfillPortability(ctx, request, subject, now)
	case models.RequestTypeRectification:
		return dErrors.New(dErrors.CodeProcessingFailure, ReasonRectificationUnsupported)
	case models.RequestTypeErasure:
		return s.fulfillErasure(ctx, request, subject, now)
	case models.RequestTypeRestriction:
		subject.ApplyRestriction(request.Categories, now)
		return s.saveRightsChange(ctx, request, subject, now, "restriction")
	case models.RequestTypeObjection:
		subject.ApplyObjection(request.Purpose, now)
		return s.saveRightsChange(ctx, request, subject, now, "objection")
	default:
		return dErrors.New(dErrors.CodeValidation, "unsupported request type "+string(request.Type))
	}
}

// finishRequest persists a request in its terminal state and emits the
// processed event.
func (s *Service) finishRequest(ctx context.Context, request *models.DataAccessRequest) error {
	if err := s.store.SaveRequest(ctx, request); err != nil {
		return storeError(err, "data access request")
	}
	s.emit(ctx, audit.Event{
		SubjectID: request.SubjectID,
		EntityID:  request.ID.String(),
		Action:    string(audit.EventAccessRequestProcessed),
		Decision:  string(request.Status),
		Reason:    request.RejectionReason,
		Attributes: map[string]string{
			"request_type": string(request.Type),
		},
	})
	return nil
}

// fulfillAccess compiles everything held about the subject. When only the
// request history cannot be read the request is partially completed with
// the rest of the payload.
func (s *Service) fulfillAccess(ctx context.Context, request *models.DataAccessRequest, subject *models.DataSubject, now time.Time) error {
	consents, err := s.store.ListConsents(ctx, subject.ID)
	if err != nil {
		return storeError(err, "consents")
	}
	records, err := s.store.ListProcessing(ctx, subject.ID)
	if err != nil {
		return storeError(err, "processing records")
	}
	payload := &models.AccessPayload{
		Subject:           subject,
		Consents:          consents,
		ProcessingRecords: records,
		Requests:          []models.RequestSummary{},
	}
	request.Access = payload

	history, err := s.store.ListRequestsBySubject(ctx, subject.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "request history unavailable for access request",
			"request_id", request.ID,
			"error", err,
		)
		return request.PartiallyComplete("request history unavailable", now)
	}
	for _, r := range history {
		payload.Requests = append(payload.Requests, r.Summary())
	}
	return request.Complete(now)
}

func (s *Service) fulfillPortability(ctx context.Context, request *models.DataAccessRequest, subject *models.DataSubject, now time.Time) error {
	consents, err := s.store.ListConsents(ctx, subject.ID)
	if err != nil {
		return storeError(err, "consents")
	}
	active := []*models.ConsentRecord{}
	for _, c := range consents {
		if c.IsActive() {
			active = append(active, c)
		}
	}
	request.Export = &models.PortabilityExport{
		Version:    id.CurrentExportVersion,
		ExportedAt: now,
		Subject:    subject,
		Consents:   active,
	}
	return request.Complete(now)
}

// fulfillErasure checks legal holds before any side effect, then deletes
// through the shared primitive.
func (s *Service) fulfillErasure(ctx context.Context, request *models.DataAccessRequest, subject *models.DataSubject, now time.Time) error {
	records, err := s.store.ListProcessing(ctx, subject.ID)
	if err != nil {
		return storeError(err, "processing records")
	}
	if err := models.CheckErasureEligibility(records); err != nil {
		return err
	}
	if err := s.deleteSubject(ctx, subject.ID, reasonErasureRequest); err != nil {
		return err
	}
	return request.Complete(now)
}

func (s *Service) saveRightsChange(ctx context.Context, request *models.DataAccessRequest, subject *models.DataSubject, now time.Time, right string) error {
	if err := s.store.UpdateSubject(ctx, subject); err != nil {
		return storeError(err, "data subject")
	}
	s.emit(ctx, audit.Event{
		SubjectID: subject.ID,
		EntityID:  subject.ID.String(),
		Action:    string(audit.EventDataSubjectUpdated),
		Purpose:   request.Purpose,
		Reason:    right,
	})
	return request.Complete(now)
}
