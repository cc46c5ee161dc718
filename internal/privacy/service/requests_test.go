package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"privacy/internal/privacy/models"
	"privacy/internal/privacy/store/memory"
	id "privacy/pkg/domain"
	dErrors "privacy/pkg/domain-errors"
	audit "privacy/pkg/platform/audit"
)

// failingHistoryStore loses the request history while everything else works.
type failingHistoryStore struct {
	*memory.Store
}

func (failingHistoryStore) ListRequestsBySubject(context.Context, id.SubjectID) ([]*models.DataAccessRequest, error) {
	return nil, errors.New("replica unavailable")
}

func (s *ServiceSuite) submit(subjectID id.SubjectID, requestType models.RequestType) *models.DataAccessRequest {
	request, err := s.service.SubmitDataAccessRequest(s.ctx, models.SubmitAccessRequest{
		SubjectID: subjectID,
		Type:      requestType,
	})
	s.Require().NoError(err)
	return request
}

// =============================================================================
// Rights request workflow
// =============================================================================

func (s *ServiceSuite) TestAccessRequest() {
	s.Run("compiles subject, consents, processing and request history", func() {
		subject := s.createSubject("access@b.com")
		_, err := s.service.RecordConsent(s.ctx, models.RecordConsentRequest{SubjectID: subject.ID, Purpose: "marketing", ConsentGiven: true})
		s.Require().NoError(err)
		s.recordProcessing(subject.ID, "contact_information", "marketing", id.LegalBasisConsent, time.Time{})

		request := s.submit(subject.ID, models.RequestTypeAccess)

		s.Equal(models.RequestStatusCompleted, request.Status)
		s.Require().NotNil(request.CompletionTimestamp)
		s.Require().NotNil(request.Access)
		s.Equal(subject.ID, request.Access.Subject.ID)
		s.Len(request.Access.Consents, 1)
		s.Len(request.Access.ProcessingRecords, 1)
		s.Require().Len(request.Access.Requests, 1, "history includes the request itself")
		s.Equal(request.ID, request.Access.Requests[0].ID)

		stored, err := s.service.GetDataAccessRequest(s.ctx, request.ID)
		s.Require().NoError(err)
		s.Equal(models.RequestStatusCompleted, stored.Status)

		s.Len(s.eventsForEntity(audit.EventAccessRequestSubmitted, request.ID.String()), 1)
		processed := s.eventsForEntity(audit.EventAccessRequestProcessed, request.ID.String())
		s.Require().Len(processed, 1)
		s.Equal(string(models.RequestStatusCompleted), processed[0].Decision)
	})

	s.Run("access requests ignore defer", func() {
		subject := s.createSubject("nodefer@b.com")
		request, err := s.service.SubmitDataAccessRequest(s.ctx, models.SubmitAccessRequest{
			SubjectID: subject.ID,
			Type:      models.RequestTypeAccess,
			Defer:     true,
		})
		s.Require().NoError(err)
		s.Equal(models.RequestStatusCompleted, request.Status)
	})

	s.Run("missing history partially completes", func() {
		svc := s.newService(failingHistoryStore{Store: s.store})
		subject := s.createSubject("partial@b.com")

		request, err := svc.SubmitDataAccessRequest(s.ctx, models.SubmitAccessRequest{SubjectID: subject.ID, Type: models.RequestTypeAccess})
		s.Require().NoError(err)
		s.Equal(models.RequestStatusPartiallyCompleted, request.Status)
		s.Equal("request history unavailable", request.RejectionReason)
		s.Require().NotNil(request.Access)
		s.Equal(subject.ID, request.Access.Subject.ID)
		s.Empty(request.Access.Requests)
	})

	s.Run("unknown subject is rejected, not failed", func() {
		request := s.submit(id.SubjectID{3}, models.RequestTypeAccess)
		s.Equal(models.RequestStatusRejected, request.Status)
		s.Contains(request.RejectionReason, "not found")

		stored, err := s.service.GetDataAccessRequest(s.ctx, request.ID)
		s.Require().NoError(err)
		s.Equal(models.RequestStatusRejected, stored.Status)
	})
}

func (s *ServiceSuite) TestPortabilityRequest() {
	subject := s.createSubject("port@b.com")
	kept, err := s.service.RecordConsent(s.ctx, models.RecordConsentRequest{SubjectID: subject.ID, Purpose: "newsletter", ConsentGiven: true})
	s.Require().NoError(err)
	dropped, err := s.service.RecordConsent(s.ctx, models.RecordConsentRequest{SubjectID: subject.ID, Purpose: "marketing", ConsentGiven: true})
	s.Require().NoError(err)
	_, err = s.service.WithdrawConsent(s.ctx, dropped.ID)
	s.Require().NoError(err)
	_, err = s.service.RecordConsent(s.ctx, models.RecordConsentRequest{SubjectID: subject.ID, Purpose: "profiling", ConsentGiven: false})
	s.Require().NoError(err)

	request := s.submit(subject.ID, models.RequestTypePortability)

	s.Equal(models.RequestStatusCompleted, request.Status)
	s.Require().NotNil(request.Export)
	s.Equal(id.CurrentExportVersion, request.Export.Version)
	s.Equal(s.now, request.Export.ExportedAt)
	s.Require().Len(request.Export.Consents, 1, "only active consents are exported")
	s.Equal(kept.ID, request.Export.Consents[0].ID)
}

func (s *ServiceSuite) TestRectificationRequest() {
	subject := s.createSubject("rect@b.com")

	request := s.submit(subject.ID, models.RequestTypeRectification)

	s.Equal(models.RequestStatusRejected, request.Status)
	s.Equal(ReasonRectificationUnsupported, request.RejectionReason)
	s.Require().NotNil(request.CompletionTimestamp)
}

func (s *ServiceSuite) TestErasureRequest() {
	s.Run("contract processing blocks erasure", func() {
		subject := s.createSubject("contract@b.com")
		_, err := s.service.RecordConsent(s.ctx, models.RecordConsentRequest{SubjectID: subject.ID, Purpose: "marketing", ConsentGiven: true})
		s.Require().NoError(err)
		s.recordProcessing(subject.ID, "billing", "invoicing", id.LegalBasisContract, time.Time{})

		request := s.submit(subject.ID, models.RequestTypeErasure)

		s.Equal(models.RequestStatusRejected, request.Status)
		s.Equal(models.ReasonContractPerformance, request.RejectionReason)
		s.Contains(request.RejectionReason, "contract")

		_, err = s.service.GetDataSubject(s.ctx, subject.ID)
		s.Require().NoError(err, "subject survives a rejected erasure")
		consents, err := s.service.ListConsents(s.ctx, subject.ID)
		s.Require().NoError(err)
		s.Len(consents, 1)
		s.Empty(s.eventsForEntity(audit.EventDataSubjectDeleted, subject.ID.String()))
	})

	s.Run("legal obligation outranks contract", func() {
		subject := s.createSubject("legal@b.com")
		s.recordProcessing(subject.ID, "billing", "invoicing", id.LegalBasisContract, time.Time{})
		s.recordProcessing(subject.ID, "billing", "tax", id.LegalBasisLegalObligation, time.Time{})

		request := s.submit(subject.ID, models.RequestTypeErasure)

		s.Equal(models.RequestStatusRejected, request.Status)
		s.Equal(models.ReasonLegalCompliance, request.RejectionReason)
	})

	s.Run("erases the subject with consents and processing", func() {
		subject := s.createSubject("erase@b.com")
		_, err := s.service.RecordConsent(s.ctx, models.RecordConsentRequest{SubjectID: subject.ID, Purpose: "marketing", ConsentGiven: true})
		s.Require().NoError(err)
		s.recordProcessing(subject.ID, "contact_information", "marketing", id.LegalBasisConsent, time.Time{})

		request := s.submit(subject.ID, models.RequestTypeErasure)

		s.Equal(models.RequestStatusCompleted, request.Status)
		_, err = s.service.GetDataSubject(s.ctx, subject.ID)
		s.requireCode(err, dErrors.CodeNotFound)
		consent, err := s.service.GetConsentStatus(s.ctx, subject.ID, "marketing")
		s.Require().NoError(err)
		s.Nil(consent)

		deleted := s.eventsForEntity(audit.EventDataSubjectDeleted, subject.ID.String())
		s.Require().Len(deleted, 1)
		s.Equal(reasonErasureRequest, deleted[0].Reason)

		stored, err := s.service.GetDataAccessRequest(s.ctx, request.ID)
		s.Require().NoError(err, "requests outlive the subject")
		s.Equal(models.RequestStatusCompleted, stored.Status)

		later := s.submit(subject.ID, models.RequestTypeAccess)
		s.Equal(models.RequestStatusRejected, later.Status)
	})

	s.Equal(1.0, testutil.ToFloat64(s.metrics.SubjectsDeleted.WithLabelValues("erasure")))
}

func (s *ServiceSuite) TestRestrictionAndObjectionRequests() {
	s.Run("restriction without categories restricts everything", func() {
		subject := s.createSubject("all@b.com")
		request := s.submit(subject.ID, models.RequestTypeRestriction)
		s.Equal(models.RequestStatusCompleted, request.Status)

		stored, err := s.service.GetDataSubject(s.ctx, subject.ID)
		s.Require().NoError(err)
		s.Equal([]string{models.RestrictAll}, stored.Restrictions)
		s.True(stored.IsRestricted("anything"))
	})

	s.Run("objection records the purpose", func() {
		subject := s.createSubject("obj@b.com")
		request, err := s.service.SubmitDataAccessRequest(s.ctx, models.SubmitAccessRequest{
			SubjectID: subject.ID,
			Type:      models.RequestTypeObjection,
			Purpose:   "profiling",
		})
		s.Require().NoError(err)
		s.Equal(models.RequestStatusCompleted, request.Status)

		stored, err := s.service.GetDataSubject(s.ctx, subject.ID)
		s.Require().NoError(err)
		s.True(stored.HasObjection("profiling"))

		updated := s.eventsForEntity(audit.EventDataSubjectUpdated, subject.ID.String())
		s.Require().Len(updated, 1)
		s.Equal("objection", updated[0].Reason)
	})

	s.Run("objection requires a purpose", func() {
		subject := s.createSubject("nopurpose@b.com")
		_, err := s.service.SubmitDataAccessRequest(s.ctx, models.SubmitAccessRequest{
			SubjectID: subject.ID,
			Type:      models.RequestTypeObjection,
		})
		s.requireCode(err, dErrors.CodeValidation)
	})

	s.Run("unknown request type is invalid", func() {
		subject := s.createSubject("weird@b.com")
		_, err := s.service.SubmitDataAccessRequest(s.ctx, models.SubmitAccessRequest{
			SubjectID: subject.ID,
			Type:      models.RequestType("deletion"),
		})
		s.requireCode(err, dErrors.CodeValidation)
	})
}

func (s *ServiceSuite) TestDeferredRequests() {
	subject := s.createSubject("deferred@b.com")
	request, err := s.service.SubmitDataAccessRequest(s.ctx, models.SubmitAccessRequest{
		SubjectID: subject.ID,
		Type:      models.RequestTypePortability,
		Defer:     true,
	})
	s.Require().NoError(err)
	s.Equal(models.RequestStatusPending, request.Status)
	s.Nil(request.CompletionTimestamp)

	health, err := s.service.HealthCheck(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, health.Metrics.PendingRequests)

	processed, err := s.service.ProcessDataAccessRequest(s.at(s.now.Add(48*time.Hour)), request.ID)
	s.Require().NoError(err)
	s.Equal(models.RequestStatusCompleted, processed.Status)
	days, ok := processed.CompletionDays()
	s.Require().True(ok)
	s.InDelta(2.0, days, 1e-9)

	_, err = s.service.ProcessDataAccessRequest(s.ctx, request.ID)
	s.requireCode(err, dErrors.CodeConflict)

	_, err = s.service.ProcessDataAccessRequest(s.ctx, id.AccessRequestID{5})
	s.requireCode(err, dErrors.CodeNotFound)

	s.Equal(1.0, testutil.ToFloat64(s.metrics.RequestsProcessed.WithLabelValues("portability", "completed")))
}

// A request that waits behind an in-flight erasure must observe the erasure:
// it finds no subject and is rejected instead of reading deleted data.
func (s *ServiceSuite) TestErasureWinsOverConcurrentRequest() {
	subject := s.createSubject("race@b.com")

	unlock, err := s.locker.Lock(s.ctx, subject.ID.String())
	s.Require().NoError(err)

	var (
		wg      sync.WaitGroup
		request *models.DataAccessRequest
		reqErr  error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		request, reqErr = s.service.SubmitDataAccessRequest(s.ctx, models.SubmitAccessRequest{
			SubjectID: subject.ID,
			Type:      models.RequestTypeAccess,
		})
	}()

	// the erasure holds the lock and deletes before the access request can read
	s.Require().NoError(s.service.deleteSubject(s.ctx, subject.ID, reasonErasureRequest))
	unlock()
	wg.Wait()

	s.Require().NoError(reqErr)
	s.Equal(models.RequestStatusRejected, request.Status)
	s.Equal("data subject not found", request.RejectionReason)
	s.Nil(request.Access)
}
