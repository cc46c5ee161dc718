package models

import (
	"slices"
	"time"

	id "privacy/pkg/domain"
	dErrors "privacy/pkg/domain-errors"
)

// RequestType is one of the six data subject rights.
type RequestType string

const (
	RequestTypeAccess        RequestType = "access"
	RequestTypePortability   RequestType = "portability"
	RequestTypeRectification RequestType = "rectification"
	RequestTypeErasure       RequestType = "erasure"
	RequestTypeRestriction   RequestType = "restriction"
	RequestTypeObjection     RequestType = "objection"
)

// RequestTypes lists every type in a stable order for reporting.
var RequestTypes = []RequestType{
	RequestTypeAccess,
	RequestTypePortability,
	RequestTypeRectification,
	RequestTypeErasure,
	RequestTypeRestriction,
	RequestTypeObjection,
}

func (t RequestType) IsValid() bool {
	return slices.Contains(RequestTypes, t)
}

// RequestStatus follows pending -> processing -> {completed, rejected,
// partially_completed}. The three right-hand states are terminal.
type RequestStatus string

const (
	RequestStatusPending            RequestStatus = "pending"
	RequestStatusProcessing         RequestStatus = "processing"
	RequestStatusCompleted          RequestStatus = "completed"
	RequestStatusRejected           RequestStatus = "rejected"
	RequestStatusPartiallyCompleted RequestStatus = "partially_completed"
)

func (s RequestStatus) IsTerminal() bool {
	switch s {
	case RequestStatusCompleted, RequestStatusRejected, RequestStatusPartiallyCompleted:
		return true
	default:
		return false
	}
}

// CanTransitionTo encodes the request state machine.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	switch s {
	case RequestStatusPending:
		return next == RequestStatusProcessing
	case RequestStatusProcessing:
		return next.IsTerminal()
	default:
		return false
	}
}

// DataAccessRequest is a rights request and, once fulfilled, its outcome.
// Requests outlive the subject they refer to.
type DataAccessRequest struct {
	ID                  id.AccessRequestID `json:"id"`
	SubjectID           id.SubjectID       `json:"dataSubjectId"`
	Type                RequestType        `json:"requestType"`
	Status              RequestStatus      `json:"status"`
	RequestTimestamp    time.Time          `json:"requestTimestamp"`
	CompletionTimestamp *time.Time         `json:"completionTimestamp,omitempty"`
	VerificationMethod  string             `json:"verificationMethod,omitempty"`
	// Categories scopes a restriction request; empty restricts everything.
	Categories []string `json:"categories,omitempty"`
	// Purpose names the processing purpose an objection applies to.
	Purpose         string             `json:"purpose,omitempty"`
	Access          *AccessPayload     `json:"accessPayload,omitempty"`
	Export          *PortabilityExport `json:"portabilityExport,omitempty"`
	RejectionReason string             `json:"rejectionReason,omitempty"`
}

// RequestSummary is the request-history entry embedded in access payloads.
type RequestSummary struct {
	ID                  id.AccessRequestID `json:"id"`
	Type                RequestType        `json:"requestType"`
	Status              RequestStatus      `json:"status"`
	RequestTimestamp    time.Time          `json:"requestTimestamp"`
	CompletionTimestamp *time.Time         `json:"completionTimestamp,omitempty"`
}

func (r *DataAccessRequest) Summary() RequestSummary {
	return RequestSummary{
		ID:                  r.ID,
		Type:                r.Type,
		Status:              r.Status,
		RequestTimestamp:    r.RequestTimestamp,
		CompletionTimestamp: r.CompletionTimestamp,
	}
}

// AccessPayload is everything held about a subject.
type AccessPayload struct {
	Subject           *DataSubject            `json:"subject"`
	Consents          []*ConsentRecord        `json:"consents"`
	ProcessingRecords []*DataProcessingRecord `json:"processingRecords"`
	Requests          []RequestSummary        `json:"requests"`
}

// PortabilityExport is the versioned machine-readable export.
type PortabilityExport struct {
	Version    id.ExportVersion `json:"version"`
	ExportedAt time.Time        `json:"exportedAt"`
	Subject    *DataSubject     `json:"subject"`
	Consents   []*ConsentRecord `json:"consents"`
}

func NewDataAccessRequest(requestID id.AccessRequestID, subjectID id.SubjectID, requestType RequestType, now time.Time) (*DataAccessRequest, error) {
	if !requestType.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unsupported request type "+string(requestType))
	}
	return &DataAccessRequest{
		ID:               requestID,
		SubjectID:        subjectID,
		Type:             requestType,
		Status:           RequestStatusPending,
		RequestTimestamp: now,
	}, nil
}

// CanStartProcessing checks the pending -> processing transition.
func (r *DataAccessRequest) CanStartProcessing() error {
	if !r.Status.CanTransitionTo(RequestStatusProcessing) {
		return dErrors.New(dErrors.CodeInvariantViolation, "request is "+string(r.Status)+", not pending")
	}
	return nil
}

func (r *DataAccessRequest) ApplyStartProcessing() {
	r.Status = RequestStatusProcessing
}

func (r *DataAccessRequest) finish(status RequestStatus, now time.Time) error {
	if !r.Status.CanTransitionTo(status) {
		return dErrors.New(dErrors.CodeInvariantViolation,
			"cannot move request from "+string(r.Status)+" to "+string(status))
	}
	r.Status = status
	r.CompletionTimestamp = &now
	return nil
}

func (r *DataAccessRequest) Complete(now time.Time) error {
	return r.finish(RequestStatusCompleted, now)
}

func (r *DataAccessRequest) PartiallyComplete(reason string, now time.Time) error {
	if err := r.finish(RequestStatusPartiallyCompleted, now); err != nil {
		return err
	}
	r.RejectionReason = reason
	return nil
}

func (r *DataAccessRequest) Reject(reason string, now time.Time) error {
	if err := r.finish(RequestStatusRejected, now); err != nil {
		return err
	}
	r.RejectionReason = reason
	return nil
}

// CompletionDays is the fractional number of days between submission and
// completion, or false when the request has not finished.
func (r *DataAccessRequest) CompletionDays() (float64, bool) {
	if r.CompletionTimestamp == nil {
		return 0, false
	}
	return r.CompletionTimestamp.Sub(r.RequestTimestamp).Hours() / 24, true
}

func (r *DataAccessRequest) Clone() *DataAccessRequest {
	cp := *r
	if r.CompletionTimestamp != nil {
		t := *r.CompletionTimestamp
		cp.CompletionTimestamp = &t
	}
	cp.Categories = slices.Clone(r.Categories)
	return &cp
}
