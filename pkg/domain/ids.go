package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "privacy/pkg/domain-errors"
)

// Typed identifiers keep subject, consent, request and policy IDs from being
// swapped at compile time. All are UUIDs underneath.
type (
	SubjectID          uuid.UUID
	ConsentID          uuid.UUID
	ProcessingRecordID uuid.UUID
	AccessRequestID    uuid.UUID
	BreachID           uuid.UUID
	PolicyID           uuid.UUID
	AssessmentID       uuid.UUID
)

// maxIDLength bounds input before it reaches uuid.Parse.
const maxIDLength = 64

func parseUUID(kind, s string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if len(s) > maxIDLength {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be nil")
	}
	return u, nil
}

func ParseSubjectID(s string) (SubjectID, error) {
	u, err := parseUUID("data subject id", s)
	return SubjectID(u), err
}

func ParseConsentID(s string) (ConsentID, error) {
	u, err := parseUUID("consent id", s)
	return ConsentID(u), err
}

func ParseProcessingRecordID(s string) (ProcessingRecordID, error) {
	u, err := parseUUID("processing record id", s)
	return ProcessingRecordID(u), err
}

func ParseAccessRequestID(s string) (AccessRequestID, error) {
	u, err := parseUUID("access request id", s)
	return AccessRequestID(u), err
}

func ParseBreachID(s string) (BreachID, error) {
	u, err := parseUUID("breach id", s)
	return BreachID(u), err
}

func ParsePolicyID(s string) (PolicyID, error) {
	u, err := parseUUID("retention policy id", s)
	return PolicyID(u), err
}

func ParseAssessmentID(s string) (AssessmentID, error) {
	u, err := parseUUID("assessment id", s)
	return AssessmentID(u), err
}

func (id SubjectID) String() string { return uuid.UUID(id).String() }
func (id SubjectID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id SubjectID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *SubjectID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id ConsentID) String() string { return uuid.UUID(id).String() }
func (id ConsentID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ConsentID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *ConsentID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id ProcessingRecordID) String() string { return uuid.UUID(id).String() }
func (id ProcessingRecordID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ProcessingRecordID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *ProcessingRecordID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id AccessRequestID) String() string { return uuid.UUID(id).String() }
func (id AccessRequestID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id AccessRequestID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *AccessRequestID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id BreachID) String() string { return uuid.UUID(id).String() }
func (id BreachID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id BreachID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *BreachID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id PolicyID) String() string { return uuid.UUID(id).String() }
func (id PolicyID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id PolicyID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *PolicyID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id AssessmentID) String() string { return uuid.UUID(id).String() }
func (id AssessmentID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id AssessmentID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *AssessmentID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}
