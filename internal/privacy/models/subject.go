package models

import (
	"maps"
	"slices"
	"strings"
	"time"

	id "privacy/pkg/domain"
	dErrors "privacy/pkg/domain-errors"
)

// SubjectStatus records what retention or anonymization has already done to a
// subject. It doubles as the idempotency marker for the retention sweep.
type SubjectStatus string

const (
	SubjectStatusActive        SubjectStatus = "active"
	SubjectStatusSoftDeleted   SubjectStatus = "soft_deleted"
	SubjectStatusAnonymized    SubjectStatus = "anonymized"
	SubjectStatusPseudonymized SubjectStatus = "pseudonymized"
)

// RestrictAll restricts processing for every data category.
const RestrictAll = "*"

// DataSubject is the natural person whose data is tracked.
//
// Invariants:
//   - ID is stable and unique
//   - Email is non-empty
//   - Restrictions is a sorted set; RestrictAll covers every category
//
// Consents and processing records belong to the subject and are removed with
// it, but live in their own stores keyed by SubjectID.
type DataSubject struct {
	ID           id.SubjectID         `json:"id"`
	Email        string               `json:"email"`
	Name         string               `json:"name,omitempty"`
	Phone        string               `json:"phone,omitempty"`
	DateOfBirth  *time.Time           `json:"dateOfBirth,omitempty"`
	Nationality  string               `json:"nationality,omitempty"`
	Status       SubjectStatus        `json:"status"`
	Restrictions []string             `json:"restrictions,omitempty"`
	Objections   map[string]time.Time `json:"objections,omitempty"`
	CreatedAt    time.Time            `json:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

// SubjectDetails is the optional identity data supplied at creation or update.
type SubjectDetails struct {
	Email       *string
	Name        *string
	Phone       *string
	DateOfBirth *time.Time
	Nationality *string
}

func NewDataSubject(subjectID id.SubjectID, email string, details SubjectDetails, now time.Time) (*DataSubject, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "email is required")
	}
	s := &DataSubject{
		ID:        subjectID,
		Email:     email,
		Status:    SubjectStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	details.Email = nil
	s.applyDetails(details)
	return s, nil
}

// CanUpdate rejects updates that would clear the email.
func (s *DataSubject) CanUpdate(details SubjectDetails) error {
	if details.Email != nil && strings.TrimSpace(*details.Email) == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "email is required")
	}
	return nil
}

// ApplyUpdate overwrites every field present in details.
// Call CanUpdate first.
//
// Writing identifying data back onto an anonymized or pseudonymized subject
// returns it to active, so the next retention pass can enforce again.
func (s *DataSubject) ApplyUpdate(details SubjectDetails, now time.Time) {
	if s.Status == SubjectStatusAnonymized || s.Status == SubjectStatusPseudonymized {
		if details.reidentifies() {
			s.Status = SubjectStatusActive
		}
	}
	s.applyDetails(details)
	s.UpdatedAt = now
}

// reidentifies reports whether details set any field that retention
// transforms clear or replace.
func (d SubjectDetails) reidentifies() bool {
	for _, v := range []*string{d.Email, d.Name, d.Phone} {
		if v != nil && strings.TrimSpace(*v) != "" {
			return true
		}
	}
	return false
}

func (s *DataSubject) applyDetails(d SubjectDetails) {
	if d.Email != nil {
		s.Email = strings.TrimSpace(*d.Email)
	}
	if d.Name != nil {
		s.Name = *d.Name
	}
	if d.Phone != nil {
		s.Phone = *d.Phone
	}
	if d.DateOfBirth != nil {
		dob := *d.DateOfBirth
		s.DateOfBirth = &dob
	}
	if d.Nationality != nil {
		s.Nationality = *d.Nationality
	}
}

// IsRestricted reports whether processing of category is restricted.
func (s *DataSubject) IsRestricted(category string) bool {
	for _, r := range s.Restrictions {
		if r == RestrictAll || r == category {
			return true
		}
	}
	return false
}

// ApplyRestriction adds categories to the restriction set. An empty list
// restricts everything.
func (s *DataSubject) ApplyRestriction(categories []string, now time.Time) {
	if len(categories) == 0 {
		categories = []string{RestrictAll}
	}
	set := slices.Clone(s.Restrictions)
	for _, c := range categories {
		c = strings.TrimSpace(c)
		if c != "" && !slices.Contains(set, c) {
			set = append(set, c)
		}
	}
	slices.Sort(set)
	s.Restrictions = set
	s.UpdatedAt = now
}

// HasObjection reports whether the subject objected to processing for purpose.
func (s *DataSubject) HasObjection(purpose string) bool {
	_, ok := s.Objections[purpose]
	return ok
}

// ApplyObjection records an objection. The first objection time is kept.
func (s *DataSubject) ApplyObjection(purpose string, now time.Time) {
	if s.HasObjection(purpose) {
		return
	}
	if s.Objections == nil {
		s.Objections = make(map[string]time.Time)
	}
	s.Objections[purpose] = now
	s.UpdatedAt = now
}

// ApplyStatus marks the subject with the outcome of a retention or
// anonymization step.
func (s *DataSubject) ApplyStatus(status SubjectStatus, now time.Time) {
	s.Status = status
	s.UpdatedAt = now
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (s *DataSubject) Clone() *DataSubject {
	c := *s
	if s.DateOfBirth != nil {
		dob := *s.DateOfBirth
		c.DateOfBirth = &dob
	}
	c.Restrictions = slices.Clone(s.Restrictions)
	c.Objections = maps.Clone(s.Objections)
	return &c
}
