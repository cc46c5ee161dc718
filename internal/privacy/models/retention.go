package models

import (
	"slices"
	"time"

	id "privacy/pkg/domain"
)

type DeletionMethod string

const (
	DeletionHardDelete       DeletionMethod = "hard_delete"
	DeletionSoftDelete       DeletionMethod = "soft_delete"
	DeletionAnonymization    DeletionMethod = "anonymization"
	DeletionPseudonymization DeletionMethod = "pseudonymization"
)

// ResultingStatus is the subject status a method leaves behind. Hard delete
// leaves no subject at all.
func (m DeletionMethod) ResultingStatus() (SubjectStatus, bool) {
	switch m {
	case DeletionSoftDelete:
		return SubjectStatusSoftDeleted, true
	case DeletionAnonymization:
		return SubjectStatusAnonymized, true
	case DeletionPseudonymization:
		return SubjectStatusPseudonymized, true
	default:
		return "", false
	}
}

// statusRank orders subject statuses by how much identifying data is gone.
var statusRank = map[SubjectStatus]int{
	SubjectStatusActive:        0,
	SubjectStatusSoftDeleted:   1,
	SubjectStatusPseudonymized: 2,
	SubjectStatusAnonymized:    3,
}

// AlreadyEnforced reports whether a subject in status has had m, or a
// stronger method, applied. Enforcement only ever moves a subject forward, so
// re-running a sweep is a no-op and overlapping policies cannot flip-flop.
func (m DeletionMethod) AlreadyEnforced(status SubjectStatus) bool {
	target, ok := m.ResultingStatus()
	if !ok {
		return false
	}
	return statusRank[status] >= statusRank[target]
}

// PolicyKey identifies the processing a policy governs. At most one policy
// exists per key.
type PolicyKey struct {
	DataCategory string
	Purpose      string
}

type RetentionPolicy struct {
	ID                  id.PolicyID    `json:"id"`
	DataCategory        string         `json:"dataCategory"`
	Purpose             string         `json:"purpose"`
	RetentionPeriodDays int            `json:"retentionPeriod"`
	DeletionMethod      DeletionMethod `json:"deletionMethod"`
	Exceptions          []string       `json:"exceptions,omitempty"`
	LegalRequirements   []string       `json:"legalRequirements,omitempty"`
	ReviewFrequencyDays int            `json:"reviewFrequency,omitempty"`
	CreatedAt           time.Time      `json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
}

func (p *RetentionPolicy) Key() PolicyKey {
	return PolicyKey{DataCategory: p.DataCategory, Purpose: p.Purpose}
}

// RetentionEnd is the instant after which data processed at processedAt
// must be enforced.
func (p *RetentionPolicy) RetentionEnd(processedAt time.Time) time.Time {
	return processedAt.AddDate(0, 0, p.RetentionPeriodDays)
}

// IsExpired reports now > processedAt + retention period.
func (p *RetentionPolicy) IsExpired(processedAt, now time.Time) bool {
	return now.After(p.RetentionEnd(processedAt))
}

func (p *RetentionPolicy) Clone() *RetentionPolicy {
	cp := *p
	cp.Exceptions = slices.Clone(p.Exceptions)
	cp.LegalRequirements = slices.Clone(p.LegalRequirements)
	return &cp
}
