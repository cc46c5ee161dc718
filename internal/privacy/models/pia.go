package models

import (
	"slices"
	"time"

	id "privacy/pkg/domain"
	dErrors "privacy/pkg/domain-errors"
)

type PIAStatus string

const (
	PIAStatusDraft    PIAStatus = "draft"
	PIAStatusReview   PIAStatus = "review"
	PIAStatusApproved PIAStatus = "approved"
	PIAStatusRejected PIAStatus = "rejected"
)

// CanTransitionTo allows draft -> review, review -> approved|rejected|draft.
func (s PIAStatus) CanTransitionTo(next PIAStatus) bool {
	switch s {
	case PIAStatusDraft:
		return next == PIAStatusReview
	case PIAStatusReview:
		return next == PIAStatusApproved || next == PIAStatusRejected || next == PIAStatusDraft
	default:
		return false
	}
}

func (s PIAStatus) IsTerminal() bool {
	return s == PIAStatusApproved || s == PIAStatusRejected
}

// PrivacyImpactAssessment is a pre-processing risk review.
type PrivacyImpactAssessment struct {
	ID                 id.AssessmentID `json:"id"`
	Title              string          `json:"title"`
	Description        string          `json:"description,omitempty"`
	ProcessingPurposes []string        `json:"processingPurposes,omitempty"`
	DataCategories     []string        `json:"dataCategories,omitempty"`
	Risks              []string        `json:"risks,omitempty"`
	Mitigations        []string        `json:"mitigations,omitempty"`
	Assessor           string          `json:"assessor,omitempty"`
	Status             PIAStatus       `json:"status"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
	DecidedAt          *time.Time      `json:"decidedAt,omitempty"`
}

// PIAChanges carries the fields of an update; nil means unchanged.
type PIAChanges struct {
	Title              *string
	Description        *string
	ProcessingPurposes []string
	DataCategories     []string
	Risks              []string
	Mitigations        []string
	Assessor           *string
	Status             *PIAStatus
}

func (c PIAChanges) editsContent() bool {
	return c.Title != nil || c.Description != nil || c.ProcessingPurposes != nil ||
		c.DataCategories != nil || c.Risks != nil || c.Mitigations != nil || c.Assessor != nil
}

// IsOverdueDraft reports a draft created more than maxAge before now.
func (p *PrivacyImpactAssessment) IsOverdueDraft(now time.Time, maxAge time.Duration) bool {
	return p.Status == PIAStatusDraft && now.Sub(p.CreatedAt) > maxAge
}

// CanApply validates content edits against the current status (edits only in
// draft or review) and the requested status transition.
func (p *PrivacyImpactAssessment) CanApply(c PIAChanges) error {
	if c.editsContent() && p.Status.IsTerminal() {
		return dErrors.New(dErrors.CodeInvariantViolation, "assessment is "+string(p.Status)+" and can no longer be edited")
	}
	if c.Title != nil && *c.Title == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "title cannot be empty")
	}
	if c.Status != nil && *c.Status != p.Status && !p.Status.CanTransitionTo(*c.Status) {
		return dErrors.New(dErrors.CodeInvariantViolation,
			"cannot move assessment from "+string(p.Status)+" to "+string(*c.Status))
	}
	return nil
}

// ApplyChanges mutates the assessment. Call CanApply first.
func (p *PrivacyImpactAssessment) ApplyChanges(c PIAChanges, now time.Time) {
	if c.Title != nil {
		p.Title = *c.Title
	}
	if c.Description != nil {
		p.Description = *c.Description
	}
	if c.ProcessingPurposes != nil {
		p.ProcessingPurposes = slices.Clone(c.ProcessingPurposes)
	}
	if c.DataCategories != nil {
		p.DataCategories = slices.Clone(c.DataCategories)
	}
	if c.Risks != nil {
		p.Risks = slices.Clone(c.Risks)
	}
	if c.Mitigations != nil {
		p.Mitigations = slices.Clone(c.Mitigations)
	}
	if c.Assessor != nil {
		p.Assessor = *c.Assessor
	}
	if c.Status != nil && *c.Status != p.Status {
		p.Status = *c.Status
		if p.Status.IsTerminal() {
			p.DecidedAt = &now
		}
	}
	p.UpdatedAt = now
}

func (p *PrivacyImpactAssessment) Clone() *PrivacyImpactAssessment {
	cp := *p
	cp.ProcessingPurposes = slices.Clone(p.ProcessingPurposes)
	cp.DataCategories = slices.Clone(p.DataCategories)
	cp.Risks = slices.Clone(p.Risks)
	cp.Mitigations = slices.Clone(p.Mitigations)
	if p.DecidedAt != nil {
		t := *p.DecidedAt
		cp.DecidedAt = &t
	}
	return &cp
}
