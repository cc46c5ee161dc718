package models

import (
	"maps"
	"time"

	id "privacy/pkg/domain"
)

// ConsentRecord is one consent decision. Every field except WithdrawnAt is
// immutable; a fresh decision for the same purpose is a new record.
type ConsentRecord struct {
	ID               id.ConsentID    `json:"id"`
	SubjectID        id.SubjectID    `json:"dataSubjectId"`
	Purpose          string          `json:"purpose"`
	LegalBasis       id.LegalBasis   `json:"legalBasis"`
	ConsentGiven     bool            `json:"consentGiven"`
	ConsentTimestamp time.Time       `json:"consentTimestamp"`
	Source           string          `json:"source,omitempty"`
	GranularConsent  map[string]bool `json:"granularConsent,omitempty"`
	WithdrawnAt      *time.Time      `json:"withdrawnAt,omitempty"`
}

// IsActive returns true when consent was given and never withdrawn.
func (c *ConsentRecord) IsActive() bool {
	return c.ConsentGiven && c.WithdrawnAt == nil
}

func (c *ConsentRecord) IsWithdrawn() bool {
	return c.WithdrawnAt != nil
}

// ApplyWithdrawal withdraws the consent. It reports false and leaves the
// record untouched when it was already withdrawn.
func (c *ConsentRecord) ApplyWithdrawal(now time.Time) bool {
	if c.IsWithdrawn() {
		return false
	}
	c.ConsentGiven = false
	c.WithdrawnAt = &now
	return true
}

func (c *ConsentRecord) Clone() *ConsentRecord {
	cp := *c
	if c.WithdrawnAt != nil {
		w := *c.WithdrawnAt
		cp.WithdrawnAt = &w
	}
	cp.GranularConsent = maps.Clone(c.GranularConsent)
	return &cp
}

// LatestConsent picks the record for purpose with the most recent
// ConsentTimestamp. records must be in insertion order; on equal timestamps
// the later-inserted record wins.
func LatestConsent(records []*ConsentRecord, purpose string) *ConsentRecord {
	var latest *ConsentRecord
	for _, r := range records {
		if r.Purpose != purpose {
			continue
		}
		if latest == nil || !r.ConsentTimestamp.Before(latest.ConsentTimestamp) {
			latest = r
		}
	}
	return latest
}
