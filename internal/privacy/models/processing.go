package models

import (
	"slices"
	"time"

	id "privacy/pkg/domain"
	dErrors "privacy/pkg/domain-errors"
)

// Human-readable erasure gate reasons. Callers match on them.
const (
	ReasonLegalCompliance     = "Data required for legal compliance"
	ReasonContractPerformance = "Data required for contract performance"
)

// DataProcessingRecord is an immutable log entry for one processing action.
type DataProcessingRecord struct {
	ID                      id.ProcessingRecordID `json:"id"`
	SubjectID               id.SubjectID          `json:"dataSubjectId"`
	DataCategory            string                `json:"dataCategory"`
	Purpose                 string                `json:"purpose"`
	LegalBasis              id.LegalBasis         `json:"legalBasis"`
	ProcessingType          string                `json:"processingType"`
	Location                string                `json:"location,omitempty"`
	RetentionPeriodDays     int                   `json:"retentionPeriod,omitempty"`
	ThirdPartySharing       []string              `json:"thirdPartySharing,omitempty"`
	AutomatedDecisionMaking bool                  `json:"automatedDecisionMaking"`
	Profiling               bool                  `json:"profiling"`
	Timestamp               time.Time             `json:"timestamp"`
}

func (r *DataProcessingRecord) Clone() *DataProcessingRecord {
	cp := *r
	cp.ThirdPartySharing = slices.Clone(r.ThirdPartySharing)
	return &cp
}

// CheckErasureEligibility scans a subject's processing records for legal
// holds. A legal obligation outranks a contract; with neither, erasure is
// allowed. It has no side effects.
func CheckErasureEligibility(records []*DataProcessingRecord) error {
	contract := false
	for _, r := range records {
		switch r.LegalBasis {
		case id.LegalBasisLegalObligation:
			return dErrors.New(dErrors.CodeErasureBlocked, ReasonLegalCompliance)
		case id.LegalBasisContract:
			contract = true
		}
	}
	if contract {
		return dErrors.New(dErrors.CodeErasureBlocked, ReasonContractPerformance)
	}
	return nil
}

// CheckProcessingAllowed enforces restrictions and objections recorded on the
// subject. Objections only block processing based on legitimate interests.
func CheckProcessingAllowed(subject *DataSubject, category, purpose string, basis id.LegalBasis) error {
	if subject.IsRestricted(category) {
		return dErrors.New(dErrors.CodeProcessingBlocked, "processing restricted for category "+category)
	}
	if basis == id.LegalBasisLegitimateInterests && subject.HasObjection(purpose) {
		return dErrors.New(dErrors.CodeProcessingBlocked, "data subject objected to processing for purpose "+purpose)
	}
	return nil
}
