package models

import (
	"time"

	id "privacy/pkg/domain"
)

// Input types validated with the shared validator before reaching the domain.

type CreateSubjectRequest struct {
	Email       string     `json:"email" validate:"required,email"`
	Name        string     `json:"name"`
	Phone       string     `json:"phone"`
	DateOfBirth *time.Time `json:"dateOfBirth"`
	Nationality string     `json:"nationality"`
}

type UpdateSubjectRequest struct {
	Email       *string    `json:"email" validate:"omitempty,email"`
	Name        *string    `json:"name"`
	Phone       *string    `json:"phone"`
	DateOfBirth *time.Time `json:"dateOfBirth"`
	Nationality *string    `json:"nationality"`
}

func (r UpdateSubjectRequest) Details() SubjectDetails {
	return SubjectDetails{
		Email:       r.Email,
		Name:        r.Name,
		Phone:       r.Phone,
		DateOfBirth: r.DateOfBirth,
		Nationality: r.Nationality,
	}
}

type RecordConsentRequest struct {
	SubjectID  id.SubjectID `json:"dataSubjectId" validate:"required"`
	Purpose    string       `json:"purpose" validate:"required"`
	LegalBasis string       `json:"legalBasis" validate:"omitempty,oneof=consent contract legal_obligation vital_interests public_task legitimate_interests"`
	// ConsentGiven is false for an explicit refusal.
	ConsentGiven    bool            `json:"consentGiven"`
	Source          string          `json:"source"`
	GranularConsent map[string]bool `json:"granularConsent"`
	// ConsentTimestamp defaults to the request time.
	ConsentTimestamp time.Time `json:"consentTimestamp"`
}

type RecordProcessingRequest struct {
	SubjectID               id.SubjectID `json:"dataSubjectId" validate:"required"`
	DataCategory            string       `json:"dataCategory" validate:"required"`
	Purpose                 string       `json:"purpose" validate:"required"`
	LegalBasis              string       `json:"legalBasis" validate:"required,oneof=consent contract legal_obligation vital_interests public_task legitimate_interests"`
	ProcessingType          string       `json:"processingType" validate:"required"`
	Location                string       `json:"location"`
	RetentionPeriodDays     int          `json:"retentionPeriod" validate:"min=0"`
	ThirdPartySharing       []string     `json:"thirdPartySharing"`
	AutomatedDecisionMaking bool         `json:"automatedDecisionMaking"`
	Profiling               bool         `json:"profiling"`
	// Timestamp defaults to the request time. Imports of historical
	// processing set it explicitly.
	Timestamp time.Time `json:"timestamp"`
}

type SubmitAccessRequest struct {
	SubjectID          id.SubjectID `json:"dataSubjectId" validate:"required"`
	Type               RequestType  `json:"requestType" validate:"required,oneof=access portability rectification erasure restriction objection"`
	VerificationMethod string       `json:"verificationMethod"`
	Categories         []string     `json:"categories"`
	Purpose            string       `json:"purpose" validate:"required_if=Type objection"`
	// Defer leaves a non-access request pending for a later
	// ProcessDataAccessRequest call. Access requests are always processed
	// on submission.
	Defer bool `json:"defer"`
}

type ReportBreachRequest struct {
	Description         string     `json:"description" validate:"required"`
	BreachType          string     `json:"breachType" validate:"omitempty,oneof=confidentiality integrity availability"`
	Severity            Severity   `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	DetectedAt          time.Time  `json:"detectedAt"`
	AffectedSubjects    int        `json:"affectedDataSubjects" validate:"min=0"`
	AffectedCategories  []string   `json:"affectedDataCategories"`
	ContainmentMeasures []string   `json:"containmentMeasures"`
	Likelihood          Likelihood `json:"likelihood" validate:"required,oneof=low medium high"`
	Impact              Impact     `json:"impact" validate:"required,oneof=low medium high critical"`
}

type CreatePIARequest struct {
	Title              string   `json:"title" validate:"required"`
	Description        string   `json:"description"`
	ProcessingPurposes []string `json:"processingPurposes"`
	DataCategories     []string `json:"dataCategories"`
	Risks              []string `json:"risks"`
	Mitigations        []string `json:"mitigations"`
	Assessor           string   `json:"assessor"`
}

type UpdatePIARequest struct {
	Title              *string    `json:"title" validate:"omitempty,min=1"`
	Description        *string    `json:"description"`
	ProcessingPurposes []string   `json:"processingPurposes"`
	DataCategories     []string   `json:"dataCategories"`
	Risks              []string   `json:"risks"`
	Mitigations        []string   `json:"mitigations"`
	Assessor           *string    `json:"assessor"`
	Status             *PIAStatus `json:"status" validate:"omitempty,oneof=draft review approved rejected"`
}

func (r UpdatePIARequest) Changes() PIAChanges {
	return PIAChanges{
		Title:              r.Title,
		Description:        r.Description,
		ProcessingPurposes: r.ProcessingPurposes,
		DataCategories:     r.DataCategories,
		Risks:              r.Risks,
		Mitigations:        r.Mitigations,
		Assessor:           r.Assessor,
		Status:             r.Status,
	}
}

type RetentionPolicyRequest struct {
	DataCategory        string         `json:"dataCategory" validate:"required"`
	Purpose             string         `json:"purpose" validate:"required"`
	RetentionPeriodDays int            `json:"retentionPeriod" validate:"gt=0"`
	DeletionMethod      DeletionMethod `json:"deletionMethod" validate:"required,oneof=hard_delete soft_delete anonymization pseudonymization"`
	Exceptions          []string       `json:"exceptions"`
	LegalRequirements   []string       `json:"legalRequirements"`
	ReviewFrequencyDays int            `json:"reviewFrequency" validate:"min=0"`
}

type AnonymizeRequest struct {
	SubjectID id.SubjectID `json:"dataSubjectId" validate:"required"`
	Technique Technique    `json:"technique" validate:"required,oneof=generalization suppression masking noise_addition differential_privacy"`
	// Epsilon and Sensitivity parameterise differential_privacy; zero means
	// the configured default.
	Epsilon     float64 `json:"epsilon" validate:"gte=0"`
	Sensitivity float64 `json:"sensitivity" validate:"gte=0"`
}
