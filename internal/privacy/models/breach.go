package models

import (
	"slices"
	"time"

	id "privacy/pkg/domain"
)

type Likelihood string

const (
	LikelihoodLow    Likelihood = "low"
	LikelihoodMedium Likelihood = "medium"
	LikelihoodHigh   Likelihood = "high"
)

type Impact string

const (
	ImpactLow      Impact = "low"
	ImpactMedium   Impact = "medium"
	ImpactHigh     Impact = "high"
	ImpactCritical Impact = "critical"
)

// RiskLevel is the overall risk of a breach.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Severity is the reporter's own classification of a breach.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// NotificationTarget is who must be told about a breach.
type NotificationTarget string

const (
	NotifySupervisoryAuthority NotificationTarget = "supervisory_authority"
	NotifyDataSubjects         NotificationTarget = "data_subjects"
)

// RiskAssessment is the likelihood x impact evaluation embedded in a breach.
type RiskAssessment struct {
	Likelihood  Likelihood `json:"likelihood"`
	Impact      Impact     `json:"impact"`
	Score       int        `json:"score"`
	OverallRisk RiskLevel  `json:"overallRisk"`
}

// RequiresSupervisoryNotification is true for high and critical risk.
func (r RiskAssessment) RequiresSupervisoryNotification() bool {
	return r.OverallRisk == RiskHigh || r.OverallRisk == RiskCritical
}

// RequiresSubjectNotification is true for critical risk only.
func (r RiskAssessment) RequiresSubjectNotification() bool {
	return r.OverallRisk == RiskCritical
}

// DataBreach is an incident record. Only the notification flags change after
// it is reported, and only once each.
type DataBreach struct {
	ID                             id.BreachID    `json:"id"`
	Description                    string         `json:"description"`
	BreachType                     string         `json:"breachType,omitempty"`
	Severity                       Severity       `json:"severity"`
	DetectedAt                     time.Time      `json:"detectedAt"`
	ReportedAt                     time.Time      `json:"reportedAt"`
	AffectedSubjects               int            `json:"affectedDataSubjects"`
	AffectedCategories             []string       `json:"affectedDataCategories,omitempty"`
	ContainmentMeasures            []string       `json:"containmentMeasures,omitempty"`
	Risk                           RiskAssessment `json:"riskAssessment"`
	SupervisoryAuthorityNotified   bool           `json:"supervisoryAuthorityNotified"`
	SupervisoryAuthorityNotifiedAt *time.Time     `json:"supervisoryAuthorityNotifiedAt,omitempty"`
	DataSubjectsNotified           bool           `json:"dataSubjectsNotified"`
	DataSubjectsNotifiedAt         *time.Time     `json:"dataSubjectsNotifiedAt,omitempty"`
}

// ApplyNotificationConfirmed sets the flag for target. It reports false when
// the flag was already set.
func (b *DataBreach) ApplyNotificationConfirmed(target NotificationTarget, now time.Time) bool {
	switch target {
	case NotifySupervisoryAuthority:
		if b.SupervisoryAuthorityNotified {
			return false
		}
		b.SupervisoryAuthorityNotified = true
		b.SupervisoryAuthorityNotifiedAt = &now
	case NotifyDataSubjects:
		if b.DataSubjectsNotified {
			return false
		}
		b.DataSubjectsNotified = true
		b.DataSubjectsNotifiedAt = &now
	default:
		return false
	}
	return true
}

func (b *DataBreach) Clone() *DataBreach {
	cp := *b
	cp.AffectedCategories = slices.Clone(b.AffectedCategories)
	cp.ContainmentMeasures = slices.Clone(b.ContainmentMeasures)
	if b.SupervisoryAuthorityNotifiedAt != nil {
		t := *b.SupervisoryAuthorityNotifiedAt
		cp.SupervisoryAuthorityNotifiedAt = &t
	}
	if b.DataSubjectsNotifiedAt != nil {
		t := *b.DataSubjectsNotifiedAt
		cp.DataSubjectsNotifiedAt = &t
	}
	return &cp
}
