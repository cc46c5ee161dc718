package models

import "time"

// Technique is an anonymization technique.
type Technique string

const (
	TechniqueGeneralization      Technique = "generalization"
	TechniqueSuppression         Technique = "suppression"
	TechniqueMasking             Technique = "masking"
	TechniqueNoiseAddition       Technique = "noise_addition"
	TechniqueDifferentialPrivacy Technique = "differential_privacy"
)

// BreachSummary aggregates breaches in a reporting window.
type BreachSummary struct {
	Total                        int               `json:"total"`
	SupervisoryAuthorityNotified int               `json:"supervisoryAuthorityNotified"`
	DataSubjectsNotified         int               `json:"dataSubjectsNotified"`
	NotificationRequired         int               `json:"notificationRequired"`
	BySeverity                   map[Severity]int  `json:"bySeverity"`
	ByRisk                       map[RiskLevel]int `json:"byRisk"`
}

// PrivacyReport is a read-only aggregation over [PeriodStart, PeriodEnd].
type PrivacyReport struct {
	PeriodStart           time.Time             `json:"periodStart"`
	PeriodEnd             time.Time             `json:"periodEnd"`
	GeneratedAt           time.Time             `json:"generatedAt"`
	SubjectsCreated       int                   `json:"dataSubjectsCreated"`
	ConsentsGiven         int                   `json:"consentsGiven"`
	ConsentsWithdrawn     int                   `json:"consentsWithdrawn"`
	ProcessingRecords     int                   `json:"processingRecords"`
	RequestsByType        map[RequestType]int   `json:"requestsByType"`
	RequestsByStatus      map[RequestStatus]int `json:"requestsByStatus"`
	AverageCompletionDays float64               `json:"averageCompletionDays"`
	Breaches              BreachSummary         `json:"breaches"`
}

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

type HealthMetrics struct {
	Subjects        int `json:"dataSubjects"`
	PendingRequests int `json:"pendingRequests"`
	OverduePIAs     int `json:"overduePIAs"`
	Policies        int `json:"retentionPolicies"`
	RecentBreaches  int `json:"breachesLast30Days"`
}

type HealthReport struct {
	Status    HealthStatus  `json:"status"`
	Reasons   []string      `json:"reasons,omitempty"`
	Metrics   HealthMetrics `json:"metrics"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// SweepResult summarises one retention pass.
type SweepResult struct {
	Scanned  int `json:"scanned"`
	Enforced int `json:"enforced"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}
