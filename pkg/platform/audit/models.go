package audit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	id "privacy/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// Sinks use it for routing and retention.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance:
	// subject lifecycle, consent changes, rights requests, retention enforcement.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers breach reporting and notification decisions.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine configuration changes (policies, PIAs).
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        uuid.UUID
	Category  EventCategory
	Timestamp time.Time
	SubjectID id.SubjectID
	// EntityID is the id of the entity the action was applied to (consent,
	// request, breach, policy, PIA). For subject events it equals SubjectID.
	EntityID string
	Action   string
	Purpose  string
	Decision string
	Reason   string
	// RequestID is the correlation ID taken from the caller's context.
	RequestID string
	// ActorID tracks who performed the action. Empty for background jobs.
	ActorID string
	// Attributes carries event-specific payload fields (policy id, method,
	// technique, risk level) that do not warrant a dedicated column.
	Attributes map[string]string
}

// DedupeKey is the key consumers use for idempotent handling: the entity id
// plus the monotonic emission timestamp.
func (e Event) DedupeKey() string {
	return e.EntityID + "@" + strconv.FormatInt(e.Timestamp.UnixNano(), 10)
}

// Store persists or forwards audit events. Every sink implements it.
type Store interface {
	Append(ctx context.Context, event Event) error
}

type AuditEvent string

const (
	// Subject events
	EventDataSubjectCreated AuditEvent = "data-subject-created"
	EventDataSubjectUpdated AuditEvent = "data-subject-updated"
	EventDataSubjectDeleted AuditEvent = "data-subject-deleted"

	// Consent events
	EventConsentRecorded  AuditEvent = "consent-recorded"
	EventConsentWithdrawn AuditEvent = "consent-withdrawn"

	// Processing events
	EventDataProcessingRecorded AuditEvent = "data-processing-recorded"

	// Rights request events
	EventAccessRequestSubmitted AuditEvent = "data-access-request-submitted"
	EventAccessRequestProcessed AuditEvent = "data-access-request-processed"

	// Breach events
	EventDataBreachReported              AuditEvent = "data-breach-reported"
	EventBreachNotificationRequired      AuditEvent = "breach-notification-required"
	EventDataSubjectNotificationRequired AuditEvent = "data-subject-notification-required"
	EventBreachNotificationConfirmed     AuditEvent = "breach-notification-confirmed"

	// Assessment events
	EventPIACreated AuditEvent = "pia-created"
	EventPIAUpdated AuditEvent = "pia-updated"

	// Retention events
	EventRetentionPolicyCreated AuditEvent = "retention-policy-created"
	EventRetentionPolicyUpdated AuditEvent = "retention-policy-updated"
	EventRetentionEnforced      AuditEvent = "retention-enforced"

	// Anonymization events
	EventDataAnonymized AuditEvent = "data-anonymized"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventDataSubjectCreated:     CategoryCompliance,
	EventDataSubjectUpdated:     CategoryCompliance,
	EventDataSubjectDeleted:     CategoryCompliance,
	EventConsentRecorded:        CategoryCompliance,
	EventConsentWithdrawn:       CategoryCompliance,
	EventDataProcessingRecorded: CategoryCompliance,
	EventAccessRequestSubmitted: CategoryCompliance,
	EventAccessRequestProcessed: CategoryCompliance,
	EventRetentionEnforced:      CategoryCompliance,
	EventDataAnonymized:         CategoryCompliance,

	EventDataBreachReported:              CategorySecurity,
	EventBreachNotificationRequired:      CategorySecurity,
	EventDataSubjectNotificationRequired: CategorySecurity,
	EventBreachNotificationConfirmed:     CategorySecurity,

	EventPIACreated:             CategoryOperations,
	EventPIAUpdated:             CategoryOperations,
	EventRetentionPolicyCreated: CategoryOperations,
	EventRetentionPolicyUpdated: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
