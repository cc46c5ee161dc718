package audit

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	id "privacy/pkg/domain"
)

// wireEvent is the JSON shape shared by the outbox, Kafka and the in-process
// bus. Field names are stable; consumers decode them.
type wireEvent struct {
	ID         string            `json:"id"`
	Category   string            `json:"category"`
	Timestamp  string            `json:"timestamp"`
	SubjectID  string            `json:"subjectId,omitempty"`
	EntityID   string            `json:"entityId,omitempty"`
	Action     string            `json:"action"`
	Purpose    string            `json:"purpose,omitempty"`
	Decision   string            `json:"decision,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	RequestID  string            `json:"requestId,omitempty"`
	ActorID    string            `json:"actorId,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Marshal encodes an event in the wire format.
func Marshal(e Event) ([]byte, error) {
	w := wireEvent{
		ID:         e.ID.String(),
		Category:   string(e.Category),
		Timestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
		EntityID:   e.EntityID,
		Action:     e.Action,
		Purpose:    e.Purpose,
		Decision:   e.Decision,
		Reason:     e.Reason,
		RequestID:  e.RequestID,
		ActorID:    e.ActorID,
		Attributes: e.Attributes,
	}
	if !e.SubjectID.IsNil() {
		w.SubjectID = e.SubjectID.String()
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal audit event: %w", err)
	}
	return b, nil
}

// Unmarshal decodes an event from the wire format.
func Unmarshal(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("unmarshal audit event: %w", err)
	}

	e := Event{
		Category:   EventCategory(w.Category),
		EntityID:   w.EntityID,
		Action:     w.Action,
		Purpose:    w.Purpose,
		Decision:   w.Decision,
		Reason:     w.Reason,
		RequestID:  w.RequestID,
		ActorID:    w.ActorID,
		Attributes: w.Attributes,
	}
	var err error
	if e.ID, err = uuid.Parse(w.ID); err != nil {
		return Event{}, fmt.Errorf("parse audit event id: %w", err)
	}
	if e.Timestamp, err = time.Parse(time.RFC3339Nano, w.Timestamp); err != nil {
		return Event{}, fmt.Errorf("parse audit event timestamp: %w", err)
	}
	if w.SubjectID != "" {
		if e.SubjectID, err = id.ParseSubjectID(w.SubjectID); err != nil {
			return Event{}, err
		}
	}
	return e, nil
}
