// Package bus forwards audit events onto a Watermill publisher so in-process
// subscribers (breach notifier, dashboards) can react without a broker.
package bus

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	audit "privacy/pkg/platform/audit"
)

const topicPrefix = "privacy.audit."

// Topic returns the bus topic for an event category.
func Topic(category audit.EventCategory) string {
	return topicPrefix + string(category)
}

// Sink implements audit.Store on top of a Watermill publisher.
type Sink struct {
	publisher message.Publisher
}

func New(publisher message.Publisher) *Sink {
	return &Sink{publisher: publisher}
}

func (s *Sink) Append(ctx context.Context, event audit.Event) error {
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	data, err := audit.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage(event.ID.String(), data)
	msg.Metadata.Set("action", event.Action)
	msg.Metadata.Set("category", string(event.Category))
	msg.SetContext(ctx)

	if err := s.publisher.Publish(Topic(event.Category), msg); err != nil {
		return fmt.Errorf("publish audit event %s: %w", event.ID, err)
	}
	return nil
}

// Decode turns a bus message back into an audit event.
func Decode(msg *message.Message) (audit.Event, error) {
	return audit.Unmarshal(msg.Payload)
}
