package consumer

import (
	"context"
	"io"
	"log/slog"
	"time"

	audit "privacy/pkg/platform/audit"
)

// Notice is one notification the engine decided must go out for a breach.
type Notice struct {
	BreachID    string
	Target      string
	OverallRisk string
	Severity    string
	DecidedAt   time.Time
}

// Notifier delivers breach notices to supervisory authorities or data
// subjects. Delivery confirmation flows back through the engine's
// ConfirmBreachNotification operation, not through this interface.
type Notifier interface {
	Notify(ctx context.Context, notice Notice) error
}

// SecurityHandler turns notification-required events into Notifier calls.
// Other security events (breach reported, notification confirmed) are only
// logged.
type SecurityHandler struct {
	notifier Notifier
	logger   *slog.Logger
}

func NewSecurityHandler(notifier Notifier, logger *slog.Logger) *SecurityHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SecurityHandler{notifier: notifier, logger: logger}
}

func (h *SecurityHandler) Handle(ctx context.Context, event audit.Event) error {
	switch audit.AuditEvent(event.Action) {
	case audit.EventBreachNotificationRequired, audit.EventDataSubjectNotificationRequired:
		return h.notifier.Notify(ctx, Notice{
			BreachID:    event.EntityID,
			Target:      event.Decision,
			OverallRisk: event.Attributes["overall_risk"],
			Severity:    event.Attributes["severity"],
			DecidedAt:   event.Timestamp,
		})
	default:
		h.logger.InfoContext(ctx, "security event",
			"action", event.Action,
			"entity_id", event.EntityID,
			"decision", event.Decision,
		)
		return nil
	}
}

// LogNotifier records notices in the log for an operator to act on. It is
// the default when no delivery channel is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, notice Notice) error {
	n.Logger.WarnContext(ctx, "breach notification required",
		"breach_id", notice.BreachID,
		"target", notice.Target,
		"overall_risk", notice.OverallRisk,
		"severity", notice.Severity,
	)
	return nil
}
