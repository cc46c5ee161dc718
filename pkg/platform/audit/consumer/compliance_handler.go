package consumer

import (
	"context"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	audit "privacy/pkg/platform/audit"
)

// ComplianceHandler counts consumed events per action and logs the ones a
// regulator would ask about first: deletions and retention enforcement.
type ComplianceHandler struct {
	consumed *prometheus.CounterVec
	logger   *slog.Logger
}

func NewComplianceHandler(reg prometheus.Registerer, logger *slog.Logger) *ComplianceHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ComplianceHandler{
		consumed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "privacy_audit_consumed_total",
			Help: "Audit events consumed from the in-process bus, by category and action",
		}, []string{"category", "action"}),
		logger: logger,
	}
}

func (h *ComplianceHandler) Handle(ctx context.Context, event audit.Event) error {
	h.consumed.WithLabelValues(string(event.Category), event.Action).Inc()

	switch audit.AuditEvent(event.Action) {
	case audit.EventDataSubjectDeleted:
		h.logger.InfoContext(ctx, "data subject deleted",
			"subject_id", event.SubjectID.String(),
			"reason", event.Reason,
			"actor_id", event.ActorID,
		)
	case audit.EventRetentionEnforced:
		h.logger.InfoContext(ctx, "retention enforced",
			"subject_id", event.SubjectID.String(),
			"policy_id", event.Attributes["policy_id"],
			"method", event.Attributes["method"],
		)
	}
	return nil
}
