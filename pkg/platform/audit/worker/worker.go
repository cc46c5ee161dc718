package worker

import (
	"context"
	"io"
	"log/slog"
	"time"

	audit "privacy/pkg/platform/audit"
	"privacy/pkg/platform/audit/store/postgres"
)

// Outbox is the durable side of the relay.
type Outbox interface {
	FetchUnpublished(ctx context.Context, limit int) ([]postgres.Entry, error)
	MarkPublished(ctx context.Context, seqs []int64) error
}

// Relay forwards outbox entries to a downstream sink (Kafka, bus) and marks
// them published. Entries are forwarded in order; the first failure ends the
// batch so later entries are never published ahead of earlier ones.
type Relay struct {
	outbox    Outbox
	sink      audit.Store
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

type Option func(*Relay)

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func NewRelay(outbox Outbox, sink audit.Store, opts ...Option) *Relay {
	r := &Relay{
		outbox:    outbox,
		sink:      sink,
		interval:  time.Second,
		batchSize: 100,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce forwards one batch and returns how many entries were published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	entries, err := r.outbox.FetchUnpublished(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	published := make([]int64, 0, len(entries))
	var sendErr error
	for _, entry := range entries {
		if sendErr = r.sink.Append(ctx, entry.Event); sendErr != nil {
			break
		}
		published = append(published, entry.Seq)
	}

	if err := r.outbox.MarkPublished(ctx, published); err != nil {
		return 0, err
	}
	return len(published), sendErr
}

// Serve polls the outbox until ctx is cancelled. It satisfies suture.Service.
func (r *Relay) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := r.RunOnce(ctx)
			if err != nil {
				r.logger.WarnContext(ctx, "outbox relay batch failed", "published", n, "error", err)
				continue
			}
			if n > 0 {
				r.logger.DebugContext(ctx, "outbox relay batch published", "published", n)
			}
		}
	}
}

func (r *Relay) String() string { return "audit-outbox-relay" }
