package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	"privacy/internal/platform/config"
	"privacy/internal/platform/postgres"
	"privacy/internal/platform/redis"
	"privacy/internal/privacy/anonymize"
	"privacy/internal/privacy/lock"
	privacymetrics "privacy/internal/privacy/metrics"
	"privacy/internal/privacy/service"
	"privacy/internal/privacy/store/memory"
	pgstore "privacy/internal/privacy/store/postgres"
	audit "privacy/pkg/platform/audit"
	"privacy/pkg/platform/audit/publisher"
	"privacy/pkg/platform/audit/sinks/bus"
	"privacy/pkg/platform/audit/sinks/kafka"
	auditmemory "privacy/pkg/platform/audit/store/memory"
	auditpg "privacy/pkg/platform/audit/store/postgres"
	"privacy/pkg/platform/audit/worker"
	txcontext "privacy/pkg/platform/tx"
)

// dependencies are the external connections; each is nil when its config
// section is empty.
type dependencies struct {
	db    *sql.DB
	redis *redis.Client
	kafka *kafka.Sink
}

func openDependencies(ctx context.Context, cfg *config.Config, log *slog.Logger) (*dependencies, error) {
	deps := &dependencies{}

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	deps.db = db

	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.redis = client

	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := kafka.New(ctx, kafka.Config{
			Brokers:           cfg.Kafka.Brokers,
			Topic:             cfg.Kafka.Topic,
			ClientID:          cfg.Kafka.ClientID,
			Partitions:        cfg.Kafka.Partitions,
			ReplicationFactor: cfg.Kafka.ReplicationFactor,
		}, kafka.WithLogger(log))
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("connect kafka: %w", err)
		}
		deps.kafka = sink
	}
	return deps, nil
}

func (d *dependencies) storeKind() string {
	if d.db != nil {
		return "postgres"
	}
	return "memory"
}

func (d *dependencies) Close() {
	if d.kafka != nil {
		d.kafka.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.db != nil {
		_ = d.db.Close()
	}
}

// buildAuditSink picks where emitted events go. With Postgres the outbox is
// the only synchronous sink; it joins the service's transaction so events
// commit with the writes that produced them, and a relay forwards committed
// entries to the bus and Kafka. Without it events go straight to memory, the
// bus and Kafka.
func buildAuditSink(ctx context.Context, cfg *config.Config, deps *dependencies, pub message.Publisher, log *slog.Logger) (audit.Store, *worker.Relay, error) {
	downstream := audit.Fanout{bus.New(pub)}
	if deps.kafka != nil {
		downstream = append(downstream, deps.kafka)
	}

	if deps.db == nil {
		return append(audit.Fanout{auditmemory.NewInMemoryStore()}, downstream...), nil, nil
	}

	outbox := auditpg.New(deps.db)
	if err := outbox.Migrate(ctx); err != nil {
		return nil, nil, err
	}
	relay := worker.NewRelay(outbox, downstream,
		worker.WithInterval(cfg.Audit.RelayInterval),
		worker.WithBatchSize(cfg.Audit.RelayBatchSize),
		worker.WithLogger(log),
	)
	return outbox, relay, nil
}

// buildPublisher is synchronous whenever the outbox is in use: an async
// drain runs outside the caller's transaction.
func buildPublisher(cfg *config.Config, deps *dependencies, sink audit.Store, reg prometheus.Registerer, log *slog.Logger) *publisher.Publisher {
	opts := []publisher.Option{
		publisher.WithLogger(log),
		publisher.WithMetrics(publisher.NewMetrics(reg)),
	}
	switch {
	case cfg.Audit.AsyncBuffer > 0 && deps.db != nil:
		log.Warn("audit async buffer ignored while the postgres outbox is in use",
			"async_buffer", cfg.Audit.AsyncBuffer)
	case cfg.Audit.AsyncBuffer > 0:
		opts = append(opts, publisher.WithAsyncBuffer(cfg.Audit.AsyncBuffer))
	}
	return publisher.NewPublisher(sink, opts...)
}

func buildService(ctx context.Context, cfg *config.Config, deps *dependencies, pub service.AuditPublisher, reg prometheus.Registerer, log *slog.Logger) (*service.Service, error) {
	if cfg.Privacy.PseudonymSecret == "" {
		log.Warn("no pseudonym secret configured; pseudonyms will change on restart")
	}

	var store service.Store = memory.New()
	var opts []service.Option
	if deps.db != nil {
		pg := pgstore.New(deps.db)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		store = pg
		opts = append(opts, service.WithTxRunner(txcontext.NewRunner(deps.db)))
	}

	opts = append(opts,
		service.WithLogger(log),
		service.WithAuditPublisher(pub),
		service.WithMetrics(privacymetrics.New(reg)),
		service.WithSweepWorkers(cfg.Retention.Workers),
		service.WithHealthThresholds(service.HealthThresholds{
			MaxPendingRequests: cfg.Privacy.MaxPendingRequests,
			MaxOverduePIAs:     cfg.Privacy.MaxOverduePIAs,
			PIAMaxDraftAge:     cfg.Privacy.PIAMaxDraftAge,
			BreachWindow:       cfg.Privacy.BreachWindow,
		}),
		service.WithPipeline(anonymize.New(
			anonymize.WithPseudonymSecret([]byte(cfg.Privacy.PseudonymSecret)),
			anonymize.WithDefaults(anonymize.Params{
				Epsilon:     cfg.Privacy.Epsilon,
				Sensitivity: cfg.Privacy.Sensitivity,
			}),
		)),
	)
	if deps.redis != nil {
		opts = append(opts, service.WithLocker(lock.NewRedisLocker(deps.redis.Client, lock.WithTTL(cfg.Retention.LockTTL))))
	}
	return service.New(store, opts...), nil
}
