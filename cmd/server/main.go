package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"privacy/internal/platform/config"
	"privacy/internal/platform/httpserver"
	"privacy/internal/platform/logger"
	"privacy/internal/platform/metrics"
	"privacy/internal/platform/supervisor"
	"privacy/internal/privacy/handler"
	"privacy/internal/privacy/retention"
	audit "privacy/pkg/platform/audit"
	"privacy/pkg/platform/audit/consumer"
)

// main wires the engine, its audit pipeline and the supervised background
// services. Business logic lives in internal/privacy.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	tree := supervisor.New(log, supervisor.Config{ShutdownTimeout: cfg.Server.ShutdownTimeout})

	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, watermill.NewSlogLogger(log))
	defer pubSub.Close()

	deps, err := openDependencies(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	sink, relay, err := buildAuditSink(ctx, cfg, deps, pubSub, log)
	if err != nil {
		return err
	}
	if relay != nil {
		tree.AddBackground(relay)
	}
	pub := buildPublisher(cfg, deps, sink, reg, log)
	defer pub.Close()

	svc, err := buildService(ctx, cfg, deps, pub, reg, log)
	if err != nil {
		return err
	}

	router := consumer.NewRouter(pubSub, log)
	router.Register(audit.CategorySecurity, consumer.NewSecurityHandler(consumer.LogNotifier{Logger: log}, log))
	router.Register(audit.CategoryCompliance, consumer.NewComplianceHandler(reg, log))
	tree.AddBackground(router)

	tree.AddBackground(retention.NewScheduler(svc,
		retention.WithInterval(cfg.Retention.Interval),
		retention.WithRunOnStart(cfg.Retention.RunOnStart),
		retention.WithLogger(log),
	))

	ops := handler.New(svc, reg.Handler(), log)
	srv := httpserver.New(cfg.Server.Addr, ops.Router())
	tree.AddAPI(httpserver.NewService(srv, cfg.Server.ShutdownTimeout))

	log.Info("starting privacy engine",
		"addr", cfg.Server.Addr,
		"store", deps.storeKind(),
		"distributed_lock", deps.redis != nil,
		"kafka", len(cfg.Kafka.Brokers) > 0,
	)
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}
	log.Info("privacy engine stopped")
	return nil
}
