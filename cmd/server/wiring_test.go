package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privacy/internal/platform/config"
	audit "privacy/pkg/platform/audit"
)

type downSink struct{}

func (downSink) Append(context.Context, audit.Event) error {
	return errors.New("sink down")
}

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func TestBuildService_WarnsWithoutPseudonymSecret(t *testing.T) {
	cfg := &config.Config{}
	cfg.Retention.Workers = 1

	t.Run("missing secret", func(t *testing.T) {
		log, buf := bufferLogger()
		svc, err := buildService(context.Background(), cfg, &dependencies{}, nil, prometheus.NewRegistry(), log)
		require.NoError(t, err)
		require.NotNil(t, svc)
		assert.Contains(t, buf.String(), "no pseudonym secret configured")
	})

	t.Run("configured secret", func(t *testing.T) {
		cfg.Privacy.PseudonymSecret = "s3cret"
		log, buf := bufferLogger()
		_, err := buildService(context.Background(), cfg, &dependencies{}, nil, prometheus.NewRegistry(), log)
		require.NoError(t, err)
		assert.NotContains(t, buf.String(), "pseudonym secret")
	})
}

func TestBuildPublisher_SynchronousWithOutbox(t *testing.T) {
	// sql.Open does not connect; the handle only marks the outbox as in use
	db, err := sql.Open("postgres", "postgres://localhost:1/privacy?sslmode=disable")
	require.NoError(t, err)
	defer db.Close()

	cfg := &config.Config{}
	cfg.Audit.AsyncBuffer = 8
	log, buf := bufferLogger()

	pub := buildPublisher(cfg, &dependencies{db: db}, downSink{}, prometheus.NewRegistry(), log)
	defer pub.Close()

	err = pub.Emit(context.Background(), audit.Event{Action: string(audit.EventDataSubjectCreated)})
	require.Error(t, err, "a synchronous publisher surfaces sink errors")
	assert.Contains(t, buf.String(), "async buffer ignored")
}

func TestBuildPublisher_AsyncWithoutOutbox(t *testing.T) {
	cfg := &config.Config{}
	cfg.Audit.AsyncBuffer = 8
	log, _ := bufferLogger()

	pub := buildPublisher(cfg, &dependencies{}, downSink{}, prometheus.NewRegistry(), log)

	err := pub.Emit(context.Background(), audit.Event{Action: string(audit.EventDataSubjectCreated)})
	require.NoError(t, err)
	require.NoError(t, pub.Close())
}
