// Package kafka forwards audit events to a Kafka topic. Produce calls go
// through a circuit breaker so a broker outage fails fast instead of
// stalling the outbox relay.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "privacy/pkg/platform/audit"
	"privacy/pkg/platform/sentinel"
)

type Config struct {
	Brokers           []string
	Topic             string
	ClientID          string
	Partitions        int32
	ReplicationFactor int16
	// FailureThreshold consecutive produce failures open the breaker for
	// OpenTimeout.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// producer is the subset of *kgo.Client the sink uses.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

type Sink struct {
	client  producer
	closer  func()
	topic   string
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
}

type Option func(*Sink)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) {
		s.logger = logger
	}
}

// New connects to the brokers and ensures the topic exists.
func New(ctx context.Context, cfg Config, opts ...Option) (*Sink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ClientID(cfg.ClientID),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if err := EnsureTopic(ctx, kadm.NewClient(client), cfg); err != nil {
		client.Close()
		return nil, err
	}
	s := newSink(client, cfg, opts...)
	s.closer = client.Close
	return s, nil
}

func newSink(client producer, cfg Config, opts ...Option) *Sink {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s := &Sink{
		client: client,
		closer: func() {},
		topic:  cfg.Topic,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "audit-kafka",
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("audit sink circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return s
}

// EnsureTopic creates the audit topic, tolerating one that already exists.
func EnsureTopic(ctx context.Context, admin *kadm.Client, cfg Config) error {
	partitions := cfg.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	rf := cfg.ReplicationFactor
	if rf <= 0 {
		rf = 1
	}

	responses, err := admin.CreateTopics(ctx, partitions, rf, nil, cfg.Topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	for _, resp := range responses {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create audit topic %s: %w", resp.Topic, resp.Err)
		}
	}
	return nil
}

// Append produces one record keyed by subject (or entity when the event is not
// subject scoped) so events for a subject stay ordered within a partition.
func (s *Sink) Append(ctx context.Context, event audit.Event) error {
	value, err := audit.Marshal(event)
	if err != nil {
		return err
	}

	key := event.EntityID
	if !event.SubjectID.IsNil() {
		key = event.SubjectID.String()
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(key),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(event.Action)},
			{Key: "category", Value: []byte(event.Category)},
		},
	}

	_, err = s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.client.ProduceSync(ctx, record).FirstErr()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("audit kafka sink: %w: %w", sentinel.ErrUnavailable, err)
	}
	if err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// State reports the breaker state for health reporting.
func (s *Sink) State() string {
	return s.breaker.State().String()
}

func (s *Sink) Close() {
	s.closer()
}
