// Package retention runs the retention sweep on a fixed period.
package retention

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"privacy/internal/privacy/models"
)

// ErrAlreadyRunning is returned by Start on a running scheduler.
var ErrAlreadyRunning = errors.New("retention scheduler already running")

// DefaultInterval is the reference sweep period.
const DefaultInterval = 24 * time.Hour

// Enforcer runs one retention pass. service.Service implements it.
type Enforcer interface {
	EnforceRetention(ctx context.Context) (models.SweepResult, error)
}

// Scheduler calls the enforcer every interval between Start and Stop.
// Passes never overlap: a pass that outlasts the interval delays the next.
type Scheduler struct {
	enforcer   Enforcer
	interval   time.Duration
	runOnStart bool
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithRunOnStart runs a pass immediately instead of waiting one interval.
func WithRunOnStart(enabled bool) Option {
	return func(s *Scheduler) {
		s.runOnStart = enabled
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func NewScheduler(enforcer Enforcer, opts ...Option) *Scheduler {
	s := &Scheduler{
		enforcer: enforcer,
		interval: DefaultInterval,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the periodic loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go s.run(ctx, done)
	return nil
}

// Stop cancels the loop and waits for an in-flight pass to return. Stopping
// a stopped scheduler is a no-op.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	if s.runOnStart {
		s.pass(ctx)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	if _, err := s.enforcer.EnforceRetention(ctx); err != nil && ctx.Err() == nil {
		s.logger.ErrorContext(ctx, "retention pass failed", "error", err)
	}
}

// Serve implements suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("start retention scheduler: %w", err)
	}
	<-ctx.Done()
	if err := s.Stop(); err != nil {
		return fmt.Errorf("stop retention scheduler: %w", err)
	}
	return ctx.Err()
}

func (s *Scheduler) String() string { return "retention-scheduler" }
