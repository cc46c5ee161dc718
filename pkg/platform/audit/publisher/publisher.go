// Package publisher emits audit events to a sink.
//
// In synchronous mode Emit blocks until the sink accepts the event and returns
// its error. In async mode Emit enqueues into a bounded buffer that drops the
// oldest event when full, and a single worker drains it. Close drains whatever
// is still buffered before returning.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	audit "privacy/pkg/platform/audit"
	"privacy/pkg/requestcontext"
)

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("audit publisher closed")

const drainBatchSize = 64

type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	clockMu sync.Mutex
	last    time.Time

	buffer    *ringBuffer
	wake      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closedMu  sync.RWMutex
	closed    bool
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to async mode with a bounded buffer
// of the given size.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.buffer = newRingBuffer(size)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithClock overrides the wall clock used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wake = make(chan struct{}, 1)
		p.wg.Add(1)
		go p.run()
	}
	return p
}

// Emit stamps the event (id, category, timestamp, request id) and hands it to
// the sink. Explicit timestamps are preserved; generated ones are strictly
// increasing within the process.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.closedMu.RLock()
	defer p.closedMu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	event = p.stamp(ctx, event)

	if p.buffer == nil {
		return p.persist(ctx, event)
	}

	if p.buffer.enqueue(event) {
		if p.metrics != nil {
			p.metrics.IncDropped()
		}
		p.logger.WarnContext(ctx, "audit buffer full, dropped oldest event")
	}
	if p.metrics != nil {
		p.metrics.SetBufferDepth(p.buffer.len())
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (p *Publisher) stamp(ctx context.Context, event audit.Event) audit.Event {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.ActorID == "" {
		event.ActorID = requestcontext.ActorID(ctx)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.nextTimestamp()
	}
	return event
}

func (p *Publisher) nextTimestamp() time.Time {
	p.clockMu.Lock()
	defer p.clockMu.Unlock()

	ts := p.now()
	if !ts.After(p.last) {
		ts = p.last.Add(time.Nanosecond)
	}
	p.last = ts
	return ts
}

func (p *Publisher) persist(ctx context.Context, event audit.Event) error {
	if err := p.store.Append(ctx, event); err != nil {
		if p.metrics != nil {
			p.metrics.IncPersistFailures()
		}
		p.logger.ErrorContext(ctx, "audit event persistence failed",
			"action", event.Action,
			"entity_id", event.EntityID,
			"error", err,
		)
		return fmt.Errorf("persist audit event: %w", err)
	}
	if p.metrics != nil {
		p.metrics.IncEmitted(string(event.Category))
	}
	return nil
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.wake:
			p.drain()
		case <-p.done:
			p.drain()
			return
		}
	}
}

func (p *Publisher) drain() {
	ctx := context.Background()
	for {
		batch := p.buffer.dequeueBatch(drainBatchSize)
		if len(batch) == 0 {
			return
		}
		for _, event := range batch {
			// errors are logged and counted inside persist; async mode never
			// surfaces them to the emitter
			_ = p.persist(ctx, event)
		}
		if p.metrics != nil {
			p.metrics.SetBufferDepth(p.buffer.len())
		}
	}
}

// Dropped reports how many events the async buffer discarded.
func (p *Publisher) Dropped() int64 {
	if p.buffer == nil {
		return 0
	}
	return p.buffer.droppedCount()
}

// Close stops accepting events and drains the async buffer. Safe to call
// more than once.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		p.closedMu.Lock()
		p.closed = true
		p.closedMu.Unlock()
		close(p.done)
		p.wg.Wait()
	})
	return nil
}
