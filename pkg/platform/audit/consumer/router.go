// Package consumer subscribes to the in-process audit bus and dispatches
// events to per-category handlers.
package consumer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	audit "privacy/pkg/platform/audit"
	"privacy/pkg/platform/audit/sinks/bus"
)

// Handler handles events of one category.
type Handler interface {
	Handle(ctx context.Context, event audit.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event audit.Event) error

func (f HandlerFunc) Handle(ctx context.Context, event audit.Event) error { return f(ctx, event) }

// Router subscribes to every registered category topic. A handler error nacks
// the message so the bus redelivers it; undecodable messages are acked and
// dropped since redelivery cannot fix them.
type Router struct {
	subscriber message.Subscriber
	handlers   map[audit.EventCategory]Handler
	logger     *slog.Logger
}

func NewRouter(subscriber message.Subscriber, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Router{
		subscriber: subscriber,
		handlers:   make(map[audit.EventCategory]Handler),
		logger:     logger,
	}
}

// Register adds a handler for a category. Register before Serve.
func (r *Router) Register(category audit.EventCategory, h Handler) {
	r.handlers[category] = h
}

// Serve consumes until ctx is cancelled.
func (r *Router) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for category, h := range r.handlers {
		messages, err := r.subscriber.Subscribe(ctx, bus.Topic(category))
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("subscribe to %s: %w", category, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.consume(ctx, messages, h)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (r *Router) consume(ctx context.Context, messages <-chan *message.Message, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			r.dispatch(ctx, msg, h)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, msg *message.Message, h Handler) {
	event, err := bus.Decode(msg)
	if err != nil {
		r.logger.ErrorContext(ctx, "dropping undecodable audit message",
			"message_id", msg.UUID,
			"error", err,
		)
		msg.Ack()
		return
	}
	if err := h.Handle(ctx, event); err != nil {
		r.logger.WarnContext(ctx, "audit handler failed, message will be redelivered",
			"action", event.Action,
			"entity_id", event.EntityID,
			"error", err,
		)
		msg.Nack()
		return
	}
	msg.Ack()
}

func (r *Router) String() string { return "audit-consumer" }
