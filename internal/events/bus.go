package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"eventhub-realtime/internal/domain"
)

// Handler reacts to a published event. Errors are logged by the bus.
type Handler func(ctx context.Context, event domain.DomainEvent) error

// Bus is an in-process publish/subscribe hub. Dispatch is synchronous, in
// subscription order; a failing or panicking handler does not stop the rest.
type Bus struct {
	mu       sync.RWMutex
	handlers map[domain.EventType][]Handler
	all      []Handler
	logger   zerolog.Logger
}

func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[domain.EventType][]Handler),
		logger:   logger.With().Str("component", "event_bus").Logger(),
	}
}

func (b *Bus) Subscribe(eventType domain.EventType, h Handler) {
	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
	b.mu.Unlock()
}

// SubscribeAll registers h for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	b.all = append(b.all, h)
	b.mu.Unlock()
}

// Publish never fails the caller.
func (b *Bus) Publish(ctx context.Context, event domain.DomainEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Type])+len(b.all))
	handlers = append(handlers, b.handlers[event.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug().Str("event_type", string(event.Type)).Msg("No subscribers for event")
		return
	}

	for _, h := range handlers {
		b.call(ctx, h, event)
	}
}

func (b *Bus) call(ctx context.Context, h Handler, event domain.DomainEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Interface("panic", r).
				Str("event_type", string(event.Type)).
				Msg("Recovered from panic in event handler")
		}
	}()

	if err := h(ctx, event); err != nil {
		b.logger.Error().
			Err(err).
			Str("event_type", string(event.Type)).
			Str("user_id", event.UserID).
			Msg("Event handler failed")
	}
}
