package events

import (
	"context"
	"errors"
	"sync"

	"realtime_core/internal/domain"

	"go.uber.org/zap"
)

type Handler func(ctx context.Context, evt *domain.OutboxEvent) error

// Publisher hands a domain event to whoever reacts to it.
type Publisher interface {
	Publish(ctx context.Context, evt *domain.OutboxEvent) error
}

// Bus dispatches events synchronously to the handlers registered for their
// type. A failing handler does not stop the others.
type Bus struct {
	log *zap.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewBus(log *zap.Logger) *Bus {
	return &Bus{log: log, handlers: make(map[string][]Handler)}
}

func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

func (b *Bus) Publish(ctx context.Context, evt *domain.OutboxEvent) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[evt.EventType]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.log.Debug("no handlers for event", zap.String("event_type", evt.EventType))
		return nil
	}

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, evt); err != nil {
			b.log.Error("event handler failed",
				zap.String("event_type", evt.EventType),
				zap.String("event_id", evt.ID.String()),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
