package events

import (
	"context"
	"fmt"
	"sync"

	"crm_backend/platform/logger"

	"github.com/google/uuid"
)

// InMemoryBus dispatches events to handlers registered in the same process.
// Publish runs handlers on their own goroutines; PublishSync runs them in
// registration order and returns the first error.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *logger.Logger
	wg       sync.WaitGroup
}

// NewInMemoryBus creates an empty bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	if log == nil {
		log = logger.Nop()
	}
	return &InMemoryBus{
		handlers: make(map[string][]Handler),
		log:      log,
	}
}

// Subscribe registers a handler for eventName.
func (b *InMemoryBus) Subscribe(eventName string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventName] = append(b.handlers[eventName], handler)
}

// Publish delivers the event asynchronously. Handler errors and panics are logged.
// The request context is detached so handlers outlive the originating request.
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	handlers := b.snapshot(event.EventName())
	if len(handlers) == 0 {
		return
	}

	detached := context.WithoutCancel(ctx)
	for _, h := range handlers {
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("event handler panicked", append(eventAttrs(event), "panic", fmt.Sprint(r))...)
				}
			}()
			if err := h.Handle(detached, event); err != nil {
				b.log.WithContext(detached).Error("event handler failed", append(eventAttrs(event), "error", err)...)
			}
		}(h)
	}
}

// PublishSync delivers the event and waits for every handler.
func (b *InMemoryBus) PublishSync(ctx context.Context, event Event) error {
	for _, h := range b.snapshot(event.EventName()) {
		if err := h.Handle(ctx, event); err != nil {
			return fmt.Errorf("%s handler: %w", event.EventName(), err)
		}
	}
	return nil
}

// Wait blocks until all asynchronously published events have been handled.
// Used on shutdown and in tests.
func (b *InMemoryBus) Wait() {
	b.wg.Wait()
}

func (b *InMemoryBus) snapshot(eventName string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := b.handlers[eventName]
	out := make([]Handler, len(handlers))
	copy(out, handlers)
	return out
}

func eventAttrs(event Event) []any {
	attrs := []any{"event", event.EventName()}
	if e, ok := event.(interface{ ID() uuid.UUID }); ok {
		attrs = append(attrs, "event_id", e.ID())
	}
	return attrs
}

var _ Bus = (*InMemoryBus)(nil)
