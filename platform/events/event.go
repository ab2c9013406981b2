// Package events is the in-process bus the CRM modules publish to. Lead
// qualification, conversion and bulk batches announce themselves here, and
// the audit sink listens without the services knowing about it.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is anything published on the bus.
type Event interface {
	// EventName is the subscription key, e.g. "leads.lead.converted".
	EventName() string
	OccurredAt() time.Time
}

// BaseEvent is embedded by every concrete event.
type BaseEvent struct {
	EventID   uuid.UUID `json:"eventId"`
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// ID identifies one publication, so handlers can log or drop duplicates.
func (e BaseEvent) ID() uuid.UUID {
	return e.EventID
}

// NewBaseEvent stamps a fresh id and the current UTC time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{EventID: uuid.New(), Timestamp: time.Now().UTC()}
}

type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus fans events out to the handlers subscribed to their name.
type Bus interface {
	// Publish runs the handlers in the background; failures are logged.
	Publish(ctx context.Context, event Event)
	// PublishSync runs the handlers in turn and stops at the first error.
	PublishSync(ctx context.Context, event Event) error
	Subscribe(eventName string, handler Handler)
}
