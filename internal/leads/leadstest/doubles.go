package leadstest

import (
	"context"
	"sync"

	"crm_backend/internal/audit"
	"crm_backend/internal/events"
)

// Recorder collects audit entries.
type Recorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *Recorder) Record(_ context.Context, entry audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry(nil), r.entries...)
}

// Bus captures published events without dispatching them.
type Bus struct {
	mu        sync.Mutex
	published []events.Event
}

func (b *Bus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event)
}

func (b *Bus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *Bus) Subscribe(string, events.Handler) {}

// Published returns the names of captured events in publish order.
func (b *Bus) Published() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, len(b.published))
	for i, e := range b.published {
		names[i] = e.EventName()
	}
	return names
}

// Events returns the captured events.
func (b *Bus) Events() []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.Event(nil), b.published...)
}

var (
	_ audit.Recorder = (*Recorder)(nil)
	_ events.Bus     = (*Bus)(nil)
)
