package audit

import (
	"context"
	"time"

	"crm_backend/internal/events"
	"crm_backend/platform/logger"
)

// EntryRecorded carries an audit entry across the event bus.
type EntryRecorded struct {
	events.BaseEvent
	Entry Entry `json:"entry"`
}

func (e EntryRecorded) EventName() string { return "audit.entry.recorded" }

// BusRecorder publishes entries on the event bus and returns immediately.
// A sink attached with Subscribe persists them.
type BusRecorder struct {
	bus events.Bus
	now func() time.Time
}

// NewBusRecorder creates a fire-and-forget recorder.
func NewBusRecorder(bus events.Bus) *BusRecorder {
	return &BusRecorder{bus: bus, now: time.Now}
}

// Record implements Recorder.
func (r *BusRecorder) Record(ctx context.Context, entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now().UTC()
	}
	if entry.RequestID == "" {
		entry.RequestID = logger.RequestIDFromContext(ctx)
	}
	r.bus.Publish(ctx, EntryRecorded{BaseEvent: events.NewBaseEvent(), Entry: entry})
}

// Subscribe attaches sink to the bus. Failed writes are logged and dropped.
func Subscribe(bus events.Bus, sink Sink, log *logger.Logger) {
	bus.Subscribe(EntryRecorded{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(EntryRecorded)
		if !ok {
			return nil
		}
		if err := sink.Record(ctx, e.Entry); err != nil {
			log.WithContext(ctx).AuditFailure(e.Entry.EntityType, e.Entry.EntityID.String(), e.Entry.Action, err)
		}
		return nil
	}))
}

// SyncRecorder writes straight to a sink in the caller's goroutine. The CLI
// uses it since the process may exit before bus handlers run.
type SyncRecorder struct {
	sink Sink
	log  *logger.Logger
	now  func() time.Time
}

// NewSyncRecorder creates a recorder that logs sink failures.
func NewSyncRecorder(sink Sink, log *logger.Logger) *SyncRecorder {
	return &SyncRecorder{sink: sink, log: log, now: time.Now}
}

// Record implements Recorder.
func (r *SyncRecorder) Record(ctx context.Context, entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now().UTC()
	}
	if entry.RequestID == "" {
		entry.RequestID = logger.RequestIDFromContext(ctx)
	}
	if err := r.sink.Record(ctx, entry); err != nil {
		r.log.WithContext(ctx).AuditFailure(entry.EntityType, entry.EntityID.String(), entry.Action, err)
	}
}

var (
	_ Recorder = (*BusRecorder)(nil)
	_ Recorder = (*SyncRecorder)(nil)
)
