// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"crm_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Leads Domain Events
// =============================================================================

// LeadQualified is published after a lead moves to QUALIFIED.
type LeadQualified struct {
	BaseEvent
	LeadID    uuid.UUID `json:"leadId"`
	TenantID  uuid.UUID `json:"tenantId"`
	ActorID   uuid.UUID `json:"actorId"`
	RequestID string    `json:"requestId,omitempty"`
}

func (e LeadQualified) EventName() string { return "leads.lead.qualified" }

// LeadConverted is published once per successful (non-replayed) conversion.
type LeadConverted struct {
	BaseEvent
	LeadID        uuid.UUID  `json:"leadId"`
	TenantID      uuid.UUID  `json:"tenantId"`
	ActorID       uuid.UUID  `json:"actorId"`
	AccountID     uuid.UUID  `json:"accountId"`
	ContactID     uuid.UUID  `json:"contactId"`
	OpportunityID *uuid.UUID `json:"opportunityId,omitempty"`
	ConvertedAt   time.Time  `json:"convertedAt"`
	RequestID     string     `json:"requestId,omitempty"`
}

func (e LeadConverted) EventName() string { return "leads.lead.converted" }

// LeadsBulkProcessed summarizes a finished batch mutation.
type LeadsBulkProcessed struct {
	BaseEvent
	TenantID       uuid.UUID `json:"tenantId"`
	ActorID        uuid.UUID `json:"actorId"`
	Operation      string    `json:"operation"`
	ProcessedCount int       `json:"processedCount"`
	SuccessCount   int       `json:"successCount"`
	FailedCount    int       `json:"failedCount"`
	RequestID      string    `json:"requestId,omitempty"`
}

func (e LeadsBulkProcessed) EventName() string { return "leads.bulk.processed" }
