// Package audit records immutable entries describing entity mutations.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Actions recorded by lead operations.
const (
	ActionCreate  = "CREATE"
	ActionUpdate  = "UPDATE"
	ActionDelete  = "DELETE"
	ActionConvert = "CONVERT"
)

// Entity types.
const (
	EntityLead        = "Lead"
	EntityAccount     = "Account"
	EntityContact     = "Contact"
	EntityOpportunity = "Opportunity"
)

// Entry is one audit log record. It is never updated once written.
type Entry struct {
	TenantID   uuid.UUID              `json:"tenantId"`
	EntityType string                 `json:"entityType"`
	EntityID   uuid.UUID              `json:"entityId"`
	Action     string                 `json:"action"`
	ActorID    uuid.UUID              `json:"actorId"`
	Changes    map[string]interface{} `json:"changes,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	RequestID  string                 `json:"requestId,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Sink persists entries.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

// Recorder accepts entries without reporting failures to the caller.
// Implementations log what they cannot persist.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

// Changes builds the before/after payload of an UPDATE, CONVERT or DELETE entry.
func Changes(before, after interface{}) map[string]interface{} {
	changes := map[string]interface{}{}
	if before != nil {
		changes["before"] = before
	}
	if after != nil {
		changes["after"] = after
	}
	return changes
}
