package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the subset of pgxpool.Pool the sink needs.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresSink appends entries to the audit_logs table.
type PostgresSink struct {
	db  Execer
	now func() time.Time
}

// NewPostgresSink creates a sink over db.
func NewPostgresSink(db Execer) *PostgresSink {
	return &PostgresSink{db: db, now: time.Now}
}

// Record inserts one row. A missing timestamp is filled with the current time.
func (s *PostgresSink) Record(ctx context.Context, entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now().UTC()
	}

	changesJSON, err := marshalObject(entry.Changes)
	if err != nil {
		return fmt.Errorf("marshal audit changes: %w", err)
	}
	metadataJSON, err := marshalObject(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	integrity, err := ComputeIntegritySHA256(entry, changesJSON, metadataJSON)
	if err != nil {
		return err
	}

	var actor *uuid.UUID
	if entry.ActorID != uuid.Nil {
		actor = &entry.ActorID
	}
	var requestID *string
	if entry.RequestID != "" {
		requestID = &entry.RequestID
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO audit_logs (
			organization_id, entity_type, entity_id, action, actor_id,
			changes, metadata, request_id, occurred_at, integrity_sha256
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		entry.TenantID, entry.EntityType, entry.EntityID, entry.Action, actor,
		changesJSON, metadataJSON, requestID, entry.Timestamp, integrity,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func marshalObject(v map[string]interface{}) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

var _ Sink = (*PostgresSink)(nil)
