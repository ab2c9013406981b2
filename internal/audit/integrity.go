package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ComputeIntegritySHA256 hashes the canonical JSON form of an entry so later
// tampering with a stored row can be detected.
func ComputeIntegritySHA256(entry Entry, changesJSON, metadataJSON []byte) (string, error) {
	type integrityInput struct {
		OccurredAt time.Time       `json:"occurred_at"`
		TenantID   string          `json:"tenant_id"`
		EntityType string          `json:"entity_type"`
		EntityID   string          `json:"entity_id"`
		Action     string          `json:"action"`
		ActorID    string          `json:"actor_id"`
		RequestID  string          `json:"request_id,omitempty"`
		Changes    json.RawMessage `json:"changes"`
		Metadata   json.RawMessage `json:"metadata"`
	}

	in := integrityInput{
		OccurredAt: entry.Timestamp.UTC(),
		TenantID:   entry.TenantID.String(),
		EntityType: strings.TrimSpace(entry.EntityType),
		EntityID:   entry.EntityID.String(),
		Action:     strings.TrimSpace(entry.Action),
		ActorID:    entry.ActorID.String(),
		RequestID:  strings.TrimSpace(entry.RequestID),
		Changes:    changesJSON,
		Metadata:   metadataJSON,
	}

	blob, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}
