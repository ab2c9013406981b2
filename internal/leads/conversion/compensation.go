package conversion

import (
	"context"

	"github.com/google/uuid"
)

type undoFunc func(ctx context.Context, id uuid.UUID, organizationID uuid.UUID) error

type createdEntity struct {
	entityType string
	id         uuid.UUID
	undo       undoFunc
}

// EntityRef names an entity touched by a rollback.
type EntityRef struct {
	EntityType string    `json:"entityType"`
	ID         uuid.UUID `json:"id"`
}

// RollbackReport lists what a rollback removed and what it could not.
type RollbackReport struct {
	Compensated []EntityRef `json:"compensated"`
	Orphaned    []EntityRef `json:"orphaned"`
}

// compensation remembers created entities so they can be removed in reverse order.
type compensation struct {
	tenantID uuid.UUID
	created  []createdEntity
}

func newCompensation(tenantID uuid.UUID) *compensation {
	return &compensation{tenantID: tenantID}
}

func (c *compensation) push(entityType string, id uuid.UUID, undo undoFunc) {
	c.created = append(c.created, createdEntity{entityType: entityType, id: id, undo: undo})
}

// rollback runs even when ctx is already canceled.
func (c *compensation) rollback(ctx context.Context) RollbackReport {
	ctx = context.WithoutCancel(ctx)
	report := RollbackReport{Compensated: []EntityRef{}, Orphaned: []EntityRef{}}
	for i := len(c.created) - 1; i >= 0; i-- {
		e := c.created[i]
		ref := EntityRef{EntityType: e.entityType, ID: e.id}
		if err := e.undo(ctx, e.id, c.tenantID); err != nil {
			report.Orphaned = append(report.Orphaned, ref)
			continue
		}
		report.Compensated = append(report.Compensated, ref)
	}
	c.created = nil
	return report
}
