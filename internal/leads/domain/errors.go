package domain

import (
	"crm_backend/platform/apperr"

	"github.com/google/uuid"
)

// EntityLead names leads in error details and audit entries.
const EntityLead = "Lead"

// LeadNotFound is returned for absent, soft-deleted or foreign-tenant leads.
func LeadNotFound(id uuid.UUID) *apperr.Error {
	return apperr.NotFound("Lead not found").
		WithDetails(map[string]interface{}{"entityType": EntityLead, "entityId": id})
}
