package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =====================================
// Segregated Interfaces (Interface Segregation Principle)
// =====================================

// LeadReader provides read-only access to lead data.
type LeadReader interface {
	GetByID(ctx context.Context, id uuid.UUID, organizationID uuid.UUID) (Lead, error)
}

// LeadWriter provides write operations for lead management.
type LeadWriter interface {
	Create(ctx context.Context, params CreateLeadParams) (Lead, error)
	Update(ctx context.Context, id uuid.UUID, organizationID uuid.UUID, params UpdateLeadParams) (Lead, error)
	Delete(ctx context.Context, id uuid.UUID, organizationID uuid.UUID, actorID uuid.UUID) error
}

// LeadTransitioner applies guarded status transitions.
type LeadTransitioner interface {
	MarkQualified(ctx context.Context, id uuid.UUID, organizationID uuid.UUID, from []string, notes *string, actorID uuid.UUID, at time.Time) (Lead, error)
	MarkConverted(ctx context.Context, params MarkConvertedParams) (Lead, error)
}

// TagWriter merges tags into a lead's tag set.
type TagWriter interface {
	AddTags(ctx context.Context, id uuid.UUID, organizationID uuid.UUID, tags []string, actorID uuid.UUID) (Lead, error)
}

// EmailChecker looks up emails already used inside an organization.
type EmailChecker interface {
	ExistingEmails(ctx context.Context, organizationID uuid.UUID, emails []string) (map[string]bool, error)
}

// ExportReader lists leads for export.
type ExportReader interface {
	ListForExport(ctx context.Context, params ExportParams) ([]Lead, error)
}

// ConversionWriter creates and compensates the entities produced by a conversion.
type ConversionWriter interface {
	CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error)
	CreateContact(ctx context.Context, params CreateContactParams) (Contact, error)
	CreateOpportunity(ctx context.Context, params CreateOpportunityParams) (Opportunity, error)
	SoftDeleteAccount(ctx context.Context, id uuid.UUID, organizationID uuid.UUID) error
	SoftDeleteContact(ctx context.Context, id uuid.UUID, organizationID uuid.UUID) error
	SoftDeleteOpportunity(ctx context.Context, id uuid.UUID, organizationID uuid.UUID) error
}

// StageReader provides access to an organization's pipeline stages.
type StageReader interface {
	ListActiveStages(ctx context.Context, organizationID uuid.UUID) ([]Stage, error)
	GetActiveStage(ctx context.Context, id uuid.UUID, organizationID uuid.UUID) (Stage, error)
}

// JobStore tracks asynchronous import/export jobs.
type JobStore interface {
	CreateJob(ctx context.Context, params CreateJobParams) (Job, error)
	GetJob(ctx context.Context, id uuid.UUID, organizationID uuid.UUID) (Job, error)
	MarkJobRunning(ctx context.Context, id uuid.UUID, organizationID uuid.UUID) error
	CompleteJob(ctx context.Context, id uuid.UUID, organizationID uuid.UUID, result []byte) error
	FailJob(ctx context.Context, id uuid.UUID, organizationID uuid.UUID, message string) error
}

// JobPurger removes finished jobs past their retention.
type JobPurger interface {
	DeleteFinishedJobsBefore(ctx context.Context, completedBefore, failedBefore time.Time) (int64, error)
}

// =====================================
// Composite Interface
// =====================================

// LeadsRepository defines the complete interface for leads data operations.
type LeadsRepository interface {
	LeadReader
	LeadWriter
	LeadTransitioner
	TagWriter
	EmailChecker
	ExportReader
	ConversionWriter
	StageReader
	JobStore
	JobPurger
}

// Ensure Repository implements LeadsRepository
var _ LeadsRepository = (*Repository)(nil)
