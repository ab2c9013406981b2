package transport

import (
	"encoding/json"
	"time"

	"crm_backend/internal/bulk"

	"github.com/google/uuid"
)

type LeadStatus string

const (
	LeadStatusNew         LeadStatus = "NEW"
	LeadStatusContacted   LeadStatus = "CONTACTED"
	LeadStatusQualified   LeadStatus = "QUALIFIED"
	LeadStatusConverted   LeadStatus = "CONVERTED"
	LeadStatusUnqualified LeadStatus = "UNQUALIFIED"
)

// Request DTOs

type QualifyLeadRequest struct {
	Notes *string `json:"notes,omitempty" validate:"omitempty,max=5000"`
}

type ConvertLeadRequest struct {
	AccountName       *string    `json:"accountName,omitempty" validate:"omitempty,min=1,max=200"`
	CreateOpportunity bool       `json:"createOpportunity"`
	OpportunityName   *string    `json:"opportunityName,omitempty" validate:"omitempty,min=1,max=200"`
	OpportunityAmount *float64   `json:"opportunityAmount,omitempty" validate:"omitempty,gte=0"`
	StageID           *uuid.UUID `json:"stageId,omitempty"`
	// IdempotencyKey may also arrive in the Idempotency-Key header, which wins.
	IdempotencyKey string `json:"idempotencyKey,omitempty" validate:"omitempty,max=255"`
}

type CreateLeadRequest struct {
	FirstName   string     `json:"firstName" validate:"required,min=1,max=100"`
	LastName    string     `json:"lastName" validate:"required,min=1,max=100"`
	Email       *string    `json:"email,omitempty" validate:"omitempty,email,max=320"`
	Phone       *string    `json:"phone,omitempty" validate:"omitempty,min=5,max=32"`
	CompanyName *string    `json:"companyName,omitempty" validate:"omitempty,max=200"`
	Website     *string    `json:"website,omitempty" validate:"omitempty,max=500"`
	Industry    *string    `json:"industry,omitempty" validate:"omitempty,max=100"`
	JobTitle    *string    `json:"jobTitle,omitempty" validate:"omitempty,max=100"`
	Status      LeadStatus `json:"status,omitempty" validate:"omitempty,oneof=NEW CONTACTED QUALIFIED UNQUALIFIED"`
	Score       int        `json:"score" validate:"gte=0"`
	Tags        []string   `json:"tags,omitempty" validate:"omitempty,max=50,dive,max=64"`
	Source      *string    `json:"source,omitempty" validate:"omitempty,max=100"`
	OwnerID     *uuid.UUID `json:"ownerId,omitempty"`
	Notes       *string    `json:"notes,omitempty" validate:"omitempty,max=5000"`
}

// UpdateLeadFields is the patch applied by a bulk update. Omitted fields are untouched.
type UpdateLeadFields struct {
	FirstName   *string             `json:"firstName,omitempty" validate:"omitempty,min=1,max=100"`
	LastName    *string             `json:"lastName,omitempty" validate:"omitempty,min=1,max=100"`
	Email       *string             `json:"email,omitempty" validate:"omitempty,email,max=320"`
	Phone       *string             `json:"phone,omitempty" validate:"omitempty,min=5,max=32"`
	CompanyName *string             `json:"companyName,omitempty" validate:"omitempty,max=200"`
	Website     *string             `json:"website,omitempty" validate:"omitempty,max=500"`
	Industry    *string             `json:"industry,omitempty" validate:"omitempty,max=100"`
	JobTitle    *string             `json:"jobTitle,omitempty" validate:"omitempty,max=100"`
	Status      *LeadStatus         `json:"status,omitempty" validate:"omitempty,oneof=NEW CONTACTED QUALIFIED CONVERTED UNQUALIFIED"`
	Score       *int                `json:"score,omitempty" validate:"omitempty,gte=0"`
	Source      *string             `json:"source,omitempty" validate:"omitempty,max=100"`
	Notes       *string             `json:"notes,omitempty" validate:"omitempty,max=5000"`
	OwnerID     Optional[uuid.UUID] `json:"ownerId,omitempty" validate:"-"`
}

type BulkDeleteRequest struct {
	IDs []string `json:"ids" validate:"required"`
}

type BulkUpdateRequest struct {
	IDs  []string         `json:"ids" validate:"required"`
	Data UpdateLeadFields `json:"data"`
}

// BulkAssignRequest sets the owner of every lead. A null ownerId unassigns.
type BulkAssignRequest struct {
	IDs     []string            `json:"ids" validate:"required"`
	OwnerID Optional[uuid.UUID] `json:"ownerId" validate:"-"`
}

type BulkAddTagsRequest struct {
	IDs  []string `json:"ids" validate:"required"`
	Tags []string `json:"tags" validate:"required,min=1,max=50,dive,required,max=64"`
}

type BulkCreateRequest struct {
	Leads []CreateLeadRequest `json:"leads" validate:"required"`
}

// ImportRow is one loosely typed row of an import file, keyed by column name.
type ImportRow map[string]string

type ImportLeadsRequest struct {
	Rows []ImportRow `json:"rows" validate:"required"`
	// Source is applied to rows that carry none.
	Source *string `json:"source,omitempty" validate:"omitempty,max=100"`
}

// ExportLeadsRequest filters an export. CreatedTo is exclusive.
type ExportLeadsRequest struct {
	Status      *LeadStatus `json:"status,omitempty" validate:"omitempty,oneof=NEW CONTACTED QUALIFIED CONVERTED UNQUALIFIED"`
	Source      *string     `json:"source,omitempty" validate:"omitempty,max=100"`
	OwnerID     *uuid.UUID  `json:"ownerId,omitempty"`
	CreatedFrom *time.Time  `json:"createdFrom,omitempty"`
	CreatedTo   *time.Time  `json:"createdTo,omitempty"`
	Format      string      `json:"format,omitempty" validate:"omitempty,oneof=json csv"`
}

// Response DTOs

type LeadResponse struct {
	ID                       uuid.UUID  `json:"id"`
	FirstName                string     `json:"firstName"`
	LastName                 string     `json:"lastName"`
	Email                    *string    `json:"email,omitempty"`
	Phone                    *string    `json:"phone,omitempty"`
	CompanyName              *string    `json:"companyName,omitempty"`
	Website                  *string    `json:"website,omitempty"`
	Industry                 *string    `json:"industry,omitempty"`
	JobTitle                 *string    `json:"jobTitle,omitempty"`
	Status                   LeadStatus `json:"status"`
	Score                    int        `json:"score"`
	Tags                     []string   `json:"tags"`
	Source                   *string    `json:"source,omitempty"`
	OwnerID                  *uuid.UUID `json:"ownerId,omitempty"`
	Notes                    *string    `json:"notes,omitempty"`
	QualifiedAt              *time.Time `json:"qualifiedAt,omitempty"`
	ConvertedAt              *time.Time `json:"convertedAt,omitempty"`
	ConvertedToAccountID     *uuid.UUID `json:"convertedToAccountId,omitempty"`
	ConvertedToContactID     *uuid.UUID `json:"convertedToContactId,omitempty"`
	ConvertedToOpportunityID *uuid.UUID `json:"convertedToOpportunityId,omitempty"`
	CreatedAt                time.Time  `json:"createdAt"`
	UpdatedAt                time.Time  `json:"updatedAt"`
}

type AccountResponse struct {
	ID       uuid.UUID  `json:"id"`
	Name     string     `json:"name"`
	Website  *string    `json:"website,omitempty"`
	Industry *string    `json:"industry,omitempty"`
	Phone    *string    `json:"phone,omitempty"`
	Type     string     `json:"type"`
	Tier     string     `json:"tier"`
	Status   string     `json:"status"`
	OwnerID  *uuid.UUID `json:"ownerId,omitempty"`
}

type ContactResponse struct {
	ID              uuid.UUID  `json:"id"`
	AccountID       uuid.UUID  `json:"accountId"`
	FirstName       string     `json:"firstName"`
	LastName        string     `json:"lastName"`
	Email           *string    `json:"email,omitempty"`
	Phone           *string    `json:"phone,omitempty"`
	JobTitle        *string    `json:"jobTitle,omitempty"`
	IsPrimary       bool       `json:"isPrimary"`
	IsDecisionMaker bool       `json:"isDecisionMaker"`
	OwnerID         *uuid.UUID `json:"ownerId,omitempty"`
}

type OpportunityResponse struct {
	ID          uuid.UUID  `json:"id"`
	AccountID   uuid.UUID  `json:"accountId"`
	ContactID   *uuid.UUID `json:"contactId,omitempty"`
	StageID     uuid.UUID  `json:"stageId"`
	Name        string     `json:"name"`
	Amount      float64    `json:"amount"`
	Probability int        `json:"probability"`
	Status      string     `json:"status"`
	OwnerID     *uuid.UUID `json:"ownerId,omitempty"`
}

// ConversionResponse is stored verbatim for idempotent replay.
type ConversionResponse struct {
	Lead        LeadResponse         `json:"lead"`
	Account     AccountResponse      `json:"account"`
	Contact     ContactResponse      `json:"contact"`
	Opportunity *OpportunityResponse `json:"opportunity,omitempty"`
	// Replayed is set when the result came from an earlier request with the same key.
	Replayed bool `json:"-"`
}

type BulkOperationResponse = bulk.Result

// ExportedLead is the fixed export projection.
type ExportedLead struct {
	ID          uuid.UUID  `json:"id"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	Email       *string    `json:"email,omitempty"`
	Phone       *string    `json:"phone,omitempty"`
	CompanyName *string    `json:"companyName,omitempty"`
	Status      LeadStatus `json:"status"`
	Source      *string    `json:"source,omitempty"`
	Score       int        `json:"score"`
	Tags        []string   `json:"tags"`
	OwnerID     *uuid.UUID `json:"ownerId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type ExportLeadsResponse struct {
	Items []ExportedLead `json:"items"`
	Total int            `json:"total"`
}

type JobResponse struct {
	ID         uuid.UUID       `json:"id"`
	Kind       string          `json:"kind"`
	Status     string          `json:"status"`
	ItemCount  int             `json:"itemCount"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *string         `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
}

type JobAcceptedResponse struct {
	JobID  uuid.UUID `json:"jobId"`
	Status string    `json:"status"`
}
