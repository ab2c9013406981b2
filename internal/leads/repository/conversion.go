package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrStageNotFound is returned when a stage is missing, inactive or deleted.
var ErrStageNotFound = errors.New("pipeline stage not found")

type Account struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	OwnerID        *uuid.UUID
	Name           string
	Website        *string
	Industry       *string
	Phone          *string
	Type           string
	Tier           string
	Status         string
	CreatedBy      *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type CreateAccountParams struct {
	OrganizationID uuid.UUID
	OwnerID        *uuid.UUID
	Name           string
	Website        *string
	Industry       *string
	Phone          *string
	Type           string
	Tier           string
	Status         string
	CreatedBy      uuid.UUID
}

func (r *Repository) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	var a Account
	err := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (organization_id, owner_id, name, website, industry, phone, type, tier, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, organization_id, owner_id, name, website, industry, phone, type, tier, status,
			created_by, created_at, updated_at
	`,
		params.OrganizationID, params.OwnerID, params.Name, params.Website, params.Industry, params.Phone,
		params.Type, params.Tier, params.Status, params.CreatedBy,
	).Scan(
		&a.ID, &a.OrganizationID, &a.OwnerID, &a.Name, &a.Website, &a.Industry, &a.Phone,
		&a.Type, &a.Tier, &a.Status, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}

type Contact struct {
	ID              uuid.UUID
	OrganizationID  uuid.UUID
	AccountID       uuid.UUID
	OwnerID         *uuid.UUID
	FirstName       string
	LastName        string
	Email           *string
	Phone           *string
	JobTitle        *string
	IsPrimary       bool
	IsDecisionMaker bool
	CreatedBy       *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type CreateContactParams struct {
	OrganizationID  uuid.UUID
	AccountID       uuid.UUID
	OwnerID         *uuid.UUID
	FirstName       string
	LastName        string
	Email           *string
	Phone           *string
	JobTitle        *string
	IsPrimary       bool
	IsDecisionMaker bool
	CreatedBy       uuid.UUID
}

func (r *Repository) CreateContact(ctx context.Context, params CreateContactParams) (Contact, error) {
	var c Contact
	err := r.pool.QueryRow(ctx, `
		INSERT INTO contacts (
			organization_id, account_id, owner_id, first_name, last_name, email, phone, job_title,
			is_primary, is_decision_maker, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, organization_id, account_id, owner_id, first_name, last_name, email, phone, job_title,
			is_primary, is_decision_maker, created_by, created_at, updated_at
	`,
		params.OrganizationID, params.AccountID, params.OwnerID, params.FirstName, params.LastName,
		params.Email, params.Phone, params.JobTitle, params.IsPrimary, params.IsDecisionMaker, params.CreatedBy,
	).Scan(
		&c.ID, &c.OrganizationID, &c.AccountID, &c.OwnerID, &c.FirstName, &c.LastName, &c.Email, &c.Phone,
		&c.JobTitle, &c.IsPrimary, &c.IsDecisionMaker, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

type Opportunity struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	AccountID      uuid.UUID
	ContactID      *uuid.UUID
	LeadID         *uuid.UUID
	StageID        uuid.UUID
	OwnerID        *uuid.UUID
	Name           string
	Amount         float64
	Probability    int
	Status         string
	Timeline       []byte
	CreatedBy      *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type CreateOpportunityParams struct {
	OrganizationID uuid.UUID
	AccountID      uuid.UUID
	ContactID      *uuid.UUID
	LeadID         *uuid.UUID
	StageID        uuid.UUID
	OwnerID        *uuid.UUID
	Name           string
	Amount         float64
	Probability    int
	Status         string
	CreatedBy      uuid.UUID
}

// CreateOpportunity inserts an opportunity with an empty timeline.
func (r *Repository) CreateOpportunity(ctx context.Context, params CreateOpportunityParams) (Opportunity, error) {
	var o Opportunity
	err := r.pool.QueryRow(ctx, `
		INSERT INTO opportunities (
			organization_id, account_id, contact_id, lead_id, stage_id, owner_id, name,
			amount, probability, status, timeline, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, '[]'::jsonb, $11)
		RETURNING id, organization_id, account_id, contact_id, lead_id, stage_id, owner_id, name,
			amount::float8, probability, status, timeline, created_by, created_at, updated_at
	`,
		params.OrganizationID, params.AccountID, params.ContactID, params.LeadID, params.StageID, params.OwnerID,
		params.Name, params.Amount, params.Probability, params.Status, params.CreatedBy,
	).Scan(
		&o.ID, &o.OrganizationID, &o.AccountID, &o.ContactID, &o.LeadID, &o.StageID, &o.OwnerID, &o.Name,
		&o.Amount, &o.Probability, &o.Status, &o.Timeline, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}

func (r *Repository) SoftDeleteAccount(ctx context.Context, id uuid.UUID, organizationID uuid.UUID) error {
	return r.softDelete(ctx, "accounts", id, organizationID)
}

func (r *Repository) SoftDeleteContact(ctx context.Context, id uuid.UUID, organizationID uuid.UUID) error {
	return r.softDelete(ctx, "contacts", id, organizationID)
}

func (r *Repository) SoftDeleteOpportunity(ctx context.Context, id uuid.UUID, organizationID uuid.UUID) error {
	return r.softDelete(ctx, "opportunities", id, organizationID)
}

func (r *Repository) softDelete(ctx context.Context, table string, id uuid.UUID, organizationID uuid.UUID) error {
	result, err := r.pool.Exec(ctx, fmt.Sprintf(
		"UPDATE %s SET deleted_at = now(), updated_at = now() WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL",
		table,
	), id, organizationID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type Stage struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string
	DisplayOrder   int
	Probability    *int
}

// ListActiveStages returns the organization's active stages by display order.
func (r *Repository) ListActiveStages(ctx context.Context, organizationID uuid.UUID) ([]Stage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organization_id, name, display_order, probability
		FROM pipeline_stages
		WHERE organization_id = $1 AND is_active = true AND deleted_at IS NULL
		ORDER BY display_order ASC, name ASC
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stages := make([]Stage, 0)
	for rows.Next() {
		var s Stage
		if err := rows.Scan(&s.ID, &s.OrganizationID, &s.Name, &s.DisplayOrder, &s.Probability); err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

func (r *Repository) GetActiveStage(ctx context.Context, id uuid.UUID, organizationID uuid.UUID) (Stage, error) {
	var s Stage
	err := r.pool.QueryRow(ctx, `
		SELECT id, organization_id, name, display_order, probability
		FROM pipeline_stages
		WHERE id = $1 AND organization_id = $2 AND is_active = true AND deleted_at IS NULL
	`, id, organizationID).Scan(&s.ID, &s.OrganizationID, &s.Name, &s.DisplayOrder, &s.Probability)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stage{}, ErrStageNotFound
	}
	return s, err
}
