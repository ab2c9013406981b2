package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crm_backend/internal/leads/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("lead not found")
	// ErrDuplicateEmail is returned when another live lead in the organization uses the email.
	ErrDuplicateEmail = errors.New("lead email already exists")
	// ErrStatusChanged is returned by guarded transitions when the lead left the expected statuses.
	ErrStatusChanged = errors.New("lead status changed concurrently")
)

const uniqueViolation = "23505"

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Lead struct {
	ID                       uuid.UUID
	OrganizationID           uuid.UUID
	FirstName                string
	LastName                 string
	Email                    *string
	Phone                    *string
	CompanyName              *string
	Website                  *string
	Industry                 *string
	JobTitle                 *string
	Status                   string
	Score                    int
	Tags                     []string
	Source                   *string
	OwnerID                  *uuid.UUID
	Notes                    *string
	QualifiedAt              *time.Time
	ConvertedAt              *time.Time
	ConvertedToAccountID     *uuid.UUID
	ConvertedToContactID     *uuid.UUID
	ConvertedToOpportunityID *uuid.UUID
	CreatedBy                *uuid.UUID
	UpdatedBy                *uuid.UUID
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

const leadColumns = `id, organization_id, first_name, last_name, email, phone, company_name, website, industry, job_title,
	status, score, tags, source, owner_id, notes, qualified_at, converted_at,
	converted_to_account_id, converted_to_contact_id, converted_to_opportunity_id,
	created_by, updated_by, created_at, updated_at`

func scanLead(row pgx.Row) (Lead, error) {
	var lead Lead
	err := row.Scan(
		&lead.ID, &lead.OrganizationID, &lead.FirstName, &lead.LastName, &lead.Email, &lead.Phone,
		&lead.CompanyName, &lead.Website, &lead.Industry, &lead.JobTitle,
		&lead.Status, &lead.Score, &lead.Tags, &lead.Source, &lead.OwnerID, &lead.Notes,
		&lead.QualifiedAt, &lead.ConvertedAt,
		&lead.ConvertedToAccountID, &lead.ConvertedToContactID, &lead.ConvertedToOpportunityID,
		&lead.CreatedBy, &lead.UpdatedBy, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if lead.Tags == nil {
		lead.Tags = []string{}
	}
	return lead, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

type CreateLeadParams struct {
	OrganizationID uuid.UUID
	FirstName      string
	LastName       string
	Email          *string
	Phone          *string
	CompanyName    *string
	Website        *string
	Industry       *string
	JobTitle       *string
	Status         string
	Score          int
	Tags           []string
	Source         *string
	OwnerID        *uuid.UUID
	Notes          *string
	CreatedBy      uuid.UUID
}

func (r *Repository) Create(ctx context.Context, params CreateLeadParams) (Lead, error) {
	tags := params.Tags
	if tags == nil {
		tags = []string{}
	}
	lead, err := scanLead(r.pool.QueryRow(ctx, `
		INSERT INTO leads (
			organization_id, first_name, last_name, email, phone, company_name, website, industry, job_title,
			status, score, tags, source, owner_id, notes, created_by, updated_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
		RETURNING `+leadColumns,
		params.OrganizationID, params.FirstName, params.LastName, params.Email, params.Phone,
		params.CompanyName, params.Website, params.Industry, params.JobTitle,
		params.Status, params.Score, tags, params.Source, params.OwnerID, params.Notes, params.CreatedBy,
	))
	if isUniqueViolation(err) {
		return Lead{}, ErrDuplicateEmail
	}
	return lead, err
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID, organizationID uuid.UUID) (Lead, error) {
	lead, err := scanLead(r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
	`, id, organizationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	return lead, err
}

type UpdateLeadParams struct {
	FirstName   *string
	LastName    *string
	Email       *string
	Phone       *string
	CompanyName *string
	Website     *string
	Industry    *string
	JobTitle    *string
	Status      *string
	Score       *int
	Tags        []string
	TagsSet     bool
	Source      *string
	Notes       *string
	OwnerID     *uuid.UUID
	OwnerIDSet  bool
	// QualifiedAt is set by the service when Status moves the lead into QUALIFIED.
	QualifiedAt *time.Time
	UpdatedBy   uuid.UUID
}

// IsEmpty reports whether the patch changes no lead column.
func (p UpdateLeadParams) IsEmpty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Email == nil && p.Phone == nil &&
		p.CompanyName == nil && p.Website == nil && p.Industry == nil && p.JobTitle == nil &&
		p.Status == nil && p.Score == nil && !p.TagsSet && p.Source == nil && p.Notes == nil && !p.OwnerIDSet
}

func (r *Repository) Update(ctx context.Context, id uuid.UUID, organizationID uuid.UUID, params UpdateLeadParams) (Lead, error) {
	setClauses := []string{}
	args := []interface{}{}
	argIdx := 1

	fields := []struct {
		enabled bool
		column  string
		value   interface{}
	}{
		{params.FirstName != nil, "first_name", params.FirstName},
		{params.LastName != nil, "last_name", params.LastName},
		{params.Email != nil, "email", params.Email},
		{params.Phone != nil, "phone", params.Phone},
		{params.CompanyName != nil, "company_name", params.CompanyName},
		{params.Website != nil, "website", params.Website},
		{params.Industry != nil, "industry", params.Industry},
		{params.JobTitle != nil, "job_title", params.JobTitle},
		{params.Status != nil, "status", params.Status},
		{params.Score != nil, "score", params.Score},
		{params.TagsSet, "tags", params.Tags},
		{params.Source != nil, "source", params.Source},
		{params.Notes != nil, "notes", params.Notes},
		{params.OwnerIDSet, "owner_id", params.OwnerID},
		{params.QualifiedAt != nil, "qualified_at", params.QualifiedAt},
	}

	for _, field := range fields {
		if !field.enabled {
			continue
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", field.column, argIdx))
		args = append(args, field.value)
		argIdx++
	}

	if len(setClauses) == 0 {
		return r.GetByID(ctx, id, organizationID)
	}

	setClauses = append(setClauses, fmt.Sprintf("updated_by = $%d", argIdx), "updated_at = now()")
	args = append(args, params.UpdatedBy, id, organizationID)

	query := fmt.Sprintf(`
		UPDATE leads SET %s
		WHERE id = $%d AND organization_id = $%d AND deleted_at IS NULL
		RETURNING %s
	`, strings.Join(setClauses, ", "), argIdx+1, argIdx+2, leadColumns)

	lead, err := scanLead(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	if isUniqueViolation(err) {
		return Lead{}, ErrDuplicateEmail
	}
	return lead, err
}

// MarkQualified moves a lead from one of the from statuses to QUALIFIED.
// Notes are overwritten only when non-nil.
func (r *Repository) MarkQualified(ctx context.Context, id uuid.UUID, organizationID uuid.UUID, from []string, notes *string, actorID uuid.UUID, at time.Time) (Lead, error) {
	lead, err := scanLead(r.pool.QueryRow(ctx, `
		UPDATE leads
		SET status = 'QUALIFIED', qualified_at = $4, notes = COALESCE($5, notes),
			updated_by = $6, updated_at = now()
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL AND status = ANY($3)
		RETURNING `+leadColumns,
		id, organizationID, from, at, notes, actorID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrStatusChanged
	}
	return lead, err
}

type MarkConvertedParams struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	// From lists the statuses the lead must still be in.
	From          []string
	AccountID     uuid.UUID
	ContactID     uuid.UUID
	OpportunityID *uuid.UUID
	ActorID       uuid.UUID
	ConvertedAt   time.Time
}

// MarkConverted claims the lead for a conversion. Exactly one of several
// concurrent callers succeeds; the others get ErrStatusChanged.
func (r *Repository) MarkConverted(ctx context.Context, params MarkConvertedParams) (Lead, error) {
	lead, err := scanLead(r.pool.QueryRow(ctx, `
		UPDATE leads
		SET status = 'CONVERTED', converted_at = $4,
			converted_to_account_id = $5, converted_to_contact_id = $6, converted_to_opportunity_id = $7,
			updated_by = $8, updated_at = now()
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL AND status = ANY($3)
		RETURNING `+leadColumns,
		params.ID, params.OrganizationID, params.From, params.ConvertedAt,
		params.AccountID, params.ContactID, params.OpportunityID, params.ActorID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrStatusChanged
	}
	return lead, err
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID, organizationID uuid.UUID, actorID uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE leads SET deleted_at = now(), updated_at = now(), updated_by = $3
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
	`, id, organizationID, actorID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddTags unions tags into the lead's tag set under a row lock. The union is
// domain.MergeTags, so stored order is existing tags first, then new ones.
func (r *Repository) AddTags(ctx context.Context, id uuid.UUID, organizationID uuid.UUID, tags []string, actorID uuid.UUID) (lead Lead, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Lead{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var current []string
	err = tx.QueryRow(ctx, `
		SELECT tags FROM leads
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
		FOR UPDATE
	`, id, organizationID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		err = ErrNotFound
		return Lead{}, err
	}
	if err != nil {
		return Lead{}, err
	}

	lead, err = scanLead(tx.QueryRow(ctx, `
		UPDATE leads SET tags = $3, updated_by = $4, updated_at = now()
		WHERE id = $1 AND organization_id = $2
		RETURNING `+leadColumns,
		id, organizationID, domain.MergeTags(current, tags), actorID,
	))
	if err != nil {
		return Lead{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return Lead{}, err
	}
	return lead, nil
}

// ExistingEmails returns the lowercased emails already used by live leads.
func (r *Repository) ExistingEmails(ctx context.Context, organizationID uuid.UUID, emails []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(emails) == 0 {
		return found, nil
	}
	lowered := make([]string, len(emails))
	for i, e := range emails {
		lowered[i] = strings.ToLower(e)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT lower(email) FROM leads
		WHERE organization_id = $1 AND deleted_at IS NULL AND lower(email) = ANY($2)
	`, organizationID, lowered)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		found[email] = true
	}
	return found, rows.Err()
}

type ExportParams struct {
	OrganizationID uuid.UUID
	Status         *string
	Source         *string
	OwnerID        *uuid.UUID
	CreatedAtFrom  *time.Time
	CreatedAtTo    *time.Time
	Limit          int
}

// ListForExport returns matching live leads oldest first.
func (r *Repository) ListForExport(ctx context.Context, params ExportParams) ([]Lead, error) {
	whereClause, args, argIdx := buildExportWhere(params)
	query := fmt.Sprintf(`
		SELECT %s
		FROM leads
		WHERE %s
		ORDER BY created_at ASC, id ASC
	`, leadColumns, whereClause)
	if params.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, params.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := make([]Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

func buildExportWhere(params ExportParams) (string, []interface{}, int) {
	clauses := []string{"organization_id = $1", "deleted_at IS NULL"}
	args := []interface{}{params.OrganizationID}
	argIdx := 2

	filters := []struct {
		enabled bool
		clause  string
		value   interface{}
	}{
		{params.Status != nil, "status = $%d", params.Status},
		{params.Source != nil, "source = $%d", params.Source},
		{params.OwnerID != nil, "owner_id = $%d", params.OwnerID},
		{params.CreatedAtFrom != nil, "created_at >= $%d", params.CreatedAtFrom},
		{params.CreatedAtTo != nil, "created_at < $%d", params.CreatedAtTo},
	}
	for _, f := range filters {
		if !f.enabled {
			continue
		}
		clauses = append(clauses, fmt.Sprintf(f.clause, argIdx))
		args = append(args, f.value)
		argIdx++
	}

	return strings.Join(clauses, " AND "), args, argIdx
}
