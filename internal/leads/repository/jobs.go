package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrJobNotFound = errors.New("lead job not found")

const (
	JobKindImport = "IMPORT"
	JobKindExport = "EXPORT"

	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
)

// Job tracks an asynchronous import or export.
type Job struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Kind           string
	Status         string
	RequestedBy    *uuid.UUID
	RequestID      *string
	ItemCount      int
	Result         []byte
	Error          *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	FinishedAt     *time.Time
}

type CreateJobParams struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Kind           string
	RequestedBy    uuid.UUID
	RequestID      string
	ItemCount      int
}

const jobColumns = `id, organization_id, kind, status, requested_by, request_id, item_count, result, error,
	created_at, updated_at, finished_at`

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	err := row.Scan(
		&j.ID, &j.OrganizationID, &j.Kind, &j.Status, &j.RequestedBy, &j.RequestID, &j.ItemCount,
		&j.Result, &j.Error, &j.CreatedAt, &j.UpdatedAt, &j.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrJobNotFound
	}
	return j, err
}

func (r *Repository) CreateJob(ctx context.Context, params CreateJobParams) (Job, error) {
	var requestID *string
	if params.RequestID != "" {
		requestID = &params.RequestID
	}
	return scanJob(r.pool.QueryRow(ctx, `
		INSERT INTO lead_jobs (id, organization_id, kind, status, requested_by, request_id, item_count)
		VALUES ($1, $2, $3, 'PENDING', $4, $5, $6)
		RETURNING `+jobColumns,
		params.ID, params.OrganizationID, params.Kind, params.RequestedBy, requestID, params.ItemCount,
	))
}

func (r *Repository) GetJob(ctx context.Context, id uuid.UUID, organizationID uuid.UUID) (Job, error) {
	return scanJob(r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM lead_jobs WHERE id = $1 AND organization_id = $2
	`, id, organizationID))
}

// MarkJobRunning moves a pending job to RUNNING. Redelivered tasks for a
// job that already finished return ErrJobNotFound.
func (r *Repository) MarkJobRunning(ctx context.Context, id uuid.UUID, organizationID uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE lead_jobs SET status = 'RUNNING', updated_at = now()
		WHERE id = $1 AND organization_id = $2 AND status IN ('PENDING', 'RUNNING')
	`, id, organizationID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *Repository) CompleteJob(ctx context.Context, id uuid.UUID, organizationID uuid.UUID, result []byte) error {
	return r.finishJob(ctx, id, organizationID, JobStatusCompleted, result, nil)
}

func (r *Repository) FailJob(ctx context.Context, id uuid.UUID, organizationID uuid.UUID, message string) error {
	return r.finishJob(ctx, id, organizationID, JobStatusFailed, nil, &message)
}

func (r *Repository) finishJob(ctx context.Context, id uuid.UUID, organizationID uuid.UUID, status string, result []byte, message *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE lead_jobs
		SET status = $3, result = $4, error = $5, finished_at = now(), updated_at = now()
		WHERE id = $1 AND organization_id = $2
	`, id, organizationID, status, result, message)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// DeleteFinishedJobsBefore purges completed and failed jobs that finished
// before the given cutoffs. It spans all organizations.
func (r *Repository) DeleteFinishedJobsBefore(ctx context.Context, completedBefore, failedBefore time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM lead_jobs
		WHERE (status = 'COMPLETED' AND finished_at < $1)
		   OR (status = 'FAILED' AND finished_at < $2)
	`, completedBefore, failedBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
