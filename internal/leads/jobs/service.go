// Package jobs runs lead imports and exports in the background. Job state is
// kept in the lead_jobs table; the work itself is executed by the asynq worker.
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"crm_backend/internal/bulk"
	"crm_backend/internal/leads/repository"
	"crm_backend/internal/leads/transport"
	"crm_backend/internal/scheduler"
	"crm_backend/internal/storage"
	"crm_backend/platform/apperr"
	"crm_backend/platform/logger"

	"github.com/google/uuid"
)

// Enqueuer hands job payloads to the task queue.
type Enqueuer interface {
	EnqueueLeadImport(ctx context.Context, payload scheduler.LeadImportPayload) error
	EnqueueLeadExport(ctx context.Context, payload scheduler.LeadExportPayload) error
}

// LeadBatches is the bulk engine surface the jobs execute.
type LeadBatches interface {
	Import(ctx context.Context, tenantID, actorID uuid.UUID, req transport.ImportLeadsRequest) (bulk.Result, error)
	Export(ctx context.Context, tenantID uuid.UUID, req transport.ExportLeadsRequest) (transport.ExportLeadsResponse, error)
}

// CSVWriter renders exported leads.
type CSVWriter func(w io.Writer, leads []transport.ExportedLead) error

// ExportResult is stored on a finished export job.
type ExportResult struct {
	Total       int       `json:"total"`
	FileKey     string    `json:"fileKey"`
	DownloadURL string    `json:"downloadUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type Settings struct {
	MaxItems     int
	ExportBucket string
}

type Service struct {
	repo     repository.JobStore
	batches  LeadBatches
	queue    Enqueuer
	files    storage.StorageService
	writeCSV CSVWriter
	settings Settings
	log      *logger.Logger
}

// New creates the job service. files may be nil, which disables async exports.
func New(repo repository.JobStore, batches LeadBatches, queue Enqueuer, files storage.StorageService, writeCSV CSVWriter, settings Settings, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:     repo,
		batches:  batches,
		queue:    queue,
		files:    files,
		writeCSV: writeCSV,
		settings: settings,
		log:      log,
	}
}

// SubmitImport records a pending import job and enqueues it.
func (s *Service) SubmitImport(ctx context.Context, tenantID, actorID uuid.UUID, req transport.ImportLeadsRequest) (transport.JobAcceptedResponse, error) {
	if err := bulk.CheckSize(len(req.Rows), s.settings.MaxItems); err != nil {
		return transport.JobAcceptedResponse{}, err
	}
	if len(req.Rows) == 0 {
		return transport.JobAcceptedResponse{}, apperr.Validation("import contains no rows")
	}

	job, err := s.create(ctx, tenantID, actorID, repository.JobKindImport, len(req.Rows))
	if err != nil {
		return transport.JobAcceptedResponse{}, err
	}

	rows := make([]map[string]string, len(req.Rows))
	for i, row := range req.Rows {
		rows[i] = row
	}
	err = s.queue.EnqueueLeadImport(ctx, scheduler.LeadImportPayload{
		JobID:     job.ID.String(),
		TenantID:  tenantID.String(),
		ActorID:   actorID.String(),
		RequestID: logger.RequestIDFromContext(ctx),
		Rows:      rows,
		Source:    req.Source,
	})
	if err != nil {
		return transport.JobAcceptedResponse{}, s.enqueueFailed(ctx, job, err)
	}
	return transport.JobAcceptedResponse{JobID: job.ID, Status: job.Status}, nil
}

// SubmitExport records a pending export job and enqueues it.
func (s *Service) SubmitExport(ctx context.Context, tenantID, actorID uuid.UUID, req transport.ExportLeadsRequest) (transport.JobAcceptedResponse, error) {
	if s.files == nil {
		return transport.JobAcceptedResponse{}, apperr.Precondition("export storage is not configured")
	}

	job, err := s.create(ctx, tenantID, actorID, repository.JobKindExport, 0)
	if err != nil {
		return transport.JobAcceptedResponse{}, err
	}

	payload := scheduler.LeadExportPayload{
		JobID:       job.ID.String(),
		TenantID:    tenantID.String(),
		ActorID:     actorID.String(),
		RequestID:   logger.RequestIDFromContext(ctx),
		Source:      req.Source,
		CreatedFrom: req.CreatedFrom,
		CreatedTo:   req.CreatedTo,
	}
	if req.Status != nil {
		status := string(*req.Status)
		payload.Status = &status
	}
	if req.OwnerID != nil {
		owner := req.OwnerID.String()
		payload.OwnerID = &owner
	}
	if err := s.queue.EnqueueLeadExport(ctx, payload); err != nil {
		return transport.JobAcceptedResponse{}, s.enqueueFailed(ctx, job, err)
	}
	return transport.JobAcceptedResponse{JobID: job.ID, Status: job.Status}, nil
}

// Get returns a job of the tenant.
func (s *Service) Get(ctx context.Context, tenantID, jobID uuid.UUID) (transport.JobResponse, error) {
	job, err := s.repo.GetJob(ctx, jobID, tenantID)
	if errors.Is(err, repository.ErrJobNotFound) {
		return transport.JobResponse{}, apperr.NotFound("Job not found").
			WithDetails(map[string]interface{}{"entityType": "Job", "entityId": jobID})
	}
	if err != nil {
		return transport.JobResponse{}, apperr.Wrap(apperr.KindInternal, "load job", err)
	}
	return transport.ToJobResponse(job), nil
}

// ProcessImport runs an enqueued import. Failures are recorded on the job.
func (s *Service) ProcessImport(ctx context.Context, payload scheduler.LeadImportPayload) error {
	ids, err := parseIDs(payload.JobID, payload.TenantID, payload.ActorID)
	if err != nil {
		return scheduler.Permanent(err)
	}
	if ok, err := s.start(ctx, ids); !ok {
		return err
	}

	rows := make([]transport.ImportRow, len(payload.Rows))
	for i, row := range payload.Rows {
		rows[i] = row
	}
	res, err := s.batches.Import(ctx, ids.tenant, ids.actor, transport.ImportLeadsRequest{Rows: rows, Source: payload.Source})
	if err != nil {
		return s.fail(ctx, ids, err)
	}
	return s.complete(ctx, ids, res)
}

// ProcessExport runs an enqueued export, uploads the CSV file and stores a
// presigned download link on the job.
func (s *Service) ProcessExport(ctx context.Context, payload scheduler.LeadExportPayload) error {
	ids, err := parseIDs(payload.JobID, payload.TenantID, payload.ActorID)
	if err != nil {
		return scheduler.Permanent(err)
	}
	if ok, err := s.start(ctx, ids); !ok {
		return err
	}
	if s.files == nil {
		return s.fail(ctx, ids, apperr.Precondition("export storage is not configured"))
	}

	req, err := exportRequest(payload)
	if err != nil {
		return s.fail(ctx, ids, err)
	}
	export, err := s.batches.Export(ctx, ids.tenant, req)
	if err != nil {
		return s.fail(ctx, ids, err)
	}

	var buf bytes.Buffer
	if err := s.writeCSV(&buf, export.Items); err != nil {
		return s.fail(ctx, ids, err)
	}
	folder := path.Join(ids.tenant.String(), "lead-exports")
	fileKey, err := s.files.UploadFile(ctx, s.settings.ExportBucket, folder, "leads.csv", "text/csv", &buf, int64(buf.Len()))
	if err != nil {
		return err
	}
	link, err := s.files.GenerateDownloadURL(ctx, s.settings.ExportBucket, fileKey)
	if err != nil {
		return err
	}

	return s.complete(ctx, ids, ExportResult{
		Total:       export.Total,
		FileKey:     fileKey,
		DownloadURL: link.URL,
		ExpiresAt:   link.ExpiresAt,
	})
}

type jobIDs struct {
	job, tenant, actor uuid.UUID
}

func parseIDs(jobID, tenantID, actorID string) (jobIDs, error) {
	var ids jobIDs
	var err error
	if ids.job, err = uuid.Parse(jobID); err != nil {
		return jobIDs{}, fmt.Errorf("job id: %w", err)
	}
	if ids.tenant, err = uuid.Parse(tenantID); err != nil {
		return jobIDs{}, fmt.Errorf("tenant id: %w", err)
	}
	if ids.actor, err = uuid.Parse(actorID); err != nil {
		return jobIDs{}, fmt.Errorf("actor id: %w", err)
	}
	return ids, nil
}

func exportRequest(payload scheduler.LeadExportPayload) (transport.ExportLeadsRequest, error) {
	req := transport.ExportLeadsRequest{
		Source:      payload.Source,
		CreatedFrom: payload.CreatedFrom,
		CreatedTo:   payload.CreatedTo,
	}
	if payload.Status != nil {
		status := transport.LeadStatus(*payload.Status)
		req.Status = &status
	}
	if payload.OwnerID != nil {
		owner, err := uuid.Parse(*payload.OwnerID)
		if err != nil {
			return transport.ExportLeadsRequest{}, apperr.Validation("ownerId must be a UUID")
		}
		req.OwnerID = &owner
	}
	return req, nil
}

func (s *Service) create(ctx context.Context, tenantID, actorID uuid.UUID, kind string, items int) (repository.Job, error) {
	job, err := s.repo.CreateJob(ctx, repository.CreateJobParams{
		ID:             uuid.New(),
		OrganizationID: tenantID,
		Kind:           kind,
		RequestedBy:    actorID,
		RequestID:      logger.RequestIDFromContext(ctx),
		ItemCount:      items,
	})
	if err != nil {
		return repository.Job{}, apperr.Wrap(apperr.KindInternal, "create job", err)
	}
	return job, nil
}

func (s *Service) enqueueFailed(ctx context.Context, job repository.Job, cause error) error {
	if err := s.repo.FailJob(ctx, job.ID, job.OrganizationID, "could not enqueue job"); err != nil {
		s.log.WithContext(ctx).DatabaseError("fail job", err)
	}
	return apperr.Wrap(apperr.KindInternal, "enqueue job", cause)
}

// start claims the job. Redelivered tasks of finished jobs are dropped.
func (s *Service) start(ctx context.Context, ids jobIDs) (bool, error) {
	err := s.repo.MarkJobRunning(ctx, ids.job, ids.tenant)
	if errors.Is(err, repository.ErrJobNotFound) {
		s.log.WithContext(ctx).Info("skipping finished or unknown lead job", "job_id", ids.job)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mark job %s running: %w", ids.job, err)
	}
	return true, nil
}

func (s *Service) complete(ctx context.Context, ids jobIDs, result interface{}) error {
	data, err := json.Marshal(result)
	if err != nil {
		return s.fail(ctx, ids, err)
	}
	if err := s.repo.CompleteJob(ctx, ids.job, ids.tenant, data); err != nil {
		return fmt.Errorf("complete job %s: %w", ids.job, err)
	}
	return nil
}

// fail records a job failure. Typed errors carry their message to the
// job; anything else is stored as a generic failure.
func (s *Service) fail(ctx context.Context, ids jobIDs, cause error) error {
	message := "job failed"
	if appErr, ok := apperr.As(cause); ok {
		message = appErr.Message
	}
	s.log.WithContext(ctx).Error("lead job failed", "job_id", ids.job, "error", cause)
	if err := s.repo.FailJob(ctx, ids.job, ids.tenant, message); err != nil {
		return fmt.Errorf("fail job %s: %w", ids.job, err)
	}
	return scheduler.Permanent(cause)
}
