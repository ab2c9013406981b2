package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"crm_backend/internal/bulk"
	"crm_backend/internal/leads/bulkops"
	"crm_backend/internal/leads/leadstest"
	"crm_backend/internal/leads/repository"
	"crm_backend/internal/leads/transport"
	"crm_backend/internal/scheduler"
	"crm_backend/internal/storage"
	"crm_backend/platform/apperr"

	"github.com/google/uuid"
)

type queue struct {
	imports []scheduler.LeadImportPayload
	exports []scheduler.LeadExportPayload
	err     error
}

func (q *queue) EnqueueLeadImport(_ context.Context, payload scheduler.LeadImportPayload) error {
	if q.err != nil {
		return q.err
	}
	q.imports = append(q.imports, payload)
	return nil
}

func (q *queue) EnqueueLeadExport(_ context.Context, payload scheduler.LeadExportPayload) error {
	if q.err != nil {
		return q.err
	}
	q.exports = append(q.exports, payload)
	return nil
}

type files struct {
	bucket, key, contentType string
	body                     string
}

func (f *files) UploadFile(_ context.Context, bucket, folder, fileName, contentType string, reader io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	f.bucket, f.contentType, f.body = bucket, contentType, string(data)
	f.key = folder + "/" + fileName
	return f.key, nil
}

func (f *files) GenerateDownloadURL(_ context.Context, bucket, fileKey string) (*storage.PresignedURL, error) {
	return &storage.PresignedURL{URL: "https://files.test/" + bucket + "/" + fileKey, FileKey: fileKey, ExpiresAt: time.Now().Add(time.Minute)}, nil
}

func (f *files) DeleteObject(context.Context, string, string) error { return nil }

func (f *files) EnsureBucketExists(context.Context, string) error { return nil }

type fixture struct {
	svc    *Service
	store  *leadstest.Store
	queue  *queue
	files  *files
	tenant uuid.UUID
	actor  uuid.UUID
}

func newFixture(withFiles bool) *fixture {
	store := leadstest.NewStore()
	batches := bulkops.New(store, &leadstest.Recorder{}, &leadstest.Bus{}, nil, nil, bulkops.Settings{})
	f := &fixture{store: store, queue: &queue{}, tenant: uuid.New(), actor: uuid.New()}
	var fs storage.StorageService
	if withFiles {
		f.files = &files{}
		fs = f.files
	}
	f.svc = New(store, batches, f.queue, fs, bulkops.WriteCSV, Settings{MaxItems: 10, ExportBucket: "lead-exports"}, nil)
	return f
}

func TestImportJobRunsThroughQueue(t *testing.T) {
	f := newFixture(false)
	ctx := context.Background()

	accepted, err := f.svc.SubmitImport(ctx, f.tenant, f.actor, transport.ImportLeadsRequest{Rows: []transport.ImportRow{
		{"firstName": "Ada", "lastName": "Lovelace", "email": "ada@example.com"},
		{"firstName": "", "lastName": "Missing"},
	}})
	if err != nil {
		t.Fatalf("SubmitImport returned error: %v", err)
	}
	if accepted.Status != repository.JobStatusPending || len(f.queue.imports) != 1 {
		t.Fatalf("expected pending job and one enqueued task, got %+v / %d", accepted, len(f.queue.imports))
	}

	if err := f.svc.ProcessImport(ctx, f.queue.imports[0]); err != nil {
		t.Fatalf("ProcessImport returned error: %v", err)
	}

	job, err := f.svc.Get(ctx, f.tenant, accepted.JobID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if job.Status != repository.JobStatusCompleted || job.ItemCount != 2 || job.FinishedAt == nil {
		t.Fatalf("unexpected job %+v", job)
	}
	var res bulk.Result
	if err := json.Unmarshal(job.Result, &res); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if res.SuccessCount != 1 || res.FailedCount != 1 || res.Errors[0].Index != 1 {
		t.Fatalf("unexpected batch result %+v", res)
	}
}

func TestRedeliveredImportIsSkipped(t *testing.T) {
	f := newFixture(false)
	ctx := context.Background()
	accepted, _ := f.svc.SubmitImport(ctx, f.tenant, f.actor, transport.ImportLeadsRequest{Rows: []transport.ImportRow{
		{"firstName": "Ada", "lastName": "Lovelace", "email": "ada@example.com"},
	}})
	payload := f.queue.imports[0]

	if err := f.svc.ProcessImport(ctx, payload); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := f.svc.ProcessImport(ctx, payload); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	export, _ := bulkops.New(f.store, &leadstest.Recorder{}, &leadstest.Bus{}, nil, nil, bulkops.Settings{}).
		Export(ctx, f.tenant, transport.ExportLeadsRequest{})
	if export.Total != 1 {
		t.Fatalf("expected the import to run once, found %d leads", export.Total)
	}
	job, _ := f.store.Job(accepted.JobID)
	if job.Status != repository.JobStatusCompleted {
		t.Fatalf("expected job to stay completed, got %s", job.Status)
	}
}

func TestSubmitImportMarksJobFailedWhenQueueIsDown(t *testing.T) {
	f := newFixture(false)
	f.queue.err = errors.New("redis unavailable")

	_, err := f.svc.SubmitImport(context.Background(), f.tenant, f.actor, transport.ImportLeadsRequest{Rows: []transport.ImportRow{{"firstName": "A"}}})
	if !apperr.Is(err, apperr.KindInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestSubmitImportRejectsOversizedAndEmptyBatches(t *testing.T) {
	f := newFixture(false)
	rows := make([]transport.ImportRow, 11)

	if _, err := f.svc.SubmitImport(context.Background(), f.tenant, f.actor, transport.ImportLeadsRequest{Rows: rows}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for oversized batch, got %v", err)
	}
	if _, err := f.svc.SubmitImport(context.Background(), f.tenant, f.actor, transport.ImportLeadsRequest{}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for empty batch, got %v", err)
	}
	if len(f.queue.imports) != 0 {
		t.Fatal("nothing should be enqueued")
	}
}

func TestExportJobUploadsCSV(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()
	f.store.SeedLead(repository.Lead{OrganizationID: f.tenant, FirstName: "Ada", LastName: "Lovelace", Status: "QUALIFIED"})
	f.store.SeedLead(repository.Lead{OrganizationID: f.tenant, FirstName: "Grace", LastName: "Hopper", Status: "NEW"})
	status := transport.LeadStatusQualified

	accepted, err := f.svc.SubmitExport(ctx, f.tenant, f.actor, transport.ExportLeadsRequest{Status: &status})
	if err != nil {
		t.Fatalf("SubmitExport returned error: %v", err)
	}
	if *f.queue.exports[0].Status != "QUALIFIED" {
		t.Fatalf("expected status filter in payload, got %+v", f.queue.exports[0])
	}
	if err := f.svc.ProcessExport(ctx, f.queue.exports[0]); err != nil {
		t.Fatalf("ProcessExport returned error: %v", err)
	}

	if f.files.bucket != "lead-exports" || f.files.contentType != "text/csv" {
		t.Fatalf("unexpected upload %+v", f.files)
	}
	lines := strings.Split(strings.TrimSpace(f.files.body), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "Ada") {
		t.Fatalf("unexpected csv %q", f.files.body)
	}

	job, _ := f.svc.Get(ctx, f.tenant, accepted.JobID)
	var res ExportResult
	if err := json.Unmarshal(job.Result, &res); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if res.Total != 1 || !strings.HasPrefix(res.DownloadURL, "https://files.test/lead-exports/"+f.tenant.String()) {
		t.Fatalf("unexpected export result %+v", res)
	}
}

func TestSubmitExportNeedsStorage(t *testing.T) {
	f := newFixture(false)

	_, err := f.svc.SubmitExport(context.Background(), f.tenant, f.actor, transport.ExportLeadsRequest{})
	if !apperr.Is(err, apperr.KindPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestExportJobRecordsFilterFailure(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()
	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)

	accepted, _ := f.svc.SubmitExport(ctx, f.tenant, f.actor, transport.ExportLeadsRequest{CreatedFrom: &from, CreatedTo: &to})
	err := f.svc.ProcessExport(ctx, f.queue.exports[0])
	if !errors.Is(err, scheduler.ErrPermanent) {
		t.Fatalf("expected a permanent failure, got %v", err)
	}

	job, _ := f.svc.Get(ctx, f.tenant, accepted.JobID)
	if job.Status != repository.JobStatusFailed || job.Error == nil || *job.Error != "createdFrom must be before createdTo" {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestGetHidesOtherTenantsJobs(t *testing.T) {
	f := newFixture(false)
	accepted, _ := f.svc.SubmitImport(context.Background(), f.tenant, f.actor, transport.ImportLeadsRequest{Rows: []transport.ImportRow{{"firstName": "A"}}})

	_, err := f.svc.Get(context.Background(), uuid.New(), accepted.JobID)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestProcessRejectsMalformedPayload(t *testing.T) {
	f := newFixture(false)

	err := f.svc.ProcessImport(context.Background(), scheduler.LeadImportPayload{JobID: "nope"})
	if !errors.Is(err, scheduler.ErrPermanent) {
		t.Fatalf("expected a permanent failure, got %v", err)
	}
}
