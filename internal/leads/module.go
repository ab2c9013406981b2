// Package leads provides the lead bounded context module.
// This file wires the lead services and mounts their routes.
package leads

import (
	"crm_backend/internal/audit"
	"crm_backend/internal/events"
	apphttp "crm_backend/internal/http"
	"crm_backend/internal/idempotency"
	"crm_backend/internal/leads/bulkops"
	"crm_backend/internal/leads/conversion"
	"crm_backend/internal/leads/handler"
	"crm_backend/internal/leads/jobs"
	"crm_backend/internal/leads/lifecycle"
	"crm_backend/internal/leads/repository"
	"crm_backend/internal/storage"
	"crm_backend/platform/config"
	"crm_backend/platform/logger"
	"crm_backend/platform/validator"
)

// Config is the configuration the leads module reads.
type Config interface {
	config.BulkConfig
	GetMinioBucketLeadExports() string
}

// Deps are the collaborators shared with other modules. Queue and Files are
// optional: without a queue the async routes answer 503, without files async
// exports are refused.
type Deps struct {
	Repo     repository.LeadsRepository
	Guard    *idempotency.Guard
	Recorder audit.Recorder
	EventBus events.Bus
	Queue    jobs.Enqueuer
	Files    storage.StorageService
}

// Module is the leads bounded context module implementing http.Module.
type Module struct {
	handler    *handler.Handler
	lifecycle  *lifecycle.Service
	conversion *conversion.Service
	bulk       *bulkops.Service
	jobs       *jobs.Service
}

// NewModule creates the leads module with all its services.
func NewModule(deps Deps, val *validator.Validator, cfg Config, log *logger.Logger) *Module {
	if log == nil {
		log = logger.Nop()
	}

	lifecycleSvc := lifecycle.New(deps.Repo, deps.Recorder, deps.EventBus)
	conversionSvc := conversion.New(deps.Repo, deps.Guard, deps.Recorder, deps.EventBus, log)
	bulkSvc := bulkops.New(deps.Repo, deps.Recorder, deps.EventBus, val, log, bulkops.Settings{
		MaxItems:    cfg.GetBulkMaxItems(),
		Concurrency: cfg.GetBulkConcurrency(),
	})
	jobsSvc := jobs.New(deps.Repo, bulkSvc, deps.Queue, deps.Files, bulkops.WriteCSV, jobs.Settings{
		MaxItems:     cfg.GetBulkMaxItems(),
		ExportBucket: cfg.GetMinioBucketLeadExports(),
	}, log)

	var asyncJobs *jobs.Service
	if deps.Queue != nil {
		asyncJobs = jobsSvc
	}

	return &Module{
		handler:    handler.New(lifecycleSvc, conversionSvc, bulkSvc, asyncJobs, val),
		lifecycle:  lifecycleSvc,
		conversion: conversionSvc,
		bulk:       bulkSvc,
		jobs:       jobsSvc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// Lifecycle returns the qualification service.
func (m *Module) Lifecycle() *lifecycle.Service { return m.lifecycle }

// Conversion returns the conversion orchestrator.
func (m *Module) Conversion() *conversion.Service { return m.conversion }

// Bulk returns the bulk operation engine.
func (m *Module) Bulk() *bulkops.Service { return m.bulk }

// Jobs returns the job service. The worker uses it to process queued tasks.
func (m *Module) Jobs() *jobs.Service { return m.jobs }

// RegisterRoutes mounts leads routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/leads"))
}

var _ apphttp.Module = (*Module)(nil)
