package scheduler

import (
	"context"

	"crm_backend/platform/config"
	"crm_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// LeadJobProcessor executes the lead jobs the worker receives.
type LeadJobProcessor interface {
	ProcessImport(ctx context.Context, payload LeadImportPayload) error
	ProcessExport(ctx context.Context, payload LeadExportPayload) error
}

type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor LeadJobProcessor
	log       *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, processor LeadJobProcessor, log *logger.Logger) (*Worker, error) {
	opt, err := redisClientOpt(cfg.GetRedisURL(), cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error("lead job task failed", "task", task.Type(), "error", err)
		}),
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:    server,
		mux:       mux,
		processor: processor,
		log:       log,
	}

	mux.HandleFunc(TaskLeadImport, w.handleLeadImport)
	mux.HandleFunc(TaskLeadExport, w.handleLeadExport)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleLeadImport(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseLeadImportPayload(task)
	if err != nil {
		// A payload that cannot be decoded will never succeed.
		return skipRetry(err)
	}
	ctx = logger.ContextWithRequestID(ctx, payload.RequestID)
	return retryable(w.processor.ProcessImport(ctx, payload))
}

func (w *Worker) handleLeadExport(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseLeadExportPayload(task)
	if err != nil {
		return skipRetry(err)
	}
	ctx = logger.ContextWithRequestID(ctx, payload.RequestID)
	return retryable(w.processor.ProcessExport(ctx, payload))
}
