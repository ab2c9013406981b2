package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"crm_backend/internal/audit"
	"crm_backend/internal/events"
	"crm_backend/internal/leads"
	"crm_backend/internal/leads/repository"
	"crm_backend/internal/scheduler"
	"crm_backend/internal/storage"
	"crm_backend/platform/config"
	"crm_backend/platform/db"
	"crm_backend/platform/logger"
	"crm_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting worker", "env", cfg.Env, "queue", cfg.GetAsynqQueueName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)
	audit.Subscribe(eventBus, audit.NewPostgresSink(pool), log)

	var files storage.StorageService
	if cfg.IsMinIOEnabled() {
		svc, err := storage.NewMinIOService(cfg)
		if err != nil {
			log.Error("failed to initialize storage service", "error", err)
			panic("failed to initialize storage service: " + err.Error())
		}
		files = svc
	} else {
		log.Warn("MINIO_ENDPOINT not configured; lead export jobs will fail")
	}

	repo := repository.New(pool)

	// Worker-side lead wiring; no HTTP handlers and no conversions run here.
	leadsModule := leads.NewModule(leads.Deps{
		Repo:     repo,
		Recorder: audit.NewBusRecorder(eventBus),
		EventBus: eventBus,
		Files:    files,
	}, validator.New(), cfg, log)

	cleanupInterval := getDurationEnv("LEAD_JOB_CLEANUP_INTERVAL", time.Hour)
	completedRetention := time.Duration(getPositiveIntEnv("LEAD_JOB_COMPLETED_RETENTION_DAYS", 7)) * 24 * time.Hour
	failedRetention := time.Duration(getPositiveIntEnv("LEAD_JOB_FAILED_RETENTION_DAYS", 30)) * 24 * time.Hour
	jobCleanup := scheduler.NewLeadJobCleanup(repo, log, cleanupInterval, completedRetention, failedRetention)
	go jobCleanup.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, leadsModule.Jobs(), log)
	if err != nil {
		log.Error("failed to initialize lead job worker", "error", err)
		panic("failed to initialize lead job worker: " + err.Error())
	}

	worker.Run(ctx)
	eventBus.Wait()
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}

func getPositiveIntEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}

	return parsed
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}

	return parsed
}
