// Command crmctl runs lead operations from the shell: CSV imports, exports,
// qualification and idempotent conversion. It talks to the same database and
// Redis as the API and writes audit entries synchronously.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"crm_backend/internal/audit"
	"crm_backend/internal/events"
	"crm_backend/internal/idempotency"
	"crm_backend/internal/leads"
	"crm_backend/internal/leads/repository"
	"crm_backend/platform/cache"
	"crm_backend/platform/config"
	"crm_backend/platform/db"
	"crm_backend/platform/lock"
	"crm_backend/platform/logger"
	"crm_backend/platform/validator"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const lockKeyPrefix = "lock:"

// crmInstance holds what the subcommands share once the root pre-run is done.
type crmInstance struct {
	tenantFlag string
	actorFlag  string

	tenant uuid.UUID
	actor  uuid.UUID

	log    *logger.Logger
	val    *validator.Validator
	pool   *pgxpool.Pool
	redis  *redis.Client
	bus    *events.InMemoryBus
	module *leads.Module
	// idempotent is false when Redis is unreachable; keyed conversions are refused.
	idempotent bool
}

func preRun(app *crmInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		// Cobra checks required flags only after the pre-runs.
		if err := cmd.ValidateRequiredFlags(); err != nil {
			return err
		}

		var err error
		if app.tenant, err = uuid.Parse(app.tenantFlag); err != nil {
			return fmt.Errorf("--tenant must be a UUID: %w", err)
		}
		if app.actor, err = uuid.Parse(app.actorFlag); err != nil {
			return fmt.Errorf("--actor must be a UUID: %w", err)
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		app.log = logger.NewWithWriter(cfg.Env, cmd.ErrOrStderr())

		ctx := cmd.Context()
		if app.pool, err = db.NewPool(ctx, cfg); err != nil {
			return fmt.Errorf("connect database: %w", err)
		}

		var guard *idempotency.Guard
		if app.redis, err = cache.NewRedisClient(ctx, cfg); err != nil {
			app.log.Warn("redis unavailable; idempotency keys are disabled", "error", err)
		} else {
			app.idempotent = true
			guard = idempotency.NewGuard(
				cache.NewRedisCache(app.redis, cache.Options{}),
				lock.NewRedisLocker(app.redis, lockKeyPrefix),
				idempotency.Settings{
					TTL:      cfg.GetIdempotencyTTL(),
					LockTTL:  cfg.GetIdempotencyLockTTL(),
					LockWait: cfg.GetIdempotencyLockWait(),
				},
				app.log,
			)
		}

		app.bus = events.NewInMemoryBus(app.log)
		app.val = validator.New()
		app.module = leads.NewModule(leads.Deps{
			Repo:     repository.New(app.pool),
			Guard:    guard,
			Recorder: audit.NewSyncRecorder(audit.NewPostgresSink(app.pool), app.log),
			EventBus: app.bus,
		}, app.val, cfg, app.log)
		return nil
	}
}

func postRun(app *crmInstance) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		if app.bus != nil {
			app.bus.Wait()
		}
		if app.redis != nil {
			_ = app.redis.Close()
		}
		if app.pool != nil {
			app.pool.Close()
		}
	}
}

// newCLI builds the root command and its subcommands.
func newCLI() *cobra.Command {
	app := &crmInstance{}

	rootCmd := &cobra.Command{
		Use:           "crmctl",
		Short:         "Lead operations for the CRM backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&app.tenantFlag, "tenant", "", "organization the command acts for")
	rootCmd.PersistentFlags().StringVar(&app.actorFlag, "actor", "", "user recorded as the actor")
	_ = rootCmd.MarkPersistentFlagRequired("tenant")
	_ = rootCmd.MarkPersistentFlagRequired("actor")

	rootCmd.PersistentPreRunE = preRun(app)
	rootCmd.PersistentPostRun = postRun(app)

	rootCmd.AddCommand(importCommand(app))
	rootCmd.AddCommand(exportCommand(app))
	rootCmd.AddCommand(qualifyCommand(app))
	rootCmd.AddCommand(convertCommand(app))

	return rootCmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var errNoIdempotency = errors.New("idempotency keys need Redis; check REDIS_URL")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCLI().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
