package scheduler

import (
	"context"
	"time"

	"crm_backend/platform/logger"
)

const (
	defaultLeadJobCleanupInterval = time.Hour
	defaultCompletedJobRetention  = 7 * 24 * time.Hour
	defaultFailedJobRetention     = 30 * 24 * time.Hour
)

// FinishedJobPurger deletes finished lead jobs older than the cutoffs.
type FinishedJobPurger interface {
	DeleteFinishedJobsBefore(ctx context.Context, completedBefore, failedBefore time.Time) (int64, error)
}

// LeadJobCleanup periodically removes old finished import/export jobs.
type LeadJobCleanup struct {
	repo               FinishedJobPurger
	log                *logger.Logger
	interval           time.Duration
	completedRetention time.Duration
	failedRetention    time.Duration
	now                func() time.Time
}

func NewLeadJobCleanup(repo FinishedJobPurger, log *logger.Logger, interval, completedRetention, failedRetention time.Duration) *LeadJobCleanup {
	if interval <= 0 {
		interval = defaultLeadJobCleanupInterval
	}
	if completedRetention <= 0 {
		completedRetention = defaultCompletedJobRetention
	}
	if failedRetention <= 0 {
		failedRetention = defaultFailedJobRetention
	}
	if log == nil {
		log = logger.Nop()
	}

	return &LeadJobCleanup{
		repo:               repo,
		log:                log,
		interval:           interval,
		completedRetention: completedRetention,
		failedRetention:    failedRetention,
		now:                time.Now,
	}
}

func (c *LeadJobCleanup) Run(ctx context.Context) {
	if c == nil || c.repo == nil {
		return
	}

	c.cleanup(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

func (c *LeadJobCleanup) cleanup(ctx context.Context) int64 {
	now := c.now()
	deleted, err := c.repo.DeleteFinishedJobsBefore(ctx, now.Add(-c.completedRetention), now.Add(-c.failedRetention))
	if err != nil {
		c.log.Warn("lead job cleanup failed", "error", err)
		return 0
	}

	if deleted > 0 {
		c.log.Info("lead job cleanup deleted finished jobs", "deleted", deleted)
	}
	return deleted
}
