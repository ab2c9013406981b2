package scheduler

import (
	"context"
	"time"

	"crm_backend/platform/cache"
	"crm_backend/platform/config"

	"github.com/hibiken/asynq"
)

// jobRetention keeps finished task metadata in Redis for inspection.
const jobRetention = 24 * time.Hour

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	opt, err := redisClientOpt(cfg.GetRedisURL(), cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queueName(cfg),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueLeadImport schedules an import. The job id doubles as the task id so
// a repeated enqueue of the same job is rejected by asynq.
func (c *Client) EnqueueLeadImport(ctx context.Context, payload LeadImportPayload) error {
	task, err := NewLeadImportTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task, payload.JobID)
}

func (c *Client) EnqueueLeadExport(ctx context.Context, payload LeadExportPayload) error {
	task, err := NewLeadExportTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task, payload.JobID)
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task, jobID string) error {
	_, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.TaskID(jobID),
		asynq.MaxRetry(3),
		asynq.Retention(jobRetention),
	)
	return err
}

func queueName(cfg config.SchedulerConfig) string {
	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}
	return queue
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := cache.ParseRedisOptions(redisURL, tlsInsecure)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Username:  opt.Username,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}, nil
}
