package jobs

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// Client enqueues on-demand tasks.
type Client struct {
	client *asynq.Client
}

// NewClient connects a client to the queue's Redis.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueWarrantyScan queues a warranty expiry scan outside the cron schedule.
// A scan for the same window that is still pending, running or awaiting retry
// is reported as asynq.ErrTaskIDConflict. Completed scans free the id.
func (c *Client) EnqueueWarrantyScan(ctx context.Context, window time.Duration) (*asynq.TaskInfo, error) {
	task, err := NewWarrantyScanTask(window)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, warrantyScanOptions(window)...)
}

func warrantyScanOptions(window time.Duration) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.TaskID(TaskWarrantyExpiryScan + ":" + window.String()),
	}
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}
