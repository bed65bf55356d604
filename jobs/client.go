package jobs

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// Client enqueues jobs from request paths.
type Client struct {
	client *asynq.Client
}

// NewClient constructs a Client over redisOpts.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueAccessWarmup preloads the access snapshots of userIDs, typically
// right after their grants changed. Identical requests within a minute collapse.
func (c *Client) EnqueueAccessWarmup(ctx context.Context, userIDs ...int64) (*asynq.TaskInfo, error) {
	task, err := NewAccessWarmupTask(userIDs...)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Unique(time.Minute),
	)
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}
