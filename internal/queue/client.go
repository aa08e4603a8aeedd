// Package queue moves dispatch requests through Redis via asynq. Large
// broadcasts and bulk campaigns run on worker processes instead of blocking
// an API request.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/tinywideclouds/go-push-dispatch/internal/ingest"
)

// TypeDispatch is the asynq task type for every queued dispatch. The payload
// is the same envelope the Pub/Sub ingestion consumes.
const TypeDispatch = "push:dispatch"

// Client wraps asynq.Client for enqueuing dispatch tasks.
type Client struct {
	client *asynq.Client
	logger *slog.Logger
}

func NewClient(redisAddr, redisPassword string, logger *slog.Logger) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     redisAddr,
			Password: redisPassword,
		}),
		logger: logger.With("component", "QueueClient"),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueDispatch queues one envelope for asynchronous delivery and returns
// the job id.
func (c *Client) EnqueueDispatch(ctx context.Context, env ingest.Envelope, opts ...asynq.Option) (string, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal dispatch envelope: %w", err)
	}

	jobID := uuid.NewString()
	opts = append([]asynq.Option{
		asynq.TaskID(jobID),
		asynq.MaxRetry(5),
		asynq.Timeout(5 * time.Minute),
	}, opts...)

	info, err := c.client.EnqueueContext(ctx, asynq.NewTask(TypeDispatch, payload), opts...)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue dispatch: %w", err)
	}

	c.logger.Info("dispatch enqueued", "job_id", info.ID, "queue", info.Queue, "kind", env.Kind)
	return info.ID, nil
}

// EnqueueBroadcast queues a broadcast on the low-priority queue so bulk
// campaigns never starve direct notifications.
func (c *Client) EnqueueBroadcast(ctx context.Context, env ingest.Envelope) (string, error) {
	if env.Kind != ingest.KindBroadcast {
		return "", fmt.Errorf("envelope kind %q is not a broadcast", env.Kind)
	}
	return c.EnqueueDispatch(ctx, env, asynq.Queue("low"), asynq.Timeout(time.Hour))
}
