package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tinywideclouds/go-push-dispatch/internal/engine"
	"github.com/tinywideclouds/go-push-dispatch/internal/ingest"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
	"github.com/tinywideclouds/go-push-dispatch/pkg/retry"
)

// Handlers processes queued dispatch tasks against the engine.
type Handlers struct {
	engine *engine.Engine
	retry  retry.Config
	logger *slog.Logger
}

func NewHandlers(eng *engine.Engine, logger *slog.Logger) *Handlers {
	return &Handlers{
		engine: eng,
		retry: retry.Config{
			MaxAttempts:    3,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     30 * time.Second,
		},
		logger: logger.With("component", "QueueHandlers"),
	}
}

// HandleDispatch runs one queued envelope. Transient upstream outages are
// retried in-process with backoff before the task is handed back to asynq;
// poison envelopes are dropped with SkipRetry since redelivery cannot fix
// them.
func (h *Handlers) HandleDispatch(ctx context.Context, task *asynq.Task) error {
	var env ingest.Envelope
	if err := json.Unmarshal(task.Payload(), &env); err != nil {
		return fmt.Errorf("malformed task payload: %v: %w", err, asynq.SkipRetry)
	}

	var poisonErr error
	err := retry.Do(ctx, h.retry, func() error {
		res, err := ingest.DispatchEnvelope(ctx, h.engine, env)
		if errors.Is(err, push.ErrInvalidIntent) {
			// Deterministic rejection; retrying cannot fix it, so stop the
			// backoff loop on the first attempt.
			poisonErr = err
			return nil
		}
		if err != nil {
			return err
		}
		if res.FullyFailed() {
			return fmt.Errorf("dispatch fully failed: %d tokens, none delivered", res.Attempted)
		}
		h.logger.Info("queued dispatch done",
			"kind", env.Kind,
			"recipient_id", env.RecipientID,
			"delivered", res.Delivered,
			"attempted", res.Attempted,
		)
		return nil
	})
	if poisonErr != nil {
		h.logger.Warn("dropping poison dispatch task", "err", poisonErr)
		return fmt.Errorf("%v: %w", poisonErr, asynq.SkipRetry)
	}
	return err
}
