// Package ingest consumes dispatch requests from a Pub/Sub subscription.
// It is the asynchronous front door: upstream services publish an envelope
// instead of calling the HTTP API.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub/v2"

	"github.com/tinywideclouds/go-push-dispatch/internal/engine"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// Envelope kinds accepted on the wire.
const (
	KindNotify    = "notify"
	KindPlatform  = "platform"
	KindData      = "data"
	KindTopic     = "topic"
	KindBroadcast = "broadcast"
)

// Envelope is the wire format of one dispatch request.
type Envelope struct {
	Kind        string            `json:"kind"`
	RecipientID string            `json:"recipient_id,omitempty"`
	Platform    string            `json:"platform,omitempty"`
	Topic       string            `json:"topic,omitempty"`
	Intent      push.Intent       `json:"intent"`
	Data        map[string]string `json:"data,omitempty"`
}

// Subscriber is the subset of pubsub.Subscriber the consumer needs.
type Subscriber interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type Consumer struct {
	sub    Subscriber
	engine *engine.Engine
	logger *slog.Logger
}

func NewConsumer(sub Subscriber, eng *engine.Engine, logger *slog.Logger) *Consumer {
	return &Consumer{
		sub:    sub,
		engine: eng,
		logger: logger.With("component", "IngestConsumer"),
	}
}

// Run blocks receiving messages until ctx is cancelled.
//
// Poison messages (malformed JSON, unknown kinds, invalid intents) are acked
// and dropped: redelivery cannot fix them. Transport-level failures are
// nacked so Pub/Sub redelivers once the upstream recovers.
func (c *Consumer) Run(ctx context.Context) error {
	return c.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		err := c.handle(ctx, m.Data)
		if err == nil {
			m.Ack()
			return
		}

		if isPoison(err) {
			c.logger.Warn("dropping poison message", "err", err, "pubsub_msg_id", m.ID)
			m.Ack()
			return
		}

		c.logger.Error("dispatch failed, requesting redelivery", "err", err, "pubsub_msg_id", m.ID)
		m.Nack()
	})
}

// DispatchEnvelope runs one envelope against the engine. Shared with the
// queue worker, which consumes the same wire format.
func DispatchEnvelope(ctx context.Context, eng *engine.Engine, env Envelope) (*push.DispatchResult, error) {
	switch env.Kind {
	case KindNotify:
		return eng.NotifyRecipient(ctx, env.RecipientID, env.Intent)
	case KindPlatform:
		platform, ok := push.ParsePlatform(env.Platform)
		if !ok {
			return nil, fmt.Errorf("%w: unknown platform %q", push.ErrInvalidIntent, env.Platform)
		}
		return eng.NotifyPlatform(ctx, env.RecipientID, platform, env.Intent)
	case KindData:
		return eng.SendDataOnly(ctx, env.RecipientID, env.Data)
	case KindTopic:
		return eng.NotifyTopic(ctx, env.Topic, env.Intent)
	case KindBroadcast:
		return eng.Broadcast(ctx, env.Intent)
	default:
		return nil, fmt.Errorf("%w: unknown envelope kind %q", push.ErrInvalidIntent, env.Kind)
	}
}

// handle decodes and dispatches one envelope. Split from Run so tests can
// exercise it without a live subscription.
func (c *Consumer) handle(ctx context.Context, data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: malformed envelope: %s", push.ErrInvalidIntent, err)
	}

	res, err := DispatchEnvelope(ctx, c.engine, env)
	if err != nil {
		return err
	}
	if res.FullyFailed() {
		return fmt.Errorf("dispatch fully failed: %d tokens, none delivered", res.Attempted)
	}

	c.logger.Info("envelope dispatched",
		"kind", env.Kind,
		"recipient_id", env.RecipientID,
		"delivered", res.Delivered,
		"attempted", res.Attempted,
	)
	return nil
}

func isPoison(err error) bool {
	return errors.Is(err, push.ErrInvalidIntent)
}
