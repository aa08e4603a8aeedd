// Package apns adapts the Apple Push Notification Service to the
// push.Gateway contract.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file.
	P8KeyContent string
}

type Gateway struct {
	client APNSClient
	topic  string // the app bundle id
	logger *slog.Logger
}

// New parses the P8 key immediately to fail fast on startup if the
// credentials are bad.
func New(cfg Config, logger *slog.Logger) (*Gateway, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	return NewWithClient(client, cfg.BundleID, logger), nil
}

// NewWithClient wires an already-built client; used by tests.
func NewWithClient(client APNSClient, bundleID string, logger *slog.Logger) *Gateway {
	return &Gateway{
		client: client,
		topic:  bundleID,
		logger: logger.With("component", "APNSGateway"),
	}
}

// SendToTokens delivers to a batch of APNs tokens. The APNs HTTP/2 API is
// unary, so a batch is a sequential loop; the engine's worker pool provides
// the parallelism across chunks.
func (g *Gateway) SendToTokens(ctx context.Context, msg *push.Message, tokens []string) ([]push.DeliveryOutcome, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if len(tokens) > push.BatchLimit {
		return nil, fmt.Errorf("apns: batch of %d exceeds the limit of %d", len(tokens), push.BatchLimit)
	}

	body := payloadFor(msg)
	outcomes := make([]push.DeliveryOutcome, len(tokens))
	for i, tok := range tokens {
		if err := ctx.Err(); err != nil {
			return nil, &push.TransportError{Op: "apns.push", Err: err}
		}
		outcomes[i] = g.pushOne(body, tok)
	}
	return outcomes, nil
}

func (g *Gateway) SendToToken(ctx context.Context, msg *push.Message, tok string) (push.DeliveryOutcome, error) {
	if err := ctx.Err(); err != nil {
		return push.DeliveryOutcome{}, &push.TransportError{Op: "apns.push", Err: err}
	}
	return g.pushOne(payloadFor(msg), tok), nil
}

// SendToTopic is not available: APNs topics are app bundle ids, not
// broadcast channels.
func (g *Gateway) SendToTopic(_ context.Context, _ *push.Message, _ string) error {
	return push.ErrTopicsUnsupported
}

func (g *Gateway) SubscribeToTopic(_ context.Context, _ []string, _ string) ([]push.DeliveryOutcome, error) {
	return nil, push.ErrTopicsUnsupported
}

func (g *Gateway) UnsubscribeFromTopic(_ context.Context, _ []string, _ string) ([]push.DeliveryOutcome, error) {
	return nil, push.ErrTopicsUnsupported
}

func (g *Gateway) pushOne(body *payload.Payload, deviceToken string) push.DeliveryOutcome {
	res, err := g.client.Push(&apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       g.topic,
		Payload:     body,
	})
	if err != nil {
		g.logger.Warn("APNs push failed", "err", err)
		return push.DeliveryOutcome{Token: deviceToken, Status: push.StatusTransientFailure, Reason: err.Error()}
	}

	if res.Sent() {
		return push.DeliveryOutcome{Token: deviceToken, Status: push.StatusDelivered}
	}

	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return push.DeliveryOutcome{Token: deviceToken, Status: push.StatusInvalidToken, Reason: res.Reason}
	default:
		// Other rejections (TopicDisallowed, PayloadEmpty) may be our
		// configuration's fault, so the token is not condemned.
		return push.DeliveryOutcome{Token: deviceToken, Status: push.StatusTransientFailure, Reason: res.Reason}
	}
}

func payloadFor(msg *push.Message) *payload.Payload {
	p := payload.NewPayload()
	if msg.Variant == push.VariantData {
		p.ContentAvailable()
	} else {
		p.AlertTitle(msg.Title).AlertBody(msg.Body)
		if msg.Sound != "" {
			p.Sound(msg.Sound)
		}
	}
	for k, v := range msg.Data {
		p.Custom(k, v)
	}
	return p
}
