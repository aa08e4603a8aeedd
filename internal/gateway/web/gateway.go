// Package web adapts direct VAPID Web Push (RFC 8030) to the push.Gateway
// contract. Registry tokens for this gateway are the JSON-encoded
// PushSubscription objects browsers hand out, so the opaque-token model of
// the registry carries over unchanged.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// Config holds the VAPID credentials.
type Config struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

type Gateway struct {
	subscriber string
	privateKey string
	publicKey  string
	logger     *slog.Logger
	httpClient *http.Client
}

func New(cfg Config, logger *slog.Logger) *Gateway {
	return &Gateway{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		logger:     logger.With("component", "WebPushGateway"),
		httpClient: &http.Client{},
	}
}

// webPayload is the JSON structure service workers expect.
type webPayload struct {
	Notification *webNotification  `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
}

type webNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
	Link  string `json:"link,omitempty"`
}

func (g *Gateway) SendToTokens(ctx context.Context, msg *push.Message, tokens []string) ([]push.DeliveryOutcome, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if len(tokens) > push.BatchLimit {
		return nil, fmt.Errorf("webpush: batch of %d exceeds the limit of %d", len(tokens), push.BatchLimit)
	}

	payload, err := json.Marshal(payloadFor(msg))
	if err != nil {
		return nil, &push.TransportError{Op: "webpush.marshal", Err: err}
	}

	// The push endpoints are per-subscription, so a batch is a loop of unary
	// sends. Endpoint-level trouble stays per-token; it never fails the call.
	outcomes := make([]push.DeliveryOutcome, len(tokens))
	for i, token := range tokens {
		outcomes[i] = g.sendOne(ctx, payload, token)
	}
	return outcomes, nil
}

func (g *Gateway) SendToToken(ctx context.Context, msg *push.Message, token string) (push.DeliveryOutcome, error) {
	payload, err := json.Marshal(payloadFor(msg))
	if err != nil {
		return push.DeliveryOutcome{}, &push.TransportError{Op: "webpush.marshal", Err: err}
	}
	return g.sendOne(ctx, payload, token), nil
}

// SendToTopic is not available: Web Push has no topic concept.
func (g *Gateway) SendToTopic(_ context.Context, _ *push.Message, _ string) error {
	return push.ErrTopicsUnsupported
}

func (g *Gateway) SubscribeToTopic(_ context.Context, _ []string, _ string) ([]push.DeliveryOutcome, error) {
	return nil, push.ErrTopicsUnsupported
}

func (g *Gateway) UnsubscribeFromTopic(_ context.Context, _ []string, _ string) ([]push.DeliveryOutcome, error) {
	return nil, push.ErrTopicsUnsupported
}

func (g *Gateway) sendOne(ctx context.Context, payload []byte, token string) push.DeliveryOutcome {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(token), &sub); err != nil || sub.Endpoint == "" {
		// A token that does not decode into a subscription can never be
		// delivered to; treat it like an unregistered token so it gets
		// cleaned out of the registry.
		return push.DeliveryOutcome{Token: token, Status: push.StatusInvalidToken, Reason: "malformed subscription"}
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &sub, &webpush.Options{
		Subscriber:      g.subscriber,
		VAPIDPublicKey:  g.publicKey,
		VAPIDPrivateKey: g.privateKey,
		TTL:             60,
		HTTPClient:      g.httpClient,
	})
	if err != nil {
		g.logger.Warn("Web push send failed", "endpoint", sub.Endpoint, "err", err)
		return push.DeliveryOutcome{Token: token, Status: push.StatusTransientFailure, Reason: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusCreated:
		return push.DeliveryOutcome{Token: token, Status: push.StatusDelivered}
	case http.StatusNotFound, http.StatusGone:
		// The subscription is dead; report it for registry cleanup.
		return push.DeliveryOutcome{Token: token, Status: push.StatusInvalidToken, Reason: resp.Status}
	default:
		return push.DeliveryOutcome{Token: token, Status: push.StatusTransientFailure, Reason: resp.Status}
	}
}

func payloadFor(msg *push.Message) webPayload {
	p := webPayload{Data: msg.Data}
	if msg.Variant != push.VariantData {
		p.Notification = &webNotification{
			Title: msg.Title,
			Body:  msg.Body,
			Icon:  msg.Icon,
			Link:  msg.Link,
		}
	}
	return p
}
