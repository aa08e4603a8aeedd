// Package fcm adapts Firebase Cloud Messaging to the push.Gateway contract.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
// Note: *messaging.Client automatically satisfies this interface.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
	SubscribeToTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
	UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
}

type Gateway struct {
	client MessagingClient
	logger *slog.Logger
}

func New(client MessagingClient, logger *slog.Logger) *Gateway {
	return &Gateway{
		client: client,
		logger: logger.With("component", "FCMGateway"),
	}
}

func (g *Gateway) SendToTokens(ctx context.Context, msg *push.Message, tokens []string) ([]push.DeliveryOutcome, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if len(tokens) > push.BatchLimit {
		return nil, fmt.Errorf("fcm: batch of %d exceeds the multicast limit of %d", len(tokens), push.BatchLimit)
	}

	mm := &messaging.MulticastMessage{
		Tokens:       tokens,
		Data:         msg.Data,
		Notification: notificationFor(msg),
		Android:      androidConfigFor(msg),
		Webpush:      webpushConfigFor(msg),
	}

	br, err := g.client.SendEachForMulticast(ctx, mm)
	if err != nil {
		return nil, &push.TransportError{Op: "fcm.send_multicast", Err: err}
	}

	outcomes := make([]push.DeliveryOutcome, len(br.Responses))
	for i, resp := range br.Responses {
		outcomes[i] = outcomeFor(tokens[i], resp)
	}
	g.logger.Debug("Multicast dispatched", "tokens", len(tokens), "success", br.SuccessCount, "failure", br.FailureCount)
	return outcomes, nil
}

func (g *Gateway) SendToToken(ctx context.Context, msg *push.Message, token string) (push.DeliveryOutcome, error) {
	m := &messaging.Message{
		Token:        token,
		Data:         msg.Data,
		Notification: notificationFor(msg),
		Android:      androidConfigFor(msg),
		Webpush:      webpushConfigFor(msg),
	}

	if _, err := g.client.Send(ctx, m); err != nil {
		switch {
		case messaging.IsRegistrationTokenNotRegistered(err) || messaging.IsInvalidArgument(err):
			return push.DeliveryOutcome{Token: token, Status: push.StatusInvalidToken, Reason: err.Error()}, nil
		case messaging.IsUnavailable(err) || messaging.IsInternal(err) || messaging.IsQuotaExceeded(err):
			return push.DeliveryOutcome{Token: token, Status: push.StatusTransientFailure, Reason: err.Error()}, nil
		default:
			return push.DeliveryOutcome{}, &push.TransportError{Op: "fcm.send", Err: err}
		}
	}
	return push.DeliveryOutcome{Token: token, Status: push.StatusDelivered}, nil
}

func (g *Gateway) SendToTopic(ctx context.Context, msg *push.Message, topic string) error {
	m := &messaging.Message{
		Topic:        topic,
		Data:         msg.Data,
		Notification: notificationFor(msg),
		Android:      androidConfigFor(msg),
		Webpush:      webpushConfigFor(msg),
	}
	if _, err := g.client.Send(ctx, m); err != nil {
		return &push.TransportError{Op: "fcm.send_topic", Err: err}
	}
	return nil
}

func (g *Gateway) SubscribeToTopic(ctx context.Context, tokens []string, topic string) ([]push.DeliveryOutcome, error) {
	resp, err := g.client.SubscribeToTopic(ctx, tokens, topic)
	if err != nil {
		return nil, &push.TransportError{Op: "fcm.subscribe_topic", Err: err}
	}
	return topicOutcomes(tokens, resp), nil
}

func (g *Gateway) UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) ([]push.DeliveryOutcome, error) {
	resp, err := g.client.UnsubscribeFromTopic(ctx, tokens, topic)
	if err != nil {
		return nil, &push.TransportError{Op: "fcm.unsubscribe_topic", Err: err}
	}
	return topicOutcomes(tokens, resp), nil
}

// --- Payload shaping ---

func notificationFor(msg *push.Message) *messaging.Notification {
	if msg.Variant == push.VariantData {
		return nil
	}
	return &messaging.Notification{
		Title: msg.Title,
		Body:  msg.Body,
	}
}

func androidConfigFor(msg *push.Message) *messaging.AndroidConfig {
	if msg.Variant != push.VariantAndroid {
		return nil
	}
	return &messaging.AndroidConfig{
		Priority: msg.Priority,
		Notification: &messaging.AndroidNotification{
			Sound: msg.Sound,
		},
	}
}

func webpushConfigFor(msg *push.Message) *messaging.WebpushConfig {
	if msg.Variant != push.VariantWeb {
		return nil
	}
	return &messaging.WebpushConfig{
		Notification: &messaging.WebpushNotification{
			Title: msg.Title,
			Body:  msg.Body,
			Icon:  msg.Icon,
		},
		FCMOptions: &messaging.WebpushFCMOptions{
			Link: msg.Link,
		},
	}
}

// --- Outcome mapping ---

func outcomeFor(token string, resp *messaging.SendResponse) push.DeliveryOutcome {
	if resp.Success {
		return push.DeliveryOutcome{Token: token, Status: push.StatusDelivered}
	}
	// Distinguish dead tokens from momentary upstream trouble: only the
	// former feed the registry deactivation loop.
	if messaging.IsRegistrationTokenNotRegistered(resp.Error) || messaging.IsInvalidArgument(resp.Error) {
		return push.DeliveryOutcome{Token: token, Status: push.StatusInvalidToken, Reason: resp.Error.Error()}
	}
	return push.DeliveryOutcome{Token: token, Status: push.StatusTransientFailure, Reason: resp.Error.Error()}
}

func topicOutcomes(tokens []string, resp *messaging.TopicManagementResponse) []push.DeliveryOutcome {
	outcomes := make([]push.DeliveryOutcome, len(tokens))
	for i, tok := range tokens {
		outcomes[i] = push.DeliveryOutcome{Token: tok, Status: push.StatusDelivered}
	}
	for _, e := range resp.Errors {
		if e.Index < 0 || e.Index >= len(tokens) {
			continue
		}
		status := push.StatusTransientFailure
		if e.Reason == "INVALID_ARGUMENT" || e.Reason == "NOT_FOUND" {
			status = push.StatusInvalidToken
		}
		outcomes[e.Index] = push.DeliveryOutcome{Token: tokens[e.Index], Status: status, Reason: e.Reason}
	}
	return outcomes
}
