// Package gateway routes messages between the platform-specific transport
// implementations.
package gateway

import (
	"context"

	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// Router is a push.Gateway that picks a concrete transport per message
// variant. Generic and data-only fan-out goes through the default gateway
// (FCM handles both Android and web tokens natively), while platform-shaped
// messages can be pinned to a dedicated transport.
type Router struct {
	fallback push.Gateway
	variants map[push.MessageVariant]push.Gateway
}

// NewRouter builds a router with fallback as the default transport. Variant
// overrides are optional; an unmapped variant uses the fallback.
func NewRouter(fallback push.Gateway) *Router {
	return &Router{
		fallback: fallback,
		variants: make(map[push.MessageVariant]push.Gateway),
	}
}

// Route pins a message variant to a dedicated gateway.
func (r *Router) Route(variant push.MessageVariant, gw push.Gateway) *Router {
	r.variants[variant] = gw
	return r
}

func (r *Router) gatewayFor(msg *push.Message) push.Gateway {
	if gw, ok := r.variants[msg.Variant]; ok {
		return gw
	}
	return r.fallback
}

func (r *Router) SendToToken(ctx context.Context, msg *push.Message, token string) (push.DeliveryOutcome, error) {
	return r.gatewayFor(msg).SendToToken(ctx, msg, token)
}

func (r *Router) SendToTokens(ctx context.Context, msg *push.Message, tokens []string) ([]push.DeliveryOutcome, error) {
	return r.gatewayFor(msg).SendToTokens(ctx, msg, tokens)
}

// SendToTopic always uses the fallback: topics are a capability of the
// default transport, not of any single platform shaping.
func (r *Router) SendToTopic(ctx context.Context, msg *push.Message, topic string) error {
	return r.fallback.SendToTopic(ctx, msg, topic)
}

func (r *Router) SubscribeToTopic(ctx context.Context, tokens []string, topic string) ([]push.DeliveryOutcome, error) {
	return r.fallback.SubscribeToTopic(ctx, tokens, topic)
}

func (r *Router) UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) ([]push.DeliveryOutcome, error) {
	return r.fallback.UnsubscribeFromTopic(ctx, tokens, topic)
}
