package push

import "context"

// BatchLimit is the upstream gateway's documented ceiling on targets per
// batched call. The dispatch engine never hands a gateway a larger chunk.
const BatchLimit = 500

// Gateway is the opaque remote delivery capability. Implementations wrap one
// upstream transport (FCM, direct Web Push, APNS).
//
// Two failure levels apply to every send: a non-nil error means the whole
// call failed and produced no outcomes (the error is a *TransportError), while
// per-token InvalidToken/TransientFailure conditions are reported inside an
// otherwise successful call.
type Gateway interface {
	// SendToToken delivers to a single token, skipping batch bookkeeping.
	SendToToken(ctx context.Context, msg *Message, token string) (DeliveryOutcome, error)

	// SendToTokens delivers to a batch of at most BatchLimit tokens and
	// returns one outcome per token, in input order.
	SendToTokens(ctx context.Context, msg *Message, tokens []string) ([]DeliveryOutcome, error)

	// SendToTopic delivers to a gateway-native topic.
	SendToTopic(ctx context.Context, msg *Message, topic string) error

	SubscribeToTopic(ctx context.Context, tokens []string, topic string) ([]DeliveryOutcome, error)
	UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) ([]DeliveryOutcome, error)
}

// TokenRegistry is the store of recipient device tokens. It is the only
// shared mutable state in the system, and the sole mutator of DeviceToken
// records.
type TokenRegistry interface {
	// Upsert inserts or updates the record for token and marks it active.
	// Idempotent on repeated identical calls.
	Upsert(ctx context.Context, recipientID, token string, platform Platform) (DeviceToken, error)

	// Deactivate flips the record for token to inactive and returns it.
	// Unknown tokens are a no-op, not an error: gateways may report tokens
	// the registry never stored. The returned record is nil in that case.
	Deactivate(ctx context.Context, token string) (*DeviceToken, error)

	// Remove hard-deletes the record only if it belongs to recipientID, and
	// fails with ErrNotFound otherwise.
	Remove(ctx context.Context, recipientID, token string) error

	// ActiveTokens returns every active token registered for a recipient.
	ActiveTokens(ctx context.Context, recipientID string) ([]string, error)

	// ActiveTokensForPlatform narrows ActiveTokens to one platform.
	ActiveTokensForPlatform(ctx context.Context, recipientID string, platform Platform) ([]string, error)

	// EachActiveToken streams every active token in the registry through fn,
	// stopping on the first error fn returns. Backends stream in batches so a
	// broadcast never loads the whole registry into memory.
	EachActiveToken(ctx context.Context, fn func(token string) error) error
}
