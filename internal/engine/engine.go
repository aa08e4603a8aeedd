// Package engine contains the dispatch engine: it resolves a notify intent
// into a target set, shapes the message, chunks targets at the gateway batch
// limit, fans chunks out over a bounded worker pool and folds every per-token
// outcome into a single DispatchResult. Invalid tokens reported by the
// gateway are fed back into the registry so it stays accurate.
package engine

import (
	"context"
	"fmt"

	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

const (
	defaultConcurrency = 4
)

// Engine is stateless and call-scoped; a single Engine value is safe for
// concurrent use by any number of callers.
type Engine struct {
	registry    push.TokenRegistry
	gateway     push.Gateway
	batchSize   int
	concurrency int
	throttle    Throttle
	sink        push.EventSink
}

// Option configures an Engine.
type Option func(*Engine)

// WithBatchSize overrides the chunk size. Values above push.BatchLimit are
// rejected by New.
func WithBatchSize(n int) Option {
	return func(e *Engine) { e.batchSize = n }
}

// WithConcurrency bounds the number of in-flight gateway calls.
func WithConcurrency(n int) Option {
	return func(e *Engine) { e.concurrency = n }
}

// WithThrottle installs a pacing policy consulted before each gateway call.
func WithThrottle(t Throttle) Option {
	return func(e *Engine) { e.throttle = t }
}

// WithEventSink installs the observer for engine events.
func WithEventSink(sink push.EventSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// New assembles an engine over a registry and a gateway.
func New(registry push.TokenRegistry, gateway push.Gateway, opts ...Option) (*Engine, error) {
	e := &Engine{
		registry:    registry,
		gateway:     gateway,
		batchSize:   push.BatchLimit,
		concurrency: defaultConcurrency,
		sink:        func(push.Event) {},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.batchSize <= 0 || e.batchSize > push.BatchLimit {
		return nil, fmt.Errorf("engine: batch size %d outside 1..%d", e.batchSize, push.BatchLimit)
	}
	if e.concurrency <= 0 {
		return nil, fmt.Errorf("engine: concurrency must be positive, got %d", e.concurrency)
	}
	return e, nil
}

// NotifyRecipient fans a visible notification out to every active device of
// one recipient. The message is built once, generically, and reused for every
// chunk regardless of each token's platform.
func (e *Engine) NotifyRecipient(ctx context.Context, recipientID string, intent push.Intent) (*push.DispatchResult, error) {
	msg, err := push.BuildMessage(intent, push.VariantGeneric)
	if err != nil {
		return nil, err
	}

	tokens, err := e.registry.ActiveTokens(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("resolve targets for %q: %w", recipientID, err)
	}
	return e.dispatchTokens(ctx, recipientID, msg, tokens), nil
}

// NotifyPlatform fans out to the recipient's devices on one platform, shaping
// the message with that platform's builder variant.
func (e *Engine) NotifyPlatform(ctx context.Context, recipientID string, platform push.Platform, intent push.Intent) (*push.DispatchResult, error) {
	if _, ok := push.ParsePlatform(platform.String()); !ok {
		return nil, fmt.Errorf("%w: unknown platform %q", push.ErrInvalidIntent, platform)
	}

	msg, err := push.BuildMessage(intent, push.VariantFor(platform))
	if err != nil {
		return nil, err
	}

	tokens, err := e.registry.ActiveTokensForPlatform(ctx, recipientID, platform)
	if err != nil {
		return nil, fmt.Errorf("resolve %s targets for %q: %w", platform, recipientID, err)
	}
	return e.dispatchTokens(ctx, recipientID, msg, tokens), nil
}

// SendDataOnly delivers a silent, data-only message to every active device of
// one recipient.
func (e *Engine) SendDataOnly(ctx context.Context, recipientID string, data map[string]string) (*push.DispatchResult, error) {
	msg, err := push.BuildMessage(push.Intent{Data: data}, push.VariantData)
	if err != nil {
		return nil, err
	}

	tokens, err := e.registry.ActiveTokens(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("resolve targets for %q: %w", recipientID, err)
	}
	return e.dispatchTokens(ctx, recipientID, msg, tokens), nil
}

// NotifyTopic sends one generic message to a gateway-native topic. Topics
// skip registry resolution entirely; the gateway owns the membership.
func (e *Engine) NotifyTopic(ctx context.Context, topic string, intent push.Intent) (*push.DispatchResult, error) {
	if topic == "" {
		return nil, fmt.Errorf("%w: topic must not be empty", push.ErrInvalidIntent)
	}
	msg, err := push.BuildMessage(intent, push.VariantGeneric)
	if err != nil {
		return nil, err
	}

	res := &push.DispatchResult{Attempted: 1, TotalTokens: 1}
	if err := e.gateway.SendToTopic(ctx, msg, topic); err != nil {
		res.Failures = append(res.Failures, push.Failure{Token: topic, Reason: err.Error()})
		e.sink(push.Event{Type: push.EventChunkFailed, Topic: topic, ChunkSize: 1, Err: err})
	} else {
		res.Delivered = 1
		e.sink(push.Event{Type: push.EventChunkSent, Topic: topic, ChunkSize: 1, Delivered: 1})
	}
	e.sink(push.Event{Type: push.EventDispatchDone, Topic: topic, Result: res})
	return res, nil
}

// SubscribeToTopic adds tokens to a gateway-native topic.
func (e *Engine) SubscribeToTopic(ctx context.Context, tokens []string, topic string) ([]push.DeliveryOutcome, error) {
	if topic == "" {
		return nil, fmt.Errorf("%w: topic must not be empty", push.ErrInvalidIntent)
	}
	return e.gateway.SubscribeToTopic(ctx, tokens, topic)
}

// UnsubscribeFromTopic removes tokens from a gateway-native topic.
func (e *Engine) UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) ([]push.DeliveryOutcome, error) {
	if topic == "" {
		return nil, fmt.Errorf("%w: topic must not be empty", push.ErrInvalidIntent)
	}
	return e.gateway.UnsubscribeFromTopic(ctx, tokens, topic)
}

// Broadcast streams every active token in the registry through the chunked
// dispatch path. The token set is never held in memory at once: chunks are
// handed to workers as the enumeration produces them.
func (e *Engine) Broadcast(ctx context.Context, intent push.Intent) (*push.DispatchResult, error) {
	msg, err := push.BuildMessage(intent, push.VariantGeneric)
	if err != nil {
		return nil, err
	}

	agg := newAggregator(e)
	total := 0
	chunk := make([]string, 0, e.batchSize)

	enumErr := e.registry.EachActiveToken(ctx, func(token string) error {
		total++
		chunk = append(chunk, token)
		if len(chunk) == e.batchSize {
			full := chunk
			chunk = make([]string, 0, e.batchSize)
			return agg.submit(ctx, msg, full)
		}
		return nil
	})

	if len(chunk) > 0 && !agg.stopped() {
		_ = agg.submit(ctx, msg, chunk)
	}
	agg.wait()

	res := agg.result()
	res.TotalTokens = total
	if total == 0 {
		res.NoActiveTokens = true
	}

	// Invalid tokens from chunks that did run are deactivated even when the
	// enumeration died partway through.
	e.deactivateInvalid(ctx, res)
	e.sink(push.Event{Type: push.EventDispatchDone, Result: res})

	if enumErr != nil && !agg.stopped() {
		return res, fmt.Errorf("broadcast enumeration: %w", enumErr)
	}
	return res, nil
}

// dispatchTokens runs the chunked dispatch over a resolved target set.
func (e *Engine) dispatchTokens(ctx context.Context, recipientID string, msg *push.Message, tokens []string) *push.DispatchResult {
	if len(tokens) == 0 {
		res := &push.DispatchResult{NoActiveTokens: true}
		e.sink(push.Event{Type: push.EventDispatchDone, RecipientID: recipientID, Result: res})
		return res
	}

	if len(tokens) == 1 {
		res := e.dispatchSingle(ctx, recipientID, msg, tokens[0])
		e.deactivateInvalid(ctx, res)
		e.sink(push.Event{Type: push.EventDispatchDone, RecipientID: recipientID, Result: res})
		return res
	}

	agg := newAggregator(e)
	for _, c := range chunkTokens(tokens, e.batchSize) {
		if err := agg.submit(ctx, msg, c); err != nil {
			break
		}
	}
	agg.wait()

	res := agg.result()
	res.TotalTokens = len(tokens)
	e.deactivateInvalid(ctx, res)
	e.sink(push.Event{Type: push.EventDispatchDone, RecipientID: recipientID, Result: res})
	return res
}

// dispatchSingle is the single-target shortcut: same contract as the chunked
// path, without batch bookkeeping.
func (e *Engine) dispatchSingle(ctx context.Context, recipientID string, msg *push.Message, token string) *push.DispatchResult {
	res := &push.DispatchResult{TotalTokens: 1}

	if ctx.Err() != nil {
		res.Cancelled = true
		return res
	}
	if e.throttle != nil {
		if err := e.throttle.Wait(ctx); err != nil {
			res.Cancelled = true
			return res
		}
	}

	res.Attempted = 1
	outcome, err := e.gateway.SendToToken(ctx, msg, token)
	if err != nil {
		res.Failures = append(res.Failures, push.Failure{Token: token, Reason: err.Error()})
		e.sink(push.Event{Type: push.EventChunkFailed, RecipientID: recipientID, ChunkSize: 1, Err: err})
		return res
	}

	switch outcome.Status {
	case push.StatusDelivered:
		res.Delivered = 1
	case push.StatusInvalidToken:
		res.InvalidTokens = append(res.InvalidTokens, token)
	default:
		res.Failures = append(res.Failures, push.Failure{Token: token, Reason: outcome.Reason})
	}
	e.sink(push.Event{Type: push.EventChunkSent, RecipientID: recipientID, ChunkSize: 1, Delivered: res.Delivered})
	return res
}

// deactivateInvalid is the feedback loop: every token the gateway reported as
// permanently invalid is flipped to inactive. Runs detached from the caller's
// cancellation so a cancelled dispatch still keeps the registry accurate.
func (e *Engine) deactivateInvalid(ctx context.Context, res *push.DispatchResult) {
	if len(res.InvalidTokens) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, token := range res.InvalidTokens {
		if _, err := e.registry.Deactivate(ctx, token); err != nil {
			e.sink(push.Event{Type: push.EventTokenInvalidated, Token: token, Err: err})
			continue
		}
		e.sink(push.Event{Type: push.EventTokenInvalidated, Token: token})
	}
}

// chunkTokens partitions tokens into slices of at most size, preserving
// order. The chunks alias the input slice.
func chunkTokens(tokens []string, size int) [][]string {
	if len(tokens) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(tokens)+size-1)/size)
	for start := 0; start < len(tokens); start += size {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, tokens[start:end])
	}
	return chunks
}
