package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// aggregator owns the worker pool and the result of one dispatch call.
// Chunks are independent: a transport failure on one chunk is recorded and
// the rest keep going, so a transient upstream failure is bounded to the
// chunk, not the whole fan-out.
type aggregator struct {
	e *Engine
	g errgroup.Group

	mu        sync.Mutex
	res       push.DispatchResult
	cancelled bool
}

func newAggregator(e *Engine) *aggregator {
	a := &aggregator{e: e}
	a.g.SetLimit(e.concurrency)
	return a
}

// submit hands one chunk to the pool. A non-nil return means no further
// chunks should be started: the context was cancelled while waiting for a
// pool slot or the throttle.
func (a *aggregator) submit(ctx context.Context, msg *push.Message, tokens []string) error {
	if err := ctx.Err(); err != nil {
		a.markCancelled()
		return err
	}
	if a.e.throttle != nil {
		if err := a.e.throttle.Wait(ctx); err != nil {
			a.markCancelled()
			return err
		}
	}

	a.g.Go(func() error {
		outcomes, err := a.e.gateway.SendToTokens(ctx, msg, tokens)

		a.mu.Lock()
		defer a.mu.Unlock()
		a.res.Attempted += len(tokens)

		if err != nil {
			for _, token := range tokens {
				a.res.Failures = append(a.res.Failures, push.Failure{Token: token, Reason: err.Error()})
			}
			a.e.sink(push.Event{Type: push.EventChunkFailed, ChunkSize: len(tokens), Err: err})
			return nil
		}

		delivered := 0
		for _, o := range outcomes {
			switch o.Status {
			case push.StatusDelivered:
				delivered++
			case push.StatusInvalidToken:
				a.res.InvalidTokens = append(a.res.InvalidTokens, o.Token)
			default:
				a.res.Failures = append(a.res.Failures, push.Failure{Token: o.Token, Reason: o.Reason})
			}
		}
		a.res.Delivered += delivered
		a.e.sink(push.Event{Type: push.EventChunkSent, ChunkSize: len(tokens), Delivered: delivered})
		return nil
	})
	return nil
}

func (a *aggregator) markCancelled() {
	a.mu.Lock()
	a.cancelled = true
	a.mu.Unlock()
}

func (a *aggregator) stopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelled
}

func (a *aggregator) wait() {
	_ = a.g.Wait()
}

// result returns a copy of the aggregated state. Call after wait.
func (a *aggregator) result() *push.DispatchResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	res := a.res
	res.Cancelled = a.cancelled
	return &res
}
