package engine

import (
	"context"
	"sync"
	"time"
)

// Throttle paces gateway calls. The engine consults it before issuing each
// chunk; implementations block until a call may proceed or ctx ends.
type Throttle interface {
	Wait(ctx context.Context) error
}

// CallRateThrottle spaces gateway calls evenly at a fixed calls-per-second
// rate across all concurrent dispatches sharing it.
type CallRateThrottle struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

// NewCallRateThrottle builds a throttle allowing callsPerSecond gateway
// calls per second.
func NewCallRateThrottle(callsPerSecond int) *CallRateThrottle {
	if callsPerSecond <= 0 {
		callsPerSecond = 1
	}
	return &CallRateThrottle{interval: time.Second / time.Duration(callsPerSecond)}
}

func (t *CallRateThrottle) Wait(ctx context.Context) error {
	t.mu.Lock()
	now := time.Now()
	if t.next.Before(now) {
		t.next = now
	}
	wait := t.next.Sub(now)
	t.next = t.next.Add(t.interval)
	t.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
