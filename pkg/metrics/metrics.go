// Package metrics exposes a tiny in-memory counter set for the dispatch
// service.
package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// Metrics counts delivery activity across every dispatch.
type Metrics struct {
	dispatches  atomic.Int64
	delivered   atomic.Int64
	failed      atomic.Int64
	invalidated atomic.Int64
}

// New returns a zeroed Metrics collector.
func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncDispatches()       { m.dispatches.Add(1) }
func (m *Metrics) AddDelivered(n int64) { m.delivered.Add(n) }
func (m *Metrics) AddFailed(n int64)    { m.failed.Add(n) }
func (m *Metrics) IncInvalidated()      { m.invalidated.Add(1) }
func (m *Metrics) Delivered() int64     { return m.delivered.Load() }
func (m *Metrics) Failed() int64        { return m.failed.Load() }
func (m *Metrics) Dispatches() int64    { return m.dispatches.Load() }
func (m *Metrics) Invalidated() int64   { return m.invalidated.Load() }

// Sink adapts the collector to the engine's event stream.
func (m *Metrics) Sink() push.EventSink {
	return func(ev push.Event) {
		switch ev.Type {
		case push.EventChunkSent:
			m.AddDelivered(int64(ev.Delivered))
			m.AddFailed(int64(ev.ChunkSize - ev.Delivered))
		case push.EventChunkFailed:
			m.AddFailed(int64(ev.ChunkSize))
		case push.EventTokenInvalidated:
			m.IncInvalidated()
		case push.EventDispatchDone:
			m.IncDispatches()
		}
	}
}

// Handler exposes the counters via a very small JSON response so we do not
// need to pull in a heavy metrics dependency.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{
  "dispatches": %d,
  "delivered": %d,
  "failed": %d,
  "invalidated": %d
}`, m.dispatches.Load(), m.delivered.Load(), m.failed.Load(), m.invalidated.Load())
	})
}
