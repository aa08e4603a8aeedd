package push

// EventType classifies engine events.
type EventType string

const (
	EventChunkSent        EventType = "chunk_sent"
	EventChunkFailed      EventType = "chunk_failed"
	EventTokenInvalidated EventType = "token_invalidated"
	EventDispatchDone     EventType = "dispatch_done"
)

// Event is a structured observation emitted by the dispatch engine. The
// engine has no logging sink of its own; whoever assembles the service
// decides where events go.
type Event struct {
	Type        EventType
	RecipientID string
	Topic       string
	ChunkSize   int
	Delivered   int
	Token       string
	Err         error
	Result      *DispatchResult
}

// EventSink consumes engine events. Sinks must be safe for concurrent use;
// chunk events fire from dispatch workers.
type EventSink func(Event)

// MultiSink fans one event out to several sinks.
func MultiSink(sinks ...EventSink) EventSink {
	return func(ev Event) {
		for _, s := range sinks {
			s(ev)
		}
	}
}
