package push

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by registry operations that address a record the
// caller does not own, or that does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidIntent is returned by the message builders when the intent cannot
// produce a meaningful message, e.g. a visible notification without a title
// or a data-only message without a payload.
var ErrInvalidIntent = errors.New("invalid intent")

// ErrTopicsUnsupported is returned by gateways that have no native topic
// concept (direct Web Push, APNS).
var ErrTopicsUnsupported = errors.New("topic operations not supported by this gateway")

// TransportError marks a whole-call gateway failure (network, auth). It is
// distinct from per-token outcomes: when a gateway returns a TransportError
// there are no partial outcomes for the chunk.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
