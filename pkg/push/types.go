// Package push contains the public domain models and contracts for the
// push-dispatch service: device tokens, notification intents, shaped
// messages, per-token delivery outcomes and the gateway/registry interfaces
// the dispatch engine is built against.
package push

import "time"

// Platform identifies the device platform a token belongs to.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformWeb     Platform = "web"
)

var platformMap = map[string]Platform{
	"android": PlatformAndroid,
	"ios":     PlatformIOS,
	"web":     PlatformWeb,
}

// ParsePlatform maps a wire string onto a Platform. The second return value
// is false for unknown platforms.
func ParsePlatform(s string) (Platform, bool) {
	p, ok := platformMap[s]
	return p, ok
}

func (p Platform) String() string {
	return string(p)
}

// DeviceToken is a registry entry binding a delivery token to a recipient.
// The token string is globally unique across the registry; re-registering an
// existing token updates the record in place.
type DeviceToken struct {
	RecipientID string    `json:"recipient_id"`
	Token       string    `json:"token"`
	Platform    Platform  `json:"platform"`
	Active      bool      `json:"active"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Intent is the caller-facing description of a notification. It is an
// ephemeral request value and is never persisted.
//
// A visible intent carries Title and Body; a silent intent carries only Data
// and is built with VariantData.
type Intent struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Icon  string            `json:"icon,omitempty"`
	Link  string            `json:"link,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

// DeliveryStatus is the per-token result of one gateway call.
type DeliveryStatus string

const (
	StatusDelivered        DeliveryStatus = "delivered"
	StatusInvalidToken     DeliveryStatus = "invalid_token"
	StatusTransientFailure DeliveryStatus = "transient_failure"
)

// DeliveryOutcome reports what the gateway did with a single token.
type DeliveryOutcome struct {
	Token  string         `json:"token"`
	Status DeliveryStatus `json:"status"`
	Reason string         `json:"reason,omitempty"`
}

// Failure is one non-delivered token inside a DispatchResult, with the
// gateway's reason. Tokens of a chunk that failed at transport level all
// appear here with the transport error as the reason.
type Failure struct {
	Token  string `json:"token"`
	Reason string `json:"reason"`
}

// DispatchResult aggregates every chunk of one dispatch call into a single
// report. A dispatch never loses outcomes: every attempted token is counted
// in exactly one of Delivered, InvalidTokens or Failures.
type DispatchResult struct {
	Attempted     int       `json:"attempted"`
	Delivered     int       `json:"delivered"`
	InvalidTokens []string  `json:"invalid_tokens,omitempty"`
	Failures      []Failure `json:"failures,omitempty"`

	// TotalTokens is the number of tokens enumerated for the dispatch. For a
	// cancelled broadcast it can exceed Attempted.
	TotalTokens int `json:"total_tokens"`

	// NoActiveTokens reports the "sent to zero devices because none exist"
	// condition. It is not a failure.
	NoActiveTokens bool `json:"no_active_tokens,omitempty"`

	// Cancelled is set when the dispatch stopped starting new chunks because
	// its context was cancelled. Already in-flight chunks are still counted.
	Cancelled bool `json:"cancelled,omitempty"`
}

// FullyFailed reports whether every attempted token failed. Callers running
// dispatches from a queue use this to decide whether a redelivery is worth it.
func (r *DispatchResult) FullyFailed() bool {
	return r.Attempted > 0 && r.Delivered == 0 && len(r.InvalidTokens) == 0
}
