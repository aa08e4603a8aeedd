package push

import "fmt"

// MessageVariant selects the platform shaping a built message carries.
type MessageVariant string

const (
	// VariantGeneric is the cross-platform shape used for topic sends and
	// heterogeneous fan-out.
	VariantGeneric MessageVariant = "generic"
	VariantAndroid MessageVariant = "android"
	VariantWeb     MessageVariant = "web"
	// VariantData is a silent, data-only message with no visible fields.
	VariantData MessageVariant = "data"
)

// Defaults applied by the web builder when the intent leaves them empty.
const (
	DefaultWebIcon = "/icon.png"
	DefaultWebLink = "/"

	androidDefaultSound = "default"
	androidHighPriority = "high"
)

// Message is a platform-shaped payload ready to hand to a gateway.
type Message struct {
	Variant MessageVariant

	Title string
	Body  string
	Data  map[string]string

	// Web shaping.
	Icon string
	Link string

	// Android shaping.
	Priority string
	Sound    string
}

// VariantFor returns the builder variant for platform-targeted sends. iOS has
// no dedicated shaping and uses the generic variant.
func VariantFor(p Platform) MessageVariant {
	switch p {
	case PlatformAndroid:
		return VariantAndroid
	case PlatformWeb:
		return VariantWeb
	default:
		return VariantGeneric
	}
}

// BuildMessage shapes an intent into a Message for the requested variant.
// It is pure: no I/O, and no failure mode beyond input validation.
func BuildMessage(intent Intent, variant MessageVariant) (*Message, error) {
	if variant == VariantData {
		if len(intent.Data) == 0 {
			return nil, fmt.Errorf("%w: data-only message requires a non-empty data payload", ErrInvalidIntent)
		}
		return &Message{Variant: VariantData, Data: intent.Data}, nil
	}

	if intent.Title == "" || intent.Body == "" {
		return nil, fmt.Errorf("%w: title and body are required for a visible notification", ErrInvalidIntent)
	}

	msg := &Message{
		Variant: variant,
		Title:   intent.Title,
		Body:    intent.Body,
		Data:    intent.Data,
	}

	switch variant {
	case VariantGeneric:
	case VariantAndroid:
		msg.Priority = androidHighPriority
		msg.Sound = androidDefaultSound
	case VariantWeb:
		msg.Icon = intent.Icon
		if msg.Icon == "" {
			msg.Icon = DefaultWebIcon
		}
		msg.Link = intent.Link
		if msg.Link == "" {
			msg.Link = DefaultWebLink
		}
	default:
		return nil, fmt.Errorf("%w: unknown message variant %q", ErrInvalidIntent, variant)
	}

	return msg, nil
}
