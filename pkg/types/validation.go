package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// FUNCTIONAL DISCOVERY: Validator built once at package initialization;
// it caches struct metadata so per-frame validation stays cheap
var validate = validator.New()

// DefaultGuestName is used when a guest declares with an empty nickname
const DefaultGuestName = "Anonymous"

// Limits caps the free-text fields accepted from clients, in runes
type Limits struct {
	TextMax       int `json:"text_max"`
	BranchMax     int `json:"branch_max"`
	GuestNameMax  int `json:"guest_name_max"`
	SenderNameMax int `json:"sender_name_max"`
}

// DefaultLimits returns the caps used when configuration leaves them unset
func DefaultLimits() Limits {
	return Limits{
		TextMax:       2000,
		BranchMax:     60,
		GuestNameMax:  40,
		SenderNameMax: 60,
	}
}

// DecodePayload unmarshals an envelope payload into dst and validates it
// ARCHITECTURAL DISCOVERY: Decoding and validation are one step so every
// handler sees either a well-formed payload or an error it can drop
func DecodePayload(env Envelope, dst any) error {
	payload := env.Payload
	if len(payload) == 0 || string(payload) == "null" {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// IsInboundEvent reports whether eventType is one a client may send
func IsInboundEvent(eventType string) bool {
	switch eventType {
	case EventGuestDeclare,
		EventAdminDeclare,
		EventMessageSend,
		EventChannelSelect,
		EventChannelEnd,
		EventChannelDelete:
		return true
	default:
		return false
	}
}

// Truncate cuts s to at most max runes; max <= 0 disables the cap
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// NormalizeText trims and caps message text. Empty results are rejected.
func NormalizeText(text string, max int) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	return strings.TrimSpace(Truncate(text, max)), nil
}

// NormalizeName trims and caps a display field, falling back when empty
func NormalizeName(name string, max int, fallback string) string {
	name = strings.TrimSpace(Truncate(strings.TrimSpace(name), max))
	if name == "" {
		return fallback
	}
	return name
}
