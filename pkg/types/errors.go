package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types let the router tell a malformed
// frame from an unknown event without string matching
var (
	ErrEmptyText        = errors.New("message text is empty after trimming")
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMalformedPayload = errors.New("malformed event payload")
	ErrInvalidPayload   = errors.New("event payload failed validation")
)
