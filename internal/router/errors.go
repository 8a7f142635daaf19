package router

import "errors"

// Router errors are returned to the hub for logging only; apart from the
// not-found and conflict replies nothing is ever surfaced to clients
var (
	ErrAlreadyBound      = errors.New("connection already declared a role")
	ErrNotAdmin          = errors.New("operation requires the admin role")
	ErrAdminConflict     = errors.New("another connection holds the admin slot")
	ErrUnauthorizedSend  = errors.New("sender not authorized for channel")
	ErrChannelNotFound   = errors.New("channel not found")
	ErrChannelClosed     = errors.New("channel is closed")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// Persister errors
var (
	ErrPersisterStopped = errors.New("persister is stopped")
	ErrPersistQueueFull = errors.New("persistence queue is full")
)
