package router

import (
	"sync"
	"time"
)

// RateLimiter implements per-connection fixed-window rate limiting
// ARCHITECTURAL DISCOVERY: Per-connection state with explicit Forget on
// disconnect prevents the map from growing with dead connections
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	clients map[string]*ClientLimit
}

// ClientLimit tracks the current window of a single connection
type ClientLimit struct {
	messageCount int
	windowStart  time.Time
}

// NewRateLimiter allows limit messages per window; limit <= 0 disables limiting
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*ClientLimit),
	}
}

// Allow records one message for key and reports whether it is within the limit
func (rl *RateLimiter) Allow(key string) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	limit, exists := rl.clients[key]
	if !exists {
		rl.clients[key] = &ClientLimit{
			messageCount: 1,
			windowStart:  now,
		}
		return true
	}

	// TECHNICAL DISCOVERY: Window resets exactly once per period
	if now.Sub(limit.windowStart) >= rl.window {
		limit.messageCount = 1
		limit.windowStart = now
		return true
	}

	if limit.messageCount >= rl.limit {
		return false
	}

	limit.messageCount++
	return true
}

// Forget drops the state of key
func (rl *RateLimiter) Forget(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, key)
}

// Cleanup removes entries idle for more than five windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*rl.window {
			delete(rl.clients, key)
		}
	}
}
