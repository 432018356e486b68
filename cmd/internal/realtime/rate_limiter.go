package realtime

import (
	"sync"
	"time"
)

// RateLimiter is a per-connection sliding-window limiter.
//
// It remembers the arrival time of the last limit accepted frames in a ring;
// a new frame is accepted when the oldest of them has left the window.
type RateLimiter struct {
	mu     sync.Mutex
	ring   []time.Time
	next   int
	window time.Duration
}

// NewRateLimiter allows limit frames per window. Non-positive inputs take the defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{ring: make([]time.Time, limit), window: window}
}

// Allow records a frame arriving at now and reports whether it is within the limit.
// Rejected frames are not recorded.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldest := r.ring[r.next]
	if !oldest.IsZero() && now.Sub(oldest) < r.window {
		return false
	}
	r.ring[r.next] = now
	r.next = (r.next + 1) % len(r.ring)
	return true
}
