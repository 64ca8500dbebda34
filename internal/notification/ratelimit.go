package notification

import (
	"sync"
	"time"
)

// RateLimiter provides sliding-window rate limiting for alert notification
// creation. A burst of classifications above threshold (an alarm looping, a
// flapping sensor) must not turn into an unbounded notification storm.
type RateLimiter struct {
	window    time.Duration
	maxEvents int
	events    []time.Time
	mu        sync.Mutex
}

// NewRateLimiter creates a new rate limiter allowing maxEvents per window.
func NewRateLimiter(window time.Duration, maxEvents int) *RateLimiter {
	return &RateLimiter{
		window:    window,
		maxEvents: maxEvents,
		events:    make([]time.Time, 0, maxEvents),
	}
}

// Allow checks if an event is allowed under the current window.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	// Drop events outside the window, reusing the slice
	validCount := 0
	for _, event := range r.events {
		if event.After(cutoff) {
			r.events[validCount] = event
			validCount++
		}
	}
	r.events = r.events[:validCount]

	if len(r.events) >= r.maxEvents {
		return false
	}

	r.events = append(r.events, now)
	return true
}

// Reset clears the rate limiter.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
