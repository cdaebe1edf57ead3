// Package ratelimit throttles how often individual users may trigger
// model calls.
//
// Each user gets an independent token bucket (1 token per cooldown
// window by default). Buckets are created lazily on first use and are
// never pruned: the map grows with the number of distinct users seen
// by the process, which is acceptable for a single-guild bot.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultCooldown is the minimum interval between model calls per user.
const DefaultCooldown = 3 * time.Second

// Limiter is a per-user cooldown service. The zero value is not usable;
// construct with New. Limiter is safe for concurrent use.
type Limiter struct {
	cooldown time.Duration
	burst    int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New creates a Limiter allowing burst actions per cooldown window for
// each user. Non-positive arguments fall back to 1 action per
// DefaultCooldown.
func New(cooldown time.Duration, burst int) *Limiter {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		cooldown: cooldown,
		burst:    burst,
		buckets:  make(map[string]*rate.Limiter),
	}
}

// Check reports whether userID may act now. A zero return means the
// action is allowed and has been recorded against the user's bucket.
// A positive return is the time the user must wait before retrying;
// the attempt is not counted.
func (l *Limiter) Check(userID string) time.Duration {
	r := l.bucket(userID).Reserve()
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return delay
	}
	return 0
}

// Allow is a convenience wrapper around Check for callers that do not
// report the wait time.
func (l *Limiter) Allow(userID string) bool {
	return l.Check(userID) == 0
}

func (l *Limiter) bucket(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[userID]
	if !ok {
		b = rate.NewLimiter(rate.Every(l.cooldown), l.burst)
		l.buckets[userID] = b
	}
	return b
}

// Users returns the number of tracked buckets. Used for introspection
// from the operator console.
func (l *Limiter) Users() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
