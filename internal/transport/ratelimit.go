package transport

import (
	"sync"
	"time"

	"toolgate/pkg/logging"
)

// RateLimiter provides per-caller rate limiting for the OAuth endpoints.
// It limits how often a single remote address may start an authorization
// handshake or hit the token endpoint, blunting brute-force attempts on
// client secrets and authorization codes.
//
// Rate limiting uses a sliding window:
//   - Each caller can make at most MaxAttempts attempts within the window
//   - Attempts are tracked per caller, not globally
//   - Old attempts age out as the window slides
type RateLimiter struct {
	mu sync.RWMutex

	maxAttempts int
	window      time.Duration

	// caller key -> timestamps of recent attempts
	attempts map[string][]time.Time
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	// MaxAttempts is the maximum number of attempts per caller within the
	// window. Default: 30 attempts.
	MaxAttempts int

	// Window is the time window for rate limiting. Default: 1 minute.
	Window time.Duration
}

// NewRateLimiter creates a rate limiter with the given configuration,
// falling back to defaults for out-of-range values.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 30
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}

	return &RateLimiter{
		maxAttempts: config.MaxAttempts,
		window:      config.Window,
		attempts:    make(map[string][]time.Time),
	}
}

// Allow checks whether an attempt by the given caller is allowed. If
// allowed, the attempt is recorded; if rate limited, it is not.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.window)

	existing := rl.attempts[key]
	var recent []time.Time
	for _, t := range existing {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= rl.maxAttempts {
		logging.Warn("RateLimiter", "Rate limit exceeded for %s (%d attempts in %v)",
			key, len(recent), rl.window)
		rl.attempts[key] = recent
		return false
	}

	recent = append(recent, now)
	rl.attempts[key] = recent
	return true
}

// Remaining returns how many attempts the caller has left in the current
// window.
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	windowStart := time.Now().Add(-rl.window)

	count := 0
	for _, t := range rl.attempts[key] {
		if t.After(windowStart) {
			count++
		}
	}

	remaining := rl.maxAttempts - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Cleanup removes callers whose attempts have all aged out of the window.
// Called periodically to keep the map from growing without bound.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	windowStart := time.Now().Add(-rl.window)

	for key, attempts := range rl.attempts {
		var recent []time.Time
		for _, t := range attempts {
			if t.After(windowStart) {
				recent = append(recent, t)
			}
		}

		if len(recent) == 0 {
			delete(rl.attempts, key)
		} else {
			rl.attempts[key] = recent
		}
	}
}
