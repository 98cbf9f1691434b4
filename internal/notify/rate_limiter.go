package notify

import (
	"sync"
	"time"
)

// RateLimiter implements a token bucket limiting outbound sends so a noisy
// branch cannot overwhelm external transports.
type RateLimiter struct {
	rate       int           // tokens per interval
	interval   time.Duration // time window for rate
	tokens     int           // current available tokens
	maxTokens  int           // maximum tokens (burst capacity)
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a token bucket refilling ratePerMinute tokens per
// minute with the given burst capacity.
func NewRateLimiter(ratePerMinute, burst int) *RateLimiter {
	if ratePerMinute <= 0 {
		ratePerMinute = 60
	}
	if burst <= 0 {
		burst = 10
	}
	return &RateLimiter{
		rate:       ratePerMinute,
		interval:   time.Minute,
		tokens:     burst,
		maxTokens:  burst,
		lastRefill: time.Now(),
	}
}

// Allow reports whether a send may proceed, consuming a token when it may.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)
	if elapsed >= rl.interval {
		periods := int(elapsed / rl.interval)
		rl.tokens = minInt(rl.maxTokens, rl.tokens+periods*rl.rate)
		rl.lastRefill = now
	} else {
		tokensToAdd := int(float64(rl.rate) * (elapsed.Seconds() / rl.interval.Seconds()))
		if tokensToAdd > 0 {
			rl.tokens = minInt(rl.maxTokens, rl.tokens+tokensToAdd)
			rl.lastRefill = now
		}
	}

	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
