// Package ratelimit provides a keyed token bucket limiter for inbound requests.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultIdleTTL = 10 * time.Minute

// KeyedRateLimiter gives every key (a client address) its own token bucket.
// Buckets idle for longer than the idle TTL are dropped on the next sweep.
type KeyedRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	clock    func() time.Time
	lastScan time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a keyed limiter allowing rps requests per second with the given burst.
func New(rps float64, burst int) *KeyedRateLimiter {
	return NewWithClock(rps, burst, time.Now)
}

// NewWithClock is New with an injected clock.
func NewWithClock(rps float64, burst int, clock func() time.Time) *KeyedRateLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &KeyedRateLimiter{
		limiters: make(map[string]*entry),
		limit:    rate.Limit(rps),
		burst:    burst,
		idleTTL:  defaultIdleTTL,
		clock:    clock,
		lastScan: clock(),
	}
}

// Allow reports whether a request for key may proceed now.
func (krl *KeyedRateLimiter) Allow(key string) bool {
	krl.mu.Lock()
	defer krl.mu.Unlock()

	now := krl.clock()
	krl.sweep(now)

	current, exists := krl.limiters[key]
	if !exists {
		current = &entry{limiter: rate.NewLimiter(krl.limit, krl.burst)}
		krl.limiters[key] = current
	}
	current.lastSeen = now
	return current.limiter.AllowN(now, 1)
}

// Len reports the number of tracked keys.
func (krl *KeyedRateLimiter) Len() int {
	krl.mu.Lock()
	defer krl.mu.Unlock()
	return len(krl.limiters)
}

func (krl *KeyedRateLimiter) sweep(now time.Time) {
	if now.Sub(krl.lastScan) < krl.idleTTL {
		return
	}
	krl.lastScan = now
	for key, current := range krl.limiters {
		if now.Sub(current.lastSeen) >= krl.idleTTL {
			delete(krl.limiters, key)
		}
	}
}
