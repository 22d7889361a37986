// Package ratelimit implements a per-caller token-bucket gate:
// continuous refill to a capacity, one token per allowed request, plus
// a secondary slow-down gate before outright rejection.
//
// golang.org/x/time/rate already implements the refill rule needed here
// (tokens accrue continuously, capped at a burst size), so this reaches
// for that library directly rather than hand-rolling a bucket; the
// per-key map-of-buckets shape is adapted from a Redis-backed quota
// pattern into an in-process map, for the same synchronous-consistency
// reasons as internal/cache.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision is the outcome of a Allow check.
type Decision struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetMs   int64
	RetryAfter time.Duration
	SlowDown  time.Duration
}

// Limiter is a token-bucket gate keyed by caller identifier, with a
// bounded slow-down delay applied before outright rejection once a
// caller crosses a soft threshold.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity int
	window   time.Duration

	softThreshold int
	slowDownStep  time.Duration
	slowDownCap   time.Duration
}

type bucket struct {
	limiter    *rate.Limiter
	lastSeen   time.Time
	overflows  int // allowed requests observed within the current window, compared against the soft threshold
	windowEnds time.Time
}

// New creates a Limiter allowing capacity requests per window, refilling
// continuously (capacity/window per unit time, capped at capacity).
func New(capacity int, window time.Duration) *Limiter {
	return &Limiter{
		buckets:       make(map[string]*bucket),
		capacity:      capacity,
		window:        window,
		softThreshold: capacity / 2,
		slowDownStep:  500 * time.Millisecond,
		slowDownCap:   2 * time.Second,
	}
}

// Allow consumes one token for key if available. The caller is expected
// to sleep for Decision.SlowDown (if any) before proceeding, and to
// reject with Decision.RetryAfter when !Allowed.
func (l *Limiter) Allow(key string) Decision {
	now := time.Now()
	refillPerSec := float64(l.capacity) / l.window.Seconds()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			limiter:    rate.NewLimiter(rate.Limit(refillPerSec), l.capacity),
			windowEnds: now.Add(l.window),
		}
		l.buckets[key] = b
	}
	if now.After(b.windowEnds) {
		b.overflows = 0
		b.windowEnds = now.Add(l.window)
	}
	b.lastSeen = now

	allowed := b.limiter.AllowN(now, 1)
	tokens := b.limiter.TokensAt(now)

	var slowDown time.Duration
	if allowed {
		b.overflows++
		if b.overflows > l.softThreshold {
			over := b.overflows - l.softThreshold
			slowDown = time.Duration(over) * l.slowDownStep
			if slowDown > l.slowDownCap {
				slowDown = l.slowDownCap
			}
		}
	}
	resetMs := b.windowEnds.UnixMilli()
	l.mu.Unlock()

	d := Decision{
		Allowed:   allowed,
		Limit:     l.capacity,
		Remaining: int(tokens),
		ResetMs:   resetMs,
		SlowDown:  slowDown,
	}
	if !allowed {
		d.Remaining = 0
		d.RetryAfter = time.Until(time.UnixMilli(resetMs))
		if d.RetryAfter < 0 {
			d.RetryAfter = 0
		}
	}
	return d
}

// Sweep drops buckets untouched for longer than idleAfter, bounding
// memory growth across distinct caller identifiers without blocking
// request handlers.
func (l *Limiter) Sweep(idleAfter time.Duration) int {
	cutoff := time.Now().Add(-idleAfter)
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for k, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, k)
			n++
		}
	}
	return n
}
