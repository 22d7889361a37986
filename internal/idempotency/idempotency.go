// Package idempotency gives retry-safe semantics to mutation requests:
// key-format validation, a cached-response shape, and a "store only on
// 2xx" rule. It is a plain component the HTTP handler calls explicitly
// around a structured response value, not a response-writer that
// monkey-patches itself to sneak in caching as a side effect.
package idempotency

import (
	"context"
	"regexp"
	"time"

	"github.com/timour/reservation-engine/internal/model"
	"github.com/timour/reservation-engine/internal/store"
)

const (
	MinKeyLength = 8
	MaxKeyLength = 255
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateKey reports whether key is 8-255 characters drawn from the
// URL-safe charset (letters, digits, hyphen, underscore).
func ValidateKey(key string) bool {
	if len(key) < MinKeyLength || len(key) > MaxKeyLength {
		return false
	}
	return keyPattern.MatchString(key)
}

// Response is the structured outcome a handler hands to the layer for
// possible caching; it is also what gets replayed on a hit.
type Response struct {
	Status int
	Body   []byte
}

// Layer wraps a Store's idempotency_keys table with the request-level
// policy: lookup-before-call, store-only-on-2xx, TTL-bounded replay.
type Layer struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time
}

// New creates a Layer with the given default TTL. A zero or negative
// ttl falls back to model.DefaultIdempotencyTTL.
func New(s store.Store, ttl time.Duration) *Layer {
	if ttl <= 0 {
		ttl = model.DefaultIdempotencyTTL
	}
	return &Layer{store: s, ttl: ttl, now: time.Now}
}

// Lookup returns a previously-cached response for (key, route, userID),
// or nil if none exists or it has expired.
func (l *Layer) Lookup(ctx context.Context, key, route, userID string) (*Response, error) {
	rec, err := l.store.GetIdempotencyRecord(ctx, key, route, userID)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.Expired(l.now()) {
		return nil, nil
	}
	return &Response{Status: rec.ResponseStatus, Body: rec.ResponseBody}, nil
}

// Store persists resp under (key, route, userID) if and only if its
// status is 2xx; non-2xx responses must remain retryable as-is.
func (l *Layer) Store(ctx context.Context, key, route, userID string, resp Response) error {
	if resp.Status < 200 || resp.Status >= 300 {
		return nil
	}
	rec := &model.IdempotencyRecord{
		Key:            key,
		Route:          route,
		UserID:         userID,
		ResponseStatus: resp.Status,
		ResponseBody:   resp.Body,
		CreatedAt:      l.now(),
		TTL:            l.ttl,
	}
	return l.store.PutIdempotencyRecord(ctx, rec)
}

// Sweep deletes every record past its TTL; intended to run on a daily
// janitor ticker.
func (l *Layer) Sweep(ctx context.Context) (int, error) {
	return l.store.SweepIdempotencyRecords(ctx, l.now())
}
