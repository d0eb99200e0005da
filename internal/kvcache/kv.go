// Package kvcache provides the TTL-bound key/value layer behind the rate
// limiter, the OTP store, and the idempotency cache. The durable backend is
// Redis; an in-memory implementation covers dev and tests.
package kvcache

import (
	"context"
	"time"
)

// KV is the minimal atomic key/value contract the caches need.
type KV interface {
	// IncrWindow atomically increments key, starting a fresh window of ttl
	// when the key does not exist yet. It returns the post-increment count
	// and the time remaining until the window resets.
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (count int64, resetIn time.Duration, err error)

	// Set stores value under key with the given ttl, replacing any previous
	// value.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value under key, or ok=false when absent or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// GetDel atomically reads and removes the value under key.
	GetDel(ctx context.Context, key string) (value string, ok bool, err error)
}

// Key prefixes shared by all backends.
const (
	rateLimitPrefix   = "rate_limit:"
	otpPrefix         = "otp:"
	idempotencyPrefix = "idempotency:"
)
