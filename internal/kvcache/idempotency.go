package kvcache

import (
	"context"
	"fmt"
	"time"
)

// IdempotencyCache stores action results keyed by (operation, client key) so
// replays within the TTL return the original payload verbatim without
// re-executing the action.
type IdempotencyCache struct {
	kv  KV
	ttl time.Duration
}

// NewIdempotencyCache builds a result cache with the given retention.
func NewIdempotencyCache(kv KV, ttl time.Duration) *IdempotencyCache {
	return &IdempotencyCache{kv: kv, ttl: ttl}
}

// Get returns the cached result for (op, key), or ok=false on a miss.
func (c *IdempotencyCache) Get(ctx context.Context, op, key string) ([]byte, bool, error) {
	v, ok, err := c.kv.Get(ctx, idempotencyKey(op, key))
	if err != nil {
		return nil, false, fmt.Errorf("idempotency get: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return []byte(v), true, nil
}

// Put records the result of a completed action.
func (c *IdempotencyCache) Put(ctx context.Context, op, key string, result []byte) error {
	if err := c.kv.Set(ctx, idempotencyKey(op, key), string(result), c.ttl); err != nil {
		return fmt.Errorf("idempotency put: %w", err)
	}
	return nil
}

func idempotencyKey(op, key string) string {
	return idempotencyPrefix + op + ":" + key
}
