package kvcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV implements KV on a Redis connection.
type RedisKV struct {
	client *redis.Client
}

// NewRedis connects to Redis at url (redis:// form) and pings it.
func NewRedis(ctx context.Context, url string) (*RedisKV, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisKV{client: client}, nil
}

// Close releases the underlying connection pool.
func (r *RedisKV) Close() error { return r.client.Close() }

// incrWindowScript increments the counter and stamps the window TTL on
// first use, atomically. Returns {count, pttl}.
var incrWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`)

// IncrWindow implements KV.
func (r *RedisKV) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	res, err := incrWindowScript.Run(ctx, r.client, []string{key}, ttl.Milliseconds()).Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("redis incr window: %w", err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("redis incr window: unexpected reply %v", res)
	}
	count, _ := res[0].(int64)
	pttl, _ := res[1].(int64)
	return count, time.Duration(pttl) * time.Millisecond, nil
}

// Set implements KV.
func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get implements KV.
func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return v, true, nil
}

// GetDel implements KV.
func (r *RedisKV) GetDel(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis getdel: %w", err)
	}
	return v, true, nil
}
