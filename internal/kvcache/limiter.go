package kvcache

import (
	"context"
	"math"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is a fixed-window per-client rate limiter. On backend errors it
// fails open: the request is allowed and the error is logged.
type Limiter struct {
	kv     KV
	window time.Duration
	max    int
	logger log.Logger
}

// NewLimiter builds a limiter with the given window and per-window budget.
func NewLimiter(kv KV, window time.Duration, max int, logger log.Logger) *Limiter {
	if logger == nil {
		logger = log.Nop()
	}
	return &Limiter{kv: kv, window: window, max: max, logger: logger}
}

// Allow counts one request for clientID and reports whether it fits in the
// current window. RetryAfter is populated on denial, rounded up to whole
// seconds.
func (l *Limiter) Allow(ctx context.Context, clientID string) Decision {
	count, resetIn, err := l.kv.IncrWindow(ctx, rateLimitPrefix+clientID, l.window)
	if err != nil {
		l.logger.Error(ctx, err, "rate limit backend unavailable, failing open", "client_id", clientID)
		return Decision{Allowed: true, Remaining: l.max}
	}

	remaining := l.max - int(count)
	if remaining < 0 {
		remaining = 0
	}

	if count > int64(l.max) {
		retry := time.Duration(math.Ceil(resetIn.Seconds())) * time.Second
		if retry <= 0 {
			retry = time.Second
		}
		return Decision{Allowed: false, RetryAfter: retry}
	}

	return Decision{Allowed: true, Remaining: remaining}
}
