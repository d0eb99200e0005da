package triage

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the per-step circuit breakers.
type BreakerConfig struct {
	// FailThreshold is the number of consecutive failures that opens a
	// step's circuit.
	FailThreshold uint32

	// ResetAfter is how long an open circuit waits before admitting a
	// single probe request.
	ResetAfter time.Duration

	// OnOpen, if non-nil, is invoked when a step's circuit opens.
	OnOpen func(step string)
}

// Breakers holds one circuit breaker per pipeline step. Breaker state is
// shared across runs: a step that keeps failing is skipped everywhere until
// its reset timeout elapses.
type Breakers struct {
	cfg BreakerConfig

	mu     sync.Mutex
	byStep map[string]*gobreaker.CircuitBreaker
}

// NewBreakers builds the registry.
func NewBreakers(cfg BreakerConfig) *Breakers {
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = 30 * time.Second
	}
	return &Breakers{cfg: cfg, byStep: make(map[string]*gobreaker.CircuitBreaker)}
}

// For returns the breaker guarding the named step, creating it on first use.
func (b *Breakers) For(step string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.byStep[step]; ok {
		return cb
	}

	cfg := b.cfg
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        step,
		MaxRequests: 1, // one probe while half-open
		Timeout:     cfg.ResetAfter,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen && cfg.OnOpen != nil {
				cfg.OnOpen(name)
			}
		},
	})
	b.byStep[step] = cb
	return cb
}
