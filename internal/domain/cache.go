package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting, used to throttle outbound
// broker HTTP calls across worker processes.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LeaseHintCache is a Redis-backed optimization layer only: per spec §5 it
// reduces DB contention for hot symbols but is never the correctness
// boundary. The authoritative gate is SymbolLockStore.
type LeaseHintCache interface {
	// TryMarkHot attempts to record that this process believes it holds the
	// lease for symbol, short-circuiting a DB round trip for obviously-busy
	// symbols. It is always safe to ignore this hint and consult the DB.
	TryMarkHot(ctx context.Context, symbol string, ttl time.Duration) (bool, error)
	ClearHot(ctx context.Context, symbol string) error
}
