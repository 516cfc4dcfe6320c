package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onchainhedge/hedgebridge/internal/domain"
)

// LeaseHintCache implements domain.LeaseHintCache using plain Redis SETNX
// with a TTL. Unlike a distributed lock, there is no token-matched unlock:
// per spec §5 this cache is never the correctness boundary (SymbolLockStore
// is), so ClearHot simply deletes the key unconditionally.
type LeaseHintCache struct {
	rdb *redis.Client
}

// NewLeaseHintCache creates a LeaseHintCache backed by the given Client.
func NewLeaseHintCache(c *Client) *LeaseHintCache {
	return &LeaseHintCache{rdb: c.Underlying()}
}

func hintKey(symbol string) string {
	return "lease_hint:" + symbol
}

// TryMarkHot returns true iff this call is the one that set the key, i.e.
// no other process currently believes it holds symbol's lease.
func (c *LeaseHintCache) TryMarkHot(ctx context.Context, symbol string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, hintKey(symbol), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: mark hot %s: %w", symbol, err)
	}
	return ok, nil
}

// ClearHot drops the hint unconditionally; it is always safe to call even if
// this process never set the key, since the hint is advisory only.
func (c *LeaseHintCache) ClearHot(ctx context.Context, symbol string) error {
	if err := c.rdb.Del(ctx, hintKey(symbol)).Err(); err != nil {
		return fmt.Errorf("redis: clear hot %s: %w", symbol, err)
	}
	return nil
}

var _ domain.LeaseHintCache = (*LeaseHintCache)(nil)
