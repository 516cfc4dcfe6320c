package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onchainhedge/hedgebridge/internal/domain"
)

// LockStore implements domain.SymbolLockStore, porting the exact semantics
// of original_source's src/lock.rs try_acquire_execution_lease /
// clear_execution_lease.
type LockStore struct {
	pool *pgxpool.Pool
}

// NewLockStore creates a new LockStore.
func NewLockStore(pool *pgxpool.Pool) *LockStore {
	return &LockStore{pool: pool}
}

// TryAcquire deletes stale rows (locked_at older than ttl) then attempts an
// insert-if-absent for symbol, returning true iff this call inserted it.
func (s *LockStore) TryAcquire(ctx context.Context, tx domain.Tx, symbol string, ttl time.Duration) (bool, error) {
	q, err := db(s.pool, tx)
	if err != nil {
		return false, err
	}

	if _, err := q.Exec(ctx, `DELETE FROM symbol_locks WHERE symbol = $1 AND locked_at < $2`,
		symbol, time.Now().Add(-ttl)); err != nil {
		return false, fmt.Errorf("postgres: clean stale lock %s: %w", symbol, err)
	}

	tag, err := q.Exec(ctx, `
		INSERT INTO symbol_locks (symbol, locked_at) VALUES ($1, NOW())
		ON CONFLICT (symbol) DO NOTHING`, symbol)
	if err != nil {
		return false, fmt.Errorf("postgres: acquire lock %s: %w", symbol, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Release unconditionally deletes the lock row for symbol.
func (s *LockStore) Release(ctx context.Context, tx domain.Tx, symbol string) error {
	q, err := db(s.pool, tx)
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx, `DELETE FROM symbol_locks WHERE symbol = $1`, symbol); err != nil {
		return fmt.Errorf("postgres: release lock %s: %w", symbol, err)
	}
	return nil
}

// Held reports whether a (possibly stale) lock row exists for symbol.
func (s *LockStore) Held(ctx context.Context, symbol string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM symbol_locks WHERE symbol = $1)`, symbol).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check lock %s: %w", symbol, err)
	}
	return exists, nil
}

// HeldFresh reports whether symbol's lock row exists and was locked within
// ttl of now -- i.e. it is not yet eligible for TryAcquire's stale-row
// cleanup.
func (s *LockStore) HeldFresh(ctx context.Context, symbol string, ttl time.Duration) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM symbol_locks WHERE symbol = $1 AND locked_at >= $2)`,
		symbol, time.Now().Add(-ttl)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check fresh lock %s: %w", symbol, err)
	}
	return exists, nil
}

var _ domain.SymbolLockStore = (*LockStore)(nil)
