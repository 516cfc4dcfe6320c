// Package lease implements the execution-lease protocol of spec §4.4 on top
// of domain.SymbolLockStore and domain.AccumulatorStore, adding the
// lease-mismatch guard that original_source's
// clear_pending_execution_within_transaction enforces: a lease is only
// released by the execution that is actually recorded as pending for that
// symbol.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/onchainhedge/hedgebridge/internal/domain"
)

// Manager wraps a SymbolLockStore and AccumulatorStore to provide the
// transactional acquire/release protocol C5 depends on.
type Manager struct {
	locks domain.SymbolLockStore
	accs  domain.AccumulatorStore
	ttl   time.Duration
	hints domain.LeaseHintCache
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithHintCache attaches a Redis-backed hint cache (spec §5/§9: "an
// in-memory per-symbol mutex map is permitted as an optimization to reduce
// DB contention for hot symbols, but is never the primary gate"). When
// present, TryAcquire consults it before the DB round trip for an
// already-known-busy symbol, and TryAcquire/Release/ReleaseIfMatches keep
// it in sync with the DB-authoritative outcome.
func WithHintCache(hints domain.LeaseHintCache) Option {
	return func(m *Manager) { m.hints = hints }
}

// NewManager creates a Manager with the given lease TTL (the staleness
// window after which TryAcquire treats a held lock as abandoned).
func NewManager(locks domain.SymbolLockStore, accs domain.AccumulatorStore, ttl time.Duration, opts ...Option) *Manager {
	m := &Manager{locks: locks, accs: accs, ttl: ttl}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TryAcquire attempts to take the execution lease for symbol. Must run
// inside tx alongside the accumulator read/update it guards. If a hint cache
// is configured and already believes symbol is hot, it short-circuits
// without ever touching the DB -- but a cold hint always falls through to
// the authoritative DB attempt, since the hint can go stale or simply never
// have been set by this process.
func (m *Manager) TryAcquire(ctx context.Context, tx domain.Tx, symbol string) (bool, error) {
	if m.hints != nil {
		markedHot, err := m.hints.TryMarkHot(ctx, symbol, m.ttl)
		if err == nil && !markedHot {
			return false, nil
		}
	}

	acquired, err := m.locks.TryAcquire(ctx, tx, symbol, m.ttl)
	if err != nil {
		return false, fmt.Errorf("lease: acquire %s: %w", symbol, err)
	}
	if !acquired && m.hints != nil {
		// Our hint claimed the symbol was free but the DB disagrees; clear
		// it rather than leave a false "we hold it" hint in place.
		_ = m.hints.ClearHot(ctx, symbol)
	}
	return acquired, nil
}

// Release unconditionally drops the lease for symbol, used when an
// accumulator pass emits no execution, so nothing is left pending
// (original_source's clear_execution_lease).
func (m *Manager) Release(ctx context.Context, tx domain.Tx, symbol string) error {
	if err := m.locks.Release(ctx, tx, symbol); err != nil {
		return fmt.Errorf("lease: release %s: %w", symbol, err)
	}
	if m.hints != nil {
		_ = m.hints.ClearHot(ctx, symbol)
	}
	return nil
}

// ReleaseIfMatches clears the accumulator's pending_execution_id and the
// symbol lock together, but only if the accumulator's current
// pending_execution_id equals executionID. On mismatch it leaves both the
// accumulator and the lock untouched and returns a *domain.LeaseMismatchError
// describing what was actually pending, mirroring
// clear_pending_execution_within_transaction's ExecutionIdMismatch path.
func (m *Manager) ReleaseIfMatches(ctx context.Context, tx domain.Tx, symbol string, executionID int64) error {
	acc, err := m.accs.GetOrCreate(ctx, tx, symbol)
	if err != nil {
		return fmt.Errorf("lease: load accumulator %s: %w", symbol, err)
	}

	if acc.PendingExecutionID == nil || *acc.PendingExecutionID != executionID {
		return &domain.LeaseMismatchError{
			Symbol:   symbol,
			Expected: executionID,
			Current:  acc.PendingExecutionID,
		}
	}

	acc.PendingExecutionID = nil
	if err := m.accs.Update(ctx, tx, acc); err != nil {
		return fmt.Errorf("lease: clear pending execution for %s: %w", symbol, err)
	}
	if err := m.locks.Release(ctx, tx, symbol); err != nil {
		return fmt.Errorf("lease: release lock after clearing pending execution for %s: %w", symbol, err)
	}
	if m.hints != nil {
		_ = m.hints.ClearHot(ctx, symbol)
	}
	return nil
}
