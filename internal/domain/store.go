package domain

import (
	"context"
	"time"
)

// EventQueueStore implements the idempotent ingress queue described in
// spec §4.1.
type EventQueueStore interface {
	Enqueue(ctx context.Context, txHash string, logIndex int64, payload []byte) (EnqueueOutcome, error)
	NextUnprocessed(ctx context.Context) (*OnchainEvent, error)
	MarkProcessed(ctx context.Context, txHash string, logIndex int64) error
	// ListProcessedBefore returns processed events with processed_at strictly
	// before opts.Until, for cold-storage archival.
	ListProcessedBefore(ctx context.Context, opts ListOpts) ([]OnchainEvent, error)
}

// TradeStore persists decoded OnchainTrade rows. InsertIfAbsent is the
// idempotency boundary for C3's output; it never errors on a duplicate
// (tx_hash, log_index).
type TradeStore interface {
	InsertIfAbsent(ctx context.Context, trade OnchainTrade) (EnqueueOutcome, error)
	SumSignedAmount(ctx context.Context, symbol string) (float64, error)
	ListBefore(ctx context.Context, before ListOpts) ([]OnchainTrade, error)
}

// AccumulatorStore persists the per-symbol fractional balance.
type AccumulatorStore interface {
	// GetOrCreate returns the Accumulator row for symbol, creating a
	// zero-balance row if none exists yet. Must run inside tx.
	GetOrCreate(ctx context.Context, tx Tx, symbol string) (Accumulator, error)
	// Update writes back net_fractional_shares and pending_execution_id.
	Update(ctx context.Context, tx Tx, acc Accumulator) error
	Get(ctx context.Context, symbol string) (Accumulator, error)
	List(ctx context.Context) ([]Accumulator, error)
}

// SymbolLockStore implements the execution lease primitives of spec §4.4.
type SymbolLockStore interface {
	// TryAcquire deletes stale rows (locked_at < now-ttl) then attempts an
	// insert-if-absent for symbol. Returns true iff this call inserted the
	// row.
	TryAcquire(ctx context.Context, tx Tx, symbol string, ttl time.Duration) (bool, error)
	// Release unconditionally deletes the lock row for symbol.
	Release(ctx context.Context, tx Tx, symbol string) error
	// Held reports whether a (possibly stale) lock row exists for symbol.
	Held(ctx context.Context, symbol string) (bool, error)
	// HeldFresh reports whether a lock row exists for symbol AND was
	// locked within ttl of now, i.e. TryAcquire would not be able to
	// reclaim it yet. Used by startup recovery (spec §4.9) to tell a live
	// lease apart from one whose TTL has already expired.
	HeldFresh(ctx context.Context, symbol string, ttl time.Duration) (bool, error)
}

// ExecutionStore persists the Execution state machine.
type ExecutionStore interface {
	CreatePending(ctx context.Context, tx Tx, symbol string, shares int64, dir Direction, broker BrokerKind) (int64, error)
	// Transition moves id to next, failing with ErrInvalidTransition if the
	// current state does not permit it. Additional fields (order id, price,
	// timestamps, reason) are taken from fields.
	Transition(ctx context.Context, tx Tx, id int64, next ExecutionStatus, fields TransitionFields) error
	FindByID(ctx context.Context, id int64) (Execution, error)
	FindBySymbolAndStatus(ctx context.Context, symbol string, statuses ...ExecutionStatus) ([]Execution, error)
	FindAllSubmitted(ctx context.Context) ([]Execution, error)
	ListBefore(ctx context.Context, opts ListOpts) ([]Execution, error)
}

// TransitionFields carries the state-specific payload of a Transition call.
type TransitionFields struct {
	OrderID    string
	PriceCents *int64
	ExecutedAt *time.Time
	FailedAt   *time.Time
	FailReason string
}

// BrokerCredentialStore persists OAuth2 token material, encrypted at rest.
type BrokerCredentialStore interface {
	Get(ctx context.Context, accountIndex int) (BrokerCredentials, error)
	Upsert(ctx context.Context, creds BrokerCredentials) error
}

// AuditStore persists an append-only operator audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Tx is an opaque, store-package-defined transaction handle. The domain
// package never depends on a concrete driver; callers obtain one from a
// TxBeginner and pass it through to any store method that must share it.
type Tx interface {
	// Commit and Rollback are intentionally absent from this interface: the
	// TxBeginner that produced a Tx is responsible for ending it, so callers
	// of domain stores never need the concrete driver type.
}

// TxBeginner starts a transaction that several store calls can share, as
// required by spec §5's transaction-discipline rules (accumulator update +
// execution insert + lease claim commit together; status transition + lease
// release commit together).
type TxBeginner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
