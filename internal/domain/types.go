// Package domain defines the core types and narrow store/cache interfaces
// shared across the hedging engine. It has no dependency on any concrete
// storage or transport implementation.
package domain

import "time"

// Direction is the side of a hedge order: the direction the broker order
// must take to offset an on-chain position change.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Sign returns +1 for Buy and -1 for Sell.
func (d Direction) Sign() float64 {
	if d == DirectionSell {
		return -1
	}
	return 1
}

// DirectionFromSign maps a signed quantity to the Direction that would
// realize it (positive or zero -> Buy, negative -> Sell).
func DirectionFromSign(v float64) Direction {
	if v < 0 {
		return DirectionSell
	}
	return DirectionBuy
}

// BrokerKind selects which Broker implementation backs an Execution.
type BrokerKind string

const (
	BrokerReal      BrokerKind = "real"
	BrokerSimulated BrokerKind = "simulated"
)

// OnchainEvent is the immutable ingress record for a single observed chain
// log. processed_at is nil until the supervisor finishes downstream work for
// this event.
type OnchainEvent struct {
	TxHash      string // 0x-prefixed 32-byte hex digest
	LogIndex    int64
	Payload     []byte
	ProcessedAt *time.Time
}

// EnqueueOutcome reports whether enqueue inserted a new row or found an
// existing one. Callers use it only for metrics; the call never fails on
// duplicate.
type EnqueueOutcome int

const (
	Inserted EnqueueOutcome = iota
	Duplicate
)

func (o EnqueueOutcome) String() string {
	if o == Duplicate {
		return "duplicate"
	}
	return "inserted"
}

// OnchainTrade is the decoded domain event produced by the trade decoder.
// Direction is the direction the off-chain hedge order must take.
type OnchainTrade struct {
	TxHash     string
	LogIndex   int64
	Symbol     string
	Amount     float64 // positive rational number of shares
	Direction  Direction
	Price      float64
	ObservedAt time.Time
}

// SignedAmount returns Amount oriented by Direction (Buy=+, Sell=-).
func (t OnchainTrade) SignedAmount() float64 {
	return t.Amount * t.Direction.Sign()
}

// Accumulator is the per-symbol running fractional-share balance.
type Accumulator struct {
	Symbol              string
	NetFractionalShares float64
	PendingExecutionID  *int64
	LastUpdated         time.Time
}

// SymbolLock is the per-symbol execution lease row.
type SymbolLock struct {
	Symbol   string
	LockedAt time.Time
}

// ExecutionStatus is the persisted state-machine tag for an Execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "PENDING"
	ExecutionSubmitted ExecutionStatus = "SUBMITTED"
	ExecutionFilled    ExecutionStatus = "FILLED"
	ExecutionFailed    ExecutionStatus = "FAILED"
)

// Execution is the broker-side order record and state machine described in
// spec §4.5. Fields unused by the current state are zero-valued.
type Execution struct {
	ID          int64
	Symbol      string
	Shares      int64 // positive whole integer
	Direction   Direction
	Broker      BrokerKind
	Status      ExecutionStatus
	OrderID     string // set once Submitted
	PriceCents  *int64 // set once Filled; non-negative
	ExecutedAt  *time.Time
	FailedAt    *time.Time
	FailReason  string
	CreatedAt   time.Time
}

// CanTransition reports whether moving from e.Status to next is a legal
// state-machine edge per spec §4.5. It never mutates e.
func (e Execution) CanTransition(next ExecutionStatus) bool {
	switch e.Status {
	case ExecutionPending:
		return next == ExecutionSubmitted || next == ExecutionFailed
	case ExecutionSubmitted:
		return next == ExecutionFilled || next == ExecutionFailed
	default:
		// Filled and Failed are terminal: no outgoing transitions.
		return false
	}
}

// IsTerminal reports whether the execution has reached Filled or Failed.
func (e Execution) IsTerminal() bool {
	return e.Status == ExecutionFilled || e.Status == ExecutionFailed
}

// BrokerCredentials is the opaque OAuth2 token material the real broker
// adapter persists and rotates. The core treats it as an external resource.
type BrokerCredentials struct {
	AccountIndex int
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

// Placement is the result of a successful broker order placement.
type Placement struct {
	OrderID  string
	PlacedAt time.Time
}

// OrderState is the broker's view of an order's lifecycle, returned by
// get_order_status / poll_pending and mapped onto ExecutionStatus by the
// poller.
type OrderState struct {
	Status         ExecutionStatus
	OrderID        string
	FilledQty      int64
	RemainingQty   int64
	AvgPriceCents  *int64
	LastActivityAt time.Time
}

// OrderRequest is the narrow order shape the broker adapter accepts.
type OrderRequest struct {
	Symbol    string
	Shares    int64
	Direction Direction
}

// AuditEntry is a single append-only audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}
