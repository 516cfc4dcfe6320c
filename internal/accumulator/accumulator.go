// Package accumulator implements the per-symbol fractional-share
// accumulation and whole-share emission logic of spec §4.3 (C4), the
// heart of the hedging engine's core.
package accumulator

import (
	"context"
	"fmt"
	"math"

	"github.com/onchainhedge/hedgebridge/internal/domain"
	"github.com/onchainhedge/hedgebridge/internal/lease"
)

// Processor applies decoded trades to the per-symbol accumulator, emitting a
// Pending Execution whenever the running balance crosses a whole share.
type Processor struct {
	txBeginner domain.TxBeginner
	trades     domain.TradeStore
	accs       domain.AccumulatorStore
	executions domain.ExecutionStore
	leases     *lease.Manager
	broker     domain.BrokerKind
}

// NewProcessor wires the accumulator against its storage dependencies.
// broker selects which BrokerKind newly created executions are tagged with.
func NewProcessor(
	txBeginner domain.TxBeginner,
	trades domain.TradeStore,
	accs domain.AccumulatorStore,
	executions domain.ExecutionStore,
	leases *lease.Manager,
	broker domain.BrokerKind,
) *Processor {
	return &Processor{
		txBeginner: txBeginner,
		trades:     trades,
		accs:       accs,
		executions: executions,
		leases:     leases,
		broker:     broker,
	}
}

// Apply persists trade (idempotently) and, if this call's caller wins the
// symbol's execution lease, folds it into the running accumulator and emits
// a Pending execution when the balance crosses a whole share. It returns the
// new execution's id, or nil if no execution was created — either because
// the trade was a duplicate, the lease was held elsewhere (deferred), or the
// accumulated balance is still fractional.
func (p *Processor) Apply(ctx context.Context, trade domain.OnchainTrade) (*int64, error) {
	outcome, err := p.trades.InsertIfAbsent(ctx, trade)
	if err != nil {
		return nil, fmt.Errorf("accumulator: persist trade %s/%d: %w", trade.TxHash, trade.LogIndex, err)
	}
	if outcome == domain.Duplicate {
		return nil, nil
	}

	var executionID *int64
	err = p.txBeginner.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		acquired, err := p.leases.TryAcquire(ctx, tx, trade.Symbol)
		if err != nil {
			return err
		}
		if !acquired {
			// Deferred: the trade is already persisted, another worker (or a
			// later pass once the poller releases the lease) will pick up
			// this delta.
			return nil
		}

		acc, err := p.accs.GetOrCreate(ctx, tx, trade.Symbol)
		if err != nil {
			return fmt.Errorf("load accumulator for %s: %w", trade.Symbol, err)
		}

		newNet := acc.NetFractionalShares + trade.SignedAmount()
		whole := math.Trunc(newNet)

		if math.Abs(whole) < 1 {
			acc.NetFractionalShares = newNet
			if err := p.accs.Update(ctx, tx, acc); err != nil {
				return fmt.Errorf("update accumulator for %s: %w", trade.Symbol, err)
			}
			// No whole share to emit this pass; nothing is pending, so the
			// lease serves no further purpose.
			return p.leases.Release(ctx, tx, trade.Symbol)
		}

		shares := int64(math.Abs(whole))
		dir := domain.DirectionFromSign(whole)

		id, err := p.executions.CreatePending(ctx, tx, trade.Symbol, shares, dir, p.broker)
		if err != nil {
			return fmt.Errorf("create pending execution for %s: %w", trade.Symbol, err)
		}

		acc.NetFractionalShares = newNet - whole
		acc.PendingExecutionID = &id
		if err := p.accs.Update(ctx, tx, acc); err != nil {
			return fmt.Errorf("update accumulator with pending execution for %s: %w", trade.Symbol, err)
		}

		executionID = &id
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("accumulator: apply trade for %s: %w", trade.Symbol, err)
	}
	return executionID, nil
}
