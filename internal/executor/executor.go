// Package executor implements C8, the order executor: it drives a single
// Pending execution to Submitted (or a terminal Failed) against a
// domain.Broker, retrying transient broker errors with bounded exponential
// backoff per spec §6's place_retry settings.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/onchainhedge/hedgebridge/internal/domain"
	"github.com/onchainhedge/hedgebridge/internal/lease"
	"github.com/onchainhedge/hedgebridge/internal/notify"
	"github.com/onchainhedge/hedgebridge/internal/telemetry"
)

// RetryPolicy mirrors spec §6's place_retry config block.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
}

// DefaultRetryPolicy matches the spec's stated defaults (max=3, base=100ms,
// factor=2).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, Factor: 2}
}

// Executor wires a broker adapter against the execution store and lease
// manager to carry a single Pending execution through to Submitted or
// Failed.
type Executor struct {
	txBeginner domain.TxBeginner
	executions domain.ExecutionStore
	leases     *lease.Manager
	broker     domain.Broker
	retry      RetryPolicy
	metrics    *telemetry.Metrics
	notifier   *notify.Notifier
	limiter    domain.RateLimiter
	logger     *slog.Logger
}

// SetRateLimiter attaches a distributed rate limiter that placeWithRetry
// waits on before each broker call, so concurrent workers placing orders for
// different symbols don't collectively trip the broker's own limiter. Safe
// to leave unset; a nil limiter means no gating.
func (e *Executor) SetRateLimiter(limiter domain.RateLimiter) {
	e.limiter = limiter
}

// New builds an Executor. metrics and notifier may both be nil.
func New(
	txBeginner domain.TxBeginner,
	executions domain.ExecutionStore,
	leases *lease.Manager,
	broker domain.Broker,
	retry RetryPolicy,
	metrics *telemetry.Metrics,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		txBeginner: txBeginner,
		executions: executions,
		leases:     leases,
		broker:     broker,
		retry:      retry,
		metrics:    metrics,
		notifier:   notifier,
		logger:     logger,
	}
}

// Execute drives executionID from Pending to Submitted, or to Failed after
// exhausting retry on a non-transient or repeatedly-transient broker error.
// It is idempotent: calling it again on an execution that has already left
// Pending is a no-op, which makes it safe to re-run after a supervisor
// restart picks the same id up twice.
func (e *Executor) Execute(ctx context.Context, executionID int64) error {
	started := time.Now()

	exec, err := e.executions.FindByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("executor: load execution %d: %w", executionID, err)
	}
	if exec.Status != domain.ExecutionPending {
		e.logger.DebugContext(ctx, "executor: execution no longer pending, skipping",
			slog.Int64("execution_id", executionID), slog.String("status", string(exec.Status)))
		return nil
	}

	if wait, err := e.broker.WaitUntilMarketOpen(ctx); err != nil {
		e.logger.WarnContext(ctx, "executor: market hours check failed, proceeding anyway",
			slog.Int64("execution_id", executionID), slog.String("error", err.Error()))
	} else if wait != nil {
		e.logger.InfoContext(ctx, "executor: market closed, waiting for open",
			slog.Int64("execution_id", executionID), slog.Duration("wait", *wait))
		timer := time.NewTimer(*wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	placement, placeErr := e.placeWithRetry(ctx, exec)
	if placeErr != nil {
		return e.fail(ctx, exec, placeErr, started)
	}
	return e.submit(ctx, exec, placement, started)
}

func (e *Executor) placeWithRetry(ctx context.Context, exec domain.Execution) (domain.Placement, error) {
	order := domain.OrderRequest{Symbol: exec.Symbol, Shares: exec.Shares, Direction: exec.Direction}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retry.BaseDelay
	b.Multiplier = e.retry.Factor
	b.RandomizationFactor = 0.1
	bounded := backoff.WithMaxRetries(b, uint64(max(0, e.retry.MaxAttempts-1)))
	bounded = backoff.WithContext(bounded, ctx)

	var placement domain.Placement
	op := func() error {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx, "broker.place_market_order"); err != nil {
				return backoff.Permanent(fmt.Errorf("rate limiter wait: %w", err))
			}
		}
		var err error
		placement, err = e.broker.PlaceMarketOrder(ctx, order)
		if err == nil {
			return nil
		}
		if be, ok := domain.AsBrokerError(err); !ok || !be.Kind.Transient() {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.RetryNotify(op, bounded, func(err error, d time.Duration) {
		delay := d
		if be, ok := domain.AsBrokerError(err); ok && be.RetryAfter > delay {
			delay = be.RetryAfter
		}
		e.logger.WarnContext(ctx, "executor: place order failed, retrying",
			slog.Int64("execution_id", exec.ID), slog.String("symbol", exec.Symbol),
			slog.Duration("backoff", delay), slog.String("error", err.Error()))
		if delay > d {
			select {
			case <-ctx.Done():
			case <-time.After(delay - d):
			}
		}
	})
	return placement, err
}

func (e *Executor) submit(ctx context.Context, exec domain.Execution, placement domain.Placement, started time.Time) error {
	err := e.txBeginner.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return e.executions.Transition(ctx, tx, exec.ID, domain.ExecutionSubmitted, domain.TransitionFields{
			OrderID: placement.OrderID,
		})
	})
	if err != nil {
		return fmt.Errorf("executor: transition %d to submitted: %w", exec.ID, err)
	}
	e.metrics.RecordOrderPlaced("pending")
	e.logger.InfoContext(ctx, "executor: order submitted",
		slog.Int64("execution_id", exec.ID), slog.String("symbol", exec.Symbol),
		slog.String("order_id", placement.OrderID), slog.Duration("elapsed", time.Since(started)))
	return nil
}

// fail transitions exec to Failed and releases its lease. A lease mismatch
// here is logged, not fatal: it means another worker already reconciled this
// symbol's lease, so the execution's own Failed transition still stands.
func (e *Executor) fail(ctx context.Context, exec domain.Execution, placeErr error, started time.Time) error {
	reason := placeErr.Error()

	err := e.txBeginner.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := e.executions.Transition(ctx, tx, exec.ID, domain.ExecutionFailed, domain.TransitionFields{
			FailReason: reason,
		}); err != nil {
			return err
		}
		if err := e.leases.ReleaseIfMatches(ctx, tx, exec.Symbol, exec.ID); err != nil {
			var mismatch *domain.LeaseMismatchError
			if !errors.As(err, &mismatch) {
				return err
			}
			e.logger.WarnContext(ctx, "executor: lease already reconciled by another worker",
				slog.Int64("execution_id", exec.ID), slog.String("symbol", exec.Symbol),
				slog.String("error", err.Error()))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("executor: transition %d to failed: %w", exec.ID, err)
	}

	e.metrics.RecordOrderPlaced("failed")
	e.metrics.ObserveExecutionDuration(time.Since(started))
	e.logger.ErrorContext(ctx, "executor: order placement failed permanently",
		slog.Int64("execution_id", exec.ID), slog.String("symbol", exec.Symbol),
		slog.String("reason", reason))
	if nerr := e.notifier.Notify(ctx, "execution.failed", "Hedge order failed",
		fmt.Sprintf("%s %d shares for %s: %s", exec.Direction, exec.Shares, exec.Symbol, reason)); nerr != nil {
		e.logger.WarnContext(ctx, "executor: notify failed", slog.String("error", nerr.Error()))
	}
	return nil
}
