// Package poller implements C9, the status poller: it periodically queries
// the broker for every Submitted execution and advances terminal ones to
// Filled or Failed, releasing their lease as part of the same transaction.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/onchainhedge/hedgebridge/internal/domain"
	"github.com/onchainhedge/hedgebridge/internal/lease"
	"github.com/onchainhedge/hedgebridge/internal/notify"
	"github.com/onchainhedge/hedgebridge/internal/telemetry"
)

// Poller wires a broker against the execution store to reconcile
// outstanding orders.
type Poller struct {
	txBeginner domain.TxBeginner
	executions domain.ExecutionStore
	leases     *lease.Manager
	broker     domain.Broker
	interval   time.Duration
	jitter     time.Duration
	metrics    *telemetry.Metrics
	notifier   *notify.Notifier
	limiter    domain.RateLimiter
	logger     *slog.Logger
}

// SetRateLimiter attaches a distributed rate limiter that reconcile waits on
// before each broker.GetOrderStatus call. Safe to leave unset; a nil limiter
// means no gating -- the jittered per-order sleep in RunOnce still
// applies either way.
func (p *Poller) SetRateLimiter(limiter domain.RateLimiter) {
	p.limiter = limiter
}

// New builds a Poller. interval/jitter match spec §6's poll_interval (15s)
// and poll_jitter (5s) defaults. metrics and notifier may both be nil.
func New(
	txBeginner domain.TxBeginner,
	executions domain.ExecutionStore,
	leases *lease.Manager,
	broker domain.Broker,
	interval, jitter time.Duration,
	metrics *telemetry.Metrics,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		txBeginner: txBeginner,
		executions: executions,
		leases:     leases,
		broker:     broker,
		interval:   interval,
		jitter:     jitter,
		metrics:    metrics,
		notifier:   notifier,
		logger:     logger,
	}
}

// Run loops RunOnce on a jittered interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	for {
		if err := p.RunOnce(ctx); err != nil {
			p.logger.ErrorContext(ctx, "poller: cycle failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.sleepDuration()):
		}
	}
}

func (p *Poller) sleepDuration() time.Duration {
	if p.jitter <= 0 {
		return p.interval
	}
	return p.interval + time.Duration(rand.Int64N(int64(p.jitter)))
}

// RunOnce queries every Submitted execution and reconciles terminal ones.
// A single execution's failure is logged and does not stop the batch.
func (p *Poller) RunOnce(ctx context.Context) error {
	pending, err := p.executions.FindAllSubmitted(ctx)
	if err != nil {
		return fmt.Errorf("poller: list submitted executions: %w", err)
	}

	for i, exec := range pending {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(25*time.Millisecond + time.Duration(rand.Int64N(int64(25*time.Millisecond)))):
			}
		}
		if err := p.reconcile(ctx, exec); err != nil {
			p.logger.ErrorContext(ctx, "poller: reconcile failed",
				slog.Int64("execution_id", exec.ID), slog.String("symbol", exec.Symbol),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func (p *Poller) reconcile(ctx context.Context, exec domain.Execution) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, "broker.get_order_status"); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	state, err := p.broker.GetOrderStatus(ctx, exec.OrderID)
	if err != nil {
		if be, ok := domain.AsBrokerError(err); ok && be.Kind == domain.BrokerErrNotFound {
			return p.markFailed(ctx, exec, "broker reports order not found")
		}
		return fmt.Errorf("get order status %s: %w", exec.OrderID, err)
	}

	switch state.Status {
	case domain.ExecutionFilled:
		return p.markFilled(ctx, exec, state)
	case domain.ExecutionFailed:
		return p.markFailed(ctx, exec, "broker reports terminal failure")
	default:
		return nil
	}
}

func (p *Poller) markFilled(ctx context.Context, exec domain.Execution, state domain.OrderState) error {
	now := time.Now()
	err := p.txBeginner.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := p.executions.Transition(ctx, tx, exec.ID, domain.ExecutionFilled, domain.TransitionFields{
			PriceCents: state.AvgPriceCents,
			ExecutedAt: &now,
		}); err != nil {
			return err
		}
		return p.releaseLease(ctx, tx, exec)
	})
	if err != nil {
		return fmt.Errorf("transition %d to filled: %w", exec.ID, err)
	}

	p.metrics.RecordOrderPlaced("success")
	p.metrics.ObserveExecutionDuration(now.Sub(exec.CreatedAt))
	p.logger.InfoContext(ctx, "poller: execution filled",
		slog.Int64("execution_id", exec.ID), slog.String("symbol", exec.Symbol))
	if err := p.notifier.Notify(ctx, "execution.filled", "Hedge order filled",
		fmt.Sprintf("%s %d shares for %s", exec.Direction, exec.Shares, exec.Symbol)); err != nil {
		p.logger.WarnContext(ctx, "poller: notify failed", slog.String("error", err.Error()))
	}
	return nil
}

func (p *Poller) markFailed(ctx context.Context, exec domain.Execution, reason string) error {
	now := time.Now()
	err := p.txBeginner.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := p.executions.Transition(ctx, tx, exec.ID, domain.ExecutionFailed, domain.TransitionFields{
			FailReason: reason,
			FailedAt:   &now,
		}); err != nil {
			return err
		}
		return p.releaseLease(ctx, tx, exec)
	})
	if err != nil {
		return fmt.Errorf("transition %d to failed: %w", exec.ID, err)
	}

	p.metrics.RecordOrderPlaced("failed")
	p.metrics.ObserveExecutionDuration(now.Sub(exec.CreatedAt))
	p.logger.WarnContext(ctx, "poller: execution failed",
		slog.Int64("execution_id", exec.ID), slog.String("symbol", exec.Symbol), slog.String("reason", reason))
	if err := p.notifier.Notify(ctx, "execution.failed", "Hedge order failed",
		fmt.Sprintf("%s %d shares for %s: %s", exec.Direction, exec.Shares, exec.Symbol, reason)); err != nil {
		p.logger.WarnContext(ctx, "poller: notify failed", slog.String("error", err.Error()))
	}
	return nil
}

func (p *Poller) releaseLease(ctx context.Context, tx domain.Tx, exec domain.Execution) error {
	if err := p.leases.ReleaseIfMatches(ctx, tx, exec.Symbol, exec.ID); err != nil {
		var mismatch *domain.LeaseMismatchError
		if errors.As(err, &mismatch) {
			p.logger.WarnContext(ctx, "poller: lease already reconciled elsewhere",
				slog.Int64("execution_id", exec.ID), slog.String("symbol", exec.Symbol))
			return nil
		}
		return err
	}
	return nil
}
