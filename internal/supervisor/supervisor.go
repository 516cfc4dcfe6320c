// Package supervisor implements C10: it owns the daemon's main loop, wiring
// the chain log stream through decode, accumulate, and execute, alongside
// the background status poller and a startup recovery pass.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/onchainhedge/hedgebridge/internal/accumulator"
	"github.com/onchainhedge/hedgebridge/internal/decoder"
	"github.com/onchainhedge/hedgebridge/internal/domain"
	"github.com/onchainhedge/hedgebridge/internal/executor"
	"github.com/onchainhedge/hedgebridge/internal/notify"
	"github.com/onchainhedge/hedgebridge/internal/poller"
)

// EventStream is the chain-ingress collaborator: anything that can emit a
// stream of raw logs and report a terminal error.
type EventStream interface {
	Logs() <-chan types.Log
	Err() <-chan error
}

// Supervisor wires C1 through C9 together into the single daemon loop
// described in spec §7.
type Supervisor struct {
	txBeginner  domain.TxBeginner
	stream      EventStream
	events      domain.EventQueueStore
	decoder     *decoder.Decoder
	accumulator *accumulator.Processor
	executions  domain.ExecutionStore
	symLocks    domain.SymbolLockStore
	executor    *executor.Executor
	poller      *poller.Poller
	leaseTTL    time.Duration
	notifier    *notify.Notifier
	logger      *slog.Logger
}

// New assembles a Supervisor from its fully wired collaborators. notifier may
// be nil.
func New(
	txBeginner domain.TxBeginner,
	stream EventStream,
	events domain.EventQueueStore,
	dec *decoder.Decoder,
	acc *accumulator.Processor,
	executions domain.ExecutionStore,
	symLocks domain.SymbolLockStore,
	exec *executor.Executor,
	poll *poller.Poller,
	leaseTTL time.Duration,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *Supervisor {
	return &Supervisor{
		txBeginner:  txBeginner,
		stream:      stream,
		events:      events,
		decoder:     dec,
		accumulator: acc,
		executions:  executions,
		symLocks:    symLocks,
		executor:    exec,
		poller:      poll,
		leaseTTL:    leaseTTL,
		notifier:    notifier,
		logger:      logger,
	}
}

// Run performs startup recovery, then runs the ingestion loop and the
// background poller concurrently until ctx is cancelled or either fails.
func (sv *Supervisor) Run(ctx context.Context) error {
	if err := sv.recover(ctx); err != nil {
		return fmt.Errorf("supervisor: startup recovery: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sv.poller.Run(ctx)
	})
	g.Go(func() error {
		return sv.ingest(ctx)
	})
	g.Go(func() error {
		select {
		case err := <-sv.stream.Err():
			if err != nil {
				return fmt.Errorf("supervisor: event stream failed: %w", err)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	return g.Wait()
}

// recover drains any events left unprocessed by a prior run, then sweeps
// Pending executions whose lease has gone stale into Failed with reason
// "startup sweep" — a crash between CreatePending and lease acquisition must
// never leave a symbol's lease permanently stuck, but resuming the execution
// automatically would risk placing an order the operator no longer expects,
// so the swept execution is left for an operator or a fresh accumulator
// crossing to re-drive it.
func (sv *Supervisor) recover(ctx context.Context) error {
	drained := 0
	for {
		ev, err := sv.events.NextUnprocessed(ctx)
		if err != nil {
			return fmt.Errorf("list unprocessed events: %w", err)
		}
		if ev == nil {
			break
		}
		if err := sv.handlePayload(ctx, *ev); err != nil {
			return err
		}
		drained++
	}
	if drained > 0 {
		sv.logger.InfoContext(ctx, "supervisor: drained unprocessed events at startup", slog.Int("count", drained))
	}

	stuck, err := sv.executions.FindBySymbolAndStatus(ctx, "", domain.ExecutionPending)
	if err != nil {
		return fmt.Errorf("list pending executions: %w", err)
	}
	swept := 0
	for _, exec := range stuck {
		fresh, err := sv.symLocks.HeldFresh(ctx, exec.Symbol, sv.leaseTTL)
		if err != nil {
			return fmt.Errorf("check lock for %s: %w", exec.Symbol, err)
		}
		if fresh {
			// A live, non-stale lease still covers this execution; a previous
			// process may simply not have gotten around to placing it yet.
			continue
		}
		if err := sv.failStuck(ctx, exec); err != nil {
			return fmt.Errorf("sweep stuck execution %d: %w", exec.ID, err)
		}
		swept++
	}
	if swept > 0 {
		sv.logger.InfoContext(ctx, "supervisor: swept stuck pending executions to failed", slog.Int("count", swept))
	}
	return nil
}

// failStuck transitions a single stuck Pending execution to Failed with
// reason "startup sweep".
func (sv *Supervisor) failStuck(ctx context.Context, exec domain.Execution) error {
	now := time.Now()
	sv.logger.WarnContext(ctx, "supervisor: sweeping stuck pending execution",
		slog.Int64("execution_id", exec.ID), slog.String("symbol", exec.Symbol))
	if err := sv.txBeginner.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return sv.executions.Transition(ctx, tx, exec.ID, domain.ExecutionFailed, domain.TransitionFields{
			FailedAt:   &now,
			FailReason: "startup sweep",
		})
	}); err != nil {
		return err
	}
	if err := sv.notifier.Notify(ctx, "execution.startup_sweep", "Hedge order swept on startup",
		fmt.Sprintf("execution %d for %s left Pending with a dead lease", exec.ID, exec.Symbol)); err != nil {
		sv.logger.WarnContext(ctx, "supervisor: notify failed", slog.String("error", err.Error()))
	}
	return nil
}

// ingest consumes the chain log stream, turning each log into a persisted
// event, a decoded trade, and — when the accumulator crosses a whole
// share — a dispatched execution.
func (sv *Supervisor) ingest(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case log, ok := <-sv.stream.Logs():
			if !ok {
				return nil
			}
			if err := sv.handleLog(ctx, log); err != nil {
				sv.logger.ErrorContext(ctx, "supervisor: failed handling log",
					slog.String("tx_hash", log.TxHash.Hex()), slog.Uint64("log_index", uint64(log.Index)),
					slog.String("error", err.Error()))
			}
		}
	}
}

func (sv *Supervisor) handleLog(ctx context.Context, log types.Log) error {
	payload, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("marshal log %s/%d: %w", log.TxHash.Hex(), log.Index, err)
	}

	outcome, err := sv.events.Enqueue(ctx, log.TxHash.Hex(), int64(log.Index), payload)
	if err != nil {
		return fmt.Errorf("enqueue log %s/%d: %w", log.TxHash.Hex(), log.Index, err)
	}
	if outcome == domain.Duplicate {
		return nil
	}

	return sv.decodeAndApply(ctx, log, log.TxHash.Hex(), int64(log.Index))
}

// handlePayload replays a previously-enqueued, still-unprocessed event from
// its stored payload, used by startup recovery.
func (sv *Supervisor) handlePayload(ctx context.Context, ev domain.OnchainEvent) error {
	var log types.Log
	if err := json.Unmarshal(ev.Payload, &log); err != nil {
		return fmt.Errorf("unmarshal stored event %s/%d: %w", ev.TxHash, ev.LogIndex, err)
	}
	return sv.decodeAndApply(ctx, log, ev.TxHash, ev.LogIndex)
}

func (sv *Supervisor) decodeAndApply(ctx context.Context, log types.Log, txHash string, logIndex int64) error {
	trade, err := sv.decoder.Decode(ctx, log)
	if err != nil {
		return fmt.Errorf("decode log %s/%d: %w", txHash, logIndex, err)
	}
	if trade == nil {
		return sv.events.MarkProcessed(ctx, txHash, logIndex)
	}
	trade.ObservedAt = time.Now()

	executionID, err := sv.accumulator.Apply(ctx, *trade)
	if err != nil {
		return fmt.Errorf("apply trade %s/%d: %w", txHash, logIndex, err)
	}
	if err := sv.events.MarkProcessed(ctx, txHash, logIndex); err != nil {
		return fmt.Errorf("mark event processed %s/%d: %w", txHash, logIndex, err)
	}

	if executionID != nil {
		go sv.runExecution(ctx, *executionID)
	}
	return nil
}

// runExecution dispatches a single execution on its own goroutine so a slow
// broker round trip never stalls ingestion of the next log.
func (sv *Supervisor) runExecution(ctx context.Context, executionID int64) {
	if err := sv.executor.Execute(ctx, executionID); err != nil {
		sv.logger.ErrorContext(ctx, "supervisor: execution dispatch failed",
			slog.Int64("execution_id", executionID), slog.String("error", err.Error()))
	}
}
