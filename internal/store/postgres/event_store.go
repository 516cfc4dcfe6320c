package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onchainhedge/hedgebridge/internal/domain"
)

// EventStore implements domain.EventQueueStore (spec §4.1).
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Enqueue performs an insert-if-absent on (tx_hash, log_index). It never
// fails on a duplicate; callers use the returned outcome only for metrics.
func (s *EventStore) Enqueue(ctx context.Context, txHash string, logIndex int64, payload []byte) (domain.EnqueueOutcome, error) {
	const query = `
		INSERT INTO onchain_events (tx_hash, log_index, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (tx_hash, log_index) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query, txHash, logIndex, payload)
	if err != nil {
		return domain.Duplicate, fmt.Errorf("postgres: enqueue event %s/%d: %w", txHash, logIndex, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Duplicate, nil
	}
	return domain.Inserted, nil
}

// NextUnprocessed returns an event row with processed_at null, or nil if the
// queue is drained. Rows are taken in (tx_hash, log_index) order; the table
// records no insertion time, so this is not arrival order.
func (s *EventStore) NextUnprocessed(ctx context.Context) (*domain.OnchainEvent, error) {
	const query = `
		SELECT tx_hash, log_index, payload, processed_at
		FROM onchain_events
		WHERE processed_at IS NULL
		ORDER BY tx_hash, log_index
		LIMIT 1`

	var e domain.OnchainEvent
	err := s.pool.QueryRow(ctx, query).Scan(&e.TxHash, &e.LogIndex, &e.Payload, &e.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: next unprocessed event: %w", err)
	}
	return &e, nil
}

// MarkProcessed sets processed_at=now for the given event. Idempotent.
func (s *EventStore) MarkProcessed(ctx context.Context, txHash string, logIndex int64) error {
	const query = `
		UPDATE onchain_events SET processed_at = NOW()
		WHERE tx_hash = $1 AND log_index = $2`

	if _, err := s.pool.Exec(ctx, query, txHash, logIndex); err != nil {
		return fmt.Errorf("postgres: mark event processed %s/%d: %w", txHash, logIndex, err)
	}
	return nil
}

// ListProcessedBefore returns processed events for archival, using
// opts.Until as the cutoff.
func (s *EventStore) ListProcessedBefore(ctx context.Context, opts domain.ListOpts) ([]domain.OnchainEvent, error) {
	if opts.Until == nil {
		return nil, fmt.Errorf("postgres: list events before: Until cutoff is required")
	}
	const query = `
		SELECT tx_hash, log_index, payload, processed_at
		FROM onchain_events
		WHERE processed_at IS NOT NULL AND processed_at < $1
		ORDER BY processed_at`

	rows, err := s.pool.Query(ctx, query, *opts.Until)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before %v: %w", *opts.Until, err)
	}
	defer rows.Close()

	var out []domain.OnchainEvent
	for rows.Next() {
		var e domain.OnchainEvent
		if err := rows.Scan(&e.TxHash, &e.LogIndex, &e.Payload, &e.ProcessedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ domain.EventQueueStore = (*EventStore)(nil)
