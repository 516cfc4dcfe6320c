package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onchainhedge/hedgebridge/internal/domain"
)

// AccumulatorStore implements domain.AccumulatorStore.
type AccumulatorStore struct {
	pool *pgxpool.Pool
}

// NewAccumulatorStore creates a new AccumulatorStore.
func NewAccumulatorStore(pool *pgxpool.Pool) *AccumulatorStore {
	return &AccumulatorStore{pool: pool}
}

// GetOrCreate returns the Accumulator row for symbol, creating a zero-balance
// row if absent. Must run inside the caller's shared transaction so the read
// is consistent with the subsequent Update in the same commit.
func (s *AccumulatorStore) GetOrCreate(ctx context.Context, tx domain.Tx, symbol string) (domain.Accumulator, error) {
	q, err := db(s.pool, tx)
	if err != nil {
		return domain.Accumulator{}, err
	}

	const upsert = `
		INSERT INTO accumulators (symbol, net_fractional_shares, pending_execution_id, last_updated)
		VALUES ($1, 0, NULL, NOW())
		ON CONFLICT (symbol) DO UPDATE SET symbol = accumulators.symbol
		RETURNING symbol, net_fractional_shares, pending_execution_id, last_updated`

	var acc domain.Accumulator
	err = q.QueryRow(ctx, upsert, symbol).Scan(
		&acc.Symbol, &acc.NetFractionalShares, &acc.PendingExecutionID, &acc.LastUpdated,
	)
	if err != nil {
		return domain.Accumulator{}, fmt.Errorf("postgres: get-or-create accumulator %s: %w", symbol, err)
	}
	return acc, nil
}

// Update writes back net_fractional_shares and pending_execution_id.
func (s *AccumulatorStore) Update(ctx context.Context, tx domain.Tx, acc domain.Accumulator) error {
	q, err := db(s.pool, tx)
	if err != nil {
		return err
	}

	const query = `
		UPDATE accumulators
		SET net_fractional_shares = $2, pending_execution_id = $3, last_updated = NOW()
		WHERE symbol = $1`

	if _, err := q.Exec(ctx, query, acc.Symbol, acc.NetFractionalShares, acc.PendingExecutionID); err != nil {
		return fmt.Errorf("postgres: update accumulator %s: %w", acc.Symbol, err)
	}
	return nil
}

func (s *AccumulatorStore) Get(ctx context.Context, symbol string) (domain.Accumulator, error) {
	const query = `
		SELECT symbol, net_fractional_shares, pending_execution_id, last_updated
		FROM accumulators WHERE symbol = $1`

	var acc domain.Accumulator
	err := s.pool.QueryRow(ctx, query, symbol).Scan(
		&acc.Symbol, &acc.NetFractionalShares, &acc.PendingExecutionID, &acc.LastUpdated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Accumulator{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Accumulator{}, fmt.Errorf("postgres: get accumulator %s: %w", symbol, err)
	}
	return acc, nil
}

func (s *AccumulatorStore) List(ctx context.Context) ([]domain.Accumulator, error) {
	const query = `SELECT symbol, net_fractional_shares, pending_execution_id, last_updated FROM accumulators`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accumulators: %w", err)
	}
	defer rows.Close()

	var out []domain.Accumulator
	for rows.Next() {
		var acc domain.Accumulator
		if err := rows.Scan(&acc.Symbol, &acc.NetFractionalShares, &acc.PendingExecutionID, &acc.LastUpdated); err != nil {
			return nil, fmt.Errorf("postgres: scan accumulator: %w", err)
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

var _ domain.AccumulatorStore = (*AccumulatorStore)(nil)
