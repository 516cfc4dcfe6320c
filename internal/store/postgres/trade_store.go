package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onchainhedge/hedgebridge/internal/domain"
)

// TradeStore implements domain.TradeStore. InsertIfAbsent mirrors
// original_source's arb.rs try_save_to_db: an ON CONFLICT DO NOTHING whose
// RowsAffected is the idempotency signal, never an application-level
// duplicate check.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

func (s *TradeStore) InsertIfAbsent(ctx context.Context, trade domain.OnchainTrade) (domain.EnqueueOutcome, error) {
	const query = `
		INSERT INTO onchain_trades (tx_hash, log_index, symbol, amount, direction, price, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tx_hash, log_index) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		trade.TxHash, trade.LogIndex, trade.Symbol, trade.Amount,
		string(trade.Direction), trade.Price, trade.ObservedAt,
	)
	if err != nil {
		return domain.Duplicate, fmt.Errorf("postgres: insert trade %s/%d: %w", trade.TxHash, trade.LogIndex, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Duplicate, nil
	}
	return domain.Inserted, nil
}

// SumSignedAmount returns the sum of amount oriented by direction for symbol,
// the total the conservation invariant (spec §8.3) is stated over.
func (s *TradeStore) SumSignedAmount(ctx context.Context, symbol string) (float64, error) {
	const query = `
		SELECT COALESCE(SUM(CASE WHEN direction = 'BUY' THEN amount ELSE -amount END), 0)
		FROM onchain_trades WHERE symbol = $1`

	var total float64
	if err := s.pool.QueryRow(ctx, query, symbol).Scan(&total); err != nil {
		return 0, fmt.Errorf("postgres: sum signed amount for %s: %w", symbol, err)
	}
	return total, nil
}

// ListBefore returns trades for archival, using opts.Until as the cutoff.
func (s *TradeStore) ListBefore(ctx context.Context, opts domain.ListOpts) ([]domain.OnchainTrade, error) {
	if opts.Until == nil {
		return nil, fmt.Errorf("postgres: list trades before: Until cutoff is required")
	}
	const query = `
		SELECT tx_hash, log_index, symbol, amount, direction, price, observed_at
		FROM onchain_trades WHERE observed_at < $1 ORDER BY observed_at`

	rows, err := s.pool.Query(ctx, query, *opts.Until)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %v: %w", *opts.Until, err)
	}
	defer rows.Close()

	var out []domain.OnchainTrade
	for rows.Next() {
		var t domain.OnchainTrade
		var dir string
		if err := rows.Scan(&t.TxHash, &t.LogIndex, &t.Symbol, &t.Amount, &dir, &t.Price, &t.ObservedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		t.Direction = domain.Direction(dir)
		out = append(out, t)
	}
	return out, rows.Err()
}

var _ domain.TradeStore = (*TradeStore)(nil)
