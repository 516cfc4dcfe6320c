package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onchainhedge/hedgebridge/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore, the persistent state
// machine of spec §4.5, grounded on original_source's
// offchain/execution.rs row shape and state.rs's OrderState encoding.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

func (s *ExecutionStore) CreatePending(ctx context.Context, tx domain.Tx, symbol string, shares int64, dir domain.Direction, broker domain.BrokerKind) (int64, error) {
	if shares <= 0 {
		return 0, fmt.Errorf("postgres: create pending execution: %w: shares must be positive, got %d", domain.ErrInvalidOrder, shares)
	}

	q, err := db(s.pool, tx)
	if err != nil {
		return 0, err
	}

	const query = `
		INSERT INTO executions (symbol, shares, direction, broker, status)
		VALUES ($1, $2, $3, $4, 'PENDING')
		RETURNING id`

	var id int64
	err = q.QueryRow(ctx, query, symbol, shares, string(dir), string(broker)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: create pending execution for %s: %w", symbol, err)
	}
	return id, nil
}

// Transition moves id's status forward, enforcing the state-machine guard
// in-process (so illegal transitions are a hard, immediate error rather than
// a constraint violation discovered later) before writing the new status and
// whichever fields the target state carries.
func (s *ExecutionStore) Transition(ctx context.Context, tx domain.Tx, id int64, next domain.ExecutionStatus, fields domain.TransitionFields) error {
	q, err := db(s.pool, tx)
	if err != nil {
		return err
	}

	var current domain.Execution
	var statusStr, dirStr, brokerStr string
	err = q.QueryRow(ctx, `SELECT id, symbol, shares, direction, broker, status FROM executions WHERE id = $1 FOR UPDATE`, id).
		Scan(&current.ID, &current.Symbol, &current.Shares, &dirStr, &brokerStr, &statusStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: transition execution %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("postgres: load execution %d for transition: %w", id, err)
	}
	current.Status = domain.ExecutionStatus(statusStr)

	if !current.CanTransition(next) {
		return fmt.Errorf("postgres: execution %d %s -> %s: %w", id, current.Status, next, domain.ErrInvalidTransition)
	}

	switch next {
	case domain.ExecutionSubmitted:
		_, err = q.Exec(ctx, `UPDATE executions SET status = $2, order_id = $3 WHERE id = $1`,
			id, string(next), fields.OrderID)
	case domain.ExecutionFilled:
		_, err = q.Exec(ctx,
			`UPDATE executions SET status = $2, price_cents = $3, executed_at = $4 WHERE id = $1`,
			id, string(next), fields.PriceCents, fields.ExecutedAt)
	case domain.ExecutionFailed:
		_, err = q.Exec(ctx,
			`UPDATE executions SET status = $2, failed_at = $3, fail_reason = $4 WHERE id = $1`,
			id, string(next), fields.FailedAt, fields.FailReason)
	default:
		return fmt.Errorf("postgres: transition execution %d to unsupported state %s", id, next)
	}
	if err != nil {
		return fmt.Errorf("postgres: write transition for execution %d: %w", id, err)
	}
	return nil
}

func (s *ExecutionStore) FindByID(ctx context.Context, id int64) (domain.Execution, error) {
	const query = `
		SELECT id, symbol, shares, direction, broker, status, order_id, price_cents, executed_at, failed_at, fail_reason, created_at
		FROM executions WHERE id = $1`

	e, err := scanExecution(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Execution{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Execution{}, fmt.Errorf("postgres: find execution %d: %w", id, err)
	}
	return e, nil
}

// FindBySymbolAndStatus mirrors original_source's generic
// find_executions_by_symbol_and_status, where an empty symbol means "all
// symbols".
func (s *ExecutionStore) FindBySymbolAndStatus(ctx context.Context, symbol string, statuses ...domain.ExecutionStatus) ([]domain.Execution, error) {
	statusStrs := make([]string, len(statuses))
	for i, st := range statuses {
		statusStrs[i] = string(st)
	}

	query := `
		SELECT id, symbol, shares, direction, broker, status, order_id, price_cents, executed_at, failed_at, fail_reason, created_at
		FROM executions WHERE status = ANY($1)`
	args := []any{statusStrs}
	if symbol != "" {
		query += ` AND symbol = $2`
		args = append(args, symbol)
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: find executions by symbol/status: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// FindAllSubmitted drives the status poller (C9).
func (s *ExecutionStore) FindAllSubmitted(ctx context.Context) ([]domain.Execution, error) {
	return s.FindBySymbolAndStatus(ctx, "", domain.ExecutionSubmitted)
}

func (s *ExecutionStore) ListBefore(ctx context.Context, opts domain.ListOpts) ([]domain.Execution, error) {
	if opts.Until == nil {
		return nil, fmt.Errorf("postgres: list executions before: Until cutoff is required")
	}
	const query = `
		SELECT id, symbol, shares, direction, broker, status, order_id, price_cents, executed_at, failed_at, fail_reason, created_at
		FROM executions WHERE created_at < $1 ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, *opts.Until)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before %v: %w", *opts.Until, err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

func scanExecution(row pgx.Row) (domain.Execution, error) {
	var e domain.Execution
	var dirStr, brokerStr, statusStr string
	var orderID *string
	err := row.Scan(
		&e.ID, &e.Symbol, &e.Shares, &dirStr, &brokerStr, &statusStr,
		&orderID, &e.PriceCents, &e.ExecutedAt, &e.FailedAt, &nullableString{&e.FailReason}, &e.CreatedAt,
	)
	if err != nil {
		return domain.Execution{}, err
	}
	e.Direction = domain.Direction(dirStr)
	e.Broker = domain.BrokerKind(brokerStr)
	e.Status = domain.ExecutionStatus(statusStr)
	if orderID != nil {
		e.OrderID = *orderID
	}
	return e, nil
}

func scanExecutions(rows pgx.Rows) ([]domain.Execution, error) {
	var out []domain.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// nullableString scans a possibly-NULL TEXT column into *string without
// requiring the caller to juggle a separate *string temporary.
type nullableString struct {
	dst *string
}

func (n *nullableString) Scan(src any) error {
	if src == nil {
		*n.dst = ""
		return nil
	}
	switch v := src.(type) {
	case string:
		*n.dst = v
	case []byte:
		*n.dst = string(v)
	default:
		return fmt.Errorf("postgres: unsupported fail_reason scan type %T", src)
	}
	return nil
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)
