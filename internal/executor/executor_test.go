package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/onchainhedge/hedgebridge/internal/domain"
	"github.com/onchainhedge/hedgebridge/internal/lease"
)

type fakeTx struct{}

type fakeTxBeginner struct{}

func (fakeTxBeginner) WithTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return fn(ctx, fakeTx{})
}

type fakeExecutionStore struct {
	execs map[int64]domain.Execution
}

func newFakeExecutionStore(initial domain.Execution) *fakeExecutionStore {
	return &fakeExecutionStore{execs: map[int64]domain.Execution{initial.ID: initial}}
}

func (f *fakeExecutionStore) CreatePending(ctx context.Context, tx domain.Tx, symbol string, shares int64, dir domain.Direction, broker domain.BrokerKind) (int64, error) {
	return 0, nil
}

func (f *fakeExecutionStore) Transition(ctx context.Context, tx domain.Tx, id int64, next domain.ExecutionStatus, fields domain.TransitionFields) error {
	e, ok := f.execs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !e.CanTransition(next) {
		return domain.ErrInvalidTransition
	}
	e.Status = next
	e.OrderID = fields.OrderID
	e.FailReason = fields.FailReason
	f.execs[id] = e
	return nil
}

func (f *fakeExecutionStore) FindByID(ctx context.Context, id int64) (domain.Execution, error) {
	e, ok := f.execs[id]
	if !ok {
		return domain.Execution{}, domain.ErrNotFound
	}
	return e, nil
}

func (f *fakeExecutionStore) FindBySymbolAndStatus(ctx context.Context, symbol string, statuses ...domain.ExecutionStatus) ([]domain.Execution, error) {
	return nil, nil
}

func (f *fakeExecutionStore) FindAllSubmitted(ctx context.Context) ([]domain.Execution, error) {
	return nil, nil
}

func (f *fakeExecutionStore) ListBefore(ctx context.Context, opts domain.ListOpts) ([]domain.Execution, error) {
	return nil, nil
}

type fakeLockStore struct{ held map[string]bool }

func newFakeLockStore() *fakeLockStore { return &fakeLockStore{held: map[string]bool{}} }

func (f *fakeLockStore) TryAcquire(ctx context.Context, tx domain.Tx, symbol string, ttl time.Duration) (bool, error) {
	if f.held[symbol] {
		return false, nil
	}
	f.held[symbol] = true
	return true, nil
}
func (f *fakeLockStore) Release(ctx context.Context, tx domain.Tx, symbol string) error {
	delete(f.held, symbol)
	return nil
}
func (f *fakeLockStore) Held(ctx context.Context, symbol string) (bool, error) {
	return f.held[symbol], nil
}
func (f *fakeLockStore) HeldFresh(ctx context.Context, symbol string, ttl time.Duration) (bool, error) {
	return f.held[symbol], nil
}

type fakeAccStore struct{ accs map[string]domain.Accumulator }

func newFakeAccStore() *fakeAccStore { return &fakeAccStore{accs: map[string]domain.Accumulator{}} }

func (f *fakeAccStore) GetOrCreate(ctx context.Context, tx domain.Tx, symbol string) (domain.Accumulator, error) {
	if acc, ok := f.accs[symbol]; ok {
		return acc, nil
	}
	acc := domain.Accumulator{Symbol: symbol}
	f.accs[symbol] = acc
	return acc, nil
}
func (f *fakeAccStore) Update(ctx context.Context, tx domain.Tx, acc domain.Accumulator) error {
	f.accs[acc.Symbol] = acc
	return nil
}
func (f *fakeAccStore) Get(ctx context.Context, symbol string) (domain.Accumulator, error) {
	return f.accs[symbol], nil
}
func (f *fakeAccStore) List(ctx context.Context) ([]domain.Accumulator, error) { return nil, nil }

// fakeBroker places orders according to a scripted sequence of outcomes.
type fakeBroker struct {
	attempts int
	outcomes []error // nil means success
	placed   []domain.OrderRequest
}

func (b *fakeBroker) Kind() domain.BrokerKind { return domain.BrokerSimulated }

func (b *fakeBroker) PlaceMarketOrder(ctx context.Context, order domain.OrderRequest) (domain.Placement, error) {
	b.placed = append(b.placed, order)
	idx := b.attempts
	b.attempts++
	if idx < len(b.outcomes) {
		if err := b.outcomes[idx]; err != nil {
			return domain.Placement{}, err
		}
	}
	return domain.Placement{OrderID: "order-1", PlacedAt: time.Now()}, nil
}

func (b *fakeBroker) GetOrderStatus(ctx context.Context, orderID string) (domain.OrderState, error) {
	return domain.OrderState{}, nil
}
func (b *fakeBroker) PollPending(ctx context.Context) ([]domain.OrderState, error) { return nil, nil }
func (b *fakeBroker) WaitUntilMarketOpen(ctx context.Context) (*time.Duration, error) {
	return nil, nil
}
func (b *fakeBroker) ParseOrderID(s string) (string, error) { return s, nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExecuteSubmitsOnSuccess(t *testing.T) {
	exec := domain.Execution{ID: 1, Symbol: "AAPL", Shares: 1, Direction: domain.DirectionBuy, Status: domain.ExecutionPending}
	store := newFakeExecutionStore(exec)
	broker := &fakeBroker{}
	locks := newFakeLockStore()
	accs := newFakeAccStore()
	leases := lease.NewManager(locks, accs, time.Minute)

	e := New(fakeTxBeginner{}, store, leases, broker, DefaultRetryPolicy(), nil, nil, discardLogger())
	if err := e.Execute(context.Background(), 1); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := store.execs[1]
	if got.Status != domain.ExecutionSubmitted {
		t.Errorf("status = %s, want SUBMITTED", got.Status)
	}
	if got.OrderID != "order-1" {
		t.Errorf("order id = %q, want order-1", got.OrderID)
	}
}

func TestExecuteRetriesTransientThenSucceeds(t *testing.T) {
	exec := domain.Execution{ID: 1, Symbol: "AAPL", Shares: 1, Direction: domain.DirectionBuy, Status: domain.ExecutionPending}
	store := newFakeExecutionStore(exec)
	broker := &fakeBroker{outcomes: []error{
		&domain.BrokerError{Kind: domain.BrokerErrNetwork, Message: "timeout"},
		nil,
	}}
	locks := newFakeLockStore()
	accs := newFakeAccStore()
	leases := lease.NewManager(locks, accs, time.Minute)

	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 2}
	e := New(fakeTxBeginner{}, store, leases, broker, policy, nil, nil, discardLogger())
	if err := e.Execute(context.Background(), 1); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if broker.attempts != 2 {
		t.Errorf("attempts = %d, want 2", broker.attempts)
	}
	if store.execs[1].Status != domain.ExecutionSubmitted {
		t.Errorf("status = %s, want SUBMITTED", store.execs[1].Status)
	}
}

func TestExecuteFailsPermanentlyOnNonTransientError(t *testing.T) {
	exec := domain.Execution{ID: 1, Symbol: "AAPL", Shares: 1, Direction: domain.DirectionBuy, Status: domain.ExecutionPending}
	store := newFakeExecutionStore(exec)
	broker := &fakeBroker{outcomes: []error{
		&domain.BrokerError{Kind: domain.BrokerErrInvalidOrder, Message: "rejected"},
	}}
	locks := newFakeLockStore()
	accs := newFakeAccStore()
	leases := lease.NewManager(locks, accs, time.Minute)
	pendingID := int64(1)
	accs.accs["AAPL"] = domain.Accumulator{Symbol: "AAPL", PendingExecutionID: &pendingID}
	locks.held["AAPL"] = true

	e := New(fakeTxBeginner{}, store, leases, broker, DefaultRetryPolicy(), nil, nil, discardLogger())
	if err := e.Execute(context.Background(), 1); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if broker.attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on a non-transient error)", broker.attempts)
	}
	got := store.execs[1]
	if got.Status != domain.ExecutionFailed {
		t.Errorf("status = %s, want FAILED", got.Status)
	}
	if got.FailReason == "" {
		t.Error("expected a non-empty fail reason")
	}
	held, _ := locks.Held(context.Background(), "AAPL")
	if held {
		t.Error("expected the lease to be released after a failed execution")
	}
}

func TestExecuteSkipsNonPendingExecution(t *testing.T) {
	exec := domain.Execution{ID: 1, Symbol: "AAPL", Shares: 1, Direction: domain.DirectionBuy, Status: domain.ExecutionSubmitted}
	store := newFakeExecutionStore(exec)
	broker := &fakeBroker{}
	locks := newFakeLockStore()
	accs := newFakeAccStore()
	leases := lease.NewManager(locks, accs, time.Minute)

	e := New(fakeTxBeginner{}, store, leases, broker, DefaultRetryPolicy(), nil, nil, discardLogger())
	if err := e.Execute(context.Background(), 1); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if broker.attempts != 0 {
		t.Errorf("expected no broker call for an already-submitted execution, got %d attempts", broker.attempts)
	}
}

func TestExecuteReturnsErrorForMissingExecution(t *testing.T) {
	store := newFakeExecutionStore(domain.Execution{ID: 1, Status: domain.ExecutionPending})
	broker := &fakeBroker{}
	locks := newFakeLockStore()
	accs := newFakeAccStore()
	leases := lease.NewManager(locks, accs, time.Minute)

	e := New(fakeTxBeginner{}, store, leases, broker, DefaultRetryPolicy(), nil, nil, discardLogger())
	err := e.Execute(context.Background(), 999)
	if err == nil {
		t.Fatal("expected an error for a non-existent execution id")
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("error = %v, want wrapping ErrNotFound", err)
	}
}
