package poller

import (
	"context"
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

func newFakeExecutionStore(execs ...domain.Execution) *fakeExecutionStore {
	m := map[int64]domain.Execution{}
	for _, e := range execs {
		m[e.ID] = e
	}
	return &fakeExecutionStore{execs: m}
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
	e.PriceCents = fields.PriceCents
	e.ExecutedAt = fields.ExecutedAt
	e.FailedAt = fields.FailedAt
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
	var out []domain.Execution
	for _, e := range f.execs {
		if e.Status == domain.ExecutionSubmitted {
			out = append(out, e)
		}
	}
	return out, nil
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

type fakeBroker struct {
	states map[string]domain.OrderState
	err    error
}

func (b *fakeBroker) Kind() domain.BrokerKind { return domain.BrokerSimulated }
func (b *fakeBroker) PlaceMarketOrder(ctx context.Context, order domain.OrderRequest) (domain.Placement, error) {
	return domain.Placement{}, nil
}
func (b *fakeBroker) GetOrderStatus(ctx context.Context, orderID string) (domain.OrderState, error) {
	if b.err != nil {
		return domain.OrderState{}, b.err
	}
	return b.states[orderID], nil
}
func (b *fakeBroker) PollPending(ctx context.Context) ([]domain.OrderState, error) { return nil, nil }
func (b *fakeBroker) WaitUntilMarketOpen(ctx context.Context) (*time.Duration, error) {
	return nil, nil
}
func (b *fakeBroker) ParseOrderID(s string) (string, error) { return s, nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnceMarksFilled(t *testing.T) {
	price := int64(15000)
	exec := domain.Execution{ID: 1, Symbol: "AAPL", Shares: 1, Status: domain.ExecutionSubmitted, OrderID: "order-1", CreatedAt: time.Now().Add(-time.Minute)}
	store := newFakeExecutionStore(exec)
	locks := newFakeLockStore()
	accs := newFakeAccStore()
	locks.held["AAPL"] = true
	pendingID := exec.ID
	accs.accs["AAPL"] = domain.Accumulator{Symbol: "AAPL", PendingExecutionID: &pendingID}
	leases := lease.NewManager(locks, accs, time.Minute)
	broker := &fakeBroker{states: map[string]domain.OrderState{
		"order-1": {Status: domain.ExecutionFilled, AvgPriceCents: &price},
	}}

	p := New(fakeTxBeginner{}, store, leases, broker, time.Second, 0, nil, nil, discardLogger())
	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got := store.execs[1]
	if got.Status != domain.ExecutionFilled {
		t.Errorf("status = %s, want FILLED", got.Status)
	}
	if got.PriceCents == nil || *got.PriceCents != price {
		t.Errorf("price cents = %v, want %d", got.PriceCents, price)
	}
	held, _ := locks.Held(context.Background(), "AAPL")
	if held {
		t.Error("expected lease to be released after fill")
	}
}

func TestRunOnceMarksFailedOnBrokerNotFound(t *testing.T) {
	exec := domain.Execution{ID: 1, Symbol: "AAPL", Shares: 1, Status: domain.ExecutionSubmitted, OrderID: "order-1"}
	store := newFakeExecutionStore(exec)
	locks := newFakeLockStore()
	accs := newFakeAccStore()
	locks.held["AAPL"] = true
	pendingID := exec.ID
	accs.accs["AAPL"] = domain.Accumulator{Symbol: "AAPL", PendingExecutionID: &pendingID}
	leases := lease.NewManager(locks, accs, time.Minute)
	broker := &fakeBroker{err: &domain.BrokerError{Kind: domain.BrokerErrNotFound, Message: "no such order"}}

	p := New(fakeTxBeginner{}, store, leases, broker, time.Second, 0, nil, nil, discardLogger())
	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got := store.execs[1]
	if got.Status != domain.ExecutionFailed {
		t.Errorf("status = %s, want FAILED", got.Status)
	}
}

func TestRunOnceLeavesStillWorkingOrdersSubmitted(t *testing.T) {
	exec := domain.Execution{ID: 1, Symbol: "AAPL", Shares: 1, Status: domain.ExecutionSubmitted, OrderID: "order-1"}
	store := newFakeExecutionStore(exec)
	locks := newFakeLockStore()
	accs := newFakeAccStore()
	leases := lease.NewManager(locks, accs, time.Minute)
	broker := &fakeBroker{states: map[string]domain.OrderState{
		"order-1": {Status: domain.ExecutionSubmitted},
	}}

	p := New(fakeTxBeginner{}, store, leases, broker, time.Second, 0, nil, nil, discardLogger())
	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got := store.execs[1]
	if got.Status != domain.ExecutionSubmitted {
		t.Errorf("status = %s, want unchanged SUBMITTED", got.Status)
	}
}

func TestSleepDurationBounds(t *testing.T) {
	p := &Poller{interval: 15 * time.Second, jitter: 5 * time.Second}
	for i := 0; i < 20; i++ {
		d := p.sleepDuration()
		if d < 15*time.Second || d >= 20*time.Second {
			t.Fatalf("sleepDuration() = %v, want within [15s, 20s)", d)
		}
	}

	zero := &Poller{interval: 15 * time.Second, jitter: 0}
	if got := zero.sleepDuration(); got != 15*time.Second {
		t.Errorf("sleepDuration() with zero jitter = %v, want 15s", got)
	}
}
