// Package simulated implements domain.Broker with a deterministic,
// in-memory broker used in tests and "dry-run" operator rehearsal, ported
// from original_source's crates/broker/src/dry_run.rs DryRunBroker.
package simulated

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/onchainhedge/hedgebridge/internal/domain"
)

// Broker never contacts an external venue. It generates synthetic
// "DRY_RUN_<n>" order ids and reports every order Filled on first status
// query at a fixed mock price, exactly as the original dry-run mode does.
type Broker struct {
	counter   atomic.Uint64
	mockPrice int64
	logger    *slog.Logger
}

// New creates a simulated broker. mockPriceCents is the fill price reported
// for every order.
func New(logger *slog.Logger, mockPriceCents int64) *Broker {
	b := &Broker{mockPrice: mockPriceCents, logger: logger}
	b.counter.Store(0)
	return b
}

func (b *Broker) Kind() domain.BrokerKind { return domain.BrokerSimulated }

func (b *Broker) PlaceMarketOrder(ctx context.Context, order domain.OrderRequest) (domain.Placement, error) {
	id := b.counter.Add(1)
	orderID := fmt.Sprintf("DRY_RUN_%d", id)
	b.logger.Warn("dry-run: would place order",
		"order_id", orderID, "symbol", order.Symbol, "shares", order.Shares, "direction", order.Direction)
	return domain.Placement{OrderID: orderID, PlacedAt: time.Now()}, nil
}

func (b *Broker) GetOrderStatus(ctx context.Context, orderID string) (domain.OrderState, error) {
	b.logger.Warn("dry-run: reporting synthetic fill", "order_id", orderID)
	now := time.Now()
	price := b.mockPrice
	return domain.OrderState{
		Status:         domain.ExecutionFilled,
		OrderID:        orderID,
		AvgPriceCents:  &price,
		LastActivityAt: now,
	}, nil
}

// PollPending always returns empty: dry-run orders fill on first status
// query, so none are ever left pending between cycles.
func (b *Broker) PollPending(ctx context.Context) ([]domain.OrderState, error) {
	return nil, nil
}

// WaitUntilMarketOpen always reports the market open; dry-run rehearsal
// never blocks on market hours.
func (b *Broker) WaitUntilMarketOpen(ctx context.Context) (*time.Duration, error) {
	return nil, nil
}

func (b *Broker) ParseOrderID(s string) (string, error) {
	return s, nil
}

var _ domain.Broker = (*Broker)(nil)
