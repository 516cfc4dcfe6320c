package simulated

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/onchainhedge/hedgebridge/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPlaceMarketOrderGeneratesSequentialIDs(t *testing.T) {
	b := New(discardLogger(), 10000)
	ctx := context.Background()

	p1, err := b.PlaceMarketOrder(ctx, domain.OrderRequest{Symbol: "AAPL", Shares: 1, Direction: domain.DirectionBuy})
	if err != nil {
		t.Fatalf("PlaceMarketOrder: %v", err)
	}
	p2, err := b.PlaceMarketOrder(ctx, domain.OrderRequest{Symbol: "AAPL", Shares: 1, Direction: domain.DirectionBuy})
	if err != nil {
		t.Fatalf("PlaceMarketOrder: %v", err)
	}

	if p1.OrderID == p2.OrderID {
		t.Errorf("expected distinct order ids, got %q twice", p1.OrderID)
	}
	if p1.OrderID != "DRY_RUN_1" || p2.OrderID != "DRY_RUN_2" {
		t.Errorf("unexpected order ids: %q, %q", p1.OrderID, p2.OrderID)
	}
}

func TestGetOrderStatusAlwaysFillsAtMockPrice(t *testing.T) {
	b := New(discardLogger(), 12345)
	state, err := b.GetOrderStatus(context.Background(), "DRY_RUN_1")
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if state.Status != domain.ExecutionFilled {
		t.Errorf("status = %s, want FILLED", state.Status)
	}
	if state.AvgPriceCents == nil || *state.AvgPriceCents != 12345 {
		t.Errorf("AvgPriceCents = %v, want 12345", state.AvgPriceCents)
	}
}

func TestPollPendingAlwaysEmpty(t *testing.T) {
	b := New(discardLogger(), 100)
	states, err := b.PollPending(context.Background())
	if err != nil {
		t.Fatalf("PollPending: %v", err)
	}
	if len(states) != 0 {
		t.Errorf("expected zero pending states, got %d", len(states))
	}
}

func TestWaitUntilMarketOpenNeverBlocks(t *testing.T) {
	b := New(discardLogger(), 100)
	wait, err := b.WaitUntilMarketOpen(context.Background())
	if err != nil {
		t.Fatalf("WaitUntilMarketOpen: %v", err)
	}
	if wait != nil {
		t.Errorf("expected nil wait duration, got %v", *wait)
	}
}

func TestKindIsSimulated(t *testing.T) {
	b := New(discardLogger(), 100)
	if b.Kind() != domain.BrokerSimulated {
		t.Errorf("Kind() = %s, want %s", b.Kind(), domain.BrokerSimulated)
	}
}
