package exchange

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"kiwoomapp/internal/types"
)

func TestMockBroker_PlaceAndCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	m := NewMockBroker(logger)
	ctx := context.Background()

	res, err := m.PlaceOrder(ctx, OrderRequest{Symbol: "005930", Side: types.SideBuy, Venue: types.VenueKRX, Qty: 2, Price: 70000})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}

	open, _ := m.OpenOrders(ctx)
	if len(open) != 1 || open[0].OrderID != res.OrderID {
		t.Fatalf("Expected the order to rest, got %+v", open)
	}

	if err := m.CancelOrder(ctx, CancelRequest{Symbol: "005930", OrderID: res.OrderID}); err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}
	open, _ = m.OpenOrders(ctx)
	if len(open) != 0 {
		t.Errorf("Expected empty book after cancel, got %d", len(open))
	}

	err = m.CancelOrder(ctx, CancelRequest{OrderID: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if len(m.GetCancels()) != 2 {
		t.Errorf("Expected 2 recorded cancels, got %d", len(m.GetCancels()))
	}
}

func TestMockBroker_Reject(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	m := NewMockBroker(logger, WithReject("035720", KindAltVenueNotTradable))

	_, err := m.PlaceOrder(context.Background(), OrderRequest{Symbol: "035720", Side: types.SideSell, Qty: 1, Price: 100})
	if KindOf(err) != KindAltVenueNotTradable {
		t.Errorf("Expected alt venue rejection, got %v", err)
	}
	if _, err := m.PlaceOrder(context.Background(), OrderRequest{Symbol: "005930", Side: types.SideSell, Qty: 1, Price: 100}); err != nil {
		t.Errorf("Other symbols should pass, got %v", err)
	}
	if len(m.GetOrders()) != 2 {
		t.Errorf("Expected both attempts recorded, got %d", len(m.GetOrders()))
	}
}

func TestMockBroker_SyntheticBars(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	m := NewMockBroker(logger, WithBasePrice("005930", 70000))

	end := time.Date(2024, 3, 4, 0, 0, 0, 0, types.KST)
	bars, err := m.DailyBars(context.Background(), "005930", end)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 120 {
		t.Fatalf("Expected 120 bars, got %d", len(bars))
	}
	if !bars[len(bars)-1].Time.Equal(end) || !bars[0].Time.Before(end) {
		t.Error("Expected oldest-first series ending at asOf")
	}
	for _, b := range bars {
		if b.High < b.Low {
			t.Fatalf("Invalid bar %+v", b)
		}
	}

	if _, err := m.UpperLimit(context.Background(), "005930"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound without a configured limit, got %v", err)
	}
}

func TestMockBroker_Failure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	m := NewMockBroker(logger, WithFailure("connection reset"))
	if _, err := m.Holdings(context.Background()); err == nil {
		t.Error("Expected polling failure")
	}
}
