package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"kiwoomapp/internal/config"
	"kiwoomapp/internal/exchange"
	"kiwoomapp/internal/metrics"
	"kiwoomapp/internal/types"
)

const testAccount = "A1"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// at returns a KST time on 2024-01-02 (a Tuesday)
func at(hour, min int) time.Time {
	return time.Date(2024, 1, 2, hour, min, 0, 0, types.KST)
}

// ladderBars gives high 10000, low 5000 over a 16-bar window: ladder 10000, 9500, 9000, ...
func ladderBars() []types.Bar {
	daily := make([]types.Bar, 16)
	for i := range daily {
		daily[i] = types.Bar{High: 8000, Low: 7000, Close: 7500}
	}
	daily[3].Low = 5000
	daily[10].High = 10000
	return daily
}

func newTestEngine(t *testing.T, broker exchange.Broker, mode types.AccountMode, watch ...types.WatchItem) (*Engine, *FileStore) {
	t.Helper()
	logger := testLogger()
	store := NewFileStore(t.TempDir(), logger)
	e := NewEngine(map[string]exchange.Broker{testAccount: broker}, store, Options{
		Session:    config.DefaultSession(),
		Thresholds: config.DefaultThresholds(),
	}, logger)

	ctx := context.Background()
	for _, w := range watch {
		if err := e.UpsertWatch(ctx, w); err != nil {
			t.Fatalf("UpsertWatch failed: %v", err)
		}
	}
	if err := e.SetMode(ctx, testAccount, mode); err != nil {
		t.Fatalf("SetMode failed: %v", err)
	}
	return e, store
}

func ordersBySide(orders []exchange.OrderRequest, side types.Side) []exchange.OrderRequest {
	var out []exchange.OrderRequest
	for _, o := range orders {
		if o.Side == side {
			out = append(out, o)
		}
	}
	return out
}

func TestSession_PhaseAt(t *testing.T) {
	s := NewSession(config.DefaultSession())

	tests := []struct {
		hour, min int
		want      types.Phase
	}{
		{6, 0, types.PhaseOff},
		{7, 49, types.PhaseOff},
		{7, 50, types.PhaseNew},
		{8, 0, types.PhaseNXT},
		{8, 49, types.PhaseNXT},
		{8, 50, types.PhaseNXTToKRX},
		{9, 0, types.PhaseKRX},
		{15, 29, types.PhaseKRX},
		{15, 30, types.PhasePost},
		{19, 59, types.PhasePost},
		{20, 0, types.PhaseOff},
	}

	for _, tt := range tests {
		if got := s.PhaseAt(at(tt.hour, tt.min)); got != tt.want {
			t.Errorf("PhaseAt(%02d:%02d) = %s, want %s", tt.hour, tt.min, got, tt.want)
		}
	}

	// UTC input is converted to KST
	utc := time.Date(2024, 1, 2, 0, 30, 0, 0, time.UTC)
	if got := s.PhaseAt(utc); got != types.PhaseKRX {
		t.Errorf("Expected KRX for 09:30 KST given as UTC, got %s", got)
	}
}

func TestEngine_LadderBuyTranches(t *testing.T) {
	broker := exchange.NewMockBroker(testLogger(),
		exchange.WithDailyBars("005930", ladderBars()),
		exchange.WithPrice("005930", 8600),
	)
	e, _ := newTestEngine(t, broker, types.ModeBuy, types.WatchItem{
		Code: "005930", Behavior: types.TagCL, Color: "red", Amount: 1000000, WatchSince: "20240102",
	})
	ctx := context.Background()

	e.Tick(ctx, at(9, 30))

	buys := ordersBySide(broker.GetOrders(), types.SideBuy)
	if len(buys) != 2 {
		t.Fatalf("Expected 2 tranche buys, got %d", len(buys))
	}
	// red starts at rung 2: 9000 then 8500
	if buys[0].Price != 9000 || buys[0].Qty != 111 || buys[0].Venue != types.VenueKRX {
		t.Errorf("Unexpected first tranche %+v", buys[0])
	}
	if buys[1].Price != 8500 || buys[1].Qty != 117 {
		t.Errorf("Unexpected second tranche %+v", buys[1])
	}

	e.Tick(ctx, at(9, 31))
	if n := len(broker.GetOrders()); n != 2 {
		t.Errorf("Expected no new orders while tranches rest, got %d", n)
	}

	// even with the buys gone the ledger caps the day at two attempts
	broker.SetOpenOrders(nil)
	e.Tick(ctx, at(9, 32))
	if n := len(broker.GetOrders()); n != 2 {
		t.Errorf("Expected ledger to block further buys, got %d orders", n)
	}
	if got := e.State().Ledger[testAccount]["005930"]; got != 2 {
		t.Errorf("Expected ledger 2, got %d", got)
	}

	next := at(9, 30).AddDate(0, 0, 1)
	e.Tick(ctx, next)
	if got := e.state.Day(); got != types.DayOf(next) {
		t.Errorf("Expected new day %s, got %s", types.DayOf(next), got)
	}
	if n := len(broker.GetOrders()); n != 4 {
		t.Errorf("Expected 2 more buys on the new day, got %d total", n)
	}
}

func TestEngine_BuySkipsOutsideProximity(t *testing.T) {
	broker := exchange.NewMockBroker(testLogger(),
		exchange.WithDailyBars("005930", ladderBars()),
		exchange.WithPrice("005930", 9600),
	)
	e, _ := newTestEngine(t, broker, types.ModeBuy, types.WatchItem{
		Code: "005930", Behavior: types.TagCL, Color: "red", Amount: 1000000, WatchSince: "20240102",
	})

	e.Tick(context.Background(), at(9, 30))

	if n := len(broker.GetOrders()); n != 0 {
		t.Errorf("Expected no buys above proximity, got %d", n)
	}
	if got := e.State().Ledger[testAccount]["005930"]; got != 0 {
		t.Errorf("Expected ledger untouched, got %d", got)
	}
}

func TestEngine_BuySkipsCommittedBudget(t *testing.T) {
	broker := exchange.NewMockBroker(testLogger(),
		exchange.WithDailyBars("005930", ladderBars()),
		exchange.WithPrice("005930", 8600),
		// 0.85 of one tranche already held: only the second tranche may go
		exchange.WithHoldings(types.Holding{Code: "005930", HeldQty: 100, TradableQty: 100, PurchasePrice: 9000}),
	)
	e, _ := newTestEngine(t, broker, types.ModeBuy, types.WatchItem{
		Code: "005930", Behavior: types.TagCL, Color: "red", Amount: 1000000, WatchSince: "20240102",
	})

	e.Tick(context.Background(), at(9, 30))

	buys := ordersBySide(broker.GetOrders(), types.SideBuy)
	if len(buys) != 1 {
		t.Fatalf("Expected only the second tranche, got %d buys", len(buys))
	}
	if buys[0].Price != 8500 {
		t.Errorf("Expected second tranche at 8500, got %v", buys[0].Price)
	}
}

func TestEngine_SellCancelReplace(t *testing.T) {
	broker := exchange.NewMockBroker(testLogger(),
		exchange.WithHoldings(types.Holding{Code: "005930", HeldQty: 10, TradableQty: 10, PurchasePrice: 10000}),
	)
	e, _ := newTestEngine(t, broker, types.ModeSell, types.WatchItem{
		Code: "005930", Behavior: types.TagCL, SellPrice: 12000, WatchSince: "20240102",
	})
	ctx := context.Background()

	e.Tick(ctx, at(10, 0))
	orders := broker.GetOrders()
	if len(orders) != 1 || orders[0].Side != types.SideSell || orders[0].Price != 12000 || orders[0].Qty != 10 {
		t.Fatalf("Expected one sell at 12000 x10, got %+v", orders)
	}

	e.Tick(ctx, at(10, 0).Add(5*time.Second))
	if n := len(broker.GetOrders()); n != 1 {
		t.Errorf("Expected resting sell to be left alone, got %d orders", n)
	}

	item := e.Watchlist()[0]
	item.SellPrice = 12500
	if err := e.UpsertWatch(ctx, item); err != nil {
		t.Fatal(err)
	}

	// past the price cache: the stale sell is cancelled and nothing placed
	e.Tick(ctx, at(10, 1))
	if n := len(broker.GetCancels()); n != 1 {
		t.Errorf("Expected stale sell cancelled, got %d cancels", n)
	}
	if n := len(broker.GetOrders()); n != 1 {
		t.Errorf("Expected no replacement on the cancelling pass, got %d orders", n)
	}

	e.Tick(ctx, at(10, 2))
	orders = broker.GetOrders()
	if len(orders) != 2 || orders[1].Price != 12500 {
		t.Errorf("Expected replacement at 12500, got %+v", orders)
	}
}

func TestEngine_SellSkipsAboveUpperLimit(t *testing.T) {
	broker := exchange.NewMockBroker(testLogger(),
		exchange.WithHoldings(types.Holding{Code: "005930", HeldQty: 10, TradableQty: 10, PurchasePrice: 10000}),
		exchange.WithUpperLimit("005930", 11000),
	)
	e, _ := newTestEngine(t, broker, types.ModeSell, types.WatchItem{
		Code: "005930", Behavior: types.TagCL, SellPrice: 12000, WatchSince: "20240102",
	})

	e.Tick(context.Background(), at(10, 0))

	if n := len(broker.GetOrders()); n != 0 {
		t.Errorf("Expected no sell above the upper limit, got %d", n)
	}
}

func TestEngine_SellSkipsUntradableQty(t *testing.T) {
	broker := exchange.NewMockBroker(testLogger(),
		exchange.WithHoldings(types.Holding{Code: "005930", HeldQty: 10, TradableQty: 0, PurchasePrice: 10000}),
	)
	e, _ := newTestEngine(t, broker, types.ModeSell, types.WatchItem{
		Code: "005930", Behavior: types.TagCL, SellRate: 10, WatchSince: "20240102",
	})

	e.Tick(context.Background(), at(10, 0))

	if n := len(broker.GetOrders()); n != 0 {
		t.Errorf("Expected no sell with zero tradable qty, got %d", n)
	}
}

func TestEngine_ModeNoneSkipsPasses(t *testing.T) {
	broker := exchange.NewMockBroker(testLogger(),
		exchange.WithHoldings(types.Holding{Code: "005930", HeldQty: 10, TradableQty: 10, PurchasePrice: 10000}),
		exchange.WithDailyBars("005930", ladderBars()),
		exchange.WithPrice("005930", 8600),
	)
	e, _ := newTestEngine(t, broker, types.ModeNone, types.WatchItem{
		Code: "005930", Behavior: types.TagCL, Color: "red", Amount: 1000000, SellPrice: 12000, WatchSince: "20240102",
	})

	e.Tick(context.Background(), at(10, 0))

	if n := len(broker.GetOrders()); n != 0 {
		t.Errorf("Expected no orders in NONE mode, got %d", n)
	}
}

func TestEngine_AltVenueBlocked(t *testing.T) {
	broker := exchange.NewMockBroker(testLogger(),
		exchange.WithHoldings(types.Holding{Code: "005930", HeldQty: 10, TradableQty: 10, PurchasePrice: 10000}),
		exchange.WithReject("005930", exchange.KindAltVenueNotTradable),
	)
	e, _ := newTestEngine(t, broker, types.ModeSell, types.WatchItem{
		Code: "005930", Behavior: types.TagCL, SellPrice: 12000, WatchSince: "20240102",
	})
	ctx := context.Background()

	e.Tick(ctx, at(8, 10))
	orders := broker.GetOrders()
	if len(orders) != 1 || orders[0].Venue != types.VenueNXT {
		t.Fatalf("Expected one NXT attempt, got %+v", orders)
	}

	e.Tick(ctx, at(8, 11))
	if n := len(broker.GetOrders()); n != 1 {
		t.Errorf("Expected NXT blocked for the day, got %d attempts", n)
	}
	if !e.state.DayActive() {
		t.Error("Alternate venue rejection must not end the day")
	}
}

func TestEngine_BulkCancelNXTOnce(t *testing.T) {
	broker := exchange.NewMockBroker(testLogger(),
		exchange.WithOpenOrders(
			types.OpenOrder{Code: "000660", Side: types.SideSell, Qty: 3, LimitPrice: 150000, Venue: types.VenueNXT, OrderID: "n1"},
			types.OpenOrder{Code: "035420", Side: types.SideSell, Qty: 2, LimitPrice: 200000, Venue: types.VenueKRX, OrderID: "k1"},
		),
	)
	e, _ := newTestEngine(t, broker, types.ModeSell)
	ctx := context.Background()

	e.Tick(ctx, at(8, 55))
	cancels := broker.GetCancels()
	if len(cancels) != 1 || cancels[0].OrderID != "n1" {
		t.Fatalf("Expected only the NXT order cancelled, got %+v", cancels)
	}

	broker.SetOpenOrders([]types.OpenOrder{
		{Code: "000660", Side: types.SideSell, Qty: 3, LimitPrice: 150000, Venue: types.VenueNXT, OrderID: "n2"},
	})
	e.Tick(ctx, at(8, 56))
	if n := len(broker.GetCancels()); n != 1 {
		t.Errorf("Expected bulk cancel once per day, got %d cancels", n)
	}
}

func TestEngine_MarketNotOpenCooldown(t *testing.T) {
	broker := exchange.NewMockBroker(testLogger(),
		exchange.WithHoldings(types.Holding{Code: "005930", HeldQty: 10, TradableQty: 10, PurchasePrice: 10000}),
		exchange.WithReject("", exchange.KindMarketNotOpen),
	)
	e, _ := newTestEngine(t, broker, types.ModeSell, types.WatchItem{
		Code: "005930", Behavior: types.TagCL, SellPrice: 12000, WatchSince: "20240102",
	})
	ctx := context.Background()

	e.Tick(ctx, at(9, 10))
	if n := len(broker.GetOrders()); n != 1 {
		t.Fatalf("Expected one attempt, got %d", n)
	}

	e.Tick(ctx, at(9, 40))
	if n := len(broker.GetOrders()); n != 1 {
		t.Errorf("Expected cooldown for the rest of the hour, got %d attempts", n)
	}

	e.Tick(ctx, at(10, 5))
	if n := len(broker.GetOrders()); n != 2 {
		t.Errorf("Expected a retry once the hour changed, got %d attempts", n)
	}
}

func TestEngine_NotTradingDayStandsDown(t *testing.T) {
	broker := exchange.NewMockBroker(testLogger(),
		exchange.WithHoldings(types.Holding{Code: "005930", HeldQty: 10, TradableQty: 10, PurchasePrice: 10000}),
		exchange.WithReject("", exchange.KindNotTradingDay),
	)
	e, _ := newTestEngine(t, broker, types.ModeSell, types.WatchItem{
		Code: "005930", Behavior: types.TagCL, SellPrice: 12000, WatchSince: "20240102",
	})
	ctx := context.Background()

	e.Tick(ctx, at(9, 10))
	if e.State().DayActive {
		t.Error("Expected the day to end")
	}

	e.Tick(ctx, at(11, 0))
	if n := len(broker.GetOrders()); n != 1 {
		t.Errorf("Expected no attempts after standing down, got %d", n)
	}

	e.Tick(ctx, at(9, 10).AddDate(0, 0, 1))
	if n := len(broker.GetOrders()); n != 2 {
		t.Errorf("Expected reconciliation to resume the next day, got %d attempts", n)
	}
}

func TestEngine_LiquidationRetagsAndCancelsBuys(t *testing.T) {
	broker := exchange.NewMockBroker(testLogger(),
		exchange.WithHoldings(types.Holding{Code: "005930", HeldQty: 5, TradableQty: 5, PurchasePrice: 9000}),
		exchange.WithOpenOrders(types.OpenOrder{Code: "005930", Side: types.SideBuy, Qty: 100, LimitPrice: 8500, Venue: types.VenueKRX, OrderID: "b1"}),
	)
	e, store := newTestEngine(t, broker, types.ModeNone, types.WatchItem{
		Code: "005930", Behavior: types.TagCL, Color: "red", Amount: 1000000, WatchSince: "20240102",
	})
	ctx := context.Background()

	e.Tick(ctx, at(9, 10))
	if n := len(broker.GetCancels()); n != 0 {
		t.Fatalf("Expected no cancels on the first snapshot, got %d", n)
	}

	broker.SetHoldings(nil)
	e.Tick(ctx, at(9, 11))

	cancels := broker.GetCancels()
	if len(cancels) != 1 || cancels[0].OrderID != "b1" {
		t.Fatalf("Expected the resting buy cancelled, got %+v", cancels)
	}
	if got := e.Watchlist()[0].Behavior; got != types.TagSCL {
		t.Errorf("Expected behavior SCL, got %s", got)
	}
	saved, err := store.LoadWatchlist(ctx)
	if err != nil || len(saved) != 1 || saved[0].Behavior != types.TagSCL {
		t.Errorf("Expected retag persisted, got %+v err=%v", saved, err)
	}

	e.Tick(ctx, at(9, 12))
	if n := len(broker.GetCancels()); n != 1 {
		t.Errorf("Expected liquidation handled once, got %d cancels", n)
	}
}

func TestEngine_StaleWatchCleanup(t *testing.T) {
	broker := exchange.NewMockBroker(testLogger(),
		exchange.WithHoldings(types.Holding{Code: "005930", HeldQty: 5, TradableQty: 5, PurchasePrice: 9000}),
	)
	e, store := newTestEngine(t, broker, types.ModeNone,
		types.WatchItem{Code: "000660", Behavior: types.TagCL, WatchSince: "20231201"},
		types.WatchItem{Code: "005930", Behavior: types.TagCL, WatchSince: "20231201"},
		types.WatchItem{Code: "035420", Behavior: types.TagCL, WatchSince: "20240101"},
	)
	ctx := context.Background()

	e.Tick(ctx, at(6, 30))

	watch := e.Watchlist()
	if len(watch) != 2 || watch[0].Code != "005930" || watch[1].Code != "035420" {
		t.Errorf("Expected stale unheld entry purged, got %+v", watch)
	}
	saved, _ := store.LoadWatchlist(ctx)
	if len(saved) != 2 {
		t.Errorf("Expected purge persisted, got %d entries", len(saved))
	}
}

func TestEngine_CleanupSkippedWithoutSnapshot(t *testing.T) {
	broker := exchange.NewMockBroker(testLogger(), exchange.WithFailure("connection refused"))
	e, _ := newTestEngine(t, broker, types.ModeNone,
		types.WatchItem{Code: "000660", Behavior: types.TagCL, WatchSince: "20231201"},
	)

	e.Tick(context.Background(), at(6, 30))

	if n := len(e.Watchlist()); n != 1 {
		t.Errorf("Expected cleanup skipped without holdings, got %d entries", n)
	}
}

// holdingsDown serves open orders but fails every holdings call
type holdingsDown struct {
	*exchange.MockBroker
}

func (h holdingsDown) Holdings(ctx context.Context) ([]types.Holding, error) {
	return nil, errors.New("holdings endpoint unavailable")
}

func TestEngine_CleanupSkippedWhenOnlyHoldingsFail(t *testing.T) {
	broker := holdingsDown{exchange.NewMockBroker(testLogger(),
		exchange.WithOpenOrders(types.OpenOrder{Code: "005930", OrderID: "s1", Side: types.SideSell, Venue: types.VenueKRX, Qty: 5, LimitPrice: 12000}),
	)}
	e, _ := newTestEngine(t, broker, types.ModeNone,
		types.WatchItem{Code: "005930", Behavior: types.TagCL, WatchSince: "20231201"},
	)

	e.Tick(context.Background(), at(6, 30))

	if len(e.snapshots.OpenOrders(testAccount)) != 1 {
		t.Fatal("Expected the open-order half of the snapshot to be applied")
	}
	if n := len(e.Watchlist()); n != 1 {
		t.Errorf("Expected cleanup skipped while holdings are unknown, got %d entries", n)
	}
}

func TestEngine_PollErrorsCountFailuresOnly(t *testing.T) {
	healthy := exchange.NewMockBroker(testLogger())
	e, _ := newTestEngine(t, healthy, types.ModeNone)

	before := testutil.ToFloat64(metrics.PollErrors)
	// cleanup and the KRX pass both poll on this tick
	e.Tick(context.Background(), at(9, 10))
	if got := testutil.ToFloat64(metrics.PollErrors) - before; got != 0 {
		t.Errorf("Expected no poll errors for a healthy broker, got %v", got)
	}

	failing := exchange.NewMockBroker(testLogger(), exchange.WithFailure("connection refused"))
	e, _ = newTestEngine(t, failing, types.ModeNone)
	before = testutil.ToFloat64(metrics.PollErrors)
	e.Tick(context.Background(), at(9, 10))
	if got := testutil.ToFloat64(metrics.PollErrors) - before; got < 1 {
		t.Errorf("Expected failed polls counted, got %v", got)
	}
}

// flakyStore fails SaveState while fail is set
type flakyStore struct {
	*FileStore
	fail bool
}

func (f *flakyStore) SaveState(ctx context.Context, rec StateRecord) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.FileStore.SaveState(ctx, rec)
}

func TestEngine_FailedSaveKeepsStateDirty(t *testing.T) {
	logger := testLogger()
	store := &flakyStore{FileStore: NewFileStore(t.TempDir(), logger), fail: true}
	broker := exchange.NewMockBroker(logger)
	e := NewEngine(map[string]exchange.Broker{testAccount: broker}, store, Options{
		Session:    config.DefaultSession(),
		Thresholds: config.DefaultThresholds(),
	}, logger)
	ctx := context.Background()

	e.state.ResetForNewDay("20240102")
	e.state.BumpLedger(testAccount, "005930")
	e.saveState(ctx)
	if !e.state.Dirty() {
		t.Fatal("Expected state still dirty after a failed save")
	}

	store.fail = false
	e.saveState(ctx)
	if e.state.Dirty() {
		t.Error("Expected state clean after a successful save")
	}
	rec, err := store.LoadState(ctx)
	if err != nil || rec == nil || rec.Ledger[testAccount]["005930"] != 1 {
		t.Errorf("Expected ledger persisted on retry, got %+v err=%v", rec, err)
	}
}

func TestEngine_LedgerSurvivesRestart(t *testing.T) {
	logger := testLogger()
	broker := exchange.NewMockBroker(logger,
		exchange.WithDailyBars("005930", ladderBars()),
		exchange.WithPrice("005930", 8600),
	)
	e, store := newTestEngine(t, broker, types.ModeBuy, types.WatchItem{
		Code: "005930", Behavior: types.TagCL, Color: "red", Amount: 1000000, WatchSince: "20240102",
	})
	ctx := context.Background()

	e.Tick(ctx, at(9, 30))
	e.saveState(ctx)
	if n := len(broker.GetOrders()); n != 2 {
		t.Fatalf("Expected 2 buys, got %d", n)
	}

	broker.SetOpenOrders(nil)
	restarted := NewEngine(map[string]exchange.Broker{testAccount: broker}, store, Options{
		Session:    config.DefaultSession(),
		Thresholds: config.DefaultThresholds(),
	}, logger)
	if err := restarted.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if restarted.Modes()[testAccount] != types.ModeBuy {
		t.Errorf("Expected mode restored, got %s", restarted.Modes()[testAccount])
	}

	restarted.Tick(ctx, at(9, 40))
	if n := len(broker.GetOrders()); n != 2 {
		t.Errorf("Expected restored ledger to block repeat buys, got %d orders", n)
	}
}

func TestEngine_WatchlistAndModes(t *testing.T) {
	broker := exchange.NewMockBroker(testLogger())
	e, _ := newTestEngine(t, broker, types.ModeBoth)
	ctx := context.Background()

	if err := e.UpsertWatch(ctx, types.WatchItem{Code: "A005930", Behavior: types.TagCL}); err != nil {
		t.Fatal(err)
	}
	watch := e.Watchlist()
	if len(watch) != 1 || watch[0].Code != "005930" || watch[0].WatchSince == "" {
		t.Errorf("Expected normalized entry with watch date, got %+v", watch)
	}

	if err := e.UpsertWatch(ctx, types.WatchItem{Code: "005930", Amount: -1}); err == nil {
		t.Error("Expected negative amount rejected")
	}

	found, err := e.RemoveWatch(ctx, "005930")
	if err != nil || !found {
		t.Errorf("Expected removal, found=%v err=%v", found, err)
	}
	found, _ = e.RemoveWatch(ctx, "005930")
	if found {
		t.Error("Expected second removal to report missing")
	}

	if err := e.SetMode(ctx, "nobody", types.ModeBuy); err != ErrUnknownAccount {
		t.Errorf("Expected ErrUnknownAccount, got %v", err)
	}
	if err := e.SetMode(ctx, testAccount, "SOMETIMES"); err == nil {
		t.Error("Expected invalid mode rejected")
	}
	if _, err := e.Holdings("nobody"); err != ErrUnknownAccount {
		t.Errorf("Expected ErrUnknownAccount, got %v", err)
	}
}

func TestEngine_StartStopSavesState(t *testing.T) {
	broker := exchange.NewMockBroker(testLogger())
	e, store := newTestEngine(t, broker, types.ModeNone)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	e.Stop()
	e.Stop()

	rec, err := store.LoadState(context.Background())
	if err != nil || rec == nil {
		t.Errorf("Expected state saved on stop, got %+v err=%v", rec, err)
	}
}
