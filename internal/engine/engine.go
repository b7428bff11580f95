package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"kiwoomapp/internal/config"
	"kiwoomapp/internal/exchange"
	"kiwoomapp/internal/metrics"
	"kiwoomapp/internal/pricing"
	"kiwoomapp/internal/snapshot"
	"kiwoomapp/internal/types"
)

// ErrUnknownAccount is returned for an account with no broker
var ErrUnknownAccount = errors.New("unknown account")

// Options configures the engine
type Options struct {
	Session      config.Session
	Thresholds   config.Thresholds
	ColorRungs   map[string]int
	TickInterval time.Duration
	SaveInterval time.Duration
}

// Engine runs the session state machine and order reconciliation for
// every configured account, once per tick.
type Engine struct {
	logger     *slog.Logger
	store      Store
	session    *Session
	thresholds config.Thresholds
	colorRungs map[string]int

	brokers  map[string]exchange.Broker // account -> broker
	accounts []string                   // sorted keys of brokers

	snapshots *snapshot.Cache
	state     *EngineState

	mu        sync.RWMutex
	watchlist []types.WatchItem
	modes     map[string]types.AccountMode

	tickInterval time.Duration
	saveInterval time.Duration
	stopChan     chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// NewEngine creates an engine over one broker per account
func NewEngine(brokers map[string]exchange.Broker, store Store, opts Options, logger *slog.Logger) *Engine {
	accounts := make([]string, 0, len(brokers))
	for acct := range brokers {
		accounts = append(accounts, acct)
	}
	sort.Strings(accounts)

	var market pricing.BarSource
	if len(accounts) > 0 {
		market = brokers[accounts[0]]
	}
	th := opts.Thresholds
	gaps := pricing.NewGapBook(market, th.DailyWindow, th.LadderSteps)
	resolver := pricing.NewResolver(th.SellPriceTTL,
		pricing.FixedPrice{},
		pricing.RatePrice{},
		pricing.GapPrice{Gaps: gaps, Source: market, MinuteWindow: th.MinuteWindow},
	)

	if opts.TickInterval <= 0 {
		opts.TickInterval = 3 * time.Second
	}
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = 30 * time.Second
	}
	if opts.ColorRungs == nil {
		opts.ColorRungs = config.DefaultColorRungs()
	}

	return &Engine{
		logger:       logger,
		store:        store,
		session:      NewSession(opts.Session),
		thresholds:   th,
		colorRungs:   opts.ColorRungs,
		brokers:      brokers,
		accounts:     accounts,
		snapshots:    snapshot.NewCache(store, logger),
		state:        NewEngineState(gaps, resolver),
		modes:        make(map[string]types.AccountMode),
		tickInterval: opts.TickInterval,
		saveInterval: opts.SaveInterval,
		stopChan:     make(chan struct{}),
	}
}

// Load restores the watchlist, modes and day state from the store
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	items, err := e.store.LoadWatchlist(ctx)
	if err != nil {
		return fmt.Errorf("failed to load watchlist: %w", err)
	}
	modes, err := e.store.LoadAccountModes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load account modes: %w", err)
	}
	rec, err := e.store.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("failed to load engine state: %w", err)
	}

	e.mu.Lock()
	e.watchlist = items
	if modes != nil {
		e.modes = modes
	}
	e.mu.Unlock()
	if rec != nil {
		e.state.Restore(*rec)
	}

	e.logger.Info("[ENGINE] State loaded",
		"watchlist", len(items),
		"modes", len(modes),
		"day", e.state.Day(),
	)
	return nil
}

// Start loads persisted state and starts the tick and save loops
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Load(ctx); err != nil {
		e.logger.Error("[ENGINE] Failed to load state", "error", err)
	}

	e.wg.Add(2)
	go e.run(ctx)
	go e.persistLoop(ctx)

	e.logger.Info("[ENGINE] Started",
		"accounts", e.accounts,
		"tick_interval", e.tickInterval,
	)
	return nil
}

// run is the main tick loop
func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	e.logger.Info("[ENGINE] Tick loop started")

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	e.Tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("[ENGINE] Context cancelled, shutting down")
			return
		case <-e.stopChan:
			e.logger.Info("[ENGINE] Stop signal received")
			return
		case now := <-ticker.C:
			e.Tick(ctx, now)
		}
	}
}

// persistLoop saves the day state when it changed, and once more on stop
func (e *Engine) persistLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.saveState(context.Background())
			return
		case <-e.stopChan:
			e.saveState(context.Background())
			e.logger.Info("[ENGINE] Final state saved on shutdown")
			return
		case <-ticker.C:
			if e.state.Dirty() {
				e.saveState(ctx)
			}
		}
	}
}

func (e *Engine) saveState(ctx context.Context) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveState(ctx, e.state.Record()); err != nil {
		e.state.MarkDirty()
		e.logger.Error("[ENGINE] Failed to save state", "error", err)
	}
}

// Stop stops the loops and waits for the final save
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopChan)
	})
	e.wg.Wait()
	e.logger.Info("[ENGINE] Stopped")
}

// Tick runs one pass of the session state machine at now
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	now = now.In(types.KST)
	today := types.DayOf(now)

	e.maybeCleanup(ctx, now, today)

	phase := e.session.PhaseAt(now)
	if phase == types.PhaseOff {
		if e.state.EndDay() {
			e.logger.Info("[SESSION] Trading day closed", "day", e.state.Day())
		}
		e.setPhase(phase)
		return
	}

	if e.state.Day() != today {
		e.state.ResetForNewDay(today)
		e.logger.Info("[SESSION] New trading day", "day", today)
	}
	e.setPhase(phase)

	if !e.state.DayActive() {
		return
	}
	if e.state.CoolingDown(now.Hour()) {
		e.logger.Debug("[SESSION] Cooling down", "hour", now.Hour())
		return
	}

	e.refreshSnapshots(ctx, now)

	modes := e.Modes()
	watch := e.Watchlist()
	byCode := make(map[string]types.WatchItem, len(watch))
	for _, w := range watch {
		byCode[w.Code] = w
	}

	venue := VenueFor(phase)
	switch phase {
	case types.PhaseNXT, types.PhasePost:
		for _, account := range e.accounts {
			if !modes[account].Sells() {
				continue
			}
			if e.sellPass(ctx, account, e.brokers[account], venue, byCode, now) {
				return
			}
		}
	case types.PhaseNXTToKRX:
		e.bulkCancelNXT(ctx, modes)
	case types.PhaseKRX:
		for _, account := range e.accounts {
			broker := e.brokers[account]
			if modes[account].Sells() && e.sellPass(ctx, account, broker, venue, byCode, now) {
				return
			}
			if modes[account].Buys() && e.buyPass(ctx, account, broker, watch, now) {
				return
			}
		}
	}
}

func (e *Engine) setPhase(p types.Phase) {
	if e.state.SetPhase(p) {
		e.logger.Info("[SESSION] Phase changed", "phase", p)
		metrics.SetPhase(p)
	}
}

// refreshSnapshots polls every account and reacts to sold-out positions
func (e *Engine) refreshSnapshots(ctx context.Context, now time.Time) {
	for _, account := range e.accounts {
		broker := e.brokers[account]
		liquidated, err := e.snapshots.Poll(ctx, account, broker, now)
		if err != nil {
			metrics.PollErrors.Inc()
		}
		for _, code := range liquidated {
			e.onLiquidated(ctx, account, broker, code)
		}
	}
}

// maybeCleanup purges stale watchlist entries once a day
func (e *Engine) maybeCleanup(ctx context.Context, now time.Time, today types.TradingDay) {
	if !e.session.CleanupDue(now) || !e.state.TakeCleanup(today) {
		return
	}

	e.refreshSnapshots(ctx, now)
	for _, account := range e.accounts {
		if !e.snapshots.HoldingsKnown(account) {
			e.logger.Warn("[ENGINE] Skipping watchlist cleanup without a position snapshot", "account", account)
			return
		}
	}

	cutoff := today.Time().AddDate(0, 0, -e.thresholds.StaleWatchDays)
	e.mu.Lock()
	kept := make([]types.WatchItem, 0, len(e.watchlist))
	var purged []string
	for _, w := range e.watchlist {
		since := types.TradingDay(w.WatchSince).Time()
		if !since.IsZero() && since.Before(cutoff) && !e.snapshots.Held(w.Code) {
			purged = append(purged, w.Code)
			continue
		}
		kept = append(kept, w)
	}
	e.watchlist = kept
	e.mu.Unlock()

	if len(purged) == 0 {
		return
	}
	e.logger.Info("[ENGINE] Stale watchlist entries purged", "symbols", purged)
	e.saveWatchlist(ctx)
}

// retag changes a watchlist entry's behavior tag from one value to another
func (e *Engine) retag(ctx context.Context, code, from, to string) bool {
	e.mu.Lock()
	changed := false
	for i := range e.watchlist {
		if e.watchlist[i].Code == code && e.watchlist[i].Behavior == from {
			e.watchlist[i].Behavior = to
			changed = true
		}
	}
	e.mu.Unlock()

	if changed {
		e.saveWatchlist(ctx)
	}
	return changed
}

func (e *Engine) saveWatchlist(ctx context.Context) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveWatchlist(ctx, e.Watchlist()); err != nil {
		e.logger.Error("[ENGINE] Failed to save watchlist", "error", err)
	}
}

// Watchlist returns a copy of the watchlist sorted by code
func (e *Engine) Watchlist() []types.WatchItem {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.WatchItem, len(e.watchlist))
	copy(out, e.watchlist)
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// UpsertWatch adds or replaces a watchlist entry and persists the list
func (e *Engine) UpsertWatch(ctx context.Context, item types.WatchItem) error {
	item.Code = snapshot.NormalizeCode(item.Code)
	if item.Code == "" {
		return fmt.Errorf("code is required")
	}
	if item.Amount < 0 || item.SellPrice < 0 || item.SellGap < 0 {
		return fmt.Errorf("amount and sell fields must not be negative")
	}
	if item.WatchSince == "" {
		item.WatchSince = string(types.DayOf(time.Now()))
	}

	e.mu.Lock()
	replaced := false
	for i := range e.watchlist {
		if e.watchlist[i].Code == item.Code {
			e.watchlist[i] = item
			replaced = true
		}
	}
	if !replaced {
		e.watchlist = append(e.watchlist, item)
	}
	e.mu.Unlock()

	e.logger.Info("[ENGINE] Watchlist entry saved", "symbol", item.Code, "behavior", item.Behavior, "replaced", replaced)
	if e.store != nil {
		return e.store.SaveWatchlist(ctx, e.Watchlist())
	}
	return nil
}

// RemoveWatch deletes a watchlist entry. Reports whether it existed.
func (e *Engine) RemoveWatch(ctx context.Context, code string) (bool, error) {
	code = snapshot.NormalizeCode(code)

	e.mu.Lock()
	kept := e.watchlist[:0:0]
	for _, w := range e.watchlist {
		if w.Code != code {
			kept = append(kept, w)
		}
	}
	found := len(kept) != len(e.watchlist)
	e.watchlist = kept
	e.mu.Unlock()

	if !found {
		return false, nil
	}
	e.logger.Info("[ENGINE] Watchlist entry removed", "symbol", code)
	if e.store != nil {
		return true, e.store.SaveWatchlist(ctx, e.Watchlist())
	}
	return true, nil
}

// Modes returns a copy of the per-account modes. Accounts without a mode are NONE.
func (e *Engine) Modes() map[string]types.AccountMode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]types.AccountMode, len(e.accounts))
	for _, acct := range e.accounts {
		m, ok := e.modes[acct]
		if !ok {
			m = types.ModeNone
		}
		out[acct] = m
	}
	return out
}

// SetMode changes which passes run for an account and persists the modes
func (e *Engine) SetMode(ctx context.Context, account string, mode types.AccountMode) error {
	if _, ok := e.brokers[account]; !ok {
		return ErrUnknownAccount
	}
	if !mode.Valid() {
		return fmt.Errorf("invalid mode %q", mode)
	}

	e.mu.Lock()
	e.modes[account] = mode
	e.mu.Unlock()

	e.logger.Info("[ENGINE] Account mode changed", "account", account, "mode", mode)
	if e.store != nil {
		return e.store.SaveAccountModes(ctx, e.Modes())
	}
	return nil
}

// State returns the session state for the dashboard
func (e *Engine) State() types.StateView {
	return e.state.View(e.Modes(), time.Now())
}

// Holdings returns the account's latest position snapshot
func (e *Engine) Holdings(account string) ([]types.Holding, error) {
	if _, ok := e.brokers[account]; !ok {
		return nil, ErrUnknownAccount
	}
	return e.snapshots.Holdings(account), nil
}

// OpenOrders returns the account's latest order snapshot
func (e *Engine) OpenOrders(account string) ([]types.OpenOrder, error) {
	if _, ok := e.brokers[account]; !ok {
		return nil, ErrUnknownAccount
	}
	return e.snapshots.OpenOrders(account), nil
}

// Accounts returns the configured account ids
func (e *Engine) Accounts() []string {
	return append([]string(nil), e.accounts...)
}
