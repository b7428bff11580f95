package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kiwoomapp/internal/pattern"
	"kiwoomapp/internal/types"
)

// BarSource provides chart data for gap pricing
type BarSource interface {
	DailyBars(ctx context.Context, symbol string, asOf time.Time) ([]types.Bar, error)
	MinuteBars(ctx context.Context, symbol string) ([]types.Bar, error)
}

// SellInput is what a strategy sees for one held symbol
type SellInput struct {
	Account string
	Item    types.WatchItem
	Holding types.Holding
	AsOf    time.Time
}

// SellStrategy produces a target sell price. ok is false when the strategy
// is not configured for the entry.
type SellStrategy interface {
	Name() string
	Price(ctx context.Context, in SellInput) (price float64, ok bool, err error)
}

// FixedPrice uses the entry's explicit sell price
type FixedPrice struct{}

func (FixedPrice) Name() string { return "fixed" }

func (FixedPrice) Price(_ context.Context, in SellInput) (float64, bool, error) {
	if in.Item.SellPrice <= 0 {
		return 0, false, nil
	}
	return in.Item.SellPrice, true, nil
}

// RatePrice marks up the purchase price by SellRate percent
type RatePrice struct{}

func (RatePrice) Name() string { return "rate" }

func (RatePrice) Price(_ context.Context, in SellInput) (float64, bool, error) {
	if in.Item.SellRate == 0 || in.Holding.PurchasePrice <= 0 {
		return 0, false, nil
	}
	return RoundTrunc(in.Holding.PurchasePrice * (1 + in.Item.SellRate/100)), true, nil
}

// GapPrice sells at the minute-chart low after the period high plus a
// fraction of twice the daily gap.
type GapPrice struct {
	Gaps         *GapBook
	Source       BarSource
	MinuteWindow int
}

func (GapPrice) Name() string { return "gap" }

func (g GapPrice) Price(ctx context.Context, in SellInput) (float64, bool, error) {
	if in.Item.SellGap == 0 {
		return 0, false, nil
	}
	rec, ok, err := g.Gaps.Get(ctx, in.Item.Code, in.AsOf)
	if err != nil || !ok {
		return 0, false, err
	}
	minutes, err := g.Source.MinuteBars(ctx, in.Item.Code)
	if err != nil {
		return 0, false, fmt.Errorf("minute bars for %s: %w", in.Item.Code, err)
	}
	low, ok := pattern.LowAfterPeak(minutes, g.MinuteWindow)
	if !ok {
		return 0, false, nil
	}
	return RoundTrunc(low + 2*rec.Gap*in.Item.SellGap), true, nil
}

// GapBook caches one gap record per symbol for the trading day
type GapBook struct {
	mu      sync.Mutex
	source  BarSource
	window  int
	steps   int
	records map[string]types.GapRecord
}

// NewGapBook creates an empty gap cache
func NewGapBook(source BarSource, window, steps int) *GapBook {
	return &GapBook{
		source:  source,
		window:  window,
		steps:   steps,
		records: make(map[string]types.GapRecord),
	}
}

// Get returns the cached record, fetching daily bars on a miss
func (b *GapBook) Get(ctx context.Context, symbol string, asOf time.Time) (types.GapRecord, bool, error) {
	b.mu.Lock()
	rec, ok := b.records[symbol]
	b.mu.Unlock()
	if ok {
		return rec, true, nil
	}

	bars, err := b.source.DailyBars(ctx, symbol, asOf)
	if err != nil {
		return types.GapRecord{}, false, fmt.Errorf("daily bars for %s: %w", symbol, err)
	}
	rec, ok = ComputeGapRecord(bars, b.window, b.steps)
	if !ok {
		return types.GapRecord{}, false, nil
	}

	b.mu.Lock()
	b.records[symbol] = rec
	b.mu.Unlock()
	return rec, true, nil
}

// Snapshot copies the cache for display
func (b *GapBook) Snapshot() map[string]types.GapRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]types.GapRecord, len(b.records))
	for k, v := range b.records {
		out[k] = v
	}
	return out
}

// Reset drops every record
func (b *GapBook) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = make(map[string]types.GapRecord)
}

type cachedPrice struct {
	price    float64
	ok       bool
	strategy string
	at       time.Time
}

// Resolver evaluates strategies in order and caches the result per
// account and symbol for ttl.
type Resolver struct {
	mu         sync.Mutex
	strategies []SellStrategy
	ttl        time.Duration
	cache      map[string]cachedPrice
}

// NewResolver creates a resolver. Earlier strategies take priority.
func NewResolver(ttl time.Duration, strategies ...SellStrategy) *Resolver {
	return &Resolver{
		strategies: strategies,
		ttl:        ttl,
		cache:      make(map[string]cachedPrice),
	}
}

// Resolve returns the target price and the name of the strategy that set it.
// ok is false when no strategy applies.
func (r *Resolver) Resolve(ctx context.Context, in SellInput) (float64, string, bool, error) {
	key := in.Account + "|" + in.Item.Code

	r.mu.Lock()
	c, hit := r.cache[key]
	r.mu.Unlock()
	if hit && in.AsOf.Sub(c.at) < r.ttl {
		return c.price, c.strategy, c.ok, nil
	}

	entry := cachedPrice{at: in.AsOf}
	for _, s := range r.strategies {
		price, ok, err := s.Price(ctx, in)
		if err != nil {
			return 0, s.Name(), false, err
		}
		if ok && price > 0 {
			entry.price, entry.ok, entry.strategy = price, true, s.Name()
			break
		}
	}

	r.mu.Lock()
	r.cache[key] = entry
	r.mu.Unlock()
	return entry.price, entry.strategy, entry.ok, nil
}

// Reset drops every cached price
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]cachedPrice)
}
