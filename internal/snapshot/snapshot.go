// Package snapshot keeps the latest polled holdings and open orders per
// account and detects positions that were sold out between polls.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"kiwoomapp/internal/types"
)

// Source is the part of the broker the cache polls
type Source interface {
	Holdings(ctx context.Context) ([]types.Holding, error)
	OpenOrders(ctx context.Context) ([]types.OpenOrder, error)
}

// HoldingsSaver persists a changed position snapshot
type HoldingsSaver interface {
	SaveHoldings(ctx context.Context, account string, holdings []types.Holding) error
}

type accountSnapshot struct {
	holdings  []types.Holding
	orders    []types.OpenOrder
	qty       map[string]int64
	polled    bool
	updatedAt time.Time
}

// Cache holds one snapshot per account. Slices are replaced, never mutated.
type Cache struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	saver    HoldingsSaver
	accounts map[string]*accountSnapshot
}

// NewCache creates an empty cache. saver may be nil.
func NewCache(saver HoldingsSaver, logger *slog.Logger) *Cache {
	return &Cache{
		logger:   logger,
		saver:    saver,
		accounts: make(map[string]*accountSnapshot),
	}
}

// Poll refreshes the account's snapshot and returns the codes whose held
// quantity dropped to zero since the previous successful poll. The error is
// non-nil when either half of the snapshot could not be refreshed; whatever
// half succeeded is still applied.
func (c *Cache) Poll(ctx context.Context, account string, src Source, now time.Time) ([]string, error) {
	var liquidated []string
	var errs []error

	holdings, err := src.Holdings(ctx)
	if err != nil {
		c.logger.Warn("[SNAPSHOT] Holdings poll failed, keeping last snapshot",
			"account", account,
			"error", err,
		)
		errs = append(errs, fmt.Errorf("holdings: %w", err))
	} else {
		liquidated = c.replaceHoldings(ctx, account, NormalizeHoldings(holdings), now)
	}

	orders, err := src.OpenOrders(ctx)
	if err != nil {
		c.logger.Warn("[SNAPSHOT] Open orders poll failed, keeping last snapshot",
			"account", account,
			"error", err,
		)
		errs = append(errs, fmt.Errorf("open orders: %w", err))
	} else {
		orders = NormalizeOrders(orders)
		c.mu.Lock()
		snap := c.account(account)
		snap.orders = orders
		snap.updatedAt = now
		c.mu.Unlock()
	}

	return liquidated, errors.Join(errs...)
}

func (c *Cache) replaceHoldings(ctx context.Context, account string, holdings []types.Holding, now time.Time) []string {
	qty := make(map[string]int64, len(holdings))
	for _, h := range holdings {
		qty[h.Code] += h.HeldQty
	}

	c.mu.Lock()
	snap := c.account(account)
	prev, first := snap.qty, !snap.polled
	snap.holdings = holdings
	snap.qty = qty
	snap.polled = true
	snap.updatedAt = now
	c.mu.Unlock()

	if !first && sameQty(prev, qty) {
		return nil
	}

	var liquidated []string
	if !first {
		for code, q := range prev {
			if q > 0 && qty[code] == 0 {
				liquidated = append(liquidated, code)
			}
		}
		sort.Strings(liquidated)
	}

	c.logger.Info("[SNAPSHOT] Positions changed",
		"account", account,
		"symbols", len(qty),
		"liquidated", liquidated,
	)
	if c.saver != nil {
		if err := c.saver.SaveHoldings(ctx, account, holdings); err != nil {
			c.logger.Error("[SNAPSHOT] Failed to persist holdings", "account", account, "error", err)
		}
	}
	return liquidated
}

// account returns the snapshot for account, creating it (caller holds the lock)
func (c *Cache) account(account string) *accountSnapshot {
	snap, ok := c.accounts[account]
	if !ok {
		snap = &accountSnapshot{}
		c.accounts[account] = snap
	}
	return snap
}

// Holdings returns the account's latest positions
func (c *Cache) Holdings(account string) []types.Holding {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if snap, ok := c.accounts[account]; ok {
		return snap.holdings
	}
	return nil
}

// OpenOrders returns the account's latest resting orders
func (c *Cache) OpenOrders(account string) []types.OpenOrder {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if snap, ok := c.accounts[account]; ok {
		return snap.orders
	}
	return nil
}

// Holding returns one position
func (c *Cache) Holding(account, code string) (types.Holding, bool) {
	for _, h := range c.Holdings(account) {
		if h.Code == code {
			return h, true
		}
	}
	return types.Holding{}, false
}

// Held reports whether any account holds code
func (c *Cache) Held(code string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, snap := range c.accounts {
		if snap.qty[code] > 0 {
			return true
		}
	}
	return false
}

// HoldingsKnown reports whether a holdings poll for the account has ever succeeded
func (c *Cache) HoldingsKnown(account string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.accounts[account]
	return ok && snap.polled
}

// UpdatedAt returns when any part of the account's snapshot was last refreshed
func (c *Cache) UpdatedAt(account string) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if snap, ok := c.accounts[account]; ok {
		return snap.updatedAt
	}
	return time.Time{}
}

// DropOrder removes a cancelled order from the cached book until the next poll
func (c *Cache) DropOrder(account, orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.accounts[account]
	if !ok {
		return
	}
	kept := make([]types.OpenOrder, 0, len(snap.orders))
	for _, o := range snap.orders {
		if o.OrderID != orderID {
			kept = append(kept, o)
		}
	}
	snap.orders = kept
}

func sameQty(a, b map[string]int64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// NormalizeCode strips the market prefix and venue suffix from a symbol code
func NormalizeCode(code string) string {
	code = strings.TrimSpace(code)
	code = strings.TrimSuffix(strings.TrimSuffix(code, "_NX"), "_AL")
	if len(code) == 7 && (code[0] == 'A' || code[0] == 'J') {
		code = code[1:]
	}
	return code
}

// NormalizeHoldings fixes codes and price signs
func NormalizeHoldings(in []types.Holding) []types.Holding {
	out := make([]types.Holding, 0, len(in))
	for _, h := range in {
		h.Code = NormalizeCode(h.Code)
		if h.Code == "" {
			continue
		}
		h.PurchasePrice = math.Abs(h.PurchasePrice)
		h.CurrentPrice = math.Abs(h.CurrentPrice)
		out = append(out, h)
	}
	return out
}

// NormalizeOrders fixes codes and price signs
func NormalizeOrders(in []types.OpenOrder) []types.OpenOrder {
	out := make([]types.OpenOrder, 0, len(in))
	for _, o := range in {
		o.Code = NormalizeCode(o.Code)
		if o.Code == "" {
			continue
		}
		o.LimitPrice = math.Abs(o.LimitPrice)
		o.CurrentPrice = math.Abs(o.CurrentPrice)
		out = append(out, o)
	}
	return out
}
