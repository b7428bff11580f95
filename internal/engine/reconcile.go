package engine

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"kiwoomapp/internal/exchange"
	"kiwoomapp/internal/metrics"
	"kiwoomapp/internal/pricing"
	"kiwoomapp/internal/types"
)

// sellPass reconciles resting sells against target prices for one account.
// Returns true when a rejection ended reconciliation for this tick.
func (e *Engine) sellPass(ctx context.Context, account string, broker exchange.Broker, venue types.Venue, watch map[string]types.WatchItem, now time.Time) (stop bool) {
	var symbol string
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("[RECONCILE] Panic in sell pass",
				"account", account,
				"symbol", symbol,
				"venue", venue,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			panic(r)
		}
	}()

	orders := e.snapshots.OpenOrders(account)
	for _, h := range e.snapshots.Holdings(account) {
		symbol = h.Code
		item, ok := watch[h.Code]
		if !ok {
			continue
		}
		if venue == types.VenueNXT && e.state.AltVenueBlocked(h.Code) {
			continue
		}

		target, strategy, ok, err := e.state.sellPrices.Resolve(ctx, pricing.SellInput{
			Account: account,
			Item:    item,
			Holding: h,
			AsOf:    now,
		})
		if err != nil {
			e.logger.Warn("[RECONCILE] Sell price unavailable",
				"account", account,
				"symbol", h.Code,
				"strategy", strategy,
				"error", err,
			)
			continue
		}
		if !ok {
			continue
		}

		if limit, ok := e.upperLimit(ctx, broker, h.Code); ok && target > limit {
			e.logger.Debug("[RECONCILE] Target above upper limit",
				"account", account,
				"symbol", h.Code,
				"price", target,
				"upper_limit", limit,
			)
			continue
		}

		stale, resting := false, false
		for _, o := range orders {
			if o.Code != h.Code || o.Side != types.SideSell {
				continue
			}
			if o.LimitPrice == target {
				resting = true
				continue
			}
			stale = true
			e.cancel(ctx, account, broker, o, "stale_sell")
		}
		if stale || resting {
			// a replacement goes in on the next pass
			continue
		}

		if h.TradableQty == 0 {
			continue
		}

		req := exchange.OrderRequest{
			Symbol: h.Code,
			Side:   types.SideSell,
			Venue:  venue,
			Qty:    h.TradableQty,
			Price:  target,
		}
		if _, err := broker.PlaceOrder(ctx, req); err != nil {
			if e.handleReject(account, h.Code, venue, err, now) {
				return true
			}
			continue
		}
		metrics.OrdersPlaced.WithLabelValues(string(types.SideSell), string(venue)).Inc()
		e.logger.Info("[RECONCILE] Sell placed",
			"account", account,
			"symbol", h.Code,
			"strategy", strategy,
			"venue", venue,
			"qty", h.TradableQty,
			"price", target,
		)
	}
	return false
}

// buyPass attempts ladder tranches for one account on KRX
func (e *Engine) buyPass(ctx context.Context, account string, broker exchange.Broker, watch []types.WatchItem, now time.Time) (stop bool) {
	holdings := e.snapshots.Holdings(account)
	orders := e.snapshots.OpenOrders(account)

	for _, item := range watch {
		if !types.IsLadderBuy(item.Behavior) || item.Amount <= 0 {
			continue
		}
		k, ok := e.colorRungs[item.Color]
		if !ok {
			continue
		}

		committed := committedAmount(item.Code, holdings, orders)
		class := trancheClass(committed, item.Amount, e.thresholds.BudgetFillRatio)
		if class >= maxTranches {
			continue
		}

		rec, ok, err := e.state.gaps.Get(ctx, item.Code, now)
		if err != nil {
			e.logger.Warn("[RECONCILE] Gap record unavailable", "account", account, "symbol", item.Code, "error", err)
			continue
		}
		if !ok {
			continue
		}

		cur := 0.0
		for n := 1; n <= maxTranches; n++ {
			if class >= n || e.state.Ledger(account, item.Code) >= n {
				continue
			}
			rung, ok := pricing.Rung(rec, k+n-1)
			if !ok {
				continue
			}
			if cur == 0 {
				if cur, err = broker.CurrentPrice(ctx, item.Code); err != nil {
					e.logger.Warn("[RECONCILE] Current price unavailable", "symbol", item.Code, "error", err)
					break
				}
			}
			if !pricing.WithinProximity(cur, rung, e.thresholds.ProximityRatio) {
				continue
			}

			price := pricing.RoundTrunc(rung)
			qty := pricing.BuyQty(item.Amount, price)
			if qty == 0 {
				continue
			}

			attempts := e.state.BumpLedger(account, item.Code)
			req := exchange.OrderRequest{
				Symbol: item.Code,
				Side:   types.SideBuy,
				Venue:  types.VenueKRX,
				Qty:    qty,
				Price:  price,
			}
			if _, err := broker.PlaceOrder(ctx, req); err != nil {
				if e.handleReject(account, item.Code, types.VenueKRX, err, now) {
					return true
				}
				continue
			}
			metrics.OrdersPlaced.WithLabelValues(string(types.SideBuy), string(types.VenueKRX)).Inc()
			e.logger.Info("[RECONCILE] Tranche buy placed",
				"account", account,
				"symbol", item.Code,
				"tranche", n,
				"attempts", attempts,
				"rung", k+n-1,
				"qty", qty,
				"price", price,
			)
		}
	}
	return false
}

// committedAmount is the held value plus resting buy value for code
func committedAmount(code string, holdings []types.Holding, orders []types.OpenOrder) float64 {
	total := 0.0
	for _, h := range holdings {
		if h.Code == code {
			total += float64(h.HeldQty) * h.PurchasePrice
		}
	}
	for _, o := range orders {
		if o.Code == code && o.Side == types.SideBuy {
			total += float64(o.Qty) * o.LimitPrice
		}
	}
	return total
}

// trancheClass counts how many budget units are already committed
func trancheClass(committed, amount, fillRatio float64) int {
	switch {
	case committed < fillRatio*amount:
		return 0
	case committed < fillRatio*2*amount:
		return 1
	default:
		return 2
	}
}

// bulkCancelNXT cancels every resting NXT order once per day
func (e *Engine) bulkCancelNXT(ctx context.Context, modes map[string]types.AccountMode) {
	if !e.state.TakeBulkCancel() {
		return
	}
	for _, account := range e.accounts {
		if modes[account] == types.ModeNone {
			continue
		}
		broker := e.brokers[account]
		count := 0
		for _, o := range e.snapshots.OpenOrders(account) {
			if o.Venue != types.VenueNXT {
				continue
			}
			e.cancel(ctx, account, broker, o, "bulk_nxt")
			count++
		}
		e.logger.Info("[SESSION] NXT orders cancelled before KRX open", "account", account, "count", count)
	}
}

// onLiquidated retags a sold-out cycling symbol and cancels its resting buys
func (e *Engine) onLiquidated(ctx context.Context, account string, broker exchange.Broker, code string) {
	metrics.Liquidations.Inc()

	if e.retag(ctx, code, types.TagCL, types.TagSCL) {
		e.logger.Info("[ENGINE] Position sold out, behavior retagged",
			"account", account,
			"symbol", code,
			"from", types.TagCL,
			"to", types.TagSCL,
		)
	}

	for _, o := range e.snapshots.OpenOrders(account) {
		if o.Code == code && o.Side == types.SideBuy {
			e.cancel(ctx, account, broker, o, "liquidated")
		}
	}
}

func (e *Engine) cancel(ctx context.Context, account string, broker exchange.Broker, o types.OpenOrder, reason string) {
	err := broker.CancelOrder(ctx, exchange.CancelRequest{
		Symbol:  o.Code,
		Venue:   o.Venue,
		OrderID: o.OrderID,
	})
	if err != nil && !errors.Is(err, exchange.ErrNotFound) {
		e.logger.Error("[RECONCILE] Cancel failed",
			"account", account,
			"symbol", o.Code,
			"order_id", o.OrderID,
			"reason", reason,
			"error", err,
		)
		return
	}
	e.snapshots.DropOrder(account, o.OrderID)
	metrics.Cancels.WithLabelValues(reason).Inc()
	e.logger.Info("[RECONCILE] Order cancelled",
		"account", account,
		"symbol", o.Code,
		"order_id", o.OrderID,
		"side", o.Side,
		"price", o.LimitPrice,
		"reason", reason,
	)
}

// upperLimit returns the day's cached ceiling, fetching it on a miss
func (e *Engine) upperLimit(ctx context.Context, broker exchange.Broker, code string) (float64, bool) {
	if p, ok := e.state.UpperLimit(code); ok {
		return p, true
	}
	p, err := broker.UpperLimit(ctx, code)
	if err != nil {
		e.logger.Debug("[RECONCILE] Upper limit unavailable", "symbol", code, "error", err)
		return 0, false
	}
	e.state.SetUpperLimit(code, p)
	return p, true
}

// handleReject applies the session transition for a decoded rejection.
// Returns true when reconciliation must stop for this tick.
func (e *Engine) handleReject(account, code string, venue types.Venue, err error, now time.Time) bool {
	kind := exchange.KindOf(err)
	metrics.Rejects.WithLabelValues(kind.String()).Inc()

	switch kind {
	case exchange.KindAltVenueNotTradable:
		if venue == types.VenueNXT {
			e.state.BlockAltVenue(code)
		}
		e.logger.Warn("[SESSION] Symbol not tradable on NXT today", "account", account, "symbol", code)
		return false
	case exchange.KindNotTradingDay:
		e.state.EndDay()
		e.logger.Warn("[SESSION] Not a trading day, standing down", "account", account, "symbol", code)
		return true
	case exchange.KindMarketNotOpen:
		e.state.LatchCooldown(now.In(types.KST).Hour())
		e.logger.Warn("[SESSION] Market not open, cooling down for the hour", "account", account, "symbol", code)
		return true
	default:
		e.logger.Error("[RECONCILE] Order failed", "account", account, "symbol", code, "venue", venue, "error", err)
		return false
	}
}
