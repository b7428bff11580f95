package exchange

import (
	"context"
	"time"

	"kiwoomapp/internal/types"
)

// Broker is one brokerage account's order, account and chart API
type Broker interface {
	// PlaceOrder submits a limit order
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	// CancelOrder cancels the remaining quantity of a resting order
	CancelOrder(ctx context.Context, req CancelRequest) error

	// Holdings returns the account's positions
	Holdings(ctx context.Context) ([]types.Holding, error)

	// OpenOrders returns the account's unexecuted orders
	OpenOrders(ctx context.Context) ([]types.OpenOrder, error)

	// DailyBars returns daily candles up to asOf, oldest first
	DailyBars(ctx context.Context, symbol string, asOf time.Time) ([]types.Bar, error)

	// MinuteBars returns recent one-minute candles, oldest first
	MinuteBars(ctx context.Context, symbol string) ([]types.Bar, error)

	// UpperLimit returns the day's maximum legal price for the symbol
	UpperLimit(ctx context.Context, symbol string) (float64, error)

	// CurrentPrice returns the last traded price
	CurrentPrice(ctx context.Context, symbol string) (float64, error)

	// Close cleans up resources
	Close() error
}

// OrderRequest for placing orders
type OrderRequest struct {
	Symbol string
	Side   types.Side
	Venue  types.Venue
	Qty    int64
	Price  float64
}

// OrderResult from order submission
type OrderResult struct {
	OrderID string
	Code    string // broker return code
	Message string
}

// CancelRequest identifies the order to cancel
type CancelRequest struct {
	Symbol  string
	Venue   types.Venue
	OrderID string
	Qty     int64 // 0 cancels the remainder
}
