package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"kiwoomapp/internal/types"
)

// MockBroker implements Broker for testing without real trades.
// Placed orders rest in the open-order book until cancelled.
type MockBroker struct {
	logger      *slog.Logger
	mu          sync.RWMutex
	holdings    []types.Holding
	open        []types.OpenOrder
	orders      []OrderRequest
	cancels     []CancelRequest
	daily       map[string][]types.Bar
	minutes     map[string][]types.Bar
	upperLimits map[string]float64
	prices      map[string]float64
	basePrice   map[string]float64
	rejects     map[string]ErrorKind // symbol -> kind, "" for every symbol
	shouldFail  bool
	failMessage string
}

// MockBrokerOption configures the mock broker
type MockBrokerOption func(*MockBroker)

// WithHoldings sets the initial positions
func WithHoldings(h ...types.Holding) MockBrokerOption {
	return func(m *MockBroker) {
		m.holdings = append(m.holdings, h...)
	}
}

// WithOpenOrders sets the initial resting orders
func WithOpenOrders(o ...types.OpenOrder) MockBrokerOption {
	return func(m *MockBroker) {
		m.open = append(m.open, o...)
	}
}

// WithDailyBars sets the daily chart for a symbol
func WithDailyBars(symbol string, bars []types.Bar) MockBrokerOption {
	return func(m *MockBroker) {
		m.daily[symbol] = bars
	}
}

// WithMinuteBars sets the minute chart for a symbol
func WithMinuteBars(symbol string, bars []types.Bar) MockBrokerOption {
	return func(m *MockBroker) {
		m.minutes[symbol] = bars
	}
}

// WithUpperLimit sets a symbol's price ceiling
func WithUpperLimit(symbol string, price float64) MockBrokerOption {
	return func(m *MockBroker) {
		m.upperLimits[symbol] = price
	}
}

// WithPrice sets a symbol's current price
func WithPrice(symbol string, price float64) MockBrokerOption {
	return func(m *MockBroker) {
		m.prices[symbol] = price
	}
}

// WithBasePrice sets the price synthetic charts are generated around
func WithBasePrice(symbol string, price float64) MockBrokerOption {
	return func(m *MockBroker) {
		m.basePrice[symbol] = price
	}
}

// WithReject makes orders for symbol fail with a decoded rejection.
// An empty symbol rejects every order.
func WithReject(symbol string, kind ErrorKind) MockBrokerOption {
	return func(m *MockBroker) {
		m.rejects[symbol] = kind
	}
}

// WithFailure makes account polling fail with a transport error
func WithFailure(msg string) MockBrokerOption {
	return func(m *MockBroker) {
		m.shouldFail = true
		m.failMessage = msg
	}
}

// NewMockBroker creates a new mock broker for testing
func NewMockBroker(logger *slog.Logger, opts ...MockBrokerOption) *MockBroker {
	m := &MockBroker{
		logger:      logger,
		daily:       make(map[string][]types.Bar),
		minutes:     make(map[string][]types.Bar),
		upperLimits: make(map[string]float64),
		prices:      make(map[string]float64),
		basePrice:   make(map[string]float64),
		rejects:     make(map[string]ErrorKind),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// PlaceOrder records the order and rests it in the open-order book
func (m *MockBroker) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.orders = append(m.orders, req)

	if kind, ok := m.rejectFor(req.Symbol); ok {
		err := &BrokerError{Kind: kind, Code: "MOCK", Message: "rejected by mock"}
		m.logger.Error("[MOCK] Order rejected (configured)",
			"symbol", req.Symbol,
			"side", req.Side,
			"kind", kind,
		)
		return nil, err
	}

	orderID := uuid.NewString()
	m.open = append(m.open, types.OpenOrder{
		Code:       req.Symbol,
		Side:       req.Side,
		Qty:        req.Qty,
		LimitPrice: req.Price,
		Venue:      req.Venue,
		OrderID:    orderID,
		Time:       time.Now().In(types.KST).Format("150405"),
	})

	m.logger.Info("[MOCK] Order placed",
		"order_id", orderID,
		"symbol", req.Symbol,
		"side", req.Side,
		"venue", req.Venue,
		"qty", req.Qty,
		"price", req.Price,
	)

	return &OrderResult{OrderID: orderID, Code: "0"}, nil
}

func (m *MockBroker) rejectFor(symbol string) (ErrorKind, bool) {
	if kind, ok := m.rejects[symbol]; ok {
		return kind, true
	}
	kind, ok := m.rejects[""]
	return kind, ok
}

// CancelOrder removes the order from the open-order book
func (m *MockBroker) CancelOrder(ctx context.Context, req CancelRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancels = append(m.cancels, req)
	for i, o := range m.open {
		if o.OrderID == req.OrderID {
			m.open = append(m.open[:i:i], m.open[i+1:]...)
			m.logger.Info("[MOCK] Order cancelled", "order_id", req.OrderID, "symbol", req.Symbol)
			return nil
		}
	}
	return fmt.Errorf("order %s: %w", req.OrderID, ErrNotFound)
}

// Holdings returns a copy of the positions
func (m *MockBroker) Holdings(ctx context.Context) ([]types.Holding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.shouldFail {
		return nil, fmt.Errorf("%s", m.failMessage)
	}
	out := make([]types.Holding, len(m.holdings))
	copy(out, m.holdings)
	return out, nil
}

// OpenOrders returns a copy of the resting orders
func (m *MockBroker) OpenOrders(ctx context.Context) ([]types.OpenOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.shouldFail {
		return nil, fmt.Errorf("%s", m.failMessage)
	}
	out := make([]types.OpenOrder, len(m.open))
	copy(out, m.open)
	return out, nil
}

// DailyBars returns the configured chart or a synthetic one
func (m *MockBroker) DailyBars(ctx context.Context, symbol string, asOf time.Time) ([]types.Bar, error) {
	m.mu.RLock()
	bars, ok := m.daily[symbol]
	base := m.basePrice[symbol]
	m.mu.RUnlock()

	if ok {
		return bars, nil
	}
	return syntheticBars(base, 120, 24*time.Hour, asOf), nil
}

// MinuteBars returns the configured chart or a synthetic one
func (m *MockBroker) MinuteBars(ctx context.Context, symbol string) ([]types.Bar, error) {
	m.mu.RLock()
	bars, ok := m.minutes[symbol]
	base := m.basePrice[symbol]
	m.mu.RUnlock()

	if ok {
		return bars, nil
	}
	return syntheticBars(base, 416, time.Minute, time.Now()), nil
}

// UpperLimit returns the configured ceiling, or ErrNotFound
func (m *MockBroker) UpperLimit(ctx context.Context, symbol string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.upperLimits[symbol]; ok {
		return p, nil
	}
	return 0, ErrNotFound
}

// CurrentPrice returns the configured price, else the last daily close
func (m *MockBroker) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.RLock()
	p, ok := m.prices[symbol]
	m.mu.RUnlock()
	if ok {
		return p, nil
	}

	bars, err := m.DailyBars(ctx, symbol, time.Now())
	if err != nil || len(bars) == 0 {
		return 0, ErrNotFound
	}
	return bars[len(bars)-1].Close, nil
}

// SetPrice changes a symbol's current price (for testing)
func (m *MockBroker) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

// Close is a no-op for the mock broker
func (m *MockBroker) Close() error {
	m.logger.Info("[MOCK] Broker closed")
	return nil
}

// syntheticBars generates a deterministic OHLCV series ending at end
func syntheticBars(basePrice float64, limit int, interval time.Duration, end time.Time) []types.Bar {
	if basePrice == 0 {
		basePrice = 10000
	}
	bars := make([]types.Bar, limit)
	for i := 0; i < limit; i++ {
		idx := limit - 1 - i
		variation := basePrice * 0.02 * float64((i*7)%100-50) / 50
		open := basePrice + variation
		close := open * (1 + 0.002*float64((i*13)%100-50)/50)
		volume := 1000.0 + float64((i*17)%500)
		bars[idx] = types.Bar{
			Time:   end.Add(-time.Duration(i) * interval),
			Open:   open,
			High:   open * 1.005,
			Low:    open * 0.995,
			Close:  close,
			Volume: volume,
			Value:  volume * close,
		}
	}
	return bars
}

// SetHoldings replaces the positions (for testing)
func (m *MockBroker) SetHoldings(h []types.Holding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holdings = append([]types.Holding(nil), h...)
}

// SetOpenOrders replaces the resting orders (for testing)
func (m *MockBroker) SetOpenOrders(o []types.OpenOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = append([]types.OpenOrder(nil), o...)
}

// GetOrders returns all submitted orders (for testing)
func (m *MockBroker) GetOrders() []OrderRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orders := make([]OrderRequest, len(m.orders))
	copy(orders, m.orders)
	return orders
}

// GetCancels returns all cancel requests (for testing)
func (m *MockBroker) GetCancels() []CancelRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cancels := make([]CancelRequest, len(m.cancels))
	copy(cancels, m.cancels)
	return cancels
}

// ClearOrders clears the order and cancel history (for testing)
func (m *MockBroker) ClearOrders() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = nil
	m.cancels = nil
}
