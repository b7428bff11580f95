package types

import (
	"time"
)

// KST is the exchange's wall-clock zone. Korea has no DST so a fixed zone is exact.
var KST = time.FixedZone("KST", 9*60*60)

// Side represents buy or sell
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Venue is one of the two markets a symbol can be routed to
type Venue string

const (
	VenueKRX Venue = "KRX" // primary market
	VenueNXT Venue = "NXT" // alternate venue (pre/post market)
)

// Phase is the trading-day state the session machine is in
type Phase string

const (
	PhaseOff      Phase = "OFF"
	PhaseNew      Phase = "NEW"
	PhaseNXT      Phase = "NXT"
	PhaseNXTToKRX Phase = "NXT_TO_KRX"
	PhaseKRX      Phase = "KRX"
	PhasePost     Phase = "POST"
)

// AllPhases lists every phase, used for gauge resets
var AllPhases = []Phase{PhaseOff, PhaseNew, PhaseNXT, PhaseNXTToKRX, PhaseKRX, PhasePost}

// AccountMode controls which reconciliation passes run for an account
type AccountMode string

const (
	ModeNone AccountMode = "NONE"
	ModeBuy  AccountMode = "BUY"
	ModeSell AccountMode = "SELL"
	ModeBoth AccountMode = "BOTH"
)

// Valid reports whether m is one of the known modes
func (m AccountMode) Valid() bool {
	switch m {
	case ModeNone, ModeBuy, ModeSell, ModeBoth:
		return true
	}
	return false
}

// Buys reports whether the buy pass may run
func (m AccountMode) Buys() bool { return m == ModeBuy || m == ModeBoth }

// Sells reports whether the sell pass may run
func (m AccountMode) Sells() bool { return m == ModeSell || m == ModeBoth }

// Behavior tags stored on watchlist entries
const (
	TagCL  = "CL"  // cycling ladder buy
	TagSCL = "SCL" // sold out of a cycling ladder
	TagPCL = "PCL"
	TagHCL = "HCL"
)

// IsLadderBuy reports whether a behavior tag takes part in the buy pass
func IsLadderBuy(tag string) bool {
	switch tag {
	case TagCL, TagPCL, TagHCL:
		return true
	}
	return false
}

// TradingDay identifies one exchange session date
type TradingDay string

// DayOf returns the trading day containing t (in KST)
func DayOf(t time.Time) TradingDay {
	return TradingDay(t.In(KST).Format("20060102"))
}

// Time returns midnight KST of the trading day
func (d TradingDay) Time() time.Time {
	t, err := time.ParseInLocation("20060102", string(d), KST)
	if err != nil {
		return time.Time{}
	}
	return t
}

// WatchItem is one watchlist entry
type WatchItem struct {
	Code       string  `json:"code" yaml:"code"`
	Name       string  `json:"name" yaml:"name"`
	Behavior   string  `json:"behavior" yaml:"behavior"`       // CL, SCL, PCL, HCL
	Color      string  `json:"color" yaml:"color"`             // selects the ladder rung
	Amount     float64 `json:"amount" yaml:"amount"`           // budget per tranche
	SellPrice  float64 `json:"sellprice" yaml:"sellprice"`     // fixed sell price
	SellRate   float64 `json:"sellrate" yaml:"sellrate"`       // percent over purchase price
	SellGap    float64 `json:"sellgap" yaml:"sellgap"`         // fraction of 2*gap over the post-peak low
	WatchSince string  `json:"watch_since" yaml:"watch_since"` // YYYYMMDD
}

// Holding is one row of the position snapshot
type Holding struct {
	Code          string  `json:"code"`
	Name          string  `json:"name"`
	TradableQty   int64   `json:"tradable_qty"`
	HeldQty       int64   `json:"held_qty"`
	PurchasePrice float64 `json:"purchase_price"`
	CurrentPrice  float64 `json:"current_price"`
	ProfitRate    float64 `json:"profit_rate"`
}

// OpenOrder is one unexecuted order from the order snapshot
type OpenOrder struct {
	Code         string  `json:"code"`
	Side         Side    `json:"side"`
	Qty          int64   `json:"qty"`
	LimitPrice   float64 `json:"limit_price"`
	CurrentPrice float64 `json:"current_price"`
	Venue        Venue   `json:"exchange"`
	OrderID      string  `json:"order_id"`
	Time         string  `json:"time"`
}

// Bar is an OHLCV candle. Value is traded value when the source provides it.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
	Value  float64   `json:"value"`
}

// GapRecord is the cached daily ladder for a symbol
type GapRecord struct {
	High         float64   `json:"high16"`
	Low          float64   `json:"low16"`
	CurrentPrice float64   `json:"current_price"`
	Gap          float64   `json:"gap"`
	Ladder       []float64 `json:"ladder"`
}

// ReportRow is one output line of the bounce backtest
type ReportRow struct {
	Symbol      string
	Name        string
	Success     bool
	SpikeDate   string
	TouchDate   string
	TouchOffset int
	Value       float64
	HighToPrev  float64
	HighToLow   float64
	MA          [5]float64 // 5, 10, 20, 60, 120
	MARatios    []float64  // pairwise ratios MA[i]/MA[j] for i<j
}

// StateView is the engine state exposed to the dashboard
type StateView struct {
	Day        TradingDay                `json:"day"`
	Phase      Phase                     `json:"phase"`
	DayActive  bool                      `json:"day_active"`
	CooldownAt int                       `json:"cooldown_hour"`
	Modes      map[string]AccountMode    `json:"modes"`
	Ledger     map[string]map[string]int `json:"ledger"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}
