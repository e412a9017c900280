// Package domain provides core domain models and types for the backtest engine.
package domain

import (
	"strings"
	"time"
)

// Side represents the direction of an order or trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusExecuted  OrderStatus = "EXECUTED"
	StatusRejected  OrderStatus = "REJECTED"
	StatusCancelled OrderStatus = "CANCELLED"
	// StatusPartial is reserved for partial fills. The simulator fills
	// all-or-nothing, so this status is never produced today.
	StatusPartial OrderStatus = "PARTIAL"
)

// Exchange suffixes for A-share symbols.
const (
	SuffixShanghai = ".SH"
	SuffixShenzhen = ".SZ"
)

// ExchangeOf returns the exchange suffix of a symbol ("SH", "SZ") or "" if unknown.
func ExchangeOf(symbol string) string {
	switch {
	case strings.HasSuffix(symbol, SuffixShanghai):
		return "SH"
	case strings.HasSuffix(symbol, SuffixShenzhen):
		return "SZ"
	default:
		return ""
	}
}

// IsSTName reports whether a security name marks the stock as "special
// treatment" (tighter ±5% daily price limit).
func IsSTName(name string) bool {
	return strings.Contains(strings.ToUpper(name), "ST")
}

// DailyBar is one symbol's OHLCV record for a single trading day.
// Price fields are positive when present; Indicators carries precomputed
// factors (ma5, rsi14, macd, volume_ma20, ...) keyed by name. Callers must
// handle missing indicator keys explicitly.
type DailyBar struct {
	Date      string  `json:"date"` // YYYY-MM-DD
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	PreClose  float64 `json:"pre_close"`
	Volume    float64 `json:"volume"`
	Amount    float64 `json:"amount"`
	Suspended bool    `json:"suspended,omitempty"`
	IsST      bool    `json:"is_st,omitempty"`

	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// Indicator returns a named precomputed indicator value if present.
func (b DailyBar) Indicator(name string) (float64, bool) {
	v, ok := b.Indicators[name]
	return v, ok
}

// MarketDay maps symbol to that symbol's bar for one trading day.
// The engine always passes the current day's MarketDay; there is no look-ahead.
type MarketDay map[string]DailyBar

// DailyFrame is a dated, ascending sequence of bars for one symbol.
type DailyFrame struct {
	Symbol string     `json:"symbol"`
	Name   string     `json:"name,omitempty"`
	Bars   []DailyBar `json:"bars"`
}

// BarOn returns the bar for the exact date, or the most recent bar on or
// before it. Returns false when no bar exists on or before the date.
func (f *DailyFrame) BarOn(date string) (DailyBar, bool) {
	// Bars are sorted ascending by date; scan from the back.
	for i := len(f.Bars) - 1; i >= 0; i-- {
		if f.Bars[i].Date <= date {
			return f.Bars[i], true
		}
	}
	return DailyBar{}, false
}

// Order is mutable until it reaches a terminal status; after that no field
// changes. Quantities are in shares.
type Order struct {
	ID            string      `json:"id"`
	Symbol        string      `json:"symbol"`
	Side          Side        `json:"side"`
	RequestedQty  int64       `json:"requested_qty"`
	RequestedPx   float64     `json:"requested_price"`
	Date          string      `json:"date"` // YYYY-MM-DD order date
	Status        OrderStatus `json:"status"`
	ExecutedQty   int64       `json:"executed_qty,omitempty"`
	ExecutedPx    float64     `json:"executed_price,omitempty"`
	Commission    float64     `json:"commission,omitempty"`
	StampTax      float64     `json:"stamp_tax,omitempty"`
	TransferFee   float64     `json:"transfer_fee,omitempty"`
	RejectReason  string      `json:"reject_reason,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	ForcedByRisk  bool        `json:"forced_by_risk,omitempty"`
	ForcedReason  string      `json:"forced_reason,omitempty"`
}

// Terminal reports whether the order reached a final status.
func (o *Order) Terminal() bool {
	return o.Status != StatusPending
}

// Trade is the immutable record of one executed order.
//
// NetCashDelta sign convention: BUY is negative (qty*price + commission +
// transfer fee leaves the account), SELL is positive (qty*price - commission
// - stamp tax - transfer fee enters it). The transfer fee is folded into
// NetCashDelta but tracked separately from Commission.
type Trade struct {
	ID           string  `json:"id"`
	OrderID      string  `json:"order_id"`
	Symbol       string  `json:"symbol"`
	Side         Side    `json:"side"`
	Qty          int64   `json:"qty"`
	Price        float64 `json:"price"`
	Commission   float64 `json:"commission"`
	StampTax     float64 `json:"stamp_tax"`
	TransferFee  float64 `json:"transfer_fee"`
	NetCashDelta float64 `json:"net_cash_delta"`
	TradeDate    string  `json:"trade_date"`
}

// Position is one held symbol. Qty is always > 0 while the position exists
// and remains a multiple of the buy unit for positions built from BUY fills.
type Position struct {
	Symbol           string  `json:"symbol"`
	Qty              int64   `json:"qty"`
	AvgCost          float64 `json:"avg_cost"`
	MarketValue      float64 `json:"market_value"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	UnrealizedPnLPct float64 `json:"unrealized_pnl_pct"`
	EntryDate        string  `json:"entry_date"`
	LastUpdate       string  `json:"last_update"`
}

// PortfolioSnapshot is the end-of-day portfolio state record.
//
// Invariants: TotalValue == Cash + PositionsValue; CumulativeReturn ==
// (TotalValue - initial cash) / initial cash; Drawdown <= 0.
type PortfolioSnapshot struct {
	Date             string              `json:"date"`
	TotalValue       float64             `json:"total_value"`
	Cash             float64             `json:"cash"`
	PositionsValue   float64             `json:"positions_value"`
	PositionCount    int                 `json:"position_count"`
	DailyReturn      float64             `json:"daily_return"`
	CumulativeReturn float64             `json:"cumulative_return"`
	Drawdown         float64             `json:"drawdown"`
	Positions        map[string]Position `json:"positions"`
}

// Signal is a strategy's intent for one symbol on one day.
type Signal struct {
	Action string  `json:"action"` // "buy" or "sell", case-insensitive
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Weight float64 `json:"weight,omitempty"` // target weight for buys, (0, 1]
	Qty    int64   `json:"qty,omitempty"`    // explicit quantity for sells, 0 = full position
	Reason string  `json:"reason,omitempty"`
}

// NormalizedAction lowercases the signal action for comparison.
func (s Signal) NormalizedAction() string {
	return strings.ToLower(strings.TrimSpace(s.Action))
}

// PortfolioSummary is the read-only portfolio view handed to strategies.
// Positions are cloned by value; mutating the map does not affect the engine.
type PortfolioSummary struct {
	Date           string              `json:"date"`
	TotalValue     float64             `json:"total_value"`
	Cash           float64             `json:"cash"`
	PositionsValue float64             `json:"positions_value"`
	PositionCount  int                 `json:"position_count"`
	MaxDrawdown    float64             `json:"max_drawdown"`
	InitialCash    float64             `json:"initial_cash"`
	Positions      map[string]Position `json:"positions"`
}

// HasPosition reports whether the summary holds the symbol.
func (p PortfolioSummary) HasPosition(symbol string) bool {
	_, ok := p.Positions[symbol]
	return ok
}

// DayUpdate is the payload emitted to the optional realtime callback after
// each day's snapshot commits.
type DayUpdate struct {
	Date         string            `json:"date"`
	Summary      PortfolioSummary  `json:"summary"`
	Snapshot     PortfolioSnapshot `json:"snapshot"`
	RecentTrades []Trade           `json:"recent_trades"`
}
