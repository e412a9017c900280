// Package simulator enforces Chinese A-share trading rules and produces
// deterministic fills for the backtest engine.
package simulator

import (
	"math"

	"github.com/quantlab/ashare-backtest/internal/domain"
	"github.com/rs/zerolog"
)

// Rejection reasons surfaced on orders. These are data, not errors.
const (
	ReasonNoMarketData  = "no market data"
	ReasonSuspended     = "suspended"
	ReasonNonTradingDay = "non-trading day"
	ReasonBadBuyUnit    = "buy qty not multiple of unit"
	ReasonNonPositive   = "non-positive qty"
	ReasonLimitUp       = "limit-up, cannot buy"
	ReasonLimitDown     = "limit-down, cannot sell"
)

// Config holds the tunable fee and limit parameters.
type Config struct {
	PriceLimitPct   float64 // regular daily limit, fraction of pre_close
	STPriceLimitPct float64 // ST stock daily limit
	BuyUnit         int64   // minimum and step for BUY quantities
	CommissionRate  float64
	MinCommission   float64
	StampTaxRate    float64 // SELL only
	TransferFeeRate float64 // .SH only
	MinTransferFee  float64
	SlippageRate    float64 // adverse, both sides
	LimitEpsilon    float64 // tolerance when comparing close to the limit price
}

// DefaultConfig returns the standard A-share fee table.
func DefaultConfig() Config {
	return Config{
		PriceLimitPct:   0.10,
		STPriceLimitPct: 0.05,
		BuyUnit:         100,
		CommissionRate:  0.0001,
		MinCommission:   5.0,
		StampTaxRate:    0.001,
		TransferFeeRate: 0.00002,
		MinTransferFee:  1.0,
		SlippageRate:    0.001,
		LimitEpsilon:    0.001,
	}
}

// Simulator validates orders against market rules and fills them at the
// day's close adjusted by slippage. Using close as the fill price keeps the
// simulation free of intraday look-ahead.
type Simulator struct {
	cfg      Config
	calendar map[string]bool // trading dates for the run window
	log      zerolog.Logger
}

// New creates a simulator for the given trading calendar.
func New(cfg Config, tradingDates []string, log zerolog.Logger) *Simulator {
	calendar := make(map[string]bool, len(tradingDates))
	for _, d := range tradingDates {
		calendar[d] = true
	}
	return &Simulator{
		cfg:      cfg,
		calendar: calendar,
		log:      log.With().Str("component", "simulator").Logger(),
	}
}

// PriceLimits returns the day's upper and lower price bounds computed from
// pre_close, rounded to two decimals. ST stocks use the tighter limit.
func (s *Simulator) PriceLimits(preClose float64, isST bool) (upper, lower float64) {
	limit := s.cfg.PriceLimitPct
	if isST {
		limit = s.cfg.STPriceLimitPct
	}
	upper = round2(preClose * (1 + limit))
	lower = round2(preClose * (1 - limit))
	return upper, lower
}

// Validate checks an order against the day's bar. It returns ok=false and a
// rejection reason without mutating the order.
func (s *Simulator) Validate(order *domain.Order, bar domain.DailyBar, hasBar bool, date string) (bool, string) {
	if !hasBar {
		return false, ReasonNoMarketData
	}
	if bar.Suspended {
		return false, ReasonSuspended
	}
	if len(s.calendar) > 0 && !s.calendar[date] {
		return false, ReasonNonTradingDay
	}
	if order.RequestedQty <= 0 {
		return false, ReasonNonPositive
	}

	// Without a pre_close there is no limit reference; such bars trade
	// without limit checks rather than pinning both bounds at zero.
	hasLimits := bar.PreClose > 0
	upper, lower := s.PriceLimits(bar.PreClose, bar.IsST)

	switch order.Side {
	case domain.SideBuy:
		if order.RequestedQty%s.cfg.BuyUnit != 0 {
			return false, ReasonBadBuyUnit
		}
		if hasLimits && bar.Close >= upper*(1-s.cfg.LimitEpsilon) {
			return false, ReasonLimitUp
		}
	case domain.SideSell:
		if hasLimits && bar.Close <= lower*(1+s.cfg.LimitEpsilon) {
			return false, ReasonLimitDown
		}
	}

	return true, ""
}

// Execute validates the order and, when valid, fills it in full at the close
// adjusted adversely by slippage. The order is mutated to its terminal state.
func (s *Simulator) Execute(order *domain.Order, bar domain.DailyBar, hasBar bool, date string) {
	ok, reason := s.Validate(order, bar, hasBar, date)
	if !ok {
		order.Status = domain.StatusRejected
		order.RejectReason = reason
		s.log.Debug().
			Str("order_id", order.ID).
			Str("symbol", order.Symbol).
			Str("side", string(order.Side)).
			Str("reason", reason).
			Msg("Order rejected")
		return
	}

	fillPrice := s.fillPrice(order.Side, bar.Close)
	amount := float64(order.RequestedQty) * fillPrice

	order.ExecutedQty = order.RequestedQty
	order.ExecutedPx = fillPrice
	order.Commission = s.Commission(amount)
	order.TransferFee = s.TransferFee(order.Symbol, amount)
	if order.Side == domain.SideSell {
		order.StampTax = s.StampTax(amount)
	}
	order.Status = domain.StatusExecuted

	s.log.Debug().
		Str("order_id", order.ID).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Int64("qty", order.ExecutedQty).
		Float64("price", order.ExecutedPx).
		Msg("Order executed")
}

// fillPrice applies slippage adversely: BUY fills above close, SELL below.
func (s *Simulator) fillPrice(side domain.Side, close float64) float64 {
	if side == domain.SideBuy {
		return close * (1 + s.cfg.SlippageRate)
	}
	return close * (1 - s.cfg.SlippageRate)
}

// Commission computes the commission on an executed amount, subject to the
// exchange minimum.
func (s *Simulator) Commission(amount float64) float64 {
	return math.Max(amount*s.cfg.CommissionRate, s.cfg.MinCommission)
}

// StampTax computes the sell-side stamp tax.
func (s *Simulator) StampTax(amount float64) float64 {
	return amount * s.cfg.StampTaxRate
}

// TransferFee computes the Shanghai transfer fee. Shenzhen symbols pay none.
func (s *Simulator) TransferFee(symbol string, amount float64) float64 {
	if domain.ExchangeOf(symbol) != "SH" {
		return 0
	}
	return math.Max(amount*s.cfg.TransferFeeRate, s.cfg.MinTransferFee)
}

// TotalCost returns the cash impact of an executed order: negative for buys
// (money out), positive for sells (money in).
func (s *Simulator) TotalCost(order *domain.Order) float64 {
	amount := float64(order.ExecutedQty) * order.ExecutedPx
	if order.Side == domain.SideBuy {
		return -(amount + order.Commission + order.TransferFee)
	}
	return amount - order.Commission - order.StampTax - order.TransferFee
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
