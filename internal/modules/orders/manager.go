// Package orders holds the order book for a backtest run: pending and
// executed orders, and the immutable trade log derived from fills.
package orders

import (
	"fmt"
	"math"
	"time"

	"github.com/quantlab/ashare-backtest/internal/domain"
	"github.com/quantlab/ashare-backtest/internal/modules/simulator"
	"github.com/rs/zerolog"
)

// priceDedupeTolerance collapses duplicate pending orders whose prices differ
// by less than one fen.
const priceDedupeTolerance = 0.01

// TradingSummary aggregates order and fee counts for reporting.
type TradingSummary struct {
	TotalOrders      int     `json:"total_orders"`
	ExecutedOrders   int     `json:"executed_orders"`
	RejectedOrders   int     `json:"rejected_orders"`
	CancelledOrders  int     `json:"cancelled_orders"`
	BuyTrades        int     `json:"buy_trades"`
	SellTrades       int     `json:"sell_trades"`
	TotalCommission  float64 `json:"total_commission"`
	TotalStampTax    float64 `json:"total_stamp_tax"`
	TotalTransferFee float64 `json:"total_transfer_fee"`
	TotalTurnover    float64 `json:"total_turnover"`
}

// Manager owns the order lifecycle. The id sets behind pending, executed and
// other terminal orders are pairwise disjoint; their union is ordersByID.
type Manager struct {
	log zerolog.Logger
	sim *simulator.Simulator

	ordersByID map[string]*domain.Order
	pending    []string // FIFO, order ids
	executed   []string
	trades     []domain.Trade

	// Sequential ids keep replays byte-identical; random ids would break
	// the deterministic-replay guarantee.
	orderSeq int64
	tradeSeq int64
}

// NewManager creates an order manager bound to a simulator.
func NewManager(sim *simulator.Simulator, log zerolog.Logger) *Manager {
	return &Manager{
		log:        log.With().Str("component", "orders").Logger(),
		sim:        sim,
		ordersByID: make(map[string]*domain.Order),
	}
}

// CreateOrder queues a new PENDING order and returns its id. A pending order
// with the same symbol, side and quantity at (almost) the same price is a
// duplicate; the existing id is returned and nothing is created.
func (m *Manager) CreateOrder(symbol string, side domain.Side, qty int64, price float64, date string) string {
	for _, id := range m.pending {
		o := m.ordersByID[id]
		if o.Symbol == symbol && o.Side == side && o.RequestedQty == qty &&
			math.Abs(o.RequestedPx-price) < priceDedupeTolerance {
			m.log.Debug().
				Str("order_id", o.ID).
				Str("symbol", symbol).
				Msg("Duplicate pending order collapsed")
			return o.ID
		}
	}

	m.orderSeq++
	order := &domain.Order{
		ID:           fmt.Sprintf("ORD-%06d", m.orderSeq),
		Symbol:       symbol,
		Side:         side,
		RequestedQty: qty,
		RequestedPx:  price,
		Date:         date,
		Status:       domain.StatusPending,
		CreatedAt:    time.Now(),
	}
	m.ordersByID[order.ID] = order
	m.pending = append(m.pending, order.ID)

	m.log.Debug().
		Str("order_id", order.ID).
		Str("symbol", symbol).
		Str("side", string(side)).
		Int64("qty", qty).
		Float64("price", price).
		Msg("Order created")

	return order.ID
}

// MarkForced tags an order as risk-forced with the violation reason.
func (m *Manager) MarkForced(orderID, reason string) {
	if o, ok := m.ordersByID[orderID]; ok && o.Status == domain.StatusPending {
		o.ForcedByRisk = true
		o.ForcedReason = reason
	}
}

// ExecutePending runs every pending order through the simulator against the
// day's market and returns the trades produced, in queue order. Rejected
// orders leave the pending set but stay in the book with their reason.
func (m *Manager) ExecutePending(date string, market domain.MarketDay) []domain.Trade {
	var dayTrades []domain.Trade

	for _, id := range m.pending {
		order := m.ordersByID[id]
		bar, hasBar := market[order.Symbol]

		m.sim.Execute(order, bar, hasBar, date)

		if order.Status != domain.StatusExecuted {
			continue
		}

		trade := m.tradeFromOrder(order, date)
		m.trades = append(m.trades, trade)
		m.executed = append(m.executed, id)
		dayTrades = append(dayTrades, trade)
	}
	m.pending = m.pending[:0]

	if len(dayTrades) > 0 {
		m.log.Info().
			Str("date", date).
			Int("trades", len(dayTrades)).
			Msg("Pending orders executed")
	}
	return dayTrades
}

// tradeFromOrder builds the immutable trade record for an executed order.
func (m *Manager) tradeFromOrder(order *domain.Order, date string) domain.Trade {
	m.tradeSeq++
	return domain.Trade{
		ID:           fmt.Sprintf("TRD-%06d", m.tradeSeq),
		OrderID:      order.ID,
		Symbol:       order.Symbol,
		Side:         order.Side,
		Qty:          order.ExecutedQty,
		Price:        order.ExecutedPx,
		Commission:   order.Commission,
		StampTax:     order.StampTax,
		TransferFee:  order.TransferFee,
		NetCashDelta: m.sim.TotalCost(order),
		TradeDate:    date,
	}
}

// CancelAllPending cancels every pending order with the given reason.
func (m *Manager) CancelAllPending(reason string) int {
	cancelled := 0
	for _, id := range m.pending {
		order := m.ordersByID[id]
		order.Status = domain.StatusCancelled
		order.RejectReason = reason
		cancelled++
	}
	m.pending = m.pending[:0]

	if cancelled > 0 {
		m.log.Info().Int("count", cancelled).Str("reason", reason).Msg("Pending orders cancelled")
	}
	return cancelled
}

// Order returns an order by id.
func (m *Manager) Order(id string) (*domain.Order, bool) {
	o, ok := m.ordersByID[id]
	return o, ok
}

// PendingCount returns the number of pending orders.
func (m *Manager) PendingCount() int {
	return len(m.pending)
}

// PendingForSymbol reports whether a pending order exists for symbol+side.
func (m *Manager) PendingForSymbol(symbol string, side domain.Side) bool {
	for _, id := range m.pending {
		o := m.ordersByID[id]
		if o.Symbol == symbol && o.Side == side {
			return true
		}
	}
	return false
}

// Trades returns the full trade log in execution order.
func (m *Manager) Trades() []domain.Trade {
	return m.trades
}

// TradesByDateRange returns trades with start <= trade_date <= end.
func (m *Manager) TradesByDateRange(start, end string) []domain.Trade {
	var out []domain.Trade
	for _, t := range m.trades {
		if t.TradeDate >= start && t.TradeDate <= end {
			out = append(out, t)
		}
	}
	return out
}

// TradesBySymbol returns all trades for one symbol.
func (m *Manager) TradesBySymbol(symbol string) []domain.Trade {
	var out []domain.Trade
	for _, t := range m.trades {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	return out
}

// Summary aggregates counts and fee totals across the whole run.
func (m *Manager) Summary() TradingSummary {
	s := TradingSummary{TotalOrders: len(m.ordersByID)}
	for _, o := range m.ordersByID {
		switch o.Status {
		case domain.StatusExecuted:
			s.ExecutedOrders++
		case domain.StatusRejected:
			s.RejectedOrders++
		case domain.StatusCancelled:
			s.CancelledOrders++
		}
	}
	for _, t := range m.trades {
		if t.Side == domain.SideBuy {
			s.BuyTrades++
		} else {
			s.SellTrades++
		}
		s.TotalCommission += t.Commission
		s.TotalStampTax += t.StampTax
		s.TotalTransferFee += t.TransferFee
		s.TotalTurnover += float64(t.Qty) * t.Price
	}
	return s
}

// Reset clears all order and trade state.
func (m *Manager) Reset() {
	m.ordersByID = make(map[string]*domain.Order)
	m.pending = nil
	m.executed = nil
	m.trades = nil
	m.orderSeq = 0
	m.tradeSeq = 0
}
