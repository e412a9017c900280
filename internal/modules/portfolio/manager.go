// Package portfolio owns the mutable portfolio state of a backtest run:
// cash, positions, the snapshot history and the risk-limit checks that feed
// forced-sell decisions back to the engine.
package portfolio

import (
	"math"
	"sort"

	"github.com/quantlab/ashare-backtest/internal/domain"
	"github.com/rs/zerolog"
)

// estimatedCommissionRate is the round-trip fee estimate subtracted from the
// target value before sizing a new position.
const estimatedCommissionRate = 0.0003

// Config holds the portfolio risk limits.
type Config struct {
	MaxSinglePositionPct  float64 // concentration limit as fraction of total value
	MaxTotalPositions     int
	StopLossPct           float64 // magnitude; a -6% PnL triggers at 0.06
	TakeProfitPct         float64 // magnitude
	MaxDrawdownLimit      float64 // magnitude
	MinHoldingTradingDays int     // 0 disables the holding-period gate
	CashBufferPct         float64
	MinPositionValue      float64
	BuyUnit               int64
}

// DefaultConfig returns the baseline risk limits.
func DefaultConfig() Config {
	return Config{
		MaxSinglePositionPct:  0.10,
		MaxTotalPositions:     20,
		StopLossPct:           0.06,
		TakeProfitPct:         0.12,
		MaxDrawdownLimit:      0.20,
		MinHoldingTradingDays: 0,
		CashBufferPct:         0.05,
		MinPositionValue:      10_000,
		BuyUnit:               100,
	}
}

// Risk violation reasons.
const (
	RiskStopLoss      = "stop_loss"
	RiskTakeProfit    = "take_profit"
	RiskConcentration = "concentration"
	RiskMaxDrawdown   = "max_drawdown"

	// PortfolioSymbol marks portfolio-level violations that do not map to
	// a single position.
	PortfolioSymbol = "PORTFOLIO"
)

// Violation is one risk-limit breach surfaced to the engine. The engine, not
// this manager, decides to create forced-sell orders.
type Violation struct {
	Symbol string
	Reason string
}

// Manager owns cash, positions and snapshots. None of its operations fail;
// they only refuse.
type Manager struct {
	log zerolog.Logger
	cfg Config

	initialCash float64
	cash        float64
	positions   map[string]*domain.Position
	snapshots   []domain.PortfolioSnapshot

	peakValue   float64
	maxDrawdown float64 // most negative drawdown seen

	totalTrades   int
	winningTrades int
	losingTrades  int

	// Trading days observed by the engine, in order. Used to interpret
	// MinHoldingTradingDays over trading days rather than calendar days.
	dayIndex map[string]int
	dayCount int

	// Set when a portfolio-level drawdown violation has been emitted in the
	// current snapshot cycle; cleared by Snapshot.
	drawdownFlagged bool
}

// NewManager creates a portfolio manager with the given starting cash.
func NewManager(initialCash float64, cfg Config, log zerolog.Logger) *Manager {
	return &Manager{
		log:         log.With().Str("component", "portfolio").Logger(),
		cfg:         cfg,
		initialCash: initialCash,
		cash:        initialCash,
		positions:   make(map[string]*domain.Position),
		peakValue:   initialCash,
		dayIndex:    make(map[string]int),
	}
}

// ObserveTradingDay records a trading day in the holding-period cache. The
// engine calls this once per day, in ascending order.
func (m *Manager) ObserveTradingDay(date string) {
	if _, seen := m.dayIndex[date]; seen {
		return
	}
	m.dayIndex[date] = m.dayCount
	m.dayCount++
}

// ApplyTrade applies an executed trade to cash and positions.
//
// BUY into an existing position re-weights the average cost; SELL of the
// full quantity closes the position and settles the realized PnL against the
// win/loss counters; a partial SELL leaves the average cost unchanged. A SELL
// with no position is ignored and a SELL beyond the held quantity is clamped,
// with proceeds scaled to the applied quantity; cash never moves for shares
// the portfolio does not hold.
func (m *Manager) ApplyTrade(trade domain.Trade) {
	pos, held := m.positions[trade.Symbol]

	qty := trade.Qty
	cashDelta := trade.NetCashDelta
	if trade.Side == domain.SideSell {
		if !held {
			m.log.Warn().
				Str("symbol", trade.Symbol).
				Msg("Sell trade for symbol with no position")
			return
		}
		if qty > pos.Qty {
			m.log.Warn().
				Str("symbol", trade.Symbol).
				Int64("trade_qty", qty).
				Int64("held_qty", pos.Qty).
				Msg("Sell qty exceeds held qty, clamping")
			cashDelta = cashDelta * float64(pos.Qty) / float64(qty)
			qty = pos.Qty
		}
	}

	m.cash += cashDelta
	m.totalTrades++

	switch trade.Side {
	case domain.SideBuy:
		if held {
			oldCost := float64(pos.Qty) * pos.AvgCost
			newCost := float64(trade.Qty) * trade.Price
			pos.Qty += trade.Qty
			pos.AvgCost = (oldCost + newCost) / float64(pos.Qty)
			pos.LastUpdate = trade.TradeDate
		} else {
			m.positions[trade.Symbol] = &domain.Position{
				Symbol:      trade.Symbol,
				Qty:         trade.Qty,
				AvgCost:     trade.Price,
				MarketValue: float64(trade.Qty) * trade.Price,
				EntryDate:   trade.TradeDate,
				LastUpdate:  trade.TradeDate,
			}
		}

	case domain.SideSell:
		if qty >= pos.Qty {
			realized := (trade.Price - pos.AvgCost) * float64(pos.Qty)
			if realized > 0 {
				m.winningTrades++
			} else {
				m.losingTrades++
			}
			delete(m.positions, trade.Symbol)
			m.log.Debug().
				Str("symbol", trade.Symbol).
				Float64("realized_pnl", realized).
				Msg("Position closed")
		} else {
			pos.Qty -= qty
			pos.MarketValue = float64(pos.Qty) * trade.Price
			pos.LastUpdate = trade.TradeDate
		}
	}
}

// MarkToMarket refreshes market value and unrealized PnL of every held
// position present in the day's market. Idempotent for a given MarketDay.
func (m *Manager) MarkToMarket(market domain.MarketDay, date string) {
	for symbol, pos := range m.positions {
		bar, ok := market[symbol]
		if !ok || bar.Close <= 0 {
			continue
		}
		pos.MarketValue = float64(pos.Qty) * bar.Close
		pos.UnrealizedPnL = (bar.Close - pos.AvgCost) * float64(pos.Qty)
		cost := pos.AvgCost * float64(pos.Qty)
		if cost > 0 {
			pos.UnrealizedPnLPct = pos.UnrealizedPnL / cost
		}
		pos.LastUpdate = date
	}
}

// RiskCheck scans held positions for limit breaches, in deterministic symbol
// order. Per position at most one violation is emitted per day, stop-loss
// taking precedence over take-profit, then concentration. A portfolio-level
// max-drawdown breach is emitted once per snapshot cycle.
func (m *Manager) RiskCheck(market domain.MarketDay, date string) []Violation {
	var violations []Violation
	totalValue := m.TotalValue()

	for _, symbol := range m.sortedPositionSymbols() {
		pos := m.positions[symbol]
		if _, ok := market[symbol]; !ok {
			continue
		}
		pnlPct := pos.UnrealizedPnLPct

		if m.cfg.MinHoldingTradingDays > 0 &&
			m.elapsedTradingDays(pos.EntryDate, date) < m.cfg.MinHoldingTradingDays {
			// Inside the minimum holding window only a severe loss may
			// force an exit.
			if pnlPct <= -1.5*m.cfg.StopLossPct {
				violations = append(violations, Violation{Symbol: symbol, Reason: RiskStopLoss})
				m.log.Warn().
					Str("symbol", symbol).
					Float64("pnl_pct", pnlPct).
					Msg("Emergency stop inside minimum holding window")
			}
			continue
		}

		switch {
		case pnlPct <= -m.cfg.StopLossPct:
			violations = append(violations, Violation{Symbol: symbol, Reason: RiskStopLoss})
		case pnlPct >= m.cfg.TakeProfitPct:
			violations = append(violations, Violation{Symbol: symbol, Reason: RiskTakeProfit})
		case totalValue > 0 && pos.MarketValue/totalValue > m.cfg.MaxSinglePositionPct:
			violations = append(violations, Violation{Symbol: symbol, Reason: RiskConcentration})
		}
	}

	if !m.drawdownFlagged && math.Abs(m.maxDrawdown) > m.cfg.MaxDrawdownLimit {
		violations = append(violations, Violation{Symbol: PortfolioSymbol, Reason: RiskMaxDrawdown})
		m.drawdownFlagged = true
	}

	if len(violations) > 0 {
		m.log.Info().
			Str("date", date).
			Int("violations", len(violations)).
			Msg("Risk check found violations")
	}
	return violations
}

// Snapshot commits the end-of-day portfolio state and returns it. Positions
// are cloned by value so later mutations cannot leak into history.
func (m *Manager) Snapshot(date string) domain.PortfolioSnapshot {
	positionsValue := m.positionsValue()
	totalValue := m.cash + positionsValue

	dailyReturn := 0.0
	if n := len(m.snapshots); n > 0 {
		prev := m.snapshots[n-1].TotalValue
		if prev > 0 {
			dailyReturn = (totalValue - prev) / prev
		}
	}

	if totalValue > m.peakValue {
		m.peakValue = totalValue
	}
	drawdown := 0.0
	if m.peakValue > 0 {
		drawdown = (totalValue - m.peakValue) / m.peakValue
	}
	if drawdown < m.maxDrawdown {
		m.maxDrawdown = drawdown
	}

	snapshot := domain.PortfolioSnapshot{
		Date:             date,
		TotalValue:       totalValue,
		Cash:             m.cash,
		PositionsValue:   positionsValue,
		PositionCount:    len(m.positions),
		DailyReturn:      dailyReturn,
		CumulativeReturn: (totalValue - m.initialCash) / m.initialCash,
		Drawdown:         drawdown,
		Positions:        m.clonePositions(),
	}
	m.snapshots = append(m.snapshots, snapshot)
	m.drawdownFlagged = false

	return snapshot
}

// SizePosition converts a target weight into a buy quantity rounded down to
// the buy unit, after reserving an estimated commission. Returns 0 when the
// target is too small for one lot.
func (m *Manager) SizePosition(targetWeight, price float64) int64 {
	if price <= 0 || targetWeight <= 0 {
		return 0
	}
	targetValue := m.TotalValue() * targetWeight
	adjusted := targetValue - targetValue*estimatedCommissionRate
	lots := int64(math.Floor(adjusted / price / float64(m.cfg.BuyUnit)))
	if lots <= 0 {
		return 0
	}
	return lots * m.cfg.BuyUnit
}

// CanOpenNew reports whether the portfolio may open another position: below
// the position cap and with enough cash beyond the buffer for a minimum
// position.
func (m *Manager) CanOpenNew() bool {
	if len(m.positions) >= m.cfg.MaxTotalPositions {
		return false
	}
	return m.cash*(1-m.cfg.CashBufferPct) >= m.cfg.MinPositionValue
}

// Position returns a copy of the held position for symbol.
func (m *Manager) Position(symbol string) (domain.Position, bool) {
	pos, ok := m.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Cash returns the current cash balance.
func (m *Manager) Cash() float64 { return m.cash }

// InitialCash returns the starting cash balance.
func (m *Manager) InitialCash() float64 { return m.initialCash }

// MaxDrawdown returns the most negative drawdown seen so far.
func (m *Manager) MaxDrawdown() float64 { return m.maxDrawdown }

// WinLossCounts returns (winning, losing) closed-position counts.
func (m *Manager) WinLossCounts() (int, int) { return m.winningTrades, m.losingTrades }

// TotalValue returns cash plus marked position value.
func (m *Manager) TotalValue() float64 {
	return m.cash + m.positionsValue()
}

// Snapshots returns the snapshot history in date order.
func (m *Manager) Snapshots() []domain.PortfolioSnapshot {
	return m.snapshots
}

// Summary builds the read-only view handed to strategies and callbacks.
func (m *Manager) Summary(date string) domain.PortfolioSummary {
	positionsValue := m.positionsValue()
	return domain.PortfolioSummary{
		Date:           date,
		TotalValue:     m.cash + positionsValue,
		Cash:           m.cash,
		PositionsValue: positionsValue,
		PositionCount:  len(m.positions),
		MaxDrawdown:    m.maxDrawdown,
		InitialCash:    m.initialCash,
		Positions:      m.clonePositions(),
	}
}

// Reset returns the manager to its initial state.
func (m *Manager) Reset() {
	m.cash = m.initialCash
	m.positions = make(map[string]*domain.Position)
	m.snapshots = nil
	m.peakValue = m.initialCash
	m.maxDrawdown = 0
	m.totalTrades = 0
	m.winningTrades = 0
	m.losingTrades = 0
	m.dayIndex = make(map[string]int)
	m.dayCount = 0
	m.drawdownFlagged = false
}

func (m *Manager) positionsValue() float64 {
	total := 0.0
	for _, pos := range m.positions {
		total += pos.MarketValue
	}
	return total
}

func (m *Manager) clonePositions() map[string]domain.Position {
	clone := make(map[string]domain.Position, len(m.positions))
	for symbol, pos := range m.positions {
		clone[symbol] = *pos
	}
	return clone
}

func (m *Manager) sortedPositionSymbols() []string {
	symbols := make([]string, 0, len(m.positions))
	for symbol := range m.positions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// elapsedTradingDays counts trading days between entry and today using the
// observed-day cache. Unknown dates count as outside the holding window.
func (m *Manager) elapsedTradingDays(entryDate, today string) int {
	entryIdx, okEntry := m.dayIndex[entryDate]
	todayIdx, okToday := m.dayIndex[today]
	if !okEntry || !okToday {
		return m.cfg.MinHoldingTradingDays
	}
	return todayIdx - entryIdx
}
