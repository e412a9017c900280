// Package engine orchestrates the day-stepping backtest loop over the
// simulator, order book, portfolio and analyzer.
package engine

import (
	"context"
	"fmt"

	"github.com/quantlab/ashare-backtest/internal/config"
	"github.com/quantlab/ashare-backtest/internal/domain"
	"github.com/quantlab/ashare-backtest/internal/modules/orders"
	"github.com/quantlab/ashare-backtest/internal/modules/performance"
	"github.com/quantlab/ashare-backtest/internal/modules/portfolio"
	"github.com/quantlab/ashare-backtest/internal/modules/simulator"
	"github.com/quantlab/ashare-backtest/internal/utils"
	"github.com/rs/zerolog"
)

// State is the engine lifecycle state.
type State string

const (
	StateIdle    State = "IDLE"
	StateReady   State = "READY"
	StateArmed   State = "ARMED"
	StateRunning State = "RUNNING"
	StateDone    State = "DONE"
	StateErrored State = "ERRORED"
)

// recentTradeWindow bounds the trade tail carried on realtime updates.
const recentTradeWindow = 10

// Engine owns all run state. Subcomponents are private; strategies and
// callbacks only ever receive values.
type Engine struct {
	cfg  *config.Config
	log  zerolog.Logger
	data domain.DataManager

	strategy domain.Strategy
	callback domain.RealtimeCallback

	sim       *simulator.Simulator
	orders    *orders.Manager
	portfolio *portfolio.Manager
	analyzer  *performance.Analyzer

	market       map[string]*domain.DailyFrame
	tradingDates []string
	currentDate  string
	state        State
}

// New creates an idle engine bound to a data manager.
func New(cfg *config.Config, data domain.DataManager, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		log:      log.With().Str("component", "engine").Logger(),
		data:     data,
		analyzer: performance.NewAnalyzer(log),
		state:    StateIdle,
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return e.state
}

// SetRealtimeCallback registers the per-day update emitter. It runs
// synchronously after each snapshot and must not mutate engine state.
func (e *Engine) SetRealtimeCallback(cb domain.RealtimeCallback) {
	e.callback = cb
}

// SetStrategy installs and initializes the strategy, moving IDLE to READY.
func (e *Engine) SetStrategy(strategy domain.Strategy) error {
	if e.state != StateIdle {
		return fmt.Errorf("cannot set strategy in state %s", e.state)
	}

	err := strategy.Initialize(domain.StrategyContext{
		InitialCash: e.cfg.InitialCash,
		StartDate:   e.cfg.StartDate,
		EndDate:     e.cfg.EndDate,
	})
	if err != nil {
		return fmt.Errorf("strategy initialization failed: %w", err)
	}

	e.strategy = strategy
	e.state = StateReady
	e.log.Info().Str("strategy", strategy.Info().Name).Msg("Strategy installed")
	return nil
}

// LoadData materializes the market window and builds the run-scoped
// subcomponents, moving READY to ARMED. With a nil symbol list the universe
// comes from the configured symbol override, the strategy's index (when it
// provides one), or the configured benchmark index, in that order.
func (e *Engine) LoadData(symbols []string) error {
	if e.state != StateReady {
		return fmt.Errorf("cannot load data in state %s", e.state)
	}

	timer := utils.NewTimer("load_data", e.log)
	defer timer.Stop()

	if len(symbols) == 0 && len(e.cfg.Symbols) > 0 {
		symbols = e.cfg.Symbols
	}
	if len(symbols) == 0 {
		indexCode := e.cfg.Benchmark
		if provider, ok := e.strategy.(domain.IndexProvider); ok {
			indexCode = provider.IndexCode()
		}
		var err error
		symbols, err = e.data.LoadUniverse(indexCode)
		if err != nil {
			return fmt.Errorf("failed to load universe for %s: %w", indexCode, err)
		}
	}

	scorer, _ := e.strategy.(domain.SymbolScorer)
	market, dates, err := e.data.LoadMarket(symbols, e.cfg.StartDate, e.cfg.EndDate, e.cfg.MaxSymbols, scorer)
	if err != nil {
		return fmt.Errorf("failed to load market data: %w", err)
	}
	if len(dates) == 0 {
		return fmt.Errorf("no trading dates in window %s..%s", e.cfg.StartDate, e.cfg.EndDate)
	}

	e.market = market
	e.tradingDates = dates

	simCfg := simulator.DefaultConfig()
	simCfg.CommissionRate = e.cfg.CommissionRate
	simCfg.MinCommission = e.cfg.MinCommission
	simCfg.StampTaxRate = e.cfg.StampTaxRate
	simCfg.TransferFeeRate = e.cfg.TransferFeeRate
	simCfg.MinTransferFee = e.cfg.MinTransferFee
	simCfg.SlippageRate = e.cfg.SlippageRate
	simCfg.PriceLimitPct = e.cfg.PriceLimitPct
	simCfg.STPriceLimitPct = e.cfg.STPriceLimitPct
	simCfg.BuyUnit = e.cfg.BuyUnit
	e.sim = simulator.New(simCfg, dates, e.log)
	e.orders = orders.NewManager(e.sim, e.log)
	e.portfolio = portfolio.NewManager(e.cfg.InitialCash, portfolio.Config{
		MaxSinglePositionPct:  e.cfg.MaxSinglePositionPct,
		MaxTotalPositions:     e.cfg.MaxTotalPositions,
		StopLossPct:           e.cfg.StopLossPct,
		TakeProfitPct:         e.cfg.TakeProfitPct,
		MaxDrawdownLimit:      e.cfg.MaxDrawdownLimit,
		MinHoldingTradingDays: e.cfg.MinHoldingTradingDays,
		CashBufferPct:         e.cfg.CashBufferPct,
		MinPositionValue:      e.cfg.MinPositionValue,
		BuyUnit:               e.cfg.BuyUnit,
	}, e.log)

	e.state = StateArmed
	e.log.Info().
		Int("symbols", len(market)).
		Int("trading_days", len(dates)).
		Msg("Engine armed")
	return nil
}

// Run steps every trading day in order and compiles the result, moving ARMED
// to RUNNING and then DONE. A strategy error terminates the run in ERRORED.
// Cancelling the context aborts between days; the last committed snapshot is
// the final state.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if e.state != StateArmed {
		return nil, fmt.Errorf("cannot run in state %s", e.state)
	}
	e.state = StateRunning
	timer := utils.NewTimer("run", e.log)
	defer timer.Stop()

	for _, date := range e.tradingDates {
		if ctx.Err() != nil {
			e.log.Warn().Str("date", date).Msg("Run aborted between days")
			break
		}
		if err := e.runDay(date); err != nil {
			e.state = StateErrored
			e.log.Error().Err(err).Str("date", date).Msg("Run terminated")
			return nil, err
		}
	}

	e.state = StateDone
	result := e.compileResult()
	e.log.Info().
		Str("run_id", result.RunID).
		Float64("total_return", result.Performance.Basic.TotalReturn).
		Int("trades", len(result.Trades)).
		Msg("Backtest complete")
	return result, nil
}

// runDay executes the fixed intra-day ordering: mark-to-market, risk check,
// forced sells, strategy signals, order execution, trade application,
// snapshot, callback.
func (e *Engine) runDay(date string) error {
	e.currentDate = date
	e.portfolio.ObserveTradingDay(date)

	marketDay := e.projectDay(date)

	e.portfolio.MarkToMarket(marketDay, date)

	violations := e.portfolio.RiskCheck(marketDay, date)
	e.queueForcedSells(violations, marketDay, date)

	// Forced sells are queued first so the strategy sees them as pending
	// intent, but every order fills in the same end-of-day batch.
	signals, err := e.strategy.GenerateSignals(date, marketDay, e.portfolio.Summary(date))
	if err != nil {
		return fmt.Errorf("strategy failed on %s: %w", date, err)
	}
	e.queueSignals(signals, marketDay, date)

	trades := e.orders.ExecutePending(date, marketDay)
	for _, trade := range trades {
		e.portfolio.ApplyTrade(trade)
		e.strategy.OnTradeExecuted(trade)
	}

	snapshot := e.portfolio.Snapshot(date)

	if e.callback != nil {
		allTrades := e.orders.Trades()
		recent := allTrades
		if len(recent) > recentTradeWindow {
			recent = recent[len(recent)-recentTradeWindow:]
		}
		e.callback(domain.DayUpdate{
			Date:         date,
			Summary:      e.portfolio.Summary(date),
			Snapshot:     snapshot,
			RecentTrades: recent,
		})
	}
	return nil
}

// projectDay extracts each symbol's bar dated exactly today. Symbols without
// a bar today are absent from the projection; there is no look-ahead and no
// backward fill inside the loop.
func (e *Engine) projectDay(date string) domain.MarketDay {
	day := make(domain.MarketDay, len(e.market))
	for symbol, frame := range e.market {
		bar, ok := frame.BarOn(date)
		if ok && bar.Date == date {
			day[symbol] = bar
		}
	}
	return day
}

// queueForcedSells turns position-level risk violations into full-quantity
// SELL orders at today's close, at most one per symbol per day.
func (e *Engine) queueForcedSells(violations []portfolio.Violation, marketDay domain.MarketDay, date string) {
	queued := make(map[string]bool)
	for _, v := range violations {
		if v.Symbol == portfolio.PortfolioSymbol {
			e.log.Warn().Str("date", date).Msg("Portfolio drawdown limit breached")
			continue
		}
		if queued[v.Symbol] || e.orders.PendingForSymbol(v.Symbol, domain.SideSell) {
			continue
		}
		pos, held := e.portfolio.Position(v.Symbol)
		if !held {
			continue
		}
		bar, ok := marketDay[v.Symbol]
		if !ok {
			continue
		}

		id := e.orders.CreateOrder(v.Symbol, domain.SideSell, pos.Qty, bar.Close, date)
		e.orders.MarkForced(id, v.Reason)
		queued[v.Symbol] = true

		e.log.Info().
			Str("symbol", v.Symbol).
			Str("reason", v.Reason).
			Int64("qty", pos.Qty).
			Msg("Forced sell queued")
	}
}

// queueSignals converts the strategy's intents into orders. BUY signals are
// gated by the open-position policy and sized to the buy unit; SELL signals
// are clamped to the held quantity.
func (e *Engine) queueSignals(signals []domain.Signal, marketDay domain.MarketDay, date string) {
	for _, signal := range signals {
		bar, hasBar := marketDay[signal.Symbol]
		price := signal.Price
		if price <= 0 && hasBar {
			price = bar.Close
		}

		switch signal.NormalizedAction() {
		case "buy":
			if !e.portfolio.CanOpenNew() {
				continue
			}
			weight := signal.Weight
			if weight <= 0 {
				weight = e.cfg.MaxSinglePositionPct
			}
			qty := e.portfolio.SizePosition(weight, price)
			if qty == 0 {
				continue
			}
			e.orders.CreateOrder(signal.Symbol, domain.SideBuy, qty, price, date)

		case "sell":
			pos, held := e.portfolio.Position(signal.Symbol)
			if !held {
				continue
			}
			// A pending SELL (typically a forced sell queued this day)
			// already liquidates the position; a second order would
			// double-sell the same shares.
			if e.orders.PendingForSymbol(signal.Symbol, domain.SideSell) {
				continue
			}
			qty := pos.Qty
			if signal.Qty > 0 && signal.Qty < qty {
				qty = signal.Qty
			}
			e.orders.CreateOrder(signal.Symbol, domain.SideSell, qty, price, date)

		default:
			e.log.Warn().
				Str("action", signal.Action).
				Str("symbol", signal.Symbol).
				Msg("Ignoring signal with unknown action")
		}
	}
}

// Reset returns the engine to IDLE, dropping all run state including the
// installed strategy.
func (e *Engine) Reset() {
	if e.orders != nil {
		e.orders.Reset()
	}
	if e.portfolio != nil {
		e.portfolio.Reset()
	}
	e.strategy = nil
	e.sim = nil
	e.orders = nil
	e.portfolio = nil
	e.market = nil
	e.tradingDates = nil
	e.currentDate = ""
	e.state = StateIdle
	e.log.Info().Msg("Engine reset")
}
