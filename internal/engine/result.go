package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/quantlab/ashare-backtest/internal/config"
	"github.com/quantlab/ashare-backtest/internal/domain"
	"github.com/quantlab/ashare-backtest/internal/modules/orders"
	"github.com/quantlab/ashare-backtest/internal/modules/performance"
)

// ConfigEcho is the subset of configuration persisted with the result so a
// report is self-describing.
type ConfigEcho struct {
	InitialCash     float64 `json:"initial_cash"`
	StartDate       string  `json:"start_date"`
	EndDate         string  `json:"end_date"`
	CommissionRate  float64 `json:"commission_rate"`
	MinCommission   float64 `json:"min_commission"`
	StampTaxRate    float64 `json:"stamp_tax_rate"`
	TransferFeeRate float64 `json:"transfer_fee_rate"`
	SlippageRate    float64 `json:"slippage_rate"`
	PriceLimitPct   float64 `json:"price_limit_pct"`
	BuyUnit         int64   `json:"buy_unit"`
	StopLossPct     float64 `json:"stop_loss_pct"`
	TakeProfitPct   float64 `json:"take_profit_pct"`
	MaxPositions    int     `json:"max_positions"`
	Benchmark       string  `json:"benchmark"`
	SelectionSeed   int64   `json:"selection_seed"`
}

// Result is the complete output of one run.
type Result struct {
	RunID       string `json:"run_id"`
	GeneratedAt string `json:"generated_at"`

	Config      ConfigEcho                 `json:"config"`
	Strategy    domain.StrategyInfo        `json:"strategy"`
	Performance performance.Report         `json:"performance"`
	Portfolio   domain.PortfolioSummary    `json:"portfolio"`
	Trading     orders.TradingSummary      `json:"trading"`
	Charts      performance.ChartData      `json:"charts"`
	Snapshots   []domain.PortfolioSnapshot `json:"snapshots"`
	Trades      []domain.Trade             `json:"trades"`
}

// compileResult assembles the run result after the loop completes.
func (e *Engine) compileResult() *Result {
	snapshots := e.portfolio.Snapshots()
	trades := e.orders.Trades()
	benchmark := e.benchmarkFrame()

	lastDate := e.cfg.EndDate
	if len(snapshots) > 0 {
		lastDate = snapshots[len(snapshots)-1].Date
	}

	return &Result{
		RunID:       uuid.New().String(),
		GeneratedAt: time.Now().Format(time.RFC3339),
		Config:      echoConfig(e.cfg),
		Strategy:    e.strategy.Info(),
		Performance: e.analyzer.Analyze(snapshots, trades, benchmark),
		Portfolio:   e.portfolio.Summary(lastDate),
		Trading:     e.orders.Summary(),
		Charts:      e.analyzer.ChartData(snapshots, benchmark),
		Snapshots:   snapshots,
		Trades:      trades,
	}
}

// benchmarkFrame resolves the benchmark series: the loaded market when it
// contains the index, otherwise a direct load. A missing benchmark is not an
// error; the analyzer falls back to a marked synthetic series.
func (e *Engine) benchmarkFrame() *domain.DailyFrame {
	if e.cfg.Benchmark == "" {
		return nil
	}
	if frame, ok := e.market[e.cfg.Benchmark]; ok {
		return frame
	}
	frame, err := e.data.LoadSymbol(e.cfg.Benchmark, e.cfg.StartDate, e.cfg.EndDate)
	if err != nil || len(frame.Bars) == 0 {
		e.log.Debug().Str("benchmark", e.cfg.Benchmark).Msg("No benchmark data available")
		return nil
	}
	return frame
}

func echoConfig(cfg *config.Config) ConfigEcho {
	return ConfigEcho{
		InitialCash:     cfg.InitialCash,
		StartDate:       cfg.StartDate,
		EndDate:         cfg.EndDate,
		CommissionRate:  cfg.CommissionRate,
		MinCommission:   cfg.MinCommission,
		StampTaxRate:    cfg.StampTaxRate,
		TransferFeeRate: cfg.TransferFeeRate,
		SlippageRate:    cfg.SlippageRate,
		PriceLimitPct:   cfg.PriceLimitPct,
		BuyUnit:         cfg.BuyUnit,
		StopLossPct:     cfg.StopLossPct,
		TakeProfitPct:   cfg.TakeProfitPct,
		MaxPositions:    cfg.MaxTotalPositions,
		Benchmark:       cfg.Benchmark,
		SelectionSeed:   cfg.SelectionSeed,
	}
}
