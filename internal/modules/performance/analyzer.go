// Package performance derives return and risk statistics from the immutable
// snapshot history and trade log of a backtest run.
package performance

import (
	"math"
	"sort"
	"time"

	"github.com/quantlab/ashare-backtest/internal/domain"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

const (
	defaultRiskFreeRate   = 0.03
	tradingDaysPerYear    = 252.0
	fallbackHoldingPeriod = 30.0 // days, when no round trip can be paired
)

// BasicMetrics are the headline return and risk numbers.
type BasicMetrics struct {
	TotalReturn  float64 `json:"total_return"`
	AnnualReturn float64 `json:"annual_return"`
	Volatility   float64 `json:"volatility"`
	Sharpe       float64 `json:"sharpe"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	Calmar       float64 `json:"calmar"`
	TradingDays  int     `json:"trading_days"`
}

// AdvancedMetrics cover downside and tail risk plus optional benchmark
// regression results.
type AdvancedMetrics struct {
	Sortino              float64 `json:"sortino"`
	VaR5                 float64 `json:"var_5"`
	CVaR5                float64 `json:"cvar_5"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losing_days"`
	WinningDaysRatio     float64 `json:"winning_days_ratio"`
	AvgWinLossRatio      float64 `json:"avg_win_loss_ratio"`
	Beta                 float64 `json:"beta,omitempty"`
	Alpha                float64 `json:"alpha,omitempty"`
	InformationRatio     float64 `json:"information_ratio,omitempty"`
	HasBenchmark         bool    `json:"has_benchmark"`
}

// TradeMetrics aggregate the trade log.
type TradeMetrics struct {
	TotalTrades           int     `json:"total_trades"`
	BuyTrades             int     `json:"buy_trades"`
	SellTrades            int     `json:"sell_trades"`
	TotalCommission       float64 `json:"total_commission"`
	TotalStampTax         float64 `json:"total_stamp_tax"`
	TotalTransferFee      float64 `json:"total_transfer_fee"`
	MonthlyTradeFrequency float64 `json:"monthly_trade_frequency"`
	AvgHoldingPeriodDays  float64 `json:"avg_holding_period_days"`
}

// Report is the full derived projection over snapshots and trades.
type Report struct {
	Basic    BasicMetrics    `json:"basic"`
	Advanced AdvancedMetrics `json:"advanced"`
	Trades   TradeMetrics    `json:"trades"`
	IsEmpty  bool            `json:"is_empty"`
}

// Analyzer computes performance reports. Stateless apart from configuration.
type Analyzer struct {
	log          zerolog.Logger
	riskFreeRate float64
}

// NewAnalyzer creates an analyzer with the standard 3% risk-free rate.
func NewAnalyzer(log zerolog.Logger) *Analyzer {
	return &Analyzer{
		log:          log.With().Str("component", "performance").Logger(),
		riskFreeRate: defaultRiskFreeRate,
	}
}

// Analyze derives the full report. Empty snapshot history yields a report
// with IsEmpty set and zeroed metrics, never an error.
func (a *Analyzer) Analyze(snapshots []domain.PortfolioSnapshot, trades []domain.Trade, benchmark *domain.DailyFrame) Report {
	if len(snapshots) == 0 {
		return Report{IsEmpty: true}
	}

	returns := dailyReturns(snapshots)
	basic := a.basicMetrics(snapshots, returns)
	advanced := a.advancedMetrics(snapshots, returns, basic, benchmark)
	tradeMetrics := a.tradeMetrics(snapshots, trades)

	a.log.Debug().
		Float64("total_return", basic.TotalReturn).
		Float64("sharpe", basic.Sharpe).
		Float64("max_drawdown", basic.MaxDrawdown).
		Msg("Performance report computed")

	return Report{Basic: basic, Advanced: advanced, Trades: tradeMetrics}
}

// dailyReturns extracts the return series, skipping day 0 whose return is 0
// by definition.
func dailyReturns(snapshots []domain.PortfolioSnapshot) []float64 {
	if len(snapshots) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(snapshots)-1)
	for _, s := range snapshots[1:] {
		returns = append(returns, s.DailyReturn)
	}
	return returns
}

func (a *Analyzer) basicMetrics(snapshots []domain.PortfolioSnapshot, returns []float64) BasicMetrics {
	m := BasicMetrics{
		TotalReturn: snapshots[len(snapshots)-1].CumulativeReturn,
		TradingDays: len(snapshots),
	}

	// Annualizing a single day compounds day-one noise to the power 252;
	// a one-day window reports 0.
	tradingYears := float64(len(snapshots)) / tradingDaysPerYear
	if len(snapshots) >= 2 && m.TotalReturn > -1 {
		m.AnnualReturn = math.Pow(1+m.TotalReturn, 1/tradingYears) - 1
	}

	if len(returns) >= 2 {
		m.Volatility = stat.StdDev(returns, nil) * math.Sqrt(tradingDaysPerYear)
	}
	if m.Volatility > 0 {
		m.Sharpe = (m.AnnualReturn - a.riskFreeRate) / m.Volatility
	}

	for _, s := range snapshots {
		if s.Drawdown < m.MaxDrawdown {
			m.MaxDrawdown = s.Drawdown
		}
	}
	if m.MaxDrawdown != 0 {
		m.Calmar = m.AnnualReturn / math.Abs(m.MaxDrawdown)
	}

	return m
}

func (a *Analyzer) advancedMetrics(snapshots []domain.PortfolioSnapshot, returns []float64, basic BasicMetrics, benchmark *domain.DailyFrame) AdvancedMetrics {
	m := AdvancedMetrics{}
	if len(returns) == 0 {
		return m
	}

	var negatives, positives []float64
	consecutive, maxConsecutive := 0, 0
	for _, r := range returns {
		switch {
		case r < 0:
			negatives = append(negatives, r)
			consecutive++
			if consecutive > maxConsecutive {
				maxConsecutive = consecutive
			}
		case r > 0:
			positives = append(positives, r)
			consecutive = 0
		default:
			consecutive = 0
		}
	}
	m.MaxConsecutiveLosses = maxConsecutive
	m.WinningDaysRatio = float64(len(positives)) / float64(len(returns))

	if len(negatives) >= 2 {
		downside := stat.StdDev(negatives, nil) * math.Sqrt(tradingDaysPerYear)
		if downside > 0 {
			m.Sortino = (basic.AnnualReturn - a.riskFreeRate) / downside
		}
	}

	if len(positives) > 0 && len(negatives) > 0 {
		avgWin := stat.Mean(positives, nil)
		avgLoss := stat.Mean(negatives, nil)
		if avgLoss != 0 {
			m.AvgWinLossRatio = avgWin / math.Abs(avgLoss)
		}
	}

	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	m.VaR5 = stat.Quantile(0.05, stat.Empirical, sorted, nil)
	var tail []float64
	for _, r := range sorted {
		if r <= m.VaR5 {
			tail = append(tail, r)
		}
	}
	if len(tail) > 0 {
		m.CVaR5 = stat.Mean(tail, nil)
	}

	if benchmark != nil {
		a.benchmarkMetrics(&m, snapshots, returns, benchmark)
	}

	return m
}

// benchmarkMetrics regresses portfolio returns on aligned benchmark returns.
func (a *Analyzer) benchmarkMetrics(m *AdvancedMetrics, snapshots []domain.PortfolioSnapshot, returns []float64, benchmark *domain.DailyFrame) {
	benchCloses := make(map[string]float64, len(benchmark.Bars))
	for _, bar := range benchmark.Bars {
		benchCloses[bar.Date] = bar.Close
	}

	// Align pairwise on snapshot dates, carrying the benchmark's last known
	// close across gaps.
	var portAligned, benchAligned []float64
	lastClose := 0.0
	for i, s := range snapshots {
		close, ok := benchCloses[s.Date]
		if !ok {
			close = lastClose
		}
		if close <= 0 {
			continue
		}
		if i > 0 && lastClose > 0 {
			portAligned = append(portAligned, s.DailyReturn)
			benchAligned = append(benchAligned, (close-lastClose)/lastClose)
		}
		lastClose = close
	}

	if len(portAligned) < 2 {
		a.log.Debug().Msg("Benchmark series too short for regression")
		return
	}

	alpha, beta := stat.LinearRegression(benchAligned, portAligned, nil, false)
	m.Alpha = alpha * tradingDaysPerYear
	m.Beta = beta
	m.HasBenchmark = true

	excess := make([]float64, len(portAligned))
	for i := range portAligned {
		excess[i] = portAligned[i] - benchAligned[i]
	}
	trackingError := stat.StdDev(excess, nil)
	if trackingError > 0 {
		m.InformationRatio = stat.Mean(excess, nil) / trackingError * math.Sqrt(tradingDaysPerYear)
	}
}

func (a *Analyzer) tradeMetrics(snapshots []domain.PortfolioSnapshot, trades []domain.Trade) TradeMetrics {
	m := TradeMetrics{TotalTrades: len(trades)}
	for _, t := range trades {
		if t.Side == domain.SideBuy {
			m.BuyTrades++
		} else {
			m.SellTrades++
		}
		m.TotalCommission += t.Commission
		m.TotalStampTax += t.StampTax
		m.TotalTransferFee += t.TransferFee
	}

	if len(snapshots) >= 2 && len(trades) > 0 {
		first, errF := time.Parse("2006-01-02", snapshots[0].Date)
		last, errL := time.Parse("2006-01-02", snapshots[len(snapshots)-1].Date)
		if errF == nil && errL == nil {
			spanDays := last.Sub(first).Hours() / 24
			if spanDays > 0 {
				m.MonthlyTradeFrequency = float64(len(trades)) / (spanDays / 30)
			}
		}
	}

	m.AvgHoldingPeriodDays = avgHoldingPeriod(trades)
	return m
}

// fifoLot is an open buy lot awaiting FIFO matching.
type fifoLot struct {
	qty  int64
	date time.Time
}

// avgHoldingPeriod pairs BUY and SELL fills per symbol by FIFO and averages
// the held days, weighted by shares. Falls back to 30 days when nothing can
// be paired.
func avgHoldingPeriod(trades []domain.Trade) float64 {
	lots := make(map[string][]fifoLot)
	var weightedDays, matchedShares float64

	for _, t := range trades {
		date, err := time.Parse("2006-01-02", t.TradeDate)
		if err != nil {
			continue
		}
		switch t.Side {
		case domain.SideBuy:
			lots[t.Symbol] = append(lots[t.Symbol], fifoLot{qty: t.Qty, date: date})
		case domain.SideSell:
			remaining := t.Qty
			queue := lots[t.Symbol]
			for remaining > 0 && len(queue) > 0 {
				lot := &queue[0]
				matched := lot.qty
				if matched > remaining {
					matched = remaining
				}
				days := date.Sub(lot.date).Hours() / 24
				weightedDays += days * float64(matched)
				matchedShares += float64(matched)
				lot.qty -= matched
				remaining -= matched
				if lot.qty == 0 {
					queue = queue[1:]
				}
			}
			lots[t.Symbol] = queue
		}
	}

	if matchedShares == 0 {
		return fallbackHoldingPeriod
	}
	return weightedDays / matchedShares
}
