package reports

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quantlab/ashare-backtest/internal/engine"
)

// writeMarkdown renders the human-readable analysis report.
func (w *Writer) writeMarkdown(dir, strategy string, result *engine.Result) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# Backtest Analysis Report: %s\n\n", result.Strategy.Name)
	fmt.Fprintf(&b, "- Run ID: `%s`\n", result.RunID)
	fmt.Fprintf(&b, "- Generated: %s\n", result.GeneratedAt)
	fmt.Fprintf(&b, "- Window: %s to %s\n", result.Config.StartDate, result.Config.EndDate)
	fmt.Fprintf(&b, "- Initial cash: %.2f CNY\n", result.Config.InitialCash)
	fmt.Fprintf(&b, "- Benchmark: %s\n\n", result.Config.Benchmark)

	basic := result.Performance.Basic
	b.WriteString("## Returns and Risk\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Total return | %.2f%% |\n", basic.TotalReturn*100)
	fmt.Fprintf(&b, "| Annualized return | %.2f%% |\n", basic.AnnualReturn*100)
	fmt.Fprintf(&b, "| Volatility (ann.) | %.2f%% |\n", basic.Volatility*100)
	fmt.Fprintf(&b, "| Sharpe | %.2f |\n", basic.Sharpe)
	fmt.Fprintf(&b, "| Max drawdown | %.2f%% |\n", basic.MaxDrawdown*100)
	fmt.Fprintf(&b, "| Calmar | %.2f |\n", basic.Calmar)
	fmt.Fprintf(&b, "| Trading days | %d |\n\n", basic.TradingDays)

	adv := result.Performance.Advanced
	b.WriteString("## Downside and Tail Risk\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Sortino | %.2f |\n", adv.Sortino)
	fmt.Fprintf(&b, "| VaR (5%%) | %.2f%% |\n", adv.VaR5*100)
	fmt.Fprintf(&b, "| CVaR (5%%) | %.2f%% |\n", adv.CVaR5*100)
	fmt.Fprintf(&b, "| Max consecutive losing days | %d |\n", adv.MaxConsecutiveLosses)
	fmt.Fprintf(&b, "| Winning days ratio | %.2f%% |\n", adv.WinningDaysRatio*100)
	fmt.Fprintf(&b, "| Avg win/loss ratio | %.2f |\n", adv.AvgWinLossRatio)
	if adv.HasBenchmark {
		fmt.Fprintf(&b, "| Beta | %.2f |\n", adv.Beta)
		fmt.Fprintf(&b, "| Alpha (ann.) | %.2f%% |\n", adv.Alpha*100)
		fmt.Fprintf(&b, "| Information ratio | %.2f |\n", adv.InformationRatio)
	}
	b.WriteString("\n")

	trades := result.Performance.Trades
	trading := result.Trading
	b.WriteString("## Trading Activity\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Orders (total/executed/rejected/cancelled) | %d / %d / %d / %d |\n",
		trading.TotalOrders, trading.ExecutedOrders, trading.RejectedOrders, trading.CancelledOrders)
	fmt.Fprintf(&b, "| Trades (buy/sell) | %d / %d |\n", trades.BuyTrades, trades.SellTrades)
	fmt.Fprintf(&b, "| Turnover | %.2f CNY |\n", trading.TotalTurnover)
	fmt.Fprintf(&b, "| Commission | %.2f CNY |\n", trades.TotalCommission)
	fmt.Fprintf(&b, "| Stamp tax | %.2f CNY |\n", trades.TotalStampTax)
	fmt.Fprintf(&b, "| Transfer fee | %.2f CNY |\n", trades.TotalTransferFee)
	fmt.Fprintf(&b, "| Monthly trade frequency | %.2f |\n", trades.MonthlyTradeFrequency)
	fmt.Fprintf(&b, "| Avg holding period | %.1f days |\n\n", trades.AvgHoldingPeriodDays)

	b.WriteString("## Final Portfolio\n\n")
	fmt.Fprintf(&b, "- Total value: %.2f CNY (cash %.2f, positions %.2f)\n",
		result.Portfolio.TotalValue, result.Portfolio.Cash, result.Portfolio.PositionsValue)
	fmt.Fprintf(&b, "- Open positions: %d\n", result.Portfolio.PositionCount)
	if result.Charts.Benchmark.IsSimulated {
		b.WriteString("\n> Benchmark series is SIMULATED (no index data was available).\n")
	}

	path := filepath.Join(dir, strategy+"_comprehensive_analysis_report.md")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
