// Package reports persists run results as JSON, CSV and Markdown artifacts.
package reports

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/quantlab/ashare-backtest/internal/domain"
	"github.com/quantlab/ashare-backtest/internal/engine"
	"github.com/rs/zerolog"
)

// Options selects which artifacts are written.
type Options struct {
	OutputDir       string
	SaveTrades      bool
	SavePositions   bool
	SavePerformance bool
}

// Writer persists one run's artifacts under output/<strategy>/<timestamp>/.
type Writer struct {
	opts Options
	log  zerolog.Logger

	// now is swappable for tests that need a stable directory name.
	now func() time.Time
}

// NewWriter creates an artifact writer.
func NewWriter(opts Options, log zerolog.Logger) *Writer {
	return &Writer{
		opts: opts,
		log:  log.With().Str("component", "reports").Logger(),
		now:  time.Now,
	}
}

// Write persists the selected artifacts and returns the run directory.
func (w *Writer) Write(result *engine.Result) (string, error) {
	strategy := sanitizeName(result.Strategy.Name)
	dir := filepath.Join(w.opts.OutputDir, strategy, w.now().Format("20060102_150405"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}

	if w.opts.SavePerformance {
		if err := w.writeResultJSON(dir, strategy, result); err != nil {
			return dir, err
		}
		if err := w.writeMarkdown(dir, strategy, result); err != nil {
			return dir, err
		}
	}
	if w.opts.SaveTrades {
		if err := w.writeTradesCSV(dir, strategy, result.Trades); err != nil {
			return dir, err
		}
	}
	if w.opts.SavePositions {
		if err := w.writePortfolioCSV(dir, strategy, result.Snapshots); err != nil {
			return dir, err
		}
	}

	w.log.Info().Str("dir", dir).Msg("Run artifacts written")
	return dir, nil
}

func (w *Writer) writeResultJSON(dir, strategy string, result *engine.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	path := filepath.Join(dir, strategy+"_backtest_result.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (w *Writer) writeTradesCSV(dir, strategy string, trades []domain.Trade) error {
	path := filepath.Join(dir, strategy+"_trades.csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	defer cw.Flush()

	header := []string{"trade_id", "order_id", "date", "symbol", "side", "qty",
		"price", "commission", "stamp_tax", "transfer_fee", "net_cash_delta"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, t := range trades {
		row := []string{
			t.ID, t.OrderID, t.TradeDate, t.Symbol, string(t.Side),
			strconv.FormatInt(t.Qty, 10),
			money(t.Price), money(t.Commission), money(t.StampTax),
			money(t.TransferFee), money(t.NetCashDelta),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writePortfolioCSV(dir, strategy string, snapshots []domain.PortfolioSnapshot) error {
	path := filepath.Join(dir, strategy+"_portfolio.csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	defer cw.Flush()

	header := []string{"date", "total_value", "cash", "positions_value",
		"position_count", "daily_return", "cumulative_return", "drawdown"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, s := range snapshots {
		row := []string{
			s.Date, money(s.TotalValue), money(s.Cash), money(s.PositionsValue),
			strconv.Itoa(s.PositionCount),
			ratio(s.DailyReturn), ratio(s.CumulativeReturn), ratio(s.Drawdown),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// money formats a monetary value rounded to two decimals at persistence.
func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// ratio formats a return or drawdown with six decimals.
func ratio(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func sanitizeName(name string) string {
	if name == "" {
		return "strategy"
	}
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, string(filepath.Separator), "_")
	return name
}
