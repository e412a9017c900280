// Package charts renders the analyzer's chart series as PNG files.
package charts

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/quantlab/ashare-backtest/internal/modules/performance"
	"github.com/rs/zerolog"
)

// Renderer renders equity and drawdown charts into a run directory.
type Renderer struct {
	log zerolog.Logger
}

// NewRenderer creates a chart renderer.
func NewRenderer(log zerolog.Logger) *Renderer {
	return &Renderer{log: log.With().Str("component", "charts").Logger()}
}

// RenderAll writes equity_curve.png and drawdown.png into dir. Series with
// fewer than two points are skipped, not an error.
func (r *Renderer) RenderAll(dir string, data performance.ChartData) error {
	if len(data.Equity) >= 2 {
		png, err := r.EquityCurve(data)
		if err != nil {
			return err
		}
		if err := writePNG(filepath.Join(dir, "equity_curve.png"), png); err != nil {
			return err
		}
	}
	if len(data.Drawdown) >= 2 {
		png, err := r.DrawdownCurve(data.Drawdown)
		if err != nil {
			return err
		}
		if err := writePNG(filepath.Join(dir, "drawdown.png"), png); err != nil {
			return err
		}
	}
	r.log.Info().Str("dir", dir).Msg("Charts rendered")
	return nil
}

// EquityCurve renders portfolio value over time, with the benchmark overlaid
// when the series is real (simulated fallbacks are not drawn).
func (r *Renderer) EquityCurve(data performance.ChartData) ([]byte, error) {
	if len(data.Equity) < 2 {
		return nil, fmt.Errorf("need at least 2 equity points, got %d", len(data.Equity))
	}

	xValues := make([]time.Time, len(data.Equity))
	yValues := make([]float64, len(data.Equity))
	for i, p := range data.Equity {
		xValues[i] = parseDate(p.Date)
		yValues[i] = p.PortfolioValue
	}

	series := []chart.Series{
		chart.TimeSeries{
			Name: "Portfolio Value",
			Style: chart.Style{
				StrokeColor: drawing.ColorFromHex("2563eb"),
				StrokeWidth: 2.5,
			},
			XValues: xValues,
			YValues: yValues,
		},
	}

	if !data.Benchmark.IsSimulated && len(data.Benchmark.Points) == len(data.Equity) {
		// Rebase the benchmark to the starting portfolio value so both lines
		// share a scale.
		base := data.Benchmark.Points[0].Value
		start := data.Equity[0].PortfolioValue
		benchY := make([]float64, len(data.Benchmark.Points))
		for i, p := range data.Benchmark.Points {
			benchY[i] = start * p.Value / base
		}
		series = append(series, chart.TimeSeries{
			Name: "Benchmark",
			Style: chart.Style{
				StrokeColor:     drawing.ColorFromHex("9ca3af"),
				StrokeWidth:     1.5,
				StrokeDashArray: []float64{5.0, 3.0},
			},
			XValues: xValues,
			YValues: benchY,
		})
	}

	graph := chart.Chart{
		Title:  "Equity Curve",
		Width:  900,
		Height: 400,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		XAxis: chart.XAxis{
			TickPosition:   chart.TickPositionBetweenTicks,
			ValueFormatter: dateFormatter,
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.0fk", f/1000)
				}
				return ""
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.LegendLeft(&graph)}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("equity chart render failed: %w", err)
	}
	return buf.Bytes(), nil
}

// DrawdownCurve renders the drawdown series as a red line chart.
func (r *Renderer) DrawdownCurve(points []performance.DrawdownPoint) ([]byte, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("need at least 2 drawdown points, got %d", len(points))
	}

	xValues := make([]time.Time, len(points))
	yValues := make([]float64, len(points))
	for i, p := range points {
		xValues[i] = parseDate(p.Date)
		yValues[i] = p.Drawdown * 100
	}

	graph := chart.Chart{
		Title:  "Drawdown",
		Width:  900,
		Height: 300,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		XAxis: chart.XAxis{
			TickPosition:   chart.TickPositionBetweenTicks,
			ValueFormatter: dateFormatter,
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.1f%%", f)
				}
				return ""
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name: "Drawdown",
				Style: chart.Style{
					StrokeColor: drawing.ColorFromHex("dc2626"),
					StrokeWidth: 2.0,
				},
				XValues: xValues,
				YValues: yValues,
			},
		},
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("drawdown chart render failed: %w", err)
	}
	return buf.Bytes(), nil
}

func dateFormatter(v interface{}) string {
	if t, ok := v.(float64); ok {
		return chart.TimeFromFloat64(t).Format("2006-01")
	}
	return ""
}

func parseDate(date string) time.Time {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}
	}
	return t
}

func writePNG(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
