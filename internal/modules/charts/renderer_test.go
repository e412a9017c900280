package charts

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantlab/ashare-backtest/internal/modules/performance"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func sampleChartData(days int) performance.ChartData {
	data := performance.ChartData{Benchmark: performance.BenchmarkSeries{IsSimulated: true}}
	day := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	value := 1_000_000.0
	for i := 0; i < days; i++ {
		date := day.Format("2006-01-02")
		value *= 1 + 0.001*float64(i%5-2)
		data.Equity = append(data.Equity, performance.EquityPoint{Date: date, PortfolioValue: value})
		data.Drawdown = append(data.Drawdown, performance.DrawdownPoint{Date: date, Drawdown: -0.01 * float64(i%4)})
		day = day.AddDate(0, 0, 1)
	}
	return data
}

func TestEquityCurvePNG(t *testing.T) {
	png, err := NewRenderer(zerolog.Nop()).EquityCurve(sampleChartData(30))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, pngMagic))
}

func TestEquityCurveWithBenchmarkOverlay(t *testing.T) {
	data := sampleChartData(30)
	data.Benchmark.IsSimulated = false
	for i, p := range data.Equity {
		data.Benchmark.Points = append(data.Benchmark.Points, performance.BenchmarkPoint{
			Date:  p.Date,
			Value: 4000 + float64(i),
		})
	}

	png, err := NewRenderer(zerolog.Nop()).EquityCurve(data)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, pngMagic))
}

func TestDrawdownCurvePNG(t *testing.T) {
	data := sampleChartData(30)
	png, err := NewRenderer(zerolog.Nop()).DrawdownCurve(data.Drawdown)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, pngMagic))
}

func TestRenderAllWritesFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewRenderer(zerolog.Nop()).RenderAll(dir, sampleChartData(30)))

	for _, name := range []string{"equity_curve.png", "drawdown.png"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Greater(t, info.Size(), int64(0), fmt.Sprintf("%s should not be empty", name))
	}
}

func TestTooFewPointsIsError(t *testing.T) {
	r := NewRenderer(zerolog.Nop())
	_, err := r.EquityCurve(sampleChartData(1))
	assert.Error(t, err)
	_, err = r.DrawdownCurve(nil)
	assert.Error(t, err)
}

func TestRenderAllSkipsShortSeries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewRenderer(zerolog.Nop()).RenderAll(dir, sampleChartData(1)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
