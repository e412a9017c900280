package marketdata

import (
	"fmt"
	"sort"
	"testing"

	"github.com/quantlab/ashare-backtest/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, cacheDir string) (*Manager, *Store) {
	t.Helper()
	store := newTestStore(t)
	mgr := NewManager(store, Config{Seed: 42, CacheDir: cacheDir}, zerolog.Nop())
	return mgr, store
}

// lastBarScorer ranks symbols by last close, highest first.
type lastBarScorer struct{}

func (lastBarScorer) ScoreForSelection(symbol string, bar domain.DailyBar) float64 {
	return bar.Close
}

func TestLoadSymbolEnrichesIndicators(t *testing.T) {
	mgr, store := newTestManager(t, "")

	dates := make([]string, 70)
	closes := make([]float64, 70)
	for i := range dates {
		dates[i] = fmt.Sprintf("2023-%02d-%02d", i/28+1, i%28+1)
		closes[i] = 10 + 0.1*float64(i)
	}
	require.NoError(t, store.InsertBars("000001.SZ", sampleBars(dates, closes)))

	frame, err := mgr.LoadSymbol("000001.SZ", "2023-01-01", "2023-12-31")
	require.NoError(t, err)
	require.Len(t, frame.Bars, 70)

	last := frame.Bars[69]
	ma5, ok := last.Indicator("ma5")
	require.True(t, ok)
	// Monotonic +0.1 series: ma5 trails close by 0.2.
	assert.InDelta(t, last.Close-0.2, ma5, 1e-9)

	_, ok = last.Indicator("ma60")
	assert.True(t, ok)
	_, ok = last.Indicator("rsi14")
	assert.True(t, ok)
	_, ok = last.Indicator("boll_upper")
	assert.True(t, ok)
	_, ok = last.Indicator("volume_ma20")
	assert.True(t, ok)

	// Warmup bars stay unset.
	_, ok = frame.Bars[2].Indicator("ma5")
	assert.False(t, ok)
}

func TestLoadSymbolCacheRoundTrip(t *testing.T) {
	cacheDir := t.TempDir()
	mgr, store := newTestManager(t, cacheDir)

	dates := []string{"2023-01-03", "2023-01-04", "2023-01-05"}
	require.NoError(t, store.InsertBars("000001.SZ", sampleBars(dates, []float64{10, 10.2, 10.1})))

	first, err := mgr.LoadSymbol("000001.SZ", "2023-01-01", "2023-12-31")
	require.NoError(t, err)

	// Cached copy must serve even after the store row changes.
	require.NoError(t, store.InsertBars("000001.SZ", sampleBars([]string{"2023-01-06"}, []float64{99})))
	second, err := mgr.LoadSymbol("000001.SZ", "2023-01-01", "2023-12-31")
	require.NoError(t, err)
	assert.Equal(t, len(first.Bars), len(second.Bars))
}

func TestLoadUniverseFallsBackToAllSymbols(t *testing.T) {
	mgr, store := newTestManager(t, "")
	require.NoError(t, store.InsertBars("600519.SH", sampleBars([]string{"2023-01-03"}, []float64{1700})))

	symbols, err := mgr.LoadUniverse("000300.SH")
	require.NoError(t, err)
	assert.Equal(t, []string{"600519.SH"}, symbols)

	require.NoError(t, store.SetIndexMembers("000300.SH", []string{"000001.SZ"}))
	symbols, err = mgr.LoadUniverse("000300.SH")
	require.NoError(t, err)
	assert.Equal(t, []string{"000001.SZ"}, symbols)
}

func TestLoadMarketUnionDates(t *testing.T) {
	mgr, store := newTestManager(t, "")
	require.NoError(t, store.InsertBars("000001.SZ",
		sampleBars([]string{"2023-01-03", "2023-01-04"}, []float64{10, 10.1})))
	require.NoError(t, store.InsertBars("600519.SH",
		sampleBars([]string{"2023-01-04", "2023-01-05"}, []float64{1700, 1710})))

	market, dates, err := mgr.LoadMarket([]string{"000001.SZ", "600519.SH"}, "2023-01-01", "2023-12-31", 0, nil)
	require.NoError(t, err)
	assert.Len(t, market, 2)
	assert.Equal(t, []string{"2023-01-03", "2023-01-04", "2023-01-05"}, dates)
}

func TestLoadMarketDropsEmptySymbols(t *testing.T) {
	mgr, store := newTestManager(t, "")
	require.NoError(t, store.InsertBars("000001.SZ", sampleBars([]string{"2023-01-03"}, []float64{10})))

	market, _, err := mgr.LoadMarket([]string{"000001.SZ", "999999.SZ"}, "2023-01-01", "2023-12-31", 0, nil)
	require.NoError(t, err)
	assert.Len(t, market, 1)
	assert.NotContains(t, market, "999999.SZ")
}

func TestLoadMarketScorerSelection(t *testing.T) {
	mgr, store := newTestManager(t, "")
	closes := map[string]float64{"000001.SZ": 10, "000002.SZ": 30, "600519.SH": 1700}
	for symbol, close := range closes {
		require.NoError(t, store.InsertBars(symbol, sampleBars([]string{"2023-01-03"}, []float64{close})))
	}

	market, _, err := mgr.LoadMarket([]string{"000001.SZ", "000002.SZ", "600519.SH"},
		"2023-01-01", "2023-12-31", 2, lastBarScorer{})
	require.NoError(t, err)
	assert.Len(t, market, 2)
	assert.Contains(t, market, "600519.SH")
	assert.Contains(t, market, "000002.SZ")
	assert.NotContains(t, market, "000001.SZ")
}

func TestLoadMarketStratifiedSamplingDeterministic(t *testing.T) {
	mgr, store := newTestManager(t, "")
	var symbols []string
	for i := 0; i < 10; i++ {
		sh := fmt.Sprintf("600%03d.SH", i)
		sz := fmt.Sprintf("000%03d.SZ", i)
		require.NoError(t, store.InsertBars(sh, sampleBars([]string{"2023-01-03"}, []float64{20})))
		require.NoError(t, store.InsertBars(sz, sampleBars([]string{"2023-01-03"}, []float64{10})))
		symbols = append(symbols, sh, sz)
	}

	first, _, err := mgr.LoadMarket(symbols, "2023-01-01", "2023-12-31", 6, nil)
	require.NoError(t, err)
	second, _, err := mgr.LoadMarket(symbols, "2023-01-01", "2023-12-31", 6, nil)
	require.NoError(t, err)

	assert.Equal(t, keysOf(first), keysOf(second))
	assert.LessOrEqual(t, len(first), 6)

	// Both exchanges represented.
	var hasSH, hasSZ bool
	for symbol := range first {
		switch domain.ExchangeOf(symbol) {
		case "SH":
			hasSH = true
		case "SZ":
			hasSZ = true
		}
	}
	assert.True(t, hasSH)
	assert.True(t, hasSZ)
}

func TestBarOnDelegatesToFrame(t *testing.T) {
	mgr, store := newTestManager(t, "")
	require.NoError(t, store.InsertBars("000001.SZ",
		sampleBars([]string{"2023-01-03", "2023-01-05"}, []float64{10, 10.2})))

	market, _, err := mgr.LoadMarket([]string{"000001.SZ"}, "2023-01-01", "2023-12-31", 0, nil)
	require.NoError(t, err)

	bar, ok := mgr.BarOn("000001.SZ", "2023-01-04", market)
	require.True(t, ok)
	assert.Equal(t, "2023-01-03", bar.Date) // backward fallback across the gap

	_, ok = mgr.BarOn("999999.SZ", "2023-01-04", market)
	assert.False(t, ok)
}

func keysOf(m map[string]*domain.DailyFrame) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
