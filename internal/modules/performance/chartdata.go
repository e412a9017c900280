package performance

import (
	"math"
	"math/rand"
	"sort"
	"strconv"

	"github.com/quantlab/ashare-backtest/internal/domain"
)

const histogramBuckets = 20

// EquityPoint is one day on the equity curve.
type EquityPoint struct {
	Date             string  `json:"date"`
	PortfolioValue   float64 `json:"portfolio_value"`
	CumulativeReturn float64 `json:"cumulative_return"`
	DailyReturn      float64 `json:"daily_return"`
}

// DrawdownPoint is one day on the drawdown curve.
type DrawdownPoint struct {
	Date     string  `json:"date"`
	Drawdown float64 `json:"drawdown"`
}

// HistogramBucket is one bin of the daily-return distribution.
type HistogramBucket struct {
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Count int     `json:"count"`
}

// MonthlyReturn is one cell of the month grid: the compounded return over
// the month's trading days.
type MonthlyReturn struct {
	Year   int     `json:"year"`
	Month  int     `json:"month"`
	Return float64 `json:"return"`
}

// BenchmarkPoint is one day of the aligned benchmark series.
type BenchmarkPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// BenchmarkSeries is the benchmark aligned to portfolio dates. IsSimulated
// marks a synthetic fallback series; persisted reports must never present
// simulated data as real.
type BenchmarkSeries struct {
	Points      []BenchmarkPoint `json:"points"`
	IsSimulated bool             `json:"is_simulated"`
}

// ChartData carries the chart-ready series for downstream renderers.
type ChartData struct {
	Equity          []EquityPoint     `json:"equity"`
	Drawdown        []DrawdownPoint   `json:"drawdown"`
	ReturnHistogram []HistogramBucket `json:"return_histogram"`
	MonthlyReturns  []MonthlyReturn   `json:"monthly_returns"`
	Benchmark       BenchmarkSeries   `json:"benchmark"`
}

// ChartData synthesizes the four derived series from the snapshot history.
// When benchmark is nil a clearly-marked synthetic series is produced so
// downstream consumers stay well-typed.
func (a *Analyzer) ChartData(snapshots []domain.PortfolioSnapshot, benchmark *domain.DailyFrame) ChartData {
	data := ChartData{}
	if len(snapshots) == 0 {
		return data
	}

	for _, s := range snapshots {
		data.Equity = append(data.Equity, EquityPoint{
			Date:             s.Date,
			PortfolioValue:   s.TotalValue,
			CumulativeReturn: s.CumulativeReturn,
			DailyReturn:      s.DailyReturn,
		})
		data.Drawdown = append(data.Drawdown, DrawdownPoint{Date: s.Date, Drawdown: s.Drawdown})
	}

	data.ReturnHistogram = returnHistogram(dailyReturns(snapshots))
	data.MonthlyReturns = monthlyReturns(snapshots)
	data.Benchmark = a.benchmarkSeries(snapshots, benchmark)

	return data
}

func returnHistogram(returns []float64) []HistogramBucket {
	if len(returns) == 0 {
		return nil
	}

	lo, hi := returns[0], returns[0]
	for _, r := range returns {
		lo = math.Min(lo, r)
		hi = math.Max(hi, r)
	}
	if lo == hi {
		return []HistogramBucket{{Low: lo, High: hi, Count: len(returns)}}
	}

	width := (hi - lo) / histogramBuckets
	buckets := make([]HistogramBucket, histogramBuckets)
	for i := range buckets {
		buckets[i].Low = lo + float64(i)*width
		buckets[i].High = buckets[i].Low + width
	}
	for _, r := range returns {
		idx := int((r - lo) / width)
		if idx >= histogramBuckets {
			idx = histogramBuckets - 1
		}
		buckets[idx].Count++
	}
	return buckets
}

func monthlyReturns(snapshots []domain.PortfolioSnapshot) []MonthlyReturn {
	type yearMonth struct {
		year, month int
	}
	compounded := make(map[yearMonth]float64)
	var order []yearMonth

	for i, s := range snapshots {
		if len(s.Date) < 7 {
			continue
		}
		year, _ := strconv.Atoi(s.Date[0:4])
		month, _ := strconv.Atoi(s.Date[5:7])
		ym := yearMonth{year: year, month: month}
		if _, ok := compounded[ym]; !ok {
			compounded[ym] = 1.0
			order = append(order, ym)
		}
		if i > 0 {
			compounded[ym] *= 1 + s.DailyReturn
		}
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].year != order[j].year {
			return order[i].year < order[j].year
		}
		return order[i].month < order[j].month
	})

	out := make([]MonthlyReturn, 0, len(order))
	for _, ym := range order {
		out = append(out, MonthlyReturn{Year: ym.year, Month: ym.month, Return: compounded[ym] - 1})
	}
	return out
}

// benchmarkSeries aligns the benchmark to portfolio dates, carrying the last
// known close forward across missing dates. Without a source it synthesizes
// a deterministic random walk flagged as simulated.
func (a *Analyzer) benchmarkSeries(snapshots []domain.PortfolioSnapshot, benchmark *domain.DailyFrame) BenchmarkSeries {
	if benchmark == nil || len(benchmark.Bars) == 0 {
		return syntheticBenchmark(snapshots)
	}

	closes := make(map[string]float64, len(benchmark.Bars))
	for _, bar := range benchmark.Bars {
		closes[bar.Date] = bar.Close
	}

	series := BenchmarkSeries{}
	last := 0.0
	for _, s := range snapshots {
		if close, ok := closes[s.Date]; ok {
			last = close
		}
		if last > 0 {
			series.Points = append(series.Points, BenchmarkPoint{Date: s.Date, Value: last})
		}
	}
	if len(series.Points) == 0 {
		return syntheticBenchmark(snapshots)
	}
	return series
}

// syntheticBenchmark fabricates a seeded random walk over the portfolio
// dates so analyzer consumers can be exercised without real index data.
func syntheticBenchmark(snapshots []domain.PortfolioSnapshot) BenchmarkSeries {
	rng := rand.New(rand.NewSource(42))
	series := BenchmarkSeries{IsSimulated: true}
	value := 1000.0
	for _, s := range snapshots {
		value *= 1 + rng.NormFloat64()*0.01
		series.Points = append(series.Points, BenchmarkPoint{Date: s.Date, Value: value})
	}
	return series
}
