package marketdata

import (
	"math"

	"github.com/markcheno/go-talib"
	"github.com/quantlab/ashare-backtest/internal/domain"
)

const (
	rsiPeriod      = 14
	bollPeriod     = 20
	bollStdDev     = 2.0
	macdFast       = 12
	macdSlow       = 26
	macdSignal     = 9
	volumeMaPeriod = 20
)

var maPeriods = []int{5, 10, 20, 60}

// EnrichIndicators computes the standard technical indicator set over a frame
// and attaches values to each bar's Indicators map. Warmup positions where an
// indicator is not yet defined are left unset so strategies can distinguish
// "missing" from zero.
func EnrichIndicators(frame *domain.DailyFrame) {
	n := len(frame.Bars)
	if n == 0 {
		return
	}

	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, bar := range frame.Bars {
		closes[i] = bar.Close
		volumes[i] = bar.Volume
	}

	for _, period := range maPeriods {
		if n < period {
			continue
		}
		values := talib.Ma(closes, period, talib.SMA)
		setSeries(frame, maName(period), values, period-1)
	}

	if n > rsiPeriod {
		setSeries(frame, "rsi14", talib.Rsi(closes, rsiPeriod), rsiPeriod)
	}

	if n >= macdSlow+macdSignal {
		dif, dea, hist := talib.Macd(closes, macdFast, macdSlow, macdSignal)
		warmup := macdSlow + macdSignal - 2
		setSeries(frame, "macd_dif", dif, warmup)
		setSeries(frame, "macd_dea", dea, warmup)
		setSeries(frame, "macd_hist", hist, warmup)
	}

	if n >= bollPeriod {
		upper, middle, lower := talib.BBands(closes, bollPeriod, bollStdDev, bollStdDev, talib.SMA)
		setSeries(frame, "boll_upper", upper, bollPeriod-1)
		setSeries(frame, "boll_mid", middle, bollPeriod-1)
		setSeries(frame, "boll_lower", lower, bollPeriod-1)
	}

	if n >= volumeMaPeriod {
		setSeries(frame, "volume_ma20", talib.Ma(volumes, volumeMaPeriod, talib.SMA), volumeMaPeriod-1)
	}
}

func maName(period int) string {
	switch period {
	case 5:
		return "ma5"
	case 10:
		return "ma10"
	case 20:
		return "ma20"
	default:
		return "ma60"
	}
}

// setSeries copies an indicator series onto the frame's bars, skipping the
// warmup prefix and NaN values.
func setSeries(frame *domain.DailyFrame, name string, values []float64, warmup int) {
	for i := warmup; i < len(frame.Bars) && i < len(values); i++ {
		v := values[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if frame.Bars[i].Indicators == nil {
			frame.Bars[i].Indicators = make(map[string]float64)
		}
		frame.Bars[i].Indicators[name] = v
	}
}
