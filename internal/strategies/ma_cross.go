// Package strategies provides reference strategy implementations for the
// engine.
package strategies

import (
	"sort"

	"github.com/quantlab/ashare-backtest/internal/domain"
	"github.com/rs/zerolog"
)

// MACrossConfig tunes the moving-average cross strategy.
type MACrossConfig struct {
	FastIndicator string  // indicator key, e.g. "ma5"
	SlowIndicator string  // indicator key, e.g. "ma20"
	BuyWeight     float64 // target weight per new position
	IndexCode     string  // universe index
	MaxRSI        float64 // skip buys above this RSI, 0 disables the filter
}

// DefaultMACrossConfig returns the standard 5/20 cross setup.
func DefaultMACrossConfig() MACrossConfig {
	return MACrossConfig{
		FastIndicator: "ma5",
		SlowIndicator: "ma20",
		BuyWeight:     0.08,
		IndexCode:     "000300.SH",
		MaxRSI:        75,
	}
}

// MACross buys when the fast moving average crosses above the slow one and
// sells held positions on the reverse cross. It keeps per-symbol cross state
// across days; received values are never mutated.
type MACross struct {
	cfg MACrossConfig
	log zerolog.Logger

	// fastAbove records yesterday's relation per symbol; a flip is a cross.
	fastAbove map[string]bool

	signalsEmitted int64
	tradesSeen     int64
}

// NewMACross creates the strategy.
func NewMACross(cfg MACrossConfig, log zerolog.Logger) *MACross {
	return &MACross{
		cfg:       cfg,
		log:       log.With().Str("component", "strategy_ma_cross").Logger(),
		fastAbove: make(map[string]bool),
	}
}

// Initialize resets cross state for a fresh run.
func (s *MACross) Initialize(ctx domain.StrategyContext) error {
	s.fastAbove = make(map[string]bool)
	s.signalsEmitted = 0
	s.tradesSeen = 0
	s.log.Info().
		Str("start", ctx.StartDate).
		Str("end", ctx.EndDate).
		Float64("initial_cash", ctx.InitialCash).
		Msg("Strategy initialized")
	return nil
}

// GenerateSignals scans the day's bars in symbol order and emits buy/sell
// intents on moving-average crosses.
func (s *MACross) GenerateSignals(date string, market domain.MarketDay, summary domain.PortfolioSummary) ([]domain.Signal, error) {
	symbols := make([]string, 0, len(market))
	for symbol := range market {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var signals []domain.Signal
	for _, symbol := range symbols {
		bar := market[symbol]
		fast, okFast := bar.Indicator(s.cfg.FastIndicator)
		slow, okSlow := bar.Indicator(s.cfg.SlowIndicator)
		if !okFast || !okSlow {
			continue
		}

		above := fast > slow
		prev, seen := s.fastAbove[symbol]
		s.fastAbove[symbol] = above
		if !seen {
			continue
		}

		switch {
		case above && !prev:
			if summary.HasPosition(symbol) {
				continue
			}
			if s.cfg.MaxRSI > 0 {
				if rsi, ok := bar.Indicator("rsi14"); ok && rsi > s.cfg.MaxRSI {
					continue
				}
			}
			signals = append(signals, domain.Signal{
				Action: "buy",
				Symbol: symbol,
				Price:  bar.Close,
				Weight: s.cfg.BuyWeight,
				Reason: "golden_cross",
			})
			s.signalsEmitted++

		case !above && prev:
			if !summary.HasPosition(symbol) {
				continue
			}
			signals = append(signals, domain.Signal{
				Action: "sell",
				Symbol: symbol,
				Price:  bar.Close,
				Reason: "death_cross",
			})
			s.signalsEmitted++
		}
	}

	return signals, nil
}

// OnTradeExecuted counts fills for the info counters.
func (s *MACross) OnTradeExecuted(trade domain.Trade) {
	s.tradesSeen++
	s.log.Debug().
		Str("symbol", trade.Symbol).
		Str("side", string(trade.Side)).
		Int64("qty", trade.Qty).
		Msg("Trade observed")
}

// Info returns reporting metadata.
func (s *MACross) Info() domain.StrategyInfo {
	return domain.StrategyInfo{
		Name:    "ma_cross",
		Version: "1.0",
		Params: map[string]interface{}{
			"fast":       s.cfg.FastIndicator,
			"slow":       s.cfg.SlowIndicator,
			"buy_weight": s.cfg.BuyWeight,
			"max_rsi":    s.cfg.MaxRSI,
		},
		Counters: map[string]int64{
			"signals_emitted": s.signalsEmitted,
			"trades_seen":     s.tradesSeen,
		},
	}
}

// IndexCode exposes the benchmark universe.
func (s *MACross) IndexCode() string {
	return s.cfg.IndexCode
}

// ScoreForSelection ranks symbols by traded amount, preferring liquid names
// when the data manager trims the universe.
func (s *MACross) ScoreForSelection(symbol string, bar domain.DailyBar) float64 {
	return bar.Amount
}
