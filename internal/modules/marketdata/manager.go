package marketdata

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/quantlab/ashare-backtest/internal/domain"
	"github.com/rs/zerolog"
)

// Config controls universe selection.
type Config struct {
	// Seed drives stratified sampling when no scorer ranks the universe.
	Seed int64
	// CacheDir enables the msgpack frame cache when non-empty.
	CacheDir string
}

// Manager implements domain.DataManager over the sqlite store with a
// read-through frame cache and indicator enrichment.
type Manager struct {
	store *Store
	cache *FrameCache
	cfg   Config
	log   zerolog.Logger
}

// NewManager wires the store and cache into a data manager.
func NewManager(store *Store, cfg Config, log zerolog.Logger) *Manager {
	return &Manager{
		store: store,
		cache: NewFrameCache(cfg.CacheDir, log),
		cfg:   cfg,
		log:   log.With().Str("component", "marketdata").Logger(),
	}
}

// LoadUniverse returns the index membership, falling back to every stored
// symbol when the index has no recorded members.
func (m *Manager) LoadUniverse(indexCode string) ([]string, error) {
	symbols, err := m.store.IndexMembers(indexCode)
	if err != nil {
		return nil, err
	}
	if len(symbols) > 0 {
		return symbols, nil
	}

	m.log.Debug().Str("index", indexCode).Msg("No index members recorded, using all stored symbols")
	return m.store.Symbols()
}

// LoadSymbol returns one enriched frame, serving from cache when possible.
func (m *Manager) LoadSymbol(symbol, start, end string) (*domain.DailyFrame, error) {
	if frame := m.cache.Get(symbol, start, end); frame != nil {
		return frame, nil
	}

	frame, err := m.store.LoadFrame(symbol, start, end)
	if err != nil {
		return nil, err
	}
	EnrichIndicators(frame)

	if len(frame.Bars) > 0 {
		m.cache.Put(symbol, start, end, frame)
	}
	return frame, nil
}

// LoadMarket loads frames for up to maxN of the given symbols and returns the
// sorted union of their trading dates. Symbols with no bars in the window are
// dropped. maxN <= 0 means no limit.
func (m *Manager) LoadMarket(symbols []string, start, end string, maxN int, scorer domain.SymbolScorer) (map[string]*domain.DailyFrame, []string, error) {
	if len(symbols) == 0 {
		return nil, nil, fmt.Errorf("no symbols to load")
	}

	selected := symbols
	if maxN > 0 && len(symbols) > maxN {
		var err error
		selected, err = m.selectSymbols(symbols, start, end, maxN, scorer)
		if err != nil {
			return nil, nil, err
		}
	}

	market := make(map[string]*domain.DailyFrame, len(selected))
	dateSet := make(map[string]struct{})
	for _, symbol := range selected {
		frame, err := m.LoadSymbol(symbol, start, end)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load %s: %w", symbol, err)
		}
		if len(frame.Bars) == 0 {
			continue
		}
		market[symbol] = frame
		for _, bar := range frame.Bars {
			dateSet[bar.Date] = struct{}{}
		}
	}

	dates := make([]string, 0, len(dateSet))
	for date := range dateSet {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	m.log.Info().
		Int("symbols", len(market)).
		Int("trading_days", len(dates)).
		Str("start", start).
		Str("end", end).
		Msg("Market data loaded")

	return market, dates, nil
}

// BarOn resolves a symbol's bar on the given date with backward fallback.
func (m *Manager) BarOn(symbol, date string, market map[string]*domain.DailyFrame) (domain.DailyBar, bool) {
	frame, ok := market[symbol]
	if !ok {
		return domain.DailyBar{}, false
	}
	return frame.BarOn(date)
}

// selectSymbols trims the universe to maxN. A scorer ranks symbols by their
// score on the last available bar; without one a seeded stratified sample
// keeps the exchange and board mix of the full universe.
func (m *Manager) selectSymbols(symbols []string, start, end string, maxN int, scorer domain.SymbolScorer) ([]string, error) {
	if scorer == nil {
		return stratifiedSample(symbols, maxN, m.cfg.Seed), nil
	}

	type scored struct {
		symbol string
		score  float64
	}
	ranked := make([]scored, 0, len(symbols))
	for _, symbol := range symbols {
		frame, err := m.store.LoadFrame(symbol, start, end)
		if err != nil {
			return nil, err
		}
		if len(frame.Bars) == 0 {
			continue
		}
		last := frame.Bars[len(frame.Bars)-1]
		ranked = append(ranked, scored{symbol: symbol, score: scorer.ScoreForSelection(symbol, last)})
	}

	// Stable ordering: score descending, symbol ascending on ties.
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].symbol < ranked[j].symbol
	})

	if len(ranked) > maxN {
		ranked = ranked[:maxN]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.symbol
	}
	return out, nil
}

// stratifiedSample draws maxN symbols proportionally from code-prefix strata
// (600/601/603 SH mainboard, 000/001 SZ mainboard, 002 SME, 300 ChiNext,
// 688 STAR) using the configured seed, so repeated runs pick the same set.
func stratifiedSample(symbols []string, maxN int, seed int64) []string {
	strata := make(map[string][]string)
	var order []string
	for _, symbol := range symbols {
		prefix := symbol
		if len(symbol) >= 3 {
			prefix = symbol[:3]
		}
		if _, ok := strata[prefix]; !ok {
			order = append(order, prefix)
		}
		strata[prefix] = append(strata[prefix], symbol)
	}
	sort.Strings(order)

	rng := rand.New(rand.NewSource(seed))
	var selected []string
	for _, prefix := range order {
		group := strata[prefix]
		want := maxN * len(group) / len(symbols)
		if want == 0 {
			want = 1
		}
		if want > len(group) {
			want = len(group)
		}
		rng.Shuffle(len(group), func(i, j int) { group[i], group[j] = group[j], group[i] })
		selected = append(selected, group[:want]...)
	}

	sort.Strings(selected)
	if len(selected) > maxN {
		selected = selected[:maxN]
	}
	return selected
}
