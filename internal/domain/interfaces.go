package domain

// StrategyContext is passed to Strategy.Initialize once, before the run.
type StrategyContext struct {
	InitialCash float64
	StartDate   string
	EndDate     string
	Config      map[string]interface{}
}

// StrategyInfo is self-describing metadata used by reporting.
type StrategyInfo struct {
	Name     string                 `json:"name"`
	Version  string                 `json:"version"`
	Params   map[string]interface{} `json:"params,omitempty"`
	Counters map[string]int64       `json:"counters,omitempty"`
}

// Strategy is the contract the engine consumes. Implementations receive
// read-only values (bars, summaries, trades) and must not mutate them.
type Strategy interface {
	// Initialize is called once with the run context.
	Initialize(ctx StrategyContext) error

	// GenerateSignals returns the strategy's intents for one trading day.
	// It must be pure with respect to the received values.
	GenerateSignals(date string, market MarketDay, summary PortfolioSummary) ([]Signal, error)

	// OnTradeExecuted notifies the strategy after each fill.
	OnTradeExecuted(trade Trade)

	// Info returns metadata for reporting.
	Info() StrategyInfo
}

// IndexProvider is an optional strategy capability: the benchmark index used
// to load the trading universe.
type IndexProvider interface {
	IndexCode() string
}

// SymbolScorer is an optional strategy capability used by the data manager to
// rank the universe when trimming to the top K symbols.
type SymbolScorer interface {
	ScoreForSelection(symbol string, bar DailyBar) float64
}

// DataManager is the market-data boundary. The engine consumes materialized
// per-symbol daily frames and never touches storage directly.
type DataManager interface {
	// LoadUniverse returns the ordered symbol list composing an index.
	LoadUniverse(indexCode string) ([]string, error)

	// LoadSymbol returns one symbol's frame for the date range.
	LoadSymbol(symbol, start, end string) (*DailyFrame, error)

	// LoadMarket returns frames for up to maxN symbols plus the ordered
	// trading dates covered. When scorer is non-nil it ranks the universe;
	// otherwise selection falls back to seeded stratified sampling.
	LoadMarket(symbols []string, start, end string, maxN int, scorer SymbolScorer) (map[string]*DailyFrame, []string, error)

	// BarOn returns the bar for date, or the most recent bar before it.
	BarOn(symbol, date string, market map[string]*DailyFrame) (DailyBar, bool)
}

// RealtimeCallback receives the day's state after each snapshot commits.
// It runs synchronously with the engine loop and must not mutate engine state.
type RealtimeCallback func(update DayUpdate)
