// Package config provides configuration management for the backtest engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/quantlab/ashare-backtest/internal/utils"
)

// Config holds the full backtest configuration. Fee and limit rates default
// to the Chinese A-share fee table; risk limits default to the conservative
// baseline used by the reference strategies.
type Config struct {
	// Run window and funding
	InitialCash float64
	StartDate   string // YYYY-MM-DD
	EndDate     string // YYYY-MM-DD

	// Fees, slippage, price limits
	CommissionRate  float64
	MinCommission   float64
	StampTaxRate    float64
	TransferFeeRate float64
	MinTransferFee  float64
	SlippageRate    float64
	PriceLimitPct   float64
	STPriceLimitPct float64
	BuyUnit         int64

	// Risk limits
	MaxSinglePositionPct  float64
	MaxTotalPositions     int
	StopLossPct           float64 // magnitude, > 0
	TakeProfitPct         float64 // magnitude, > 0
	MaxDrawdownLimit      float64
	MinHoldingTradingDays int // 0 disables the holding-period gate
	CashBufferPct         float64
	MinPositionValue      float64

	// Data
	DataDir       string
	DataFrequency string
	Benchmark     string
	Symbols       []string // explicit universe, overrides index membership
	MaxSymbols    int
	SelectionSeed int64

	// Outputs
	OutputDir       string
	SaveTrades      bool
	SavePositions   bool
	SavePerformance bool
	RenderCharts    bool

	// Optional realtime stream server
	StreamEnabled bool
	StreamAddr    string

	// Optional S3 archive of run artifacts
	ArchiveBucket string
	ArchivePrefix string

	LogLevel string
}

// Default returns the baseline configuration with A-share fee constants.
func Default() *Config {
	return &Config{
		InitialCash:           1_000_000,
		CommissionRate:        0.0001,
		MinCommission:         5.0,
		StampTaxRate:          0.001,
		TransferFeeRate:       0.00002,
		MinTransferFee:        1.0,
		SlippageRate:          0.001,
		PriceLimitPct:         0.10,
		STPriceLimitPct:       0.05,
		BuyUnit:               100,
		MaxSinglePositionPct:  0.10,
		MaxTotalPositions:     20,
		StopLossPct:           0.06,
		TakeProfitPct:         0.12,
		MaxDrawdownLimit:      0.20,
		MinHoldingTradingDays: 0,
		CashBufferPct:         0.05,
		MinPositionValue:      10_000,
		DataFrequency:         "daily",
		Benchmark:             "000300.SH",
		MaxSymbols:            50,
		SelectionSeed:         42,
		OutputDir:             "output",
		SaveTrades:            true,
		SavePositions:         true,
		SavePerformance:       true,
		RenderCharts:          true,
		StreamAddr:            ":8002",
		LogLevel:              "info",
	}
}

// Load reads configuration from environment variables on top of defaults.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := Default()

	cfg.InitialCash = getEnvAsFloat("BACKTEST_INITIAL_CASH", cfg.InitialCash)
	cfg.StartDate = getEnv("BACKTEST_START_DATE", cfg.StartDate)
	cfg.EndDate = getEnv("BACKTEST_END_DATE", cfg.EndDate)

	cfg.CommissionRate = getEnvAsFloat("COMMISSION_RATE", cfg.CommissionRate)
	cfg.MinCommission = getEnvAsFloat("MIN_COMMISSION", cfg.MinCommission)
	cfg.StampTaxRate = getEnvAsFloat("STAMP_TAX_RATE", cfg.StampTaxRate)
	cfg.SlippageRate = getEnvAsFloat("SLIPPAGE_RATE", cfg.SlippageRate)

	cfg.MaxSinglePositionPct = getEnvAsFloat("MAX_SINGLE_POSITION_PCT", cfg.MaxSinglePositionPct)
	cfg.MaxTotalPositions = getEnvAsInt("MAX_TOTAL_POSITIONS", cfg.MaxTotalPositions)
	cfg.StopLossPct = getEnvAsFloat("STOP_LOSS_PCT", cfg.StopLossPct)
	cfg.TakeProfitPct = getEnvAsFloat("TAKE_PROFIT_PCT", cfg.TakeProfitPct)
	cfg.MaxDrawdownLimit = getEnvAsFloat("MAX_DRAWDOWN_LIMIT", cfg.MaxDrawdownLimit)
	cfg.MinHoldingTradingDays = getEnvAsInt("MIN_HOLDING_TRADING_DAYS", cfg.MinHoldingTradingDays)

	cfg.DataDir = getEnv("BACKTEST_DATA_DIR", cfg.DataDir)
	cfg.Benchmark = getEnv("BACKTEST_BENCHMARK", cfg.Benchmark)
	if symbols := utils.ParseList(os.Getenv("BACKTEST_SYMBOLS")); symbols != nil {
		cfg.Symbols = symbols
	}
	cfg.MaxSymbols = getEnvAsInt("BACKTEST_MAX_SYMBOLS", cfg.MaxSymbols)
	cfg.SelectionSeed = int64(getEnvAsInt("BACKTEST_SELECTION_SEED", int(cfg.SelectionSeed)))

	cfg.OutputDir = getEnv("BACKTEST_OUTPUT_DIR", cfg.OutputDir)
	cfg.SaveTrades = getEnvAsBool("BACKTEST_SAVE_TRADES", cfg.SaveTrades)
	cfg.SavePositions = getEnvAsBool("BACKTEST_SAVE_POSITIONS", cfg.SavePositions)
	cfg.SavePerformance = getEnvAsBool("BACKTEST_SAVE_PERFORMANCE", cfg.SavePerformance)
	cfg.RenderCharts = getEnvAsBool("BACKTEST_RENDER_CHARTS", cfg.RenderCharts)

	cfg.StreamEnabled = getEnvAsBool("STREAM_ENABLED", cfg.StreamEnabled)
	cfg.StreamAddr = getEnv("STREAM_ADDR", cfg.StreamAddr)

	cfg.ArchiveBucket = getEnv("ARCHIVE_S3_BUCKET", cfg.ArchiveBucket)
	cfg.ArchivePrefix = getEnv("ARCHIVE_S3_PREFIX", cfg.ArchivePrefix)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if cfg.DataDir != "" {
		absDataDir, err := filepath.Abs(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
		}
		cfg.DataDir = absDataDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for structural errors. These are fatal:
// a run never starts with an invalid configuration.
func (c *Config) Validate() error {
	if c.InitialCash <= 0 {
		return fmt.Errorf("initial cash must be positive, got %.2f", c.InitialCash)
	}
	if c.StartDate == "" || c.EndDate == "" {
		return fmt.Errorf("start and end dates are required")
	}
	if _, err := time.Parse("2006-01-02", c.StartDate); err != nil {
		return fmt.Errorf("invalid start date %q: %w", c.StartDate, err)
	}
	if _, err := time.Parse("2006-01-02", c.EndDate); err != nil {
		return fmt.Errorf("invalid end date %q: %w", c.EndDate, err)
	}
	if c.StartDate >= c.EndDate {
		return fmt.Errorf("start date %s must be before end date %s", c.StartDate, c.EndDate)
	}
	if c.MaxSinglePositionPct <= 0 || c.MaxSinglePositionPct > 1 {
		return fmt.Errorf("max single position pct must be in (0, 1], got %.4f", c.MaxSinglePositionPct)
	}
	if c.StopLossPct <= 0 {
		return fmt.Errorf("stop loss pct must be a positive magnitude, got %.4f", c.StopLossPct)
	}
	if c.TakeProfitPct <= 0 {
		return fmt.Errorf("take profit pct must be a positive magnitude, got %.4f", c.TakeProfitPct)
	}
	if c.MaxTotalPositions <= 0 {
		return fmt.Errorf("max total positions must be positive, got %d", c.MaxTotalPositions)
	}
	if c.CommissionRate < 0 || c.StampTaxRate < 0 || c.SlippageRate < 0 {
		return fmt.Errorf("fee and slippage rates must be non-negative")
	}
	if c.BuyUnit <= 0 {
		return fmt.Errorf("buy unit must be positive, got %d", c.BuyUnit)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
