package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.StartDate = "2023-01-01"
	cfg.EndDate = "2023-12-31"
	return cfg
}

func TestValidateAcceptsBaseline(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"non-positive cash", func(c *Config) { c.InitialCash = 0 }},
		{"negative cash", func(c *Config) { c.InitialCash = -5 }},
		{"missing dates", func(c *Config) { c.StartDate = "" }},
		{"malformed start date", func(c *Config) { c.StartDate = "01/01/2023" }},
		{"malformed end date", func(c *Config) { c.EndDate = "2023-13-40" }},
		{"start equals end", func(c *Config) { c.EndDate = c.StartDate }},
		{"start after end", func(c *Config) { c.StartDate = "2024-01-01" }},
		{"position pct zero", func(c *Config) { c.MaxSinglePositionPct = 0 }},
		{"position pct above one", func(c *Config) { c.MaxSinglePositionPct = 1.5 }},
		{"non-positive stop loss", func(c *Config) { c.StopLossPct = 0 }},
		{"non-positive take profit", func(c *Config) { c.TakeProfitPct = -0.12 }},
		{"non-positive max positions", func(c *Config) { c.MaxTotalPositions = 0 }},
		{"negative commission", func(c *Config) { c.CommissionRate = -0.0001 }},
		{"zero buy unit", func(c *Config) { c.BuyUnit = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadParsesSymbolList(t *testing.T) {
	t.Setenv("BACKTEST_START_DATE", "2023-01-01")
	t.Setenv("BACKTEST_END_DATE", "2023-12-31")
	t.Setenv("BACKTEST_SYMBOLS", "000001.SZ, 600519.SH,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"000001.SZ", "600519.SH"}, cfg.Symbols)
}

func TestDefaultFeeTable(t *testing.T) {
	cfg := Default()

	assert.Equal(t, int64(100), cfg.BuyUnit)
	assert.Equal(t, 0.0001, cfg.CommissionRate)
	assert.Equal(t, 5.0, cfg.MinCommission)
	assert.Equal(t, 0.001, cfg.StampTaxRate)
	assert.Equal(t, 0.00002, cfg.TransferFeeRate)
	assert.Equal(t, 1.0, cfg.MinTransferFee)
	assert.Equal(t, 0.001, cfg.SlippageRate)
	assert.Equal(t, 0.10, cfg.PriceLimitPct)
	assert.Equal(t, 0.05, cfg.STPriceLimitPct)
	assert.Equal(t, int64(42), cfg.SelectionSeed)
}
