package simulator

import (
	"testing"

	"github.com/quantlab/ashare-backtest/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDates = []string{"2023-06-01", "2023-06-02"}

func newTestSimulator() *Simulator {
	return New(DefaultConfig(), testDates, zerolog.Nop())
}

func buyOrder(symbol string, qty int64, price float64) *domain.Order {
	return &domain.Order{
		ID:           "o1",
		Symbol:       symbol,
		Side:         domain.SideBuy,
		RequestedQty: qty,
		RequestedPx:  price,
		Date:         "2023-06-01",
		Status:       domain.StatusPending,
	}
}

func sellOrder(symbol string, qty int64, price float64) *domain.Order {
	o := buyOrder(symbol, qty, price)
	o.Side = domain.SideSell
	return o
}

func TestPriceLimits(t *testing.T) {
	s := newTestSimulator()

	upper, lower := s.PriceLimits(10.00, false)
	assert.Equal(t, 11.00, upper)
	assert.Equal(t, 9.00, lower)

	// ST stocks use the tighter ±5% band.
	upper, lower = s.PriceLimits(10.00, true)
	assert.Equal(t, 10.50, upper)
	assert.Equal(t, 9.50, lower)

	// Rounded to two decimals after the limit formula.
	upper, lower = s.PriceLimits(8.37, false)
	assert.Equal(t, 9.21, upper)
	assert.Equal(t, 7.53, lower)
}

func TestValidateRejections(t *testing.T) {
	s := newTestSimulator()
	bar := domain.DailyBar{Date: "2023-06-01", Close: 10.20, PreClose: 10.00}

	tests := []struct {
		name   string
		order  *domain.Order
		bar    domain.DailyBar
		hasBar bool
		date   string
		reason string
	}{
		{"missing market data", buyOrder("000001.SZ", 100, 10.2), domain.DailyBar{}, false, "2023-06-01", ReasonNoMarketData},
		{"suspended", buyOrder("000001.SZ", 100, 10.2), domain.DailyBar{Close: 10.2, PreClose: 10.0, Suspended: true}, true, "2023-06-01", ReasonSuspended},
		{"non-trading day", buyOrder("000001.SZ", 100, 10.2), bar, true, "2023-06-03", ReasonNonTradingDay},
		{"odd lot buy", buyOrder("000001.SZ", 150, 10.2), bar, true, "2023-06-01", ReasonBadBuyUnit},
		{"zero qty buy", buyOrder("000001.SZ", 0, 10.2), bar, true, "2023-06-01", ReasonNonPositive},
		{"negative qty sell", sellOrder("000001.SZ", -100, 10.2), bar, true, "2023-06-01", ReasonNonPositive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := s.Validate(tt.order, tt.bar, tt.hasBar, tt.date)
			assert.False(t, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestLimitUpRejectsBuy(t *testing.T) {
	s := newTestSimulator()
	// Close pinned exactly at +10%.
	bar := domain.DailyBar{Date: "2023-06-01", Close: 11.00, PreClose: 10.00}

	order := buyOrder("000001.SZ", 100, 11.00)
	s.Execute(order, bar, true, "2023-06-01")

	assert.Equal(t, domain.StatusRejected, order.Status)
	assert.Equal(t, ReasonLimitUp, order.RejectReason)
	// Rejected orders never carry fill fields.
	assert.Zero(t, order.ExecutedQty)
	assert.Zero(t, order.Commission)
}

func TestLimitDownRejectsSell(t *testing.T) {
	s := newTestSimulator()
	bar := domain.DailyBar{Date: "2023-06-01", Close: 9.00, PreClose: 10.00}

	order := sellOrder("000001.SZ", 100, 9.00)
	s.Execute(order, bar, true, "2023-06-01")

	assert.Equal(t, domain.StatusRejected, order.Status)
	assert.Equal(t, ReasonLimitDown, order.RejectReason)
}

func TestMissingPreCloseSkipsLimitChecks(t *testing.T) {
	s := newTestSimulator()
	bar := domain.DailyBar{Date: "2023-06-01", Close: 10.00}

	ok, reason := s.Validate(buyOrder("000001.SZ", 100, 10.00), bar, true, "2023-06-01")
	assert.True(t, ok)
	assert.Empty(t, reason)

	ok, reason = s.Validate(sellOrder("000001.SZ", 100, 10.00), bar, true, "2023-06-01")
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestSTLimitTighter(t *testing.T) {
	s := newTestSimulator()
	// +5% is a limit-up for an ST stock but not for a regular one.
	bar := domain.DailyBar{Date: "2023-06-01", Close: 10.50, PreClose: 10.00, IsST: true}

	ok, reason := s.Validate(buyOrder("600000.SH", 100, 10.5), bar, true, "2023-06-01")
	assert.False(t, ok)
	assert.Equal(t, ReasonLimitUp, reason)

	bar.IsST = false
	ok, _ = s.Validate(buyOrder("600000.SH", 100, 10.5), bar, true, "2023-06-01")
	assert.True(t, ok)
}

func TestExecuteBuyFillAndFees(t *testing.T) {
	s := newTestSimulator()
	bar := domain.DailyBar{Date: "2023-06-01", Close: 10.00, PreClose: 9.80}

	order := buyOrder("600519.SH", 10_000, 10.00)
	s.Execute(order, bar, true, "2023-06-01")

	require.Equal(t, domain.StatusExecuted, order.Status)
	assert.Equal(t, int64(10_000), order.ExecutedQty)
	// Slippage is adverse: buy fills above close.
	assert.InDelta(t, 10.00*1.001, order.ExecutedPx, 1e-9)

	amount := float64(order.ExecutedQty) * order.ExecutedPx
	assert.InDelta(t, amount*0.0001, order.Commission, 1e-9)
	// Shanghai symbol pays the transfer fee, floored at 1 CNY.
	assert.InDelta(t, amount*0.00002, order.TransferFee, 1e-9)
	// No stamp tax on buys.
	assert.Zero(t, order.StampTax)

	assert.InDelta(t, -(amount+order.Commission+order.TransferFee), s.TotalCost(order), 1e-9)
}

func TestExecuteSellFillAndFees(t *testing.T) {
	s := newTestSimulator()
	bar := domain.DailyBar{Date: "2023-06-01", Close: 11.50, PreClose: 11.40}

	order := sellOrder("000001.SZ", 500, 11.50)
	s.Execute(order, bar, true, "2023-06-01")

	require.Equal(t, domain.StatusExecuted, order.Status)
	assert.InDelta(t, 11.50*0.999, order.ExecutedPx, 1e-9)

	amount := float64(order.ExecutedQty) * order.ExecutedPx
	// Small amount: commission floors at 5 CNY.
	assert.Equal(t, 5.0, order.Commission)
	assert.InDelta(t, amount*0.001, order.StampTax, 1e-9)
	// Shenzhen symbol pays no transfer fee.
	assert.Zero(t, order.TransferFee)

	assert.InDelta(t, amount-order.Commission-order.StampTax, s.TotalCost(order), 1e-9)
}

func TestCommissionMinimum(t *testing.T) {
	s := newTestSimulator()

	assert.Equal(t, 5.0, s.Commission(1_000))      // 0.10 by rate, floored
	assert.InDelta(t, 10.0, s.Commission(100_000), 1e-9)
}

func TestTransferFeeFloor(t *testing.T) {
	s := newTestSimulator()

	assert.Equal(t, 1.0, s.TransferFee("600519.SH", 10_000)) // 0.20 by rate, floored
	assert.InDelta(t, 2.0, s.TransferFee("600519.SH", 100_000), 1e-9)
	assert.Zero(t, s.TransferFee("000001.SZ", 100_000))
}
