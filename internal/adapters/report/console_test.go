package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/alejandrodnm/backsim/internal/adapters/market"
	"github.com/alejandrodnm/backsim/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestConsole_ReportQuietPrintsOneLine(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, true)
	c.Report(market.RunSummary{ProfitEquityQuote: 12.5, ProfitRatePct: 1.25})

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "12.5000")
	assert.Contains(t, out, "1.25%")
}

func TestConsole_ReportFullPrintsBalancesAndVerdict(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, false)
	c.Report(market.RunSummary{
		StatsText:          "Order Num: 1\n",
		MarketLastPrice:    map[string]float64{"BTCUSDT": 42000},
		InitialBalances:    map[string]float64{"USDT": 1000},
		FinalBalances:      map[string]domain.AssetBalance{"USDT": {Balance: 950}},
		ProfitByAsset:      map[string]float64{"USDT": -50},
		InitialEquityQuote: 1000,
		FinalEquityQuote:   950,
		ProfitEquityQuote:  -50,
		ProfitRatePct:      -5,
	})

	out := buf.String()
	assert.Contains(t, out, "USDT")
	assert.Contains(t, out, "BTCUSDT")
	assert.Contains(t, out, "Order Num: 1")
	assert.Contains(t, out, "VERDICT: unprofitable")
}
