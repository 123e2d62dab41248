package store

import (
	"testing"
	"time"

	"github.com/alejandrodnm/backsim/internal/adapters/market"
	"github.com/alejandrodnm/backsim/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_ReportPersistsRunAndBalances(t *testing.T) {
	startedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := Open(":memory:", "run-1", startedAt, nil)
	require.NoError(t, err)
	defer s.Close()

	s.Report(market.RunSummary{
		StatsText:          "Order Num: 3\n",
		MarketLastPrice:    map[string]float64{"BTCUSDT": 42000},
		InitialBalances:    map[string]float64{"USDT": 1000},
		InitialEquityQuote: 1000,
		FinalBalances: map[string]domain.AssetBalance{
			"USDT": {Balance: 900, Locked: 0},
			"BTC":  {Balance: 0.002, Locked: 0},
		},
		FinalEquityQuote:   984,
		ProfitByAsset:      map[string]float64{"USDT": -100, "BTC": 0.002},
		ProfitEquityQuote:  -16,
		ProfitRatePct:      -1.6,
		ProfitPerVolumeBps: -2.5,
	})

	var statsText string
	var finalEquity float64
	row := s.db.QueryRow(`SELECT stats_text, final_equity_quote FROM runs WHERE run_id = ?`, "run-1")
	require.NoError(t, row.Scan(&statsText, &finalEquity))
	assert.Equal(t, "Order Num: 3\n", statsText)
	assert.InDelta(t, 984, finalEquity, 1e-9)

	var usdtBalance float64
	row = s.db.QueryRow(`SELECT final_balance FROM run_balances WHERE run_id = ? AND asset = ?`, "run-1", "BTC")
	require.NoError(t, row.Scan(&usdtBalance))
	assert.InDelta(t, 0.002, usdtBalance, 1e-9)

	var price float64
	row = s.db.QueryRow(`SELECT last_price FROM run_market_prices WHERE run_id = ? AND symbol = ?`, "run-1", "BTCUSDT")
	require.NoError(t, row.Scan(&price))
	assert.InDelta(t, 42000, price, 1e-9)
}

func TestStore_ReportUpsertsOnSecondCallForSameRun(t *testing.T) {
	s, err := Open(":memory:", "run-1", time.Now().UTC(), nil)
	require.NoError(t, err)
	defer s.Close()

	s.Report(market.RunSummary{FinalEquityQuote: 100})
	s.Report(market.RunSummary{FinalEquityQuote: 200})

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&count))
	assert.Equal(t, 1, count, "same run_id must upsert, not duplicate")

	var finalEquity float64
	require.NoError(t, s.db.QueryRow(`SELECT final_equity_quote FROM runs WHERE run_id = ?`, "run-1").Scan(&finalEquity))
	assert.InDelta(t, 200, finalEquity, 1e-9)
}

func TestStore_OpenAppliesSchema(t *testing.T) {
	s, err := Open(":memory:", "run-a", time.Now().UTC(), nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.db.Exec(`SELECT run_id, asset FROM run_balances LIMIT 0`)
	assert.NoError(t, err, "run_balances table should exist after Open")
}
