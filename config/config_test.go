package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaultsForZeroFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
symbols:
  - symbol: BTCUSDT
    base_asset: BTC
    quote_asset: USDT
initial_balances:
  USDT: 10000
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.SummaryIntervalSeconds)
	assert.Equal(t, 10*time.Second, cfg.SummaryInterval())
	assert.Equal(t, 0.001, cfg.Symbols[0].FeeRate)
	assert.Equal(t, 0.1, cfg.Strategy.Gamma)
	assert.Equal(t, 0.01, cfg.Strategy.Quantity)
	assert.Equal(t, 100, cfg.Strategy.OrderTTLMillis)
	assert.Equal(t, "backsim.db", cfg.Storage.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_PreservesExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
summary_interval_seconds: 30
symbols:
  - symbol: BTCUSDT
    base_asset: BTC
    quote_asset: USDT
    fee_rate: 0.0005
strategy:
  gamma: 0.5
  quantity: 0.05
log:
  level: debug
  format: json
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.SummaryIntervalSeconds)
	assert.Equal(t, 0.0005, cfg.Symbols[0].FeeRate)
	assert.Equal(t, 0.5, cfg.Strategy.Gamma)
	assert.Equal(t, 0.05, cfg.Strategy.Quantity)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: info
`), 0o644))

	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("BACKSIM_SUMMARY_INTERVAL", "5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5, cfg.SummaryIntervalSeconds)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}
