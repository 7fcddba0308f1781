package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "binance", cfg.Exchange)
	assert.Equal(t, 30*time.Second, cfg.FillCheckDelay)
	assert.Equal(t, time.Second, cfg.CancelCooldown)
	assert.True(t, cfg.DryRun)
	assert.Nil(t, cfg.TradePercent)
}

func TestLoad_YAML(t *testing.T) {
	p := writeFile(t, "trader.yaml", `
exchange: paper
currency: usdt
asset: eth
loss_avoidant: false
trade_percent: "25"
fill_check_delay: 10s
balance_refresh_interval: 5m
paper:
  balances:
    usdt: "500"
    eth: "1.5"
api:
  listen: 127.0.0.1:8080
  token: secret
  dedupe_window: 3s
circuit_breaker:
  max_consecutive_errors: 9
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "paper", cfg.Exchange)
	assert.False(t, cfg.LossAvoidant)
	require.NotNil(t, cfg.TradePercent)
	assert.True(t, cfg.TradePercent.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, 10*time.Second, cfg.FillCheckDelay)
	assert.Equal(t, time.Second, cfg.CancelCooldown, "未配置保持默认")
	assert.Equal(t, 5*time.Minute, cfg.BalanceRefreshInterval)
	assert.True(t, cfg.Paper.Balances["ETH"].Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, 3*time.Second, cfg.API.DedupeWindow)
	assert.Equal(t, int64(9), cfg.MaxConsecutiveErrors)
}

func TestLoad_JSONAndEnvOverride(t *testing.T) {
	p := writeFile(t, "trader.json", `{"exchange":"binance","currency":"USDT","asset":"BTC","dry_run":false}`)
	t.Setenv("TRADER_ASSET", "ETH")
	t.Setenv("TRADER_TRADE_PERCENT", "50")
	t.Setenv("TRADER_BINANCE_API_KEY", "k")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.False(t, cfg.DryRun)
	assert.Equal(t, "ETH", cfg.Asset)
	assert.True(t, cfg.TradePercent.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, "k", cfg.Binance.APIKey)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(writeFile(t, "trader.toml", "x = 1"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "fill_check_delay: soon\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	pct := decimal.NewFromInt(101)
	cfg.TradePercent = &pct
	cfg.API.Listen = ":8080"
	cfg.Asset = "USDT"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trade_percent")
	assert.Contains(t, err.Error(), "api.token")
	assert.Contains(t, err.Error(), "currency 与 asset 相同")
}
