package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// fakeTicker 只提供公开盘口接口，供模拟盘取价
func fakeTicker(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ticker/bookTicker" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","bidPrice":"99.50","askPrice":"100.25"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, dir, baseURL string) string {
	t.Helper()
	content := `exchange: binance
currency: USDT
asset: BTC
dry_run: true
fill_check_delay: 10ms
cancel_cooldown: 10ms
paper:
  balances: {USDT: "1000", BTC: "0"}
  fee: "0.001"
log:
  file: ` + filepath.Join(dir, "logs", "test.log") + `
  by_day: false
journal:
  path: ` + filepath.Join(dir, "journal.db") + `
secrets:
  path: ` + filepath.Join(dir, "secrets") + `
binance:
  base_url: ` + baseURL + `
  use_stream: false
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPairs(t *testing.T) {
	out, err := execute(t, "pairs")
	require.NoError(t, err)
	assert.Contains(t, out, "EXCHANGE")
	assert.Contains(t, out, "binance")
	assert.Contains(t, out, "USDT-BTC")
}

func TestTradeThenJournalTail(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, fakeTicker(t).URL)

	out, err := execute(t, "--config", cfgPath, "trade", "buy")
	require.NoError(t, err, out)
	assert.Contains(t, out, "BUY filled")

	out, err = execute(t, "--config", cfgPath, "journal", "tail", "-n", "50")
	require.NoError(t, err, out)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Greater(t, len(lines), 2)
	assert.Contains(t, lines[0], "FROM")
	assert.Contains(t, out, "submitted")
	assert.Contains(t, lines[len(lines)-1], "filled")

	out, err = execute(t, "--config", cfgPath, "journal", "tail", "--pair", "USDT-ETH")
	require.NoError(t, err)
	assert.Equal(t, 1, len(strings.Split(strings.TrimSpace(out), "\n")), "只有表头")
}

func TestTrade_InvalidSide(t *testing.T) {
	_, err := execute(t, "trade", "hold")
	assert.Error(t, err)
}

func TestSecretsSetAndShow(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "http://127.0.0.1:1")
	t.Setenv("TRADER_SECRETS_KEY", strings.Repeat("ab", 32))

	out, err := execute(t, "--config", cfgPath, "secrets", "show")
	require.Error(t, err, "store 尚不存在时只读打开失败")

	out, err = execute(t, "--config", cfgPath, "secrets", "set", "--key", "ABCDEFGHIJKL", "--secret", "s3cret")
	require.NoError(t, err, out)
	assert.Contains(t, out, "ABCD****IJKL")

	out, err = execute(t, "--config", cfgPath, "secrets", "show")
	require.NoError(t, err, out)
	assert.Equal(t, "binance: ABCD****IJKL\n", out)

	out, err = execute(t, "--config", cfgPath, "secrets", "show", "--exchange", "kraken")
	require.NoError(t, err)
	assert.Contains(t, out, "未配置")
}
