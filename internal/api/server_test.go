package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/signaltrader/internal/coordinator"
	"github.com/betbot/signaltrader/internal/domain"
	"github.com/betbot/signaltrader/internal/lifecycle"
	"github.com/betbot/signaltrader/internal/risk"
)

const token = "s3cret"

type fakeEngine struct {
	mu        sync.Mutex
	submitted []domain.Side
	submitErr error
	result    coordinator.TradeResult
}

func (f *fakeEngine) Submit(ctx context.Context, side domain.Side) (<-chan coordinator.TradeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, side)
	ch := make(chan coordinator.TradeResult, 1)
	ch <- f.result
	return ch, nil
}

func (f *fakeEngine) State(ctx context.Context) (coordinator.Snapshot, error) {
	var s coordinator.Snapshot
	s.Exchange = "paper"
	s.Pair = domain.Pair{Currency: "USDT", Asset: "BTC"}
	s.Balance = domain.Balance{"USDT": decimal.NewFromInt(1000), "BTC": decimal.Zero}
	s.Ticker = domain.Ticker{Bid: decimal.NewFromInt(9), Ask: decimal.NewFromInt(10)}
	s.TradeContext.LastAction = domain.SideBuy
	s.TradeContext.LastBuy = decimal.NewFromInt(10)
	return s, nil
}

func (f *fakeEngine) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

func do(t *testing.T, h http.Handler, method, path, body, auth string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthzNoAuth(t *testing.T) {
	h := New(Config{Token: token}, &fakeEngine{}).Router()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "", "").Code)
}

func TestSignal_Auth(t *testing.T) {
	eng := &fakeEngine{}
	h := New(Config{Token: token}, eng).Router()

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/api/signal", `{"action":"buy"}`, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/api/signal", `{"action":"buy"}`, "wrong").Code)
	assert.Equal(t, 0, eng.count())
}

func TestSignal_BadRequest(t *testing.T) {
	h := New(Config{Token: token}, &fakeEngine{}).Router()
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/signal", `{"action":"hold"}`, token).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/signal", `{}`, token).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/signal", `nope`, token).Code)
}

func TestSignal_AcceptedThenDuplicate(t *testing.T) {
	eng := &fakeEngine{}
	h := New(Config{Token: token, DedupeWindow: time.Minute}, eng).Router()

	w := do(t, h, http.MethodPost, "/api/signal", `{"action":"LONG"}`, token)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"action":"BUY"`)

	w = do(t, h, http.MethodPost, "/api/signal", `{"action":"buy"}`, token)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "duplicate signal")

	// 反方向不受影响
	w = do(t, h, http.MethodPost, "/api/signal", `{"action":"sell"}`, token)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 2, eng.count())
}

func TestSignal_EngineRejections(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{coordinator.ErrLifecycleInFlight, http.StatusConflict},
		{risk.ErrCircuitBreakerOpen, http.StatusServiceUnavailable},
		{coordinator.ErrEngineStopped, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			eng := &fakeEngine{submitErr: tc.err}
			srv := New(Config{Token: token}, eng)
			h := srv.Router()
			assert.Equal(t, tc.code, do(t, h, http.MethodPost, "/api/signal", `{"action":"buy"}`, token).Code)

			// 被拒绝的信号不占用去重窗口
			eng.mu.Lock()
			eng.submitErr = nil
			eng.mu.Unlock()
			assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/api/signal", `{"action":"buy"}`, token).Code)
		})
	}
}

func TestSignal_WaitReturnsOutcome(t *testing.T) {
	eng := &fakeEngine{result: coordinator.TradeResult{Outcome: coordinator.Outcome{
		Side:     domain.SideBuy,
		State:    lifecycle.StateFilled,
		Attempts: 2,
		Order:    &domain.Order{ID: "o-2"},
	}}}
	h := New(Config{Token: token}, eng).Router()

	w := do(t, h, http.MethodPost, "/api/signal", `{"action":"buy","wait":true}`, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got outcomeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "filled", got.State)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, domain.OrderHandle("o-2"), got.OrderID)
}

func TestSignal_WaitExchangeError(t *testing.T) {
	eng := &fakeEngine{result: coordinator.TradeResult{Err: domain.ErrExchangeUnavailable}}
	h := New(Config{Token: token}, eng).Router()
	w := do(t, h, http.MethodPost, "/api/signal", `{"action":"sell","wait":true}`, token)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestState(t *testing.T) {
	h := New(Config{Token: token}, &fakeEngine{}).Router()
	w := do(t, h, http.MethodGet, "/api/state", "", token)
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "USDT-BTC", got["pair"])
	assert.Equal(t, "BUY", got["last_action"])
	assert.Equal(t, "10", got["last_buy"])
	assert.Equal(t, "1000", got["balance"].(map[string]any)["USDT"])
	_, hasFill := got["last_fill_at"]
	assert.False(t, hasFill)
}

func TestResume(t *testing.T) {
	h := New(Config{Token: token}, &fakeEngine{}).Router()
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/resume", "", token).Code)

	br := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{MaxConsecutiveErrors: 1})
	br.OnError()
	require.ErrorIs(t, br.AllowTrading(), risk.ErrCircuitBreakerOpen)
	require.True(t, br.Halted())
	h = New(Config{Token: token, Breaker: br}, &fakeEngine{}).Router()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/resume", "", token).Code)
	assert.False(t, br.Halted())
	assert.NoError(t, br.AllowTrading())
}

func TestDebugVarsBehindAuth(t *testing.T) {
	h := New(Config{Token: token}, &fakeEngine{}).Router()
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/debug/vars", "", "").Code)
	w := do(t, h, http.MethodGet, "/debug/vars", "", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "signals_received")
}
