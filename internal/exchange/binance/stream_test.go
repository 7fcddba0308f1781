package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookTickerStream_ReceivesUpdates(t *testing.T) {
	upgrader := websocket.Upgrader{}
	paths := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"u":7,"s":"BTCUSDT","b":"60000.1","B":"1","a":"60000.2","A":"2"}`))
		// 保持连接直到客户端关闭
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	s := NewBookTickerStream(wsURL, "BTCUSDT")
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	require.Eventually(t, func() bool {
		_, _, ok := s.Latest("btcusdt")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	tk, age, _ := s.Latest("BTCUSDT")
	assert.True(t, tk.Bid.Equal(decimal.RequireFromString("60000.1")))
	assert.True(t, tk.Ask.Equal(decimal.RequireFromString("60000.2")))
	assert.Less(t, age, streamStaleAfter)
	assert.Equal(t, "/ws/btcusdt@bookTicker", <-paths)

	cancel()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}
}

func TestBookTickerStream_IgnoresInvalidTicker(t *testing.T) {
	s := NewBookTickerStream("", "BTCUSDT")
	defer s.tickers.Close()
	s.handle([]byte(`{"s":"BTCUSDT","b":"0","a":"1"}`))
	_, _, ok := s.Latest("BTCUSDT")
	assert.False(t, ok)
}
