package binance

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/betbot/signaltrader/internal/domain"
	"github.com/betbot/signaltrader/pkg/cache"
)

const DefaultStreamURL = "wss://stream.binance.com:9443/ws"

// BookTickerStream 订阅 <symbol>@bookTicker，把最优买卖价写入缓存。
// 断线后自动重连；缓存条目过期即视为无数据，调用方回退到 REST。
type BookTickerStream struct {
	url     string
	symbols []string
	tickers *cache.InMemoryCache[string, domain.Ticker]

	connMu sync.Mutex
	conn   *websocket.Conn

	reconnectDelay time.Duration
	done           chan struct{}
}

// NewBookTickerStream baseURL 形如 wss://stream.binance.com:9443/ws
func NewBookTickerStream(baseURL string, symbols ...string) *BookTickerStream {
	if baseURL == "" {
		baseURL = DefaultStreamURL
	}
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(s)+"@bookTicker")
	}
	return &BookTickerStream{
		url:            strings.TrimSuffix(baseURL, "/") + "/" + strings.Join(streams, "/"),
		symbols:        symbols,
		tickers:        cache.NewInMemoryCache[string, domain.Ticker](30*time.Second, time.Minute),
		reconnectDelay: 2 * time.Second,
		done:           make(chan struct{}),
	}
}

// Start 后台运行直到 ctx 取消
func (s *BookTickerStream) Start(ctx context.Context) {
	go s.run(ctx)
}

// Done 在后台协程退出后关闭
func (s *BookTickerStream) Done() <-chan struct{} { return s.done }

// Latest 返回最新盘口及其数据年龄
func (s *BookTickerStream) Latest(symbol string) (domain.Ticker, time.Duration, bool) {
	return s.tickers.GetWithAge(strings.ToUpper(symbol))
}

func (s *BookTickerStream) run(ctx context.Context) {
	defer close(s.done)
	defer s.tickers.Close()

	// ctx 取消时关闭连接，打断阻塞的 ReadMessage
	go func() {
		<-ctx.Done()
		s.closeConn()
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
		conn, _, err := dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			log.Warnf("连接 bookTicker 行情流失败: %v", err)
			if !sleepCtx(ctx, s.reconnectDelay) {
				return
			}
			continue
		}

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()
		log.Infof("bookTicker 行情流已连接: %v", s.symbols)

		if err := s.readLoop(ctx, conn); err != nil && ctx.Err() == nil {
			log.Warnf("bookTicker readLoop 退出: %v", err)
		}
		s.closeConn()

		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

func (s *BookTickerStream) closeConn() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

type bookTickerEvent struct {
	UpdateID int64  `json:"u"`
	Symbol   string `json:"s"`
	Bid      string `json:"b"`
	Ask      string `json:"a"`
}

func (s *BookTickerStream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handle(msg)
	}
}

func (s *BookTickerStream) handle(msg []byte) {
	var ev bookTickerEvent
	if err := json.Unmarshal(msg, &ev); err != nil || ev.Symbol == "" {
		return
	}
	t, err := parseTicker(ev.Bid, ev.Ask)
	if err != nil || !t.Valid() {
		return
	}
	s.tickers.Set(strings.ToUpper(ev.Symbol), t, 0)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
