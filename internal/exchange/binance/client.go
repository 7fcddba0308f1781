// Package binance 币安现货交易接口（REST + bookTicker 行情流）。
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/signaltrader/internal/domain"
	"github.com/betbot/signaltrader/internal/ports"
	"github.com/betbot/signaltrader/pkg/ratelimit"
)

var log = logrus.WithField("component", "binance")

const (
	DefaultBaseURL = "https://api.binance.com"

	// 限流类别
	classRequest = "request"
	classOrder   = "order"

	// 接口权重（https://developers.binance.com/docs/binance-spot-api-docs/rest-api）
	weightAccount      = 20
	weightCommission   = 20
	weightBookTicker   = 2
	weightExchangeInfo = 20
	weightOrder        = 1
	weightQueryOrder   = 4

	// 行情流数据超过该时长视为过期，改走 REST
	streamStaleAfter = 5 * time.Second
)

// Config 客户端配置
type Config struct {
	BaseURL         string
	APIKey          string
	APISecret       string
	RecvWindow      time.Duration
	WeightPerMinute int
	Pair            domain.Pair
}

// Client 单交易对的币安现货客户端，实现 ports.Exchange
type Client struct {
	http       *resty.Client
	apiKey     string
	secret     []byte
	recvWindow time.Duration
	pair       domain.Pair
	symbol     string
	limits     *ratelimit.Manager
	stream     *BookTickerStream
	now        func() time.Time

	filtersMu sync.Mutex
	filters   *symbolFilters
}

var _ ports.Exchange = (*Client)(nil)

// apiError 币安错误响应体
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Symbol 币安交易对名称：asset + currency，例如 BTCUSDT
func Symbol(p domain.Pair) string {
	return strings.ToUpper(p.Asset + p.Currency)
}

// NewClient 创建客户端
func NewClient(cfg Config) *Client {
	host := strings.TrimSuffix(cfg.BaseURL, "/")
	if host == "" {
		host = DefaultBaseURL
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = 5 * time.Second
	}
	if cfg.WeightPerMinute <= 0 {
		cfg.WeightPerMinute = 1200
	}

	hc := resty.New().
		SetBaseURL(host).
		SetTimeout(15*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流时遵守 Retry-After
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if s, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil {
					return time.Duration(s) * time.Second, nil
				}
				return 10 * time.Second, nil
			}
			return 0, nil
		}).
		// resty 默认只在请求出错时重试；429 是正常响应，需要显式加入重试条件
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return resp != nil && resp.StatusCode() == http.StatusTooManyRequests
		}).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "signaltrader")

	limits := ratelimit.NewManager(ratelimit.NewTokenBucket(cfg.WeightPerMinute, time.Minute))
	// 下单另有每 10 秒 50 单的限制
	limits.Register(classOrder, ratelimit.NewTokenBucket(50, 10*time.Second))

	return &Client{
		http:       hc,
		apiKey:     cfg.APIKey,
		secret:     []byte(cfg.APISecret),
		recvWindow: cfg.RecvWindow,
		pair:       cfg.Pair,
		symbol:     Symbol(cfg.Pair),
		limits:     limits,
		now:        time.Now,
	}
}

// WithStream 使用 bookTicker 行情流作为 GetTicker 的首选来源
func (c *Client) WithStream(s *BookTickerStream) *Client {
	c.stream = s
	return c
}

// sign 对 query 做 HMAC-SHA256 签名
func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// do 执行请求。signed 请求追加 timestamp/recvWindow/signature 并携带 API key。
func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool, class string, weight int, out any) error {
	if err := c.limits.Wait(ctx, class, weight); err != nil {
		return errors.Wrap(err, "rate limit")
	}
	if params == nil {
		params = url.Values{}
	}

	r := c.http.R().SetContext(ctx)
	// query 直接拼在 URL 上：签名覆盖的字节序列必须与发送的一致，signature 放在最后
	query := params.Encode()
	if signed {
		if c.apiKey == "" || len(c.secret) == 0 {
			return errors.New("binance: missing api credentials")
		}
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		params.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
		query = params.Encode()
		query += "&signature=" + c.sign(query)
		r.SetHeader("X-MBX-APIKEY", c.apiKey)
	}
	target := path
	if query != "" {
		target += "?" + query
	}

	var apiErr apiError
	r.SetError(&apiErr)
	if out != nil {
		r.SetResult(out)
	}

	resp, err := r.Execute(method, target)
	if err != nil {
		return errors.Wrapf(err, "binance %s %s", method, path)
	}
	if resp.IsError() {
		if apiErr.Code != 0 || apiErr.Msg != "" {
			return errors.Errorf("binance %s %s: http %d code=%d msg=%s", method, path, resp.StatusCode(), apiErr.Code, apiErr.Msg)
		}
		return errors.Errorf("binance %s %s: http %d: %s", method, path, resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	}
	return nil
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// GetPortfolio 返回可用（free）余额；冻结部分不计入
func (c *Client) GetPortfolio(ctx context.Context) (domain.Balance, error) {
	var resp accountResponse
	params := url.Values{"omitZeroBalances": {"false"}}
	if err := c.do(ctx, http.MethodGet, "/api/v3/account", params, true, classRequest, weightAccount, &resp); err != nil {
		return nil, err
	}
	out := make(domain.Balance, len(resp.Balances))
	for _, b := range resp.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s balance %q", b.Asset, b.Free)
		}
		out[strings.ToUpper(b.Asset)] = free
	}
	return out, nil
}

type commissionResponse struct {
	Symbol             string `json:"symbol"`
	StandardCommission struct {
		Maker string `json:"maker"`
		Taker string `json:"taker"`
	} `json:"standardCommission"`
}

// GetFee 返回该交易对的 taker 费率（保守取值）
func (c *Client) GetFee(ctx context.Context) (decimal.Decimal, error) {
	var resp commissionResponse
	params := url.Values{"symbol": {c.symbol}}
	if err := c.do(ctx, http.MethodGet, "/api/v3/account/commission", params, true, classRequest, weightCommission, &resp); err != nil {
		return decimal.Zero, err
	}
	fee, err := decimal.NewFromString(resp.StandardCommission.Taker)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse taker commission %q", resp.StandardCommission.Taker)
	}
	return fee, nil
}

type bookTickerResponse struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
}

// GetTicker 优先使用行情流的最新盘口，过期或无数据时走 REST
func (c *Client) GetTicker(ctx context.Context) (domain.Ticker, error) {
	if c.stream != nil {
		if t, age, ok := c.stream.Latest(c.symbol); ok && age < streamStaleAfter {
			return t, nil
		}
	}
	var resp bookTickerResponse
	params := url.Values{"symbol": {c.symbol}}
	if err := c.do(ctx, http.MethodGet, "/api/v3/ticker/bookTicker", params, false, classRequest, weightBookTicker, &resp); err != nil {
		return domain.Ticker{}, err
	}
	return parseTicker(resp.BidPrice, resp.AskPrice)
}

func parseTicker(bid, ask string) (domain.Ticker, error) {
	b, err := decimal.NewFromString(bid)
	if err != nil {
		return domain.Ticker{}, errors.Wrapf(err, "parse bid %q", bid)
	}
	a, err := decimal.NewFromString(ask)
	if err != nil {
		return domain.Ticker{}, errors.Wrapf(err, "parse ask %q", ask)
	}
	return domain.Ticker{Bid: b, Ask: a}, nil
}

func (c *Client) Buy(ctx context.Context, amount decimal.Decimal, price *decimal.Decimal) (domain.OrderHandle, error) {
	return c.placeOrder(ctx, domain.SideBuy, amount, price)
}

func (c *Client) Sell(ctx context.Context, amount decimal.Decimal, price *decimal.Decimal) (domain.OrderHandle, error) {
	return c.placeOrder(ctx, domain.SideSell, amount, price)
}

type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
}

// placeOrder 下单。订单句柄使用本地生成的 clientOrderId，响应丢失时仍可查询/撤单。
func (c *Client) placeOrder(ctx context.Context, side domain.Side, amount decimal.Decimal, price *decimal.Decimal) (domain.OrderHandle, error) {
	f, err := c.symbolFilters(ctx)
	if err != nil {
		return "", err
	}
	qty := f.quantity(amount)
	if !qty.IsPositive() {
		return "", errors.Errorf("binance: quantity %s rounds to zero (step %s)", amount, f.stepSize)
	}

	clientID := uuid.NewString()
	params := url.Values{
		"symbol":           {c.symbol},
		"side":             {side.String()},
		"quantity":         {qty.String()},
		"newClientOrderId": {clientID},
		"newOrderRespType": {"RESULT"},
	}
	if price != nil {
		params.Set("type", "LIMIT")
		params.Set("timeInForce", "GTC")
		params.Set("price", f.price(*price, side).String())
	} else {
		params.Set("type", "MARKET")
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/api/v3/order", params, true, classOrder, weightOrder, &resp); err != nil {
		return "", err
	}
	log.WithFields(logrus.Fields{
		"symbol":   c.symbol,
		"side":     side,
		"qty":      qty.String(),
		"clientId": clientID,
		"orderId":  resp.OrderID,
		"status":   resp.Status,
	}).Info("币安下单成功")
	return domain.OrderHandle(clientID), nil
}

// CheckOrder status == FILLED 才算完全成交
func (c *Client) CheckOrder(ctx context.Context, handle domain.OrderHandle) (bool, error) {
	var resp orderResponse
	params := url.Values{"symbol": {c.symbol}, "origClientOrderId": {string(handle)}}
	if err := c.do(ctx, http.MethodGet, "/api/v3/order", params, true, classRequest, weightQueryOrder, &resp); err != nil {
		return false, err
	}
	return resp.Status == "FILLED", nil
}

func (c *Client) CancelOrder(ctx context.Context, handle domain.OrderHandle) error {
	params := url.Values{"symbol": {c.symbol}, "origClientOrderId": {string(handle)}}
	return c.do(ctx, http.MethodDelete, "/api/v3/order", params, true, classRequest, weightOrder, nil)
}
