// Package paper 模拟交易所（dry run）。
//
// 余额在下单时冻结，成交时按手续费结算，撤单时退回。盘口可以手动设置，
// 也可以来自真实交易所的公开行情（WithTickerFeed），从而在不动用资金的情况下
// 观察策略在真实价格下的表现。
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/signaltrader/internal/domain"
	"github.com/betbot/signaltrader/internal/ports"
)

var log = logrus.WithField("component", "paper_exchange")

// dust 允许的舍入误差（Div 精度带来的末位误差）
var dust = decimal.New(1, -8)

// Order 模拟订单
type Order struct {
	Handle   domain.OrderHandle
	Side     domain.Side
	Amount   decimal.Decimal
	Price    *decimal.Decimal
	Locked   decimal.Decimal // 冻结量：BUY 为 currency，SELL 为 asset
	Status   domain.OrderStatus
	PlacedAt time.Time
	FilledAt *time.Time
	// CanceledAt 撤单时间
	CanceledAt *time.Time
	FillAt     decimal.Decimal // 成交价
}

// Exchange 单交易对的模拟交易所
type Exchange struct {
	mu       sync.Mutex
	pair     domain.Pair
	balances domain.Balance
	fee      decimal.Decimal
	ticker   domain.Ticker
	feed     ports.TickerGetter
	orders   map[domain.OrderHandle]*Order
	now      func() time.Time
}

// Option 配置项
type Option func(*Exchange)

// WithTicker 设置初始盘口
func WithTicker(t domain.Ticker) Option { return func(e *Exchange) { e.ticker = t } }

// WithTickerFeed 每次 GetTicker / CheckOrder 从 feed 获取最新盘口
func WithTickerFeed(feed ports.TickerGetter) Option { return func(e *Exchange) { e.feed = feed } }

// New 创建模拟交易所；balances 会被复制
func New(pair domain.Pair, balances domain.Balance, fee decimal.Decimal, opts ...Option) *Exchange {
	e := &Exchange{
		pair:     pair,
		balances: balances.Clone(),
		fee:      fee,
		orders:   make(map[domain.OrderHandle]*Order),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ ports.Exchange = (*Exchange)(nil)

func (e *Exchange) GetPortfolio(ctx context.Context) (domain.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balances.Clone(), nil
}

func (e *Exchange) GetFee(ctx context.Context) (decimal.Decimal, error) {
	return e.fee, nil
}

func (e *Exchange) GetTicker(ctx context.Context) (domain.Ticker, error) {
	if err := e.pullTicker(ctx); err != nil {
		return domain.Ticker{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ticker.Valid() {
		return domain.Ticker{}, fmt.Errorf("paper: no ticker for %s", e.pair)
	}
	return e.ticker, nil
}

// SetTicker 手动更新盘口（无 feed 时使用）
func (e *Exchange) SetTicker(t domain.Ticker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ticker = t
}

func (e *Exchange) pullTicker(ctx context.Context) error {
	if e.feed == nil {
		return nil
	}
	t, err := e.feed.GetTicker(ctx)
	if err != nil {
		return fmt.Errorf("paper: ticker feed: %w", err)
	}
	e.SetTicker(t)
	return nil
}

func (e *Exchange) Buy(ctx context.Context, amount decimal.Decimal, price *decimal.Decimal) (domain.OrderHandle, error) {
	return e.place(ctx, domain.SideBuy, amount, price)
}

func (e *Exchange) Sell(ctx context.Context, amount decimal.Decimal, price *decimal.Decimal) (domain.OrderHandle, error) {
	return e.place(ctx, domain.SideSell, amount, price)
}

func (e *Exchange) place(ctx context.Context, side domain.Side, amount decimal.Decimal, price *decimal.Decimal) (domain.OrderHandle, error) {
	if !amount.IsPositive() {
		return "", fmt.Errorf("paper: invalid amount %s", amount)
	}
	if price != nil && !price.IsPositive() {
		return "", fmt.Errorf("paper: invalid price %s", price)
	}
	if err := e.pullTicker(ctx); err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	execPrice := e.ticker.ReferencePrice(side)
	if price != nil {
		execPrice = *price
	}
	if !execPrice.IsPositive() {
		return "", fmt.Errorf("paper: no ticker for %s", e.pair)
	}

	// 超过余额的下单量截断到可用余额（与 infinity-order 交易所行为一致）
	var locked decimal.Decimal
	switch side {
	case domain.SideBuy:
		free := e.balances[e.pair.Currency]
		locked = amount.Mul(execPrice)
		if locked.GreaterThan(free) {
			if locked.Sub(free).GreaterThan(dust) {
				amount = free.Div(execPrice)
			}
			locked = free
		}
		e.balances[e.pair.Currency] = free.Sub(locked)
	case domain.SideSell:
		free := e.balances[e.pair.Asset]
		if amount.GreaterThan(free) {
			amount = free
		}
		locked = amount
		e.balances[e.pair.Asset] = free.Sub(locked)
	}
	if !amount.IsPositive() {
		e.refund(side, locked)
		return "", fmt.Errorf("paper: insufficient balance for %s %s", side, e.pair)
	}

	o := &Order{
		Handle:   domain.OrderHandle(uuid.NewString()),
		Side:     side,
		Amount:   amount,
		Price:    price,
		Locked:   locked,
		Status:   domain.OrderStatusOpen,
		PlacedAt: e.now(),
	}
	e.orders[o.Handle] = o
	e.tryFill(o)

	log.WithFields(logrus.Fields{
		"order":  o.Handle,
		"side":   side,
		"amount": amount.String(),
		"price":  execPrice.String(),
		"status": o.Status,
	}).Info("PAPER 下单")
	return o.Handle, nil
}

func (e *Exchange) refund(side domain.Side, locked decimal.Decimal) {
	sym := e.pair.Asset
	if side == domain.SideBuy {
		sym = e.pair.Currency
	}
	e.balances[sym] = e.balances[sym].Add(locked)
}

// tryFill 按当前盘口撮合：市价单立即成交；限价 BUY 价格 >= ask、SELL 价格 <= bid 时成交
func (e *Exchange) tryFill(o *Order) {
	if o.Status != domain.OrderStatusOpen {
		return
	}
	ref := e.ticker.ReferencePrice(o.Side)
	fillPrice := ref
	if o.Price != nil {
		if !ref.IsPositive() {
			return
		}
		if o.Side == domain.SideBuy && o.Price.LessThan(ref) {
			return
		}
		if o.Side == domain.SideSell && o.Price.GreaterThan(ref) {
			return
		}
		fillPrice = *o.Price
	}

	keep := decimal.NewFromInt(1).Sub(e.fee)
	switch o.Side {
	case domain.SideBuy:
		// 冻结的 currency 全部按成交价换成 asset，手续费从 asset 中扣除
		e.balances[e.pair.Asset] = e.balances[e.pair.Asset].Add(o.Amount.Mul(keep))
		if spent := o.Amount.Mul(fillPrice); spent.LessThan(o.Locked) {
			e.balances[e.pair.Currency] = e.balances[e.pair.Currency].Add(o.Locked.Sub(spent))
		}
	case domain.SideSell:
		e.balances[e.pair.Currency] = e.balances[e.pair.Currency].Add(o.Amount.Mul(fillPrice).Mul(keep))
	}
	now := e.now()
	o.Status = domain.OrderStatusFilled
	o.FilledAt = &now
	o.FillAt = fillPrice
}

func (e *Exchange) CheckOrder(ctx context.Context, handle domain.OrderHandle) (bool, error) {
	if err := e.pullTicker(ctx); err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[handle]
	if !ok {
		return false, fmt.Errorf("paper: order not found: %s", handle)
	}
	e.tryFill(o)
	return o.Status == domain.OrderStatusFilled, nil
}

func (e *Exchange) CancelOrder(ctx context.Context, handle domain.OrderHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[handle]
	if !ok {
		return fmt.Errorf("paper: order not found: %s", handle)
	}
	if o.Status != domain.OrderStatusOpen {
		return fmt.Errorf("paper: cannot cancel %s order %s", o.Status, handle)
	}
	e.refund(o.Side, o.Locked)
	now := e.now()
	o.Status = domain.OrderStatusCanceled
	o.CanceledAt = &now
	log.WithField("order", handle).Info("PAPER 撤单")
	return nil
}

// Order 返回订单副本
func (e *Exchange) Order(handle domain.OrderHandle) (Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[handle]
	if !ok {
		return Order{}, false
	}
	return *o, true
}
