package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/signaltrader/internal/domain"
	"github.com/betbot/signaltrader/internal/events"
	"github.com/betbot/signaltrader/internal/ledger"
	"github.com/betbot/signaltrader/internal/lifecycle"
	"github.com/betbot/signaltrader/internal/metrics"
	"github.com/betbot/signaltrader/internal/ports"
	"github.com/betbot/signaltrader/internal/sizer"
)

var log = logrus.WithField("component", "coordinator")

// CapabilityLookup 交易所静态能力查询（internal/exchange.Metadata 实现）
type CapabilityLookup interface {
	Lookup(exchange, currency, asset string) (domain.Capabilities, error)
}

// Config 单个交易对的交易配置
type Config struct {
	Exchange string
	Pair     domain.Pair
	// LossAvoidant 开启后，价格比上一次反向成交更差时跳过本次交易
	LossAvoidant bool
	// TradePercent 可选（0-100）
	TradePercent *decimal.Decimal
	Lifecycle    lifecycle.Config
}

// Outcome 一次 Trade 的业务结果。跳过、资金不足、低于最小下单量都是正常结果，不是错误。
type Outcome struct {
	Side       domain.Side
	State      lifecycle.State
	Order      *domain.Order
	Attempts   int
	Reason     error
	SkipReason string
}

// Filled 是否完整成交
func (o Outcome) Filled() bool { return o.State == lifecycle.StateFilled }

func (o Outcome) String() string {
	switch o.State {
	case lifecycle.StateSkipped:
		return fmt.Sprintf("%s skipped: %s", o.Side, o.SkipReason)
	case lifecycle.StateAbandoned:
		return fmt.Sprintf("%s abandoned: %v", o.Side, o.Reason)
	case lifecycle.StateFilled:
		return fmt.Sprintf("%s filled after %d attempt(s), order=%s", o.Side, o.Attempts, o.Order.ID)
	default:
		return fmt.Sprintf("%s %s", o.Side, o.State)
	}
}

// StateView 只读快照（API / 仪表盘展示）
type StateView struct {
	Exchange     string
	Pair         domain.Pair
	Capabilities domain.Capabilities
	Balance      domain.Balance
	Fee          decimal.Decimal
	RefreshedAt  time.Time
	Ticker       domain.Ticker
	TradeContext domain.TradeContext
}

// Coordinator 交易入口：刷新行情与余额 → 规避检查 → 计算规模 → 驱动订单生命周期。
//
// 同一交易对同一时间只应有一个 Trade 在运行（由 Engine 保证）；
// TradeContext/Ticker 用锁保护，供并发的只读查询使用。
type Coordinator struct {
	cfg    Config
	ex     ports.Exchange
	ledger *ledger.Ledger
	caps   domain.Capabilities
	ctl    *lifecycle.Controller

	mu     sync.RWMutex
	tc     domain.TradeContext
	ticker domain.Ticker
}

// New 创建 Coordinator。交易对不在元数据中返回 ErrUnsupportedPair；
// 首次余额刷新缺少 currency/asset 返回 ErrUnknownAsset。
func New(ctx context.Context, cfg Config, ex ports.Exchange, meta CapabilityLookup, opts ...lifecycle.Option) (*Coordinator, error) {
	if cfg.Pair.Currency == "" || cfg.Pair.Asset == "" {
		return nil, fmt.Errorf("currency 和 asset 不能为空")
	}
	if cfg.TradePercent != nil {
		p := *cfg.TradePercent
		if !p.IsPositive() || p.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("trade_percent 必须在 (0, 100] 之间: %s", p)
		}
	}

	caps, err := meta.Lookup(cfg.Exchange, cfg.Pair.Currency, cfg.Pair.Asset)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:    cfg,
		ex:     ex,
		ledger: ledger.New(ex),
		caps:   caps,
	}
	c.ctl = lifecycle.NewController(cfg.Pair, ex, c, c, cfg.Lifecycle, opts...)

	if _, _, err := c.ledger.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("初始余额刷新失败: %w", err)
	}
	if err := c.ledger.Require(cfg.Pair.Currency, cfg.Pair.Asset); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"exchange":       cfg.Exchange,
		"pair":           cfg.Pair.String(),
		"direct":         caps.Direct,
		"infinity_order": caps.InfinityOrder,
		"minimal_order":  caps.MinimalOrder.Amount.String() + " " + string(caps.MinimalOrder.Unit),
		"loss_avoidant":  cfg.LossAvoidant,
	}).Info("交易协调器已初始化")
	return c, nil
}

// Pair 交易对
func (c *Coordinator) Pair() domain.Pair { return c.cfg.Pair }

// Capabilities 交易所能力
func (c *Coordinator) Capabilities() domain.Capabilities { return c.caps }

// Trade 执行一次交易信号。只有交易所错误会返回 error（包装 ErrExchangeUnavailable），
// 其余结果都在 Outcome 中。
func (c *Coordinator) Trade(ctx context.Context, side domain.Side) (Outcome, error) {
	if side != domain.SideBuy && side != domain.SideSell {
		return Outcome{}, fmt.Errorf("invalid side: %q", side)
	}
	metrics.TradesRequested.Add(1)
	log.WithFields(logrus.Fields{"pair": c.cfg.Pair.String(), "side": side}).Info("收到交易信号")

	res, err := c.ctl.Run(ctx, lifecycle.NewLifecycle(side))
	out := Outcome{
		Side:       side,
		State:      res.State,
		Order:      res.Order,
		Attempts:   res.Attempts,
		Reason:     res.Reason,
		SkipReason: res.SkipReason,
	}
	if err != nil {
		return out, err
	}
	log.WithFields(logrus.Fields{"pair": c.cfg.Pair.String()}).Infof("交易结束: %s", out)
	return out, nil
}

// Plan 实现 lifecycle.Planner：依次刷新行情和余额（两者都必须成功），计算规模并做规避检查。
func (c *Coordinator) Plan(ctx context.Context, side domain.Side) (sizer.Plan, string, error) {
	ticker, err := c.ex.GetTicker(ctx)
	if err != nil {
		return sizer.Plan{}, "", fmt.Errorf("%w: get ticker: %w", domain.ErrExchangeUnavailable, err)
	}
	if !ticker.Valid() {
		return sizer.Plan{}, "", fmt.Errorf("%w: invalid ticker bid=%s ask=%s", domain.ErrExchangeUnavailable, ticker.Bid, ticker.Ask)
	}
	c.mu.Lock()
	c.ticker = ticker
	c.mu.Unlock()

	balance, _, err := c.ledger.Refresh(ctx)
	if err != nil {
		return sizer.Plan{}, "", err
	}
	metrics.BalanceRefreshes.Add(1)

	plan, err := sizer.Size(sizer.Input{
		Side:         side,
		Pair:         c.cfg.Pair,
		Ticker:       ticker,
		Balance:      balance,
		Capabilities: c.caps,
		TradePercent: c.cfg.TradePercent,
	})
	if err != nil {
		if errors.Is(err, domain.ErrUnknownAsset) {
			return sizer.Plan{}, "", err
		}
		return sizer.Plan{}, "", fmt.Errorf("sizing %s: %w", side, err)
	}

	log.WithFields(logrus.Fields{
		"pair":      c.cfg.Pair.String(),
		"side":      side,
		"bid":       ticker.Bid.String(),
		"ask":       ticker.Ask.String(),
		"amount":    plan.Amount.String(),
		"price":     plan.EffectivePrice().String(),
		"available": plan.Available.String(),
		"minimum":   plan.Minimum.String(),
		"market":    plan.IsMarket(),
	}).Debug("订单规模")

	if reason := c.avoidLoss(side, plan.EffectivePrice()); reason != "" {
		log.WithFields(logrus.Fields{"pair": c.cfg.Pair.String(), "side": side}).Infof("跳过交易: %s", reason)
		return sizer.Plan{}, reason, nil
	}
	return plan, "", nil
}

// avoidLoss 规避亏损：BUY 价格高于上次卖出价、SELL 价格低于上次买入价时跳过
func (c *Coordinator) avoidLoss(side domain.Side, price decimal.Decimal) string {
	if !c.cfg.LossAvoidant {
		return ""
	}
	tc := c.TradeContext()
	switch side {
	case domain.SideBuy:
		if tc.HasLastSell() && price.GreaterThan(tc.LastSell) {
			return fmt.Sprintf("buy price %s above last sell %s", price, tc.LastSell)
		}
	case domain.SideSell:
		if tc.HasLastBuy() && price.LessThan(tc.LastBuy) {
			return fmt.Sprintf("sell price %s below last buy %s", price, tc.LastBuy)
		}
	}
	return ""
}

// RecordSubmission 实现 lifecycle.Recorder：记录上一次提交的方向
func (c *Coordinator) RecordSubmission(side domain.Side, order *domain.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tc.LastAction = side
	c.tc.UpdatedAt = time.Now()
}

// RecordFill 实现 lifecycle.Recorder：完全成交后才更新 lastBuy/lastSell，
// 撤单重试和未成交的订单不影响规避检查的参考价
func (c *Coordinator) RecordFill(side domain.Side, order *domain.Order, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if side == domain.SideBuy {
		c.tc.LastBuy = price
	} else {
		c.tc.LastSell = price
	}
	c.tc.LastFillAt = time.Now()
	c.tc.UpdatedAt = c.tc.LastFillAt
}

// TradeContext 当前交易上下文（副本）
func (c *Coordinator) TradeContext() domain.TradeContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tc
}

// RefreshBalances 带外刷新余额和手续费（周期任务调用）
func (c *Coordinator) RefreshBalances(ctx context.Context) (events.BalanceRefreshedEvent, error) {
	before := c.ledger.Snapshot()
	balance, fee, err := c.ledger.Refresh(ctx)
	if err != nil {
		return events.BalanceRefreshedEvent{}, err
	}
	metrics.BalanceRefreshes.Add(1)
	ev := events.BalanceRefreshedEvent{
		Pair:      c.cfg.Pair,
		Balance:   balance,
		Fee:       fee,
		Changed:   !before.Equal(balance),
		Timestamp: c.ledger.RefreshedAt(),
	}
	if ev.Changed {
		log.WithFields(logrus.Fields{"pair": c.cfg.Pair.String()}).Infof("余额变化: %v", balance)
	}
	return ev, nil
}

// ReinforcePosition 带外余额刷新后调用：上一次动作是 BUY 时再买一次（把新到账的 currency 也换成 asset），
// 否则什么都不做。traded=false 表示未触发交易。
func (c *Coordinator) ReinforcePosition(ctx context.Context) (out Outcome, traded bool, err error) {
	if c.TradeContext().LastAction != domain.SideBuy {
		return Outcome{}, false, nil
	}
	log.WithFields(logrus.Fields{"pair": c.cfg.Pair.String()}).Info("加仓：上一次动作为 BUY")
	out, err = c.Trade(ctx, domain.SideBuy)
	return out, true, err
}

// State 只读快照
func (c *Coordinator) State() StateView {
	c.mu.RLock()
	ticker, tc := c.ticker, c.tc
	c.mu.RUnlock()
	return StateView{
		Exchange:     c.cfg.Exchange,
		Pair:         c.cfg.Pair,
		Capabilities: c.caps,
		Balance:      c.ledger.Snapshot(),
		Fee:          c.ledger.Fee(),
		RefreshedAt:  c.ledger.RefreshedAt(),
		Ticker:       ticker,
		TradeContext: tc,
	}
}
