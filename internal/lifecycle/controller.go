package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/signaltrader/internal/domain"
	"github.com/betbot/signaltrader/internal/events"
	"github.com/betbot/signaltrader/internal/metrics"
	"github.com/betbot/signaltrader/internal/ports"
)

var log = logrus.WithField("component", "lifecycle")

const (
	// DefaultFillCheckDelay 下单后等待多久检查成交
	DefaultFillCheckDelay = 30 * time.Second
	// DefaultCancelCooldown 撤单后等待多久再重新下单。
	// 同一最小时间分辨率内先撤后下，交易所可能拒绝或乱序。
	DefaultCancelCooldown = 1 * time.Second
)

// Exchange 生命周期需要的交易所能力
type Exchange interface {
	ports.OrderPlacer
	ports.OrderChecker
	ports.OrderCanceler
}

// Config 生命周期配置（<=0 使用默认值）
type Config struct {
	FillCheckDelay time.Duration
	CancelCooldown time.Duration
}

// Controller 订单生命周期控制器：下单 → 定时检查成交 → 未完全成交则撤单并重新规划。
//
// 同一交易对同一时间只允许一个生命周期在运行（由上层 Engine 保证）。
type Controller struct {
	pair     domain.Pair
	exchange Exchange
	planner  Planner
	recorder Recorder
	clock    Clock
	sink     ports.EventSink
	cfg      Config
}

// Option 可选配置
type Option func(*Controller)

// WithClock 注入时钟
func WithClock(c Clock) Option { return func(ctl *Controller) { ctl.clock = c } }

// WithEventSink 注入事件 sink
func WithEventSink(s ports.EventSink) Option { return func(ctl *Controller) { ctl.sink = s } }

// NewController 创建控制器
func NewController(pair domain.Pair, ex Exchange, planner Planner, recorder Recorder, cfg Config, opts ...Option) *Controller {
	if cfg.FillCheckDelay <= 0 {
		cfg.FillCheckDelay = DefaultFillCheckDelay
	}
	if cfg.CancelCooldown <= 0 {
		cfg.CancelCooldown = DefaultCancelCooldown
	}
	c := &Controller{
		pair:     pair,
		exchange: ex,
		planner:  planner,
		recorder: recorder,
		clock:    RealClock{},
		sink:     ports.NopSink{},
		cfg:      cfg,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run 驱动生命周期直到终态。
//
// Run 不响应调用方的取消：一旦开始，等待总会走完再行动，
// 中途放弃可能导致交易所上残留订单后又重复下单。
// 只有交易所错误会提前返回（包装为 ErrExchangeUnavailable）。
func (c *Controller) Run(ctx context.Context, lc *Lifecycle) (Result, error) {
	ctx = context.WithoutCancel(ctx)
	for !lc.State.Terminal() {
		if err := c.Step(ctx, lc); err != nil {
			metrics.ExchangeErrors.Add(1)
			log.WithFields(logrus.Fields{
				"pair":  c.pair.String(),
				"side":  lc.Side,
				"state": lc.State.String(),
			}).Errorf("生命周期中断: %v", err)
			return c.result(lc), err
		}
	}
	return c.result(lc), nil
}

func (c *Controller) result(lc *Lifecycle) Result {
	return Result{
		State:      lc.State,
		Order:      lc.Order,
		Attempts:   lc.Attempt,
		Reason:     lc.Reason,
		SkipReason: lc.SkipReason,
	}
}

// Step 执行当前状态的一次迁移
func (c *Controller) Step(ctx context.Context, lc *Lifecycle) error {
	switch lc.State {
	case StateSizing:
		return c.size(ctx, lc)
	case StateChecking:
		return c.check(ctx, lc)
	case StateSubmitted:
		c.transition(lc, StateMonitoring, fmt.Sprintf("fill check in %s", c.cfg.FillCheckDelay))
		return nil
	case StateMonitoring:
		return c.monitor(ctx, lc)
	case StateCancelling:
		return c.cancel(ctx, lc)
	default:
		return fmt.Errorf("step on terminal state %s", lc.State)
	}
}

// size: 重新规划（刷新行情和余额，余额可能因部分成交而变化）
func (c *Controller) size(ctx context.Context, lc *Lifecycle) error {
	plan, skip, err := c.planner.Plan(ctx, lc.Side)
	if err != nil {
		return err
	}
	if skip != "" {
		lc.SkipReason = skip
		metrics.TradesSkipped.Add(1)
		c.transition(lc, StateSkipped, skip)
		return nil
	}
	lc.Plan = plan
	lc.Order = nil
	c.transition(lc, StateChecking, "")
	return nil
}

// check: 下单前校验，两项都通过才提交；失败则放弃本次生命周期（不自动重试）
func (c *Controller) check(ctx context.Context, lc *Lifecycle) error {
	plan := lc.Plan
	if !plan.Unbounded && plan.Amount.GreaterThan(plan.Available) {
		lc.Reason = fmt.Errorf("%w: amount %s > available %s", domain.ErrInsufficientFunds, plan.Amount, plan.Available)
		c.abandon(lc)
		return nil
	}
	if plan.Amount.LessThan(plan.Minimum) {
		lc.Reason = fmt.Errorf("%w: amount %s < minimum %s", domain.ErrOrderTooSmall, plan.Amount, plan.Minimum)
		c.abandon(lc)
		return nil
	}

	var (
		handle domain.OrderHandle
		err    error
	)
	if lc.Side == domain.SideBuy {
		handle, err = c.exchange.Buy(ctx, plan.Amount, plan.Price)
	} else {
		handle, err = c.exchange.Sell(ctx, plan.Amount, plan.Price)
	}
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", domain.ErrExchangeUnavailable, lc.Side, plan.Amount, err)
	}

	lc.Attempt++
	lc.Order = &domain.Order{
		ID:        handle,
		Side:      lc.Side,
		Amount:    plan.Amount,
		Price:     plan.Price,
		Status:    domain.OrderStatusOpen,
		Attempt:   lc.Attempt,
		CreatedAt: time.Now(),
	}
	metrics.OrdersSubmitted.Add(1)
	if c.recorder != nil {
		c.recorder.RecordSubmission(lc.Side, lc.Order)
	}
	log.WithFields(logrus.Fields{
		"pair":    c.pair.String(),
		"side":    lc.Side,
		"order":   handle,
		"amount":  plan.Amount.String(),
		"price":   lc.Order.PriceString(),
		"attempt": lc.Attempt,
	}).Info("订单已提交")
	c.transition(lc, StateSubmitted, "")
	return nil
}

func (c *Controller) abandon(lc *Lifecycle) {
	metrics.OrdersAbandoned.Add(1)
	log.WithFields(logrus.Fields{
		"pair":      c.pair.String(),
		"side":      lc.Side,
		"amount":    lc.Plan.Amount.String(),
		"available": lc.Plan.Available.String(),
		"minimum":   lc.Plan.Minimum.String(),
	}).Infof("放弃下单: %v", lc.Reason)
	c.transition(lc, StateAbandoned, lc.Reason.Error())
}

// monitor: 等待固定时长后检查成交
func (c *Controller) monitor(ctx context.Context, lc *Lifecycle) error {
	<-c.clock.After(c.cfg.FillCheckDelay)

	filled, err := c.exchange.CheckOrder(ctx, lc.Order.ID)
	if err != nil {
		return fmt.Errorf("%w: check order %s: %w", domain.ErrExchangeUnavailable, lc.Order.ID, err)
	}
	if filled {
		now := time.Now()
		lc.Order.Status = domain.OrderStatusFilled
		lc.Order.FilledAt = &now
		metrics.OrdersFilled.Add(1)
		if c.recorder != nil {
			c.recorder.RecordFill(lc.Side, lc.Order, lc.Plan.EffectivePrice())
		}
		log.WithFields(logrus.Fields{
			"pair":  c.pair.String(),
			"side":  lc.Side,
			"order": lc.Order.ID,
			"price": lc.Plan.EffectivePrice().String(),
		}).Info("订单已完全成交")
		c.transition(lc, StateFilled, "")
		return nil
	}

	lc.Order.Status = domain.OrderStatusCanceling
	c.transition(lc, StateCancelling, domain.ErrIncompleteFill.Error())
	return nil
}

// cancel: 撤单，冷却后回到 Sizing（同方向重新规划）
func (c *Controller) cancel(ctx context.Context, lc *Lifecycle) error {
	if err := c.exchange.CancelOrder(ctx, lc.Order.ID); err != nil {
		return fmt.Errorf("%w: cancel order %s: %w", domain.ErrExchangeUnavailable, lc.Order.ID, err)
	}
	now := time.Now()
	lc.Order.Status = domain.OrderStatusCanceled
	lc.Order.CanceledAt = &now
	metrics.OrdersRetried.Add(1)
	log.WithFields(logrus.Fields{
		"pair":  c.pair.String(),
		"side":  lc.Side,
		"order": lc.Order.ID,
	}).Infof("订单未完全成交，已撤单，%s 后重新下单", c.cfg.CancelCooldown)

	<-c.clock.After(c.cfg.CancelCooldown)

	c.transition(lc, StateSizing, "retry")
	return nil
}

func (c *Controller) transition(lc *Lifecycle, to State, reason string) {
	from := lc.State
	lc.State = to

	ev := events.LifecycleEvent{
		Time:    time.Now(),
		Pair:    c.pair,
		Side:    lc.Side,
		From:    from.String(),
		To:      to.String(),
		Attempt: lc.Attempt,
		Amount:  lc.Plan.Amount,
		Price:   lc.Plan.Price,
		Minimum: lc.Plan.Minimum,
		Reason:  reason,
	}
	if lc.Order != nil {
		ev.OrderID = lc.Order.ID
	}
	log.Debugf("lifecycle %s", ev)
	c.sink.OnLifecycleEvent(ev)
}
