package lifecycle

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/signaltrader/internal/domain"
	"github.com/betbot/signaltrader/internal/sizer"
)

// State 订单生命周期状态
//
//	Sizing → Checking → Submitted → Monitoring → {Filled, Cancelling → Sizing}
//
// 另有两个终态：Abandoned（资金不足/低于最小下单量）与 Skipped（重新规划时被规避策略跳过）。
type State int

const (
	StateSizing State = iota
	StateChecking
	StateSubmitted
	StateMonitoring
	StateCancelling
	StateFilled
	StateAbandoned
	StateSkipped
)

var stateNames = [...]string{
	StateSizing:     "sizing",
	StateChecking:   "checking",
	StateSubmitted:  "submitted",
	StateMonitoring: "monitoring",
	StateCancelling: "cancelling",
	StateFilled:     "filled",
	StateAbandoned:  "abandoned",
	StateSkipped:    "skipped",
}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal 是否为终态
func (s State) Terminal() bool {
	return s == StateFilled || s == StateAbandoned || s == StateSkipped
}

// Clock 计时抽象（测试中注入假时钟，不依赖真实定时器）
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

// RealClock 使用 time.After
type RealClock struct{}

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Planner 为某个方向重新计算订单（刷新行情/余额 + 规避检查 + 规模计算）。
// skipReason 非空表示本次不下单。
type Planner interface {
	Plan(ctx context.Context, side domain.Side) (plan sizer.Plan, skipReason string, err error)
}

// PlannerFunc 函数适配器
type PlannerFunc func(ctx context.Context, side domain.Side) (sizer.Plan, string, error)

func (f PlannerFunc) Plan(ctx context.Context, side domain.Side) (sizer.Plan, string, error) {
	return f(ctx, side)
}

// Recorder 接收提交/成交结果（由 Trade Coordinator 实现，用于更新 TradeContext）。
// 提交只记录方向；成交价只在完全成交时记录，price 为下单和校验使用的价格（市价单为参考价）。
type Recorder interface {
	RecordSubmission(side domain.Side, order *domain.Order)
	RecordFill(side domain.Side, order *domain.Order, price decimal.Decimal)
}

// Lifecycle 单个订单生命周期的可变状态。测试可以直接构造并逐步驱动。
type Lifecycle struct {
	Side    domain.Side
	State   State
	Plan    sizer.Plan
	Order   *domain.Order
	Attempt int

	// Reason 终态原因：Abandoned 时为 ErrInsufficientFunds / ErrOrderTooSmall
	Reason error
	// SkipReason Skipped 时的说明
	SkipReason string
}

// NewLifecycle 从 Sizing 开始的新生命周期
func NewLifecycle(side domain.Side) *Lifecycle {
	return &Lifecycle{Side: side, State: StateSizing}
}

// Result 生命周期的终态结果
type Result struct {
	State      State
	Order      *domain.Order
	Attempts   int
	Reason     error
	SkipReason string
}
