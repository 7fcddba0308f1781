package events

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/signaltrader/internal/domain"
)

// LifecycleEvent 订单生命周期状态迁移事件（每次迁移一条）。
// 外部 sink 可据此完整重建一次交易的生命周期。
type LifecycleEvent struct {
	Time    time.Time
	Pair    domain.Pair
	Side    domain.Side
	From    string // 迁移前状态
	To      string // 迁移后状态
	Attempt int    // 第几次提交（Sizing 之前为 0）

	OrderID domain.OrderHandle
	Amount  decimal.Decimal
	Price   *decimal.Decimal // nil = 市价单 / 尚未定价
	Minimum decimal.Decimal

	// Reason 附加说明：跳过原因、业务拒绝原因、错误信息等
	Reason string
}

// PriceString 用于展示
func (e LifecycleEvent) PriceString() string {
	if e.Price == nil {
		return "-"
	}
	return e.Price.String()
}

func (e LifecycleEvent) String() string {
	s := fmt.Sprintf("[%s %s #%d] %s -> %s", e.Pair, e.Side, e.Attempt, e.From, e.To)
	if e.OrderID != "" {
		s += fmt.Sprintf(" order=%s", e.OrderID)
	}
	if !e.Amount.IsZero() {
		s += fmt.Sprintf(" amount=%s price=%s", e.Amount, e.PriceString())
	}
	if e.Reason != "" {
		s += " reason=" + e.Reason
	}
	return s
}

// BalanceRefreshedEvent 余额刷新事件（周期刷新 / 启动刷新）
type BalanceRefreshedEvent struct {
	Pair      domain.Pair
	Balance   domain.Balance
	Fee       decimal.Decimal
	Changed   bool
	Timestamp time.Time
}
