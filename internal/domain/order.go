package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide 解析信号方向（大小写不敏感，支持 buy/long/sell/short）
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG":
		return SideBuy, nil
	case "SELL", "SHORT":
		return SideSell, nil
	default:
		return "", fmt.Errorf("unknown side: %q", s)
	}
}

// Opposite 返回反方向
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) String() string { return string(s) }

// OrderHandle 交易所返回的订单句柄（交易所订单 ID）
type OrderHandle string

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"   // 待提交
	OrderStatusOpen      OrderStatus = "open"      // 已提交，等待成交检查
	OrderStatusFilled    OrderStatus = "filled"    // 已全部成交
	OrderStatusCanceling OrderStatus = "canceling" // 未完全成交，撤单中
	OrderStatusCanceled  OrderStatus = "canceled"  // 已撤单（将被新订单取代）
)

// Order 订单领域模型
//
// Price 为 nil 表示市价单（direct exchange）。
// 订单只在一次生命周期内存在：成交或被重试取代后即丢弃，不做持久化。
type Order struct {
	ID         OrderHandle      // 交易所订单 ID
	Side       Side             // 订单方向
	Amount     decimal.Decimal  // 下单数量（asset 单位）
	Price      *decimal.Decimal // 限价（nil = 市价单）
	Status     OrderStatus      // 订单状态
	Attempt    int              // 第几次提交（从 1 开始，重试递增）
	CreatedAt  time.Time        // 提交时间
	FilledAt   *time.Time       // 成交时间（可选）
	CanceledAt *time.Time       // 撤单时间（可选）
}

// IsMarket 是否为市价单
func (o *Order) IsMarket() bool {
	return o != nil && o.Price == nil
}

// IsFilled 检查订单是否已成交
func (o *Order) IsFilled() bool {
	return o != nil && o.Status == OrderStatusFilled && o.FilledAt != nil
}

// IsFinalStatus 检查订单是否为最终状态（filled/canceled）
func (o *Order) IsFinalStatus() bool {
	return o != nil && (o.Status == OrderStatusFilled || o.Status == OrderStatusCanceled)
}

// PriceString 用于日志展示
func (o *Order) PriceString() string {
	if o == nil || o.Price == nil {
		return "market"
	}
	return o.Price.String()
}
