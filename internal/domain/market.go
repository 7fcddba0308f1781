package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Pair 交易对（currency 计价，asset 为交易标的），例如 USDT/BTC
type Pair struct {
	Currency string
	Asset    string
}

func (p Pair) String() string {
	return fmt.Sprintf("%s-%s", p.Currency, p.Asset)
}

// Ticker 盘口快照（每次交易决策前整体替换）
type Ticker struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// ReferencePrice BUY 取 ask，SELL 取 bid
func (t Ticker) ReferencePrice(side Side) decimal.Decimal {
	if side == SideBuy {
		return t.Ask
	}
	return t.Bid
}

// Valid 买卖价都必须为正
func (t Ticker) Valid() bool {
	return t.Bid.IsPositive() && t.Ask.IsPositive()
}

// MinimalOrderUnit 最小下单量的计量单位
type MinimalOrderUnit string

const (
	UnitCurrency MinimalOrderUnit = "currency"
	UnitAsset    MinimalOrderUnit = "asset"
)

// MinimalOrder 交易所对该交易对的最小下单要求
type MinimalOrder struct {
	Amount decimal.Decimal
	Unit   MinimalOrderUnit
}

// Capabilities 交易所能力（构造时设置一次，之后只读）
type Capabilities struct {
	// Direct 支持市价单
	Direct bool
	// InfinityOrder 允许超过实际余额的下单量，由交易所自行截断
	InfinityOrder bool
	// MinimalOrder 最小下单量
	MinimalOrder MinimalOrder
}
