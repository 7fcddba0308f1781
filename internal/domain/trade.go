package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeContext 交易上下文：上一次提交的方向 + 最近一次提交的买入/卖出价格。
// 进程生命周期内有效，只由 Trade Coordinator 在提交成功后修改。
type TradeContext struct {
	LastAction Side            // 上一次成功提交的方向（空 = 尚未交易）
	LastBuy    decimal.Decimal // 最近一次买入价（0 = 无）
	LastSell   decimal.Decimal // 最近一次卖出价（0 = 无）
	LastFillAt time.Time       // 最近一次完全成交时间
	UpdatedAt  time.Time
}

// HasLastBuy 是否存在历史买入价
func (c TradeContext) HasLastBuy() bool { return c.LastBuy.IsPositive() }

// HasLastSell 是否存在历史卖出价
func (c TradeContext) HasLastSell() bool { return c.LastSell.IsPositive() }
