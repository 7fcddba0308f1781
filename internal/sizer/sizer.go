package sizer

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/betbot/signaltrader/internal/domain"
)

// PricePrecision 价格截断精度（小数位），即 1e-8
const PricePrecision int32 = 8

// UnboundedAmount infinity-order 交易所使用的下单量哨兵值，由交易所截断到实际余额
var UnboundedAmount = decimal.NewFromInt(1_000_000_000)

var hundred = decimal.NewFromInt(100)

// Input 计算订单规模所需的全部输入（纯数据，无 IO）
type Input struct {
	Side         domain.Side
	Pair         domain.Pair
	Ticker       domain.Ticker
	Balance      domain.Balance
	Capabilities domain.Capabilities
	// TradePercent 可选（0-100），只用可用余额的一部分下单
	TradePercent *decimal.Decimal
}

// Plan 订单规模计算结果
type Plan struct {
	Side   domain.Side
	Amount decimal.Decimal
	// Price 限价；nil 表示市价单
	Price *decimal.Decimal
	// ReferencePrice BUY 为 ask，SELL 为 bid（未截断）
	ReferencePrice decimal.Decimal
	// Minimum 以 asset 计的最小下单量
	Minimum decimal.Decimal
	// Available 资金校验使用的可用量（asset 单位）：BUY = currency/price，SELL = asset 余额
	Available decimal.Decimal
	// Unbounded 交易所会自行截断下单量（Available 无意义）
	Unbounded bool
}

// EffectivePrice 下单和校验共用的价格：限价单为截断后的价格，市价单为参考价
func (p Plan) EffectivePrice() decimal.Decimal {
	if p.Price != nil {
		return *p.Price
	}
	return p.ReferencePrice
}

// IsMarket 是否为市价单
func (p Plan) IsMarket() bool { return p.Price == nil }

// TruncatePrice 把价格截断到 1e-8：BUY 向下取整，SELL 向上取整。
// 截断方向保证 BUY 价格不会被抬高、SELL 价格不会被压低。
func TruncatePrice(price decimal.Decimal, side domain.Side) decimal.Decimal {
	if side == domain.SideBuy {
		return price.RoundFloor(PricePrecision)
	}
	return price.RoundCeil(PricePrecision)
}

// Size 计算下单数量/价格/最小下单量。相同输入总是得到相同输出。
func Size(in Input) (Plan, error) {
	if in.Side != domain.SideBuy && in.Side != domain.SideSell {
		return Plan{}, fmt.Errorf("invalid side: %q", in.Side)
	}
	ref := in.Ticker.ReferencePrice(in.Side)
	if !ref.IsPositive() {
		return Plan{}, fmt.Errorf("invalid %s reference price: %s", in.Side, ref)
	}

	plan := Plan{Side: in.Side, ReferencePrice: ref}

	// 1. 价格：市价单不带价格；限价单按方向截断
	if !in.Capabilities.Direct {
		p := TruncatePrice(ref, in.Side)
		if !p.IsPositive() {
			return Plan{}, fmt.Errorf("reference price %s truncates to zero", ref)
		}
		plan.Price = &p
	}
	price := plan.EffectivePrice()

	// 2. 可用量（资金校验和下单量用同一个价格）
	switch in.Side {
	case domain.SideBuy:
		cur, ok := in.Balance[in.Pair.Currency]
		if !ok {
			return Plan{}, fmt.Errorf("%w: %s", domain.ErrUnknownAsset, in.Pair.Currency)
		}
		plan.Available = cur.Div(price)
	case domain.SideSell:
		asset, ok := in.Balance[in.Pair.Asset]
		if !ok {
			return Plan{}, fmt.Errorf("%w: %s", domain.ErrUnknownAsset, in.Pair.Asset)
		}
		plan.Available = asset
	}

	// 3. 数量
	if in.Capabilities.InfinityOrder {
		plan.Amount = UnboundedAmount
		plan.Unbounded = true
	} else {
		plan.Amount = plan.Available
	}

	// 4. 按比例缩放
	if in.TradePercent != nil {
		plan.Amount = plan.Amount.Mul(*in.TradePercent).Div(hundred)
	}

	// 5. 最小下单量统一换算成 asset 单位
	min := in.Capabilities.MinimalOrder
	if min.Unit == domain.UnitCurrency {
		plan.Minimum = min.Amount.Div(price)
	} else {
		plan.Minimum = min.Amount
	}

	return plan, nil
}
