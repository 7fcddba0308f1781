package binance

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/signaltrader/internal/domain"
)

// symbolFilters 交易对的下单精度（LOT_SIZE.stepSize / PRICE_FILTER.tickSize）
type symbolFilters struct {
	stepSize decimal.Decimal
	tickSize decimal.Decimal
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType string `json:"filterType"`
			StepSize   string `json:"stepSize"`
			TickSize   string `json:"tickSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

// quantity 向下取整到 stepSize
func (f *symbolFilters) quantity(amount decimal.Decimal) decimal.Decimal {
	return floorTo(amount, f.stepSize)
}

// price BUY 向下、SELL 向上取整到 tickSize，与本地价格截断方向一致
func (f *symbolFilters) price(p decimal.Decimal, side domain.Side) decimal.Decimal {
	if !f.tickSize.IsPositive() {
		return p
	}
	if side == domain.SideBuy {
		return floorTo(p, f.tickSize)
	}
	steps := p.Div(f.tickSize).Ceil()
	return steps.Mul(f.tickSize)
}

func floorTo(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

// symbolFilters 首次下单时获取并缓存
func (c *Client) symbolFilters(ctx context.Context) (*symbolFilters, error) {
	c.filtersMu.Lock()
	defer c.filtersMu.Unlock()
	if c.filters != nil {
		return c.filters, nil
	}

	var resp exchangeInfoResponse
	params := url.Values{"symbol": {c.symbol}}
	if err := c.do(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, false, classRequest, weightExchangeInfo, &resp); err != nil {
		return nil, err
	}
	for _, s := range resp.Symbols {
		if s.Symbol != c.symbol {
			continue
		}
		f := &symbolFilters{}
		for _, flt := range s.Filters {
			switch flt.FilterType {
			case "LOT_SIZE":
				f.stepSize, _ = decimal.NewFromString(flt.StepSize)
			case "PRICE_FILTER":
				f.tickSize, _ = decimal.NewFromString(flt.TickSize)
			}
		}
		c.filters = f
		return f, nil
	}
	return nil, errors.Errorf("binance: symbol %s not found in exchangeInfo", c.symbol)
}
