package paper

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/signaltrader/internal/domain"
)

var pair = domain.Pair{Currency: "USDT", Asset: "BTC"}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newPaper(t *testing.T) *Exchange {
	t.Helper()
	return New(pair, domain.Balance{"USDT": d("1000"), "BTC": d("0")}, d("0.001"),
		WithTicker(domain.Ticker{Bid: d("9"), Ask: d("10")}))
}

func TestPaper_LimitBuyFillsAtAsk(t *testing.T) {
	ex := newPaper(t)
	ctx := context.Background()

	price := d("10")
	h, err := ex.Buy(ctx, d("100"), &price)
	require.NoError(t, err)

	filled, err := ex.CheckOrder(ctx, h)
	require.NoError(t, err)
	assert.True(t, filled)

	bal, err := ex.GetPortfolio(ctx)
	require.NoError(t, err)
	assert.True(t, bal["USDT"].IsZero(), "USDT=%s", bal["USDT"])
	assert.True(t, bal["BTC"].Equal(d("99.9")), "BTC=%s", bal["BTC"])
}

func TestPaper_RestingOrderCancelRefunds(t *testing.T) {
	ex := newPaper(t)
	ctx := context.Background()

	price := d("8")
	h, err := ex.Buy(ctx, d("50"), &price)
	require.NoError(t, err)

	bal, _ := ex.GetPortfolio(ctx)
	assert.True(t, bal["USDT"].Equal(d("600")), "下单冻结 400")

	filled, err := ex.CheckOrder(ctx, h)
	require.NoError(t, err)
	assert.False(t, filled)

	require.NoError(t, ex.CancelOrder(ctx, h))
	bal, _ = ex.GetPortfolio(ctx)
	assert.True(t, bal["USDT"].Equal(d("1000")))

	o, ok := ex.Order(h)
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusCanceled, o.Status)
	assert.Error(t, ex.CancelOrder(ctx, h), "重复撤单")
}

func TestPaper_RestingOrderFillsWhenMarketMoves(t *testing.T) {
	ex := newPaper(t)
	ctx := context.Background()

	price := d("8")
	h, err := ex.Buy(ctx, d("50"), &price)
	require.NoError(t, err)

	ex.SetTicker(domain.Ticker{Bid: d("7.5"), Ask: d("7.9")})
	filled, err := ex.CheckOrder(ctx, h)
	require.NoError(t, err)
	assert.True(t, filled)

	o, _ := ex.Order(h)
	assert.True(t, o.FillAt.Equal(d("8")))
}

func TestPaper_MarketSellClampsToBalance(t *testing.T) {
	ex := New(pair, domain.Balance{"USDT": d("0"), "BTC": d("2")}, d("0"),
		WithTicker(domain.Ticker{Bid: d("9"), Ask: d("10")}))
	ctx := context.Background()

	h, err := ex.Sell(ctx, d("1000000000"), nil)
	require.NoError(t, err)

	o, _ := ex.Order(h)
	assert.True(t, o.Amount.Equal(d("2")))
	assert.Equal(t, domain.OrderStatusFilled, o.Status)

	bal, _ := ex.GetPortfolio(ctx)
	assert.True(t, bal["USDT"].Equal(d("18")))
	assert.True(t, bal["BTC"].IsZero())
}

func TestPaper_Errors(t *testing.T) {
	ex := New(pair, domain.Balance{"USDT": d("0"), "BTC": d("0")}, d("0"))
	ctx := context.Background()

	_, err := ex.GetTicker(ctx)
	assert.Error(t, err, "没有盘口")

	ex.SetTicker(domain.Ticker{Bid: d("9"), Ask: d("10")})
	_, err = ex.Buy(ctx, d("1"), nil)
	assert.Error(t, err, "余额为 0")

	_, err = ex.CheckOrder(ctx, "missing")
	assert.Error(t, err)
}

type feedFunc func(ctx context.Context) (domain.Ticker, error)

func (f feedFunc) GetTicker(ctx context.Context) (domain.Ticker, error) { return f(ctx) }

func TestPaper_TickerFeed(t *testing.T) {
	calls := 0
	feed := feedFunc(func(context.Context) (domain.Ticker, error) {
		calls++
		if calls > 1 {
			return domain.Ticker{}, errors.New("feed down")
		}
		return domain.Ticker{Bid: d("99"), Ask: d("100")}, nil
	})
	ex := New(pair, domain.Balance{"USDT": d("100"), "BTC": d("0")}, d("0"), WithTickerFeed(feed))

	tk, err := ex.GetTicker(context.Background())
	require.NoError(t, err)
	assert.True(t, tk.Ask.Equal(d("100")))

	_, err = ex.GetTicker(context.Background())
	assert.ErrorContains(t, err, "feed down")
}
