package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/signaltrader/internal/domain"
	"github.com/betbot/signaltrader/internal/events"
	"github.com/betbot/signaltrader/internal/exchange/mock"
	"github.com/betbot/signaltrader/internal/ports"
	"github.com/betbot/signaltrader/internal/sizer"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var pair = domain.Pair{Currency: "USDT", Asset: "BTC"}

// fakeClock 立即返回，并把等待时长记入 mock 的调用日志，便于断言顺序
type fakeClock struct{ ex *mock.Exchange }

func (c fakeClock) After(dur time.Duration) <-chan time.Time {
	c.ex.Record("wait " + dur.String())
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

type recorder struct {
	submissions []domain.OrderHandle
	fills       []domain.OrderHandle
	prices      []decimal.Decimal // 成交价
}

func (r *recorder) RecordSubmission(side domain.Side, o *domain.Order) {
	r.submissions = append(r.submissions, o.ID)
}

func (r *recorder) RecordFill(side domain.Side, o *domain.Order, price decimal.Decimal) {
	r.fills = append(r.fills, o.ID)
	r.prices = append(r.prices, price)
}

// begin 用已计算好的 plan 构造生命周期并发出 Sizing → Checking 事件，直接从校验开始驱动
func begin(ctl *Controller, side domain.Side, plan sizer.Plan) *Lifecycle {
	lc := NewLifecycle(side)
	lc.Plan = plan
	ctl.transition(lc, StateChecking, "")
	return lc
}

// planFrom 每次从 mock 读取当前行情和余额重新计算
func planFrom(ex *mock.Exchange, caps domain.Capabilities) Planner {
	return PlannerFunc(func(ctx context.Context, side domain.Side) (sizer.Plan, string, error) {
		t, err := ex.GetTicker(ctx)
		if err != nil {
			return sizer.Plan{}, "", err
		}
		b, err := ex.GetPortfolio(ctx)
		if err != nil {
			return sizer.Plan{}, "", err
		}
		p, err := sizer.Size(sizer.Input{Side: side, Pair: pair, Ticker: t, Balance: b, Capabilities: caps})
		return p, "", err
	})
}

var assetMin = domain.Capabilities{MinimalOrder: domain.MinimalOrder{Amount: d("0.001"), Unit: domain.UnitAsset}}

type harness struct {
	ex   *mock.Exchange
	rec  *recorder
	evs  []events.LifecycleEvent
	ctl  *Controller
	plan Planner
}

func newHarness(t *testing.T, caps domain.Capabilities) *harness {
	t.Helper()
	h := &harness{
		ex: mock.NewExchange(
			domain.Balance{"USDT": d("1000"), "BTC": d("0")},
			domain.Ticker{Bid: d("9"), Ask: d("10")},
		),
		rec: &recorder{},
	}
	h.plan = planFrom(h.ex, caps)
	h.ctl = NewController(pair, h.ex, h.plan, h.rec, Config{},
		WithClock(fakeClock{ex: h.ex}),
		WithEventSink(ports.EventSinkFunc(func(ev events.LifecycleEvent) { h.evs = append(h.evs, ev) })),
	)
	return h
}

func (h *harness) transitions() []string {
	out := make([]string, 0, len(h.evs))
	for _, ev := range h.evs {
		out = append(out, ev.From+">"+ev.To)
	}
	return out
}

func TestRun_FilledFirstAttempt(t *testing.T) {
	h := newHarness(t, assetMin)

	res, err := h.ctl.Run(context.Background(), NewLifecycle(domain.SideBuy))
	require.NoError(t, err)
	assert.Equal(t, StateFilled, res.State)
	assert.Equal(t, 1, res.Attempts)
	require.NotNil(t, res.Order)
	assert.Equal(t, domain.OrderStatusFilled, res.Order.Status)

	assert.Equal(t, []string{"GetTicker", "GetPortfolio", "Buy", "wait 30s", "CheckOrder"}, h.ex.CallLog())
	assert.Equal(t, []string{
		"sizing>checking", "checking>submitted", "submitted>monitoring", "monitoring>filled",
	}, h.transitions())

	placed := h.ex.PlacedOrders()
	require.Len(t, placed, 1)
	assert.True(t, placed[0].Amount.Equal(d("100")))
	assert.True(t, placed[0].Price.Equal(d("10")))

	require.Len(t, h.rec.prices, 1)
	assert.True(t, h.rec.prices[0].Equal(d("10")))
	assert.Equal(t, []domain.OrderHandle{"mock-1"}, h.rec.fills)
}

func TestRun_RetryAfterIncompleteFill(t *testing.T) {
	h := newHarness(t, assetMin)
	h.ex.FillScript = []bool{false, true}
	h.ex.OnCancel = func(m *mock.Exchange) {
		// 部分成交：一部分 USDT 已换成 BTC，价格上涨
		m.SetPortfolio(domain.Balance{"USDT": d("400"), "BTC": d("60")})
		m.SetTicker(domain.Ticker{Bid: d("9.9"), Ask: d("10.5")})
	}

	res, err := h.ctl.Run(context.Background(), NewLifecycle(domain.SideBuy))
	require.NoError(t, err)
	assert.Equal(t, StateFilled, res.State)
	assert.Equal(t, 2, res.Attempts)

	assert.Equal(t, []string{
		"GetTicker", "GetPortfolio", "Buy", "wait 30s", "CheckOrder",
		"CancelOrder", "wait 1s",
		"GetTicker", "GetPortfolio", "Buy", "wait 30s", "CheckOrder",
	}, h.ex.CallLog())
	assert.Equal(t, 1, h.ex.Count("CancelOrder"))

	placed := h.ex.PlacedOrders()
	require.Len(t, placed, 2)
	assert.Equal(t, domain.SideBuy, placed[1].Side)
	// 重新规划使用刷新后的余额与价格
	assert.True(t, placed[1].Price.Equal(d("10.5")))
	assert.True(t, placed[1].Amount.Equal(d("400").Div(d("10.5"))))

	assert.Equal(t, []domain.OrderHandle{"mock-1", "mock-2"}, h.rec.submissions)
	assert.Equal(t, []domain.OrderHandle{"mock-2"}, h.rec.fills)
	// 撤单的第一次提交不记录成交价
	require.Len(t, h.rec.prices, 1)
	assert.True(t, h.rec.prices[0].Equal(d("10.5")))
	assert.Contains(t, h.transitions(), "monitoring>cancelling")
	assert.Contains(t, h.transitions(), "cancelling>sizing")
}

func TestCheck_GuardsAtEquality(t *testing.T) {
	h := newHarness(t, assetMin)
	lc := begin(h.ctl, domain.SideBuy, sizer.Plan{
		Side:      domain.SideBuy,
		Amount:    d("5"),
		Available: d("5"),
		Minimum:   d("5"),
		Price:     ptr(d("10")),
	})
	require.NoError(t, h.ctl.Step(context.Background(), lc))
	assert.Equal(t, StateSubmitted, lc.State)
	assert.Equal(t, 1, h.ex.Count("Buy"))
}

func TestCheck_Abandoned(t *testing.T) {
	cases := []struct {
		name string
		plan sizer.Plan
		want error
	}{
		{
			name: "insufficient funds",
			plan: sizer.Plan{Amount: d("5.00000001"), Available: d("5"), Minimum: d("1")},
			want: domain.ErrInsufficientFunds,
		},
		{
			name: "below minimum",
			plan: sizer.Plan{Amount: d("0.5"), Available: d("0.5"), Minimum: d("1")},
			want: domain.ErrOrderTooSmall,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, assetMin)
			res, err := h.ctl.Run(context.Background(), begin(h.ctl, domain.SideSell, tc.plan))
			require.NoError(t, err)
			assert.Equal(t, StateAbandoned, res.State)
			assert.ErrorIs(t, res.Reason, tc.want)
			assert.True(t, domain.IsBusinessRule(res.Reason))
			assert.Zero(t, h.ex.Count("Sell"))
			assert.Zero(t, res.Attempts)
		})
	}
}

func TestCheck_UnboundedSkipsFundsGuard(t *testing.T) {
	h := newHarness(t, assetMin)
	lc := begin(h.ctl, domain.SideSell, sizer.Plan{
		Amount:    sizer.UnboundedAmount,
		Available: d("0.01"),
		Minimum:   d("0.001"),
		Unbounded: true,
	})
	res, err := h.ctl.Run(context.Background(), lc)
	require.NoError(t, err)
	assert.Equal(t, StateFilled, res.State)
	placed := h.ex.PlacedOrders()
	require.Len(t, placed, 1)
	assert.Nil(t, placed[0].Price)
}

func TestRun_SkippedOnReplan(t *testing.T) {
	h := newHarness(t, assetMin)
	h.ex.FillScript = []bool{false}
	calls := 0
	h.ctl.planner = PlannerFunc(func(ctx context.Context, side domain.Side) (sizer.Plan, string, error) {
		calls++
		if calls > 1 {
			return sizer.Plan{}, "price 12 above last sell 11", nil
		}
		return h.plan.Plan(ctx, side)
	})

	res, err := h.ctl.Run(context.Background(), NewLifecycle(domain.SideBuy))
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, res.State)
	assert.Equal(t, "price 12 above last sell 11", res.SkipReason)
	assert.Equal(t, 1, h.ex.Count("Buy"))
	assert.Equal(t, 1, h.ex.Count("CancelOrder"))
	assert.Equal(t, "sizing>skipped", h.transitions()[len(h.evs)-1])
}

func TestRun_ExchangeErrorPropagates(t *testing.T) {
	boom := errors.New("connection reset")
	for _, method := range []string{"Buy", "CheckOrder", "CancelOrder"} {
		t.Run(method, func(t *testing.T) {
			h := newHarness(t, assetMin)
			h.ex.FillScript = []bool{false}
			h.ex.ErrorOnNext[method] = boom

			res, err := h.ctl.Run(context.Background(), NewLifecycle(domain.SideBuy))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrExchangeUnavailable)
			assert.ErrorIs(t, err, boom)
			assert.False(t, res.State.Terminal())
		})
	}
}

func TestRun_IgnoresCallerCancellation(t *testing.T) {
	h := newHarness(t, assetMin)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.ctl.Run(ctx, NewLifecycle(domain.SideBuy))
	require.NoError(t, err)
	assert.Equal(t, StateFilled, res.State)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "cancelling", StateCancelling.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, StateSkipped.Terminal())
	assert.False(t, StateMonitoring.Terminal())
}

func ptr(v decimal.Decimal) *decimal.Decimal { return &v }
