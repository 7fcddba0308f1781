package metrics

import (
	"expvar"

	"github.com/betbot/signaltrader/internal/events"
)

var (
	TradesRequested  = expvar.NewInt("trades_requested")
	TradesSkipped    = expvar.NewInt("trades_skipped")
	TradesRejected   = expvar.NewInt("trades_rejected")
	OrdersSubmitted  = expvar.NewInt("orders_submitted")
	OrdersFilled     = expvar.NewInt("orders_filled")
	OrdersRetried    = expvar.NewInt("orders_retried")
	OrdersAbandoned  = expvar.NewInt("orders_abandoned")
	ExchangeErrors   = expvar.NewInt("exchange_errors")
	BalanceRefreshes = expvar.NewInt("balance_refreshes")
	EnginePanics     = expvar.NewInt("engine_panics")
	SignalsReceived  = expvar.NewInt("signals_received")

	// LifecycleTransitions 按目标状态统计迁移次数
	LifecycleTransitions = expvar.NewMap("lifecycle_transitions")
)

// Sink 把生命周期事件计入 expvar
type Sink struct{}

func (Sink) OnLifecycleEvent(ev events.LifecycleEvent) {
	LifecycleTransitions.Add(ev.To, 1)
}
