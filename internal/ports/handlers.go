package ports

import (
	"github.com/betbot/signaltrader/internal/events"
)

// EventSink receives one event per lifecycle state transition (serial delivery).
//
// NOTE: This interface is intentionally defined in a "neutral" package so that
// sinks (logger, journal, dashboard, metrics) do not import the lifecycle package.
type EventSink interface {
	OnLifecycleEvent(ev events.LifecycleEvent)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ev events.LifecycleEvent)

func (f EventSinkFunc) OnLifecycleEvent(ev events.LifecycleEvent) { f(ev) }
