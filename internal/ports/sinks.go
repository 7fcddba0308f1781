package ports

import (
	"github.com/sirupsen/logrus"

	"github.com/betbot/signaltrader/internal/events"
)

var sinkLog = logrus.WithField("component", "event_sink")

// MultiSink fans one event out to every sink, serially and in order.
// A panicking sink is logged and skipped so the lifecycle keeps running.
type MultiSink []EventSink

func (m MultiSink) OnLifecycleEvent(ev events.LifecycleEvent) {
	for _, s := range m {
		if s == nil {
			continue
		}
		func(sink EventSink) {
			defer func() {
				if r := recover(); r != nil {
					sinkLog.Errorf("event sink panic: %v", r)
				}
			}()
			sink.OnLifecycleEvent(ev)
		}(s)
	}
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) OnLifecycleEvent(events.LifecycleEvent) {}

// LogSink 以 info 级别输出每条状态迁移，跳过/拒绝原因附在 reason 字段中
type LogSink struct {
	Entry *logrus.Entry // nil 时使用包级 logger
}

func (s LogSink) OnLifecycleEvent(ev events.LifecycleEvent) {
	entry := s.Entry
	if entry == nil {
		entry = sinkLog
	}
	fields := logrus.Fields{
		"pair":    ev.Pair.String(),
		"side":    ev.Side.String(),
		"attempt": ev.Attempt,
		"from":    ev.From,
		"to":      ev.To,
	}
	if ev.OrderID != "" {
		fields["order"] = string(ev.OrderID)
	}
	if !ev.Amount.IsZero() {
		fields["amount"] = ev.Amount.String()
		fields["price"] = ev.PriceString()
	}
	if ev.Reason != "" {
		fields["reason"] = ev.Reason
	}
	entry.WithFields(fields).Info("lifecycle transition")
}
