// Package dashboard 终端仪表盘：展示余额、盘口、交易上下文和最近的生命周期事件。
package dashboard

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/betbot/signaltrader/internal/coordinator"
	"github.com/betbot/signaltrader/internal/events"
	"github.com/betbot/signaltrader/internal/ports"
)

var log = logrus.WithField("component", "dashboard")

// StateSource 定期拉取引擎状态
type StateSource interface {
	State(ctx context.Context) (coordinator.Snapshot, error)
}

// Dashboard 同时是 EventSink：事件通过带缓冲通道送入 UI，UI 未启动或处理不过来时丢弃
type Dashboard struct {
	title   string
	updates chan tea.Msg
	dropped atomic.Int64
}

var _ ports.EventSink = (*Dashboard)(nil)

func New(title string) *Dashboard {
	return &Dashboard{
		title:   title,
		updates: make(chan tea.Msg, 256),
	}
}

func (d *Dashboard) push(msg tea.Msg) {
	select {
	case d.updates <- msg:
	default:
		d.dropped.Add(1)
	}
}

func (d *Dashboard) OnLifecycleEvent(ev events.LifecycleEvent) {
	d.push(eventMsg{ev: ev})
}

// UpdateState 推送一次状态快照
func (d *Dashboard) UpdateState(s coordinator.Snapshot) {
	d.push(stateMsg{snap: s})
}

// Dropped 被丢弃的更新数
func (d *Dashboard) Dropped() int64 { return d.dropped.Load() }

// Run 阻塞运行 TUI，直到用户退出（q / ctrl+c）或 ctx 取消。
// 用户退出时调用 onQuit，由调用方触发整体的优雅退出。
func (d *Dashboard) Run(ctx context.Context, src StateSource, interval time.Duration, onQuit func()) error {
	if interval <= 0 {
		interval = time.Second
	}
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go d.poll(pollCtx, src, interval)

	p := tea.NewProgram(newModel(d.title, d.updates, onQuit), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (d *Dashboard) poll(ctx context.Context, src StateSource, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if s, err := src.State(ctx); err == nil {
			d.UpdateState(s)
		} else if ctx.Err() == nil {
			log.Debugf("拉取状态失败: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
