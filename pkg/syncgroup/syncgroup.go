// Package syncgroup 管理一组长期运行的后台任务：统一启动、记录首个错误、统一等待。
package syncgroup

import (
	"context"
	"fmt"
	"sync"
)

// Task 后台任务；ctx 结束时应尽快返回
type Task func(ctx context.Context) error

type namedTask struct {
	name string
	fn   Task
}

// SyncGroup sync.WaitGroup 的包装：任务在 Start 之前登记，Start 后按登记顺序启动。
// 任意任务返回错误时取消共享 ctx，其余任务随之退出。
type SyncGroup struct {
	mu      sync.Mutex
	tasks   []namedTask
	started bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
	errMu  sync.Mutex
	err    error
}

// New 创建 SyncGroup
func New() *SyncGroup {
	return &SyncGroup{}
}

// Add 登记任务；Start 之后调用返回 false
func (g *SyncGroup) Add(name string, fn Task) bool {
	if fn == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return false
	}
	g.tasks = append(g.tasks, namedTask{name: name, fn: fn})
	return true
}

// Start 启动全部任务，返回派生的 ctx（任一任务失败或 parent 结束时被取消）
func (g *SyncGroup) Start(parent context.Context) context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	ctx, cancel := context.WithCancel(parent)
	if g.started {
		cancel()
		return ctx
	}
	g.started = true
	g.cancel = cancel

	for _, t := range g.tasks {
		g.wg.Add(1)
		go func(t namedTask) {
			defer g.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					g.fail(fmt.Errorf("%s: panic: %v", t.name, r))
				}
			}()
			if err := t.fn(ctx); err != nil {
				g.fail(fmt.Errorf("%s: %w", t.name, err))
			}
		}(t)
	}
	return ctx
}

func (g *SyncGroup) fail(err error) {
	g.errMu.Lock()
	if g.err == nil {
		g.err = err
	}
	g.errMu.Unlock()
	if g.cancel != nil {
		g.cancel()
	}
}

// Stop 取消共享 ctx（不等待）
func (g *SyncGroup) Stop() {
	g.mu.Lock()
	cancel := g.cancel
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait 等待全部任务返回，返回第一个错误
func (g *SyncGroup) Wait() error {
	g.wg.Wait()
	g.errMu.Lock()
	defer g.errMu.Unlock()
	return g.err
}

// Err 当前记录的第一个错误（不等待）
func (g *SyncGroup) Err() error {
	g.errMu.Lock()
	defer g.errMu.Unlock()
	return g.err
}
