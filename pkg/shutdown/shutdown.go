package shutdown

import (
	"context"
	"sync"

	"github.com/betbot/signaltrader/pkg/logger"
)

// Handler 关闭回调
type Handler struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Manager 优雅关闭管理器。回调分阶段执行：同一阶段并发，阶段之间按注册顺序串行
// （例如先停止接收信号，再等待在途订单生命周期，最后关闭存储）。
type Manager struct {
	mu     sync.Mutex
	stages [][]Handler
}

// NewManager 创建关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册一个新阶段（可包含多个并发执行的回调）
func (m *Manager) OnShutdown(handlers ...Handler) {
	if len(handlers) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, handlers)
}

// Shutdown 依次执行各阶段；ctx 超时后不再等待剩余回调。返回遇到的第一个错误。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	stages := m.stages
	m.mu.Unlock()

	if len(stages) == 0 {
		return nil
	}
	logger.Infof("开始优雅关闭，共 %d 个阶段", len(stages))

	var firstErr error
	for i, stage := range stages {
		errs := make([]error, len(stage))
		var wg sync.WaitGroup
		for j, h := range stage {
			wg.Add(1)
			go func(j int, h Handler) {
				defer wg.Done()
				if err := h.Fn(ctx); err != nil {
					logger.Warnf("关闭回调失败 %s: %v", h.Name, err)
					errs[j] = err
				}
			}(j, h)
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			logger.Warnf("关闭超时（阶段 %d）: %v", i+1, ctx.Err())
			return ctx.Err()
		}
		for _, err := range errs {
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	logger.Infof("所有关闭回调已完成")
	return firstErr
}
