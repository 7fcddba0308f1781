package risk

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "circuit_breaker")

// ErrCircuitBreakerOpen 断路器已打开，禁止发起新的交易
var ErrCircuitBreakerOpen = fmt.Errorf("circuit breaker open")

// CircuitBreakerConfig 断路器配置。MaxConsecutiveErrors <= 0 表示不自动熔断。
type CircuitBreakerConfig struct {
	// MaxConsecutiveErrors 连续交易所错误上限（下单/查单/撤单/刷新余额失败）
	MaxConsecutiveErrors int64
}

// CircuitBreaker 连续错误熔断。所有方法可并发调用，nil 接收者等价于“永不熔断”。
type CircuitBreaker struct {
	halted            atomic.Bool
	haltedAt          atomic.Int64 // unix nano
	consecutiveErrors atomic.Int64
	maxConsecutive    atomic.Int64
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{}
	cb.maxConsecutive.Store(cfg.MaxConsecutiveErrors)
	return cb
}

// Halt 手动熔断
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.trip("manual")
}

// Resume 恢复交易并清空连续错误计数
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Store(0)
	if cb.halted.Swap(false) {
		log.Info("断路器已恢复")
	}
}

// AllowTrading 是否允许发起新交易
func (cb *CircuitBreaker) AllowTrading() error {
	if cb == nil {
		return nil
	}
	if cb.halted.Load() {
		return ErrCircuitBreakerOpen
	}
	if max := cb.maxConsecutive.Load(); max > 0 && cb.consecutiveErrors.Load() >= max {
		cb.trip(fmt.Sprintf("%d consecutive exchange errors", cb.consecutiveErrors.Load()))
		return ErrCircuitBreakerOpen
	}
	return nil
}

// OnSuccess 交易所调用成功后清零连续错误
func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Store(0)
}

// OnError 交易所调用失败后累计连续错误
func (cb *CircuitBreaker) OnError() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Add(1)
}

// Halted 是否处于熔断状态
func (cb *CircuitBreaker) Halted() bool {
	return cb != nil && cb.halted.Load()
}

// ConsecutiveErrors 当前连续错误数
func (cb *CircuitBreaker) ConsecutiveErrors() int64 {
	if cb == nil {
		return 0
	}
	return cb.consecutiveErrors.Load()
}

// HaltedAt 最近一次熔断时间（未熔断为零值）
func (cb *CircuitBreaker) HaltedAt() time.Time {
	if !cb.Halted() {
		return time.Time{}
	}
	return time.Unix(0, cb.haltedAt.Load())
}

func (cb *CircuitBreaker) trip(reason string) {
	if cb.halted.CompareAndSwap(false, true) {
		cb.haltedAt.Store(time.Now().UnixNano())
		log.Warnf("断路器打开: %s", reason)
	}
}
