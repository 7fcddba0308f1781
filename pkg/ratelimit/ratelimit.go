package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// RateLimiter 速率限制器接口
type RateLimiter interface {
	// Wait 阻塞直到可以消耗 weight 个令牌
	Wait(ctx context.Context, weight int) error
	// Allow 立即尝试消耗 weight 个令牌
	Allow(weight int) bool
	Remaining() int
}

// TokenBucket 带权重的令牌桶（交易所按请求权重计费，例如每分钟 1200 权重）。
// 令牌按时间连续补充。
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	perSecond  float64
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket capacity 个令牌，每 window 补满一次
func NewTokenBucket(capacity int, window time.Duration) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	tb := &TokenBucket{
		capacity:  float64(capacity),
		tokens:    float64(capacity),
		perSecond: float64(capacity) / window.Seconds(),
		now:       time.Now,
	}
	tb.lastRefill = tb.now()
	return tb
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens = math.Min(tb.capacity, tb.tokens+elapsed*tb.perSecond)
	tb.lastRefill = now
}

// reserve 尝试消耗；失败时返回需要等待的时长
func (tb *TokenBucket) reserve(weight int) (bool, time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()

	w := math.Min(float64(weight), tb.capacity)
	if tb.tokens >= w {
		tb.tokens -= w
		return true, 0
	}
	missing := w - tb.tokens
	return false, time.Duration(missing / tb.perSecond * float64(time.Second))
}

func (tb *TokenBucket) Allow(weight int) bool {
	ok, _ := tb.reserve(weight)
	return ok
}

func (tb *TokenBucket) Wait(ctx context.Context, weight int) error {
	for {
		ok, wait := tb.reserve(weight)
		if ok {
			return nil
		}
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (tb *TokenBucket) Remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return int(tb.tokens)
}

// Manager 按接口类别分别限流，未知类别使用默认限流器
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]RateLimiter
	fallback RateLimiter
}

// NewManager 创建管理器；fallback 为 nil 时未知类别不限流
func NewManager(fallback RateLimiter) *Manager {
	return &Manager{limiters: make(map[string]RateLimiter), fallback: fallback}
}

// Register 设置某类别的限流器
func (m *Manager) Register(class string, l RateLimiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[class] = l
}

func (m *Manager) limiter(class string) RateLimiter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.limiters[class]; ok {
		return l
	}
	return m.fallback
}

// Wait 按类别等待
func (m *Manager) Wait(ctx context.Context, class string, weight int) error {
	l := m.limiter(class)
	if l == nil {
		return nil
	}
	return l.Wait(ctx, weight)
}
