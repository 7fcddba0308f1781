package cache

import (
	"sync"
	"time"
)

// Cache 通用缓存接口
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
	Size() int
}

// InMemoryCache 带 TTL 的内存缓存。过期项在读取时视为不存在，由后台清理协程回收。
type InMemoryCache[K comparable, V any] struct {
	mu         sync.RWMutex
	items      map[K]cacheItem[V]
	defaultTTL time.Duration
	now        func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

type cacheItem[V any] struct {
	value     V
	storedAt  time.Time
	expiresAt time.Time
}

// NewInMemoryCache 创建缓存；cleanupInterval<=0 时不启动后台清理
func NewInMemoryCache[K comparable, V any](defaultTTL, cleanupInterval time.Duration) *InMemoryCache[K, V] {
	c := &InMemoryCache[K, V]{
		items:      make(map[K]cacheItem[V]),
		defaultTTL: defaultTTL,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.cleanupLoop(cleanupInterval)
	}
	return c
}

// Get 获取未过期的值
func (c *InMemoryCache[K, V]) Get(key K) (V, bool) {
	v, _, ok := c.GetWithAge(key)
	return v, ok
}

// GetWithAge 获取未过期的值及其写入至今的时长
func (c *InMemoryCache[K, V]) GetWithAge(key K) (V, time.Duration, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	now := c.now()
	if !ok || !now.Before(item.expiresAt) {
		var zero V
		return zero, 0, false
	}
	return item.value, now.Sub(item.storedAt), true
}

// Set 写入；ttl<=0 使用默认 TTL
func (c *InMemoryCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.now()
	c.mu.Lock()
	c.items[key] = cacheItem[V]{value: value, storedAt: now, expiresAt: now.Add(ttl)}
	c.mu.Unlock()
}

// Delete 删除
func (c *InMemoryCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Size 当前条目数（含尚未清理的过期项）
func (c *InMemoryCache[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close 停止后台清理
func (c *InMemoryCache[K, V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *InMemoryCache[K, V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

func (c *InMemoryCache[K, V]) cleanup() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, item := range c.items {
		if !now.Before(item.expiresAt) {
			delete(c.items, k)
		}
	}
}
