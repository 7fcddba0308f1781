package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInMemoryCache_TTL(t *testing.T) {
	c := NewInMemoryCache[string, int](5*time.Second, 0)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	c.Set("BTCUSDT", 1, 0)
	c.Set("ETHUSDT", 2, time.Second)

	now = now.Add(500 * time.Millisecond)
	v, age, ok := c.GetWithAge("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 500*time.Millisecond, age)

	now = now.Add(time.Second)
	_, ok = c.Get("ETHUSDT")
	assert.False(t, ok, "自定义 TTL 已过期")
	_, ok = c.Get("BTCUSDT")
	assert.True(t, ok)

	assert.Equal(t, 2, c.Size())
	c.cleanup()
	assert.Equal(t, 1, c.Size())

	c.Delete("BTCUSDT")
	_, ok = c.Get("BTCUSDT")
	assert.False(t, ok)
}

func TestInMemoryCache_CloseIdempotent(t *testing.T) {
	c := NewInMemoryCache[string, string](time.Second, 10*time.Millisecond)
	c.Close()
	c.Close()
}
