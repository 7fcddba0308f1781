package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_Weighted(t *testing.T) {
	tb := NewTokenBucket(10, 10*time.Second) // 每秒补 1 个
	now := time.Unix(1_700_000_000, 0)
	tb.now = func() time.Time { return now }
	tb.lastRefill = now

	assert.True(t, tb.Allow(6))
	assert.True(t, tb.Allow(4))
	assert.False(t, tb.Allow(1))

	ok, wait := tb.reserve(2)
	assert.False(t, ok)
	assert.Equal(t, 2*time.Second, wait)

	now = now.Add(3 * time.Second)
	assert.Equal(t, 3, tb.Remaining())
	assert.True(t, tb.Allow(2))

	now = now.Add(time.Hour)
	assert.Equal(t, 10, tb.Remaining(), "不超过容量")
}

func TestTokenBucket_WaitHonoursContext(t *testing.T) {
	tb := NewTokenBucket(1, time.Hour)
	require.True(t, tb.Allow(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tb.Wait(ctx, 1), context.DeadlineExceeded)
}

func TestManager_Classes(t *testing.T) {
	m := NewManager(nil)
	order := NewTokenBucket(1, time.Hour)
	m.Register("order", order)

	ctx := context.Background()
	assert.NoError(t, m.Wait(ctx, "market", 100), "未注册类别且无默认限流器时不限流")
	assert.NoError(t, m.Wait(ctx, "order", 1))
	assert.Equal(t, 0, order.Remaining())
}
