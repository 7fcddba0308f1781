package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_ConsecutiveErrors(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxConsecutiveErrors: 3})

	cb.OnError()
	cb.OnError()
	assert.NoError(t, cb.AllowTrading())

	cb.OnSuccess()
	cb.OnError()
	cb.OnError()
	assert.NoError(t, cb.AllowTrading(), "成功会清零计数")

	cb.OnError()
	assert.ErrorIs(t, cb.AllowTrading(), ErrCircuitBreakerOpen)
	assert.True(t, cb.Halted())
	assert.False(t, cb.HaltedAt().IsZero())

	// 熔断后成功调用不会自动恢复
	cb.OnSuccess()
	assert.ErrorIs(t, cb.AllowTrading(), ErrCircuitBreakerOpen)

	cb.Resume()
	assert.NoError(t, cb.AllowTrading())
	assert.Zero(t, cb.ConsecutiveErrors())
}

func TestCircuitBreaker_ManualHaltAndDisabled(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	for i := 0; i < 100; i++ {
		cb.OnError()
	}
	assert.NoError(t, cb.AllowTrading())

	cb.Halt()
	assert.ErrorIs(t, cb.AllowTrading(), ErrCircuitBreakerOpen)
	cb.Resume()
	assert.NoError(t, cb.AllowTrading())
}

func TestCircuitBreaker_Nil(t *testing.T) {
	var cb *CircuitBreaker
	cb.OnError()
	cb.Halt()
	assert.NoError(t, cb.AllowTrading())
	assert.False(t, cb.Halted())
	assert.True(t, cb.HaltedAt().IsZero())
}
