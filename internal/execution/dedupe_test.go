package execution

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/signaltrader/internal/domain"
)

var (
	btc = domain.Pair{Currency: "USDT", Asset: "BTC"}
	eth = domain.Pair{Currency: "USDT", Asset: "ETH"}
)

func TestSignalDedupe_ClaimAndForget(t *testing.T) {
	d := NewSignalDedupe(time.Hour)

	require.NoError(t, d.Claim(btc, domain.SideBuy))
	assert.True(t, d.Active(btc, domain.SideBuy))
	assert.ErrorIs(t, d.Claim(btc, domain.SideBuy), ErrDuplicateSignal)
	assert.NoError(t, d.Claim(btc, domain.SideSell), "反方向互不影响")
	assert.NoError(t, d.Claim(eth, domain.SideBuy), "不同交易对互不影响")

	d.Forget(btc, domain.SideBuy)
	assert.False(t, d.Active(btc, domain.SideBuy))
	assert.NoError(t, d.Claim(btc, domain.SideBuy))
}

func TestSignalDedupe_WindowExpiry(t *testing.T) {
	d := NewSignalDedupe(10 * time.Second)
	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }

	require.NoError(t, d.Claim(btc, domain.SideBuy))
	now = now.Add(9 * time.Second)
	assert.ErrorIs(t, d.Claim(btc, domain.SideBuy), ErrDuplicateSignal)

	now = now.Add(time.Second)
	assert.False(t, d.Active(btc, domain.SideBuy))
	assert.NoError(t, d.Claim(btc, domain.SideBuy))
}

func TestSignalDedupe_SweepsExpired(t *testing.T) {
	d := NewSignalDedupe(time.Second)
	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }

	require.NoError(t, d.Claim(btc, domain.SideBuy))
	require.NoError(t, d.Claim(eth, domain.SideSell))
	now = now.Add(2 * time.Second)
	require.NoError(t, d.Claim(btc, domain.SideSell))
	assert.Len(t, d.seen, 1)
}

func TestSignalDedupe_Nil(t *testing.T) {
	var d *SignalDedupe
	assert.NoError(t, d.Claim(btc, domain.SideBuy))
	d.Forget(btc, domain.SideBuy)
	assert.False(t, d.Active(btc, domain.SideBuy))
	assert.Equal(t, "USDT-BTC:BUY", Key(btc, domain.SideBuy))
}

func TestSignalDedupe_ConcurrentSingleWinner(t *testing.T) {
	d := NewSignalDedupe(time.Minute)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Claim(btc, domain.SideBuy) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
