package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/signaltrader/internal/domain"
	"github.com/betbot/signaltrader/internal/events"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "sub", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_RecordAndTail(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	btc := domain.Pair{Currency: "USDT", Asset: "BTC"}
	eth := domain.Pair{Currency: "USDT", Asset: "ETH"}
	base := time.UnixMilli(1_700_000_000_000)
	price := decimal.RequireFromString("10.5")

	states := []string{"Sizing", "Checking", "Submitted", "Monitoring", "Filled"}
	for i := 1; i < len(states); i++ {
		ev := events.LifecycleEvent{
			Time: base.Add(time.Duration(i) * time.Millisecond), Pair: btc, Side: domain.SideBuy,
			From: states[i-1], To: states[i], Attempt: 1,
			OrderID: "o-1", Amount: decimal.NewFromInt(100), Price: &price, Minimum: decimal.NewFromInt(1),
		}
		j.OnLifecycleEvent(ev)
	}
	_, err := j.Record(ctx, events.LifecycleEvent{Time: base.Add(time.Second), Pair: eth, Side: domain.SideSell,
		From: "Sizing", To: "Skipped", Reason: "loss avoidance"})
	require.NoError(t, err)

	all, err := j.Tail(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "Checking", all[0].To, "正序返回")
	assert.Equal(t, "Skipped", all[4].To)
	assert.Nil(t, all[4].Price)

	last2, err := j.Tail(ctx, "USDT-BTC", 2)
	require.NoError(t, err)
	require.Len(t, last2, 2)
	assert.Equal(t, "Monitoring", last2[0].To)
	assert.Equal(t, "Filled", last2[1].To)
	assert.Equal(t, btc, last2[1].Pair)
	assert.Equal(t, domain.OrderHandle("o-1"), last2[1].OrderID)
	require.NotNil(t, last2[1].Price)
	assert.True(t, last2[1].Price.Equal(price))
	assert.True(t, last2[1].Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, base.Add(4*time.Millisecond).UnixMilli(), last2[1].Time.UnixMilli())
}

func TestJournal_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	_, err = j.Record(context.Background(), events.LifecycleEvent{Pair: domain.Pair{Currency: "EUR", Asset: "XBT"}, Side: domain.SideBuy, From: "Sizing", To: "Checking"})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	got, err := j.Tail(context.Background(), "EUR-XBT", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestNewID_Monotonic(t *testing.T) {
	now := time.Now()
	a, err := newID(now)
	require.NoError(t, err)
	b, err := newID(now)
	require.NoError(t, err)
	assert.Less(t, a, b)
}
