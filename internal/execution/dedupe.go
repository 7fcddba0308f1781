// Package execution 信号进入交易引擎之前的去重。
package execution

import (
	"errors"
	"sync"
	"time"

	"github.com/betbot/signaltrader/internal/domain"
)

// ErrDuplicateSignal 同一交易对同一方向的信号仍在去重窗口内
var ErrDuplicateSignal = errors.New("duplicate signal")

// SignalDedupe 按 (交易对, 方向) 记录最近一次被接受的信号。
// 窗口内的重复信号被拒绝；被引擎拒绝的信号调用 Forget 让出窗口。
// 精确 map，不做概率去重：误判会漏掉真实信号。
type SignalDedupe struct {
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	seen      map[string]time.Time // key -> 接受时间
	lastSweep time.Time
}

// NewSignalDedupe window<=0 时默认 10s
func NewSignalDedupe(window time.Duration) *SignalDedupe {
	if window <= 0 {
		window = 10 * time.Second
	}
	return &SignalDedupe{window: window, now: time.Now, seen: make(map[string]time.Time)}
}

// Key 去重键，例如 USDT-BTC:BUY
func Key(pair domain.Pair, side domain.Side) string {
	return pair.String() + ":" + side.String()
}

// Claim 记录一次信号；窗口内已有同一 key 时返回 ErrDuplicateSignal
func (d *SignalDedupe) Claim(pair domain.Pair, side domain.Side) error {
	if d == nil {
		return nil
	}
	key := Key(pair, side)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.sweepLocked(now)
	if at, ok := d.seen[key]; ok && now.Sub(at) < d.window {
		return ErrDuplicateSignal
	}
	d.seen[key] = now
	return nil
}

// Forget 提前结束该 key 的窗口
func (d *SignalDedupe) Forget(pair domain.Pair, side domain.Side) {
	if d == nil {
		return
	}
	d.mu.Lock()
	delete(d.seen, Key(pair, side))
	d.mu.Unlock()
}

// Active 该 key 是否仍在窗口内
func (d *SignalDedupe) Active(pair domain.Pair, side domain.Side) bool {
	if d == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	at, ok := d.seen[Key(pair, side)]
	return ok && d.now().Sub(at) < d.window
}

// sweepLocked 每个窗口最多清理一次过期记录
func (d *SignalDedupe) sweepLocked(now time.Time) {
	if now.Sub(d.lastSweep) < d.window {
		return
	}
	for k, at := range d.seen {
		if now.Sub(at) >= d.window {
			delete(d.seen, k)
		}
	}
	d.lastSweep = now
}
