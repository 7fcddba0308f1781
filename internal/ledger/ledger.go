package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/signaltrader/internal/domain"
	"github.com/betbot/signaltrader/internal/ports"
)

var log = logrus.WithField("component", "ledger")

// Source 余额和手续费的数据来源（交易所）
type Source interface {
	ports.PortfolioGetter
	ports.FeeGetter
}

// Ledger 保存最近一次刷新得到的余额快照和手续费率。
//
// 每次 Refresh 整体替换快照（不做增量合并），读者要么看到旧快照，要么看到新快照。
// Refresh 失败不做内部重试：启动时和交易中途的刷新由调用方各自决定重试策略。
type Ledger struct {
	src Source

	mu          sync.RWMutex
	balance     domain.Balance
	fee         decimal.Decimal
	refreshedAt time.Time
}

// New 创建 Ledger（此时尚无快照，需要先 Refresh）
func New(src Source) *Ledger {
	return &Ledger{src: src}
}

// Refresh 从交易所拉取余额和手续费，成功后原子替换快照
func (l *Ledger) Refresh(ctx context.Context) (domain.Balance, decimal.Decimal, error) {
	balance, err := l.src.GetPortfolio(ctx)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("%w: get portfolio: %w", domain.ErrExchangeUnavailable, err)
	}
	fee, err := l.src.GetFee(ctx)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("%w: get fee: %w", domain.ErrExchangeUnavailable, err)
	}

	snapshot := balance.Clone()

	l.mu.Lock()
	l.balance = snapshot
	l.fee = fee
	l.refreshedAt = time.Now()
	l.mu.Unlock()

	log.Debugf("余额已刷新: %v fee=%s", snapshot, fee)
	return snapshot.Clone(), fee, nil
}

// BalanceOf 返回某资产余额；上次刷新中不存在该资产时返回 ErrUnknownAsset（区别于余额为 0）
func (l *Ledger) BalanceOf(symbol string) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.balance[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrUnknownAsset, symbol)
	}
	return v, nil
}

// Require 校验所有 symbol 都出现在最近一次快照中（构造时 fail fast）
func (l *Ledger) Require(symbols ...string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, s := range symbols {
		if !l.balance.Has(s) {
			return fmt.Errorf("%w: %s (have %v)", domain.ErrUnknownAsset, s, l.balance.Symbols())
		}
	}
	return nil
}

// Snapshot 返回当前快照的拷贝
func (l *Ledger) Snapshot() domain.Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance.Clone()
}

// Fee 返回最近一次刷新的手续费率
func (l *Ledger) Fee() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fee
}

// RefreshedAt 最近一次成功刷新的时间（零值 = 从未刷新）
func (l *Ledger) RefreshedAt() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.refreshedAt
}
