package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Balance 资产余额（symbol -> 数量）
type Balance map[string]decimal.Decimal

// Clone 深拷贝（decimal 本身不可变，拷贝 map 即可）
func (b Balance) Clone() Balance {
	out := make(Balance, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Has 是否包含该资产（区分“不存在”和“余额为 0”）
func (b Balance) Has(symbol string) bool {
	_, ok := b[symbol]
	return ok
}

// Symbols 按字母序返回资产列表
func (b Balance) Symbols() []string {
	out := make([]string, 0, len(b))
	for k := range b {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Equal 两个快照的资产集合和数量完全一致
func (b Balance) Equal(other Balance) bool {
	if len(b) != len(other) {
		return false
	}
	for k, v := range b {
		ov, ok := other[k]
		if !ok || !ov.Equal(v) {
			return false
		}
	}
	return true
}
