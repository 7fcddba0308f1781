package exchange

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/betbot/signaltrader/internal/domain"
)

//go:embed metadata.yaml
var metadataYAML []byte

type minimalOrderEntry struct {
	Amount string `yaml:"amount"`
	Unit   string `yaml:"unit"`
}

type pairEntry struct {
	Pair         []string          `yaml:"pair"`
	MinimalOrder minimalOrderEntry `yaml:"minimal_order"`
}

type exchangeEntry struct {
	Direct        bool        `yaml:"direct"`
	InfinityOrder bool        `yaml:"infinity_order"`
	Pairs         []pairEntry `yaml:"pairs"`
}

type metadataFile struct {
	Exchanges map[string]exchangeEntry `yaml:"exchanges"`
}

// Metadata 交易所静态能力表
type Metadata struct {
	exchanges map[string]exchangeEntry
}

var (
	defaultOnce sync.Once
	defaultMeta *Metadata
	defaultErr  error
)

// DefaultMetadata 返回内置的元数据（只解析一次）
func DefaultMetadata() (*Metadata, error) {
	defaultOnce.Do(func() {
		defaultMeta, defaultErr = ParseMetadata(metadataYAML)
	})
	return defaultMeta, defaultErr
}

// ParseMetadata 解析 YAML 元数据
func ParseMetadata(data []byte) (*Metadata, error) {
	var f metadataFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("解析交易所元数据失败: %w", err)
	}
	m := &Metadata{exchanges: make(map[string]exchangeEntry, len(f.Exchanges))}
	for name, ex := range f.Exchanges {
		for i, p := range ex.Pairs {
			if len(p.Pair) != 2 {
				return nil, fmt.Errorf("%s: pairs[%d] 需要 [currency, asset]", name, i)
			}
			if _, err := decimal.NewFromString(p.MinimalOrder.Amount); err != nil {
				return nil, fmt.Errorf("%s %v: minimal_order.amount 无效: %w", name, p.Pair, err)
			}
			switch domain.MinimalOrderUnit(p.MinimalOrder.Unit) {
			case domain.UnitCurrency, domain.UnitAsset:
			default:
				return nil, fmt.Errorf("%s %v: minimal_order.unit 必须是 currency 或 asset", name, p.Pair)
			}
		}
		m.exchanges[strings.ToLower(name)] = ex
	}
	return m, nil
}

// Lookup 查询交易对能力；交易所或交易对不存在时返回 ErrUnsupportedPair
func (m *Metadata) Lookup(exchange, currency, asset string) (domain.Capabilities, error) {
	ex, ok := m.exchanges[strings.ToLower(exchange)]
	if !ok {
		return domain.Capabilities{}, fmt.Errorf("%w: exchange %q", domain.ErrUnsupportedPair, exchange)
	}
	for _, p := range ex.Pairs {
		if strings.EqualFold(p.Pair[0], currency) && strings.EqualFold(p.Pair[1], asset) {
			return domain.Capabilities{
				Direct:        ex.Direct,
				InfinityOrder: ex.InfinityOrder,
				MinimalOrder: domain.MinimalOrder{
					Amount: decimal.RequireFromString(p.MinimalOrder.Amount),
					Unit:   domain.MinimalOrderUnit(p.MinimalOrder.Unit),
				},
			}, nil
		}
	}
	return domain.Capabilities{}, fmt.Errorf("%w: %s %s-%s", domain.ErrUnsupportedPair, exchange, currency, asset)
}

// PairInfo 用于 CLI 列表展示
type PairInfo struct {
	Exchange     string
	Pair         domain.Pair
	Capabilities domain.Capabilities
}

// Pairs 列出全部交易所和交易对（按交易所名排序）
func (m *Metadata) Pairs() []PairInfo {
	names := make([]string, 0, len(m.exchanges))
	for n := range m.exchanges {
		names = append(names, n)
	}
	sort.Strings(names)

	var out []PairInfo
	for _, n := range names {
		for _, p := range m.exchanges[n].Pairs {
			caps, err := m.Lookup(n, p.Pair[0], p.Pair[1])
			if err != nil {
				continue
			}
			out = append(out, PairInfo{
				Exchange:     n,
				Pair:         domain.Pair{Currency: p.Pair[0], Asset: p.Pair[1]},
				Capabilities: caps,
			})
		}
	}
	return out
}
