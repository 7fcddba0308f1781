package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/betbot/signaltrader/internal/domain"
)

// PlacedOrder records one Buy/Sell call.
type PlacedOrder struct {
	Handle domain.OrderHandle
	Side   domain.Side
	Amount decimal.Decimal
	Price  *decimal.Decimal
}

// Exchange is a scriptable in-memory exchange for tests.
type Exchange struct {
	mu sync.Mutex

	// Response data
	Portfolio domain.Balance
	Fee       decimal.Decimal
	Ticker    domain.Ticker

	// FillScript is consumed by CheckOrder, one entry per call; when empty
	// every check reports filled.
	FillScript []bool

	// OnCancel runs after a successful CancelOrder (e.g. to simulate a partial
	// fill moving balances).
	OnCancel func(m *Exchange)

	// Call tracking
	Calls   map[string]int
	Log     []string // ordered call names, shared with test clocks via Record
	Placed  []PlacedOrder
	Checked []domain.OrderHandle

	// Error injection
	ErrorOnNext map[string]error

	seq int
}

// NewExchange creates a mock exchange with the given balances and ticker.
func NewExchange(portfolio domain.Balance, ticker domain.Ticker) *Exchange {
	return &Exchange{
		Portfolio:   portfolio,
		Fee:         decimal.RequireFromString("0.001"),
		Ticker:      ticker,
		Calls:       make(map[string]int),
		ErrorOnNext: make(map[string]error),
	}
}

func (m *Exchange) trackCall(name string) error {
	m.Calls[name]++
	m.Log = append(m.Log, name)
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return err
	}
	return nil
}

// Record appends an externally observed step (e.g. a clock wait) to the call log.
func (m *Exchange) Record(entry string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Log = append(m.Log, entry)
}

// CallLog returns a copy of the ordered call log.
func (m *Exchange) CallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Log...)
}

// Count returns how many times a method was called.
func (m *Exchange) Count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[name]
}

// PlacedOrders returns a copy of all placed orders.
func (m *Exchange) PlacedOrders() []PlacedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PlacedOrder(nil), m.Placed...)
}

// FailNext makes the next call to method return err.
func (m *Exchange) FailNext(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorOnNext[method] = err
}

// SetTicker replaces the ticker.
func (m *Exchange) SetTicker(t domain.Ticker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ticker = t
}

// SetPortfolio replaces the balances.
func (m *Exchange) SetPortfolio(b domain.Balance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Portfolio = b
}

func (m *Exchange) GetPortfolio(ctx context.Context) (domain.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("GetPortfolio"); err != nil {
		return nil, err
	}
	return m.Portfolio.Clone(), nil
}

func (m *Exchange) GetFee(ctx context.Context) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("GetFee"); err != nil {
		return decimal.Zero, err
	}
	return m.Fee, nil
}

func (m *Exchange) GetTicker(ctx context.Context) (domain.Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("GetTicker"); err != nil {
		return domain.Ticker{}, err
	}
	return m.Ticker, nil
}

func (m *Exchange) Buy(ctx context.Context, amount decimal.Decimal, price *decimal.Decimal) (domain.OrderHandle, error) {
	return m.place("Buy", domain.SideBuy, amount, price)
}

func (m *Exchange) Sell(ctx context.Context, amount decimal.Decimal, price *decimal.Decimal) (domain.OrderHandle, error) {
	return m.place("Sell", domain.SideSell, amount, price)
}

func (m *Exchange) place(name string, side domain.Side, amount decimal.Decimal, price *decimal.Decimal) (domain.OrderHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall(name); err != nil {
		return "", err
	}
	m.seq++
	h := domain.OrderHandle(fmt.Sprintf("mock-%d", m.seq))
	var p *decimal.Decimal
	if price != nil {
		v := *price
		p = &v
	}
	m.Placed = append(m.Placed, PlacedOrder{Handle: h, Side: side, Amount: amount, Price: p})
	return h, nil
}

func (m *Exchange) CheckOrder(ctx context.Context, handle domain.OrderHandle) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("CheckOrder"); err != nil {
		return false, err
	}
	m.Checked = append(m.Checked, handle)
	if len(m.FillScript) == 0 {
		return true, nil
	}
	filled := m.FillScript[0]
	m.FillScript = m.FillScript[1:]
	return filled, nil
}

func (m *Exchange) CancelOrder(ctx context.Context, handle domain.OrderHandle) error {
	m.mu.Lock()
	if err := m.trackCall("CancelOrder"); err != nil {
		m.mu.Unlock()
		return err
	}
	hook := m.OnCancel
	m.mu.Unlock()
	if hook != nil {
		hook(m)
	}
	return nil
}
