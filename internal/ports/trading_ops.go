package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/betbot/signaltrader/internal/domain"
)

// Small capability interfaces shared across layers (ledger/lifecycle/coordinator/exchange).

type PortfolioGetter interface {
	GetPortfolio(ctx context.Context) (domain.Balance, error)
}

type FeeGetter interface {
	GetFee(ctx context.Context) (decimal.Decimal, error)
}

type TickerGetter interface {
	GetTicker(ctx context.Context) (domain.Ticker, error)
}

type OrderPlacer interface {
	// Buy/Sell place an order; price == nil means a market order.
	Buy(ctx context.Context, amount decimal.Decimal, price *decimal.Decimal) (domain.OrderHandle, error)
	Sell(ctx context.Context, amount decimal.Decimal, price *decimal.Decimal) (domain.OrderHandle, error)
}

type OrderChecker interface {
	// CheckOrder reports whether the order is completely filled.
	CheckOrder(ctx context.Context, handle domain.OrderHandle) (filled bool, err error)
}

type OrderCanceler interface {
	CancelOrder(ctx context.Context, handle domain.OrderHandle) error
}

// Exchange is the full collaborator the trading core consumes for one pair.
type Exchange interface {
	PortfolioGetter
	FeeGetter
	TickerGetter
	OrderPlacer
	OrderChecker
	OrderCanceler
}
