package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/tradeledger/internal/trading"
)

// Gateway is the venue capability the ledger consumes. Implementations
// report failures as *trading.ExchangeError.
type Gateway interface {
	// Name identifies the venue in trades, logs and metrics
	Name() string

	// Submit places an order and returns the venue acknowledgement
	Submit(ctx context.Context, req trading.SubmitRequest) (*trading.SubmitAck, error)

	// Cancel asks the venue to cancel a working order
	Cancel(ctx context.Context, externalID, symbol string) error

	// QueryOrder reports the venue's current view of an order
	QueryOrder(ctx context.Context, externalID, symbol string) (*trading.StatusEvent, error)
}

// EventSource is implemented by gateways that push status events.
type EventSource interface {
	Events() <-chan trading.StatusEvent
}

// PriceSource supplies last traded prices.
type PriceSource interface {
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}
