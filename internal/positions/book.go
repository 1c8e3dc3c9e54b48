// Package positions is the position book: it owns per-user, per-symbol
// positions and folds fills into them.
package positions

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/tradeledger/internal/keylock"
	"github.com/ajitpratap0/tradeledger/internal/metrics"
	"github.com/ajitpratap0/tradeledger/internal/trading"
)

// Store persists positions. GetPosition returns *trading.NotFoundError when
// the pair has never traded. Inside a store transaction (see the ledger),
// GetPosition must lock the row until commit.
type Store interface {
	GetPosition(ctx context.Context, userID, symbol string) (*trading.Position, error)
	SavePosition(ctx context.Context, pos *trading.Position) error
	ListOpenPositions(ctx context.Context, userID string) ([]*trading.Position, error)
}

// PriceSource supplies mark prices for unrealized P&L.
type PriceSource interface {
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// FillResult is the position after a fill and the P&L the fill realized.
type FillResult struct {
	Position    *trading.Position
	RealizedPnL decimal.Decimal
}

// Book is the single writer of position state.
type Book struct {
	store Store
	locks keylock.Map
	log   zerolog.Logger
}

// NewBook creates a position book over store.
func NewBook(store Store) *Book {
	return &Book{
		store: store,
		log:   log.With().Str("component", "position_book").Logger(),
	}
}

func positionKey(userID, symbol string) string {
	return userID + "|" + symbol
}

// ApplyFill folds a fill into the (user, symbol) position. It never retries:
// an error here means the ledger and the book disagree.
func (b *Book) ApplyFill(ctx context.Context, fill trading.Fill) (*FillResult, error) {
	fill.Symbol = trading.NormalizeSymbol(fill.Symbol)
	unlock := b.locks.Lock(positionKey(fill.UserID, fill.Symbol))
	defer unlock()

	current, err := b.store.GetPosition(ctx, fill.UserID, fill.Symbol)
	if err != nil {
		if !trading.IsNotFound(err) {
			return nil, fmt.Errorf("failed to load position: %w", err)
		}
		current = &trading.Position{UserID: fill.UserID, Symbol: fill.Symbol, Leverage: 1}
	}

	next, realized, err := Fold(*current, fill)
	if err != nil {
		b.log.Error().
			Err(err).
			Str("user_id", fill.UserID).
			Str("symbol", fill.Symbol).
			Str("order_id", fill.OrderID).
			Str("side", string(fill.Side)).
			Stringer("fill_quantity", fill.Quantity).
			Stringer("position_quantity", current.Quantity).
			Msg("Fill rejected by position book")
		if ce, ok := err.(*trading.ConsistencyError); ok {
			metrics.RecordConsistencyError(ce.Reason)
		}
		return nil, err
	}

	if err := b.store.SavePosition(ctx, &next); err != nil {
		return nil, fmt.Errorf("failed to save position: %w", err)
	}

	metrics.RecordPositionUpdate(string(fill.Side), realized.InexactFloat64())

	ev := b.log.Info().
		Str("user_id", next.UserID).
		Str("symbol", next.Symbol).
		Str("side", string(fill.Side)).
		Stringer("fill_quantity", fill.Quantity).
		Stringer("fill_price", fill.Price).
		Stringer("quantity", next.Quantity).
		Stringer("average_price", next.AveragePrice)
	if fill.Side == trading.SideSell {
		ev = ev.Stringer("realized_pnl", realized)
	}
	ev.Msg("Position updated")

	return &FillResult{Position: &next, RealizedPnL: realized}, nil
}

// GetPosition returns the position for a pair, open or not.
func (b *Book) GetPosition(ctx context.Context, userID, symbol string) (*trading.Position, error) {
	return b.store.GetPosition(ctx, userID, trading.NormalizeSymbol(symbol))
}

// GetOpenPositions lists the user's positions with quantity above zero.
func (b *Book) GetOpenPositions(ctx context.Context, userID string) ([]*trading.Position, error) {
	positions, err := b.store.ListOpenPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open positions: %w", err)
	}
	return positions, nil
}

// MarkToMarket sets unrealized P&L on each position from prices. Positions
// whose symbol has no price are left unmarked.
func MarkToMarket(ctx context.Context, positions []*trading.Position, prices PriceSource) {
	if prices == nil {
		return
	}
	cache := make(map[string]decimal.Decimal)
	for _, p := range positions {
		price, ok := cache[p.Symbol]
		if !ok {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			v, err := prices.LastPrice(ctx, p.Symbol)
			cancel()
			if err != nil || !v.IsPositive() {
				log.Debug().Err(err).Str("symbol", p.Symbol).Msg("No mark price for position")
				continue
			}
			price = v
			cache[p.Symbol] = price
		}
		mark := price
		pnl := UnrealizedPnL(*p, price)
		p.MarkPrice = &mark
		p.UnrealizedPnL = &pnl
	}
}
