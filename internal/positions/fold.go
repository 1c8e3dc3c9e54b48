package positions

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/tradeledger/internal/trading"
)

// Fold applies one fill to a position and returns the next state together
// with the realized P&L of the fill. The input is never modified. A sell
// larger than the held quantity is rejected because a position cannot go
// short.
func Fold(pos trading.Position, fill trading.Fill) (trading.Position, decimal.Decimal, error) {
	if !fill.Quantity.IsPositive() {
		return pos, decimal.Zero, &trading.ConsistencyError{
			OrderID: fill.OrderID, UserID: pos.UserID, Symbol: pos.Symbol,
			Reason: fmt.Sprintf("fill quantity must be positive, got %s", fill.Quantity),
		}
	}
	if !fill.Price.IsPositive() {
		return pos, decimal.Zero, &trading.ConsistencyError{
			OrderID: fill.OrderID, UserID: pos.UserID, Symbol: pos.Symbol,
			Reason: fmt.Sprintf("fill price must be positive, got %s", fill.Price),
		}
	}

	qty := pos.Quantity
	avg := pos.AveragePrice
	next := pos
	realized := decimal.Zero

	switch fill.Side {
	case trading.SideBuy:
		if qty.IsZero() {
			avg = decimal.Zero
			if fill.Leverage >= 1 {
				next.Leverage = fill.Leverage
			}
		}
		newQty := qty.Add(fill.Quantity)
		next.Quantity = newQty
		next.AveragePrice = qty.Mul(avg).Add(fill.Quantity.Mul(fill.Price)).DivRound(newQty, priceScale)

	case trading.SideSell:
		if fill.Quantity.GreaterThan(qty) {
			return pos, decimal.Zero, &trading.ConsistencyError{
				OrderID: fill.OrderID, UserID: pos.UserID, Symbol: pos.Symbol,
				Reason: fmt.Sprintf("over-sell: fill %s exceeds position %s", fill.Quantity, qty),
			}
		}
		realized = fill.Quantity.Mul(fill.Price.Sub(avg))
		next.Quantity = qty.Sub(fill.Quantity)
		next.RealizedPnL = pos.RealizedPnL.Add(realized)
		if next.Quantity.IsZero() {
			next.AveragePrice = decimal.Zero
		}

	default:
		return pos, decimal.Zero, &trading.ConsistencyError{
			OrderID: fill.OrderID, UserID: pos.UserID, Symbol: pos.Symbol,
			Reason: fmt.Sprintf("unknown fill side %q", fill.Side),
		}
	}

	at := fill.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if qty.IsZero() && fill.Side == trading.SideBuy {
		next.OpenedAt = at
	}
	next.UpdatedAt = at

	return next, realized, nil
}

// priceScale matches the NUMERIC(38, 10) columns prices are stored in.
const priceScale = 10

// UnrealizedPnL marks a position against a price.
func UnrealizedPnL(pos trading.Position, markPrice decimal.Decimal) decimal.Decimal {
	if pos.Quantity.IsZero() {
		return decimal.Zero
	}
	return pos.Quantity.Mul(markPrice.Sub(pos.AveragePrice))
}
