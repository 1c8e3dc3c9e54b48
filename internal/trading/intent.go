package trading

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// OrderIntent is a request to trade before any persistence happens.
type OrderIntent struct {
	UserID      string      `json:"userId"`
	StrategyID  string      `json:"strategyId,omitempty"`
	Symbol      string      `json:"symbol"`
	Side        Side        `json:"side"`
	Kind        Kind        `json:"type"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	StopPrice   *decimal.Decimal `json:"stopPrice,omitempty"`
	TimeInForce TimeInForce      `json:"timeInForce,omitempty"`
	Leverage    float64          `json:"leverage,omitempty"`
}

// Normalize fills defaults: GTC time in force and 1x leverage.
func (in *OrderIntent) Normalize() {
	in.Symbol = NormalizeSymbol(in.Symbol)
	if in.TimeInForce == "" {
		in.TimeInForce = TimeInForceGTC
	}
	if in.Leverage == 0 {
		in.Leverage = 1
	}
}

// Validate checks field presence and numeric ranges, returning a
// *ValidationError that lists every offending field.
func (in *OrderIntent) Validate() error {
	verr := &ValidationError{}

	if in.UserID == "" {
		verr.Add("userId", "is required")
	}
	if in.Symbol == "" {
		verr.Add("symbol", "is required")
	}

	switch in.Side {
	case SideBuy, SideSell:
	case "":
		verr.Add("side", "is required")
	default:
		verr.Add("side", "must be buy or sell")
	}

	kindKnown := true
	switch in.Kind {
	case KindMarket, KindLimit, KindStop, KindStopLimit:
	case "":
		kindKnown = false
		verr.Add("type", "is required")
	default:
		kindKnown = false
		verr.Add("type", "must be market, limit, stop or stop_limit")
	}

	if !in.Quantity.IsPositive() {
		verr.Add("quantity", "must be greater than 0")
	}

	if kindKnown && in.Kind.RequiresPrice() {
		if in.Price == nil {
			verr.Add("price", "is required for "+string(in.Kind)+" orders")
		} else if !in.Price.IsPositive() {
			verr.Add("price", "must be greater than 0")
		}
	} else if in.Price != nil && !in.Price.IsPositive() {
		verr.Add("price", "must be greater than 0")
	}

	if kindKnown && in.Kind.RequiresStopPrice() {
		if in.StopPrice == nil {
			verr.Add("stopPrice", "is required for "+string(in.Kind)+" orders")
		} else if !in.StopPrice.IsPositive() {
			verr.Add("stopPrice", "must be greater than 0")
		}
	} else if in.StopPrice != nil && !in.StopPrice.IsPositive() {
		verr.Add("stopPrice", "must be greater than 0")
	}

	switch in.TimeInForce {
	case "", TimeInForceGTC, TimeInForceIOC, TimeInForceFOK, TimeInForceDay:
	default:
		verr.Add("timeInForce", "must be GTC, IOC, FOK or DAY")
	}

	if in.Leverage != 0 && (!finite(in.Leverage) || in.Leverage < 1) {
		verr.Add("leverage", "must be a finite number of at least 1")
	}

	return verr.OrNil()
}

// NewOrder builds the PENDING order for a validated intent.
func (in *OrderIntent) NewOrder(id string, now time.Time) *Order {
	o := &Order{
		OrderID:     id,
		UserID:      in.UserID,
		StrategyID:  in.StrategyID,
		Symbol:      in.Symbol,
		Side:        in.Side,
		Kind:        in.Kind,
		Quantity:    in.Quantity,
		TimeInForce: in.TimeInForce,
		Leverage:    in.Leverage,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Price != nil {
		p := *in.Price
		o.Price = &p
	}
	if in.StopPrice != nil {
		p := *in.StopPrice
		o.StopPrice = &p
	}
	return o
}

// Notional estimates the order value, using ref when the order has no
// limit price. It returns 0 when neither is known.
func (in *OrderIntent) Notional(ref decimal.Decimal) decimal.Decimal {
	if in.Price != nil {
		return in.Quantity.Mul(*in.Price)
	}
	return in.Quantity.Mul(ref)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
