package trading

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is one trading intent and its exchange lifecycle.
type Order struct {
	OrderID          string      `json:"orderId"`
	UserID           string      `json:"userId"`
	StrategyID       string      `json:"strategyId,omitempty"`
	Symbol           string      `json:"symbol"`
	Side             Side        `json:"side"`
	Kind             Kind        `json:"type"`
	Quantity         decimal.Decimal  `json:"quantity"`
	Price            *decimal.Decimal `json:"price,omitempty"`
	StopPrice        *decimal.Decimal `json:"stopPrice,omitempty"`
	TimeInForce      TimeInForce      `json:"timeInForce"`
	Leverage         float64          `json:"leverage"`
	Status           Status           `json:"status"`
	FilledQuantity   decimal.Decimal  `json:"filledQuantity"`
	AverageFillPrice decimal.Decimal  `json:"averageFillPrice"`
	Commission       decimal.Decimal  `json:"commission"`
	ExchangeOrderID  string           `json:"exchangeOrderId,omitempty"`
	ErrorMessage     string           `json:"errorMessage,omitempty"`
	Version          int64            `json:"version"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
	FilledAt         *time.Time       `json:"filledAt,omitempty"`
	CancelledAt      *time.Time       `json:"cancelledAt,omitempty"`
}

// RemainingQuantity is the part of the order not yet executed.
func (o *Order) RemainingQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (o *Order) Clone() *Order {
	c := *o
	if o.Price != nil {
		p := *o.Price
		c.Price = &p
	}
	if o.StopPrice != nil {
		p := *o.StopPrice
		c.StopPrice = &p
	}
	if o.FilledAt != nil {
		t := *o.FilledAt
		c.FilledAt = &t
	}
	if o.CancelledAt != nil {
		t := *o.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}

// Trade is an immutable execution of part of an order.
type Trade struct {
	TradeID    string          `json:"tradeId"`
	OrderID    string          `json:"orderId"`
	UserID     string          `json:"userId"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	// RealizedPnL is the profit locked in by a sell, zero for buys.
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
	Venue       string          `json:"venue"`
	ExecutedAt  time.Time       `json:"executedAt"`
}

// Notional is quantity times price.
func (t *Trade) Notional() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// Position is the net long exposure of one user in one symbol.
type Position struct {
	UserID        string           `json:"userId"`
	Symbol        string           `json:"symbol"`
	Quantity      decimal.Decimal  `json:"quantity"`
	AveragePrice  decimal.Decimal  `json:"averagePrice"`
	RealizedPnL   decimal.Decimal  `json:"realizedPnl"`
	UnrealizedPnL *decimal.Decimal `json:"unrealizedPnl,omitempty"`
	MarkPrice     *decimal.Decimal `json:"markPrice,omitempty"`
	Leverage      float64          `json:"leverage"`
	OpenedAt      time.Time        `json:"openedAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// IsOpen reports whether the position holds any quantity.
func (p *Position) IsOpen() bool {
	return p.Quantity.IsPositive()
}

// Fill is the fact the ledger hands to the position book for one trade.
type Fill struct {
	TradeID  string
	OrderID  string
	UserID   string
	Symbol   string
	Side     Side
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Leverage float64
	At       time.Time
}

// StatusEvent is a venue report about an order. FilledQuantity, AveragePrice
// and Commission are cumulative for the order.
type StatusEvent struct {
	ExternalID     string          `json:"externalId"`
	ClientOrderID  string          `json:"clientOrderId,omitempty"`
	Symbol         string          `json:"symbol,omitempty"`
	Status         Status          `json:"status"`
	FilledQuantity decimal.Decimal `json:"filledQuantity"`
	AveragePrice   decimal.Decimal `json:"averagePrice"`
	Commission     decimal.Decimal `json:"commission"`
	Venue          string          `json:"venue,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// OrderKey identifies the order an event refers to for routing purposes.
func (e StatusEvent) OrderKey() string {
	if e.ClientOrderID != "" {
		return e.ClientOrderID
	}
	return e.ExternalID
}

// LifecycleEventType names an order lifecycle notification.
type LifecycleEventType string

const (
	EventCreated         LifecycleEventType = "created"
	EventRejected        LifecycleEventType = "rejected"
	EventPartiallyFilled LifecycleEventType = "partially_filled"
	EventFilled          LifecycleEventType = "filled"
	EventCancelled       LifecycleEventType = "cancelled"
	EventFailed          LifecycleEventType = "failed"
)

// LifecycleEvent is emitted by the ledger after a committed transition.
type LifecycleEvent struct {
	Type       LifecycleEventType `json:"type"`
	OrderID    string             `json:"orderId"`
	UserID     string             `json:"userId"`
	Symbol     string             `json:"symbol"`
	Status     Status             `json:"status"`
	Order      *Order             `json:"order"`
	Trade      *Trade             `json:"trade,omitempty"`
	OccurredAt time.Time          `json:"occurredAt"`
}

// SubmitRequest is what the ledger asks a gateway to place.
type SubmitRequest struct {
	ClientOrderID string
	Symbol        string
	Side          Side
	Kind          Kind
	Quantity      decimal.Decimal
	Price         *decimal.Decimal
	StopPrice     *decimal.Decimal
	TimeInForce   TimeInForce
	Leverage      float64
}

// SubmitAck is the venue acknowledgement of a submission.
type SubmitAck struct {
	ExternalID string
	Status     Status
	Reason     string
}

// RiskDecision is the outcome of a pre-trade check.
type RiskDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// OrderFilter narrows a user's order listing.
type OrderFilter struct {
	Symbol    string
	Status    Status
	Side      Side
	Kind      Kind
	StartDate *time.Time
	EndDate   *time.Time
	Page      int
	PageSize  int
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Normalize applies pagination defaults and bounds.
func (f *OrderFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	f.Symbol = NormalizeSymbol(f.Symbol)
}

// Offset is the number of rows skipped before the page starts.
func (f *OrderFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// OpenOrderQuery pages through working orders in (UpdatedAt, OrderID)
// order. After is exclusive; a nil After starts from the oldest order.
// Orders updated at or after UpdatedBefore are skipped when it is set.
type OpenOrderQuery struct {
	After         *OpenOrderCursor
	UpdatedBefore time.Time
	Limit         int
}

// OpenOrderCursor is a keyset position in the open order scan.
type OpenOrderCursor struct {
	UpdatedAt time.Time
	OrderID   string
}

// CursorOf returns the keyset position of o.
func CursorOf(o *Order) *OpenOrderCursor {
	return &OpenOrderCursor{UpdatedAt: o.UpdatedAt, OrderID: o.OrderID}
}

// Precedes reports whether o sorts strictly after the cursor position,
// i.e. whether a scan resumed at c still has to visit o.
func (c OpenOrderCursor) Precedes(o *Order) bool {
	if o.UpdatedAt.Equal(c.UpdatedAt) {
		return c.OrderID < o.OrderID
	}
	return c.UpdatedAt.Before(o.UpdatedAt)
}

// OrderPage is one page of a listing.
type OrderPage struct {
	Orders   []*Order `json:"orders"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"pageSize"`
	Pages    int      `json:"pages"`
}

// NewOrderPage computes the page count for a listing.
func NewOrderPage(orders []*Order, total int, f OrderFilter) *OrderPage {
	pages := 0
	if f.PageSize > 0 {
		pages = (total + f.PageSize - 1) / f.PageSize
	}
	if orders == nil {
		orders = []*Order{}
	}
	return &OrderPage{Orders: orders, Total: total, Page: f.Page, PageSize: f.PageSize, Pages: pages}
}

// TradeStats aggregates a user's executions since a point in time.
type TradeStats struct {
	Since        time.Time       `json:"since"`
	TradeCount   int             `json:"tradeCount"`
	FilledOrders int             `json:"filledOrders"`
	Volume       decimal.Decimal `json:"volume"`
	BuyNotional  decimal.Decimal `json:"buyNotional"`
	SellNotional decimal.Decimal `json:"sellNotional"`
	Commission   decimal.Decimal `json:"commission"`
	RealizedPnL  decimal.Decimal `json:"realizedPnl"`
}
