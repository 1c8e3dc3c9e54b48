// Package trading holds the order, trade and position types shared by the
// ledger, the position book and every adapter around them.
package trading

import "strings"

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Kind is the order type.
type Kind string

const (
	KindMarket    Kind = "market"
	KindLimit     Kind = "limit"
	KindStop      Kind = "stop"
	KindStopLimit Kind = "stop_limit"
)

// RequiresPrice reports whether orders of this kind carry a limit price.
func (k Kind) RequiresPrice() bool {
	return k == KindLimit || k == KindStopLimit
}

// RequiresStopPrice reports whether orders of this kind carry a stop price.
func (k Kind) RequiresStopPrice() bool {
	return k == KindStop || k == KindStopLimit
}

// TimeInForce controls how long an order stays working on the venue.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
	TimeInForceDay TimeInForce = "DAY"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusNew             Status = "NEW"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCancelled       Status = "CANCELLED"
	StatusRejected        Status = "REJECTED"
	StatusFailed          Status = "FAILED"
)

// transitions lists the statuses reachable from each non-terminal status.
// Self transitions are listed where a repeated event may legitimately carry
// new fill data.
var transitions = map[Status][]Status{
	StatusPending:         {StatusNew, StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusRejected, StatusFailed},
	StatusNew:             {StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusRejected},
	StatusPartiallyFilled: {StatusPartiallyFilled, StatusFilled, StatusCancelled},
}

// ParseStatus normalizes a venue or API supplied status string.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusNew, StatusPartiallyFilled, StatusFilled,
		StatusCancelled, StatusRejected, StatusFailed:
		return st, true
	case "CANCELED":
		return StatusCancelled, true
	}
	return "", false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// IsCancelable reports whether a cancel request is allowed.
func (s Status) IsCancelable() bool {
	return s == StatusPending || s == StatusNew || s == StatusPartiallyFilled
}

// CanTransition reports whether the state machine allows moving to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OpenStatuses are the statuses of orders still working on a venue.
func OpenStatuses() []Status {
	return []Status{StatusPending, StatusNew, StatusPartiallyFilled}
}

// TerminalStatuses are the statuses a housekeeping purge may remove.
func TerminalStatuses() []Status {
	return []Status{StatusFilled, StatusCancelled, StatusRejected, StatusFailed}
}

// NormalizeSymbol trims and upper-cases a trading pair.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
