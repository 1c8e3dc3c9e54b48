package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/tradeledger/internal/metrics"
	"github.com/ajitpratap0/tradeledger/internal/trading"
)

// Outcome classifies what ApplyStatusEvent did with an event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeStale     Outcome = "stale"
	OutcomeIgnored   Outcome = "ignored"
)

// fillPlan is the state change one event produces.
type fillPlan struct {
	status     trading.Status
	filled     decimal.Decimal
	increment  decimal.Decimal
	price      decimal.Decimal // price of the increment
	average    decimal.Decimal // order average after the increment
	commission decimal.Decimal // commission charged on the increment
	total      decimal.Decimal // cumulative order commission
}

// ApplyStatusEvent drives an order from a venue status report. Fill
// quantities are cumulative: only the increment over what the ledger has
// already recorded becomes a trade, so redelivered events are no-ops and
// events carrying less fill than already seen are rejected as stale. The
// trade, the position update and the order update commit together.
func (l *Ledger) ApplyStatusEvent(ctx context.Context, orderID string, ev trading.StatusEvent) (*trading.Order, Outcome, error) {
	status, ok := trading.ParseStatus(string(ev.Status))
	if !ok {
		verr := &trading.ValidationError{}
		verr.Add("status", fmt.Sprintf("unknown status %q", ev.Status))
		metrics.RecordStatusEvent("invalid")
		return nil, "", verr
	}
	ev.Status = status

	unlock := l.locks.Lock(orderID)
	defer unlock()

	order, err := l.store.GetOrder(ctx, orderID)
	if err != nil {
		metrics.RecordStatusEvent("error")
		return nil, "", err
	}

	logger := l.log.With().
		Str("order_id", order.OrderID).
		Str("exchange_order_id", ev.ExternalID).
		Str("event_status", string(ev.Status)).
		Stringer("event_filled_quantity", ev.FilledQuantity).
		Logger()

	if order.Status.IsTerminal() {
		logger.Debug().Str("status", string(order.Status)).Msg("Late event for terminal order ignored")
		metrics.RecordStatusEvent(string(OutcomeIgnored))
		return order, OutcomeIgnored, nil
	}

	plan, outcome, err := l.plan(order, ev)
	if err != nil {
		l.reportConsistency(err)
		return order, "", err
	}
	if outcome != OutcomeApplied {
		if outcome == OutcomeStale {
			logger.Warn().
				Str("status", string(order.Status)).
				Stringer("filled_quantity", order.FilledQuantity).
				Msg("Stale status event rejected")
		} else {
			logger.Debug().Msg("Duplicate status event")
		}
		metrics.RecordStatusEvent(string(outcome))
		return order, outcome, nil
	}

	now := l.now()
	next := order.Clone()
	next.Status = plan.status
	next.FilledQuantity = plan.filled
	if plan.filled.IsPositive() {
		next.AverageFillPrice = plan.average
	}
	next.Commission = plan.total
	next.UpdatedAt = now
	if next.ExchangeOrderID == "" {
		next.ExchangeOrderID = ev.ExternalID
	}
	switch plan.status {
	case trading.StatusFilled:
		next.FilledAt = &now
	case trading.StatusCancelled:
		next.CancelledAt = &now
		if ev.Reason != "" {
			next.ErrorMessage = ev.Reason
		}
	case trading.StatusRejected:
		next.ErrorMessage = ev.Reason
	}

	var trade *trading.Trade
	if plan.increment.IsPositive() {
		executedAt := ev.Timestamp
		if executedAt.IsZero() {
			executedAt = now
		}
		venue := ev.Venue
		if venue == "" {
			venue = l.gateway.Name()
		}
		trade = &trading.Trade{
			TradeID:    l.newID(),
			OrderID:    order.OrderID,
			UserID:     order.UserID,
			Symbol:     order.Symbol,
			Side:       order.Side,
			Quantity:   plan.increment,
			Price:      plan.price,
			Commission: plan.commission,
			Venue:      venue,
			ExecutedAt: executedAt,
		}
	}

	err = l.store.RunInTx(ctx, func(ctx context.Context) error {
		if trade != nil {
			res, err := l.book.ApplyFill(ctx, trading.Fill{
				TradeID:  trade.TradeID,
				OrderID:  trade.OrderID,
				UserID:   trade.UserID,
				Symbol:   trade.Symbol,
				Side:     trade.Side,
				Quantity: trade.Quantity,
				Price:    trade.Price,
				Leverage: order.Leverage,
				At:       trade.ExecutedAt,
			})
			if err != nil {
				return err
			}
			trade.RealizedPnL = res.RealizedPnL
			if err := l.store.InsertTrade(ctx, trade); err != nil {
				return fmt.Errorf("failed to append trade: %w", err)
			}
		}
		if err := l.store.UpdateOrder(ctx, next); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		return nil
	})
	if err != nil {
		if trading.IsConsistency(err) {
			// The book already counted and logged its own violations.
			logger.Error().Err(err).Msg("Status event dropped, nothing applied")
			metrics.RecordStatusEvent("consistency_error")
		} else {
			logger.Error().Err(err).Msg("Failed to apply status event")
			metrics.RecordStatusEvent("error")
		}
		return order, "", err
	}

	metrics.RecordStatusEvent(string(OutcomeApplied))
	if order.Status != next.Status {
		metrics.RecordTransition(string(order.Status), string(next.Status))
	}
	if trade != nil {
		metrics.RecordTrade(string(trade.Side), trade.Notional().InexactFloat64())
	}

	if trade == nil && order.Status == next.Status {
		logger.Info().
			Stringer("commission", next.Commission).
			Msg("Order commission updated")
		return next, OutcomeApplied, nil
	}

	logger.Info().
		Str("from", string(order.Status)).
		Str("to", string(next.Status)).
		Stringer("filled_quantity", next.FilledQuantity).
		Stringer("average_fill_price", next.AverageFillPrice).
		Msg("Order status applied")

	if typ, ok := lifecycleType(next.Status); ok {
		l.notify(typ, next, trade)
	}

	return next, OutcomeApplied, nil
}

// HandleEvent resolves the order an event refers to and applies it.
func (l *Ledger) HandleEvent(ctx context.Context, ev trading.StatusEvent) (*trading.Order, Outcome, error) {
	orderID, err := l.ResolveOrderID(ctx, ev)
	if err != nil {
		metrics.RecordStatusEvent("unresolved")
		return nil, "", err
	}
	return l.ApplyStatusEvent(ctx, orderID, ev)
}

// ResolveOrderID maps an event to a ledger order, preferring the client
// order ID the ledger sent at submission.
func (l *Ledger) ResolveOrderID(ctx context.Context, ev trading.StatusEvent) (string, error) {
	if ev.ClientOrderID != "" {
		o, err := l.store.GetOrder(ctx, ev.ClientOrderID)
		if err == nil {
			return o.OrderID, nil
		}
		if !trading.IsNotFound(err) {
			return "", err
		}
	}
	if ev.ExternalID != "" {
		o, err := l.store.GetOrderByExternalID(ctx, ev.ExternalID)
		if err != nil {
			return "", err
		}
		return o.OrderID, nil
	}
	return "", &trading.NotFoundError{Resource: "order", ID: ev.OrderKey()}
}

// plan computes the transition for ev without touching any state.
func (l *Ledger) plan(order *trading.Order, ev trading.StatusEvent) (*fillPlan, Outcome, error) {
	inconsistent := func(format string, args ...interface{}) error {
		return &trading.ConsistencyError{
			OrderID: order.OrderID,
			UserID:  order.UserID,
			Symbol:  order.Symbol,
			Reason:  fmt.Sprintf(format, args...),
		}
	}

	if ev.FilledQuantity.IsNegative() || ev.AveragePrice.IsNegative() || ev.Commission.IsNegative() {
		return nil, "", inconsistent("negative quantity %s, price %s or commission %s in status event",
			ev.FilledQuantity, ev.AveragePrice, ev.Commission)
	}

	requested := order.Quantity
	oldFilled := order.FilledQuantity
	oldAvg := order.AverageFillPrice
	newFilled := ev.FilledQuantity
	eventAvg := ev.AveragePrice

	// A FILLED report without a quantity means the whole order executed.
	inferred := false
	if ev.Status == trading.StatusFilled && newFilled.IsZero() {
		newFilled = requested
		inferred = true
	}

	if newFilled.GreaterThan(requested) {
		return nil, "", inconsistent("over-fill: filled %s exceeds requested %s", newFilled, requested)
	}
	if ev.Status == trading.StatusFilled && newFilled.LessThan(requested) {
		return nil, "", inconsistent("quantity: FILLED reported with %s of %s executed", newFilled, requested)
	}
	if newFilled.LessThan(oldFilled) {
		return nil, OutcomeStale, nil
	}

	increment := newFilled.Sub(oldFilled)
	target := ev.Status

	if increment.IsPositive() {
		switch ev.Status {
		case trading.StatusRejected, trading.StatusFailed:
			return nil, "", inconsistent("quantity: fill of %s reported with status %s", increment, ev.Status)
		case trading.StatusCancelled:
			if newFilled.Equal(requested) {
				target = trading.StatusFilled
			}
		default:
			target = trading.StatusPartiallyFilled
			if newFilled.Equal(requested) {
				target = trading.StatusFilled
			}
		}
	} else {
		if target == trading.StatusPartiallyFilled && newFilled.IsZero() {
			return nil, OutcomeStale, nil
		}
		if target == order.Status {
			// Venues may settle fees after the fill report that carried
			// the quantity.
			if ev.Commission.GreaterThan(order.Commission) {
				return &fillPlan{
					status:     order.Status,
					filled:     oldFilled,
					average:    oldAvg,
					total:      ev.Commission,
					commission: ev.Commission.Sub(order.Commission),
				}, OutcomeApplied, nil
			}
			return nil, OutcomeDuplicate, nil
		}
	}

	if !order.Status.CanTransition(target) {
		return nil, OutcomeStale, nil
	}

	total := order.Commission
	if ev.Commission.GreaterThan(total) {
		total = ev.Commission
	}

	p := &fillPlan{
		status:     target,
		filled:     newFilled,
		increment:  increment,
		average:    oldAvg,
		total:      total,
		commission: total.Sub(order.Commission),
	}
	if !increment.IsPositive() {
		return p, OutcomeApplied, nil
	}

	if eventAvg.IsZero() && inferred && order.Price != nil {
		eventAvg = *order.Price
	}
	if !eventAvg.IsPositive() {
		return nil, "", inconsistent("price: fill of %s reported without a price", increment)
	}

	switch l.cfg.FillPriceMode {
	case FillPriceIncremental:
		p.price = eventAvg
		p.average = oldAvg.Mul(oldFilled).Add(eventAvg.Mul(increment)).Div(newFilled)
	default:
		p.price = eventAvg.Mul(newFilled).Sub(oldAvg.Mul(oldFilled)).Div(increment)
		p.average = eventAvg
	}
	p.price = p.price.Round(10)
	p.average = p.average.Round(10)
	if !p.price.IsPositive() {
		return nil, "", inconsistent("price: derived fill price %s is not positive", p.price)
	}

	return p, OutcomeApplied, nil
}

func (l *Ledger) reportConsistency(err error) {
	if ce, ok := err.(*trading.ConsistencyError); ok {
		metrics.RecordConsistencyError(ce.Reason)
		l.log.Error().
			Str("order_id", ce.OrderID).
			Str("user_id", ce.UserID).
			Str("symbol", ce.Symbol).
			Str("reason", ce.Reason).
			Msg("Consistency violation in status event")
	}
	metrics.RecordStatusEvent("consistency_error")
}

func lifecycleType(s trading.Status) (trading.LifecycleEventType, bool) {
	switch s {
	case trading.StatusNew:
		return trading.EventCreated, true
	case trading.StatusPartiallyFilled:
		return trading.EventPartiallyFilled, true
	case trading.StatusFilled:
		return trading.EventFilled, true
	case trading.StatusCancelled:
		return trading.EventCancelled, true
	case trading.StatusRejected:
		return trading.EventRejected, true
	}
	return "", false
}
