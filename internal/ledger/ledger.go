// Package ledger is the order ledger: it owns order records, drives them
// through the status state machine and hands fills to the position book.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradeledger/internal/exchange"
	"github.com/ajitpratap0/tradeledger/internal/keylock"
	"github.com/ajitpratap0/tradeledger/internal/metrics"
	"github.com/ajitpratap0/tradeledger/internal/positions"
	"github.com/ajitpratap0/tradeledger/internal/trading"
)

// Store persists orders and the trade log. Not-found lookups return
// *trading.NotFoundError. UpdateOrder must reject a stale Version with
// trading.ErrConcurrentModification. Calls made with the context passed to
// a RunInTx callback join that transaction.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	InsertOrder(ctx context.Context, o *trading.Order) error
	UpdateOrder(ctx context.Context, o *trading.Order) error
	GetOrder(ctx context.Context, orderID string) (*trading.Order, error)
	GetOrderByExternalID(ctx context.Context, externalID string) (*trading.Order, error)
	ListOrders(ctx context.Context, userID string, f trading.OrderFilter) ([]*trading.Order, int, error)
	ListOpenOrders(ctx context.Context, q trading.OpenOrderQuery) ([]*trading.Order, error)

	InsertTrade(ctx context.Context, t *trading.Trade) error
	ListTrades(ctx context.Context, orderID string) ([]*trading.Trade, error)
	TradeStats(ctx context.Context, userID string, since time.Time) (*trading.TradeStats, error)
}

// PositionBook receives fill facts.
type PositionBook interface {
	ApplyFill(ctx context.Context, fill trading.Fill) (*positions.FillResult, error)
}

// RiskGate is the pre-trade check. RecordOrder is called once a venue has
// accepted an order so daily counters only count placed orders.
type RiskGate interface {
	CheckOrderRisk(ctx context.Context, intent trading.OrderIntent) (trading.RiskDecision, error)
	RecordOrder(ctx context.Context, intent trading.OrderIntent) error
}

// Notifier receives lifecycle events. Notify must not block.
type Notifier interface {
	Notify(ev trading.LifecycleEvent)
}

// FillPriceMode selects how the average price of a status event is read.
type FillPriceMode string

const (
	// FillPriceCumulative treats the event average as the VWAP of the whole
	// order so far, which is what venues report.
	FillPriceCumulative FillPriceMode = "cumulative"
	// FillPriceIncremental treats the event average as the price of the
	// newly filled quantity only.
	FillPriceIncremental FillPriceMode = "incremental"
)

// Config holds ledger tuning.
type Config struct {
	SubmitTimeout time.Duration
	CancelTimeout time.Duration
	FillPriceMode FillPriceMode
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SubmitTimeout: 10 * time.Second,
		CancelTimeout: 5 * time.Second,
		FillPriceMode: FillPriceCumulative,
	}
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithRiskGate installs a pre-trade check.
func WithRiskGate(g RiskGate) Option {
	return func(l *Ledger) { l.risk = g }
}

// WithNotifier installs the lifecycle event receiver.
func WithNotifier(n Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

// WithIDGenerator replaces the UUID generator for order and trade IDs.
func WithIDGenerator(gen func() string) Option {
	return func(l *Ledger) { l.newID = gen }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Ledger is the single writer of order state.
type Ledger struct {
	cfg      Config
	store    Store
	book     PositionBook
	gateway  exchange.Gateway
	risk     RiskGate
	notifier Notifier

	locks keylock.Map
	newID func() string
	now   func() time.Time
	log   zerolog.Logger
}

// New creates a ledger.
func New(store Store, book PositionBook, gateway exchange.Gateway, cfg Config, opts ...Option) *Ledger {
	def := DefaultConfig()
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = def.SubmitTimeout
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = def.CancelTimeout
	}
	if cfg.FillPriceMode == "" {
		cfg.FillPriceMode = def.FillPriceMode
	}

	l := &Ledger{
		cfg:     cfg,
		store:   store,
		book:    book,
		gateway: gateway,
		newID:   func() string { return uuid.New().String() },
		now:     func() time.Time { return time.Now().UTC() },
		log:     log.With().Str("component", "ledger").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.log.Info().
		Str("venue", gateway.Name()).
		Dur("submit_timeout", cfg.SubmitTimeout).
		Dur("cancel_timeout", cfg.CancelTimeout).
		Str("fill_price_mode", string(cfg.FillPriceMode)).
		Msg("Order ledger initialized")

	return l
}

// CreateOrder validates and risk-checks an intent, persists it as PENDING
// and submits it. When submission fails the FAILED order is returned
// together with a *trading.ExchangeError.
func (l *Ledger) CreateOrder(ctx context.Context, intent trading.OrderIntent) (*trading.Order, error) {
	intent.Normalize()
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	if l.risk != nil {
		decision, err := l.risk.CheckOrderRisk(ctx, intent)
		if err != nil {
			return nil, fmt.Errorf("failed to check order risk: %w", err)
		}
		if !decision.Allowed {
			l.log.Warn().
				Str("user_id", intent.UserID).
				Str("symbol", intent.Symbol).
				Str("reason", decision.Reason).
				Msg("Order rejected by risk gate")
			return nil, &trading.RiskRejectedError{Reason: decision.Reason}
		}
	}

	order := intent.NewOrder(l.newID(), l.now())

	unlock := l.locks.Lock(order.OrderID)
	defer unlock()

	if err := l.store.InsertOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	l.log.Info().
		Str("order_id", order.OrderID).
		Str("user_id", order.UserID).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Str("type", string(order.Kind)).
		Stringer("quantity", order.Quantity).
		Msg("Order persisted, submitting to venue")

	// The order exists now; finish recording the outcome even if the caller
	// goes away.
	persistCtx := context.WithoutCancel(ctx)

	submitCtx, cancel := context.WithTimeout(ctx, l.cfg.SubmitTimeout)
	start := time.Now()
	ack, subErr := l.gateway.Submit(submitCtx, trading.SubmitRequest{
		ClientOrderID: order.OrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Kind:          order.Kind,
		Quantity:      order.Quantity,
		Price:         order.Price,
		StopPrice:     order.StopPrice,
		TimeInForce:   order.TimeInForce,
		Leverage:      order.Leverage,
	})
	timedOut := errors.Is(submitCtx.Err(), context.DeadlineExceeded)
	cancel()
	metrics.RecordOrderSubmission(float64(time.Since(start).Milliseconds()))

	if subErr == nil && ack == nil {
		subErr = errors.New("venue returned no acknowledgement")
	}

	next := order.Clone()
	next.UpdatedAt = l.now()

	var exErr *trading.ExchangeError
	switch {
	case subErr != nil:
		if !errors.As(subErr, &exErr) {
			exErr = &trading.ExchangeError{Op: "submit", Err: subErr}
		}
		if timedOut || errors.Is(subErr, context.DeadlineExceeded) {
			exErr.Timeout = true
		}
		next.Status = trading.StatusFailed
		next.ErrorMessage = subErr.Error()

	case ack.Status == trading.StatusRejected:
		next.Status = trading.StatusRejected
		next.ExchangeOrderID = ack.ExternalID
		next.ErrorMessage = ack.Reason

	default:
		next.Status = trading.StatusNew
		next.ExchangeOrderID = ack.ExternalID
	}

	if err := l.store.UpdateOrder(persistCtx, next); err != nil {
		l.log.Error().
			Err(err).
			Str("order_id", order.OrderID).
			Str("status", string(next.Status)).
			Str("exchange_order_id", next.ExchangeOrderID).
			Msg("Failed to record submission result")
		return order, fmt.Errorf("failed to record submission result: %w", err)
	}

	metrics.RecordTransition(string(order.Status), string(next.Status))
	metrics.RecordOrderCreated(string(next.Status))

	switch next.Status {
	case trading.StatusFailed:
		l.log.Error().
			Err(subErr).
			Str("order_id", next.OrderID).
			Bool("timeout", exErr.Timeout).
			Msg("Order submission failed")
		l.notify(trading.EventFailed, next, nil)
		return next, exErr

	case trading.StatusRejected:
		l.log.Warn().
			Str("order_id", next.OrderID).
			Str("reason", next.ErrorMessage).
			Msg("Order rejected by venue")
		l.notify(trading.EventRejected, next, nil)

	default:
		if l.risk != nil {
			if err := l.risk.RecordOrder(persistCtx, intent); err != nil {
				l.log.Warn().Err(err).Str("user_id", intent.UserID).Msg("Failed to record order with risk gate")
			}
		}
		l.log.Info().
			Str("order_id", next.OrderID).
			Str("exchange_order_id", next.ExchangeOrderID).
			Msg("Order acknowledged by venue")
		l.notify(trading.EventCreated, next, nil)
	}

	return next, nil
}

// CancelOrder cancels a working order owned by userID. A PENDING order that
// never reached the venue is cancelled locally. If the venue call fails the
// order is left as it was.
func (l *Ledger) CancelOrder(ctx context.Context, orderID, userID string) (*trading.Order, error) {
	unlock := l.locks.Lock(orderID)
	defer unlock()

	order, err := l.ownedOrder(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if !order.Status.IsCancelable() {
		return nil, &trading.InvalidStateError{OrderID: orderID, Status: order.Status, Operation: "cancelable"}
	}

	if order.ExchangeOrderID != "" {
		cancelCtx, cancel := context.WithTimeout(ctx, l.cfg.CancelTimeout)
		err := l.gateway.Cancel(cancelCtx, order.ExchangeOrderID, order.Symbol)
		timedOut := errors.Is(cancelCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err != nil {
			var exErr *trading.ExchangeError
			if !errors.As(err, &exErr) {
				exErr = &trading.ExchangeError{Op: "cancel", Err: err, Retryable: exchange.IsRetryable(err)}
			}
			if timedOut || errors.Is(err, context.DeadlineExceeded) {
				exErr.Timeout = true
				exErr.Retryable = true
			}
			l.log.Warn().
				Err(err).
				Str("order_id", orderID).
				Str("exchange_order_id", order.ExchangeOrderID).
				Bool("timeout", exErr.Timeout).
				Msg("Venue cancel failed, order unchanged")
			return nil, exErr
		}
	}

	now := l.now()
	next := order.Clone()
	next.Status = trading.StatusCancelled
	next.UpdatedAt = now
	next.CancelledAt = &now

	if err := l.store.UpdateOrder(context.WithoutCancel(ctx), next); err != nil {
		return nil, fmt.Errorf("failed to record cancellation: %w", err)
	}

	metrics.RecordTransition(string(order.Status), string(next.Status))
	l.log.Info().
		Str("order_id", orderID).
		Str("from", string(order.Status)).
		Stringer("filled_quantity", next.FilledQuantity).
		Msg("Order cancelled")
	l.notify(trading.EventCancelled, next, nil)

	return next, nil
}

// GetOrder returns an order owned by userID.
func (l *Ledger) GetOrder(ctx context.Context, orderID, userID string) (*trading.Order, error) {
	return l.ownedOrder(ctx, orderID, userID)
}

// ListOrders returns one page of a user's orders, newest first.
func (l *Ledger) ListOrders(ctx context.Context, userID string, f trading.OrderFilter) (*trading.OrderPage, error) {
	f.Normalize()
	if f.StartDate != nil && f.EndDate != nil && f.StartDate.After(*f.EndDate) {
		verr := &trading.ValidationError{}
		verr.Add("startDate", "must not be after endDate")
		return nil, verr
	}

	orders, total, err := l.store.ListOrders(ctx, userID, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return trading.NewOrderPage(orders, total, f), nil
}

// GetOrderTrades lists the executions of an order owned by userID.
func (l *Ledger) GetOrderTrades(ctx context.Context, orderID, userID string) ([]*trading.Trade, error) {
	if _, err := l.ownedOrder(ctx, orderID, userID); err != nil {
		return nil, err
	}
	trades, err := l.store.ListTrades(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return trades, nil
}

// Stats aggregates a user's executions since a point in time. A zero since
// means the start of the current UTC day.
func (l *Ledger) Stats(ctx context.Context, userID string, since time.Time) (*trading.TradeStats, error) {
	if since.IsZero() {
		now := l.now()
		since = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	stats, err := l.store.TradeStats(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to compute trade stats: %w", err)
	}
	return stats, nil
}

func (l *Ledger) ownedOrder(ctx context.Context, orderID, userID string) (*trading.Order, error) {
	order, err := l.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	// Another user's order is reported as missing.
	if order.UserID != userID {
		return nil, &trading.NotFoundError{Resource: "order", ID: orderID}
	}
	return order, nil
}

func (l *Ledger) notify(typ trading.LifecycleEventType, o *trading.Order, t *trading.Trade) {
	if l.notifier == nil {
		return
	}
	l.notifier.Notify(trading.LifecycleEvent{
		Type:       typ,
		OrderID:    o.OrderID,
		UserID:     o.UserID,
		Symbol:     o.Symbol,
		Status:     o.Status,
		Order:      o.Clone(),
		Trade:      t,
		OccurredAt: l.now(),
	})
}
