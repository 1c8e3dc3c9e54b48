package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/tradeledger/internal/metrics"
	"github.com/ajitpratap0/tradeledger/internal/trading"
)

// PositionReader exposes the current position for a pair.
type PositionReader interface {
	GetPosition(ctx context.Context, userID, symbol string) (*trading.Position, error)
}

// PriceSource prices market orders for the notional check.
type PriceSource interface {
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Config for the Gate
type Config struct {
	Defaults  Limits
	Overrides map[string]Limits
}

// Gate implements the ledger's pre-trade check.
type Gate struct {
	defaults  Limits
	overrides map[string]Limits
	positions PositionReader
	prices    PriceSource
	counter   Counter
	now       func() time.Time
}

// Option configures a Gate
type Option func(*Gate)

// WithPriceSource lets market orders be checked against the notional limit.
func WithPriceSource(p PriceSource) Option {
	return func(g *Gate) { g.prices = p }
}

// WithCounter replaces the in-memory daily trade counter.
func WithCounter(c Counter) Option {
	return func(g *Gate) { g.counter = c }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a risk gate
func NewGate(cfg Config, positions PositionReader, opts ...Option) *Gate {
	g := &Gate{
		defaults:  cfg.Defaults,
		overrides: cfg.Overrides,
		positions: positions,
		counter:   NewMemoryCounter(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// LimitsFor returns the effective limits for a user
func (g *Gate) LimitsFor(userID string) Limits {
	if o, ok := g.overrides[userID]; ok {
		return g.defaults.merge(o)
	}
	return g.defaults
}

// CheckOrderRisk evaluates an intent against the user's limits. The first
// violated limit is returned as the reason.
func (g *Gate) CheckOrderRisk(ctx context.Context, in trading.OrderIntent) (trading.RiskDecision, error) {
	limits := g.LimitsFor(in.UserID)

	decision, err := g.evaluate(ctx, in, limits)
	if err != nil {
		return trading.RiskDecision{}, err
	}

	metrics.RecordRiskCheck(decision.Allowed)
	if !decision.Allowed {
		log.Info().
			Str("user_id", in.UserID).
			Str("symbol", in.Symbol).
			Str("reason", decision.Reason).
			Msg("Risk check rejected order")
	}
	return decision, nil
}

func (g *Gate) evaluate(ctx context.Context, in trading.OrderIntent, limits Limits) (trading.RiskDecision, error) {
	if limits.MaxLeverage > 0 && in.Leverage > limits.MaxLeverage {
		return reject("leverage %.2f exceeds max %.2f", in.Leverage, limits.MaxLeverage), nil
	}

	if limits.MaxOrderNotional > 0 {
		ref := decimal.Zero
		if in.Price == nil && g.prices != nil {
			p, err := g.prices.LastPrice(ctx, in.Symbol)
			if err != nil {
				log.Debug().Err(err).Str("symbol", in.Symbol).Msg("No reference price for notional check")
			} else {
				ref = p
			}
		}
		ceiling := decimal.NewFromFloat(limits.MaxOrderNotional)
		if notional := in.Notional(ref); notional.GreaterThan(ceiling) {
			return reject("order notional %s exceeds max %s", notional.StringFixed(2), ceiling.StringFixed(2)), nil
		}
	}

	if limits.MaxPositionSize > 0 && in.Side == trading.SideBuy && g.positions != nil {
		current := decimal.Zero
		pos, err := g.positions.GetPosition(ctx, in.UserID, in.Symbol)
		switch {
		case err == nil:
			current = pos.Quantity
		case trading.IsNotFound(err):
		default:
			return trading.RiskDecision{}, fmt.Errorf("failed to load position: %w", err)
		}
		if next := current.Add(in.Quantity); next.GreaterThan(decimal.NewFromFloat(limits.MaxPositionSize)) {
			return reject("position size %s would exceed max %g", next, limits.MaxPositionSize), nil
		}
	}

	if limits.MaxDailyTrades > 0 {
		n, err := g.counter.Get(ctx, g.dayKey(in.UserID))
		if err != nil {
			return trading.RiskDecision{}, fmt.Errorf("failed to read daily trade count: %w", err)
		}
		if n >= limits.MaxDailyTrades {
			return reject("daily trade limit of %d reached", limits.MaxDailyTrades), nil
		}
	}

	return trading.RiskDecision{Allowed: true}, nil
}

// RecordOrder counts an order the venue accepted against today's limit
func (g *Gate) RecordOrder(ctx context.Context, in trading.OrderIntent) error {
	if in.UserID == "" {
		return errors.New("order intent has no user")
	}
	return g.counter.Incr(ctx, g.dayKey(in.UserID), 48*time.Hour)
}

// DailyTrades returns the number of orders recorded for the user today
func (g *Gate) DailyTrades(ctx context.Context, userID string) (int, error) {
	return g.counter.Get(ctx, g.dayKey(userID))
}

func (g *Gate) dayKey(userID string) string {
	return userID + ":" + g.now().UTC().Format("2006-01-02")
}

func reject(format string, args ...interface{}) trading.RiskDecision {
	return trading.RiskDecision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}
