package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/tradeledger/internal/metrics"
	"github.com/ajitpratap0/tradeledger/internal/trading"
)

// Circuit breaker defaults for venue calls
const (
	DefaultBreakerMinRequests     = 5
	DefaultBreakerFailureRatio    = 0.6
	DefaultBreakerOpenTimeout     = 30 * time.Second
	DefaultBreakerHalfOpenMaxReqs = 3
	DefaultBreakerCountInterval   = 10 * time.Second
)

// BreakerSettings holds circuit breaker thresholds
type BreakerSettings struct {
	MinRequests     uint32
	FailureRatio    float64
	OpenTimeout     time.Duration
	HalfOpenMaxReqs uint32
	CountInterval   time.Duration
}

// DefaultBreakerSettings returns the exchange breaker defaults
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MinRequests:     DefaultBreakerMinRequests,
		FailureRatio:    DefaultBreakerFailureRatio,
		OpenTimeout:     DefaultBreakerOpenTimeout,
		HalfOpenMaxReqs: DefaultBreakerHalfOpenMaxReqs,
		CountInterval:   DefaultBreakerCountInterval,
	}
}

// GuardConfig configures a GuardedGateway
type GuardConfig struct {
	Breaker BreakerSettings
	// RequestsPerSecond limits outbound calls; zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	Retry             RetryConfig
}

// GuardedGateway wraps a Gateway with a circuit breaker, a client side rate
// limiter and latency metrics. Cancel and QueryOrder are retried with
// backoff. Submit is never retried since a lost ack could double-place.
type GuardedGateway struct {
	inner   Gateway
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	retry   RetryConfig
}

// NewGuardedGateway wraps inner
func NewGuardedGateway(inner Gateway, cfg GuardConfig) *GuardedGateway {
	name := inner.Name()
	bs := cfg.Breaker
	if bs.MinRequests == 0 {
		bs = DefaultBreakerSettings()
	}

	g := &GuardedGateway{inner: inner, retry: cfg.Retry}
	if g.retry.MaxRetries == 0 && g.retry.InitialBackoff == 0 {
		g.retry = DefaultRetryConfig()
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: bs.HalfOpenMaxReqs,
		Interval:    bs.CountInterval,
		Timeout:     bs.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= bs.MinRequests && failureRatio >= bs.FailureRatio
		},
		// Venue rejections of a bad request say nothing about venue health.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetryable(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Exchange circuit breaker state changed")
			metrics.UpdateCircuitBreaker(name, int(to))
		},
	})
	metrics.UpdateCircuitBreaker(name, int(g.breaker.State()))

	return g
}

// Name implements Gateway
func (g *GuardedGateway) Name() string { return g.inner.Name() }

// State reports the breaker state
func (g *GuardedGateway) State() gobreaker.State { return g.breaker.State() }

// Submit implements Gateway
func (g *GuardedGateway) Submit(ctx context.Context, req trading.SubmitRequest) (*trading.SubmitAck, error) {
	var ack *trading.SubmitAck
	err := g.call(ctx, "submit", func() error {
		var err error
		ack, err = g.inner.Submit(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ack, nil
}

// Cancel implements Gateway
func (g *GuardedGateway) Cancel(ctx context.Context, externalID, symbol string) error {
	return WithRetry(ctx, "cancel", g.retry, func(ctx context.Context) error {
		return g.call(ctx, "cancel", func() error {
			return g.inner.Cancel(ctx, externalID, symbol)
		})
	})
}

// QueryOrder implements Gateway
func (g *GuardedGateway) QueryOrder(ctx context.Context, externalID, symbol string) (*trading.StatusEvent, error) {
	var ev *trading.StatusEvent
	err := WithRetry(ctx, "query", g.retry, func(ctx context.Context) error {
		return g.call(ctx, "query", func() error {
			var err error
			ev, err = g.inner.QueryOrder(ctx, externalID, symbol)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// Events forwards the inner gateway's event stream when it has one
func (g *GuardedGateway) Events() <-chan trading.StatusEvent {
	if src, ok := g.inner.(EventSource); ok {
		return src.Events()
	}
	return nil
}

func (g *GuardedGateway) call(ctx context.Context, endpoint string, fn func() error) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return &trading.ExchangeError{Op: endpoint, Err: err, Timeout: errors.Is(err, context.DeadlineExceeded)}
		}
	}

	start := time.Now()
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &trading.ExchangeError{Op: endpoint, Err: err, Retryable: true}
	}
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		var exErr *trading.ExchangeError
		if !errors.As(err, &exErr) {
			err = &trading.ExchangeError{Op: endpoint, Err: err, Timeout: true}
		}
	}
	metrics.RecordExchangeAPICall(g.inner.Name(), endpoint, float64(time.Since(start).Milliseconds()), err)
	return err
}
