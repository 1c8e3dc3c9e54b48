// Package housekeeping removes terminal orders past their retention.
package housekeeping

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradeledger/internal/metrics"
)

// Store deletes terminal orders last updated before a cutoff
type Store interface {
	PurgeTerminalOrders(ctx context.Context, before time.Time) (int64, error)
}

// Config for the Purger. A zero Retention disables purging.
type Config struct {
	Retention time.Duration
	Interval  time.Duration
}

func DefaultConfig() Config {
	return Config{Retention: 30 * 24 * time.Hour, Interval: time.Hour}
}

// Purger periodically deletes old terminal orders. Trades are kept.
type Purger struct {
	store Store
	cfg   Config
	now   func() time.Time
	log   zerolog.Logger
}

func NewPurger(store Store, cfg Config) *Purger {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Purger{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		log:   log.With().Str("component", "housekeeping").Logger(),
	}
}

// Enabled reports whether a retention is configured
func (p *Purger) Enabled() bool {
	return p.cfg.Retention > 0
}

// PurgeOnce deletes terminal orders older than the retention
func (p *Purger) PurgeOnce(ctx context.Context) (int64, error) {
	if !p.Enabled() {
		return 0, nil
	}
	cutoff := p.now().Add(-p.cfg.Retention)
	n, err := p.store.PurgeTerminalOrders(ctx, cutoff)
	if err != nil {
		metrics.RecordError("purge", "housekeeping")
		return 0, err
	}
	metrics.RecordOrdersPurged(n)
	if n > 0 {
		p.log.Info().
			Int64("purged", n).
			Time("cutoff", cutoff).
			Msg("Purged terminal orders")
	}
	return n, nil
}

// Run purges on every interval until ctx is cancelled
func (p *Purger) Run(ctx context.Context) error {
	if !p.Enabled() {
		p.log.Info().Msg("Order retention disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.PurgeOnce(ctx); err != nil && ctx.Err() == nil {
			p.log.Warn().Err(err).Msg("Failed to purge orders")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
