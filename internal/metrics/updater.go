package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// GaugeSource reports the sizes the updater exposes as gauges.
type GaugeSource interface {
	CountOpenOrders(ctx context.Context) (int, error)
	CountOpenPositions(ctx context.Context) (int, error)
}

// Updater periodically refreshes gauges from the store
type Updater struct {
	source   GaugeSource
	interval time.Duration
}

// NewUpdater creates a new metrics updater
func NewUpdater(source GaugeSource, interval time.Duration) *Updater {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Updater{source: source, interval: interval}
}

// Run refreshes gauges until ctx is cancelled
func (u *Updater) Run(ctx context.Context) error {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	u.Update(ctx)

	for {
		select {
		case <-ticker.C:
			u.Update(ctx)
		case <-ctx.Done():
			log.Info().Msg("Metrics updater stopped")
			return nil
		}
	}
}

// Update performs one refresh
func (u *Updater) Update(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if n, err := u.source.CountOpenOrders(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to count open orders")
	} else {
		OpenOrders.Set(float64(n))
	}

	if n, err := u.source.CountOpenPositions(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to count open positions")
	} else {
		OpenPositions.Set(float64(n))
	}
}
