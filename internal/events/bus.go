// Package events carries order status events in from NATS and lifecycle
// events back out.
package events

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Config configures the NATS connection and subjects
type Config struct {
	URL             string
	Name            string
	StatusSubject   string
	LifecyclePrefix string
	Buffer          int
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		URL:             nats.DefaultURL,
		Name:            "tradeledger",
		StatusSubject:   "exchange.orders.status",
		LifecyclePrefix: "orders.lifecycle",
		Buffer:          256,
	}
}

// Connect opens a NATS connection that reconnects forever
func Connect(cfg Config) (*nats.Conn, error) {
	name := cfg.Name
	if name == "" {
		name = "tradeledger"
	}

	nc, err := nats.Connect(
		cfg.URL,
		nats.Name(name),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info().Str("nats_url", cfg.URL).Msg("Connected to NATS")
	return nc, nil
}
