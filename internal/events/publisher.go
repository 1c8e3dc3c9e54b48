package events

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/ajitpratap0/tradeledger/internal/trading"
)

// Publisher sends lifecycle events to <prefix>.<type>.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

func NewPublisher(nc *nats.Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = "orders.lifecycle"
	}
	return &Publisher{nc: nc, prefix: prefix}
}

func (p *Publisher) Name() string { return "nats" }

// Subject returns the subject an event type is published on
func (p *Publisher) Subject(t trading.LifecycleEventType) string {
	return p.prefix + "." + string(t)
}

// Deliver publishes one lifecycle event
func (p *Publisher) Deliver(ctx context.Context, ev trading.LifecycleEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}

	data, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := p.nc.Publish(p.Subject(ev.Type), data); err != nil {
		return fmt.Errorf("failed to publish lifecycle event: %w", err)
	}
	return nil
}
