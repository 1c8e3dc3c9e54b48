// Package notify fans order lifecycle events out to delivery sinks without
// ever blocking the ledger.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradeledger/internal/metrics"
	"github.com/ajitpratap0/tradeledger/internal/trading"
)

// Sink delivers lifecycle events somewhere.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev trading.LifecycleEvent) error
}

// Config for the Dispatcher
type Config struct {
	Buffer         int
	DeliverTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{Buffer: 1024, DeliverTimeout: 2 * time.Second}
}

// Dispatcher queues events and delivers them to every sink in order.
// Notify drops events when the queue is full.
type Dispatcher struct {
	sinks   []Sink
	queue   chan trading.LifecycleEvent
	timeout time.Duration
	log     zerolog.Logger
}

func NewDispatcher(cfg Config, sinks ...Sink) *Dispatcher {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultConfig().Buffer
	}
	if cfg.DeliverTimeout <= 0 {
		cfg.DeliverTimeout = DefaultConfig().DeliverTimeout
	}
	return &Dispatcher{
		sinks:   sinks,
		queue:   make(chan trading.LifecycleEvent, cfg.Buffer),
		timeout: cfg.DeliverTimeout,
		log:     log.With().Str("component", "notify").Logger(),
	}
}

// AddSink registers another sink. It must be called before Run.
func (d *Dispatcher) AddSink(s Sink) {
	d.sinks = append(d.sinks, s)
}

// Notify enqueues an event without blocking
func (d *Dispatcher) Notify(ev trading.LifecycleEvent) {
	select {
	case d.queue <- ev:
	default:
		metrics.RecordNotificationDropped()
		d.log.Warn().
			Str("order_id", ev.OrderID).
			Str("type", string(ev.Type)).
			Msg("Notification queue full, dropping event")
	}
}

// Pending reports the number of queued events
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Run delivers queued events until ctx is cancelled, then flushes what is
// already queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		case <-ctx.Done():
			d.flush()
			return nil
		}
	}
}

func (d *Dispatcher) flush() {
	ctx := context.Background()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev trading.LifecycleEvent) {
	for _, s := range d.sinks {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		err := s.Deliver(sctx, ev)
		cancel()

		metrics.RecordNotification(s.Name(), err)
		if err != nil {
			d.log.Warn().
				Err(err).
				Str("sink", s.Name()).
				Str("order_id", ev.OrderID).
				Str("type", string(ev.Type)).
				Msg("Failed to deliver notification")
		}
	}
}

// LogSink writes lifecycle events to the structured log.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Deliver(_ context.Context, ev trading.LifecycleEvent) error {
	log.Info().
		Str("component", "lifecycle").
		Str("type", string(ev.Type)).
		Str("order_id", ev.OrderID).
		Str("user_id", ev.UserID).
		Str("symbol", ev.Symbol).
		Str("status", string(ev.Status)).
		Msg("Order lifecycle event")
	return nil
}
