package ledger

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradeledger/internal/trading"
)

// EventHandler applies one status event. *Ledger implements it.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev trading.StatusEvent) (*trading.Order, Outcome, error)
}

// OperatorAlerter receives data-integrity alerts. *alerts.Manager
// implements it.
type OperatorAlerter interface {
	SendCritical(ctx context.Context, title, message string, metadata map[string]interface{}) error
}

// Processor consumes status event streams and applies them with a fixed
// pool of workers. Events are sharded by order key so events for one order
// are applied in the order they arrived.
type Processor struct {
	handler EventHandler
	alerter OperatorAlerter
	workers int
	buffer  int
	log     zerolog.Logger
}

// NewProcessor creates a processor with the given number of workers.
func NewProcessor(handler EventHandler, alerter OperatorAlerter, workers int) *Processor {
	if workers <= 0 {
		workers = 4
	}
	return &Processor{
		handler: handler,
		alerter: alerter,
		workers: workers,
		buffer:  256,
		log:     log.With().Str("component", "event_processor").Logger(),
	}
}

// Run reads every source until all are closed or ctx is cancelled. It
// returns once all workers have drained their queues.
func (p *Processor) Run(ctx context.Context, sources ...<-chan trading.StatusEvent) error {
	shards := make([]chan trading.StatusEvent, p.workers)
	var workers sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan trading.StatusEvent, p.buffer)
		workers.Add(1)
		go func(in <-chan trading.StatusEvent) {
			defer workers.Done()
			for ev := range in {
				p.handle(ctx, ev)
			}
		}(shards[i])
	}

	p.log.Info().Int("workers", p.workers).Int("sources", len(sources)).Msg("Event processor started")

	var readers sync.WaitGroup
	for _, src := range sources {
		if src == nil {
			continue
		}
		readers.Add(1)
		go func(src <-chan trading.StatusEvent) {
			defer readers.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-src:
					if !ok {
						return
					}
					select {
					case shards[p.shard(ev)] <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}(src)
	}

	readers.Wait()
	for _, s := range shards {
		close(s)
	}
	workers.Wait()

	p.log.Info().Msg("Event processor stopped")
	return nil
}

func (p *Processor) shard(ev trading.StatusEvent) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(ev.OrderKey()))
	return int(h.Sum32() % uint32(p.workers))
}

// handle applies one event. Errors are logged and never stop the loop.
func (p *Processor) handle(ctx context.Context, ev trading.StatusEvent) {
	logger := p.log.With().
		Str("order_key", ev.OrderKey()).
		Str("exchange_order_id", ev.ExternalID).
		Str("status", string(ev.Status)).
		Logger()

	// Events already dequeued are applied even during shutdown.
	applyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	order, outcome, err := p.handler.HandleEvent(applyCtx, ev)
	switch {
	case err == nil:
		logger.Debug().Str("outcome", string(outcome)).Msg("Status event processed")

	case trading.IsConsistency(err):
		logger.Error().Err(err).Msg("Status event violates ledger invariants, dropped")
		if p.alerter != nil {
			meta := map[string]interface{}{
				"exchange_order_id": ev.ExternalID,
				"event_status":      string(ev.Status),
				"filled_quantity":   ev.FilledQuantity.String(),
				"average_price":     ev.AveragePrice.String(),
			}
			if order != nil {
				meta["order_id"] = order.OrderID
				meta["user_id"] = order.UserID
				meta["symbol"] = order.Symbol
			}
			if aerr := p.alerter.SendCritical(applyCtx, "Ledger consistency violation", err.Error(), meta); aerr != nil {
				logger.Warn().Err(aerr).Msg("Failed to send consistency alert")
			}
		}

	case trading.IsNotFound(err):
		logger.Warn().Err(err).Msg("Status event for unknown order dropped")

	default:
		logger.Error().Err(err).Str("venue", ev.Venue).Msg("Failed to process status event")
	}
}
