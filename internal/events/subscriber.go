package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradeledger/internal/metrics"
	"github.com/ajitpratap0/tradeledger/internal/trading"
)

// Subscriber turns status messages on a subject into a channel of events.
type Subscriber struct {
	nc      *nats.Conn
	subject string
	buffer  int
}

func NewSubscriber(nc *nats.Conn, subject string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 256
	}
	return &Subscriber{nc: nc, subject: subject, buffer: buffer}
}

// Start subscribes and returns the event channel. The channel is closed
// after ctx is cancelled. Delivery blocks while the channel is full, which
// holds messages in the NATS pending queue.
func (s *Subscriber) Start(ctx context.Context) (<-chan trading.StatusEvent, error) {
	out := make(chan trading.StatusEvent, s.buffer)

	var (
		mu     sync.RWMutex
		closed bool
	)

	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		ev, err := DecodeStatusEvent(msg.Data)
		if err != nil {
			metrics.RecordInboundEvent("nats", "invalid")
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping malformed status event")
			return
		}

		mu.RLock()
		defer mu.RUnlock()
		if closed {
			return
		}
		select {
		case out <- ev:
			metrics.RecordInboundEvent("nats", "accepted")
		case <-ctx.Done():
		}
	})
	if err != nil {
		close(out)
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}

	log.Info().Str("subject", s.subject).Msg("Subscribed to status events")

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Str("subject", s.subject).Msg("Failed to unsubscribe")
		}
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()

	return out, nil
}
