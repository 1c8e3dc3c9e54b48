package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradeledger/internal/trading"
)

func startTestNATSServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func connect(t *testing.T, ns *server.Server) *nats.Conn {
	t.Helper()
	nc, err := Connect(Config{URL: ns.ClientURL(), Name: "test"})
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestDecodeStatusEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    trading.Status
		wantErr error
	}{
		{
			name:    "current version",
			payload: `{"version":"1.0.0","event":{"externalId":"ex-1","status":"PARTIALLY_FILLED","filledQuantity":4,"averagePrice":100}}`,
			want:    trading.StatusPartiallyFilled,
		},
		{
			name:    "minor bump and venue spelling",
			payload: `{"version":"1.3.0","event":{"clientOrderId":"ord-1","status":"canceled"}}`,
			want:    trading.StatusCancelled,
		},
		{
			name:    "future major",
			payload: `{"version":"2.0.0","event":{"externalId":"ex-1","status":"NEW"}}`,
			wantErr: ErrUnsupportedVersion,
		},
		{name: "bad version", payload: `{"version":"latest","event":{"externalId":"ex-1","status":"NEW"}}`},
		{name: "unknown status", payload: `{"version":"1.0.0","event":{"externalId":"ex-1","status":"EXPLODED"}}`},
		{name: "no reference", payload: `{"version":"1.0.0","event":{"status":"NEW"}}`},
		{name: "not json", payload: `nope`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeStatusEvent([]byte(tt.payload))
			if tt.want == "" {
				require.Error(t, err)
				if tt.wantErr != nil {
					assert.True(t, errors.Is(err, tt.wantErr))
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Status)
		})
	}
}

func TestSubscriberDeliversValidEvents(t *testing.T) {
	ns := startTestNATSServer(t)
	nc := connect(t, ns)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := NewSubscriber(nc, "exchange.orders.status", 8).Start(ctx)
	require.NoError(t, err)

	require.NoError(t, nc.Publish("exchange.orders.status", []byte(`garbage`)))
	good, err := Encode(trading.StatusEvent{ExternalID: "ex-7", Status: trading.StatusFilled, FilledQuantity: decimal.NewFromInt(1), AveragePrice: decimal.NewFromInt(10)})
	require.NoError(t, err)
	require.NoError(t, nc.Publish("exchange.orders.status", good))
	require.NoError(t, nc.Flush())

	select {
	case ev := <-ch:
		assert.Equal(t, "ex-7", ev.ExternalID)
		assert.Equal(t, trading.StatusFilled, ev.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPublisherSubjects(t *testing.T) {
	ns := startTestNATSServer(t)
	nc := connect(t, ns)

	sub, err := nc.SubscribeSync("orders.lifecycle.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	pub := NewPublisher(nc, "")
	assert.Equal(t, "nats", pub.Name())

	ev := trading.LifecycleEvent{
		Type:    trading.EventFilled,
		OrderID: "ord-1",
		UserID:  "user-1",
		Status:  trading.StatusFilled,
	}
	require.NoError(t, pub.Deliver(context.Background(), ev))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "orders.lifecycle.filled", msg.Subject)

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Data, &env))
	assert.Equal(t, SchemaVersion, env.Version)

	var got trading.LifecycleEvent
	require.NoError(t, json.Unmarshal(env.Event, &got))
	assert.Equal(t, "ord-1", got.OrderID)
}

func TestPublisherCancelledContext(t *testing.T) {
	ns := startTestNATSServer(t)
	nc := connect(t, ns)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, NewPublisher(nc, "x").Deliver(ctx, trading.LifecycleEvent{Type: trading.EventCreated}))
}
