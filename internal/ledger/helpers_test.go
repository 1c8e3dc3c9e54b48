package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradeledger/internal/memstore"
	"github.com/ajitpratap0/tradeledger/internal/positions"
	"github.com/ajitpratap0/tradeledger/internal/trading"
)

const testUser = "user-1"

type fakeGateway struct {
	mu        sync.Mutex
	submits   []trading.SubmitRequest
	cancels   []string
	submitErr error
	cancelErr error
	ack       *trading.SubmitAck
	block     bool
	queries   map[string]*trading.StatusEvent
	next      int
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) Submit(ctx context.Context, req trading.SubmitRequest) (*trading.SubmitAck, error) {
	g.mu.Lock()
	g.submits = append(g.submits, req)
	block, err, ack := g.block, g.submitErr, g.ack
	g.next++
	n := g.next
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if ack != nil {
		return ack, nil
	}
	return &trading.SubmitAck{ExternalID: fmt.Sprintf("ex-%d", n), Status: trading.StatusNew}, nil
}

func (g *fakeGateway) Cancel(ctx context.Context, externalID, symbol string) error {
	g.mu.Lock()
	g.cancels = append(g.cancels, externalID)
	block, err := g.block, g.cancelErr
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (g *fakeGateway) QueryOrder(ctx context.Context, externalID, symbol string) (*trading.StatusEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ev, ok := g.queries[externalID]
	if !ok {
		return nil, &trading.ExchangeError{Op: "query", Err: errors.New("unknown order")}
	}
	cp := *ev
	return &cp, nil
}

func (g *fakeGateway) submitCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.submits)
}

func (g *fakeGateway) cancelCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cancels)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []trading.LifecycleEvent
}

func (n *recordingNotifier) Notify(ev trading.LifecycleEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) types() []trading.LifecycleEventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]trading.LifecycleEventType, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

type stubRisk struct {
	decision trading.RiskDecision
	recorded int32
}

func (r *stubRisk) CheckOrderRisk(ctx context.Context, intent trading.OrderIntent) (trading.RiskDecision, error) {
	return r.decision, nil
}

func (r *stubRisk) RecordOrder(ctx context.Context, intent trading.OrderIntent) error {
	atomic.AddInt32(&r.recorded, 1)
	return nil
}

type harness struct {
	ledger   *Ledger
	store    *memstore.Store
	book     *positions.Book
	gateway  *fakeGateway
	notifier *recordingNotifier
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	store := memstore.New()
	book := positions.NewBook(store)
	gw := &fakeGateway{queries: make(map[string]*trading.StatusEvent)}
	n := &recordingNotifier{}

	var seq int64
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	opts = append([]Option{
		WithNotifier(n),
		WithIDGenerator(func() string { return fmt.Sprintf("id-%d", atomic.AddInt64(&seq, 1)) }),
		WithClock(func() time.Time { return base.Add(time.Duration(atomic.AddInt64(&seq, 1)) * time.Millisecond) }),
	}, opts...)

	return &harness{
		ledger:   New(store, book, gw, cfg, opts...),
		store:    store,
		book:     book,
		gateway:  gw,
		notifier: n,
	}
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func price(v float64) *decimal.Decimal {
	d := dec(v)
	return &d
}

func limitBuy(qty, px float64) trading.OrderIntent {
	return trading.OrderIntent{
		UserID:   testUser,
		Symbol:   "btcusdt",
		Side:     trading.SideBuy,
		Kind:     trading.KindLimit,
		Quantity: dec(qty),
		Price:    price(px),
	}
}

func (h *harness) create(t *testing.T, intent trading.OrderIntent) *trading.Order {
	t.Helper()
	o, err := h.ledger.CreateOrder(context.Background(), intent)
	require.NoError(t, err)
	require.Equal(t, trading.StatusNew, o.Status)
	return o
}

func (h *harness) apply(t *testing.T, o *trading.Order, status trading.Status, filled, avg float64) (*trading.Order, Outcome) {
	t.Helper()
	got, outcome, err := h.ledger.ApplyStatusEvent(context.Background(), o.OrderID, trading.StatusEvent{
		ExternalID:     o.ExchangeOrderID,
		Status:         status,
		FilledQuantity: dec(filled),
		AveragePrice:   dec(avg),
	})
	require.NoError(t, err)
	return got, outcome
}

func (h *harness) trades(t *testing.T, orderID string) []*trading.Trade {
	t.Helper()
	trades, err := h.store.ListTrades(context.Background(), orderID)
	require.NoError(t, err)
	return trades
}

func (h *harness) position(t *testing.T, symbol string) *trading.Position {
	t.Helper()
	p, err := h.store.GetPosition(context.Background(), testUser, symbol)
	require.NoError(t, err)
	return p
}
