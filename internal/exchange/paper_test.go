package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradeledger/internal/trading"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func ptr(v float64) *decimal.Decimal {
	p := d(v)
	return &p
}

func startPaper(t *testing.T, cfg PaperConfig) *PaperGateway {
	t.Helper()
	p := NewPaperGateway(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return p
}

// collect reads events until one with a terminal status arrives.
func collect(t *testing.T, p *PaperGateway) []trading.StatusEvent {
	t.Helper()
	var out []trading.StatusEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-p.Events():
			out = append(out, ev)
			if ev.Status.IsTerminal() {
				return out
			}
		case <-timeout:
			t.Fatalf("timed out waiting for terminal event, got %d events", len(out))
		}
	}
}

func TestPaperGateway_MarketOrderFills(t *testing.T) {
	p := startPaper(t, DefaultPaperConfig())
	p.SetMarketPrice("BTCUSDT", d(50000))

	ack, err := p.Submit(context.Background(), trading.SubmitRequest{
		ClientOrderID: "ord-1",
		Symbol:        "BTCUSDT",
		Side:          trading.SideBuy,
		Kind:          trading.KindMarket,
		Quantity:      d(0.5),
	})
	require.NoError(t, err)
	assert.Equal(t, trading.StatusNew, ack.Status)
	assert.NotEmpty(t, ack.ExternalID)

	events := collect(t, p)
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, trading.StatusNew, events[0].Status)

	last := events[len(events)-1]
	assert.Equal(t, trading.StatusFilled, last.Status)
	assert.Equal(t, "ord-1", last.ClientOrderID)
	assert.Equal(t, ack.ExternalID, last.ExternalID)
	assert.Equal(t, "0.5", last.FilledQuantity.String())
	assert.True(t, last.AveragePrice.GreaterThan(d(50000)), "buy slippage raises the price")
	assert.True(t, last.Commission.IsPositive())
}

func TestPaperGateway_LargeMarketOrderFillsInSlices(t *testing.T) {
	p := startPaper(t, DefaultPaperConfig())
	p.SetMarketPrice("ETHUSDT", d(3000))

	_, err := p.Submit(context.Background(), trading.SubmitRequest{
		ClientOrderID: "ord-2",
		Symbol:        "ETHUSDT",
		Side:          trading.SideSell,
		Kind:          trading.KindMarket,
		Quantity:      d(10),
	})
	require.NoError(t, err)

	events := collect(t, p)
	assert.Greater(t, len(events), 2)

	prev := decimal.Zero
	for _, ev := range events[1 : len(events)-1] {
		assert.Equal(t, trading.StatusPartiallyFilled, ev.Status)
		assert.True(t, ev.FilledQuantity.GreaterThan(prev), "cumulative quantity must grow")
		prev = ev.FilledQuantity
	}
	last := events[len(events)-1]
	assert.Equal(t, trading.StatusFilled, last.Status)
	assert.Equal(t, "10", last.FilledQuantity.String())
	assert.True(t, last.AveragePrice.LessThan(d(3000)))
}

func TestPaperGateway_LimitOrderRestsUntilCrossed(t *testing.T) {
	p := startPaper(t, DefaultPaperConfig())
	p.SetMarketPrice("BTCUSDT", d(50000))

	ack, err := p.Submit(context.Background(), trading.SubmitRequest{
		ClientOrderID: "ord-3",
		Symbol:        "BTCUSDT",
		Side:          trading.SideBuy,
		Kind:          trading.KindLimit,
		Quantity:      d(2),
		Price:         ptr(49000),
	})
	require.NoError(t, err)

	ev, err := p.QueryOrder(context.Background(), ack.ExternalID, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, trading.StatusNew, ev.Status)

	p.SetMarketPrice("BTCUSDT", d(48900))

	events := collect(t, p)
	last := events[len(events)-1]
	assert.Equal(t, trading.StatusFilled, last.Status)
	assert.Equal(t, "2", last.FilledQuantity.String())
	assert.Equal(t, "49000", last.AveragePrice.String())
	assert.Equal(t, "98", last.Commission.String())
}

func TestPaperGateway_StopTriggers(t *testing.T) {
	p := startPaper(t, DefaultPaperConfig())
	p.SetMarketPrice("BTCUSDT", d(50000))

	_, err := p.Submit(context.Background(), trading.SubmitRequest{
		ClientOrderID: "ord-4",
		Symbol:        "BTCUSDT",
		Side:          trading.SideSell,
		Kind:          trading.KindStop,
		Quantity:      d(0.1),
		StopPrice:     ptr(48000),
	})
	require.NoError(t, err)

	p.SetMarketPrice("BTCUSDT", d(49000))
	p.SetMarketPrice("BTCUSDT", d(47900))

	events := collect(t, p)
	assert.Equal(t, trading.StatusFilled, events[len(events)-1].Status)
}

func TestPaperGateway_Reject(t *testing.T) {
	p := NewPaperGateway(DefaultPaperConfig())

	tests := []struct {
		name string
		req  trading.SubmitRequest
	}{
		{"market without price", trading.SubmitRequest{Symbol: "XRPUSDT", Side: trading.SideBuy, Kind: trading.KindMarket, Quantity: d(1)}},
		{"limit without price", trading.SubmitRequest{Symbol: "XRPUSDT", Side: trading.SideBuy, Kind: trading.KindLimit, Quantity: d(1)}},
		{"stop without stop price", trading.SubmitRequest{Symbol: "XRPUSDT", Side: trading.SideSell, Kind: trading.KindStop, Quantity: d(1)}},
		{"zero quantity", trading.SubmitRequest{Symbol: "XRPUSDT", Side: trading.SideBuy, Kind: trading.KindLimit, Quantity: d(0), Price: ptr(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack, err := p.Submit(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, trading.StatusRejected, ack.Status)
			assert.NotEmpty(t, ack.Reason)
			assert.Empty(t, ack.ExternalID)
		})
	}
}

func TestPaperGateway_Cancel(t *testing.T) {
	p := startPaper(t, DefaultPaperConfig())
	p.SetMarketPrice("BTCUSDT", d(50000))

	ack, err := p.Submit(context.Background(), trading.SubmitRequest{
		ClientOrderID: "ord-5",
		Symbol:        "BTCUSDT",
		Side:          trading.SideSell,
		Kind:          trading.KindLimit,
		Quantity:      d(1),
		Price:         ptr(60000),
	})
	require.NoError(t, err)

	require.NoError(t, p.Cancel(context.Background(), ack.ExternalID, "BTCUSDT"))
	events := collect(t, p)
	assert.Equal(t, trading.StatusCancelled, events[len(events)-1].Status)

	err = p.Cancel(context.Background(), ack.ExternalID, "BTCUSDT")
	require.Error(t, err)
	assert.True(t, trading.IsExchange(err))

	err = p.Cancel(context.Background(), "unknown", "BTCUSDT")
	assert.True(t, trading.IsExchange(err))
}

func TestPaperGateway_CancelledContext(t *testing.T) {
	p := NewPaperGateway(DefaultPaperConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Submit(ctx, trading.SubmitRequest{Symbol: "BTCUSDT", Side: trading.SideBuy, Kind: trading.KindMarket, Quantity: d(1)})
	require.Error(t, err)
	assert.True(t, trading.IsRetryable(err))
}

func TestPaperGateway_LastPrice(t *testing.T) {
	p := NewPaperGateway(DefaultPaperConfig())
	_, err := p.LastPrice(context.Background(), "BTCUSDT")
	assert.Error(t, err)

	p.SetMarketPrice("btcusdt", d(42000))
	price, err := p.LastPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "42000", price.String())
}

func TestCalculateSlippageCapped(t *testing.T) {
	p := NewPaperGateway(DefaultPaperConfig())
	assert.InDelta(t, 0.0005, p.calculateSlippage(0.1), 1e-9)
	assert.Equal(t, 0.003, p.calculateSlippage(5e10))
}
