package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradeledger/internal/trading"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func newOrder(id, user string, created time.Time) *trading.Order {
	return &trading.Order{
		OrderID:   id,
		UserID:    user,
		Symbol:    "BTCUSDT",
		Side:      trading.SideBuy,
		Kind:      trading.KindMarket,
		Quantity:  dec(1),
		Status:    trading.StatusPending,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestOrderVersioning(t *testing.T) {
	ctx := context.Background()
	s := New()
	o := newOrder("o1", "u1", time.Now())

	require.NoError(t, s.InsertOrder(ctx, o))
	assert.Equal(t, int64(1), o.Version)
	assert.Error(t, s.InsertOrder(ctx, o), "duplicate insert must fail")

	stale, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)

	o.Status = trading.StatusNew
	o.ExchangeOrderID = "ex-1"
	require.NoError(t, s.UpdateOrder(ctx, o))
	assert.Equal(t, int64(2), o.Version)

	stale.Status = trading.StatusCancelled
	assert.ErrorIs(t, s.UpdateOrder(ctx, stale), trading.ErrConcurrentModification)

	got, err := s.GetOrderByExternalID(ctx, "ex-1")
	require.NoError(t, err)
	assert.Equal(t, trading.StatusNew, got.Status)

	_, err = s.GetOrder(ctx, "missing")
	assert.True(t, trading.IsNotFound(err))
}

func TestRunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := New()
	o := newOrder("o1", "u1", time.Now())
	require.NoError(t, s.InsertOrder(ctx, o))
	require.NoError(t, s.SavePosition(ctx, &trading.Position{UserID: "u1", Symbol: "BTCUSDT", Quantity: dec(5), AveragePrice: dec(10)}))

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.SavePosition(ctx, &trading.Position{UserID: "u1", Symbol: "BTCUSDT", Quantity: dec(6), AveragePrice: dec(11)}))
		require.NoError(t, s.SavePosition(ctx, &trading.Position{UserID: "u1", Symbol: "ETHUSDT", Quantity: dec(1), AveragePrice: dec(2)}))
		require.NoError(t, s.InsertTrade(ctx, &trading.Trade{TradeID: "t1", OrderID: "o1", UserID: "u1", Quantity: dec(1), Price: dec(11)}))
		upd := o.Clone()
		upd.Status = trading.StatusFilled
		require.NoError(t, s.UpdateOrder(ctx, upd))
		require.NoError(t, s.InsertOrder(ctx, newOrder("o2", "u1", time.Now())))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	pos, err := s.GetPosition(ctx, "u1", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "5", pos.Quantity.String())

	_, err = s.GetPosition(ctx, "u1", "ETHUSDT")
	assert.True(t, trading.IsNotFound(err))

	trades, err := s.ListTrades(ctx, "o1")
	require.NoError(t, err)
	assert.Empty(t, trades)

	got, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, trading.StatusPending, got.Status)
	assert.Equal(t, int64(1), got.Version)

	_, err = s.GetOrder(ctx, "o2")
	assert.True(t, trading.IsNotFound(err))
}

func TestRunInTxCommits(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.RunInTx(ctx, func(ctx context.Context) error {
		return s.RunInTx(ctx, func(ctx context.Context) error {
			return s.InsertTrade(ctx, &trading.Trade{TradeID: "t1", OrderID: "o1", UserID: "u1", Quantity: dec(2), Price: dec(3)})
		})
	})
	require.NoError(t, err)

	trades, err := s.ListTrades(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestListOrdersFiltersAndPaginates(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 7; i++ {
		o := newOrder(string(rune('a'+i)), "u1", base.Add(time.Duration(i)*time.Hour))
		if i%2 == 0 {
			o.Side = trading.SideSell
		}
		require.NoError(t, s.InsertOrder(ctx, o))
	}
	require.NoError(t, s.InsertOrder(ctx, newOrder("other", "u2", base)))

	orders, total, err := s.ListOrders(ctx, "u1", trading.OrderFilter{Page: 1, PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, orders, 3)
	assert.Equal(t, "g", orders[0].OrderID, "newest first")

	orders, total, err = s.ListOrders(ctx, "u1", trading.OrderFilter{Page: 3, PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, orders, 1)
	assert.Equal(t, "a", orders[0].OrderID)

	orders, total, err = s.ListOrders(ctx, "u1", trading.OrderFilter{Side: trading.SideSell})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, orders, 4)

	start, end := base.Add(2*time.Hour), base.Add(4*time.Hour)
	_, total, err = s.ListOrders(ctx, "u1", trading.OrderFilter{StartDate: &start, EndDate: &end})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	orders, total, err = s.ListOrders(ctx, "u1", trading.OrderFilter{Page: 9})
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	assert.Empty(t, orders)
}

func TestPurgeTerminalOrders(t *testing.T) {
	ctx := context.Background()
	s := New()
	old := time.Now().Add(-48 * time.Hour)

	filled := newOrder("filled", "u1", old)
	filled.Status = trading.StatusFilled
	open := newOrder("open", "u1", old)
	open.Status = trading.StatusNew
	recent := newOrder("recent", "u1", time.Now())
	recent.Status = trading.StatusCancelled
	for _, o := range []*trading.Order{filled, open, recent} {
		require.NoError(t, s.InsertOrder(ctx, o))
	}
	require.NoError(t, s.InsertTrade(ctx, &trading.Trade{TradeID: "t", OrderID: "filled", UserID: "u1", Quantity: dec(1), Price: dec(1)}))

	n, err := s.PurgeTerminalOrders(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetOrder(ctx, "filled")
	assert.True(t, trading.IsNotFound(err))
	_, err = s.GetOrder(ctx, "open")
	assert.NoError(t, err)

	trades, err := s.ListTrades(ctx, "filled")
	require.NoError(t, err)
	assert.Len(t, trades, 1, "trades survive order purge")

	count, err := s.CountOpenOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestListOpenOrdersKeysetPages(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// b and c share a timestamp so the order id breaks the tie.
	stamps := map[string]time.Time{
		"a": base,
		"c": base.Add(time.Minute),
		"b": base.Add(time.Minute),
		"d": base.Add(2 * time.Minute),
		"e": base.Add(3 * time.Minute),
	}
	for id, at := range stamps {
		o := newOrder(id, "u1", at)
		o.Status = trading.StatusNew
		require.NoError(t, s.InsertOrder(ctx, o))
	}
	done := newOrder("done", "u1", base)
	done.Status = trading.StatusFilled
	require.NoError(t, s.InsertOrder(ctx, done))

	var seen []string
	q := trading.OpenOrderQuery{Limit: 2, UpdatedBefore: base.Add(3 * time.Minute)}
	for {
		page, err := s.ListOpenOrders(ctx, q)
		require.NoError(t, err)
		for _, o := range page {
			seen = append(seen, o.OrderID)
		}
		if len(page) < q.Limit {
			break
		}
		q.After = trading.CursorOf(page[len(page)-1])
	}

	assert.Equal(t, []string{"a", "b", "c", "d"}, seen, "e is not older than the cutoff")
}

func TestTradeStats(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	require.NoError(t, s.InsertTrade(ctx, &trading.Trade{TradeID: "1", OrderID: "o1", UserID: "u1", Side: trading.SideBuy, Quantity: dec(2), Price: dec(100), Commission: dec(0.2), ExecutedAt: now}))
	require.NoError(t, s.InsertTrade(ctx, &trading.Trade{TradeID: "2", OrderID: "o2", UserID: "u1", Side: trading.SideSell, Quantity: dec(1), Price: dec(110), Commission: dec(0.1), RealizedPnL: dec(10), ExecutedAt: now}))
	require.NoError(t, s.InsertTrade(ctx, &trading.Trade{TradeID: "3", OrderID: "o3", UserID: "u1", Side: trading.SideBuy, Quantity: dec(5), Price: dec(1), ExecutedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, s.InsertTrade(ctx, &trading.Trade{TradeID: "4", OrderID: "o4", UserID: "u2", Side: trading.SideBuy, Quantity: dec(5), Price: dec(1), ExecutedAt: now}))

	stats, err := s.TradeStats(ctx, "u1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TradeCount)
	assert.Equal(t, "3", stats.Volume.String())
	assert.Equal(t, "200", stats.BuyNotional.String())
	assert.Equal(t, "110", stats.SellNotional.String())
	assert.Equal(t, "0.3", stats.Commission.String())
	assert.Equal(t, "10", stats.RealizedPnL.String())
}

func TestOpenPositions(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.SavePosition(ctx, &trading.Position{UserID: "u1", Symbol: "ETHUSDT", Quantity: dec(1)}))
	require.NoError(t, s.SavePosition(ctx, &trading.Position{UserID: "u1", Symbol: "BTCUSDT", Quantity: dec(2)}))
	require.NoError(t, s.SavePosition(ctx, &trading.Position{UserID: "u1", Symbol: "SOLUSDT", Quantity: dec(0)}))
	require.NoError(t, s.SavePosition(ctx, &trading.Position{UserID: "u2", Symbol: "BTCUSDT", Quantity: dec(3)}))

	open, err := s.ListOpenPositions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "BTCUSDT", open[0].Symbol)

	n, err := s.CountOpenPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
