package risk

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradeledger/internal/trading"
)

type fakePositions map[string]float64

func (f fakePositions) GetPosition(_ context.Context, userID, symbol string) (*trading.Position, error) {
	if symbol == "FAIL" {
		return nil, errors.New("db down")
	}
	q, ok := f[userID+"|"+symbol]
	if !ok {
		return nil, &trading.NotFoundError{Resource: "position", ID: userID + "|" + symbol}
	}
	return &trading.Position{UserID: userID, Symbol: symbol, Quantity: decimal.NewFromFloat(q)}, nil
}

type fixedPrice float64

func (p fixedPrice) LastPrice(context.Context, string) (decimal.Decimal, error) {
	if p == 0 {
		return decimal.Zero, errors.New("no price")
	}
	return decimal.NewFromFloat(float64(p)), nil
}

func px(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

func buy(qty float64, price *decimal.Decimal) trading.OrderIntent {
	kind := trading.KindMarket
	if price != nil {
		kind = trading.KindLimit
	}
	return trading.OrderIntent{
		UserID: "user-1", Symbol: "BTCUSDT", Side: trading.SideBuy,
		Kind: kind, Quantity: decimal.NewFromFloat(qty), Price: price, Leverage: 1,
	}
}

func TestCheckOrderRisk(t *testing.T) {
	defaults := Limits{MaxPositionSize: 10, MaxOrderNotional: 50000, MaxLeverage: 5}

	tests := []struct {
		name      string
		intent    func() trading.OrderIntent
		prices    PriceSource
		allowed   bool
		reasonHas string
	}{
		{name: "within limits", intent: func() trading.OrderIntent { return buy(1, px(100)) }, allowed: true},
		{
			name: "leverage",
			intent: func() trading.OrderIntent {
				in := buy(1, px(100))
				in.Leverage = 10
				return in
			},
			reasonHas: "leverage",
		},
		{name: "limit notional", intent: func() trading.OrderIntent { return buy(1, px(60000)) }, reasonHas: "notional"},
		{
			name:      "market notional priced from source",
			intent:    func() trading.OrderIntent { return buy(2, nil) },
			prices:    fixedPrice(30000),
			reasonHas: "notional",
		},
		{
			name:    "market without reference price",
			intent:  func() trading.OrderIntent { return buy(2, nil) },
			prices:  fixedPrice(0),
			allowed: true,
		},
		{name: "position size includes holdings", intent: func() trading.OrderIntent { return buy(7, px(1)) }, reasonHas: "position size"},
		{name: "position size at the limit", intent: func() trading.OrderIntent { return buy(6, px(1)) }, allowed: true},
		{
			name: "sells are not size checked",
			intent: func() trading.OrderIntent {
				in := buy(7, px(1))
				in.Side = trading.SideSell
				return in
			},
			allowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := []Option{}
			if tt.prices != nil {
				opts = append(opts, WithPriceSource(tt.prices))
			}
			g := NewGate(Config{Defaults: defaults}, fakePositions{"user-1|BTCUSDT": 4}, opts...)

			d, err := g.CheckOrderRisk(context.Background(), tt.intent())
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed)
			if tt.reasonHas != "" {
				assert.Contains(t, d.Reason, tt.reasonHas)
			}
		})
	}
}

func TestCheckOrderRiskPositionError(t *testing.T) {
	g := NewGate(Config{Defaults: Limits{MaxPositionSize: 10}}, fakePositions{})
	in := buy(1, px(1))
	in.Symbol = "FAIL"

	_, err := g.CheckOrderRisk(context.Background(), in)
	assert.Error(t, err)
}

func TestDailyTradeLimit(t *testing.T) {
	now := time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)
	g := NewGate(Config{Defaults: Limits{MaxDailyTrades: 2}}, nil, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	in := buy(1, px(1))

	for i := 0; i < 2; i++ {
		d, err := g.CheckOrderRisk(ctx, in)
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.NoError(t, g.RecordOrder(ctx, in))
	}

	d, err := g.CheckOrderRisk(ctx, in)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "daily trade limit")

	now = now.Add(2 * time.Hour)
	d, err = g.CheckOrderRisk(ctx, in)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "a new UTC day resets the count")
}

func TestOverridesMerge(t *testing.T) {
	overrides, err := parseOverrides([]byte(`
users:
  vip:
    max_daily_trades: 100
    max_leverage: 20
`))
	require.NoError(t, err)

	g := NewGate(Config{Defaults: Limits{MaxDailyTrades: 10, MaxLeverage: 5, MaxPositionSize: 3}, Overrides: overrides}, nil)

	vip := g.LimitsFor("vip")
	assert.Equal(t, 100, vip.MaxDailyTrades)
	assert.Equal(t, 20.0, vip.MaxLeverage)
	assert.Equal(t, 3.0, vip.MaxPositionSize)
	assert.Equal(t, 10, g.LimitsFor("someone").MaxDailyTrades)
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "limits.yaml")
	require.NoError(t, os.WriteFile(good, []byte("users:\n  a:\n    max_order_notional: 1000\n"), 0o600))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("users:\n  a:\n    max_leverage: 0.5\n"), 0o600))

	got, err := LoadOverrides(good)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, got["a"].MaxOrderNotional)

	_, err = LoadOverrides(bad)
	assert.Error(t, err)

	_, err = LoadOverrides(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestRedisCounter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedisCounter(client)
	ctx := context.Background()

	require.NoError(t, c.Incr(ctx, "user-1:2024-03-01", time.Hour))
	require.NoError(t, c.Incr(ctx, "user-1:2024-03-01", time.Hour))

	n, err := c.Get(ctx, "user-1:2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, time.Hour, mr.TTL(counterKeySpace+"user-1:2024-03-01"))

	mr.FastForward(2 * time.Hour)
	n, err = c.Get(ctx, "user-1:2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRedisCounterFallsBackWhenDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedisCounter(client)
	ctx := context.Background()
	mr.Close()

	require.NoError(t, c.Incr(ctx, "k", time.Hour))
	n, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryCounterExpires(t *testing.T) {
	now := time.Now()
	c := NewMemoryCounter()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Incr(ctx, "k", time.Minute))
	n, _ := c.Get(ctx, "k")
	assert.Equal(t, 1, n)

	now = now.Add(time.Minute)
	n, _ = c.Get(ctx, "k")
	assert.Equal(t, 0, n)
}
