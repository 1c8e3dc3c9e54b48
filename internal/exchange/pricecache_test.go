package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPrices struct {
	price float64
	err   error
	calls int
}

func (c *countingPrices) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	c.calls++
	return decimal.NewFromFloat(c.price), c.err
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCachedPriceSource_CacheAside(t *testing.T) {
	mr, client := newRedis(t)
	upstream := &countingPrices{price: 101.5}
	src := NewCachedPriceSource(upstream, client, 10*time.Second)

	price, err := src.LastPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "101.5", price.String())
	assert.True(t, mr.Exists(priceCacheKeySpace+"BTCUSDT"))

	upstream.price = 200
	price, err = src.LastPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "101.5", price.String(), "second read must be served from cache")
	assert.Equal(t, 1, upstream.calls)

	mr.FastForward(11 * time.Second)
	price, err = src.LastPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "200", price.String())
	assert.Equal(t, 2, upstream.calls)
}

func TestCachedPriceSource_RedisDown(t *testing.T) {
	mr, client := newRedis(t)
	mr.Close()

	upstream := &countingPrices{price: 7}
	src := NewCachedPriceSource(upstream, client, 0)

	price, err := src.LastPrice(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "7", price.String())
}

func TestCachedPriceSource_NoClient(t *testing.T) {
	upstream := &countingPrices{price: 3}
	src := NewCachedPriceSource(upstream, nil, 0)

	for i := 0; i < 2; i++ {
		_, err := src.LastPrice(context.Background(), "SOLUSDT")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, upstream.calls)
}

func TestCachedPriceSource_UpstreamError(t *testing.T) {
	boom := errors.New("venue unavailable")
	src := NewCachedPriceSource(&countingPrices{err: boom}, nil, 0)

	_, err := src.LastPrice(context.Background(), "SOLUSDT")
	assert.ErrorIs(t, err, boom)
}

func TestCachedPriceSource_CorruptEntry(t *testing.T) {
	mr, client := newRedis(t)
	require.NoError(t, mr.Set(priceCacheKeySpace+"BTCUSDT", "not json"))

	upstream := &countingPrices{price: 9}
	price, err := NewCachedPriceSource(upstream, client, 0).LastPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "9", price.String())
}
