package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/tradeledger/internal/metrics"
)

const (
	defaultPriceTTL    = 5 * time.Second
	priceCacheTimeout  = 500 * time.Millisecond
	priceCacheKeySpace = "tradeledger:price:"
)

// cachedPrice is the JSON document stored per symbol
type cachedPrice struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// CachedPriceSource is a Redis cache-aside layer in front of a PriceSource.
// Redis failures degrade to calling the upstream source directly.
type CachedPriceSource struct {
	upstream PriceSource
	client   *redis.Client
	ttl      time.Duration
}

// NewCachedPriceSource wraps upstream. A nil client returns a source that
// always goes upstream.
func NewCachedPriceSource(upstream PriceSource, client *redis.Client, ttl time.Duration) *CachedPriceSource {
	if ttl <= 0 {
		ttl = defaultPriceTTL
	}
	return &CachedPriceSource{upstream: upstream, client: client, ttl: ttl}
}

// LastPrice implements PriceSource
func (c *CachedPriceSource) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if price, ok := c.get(ctx, symbol); ok {
		return price, nil
	}

	price, err := c.upstream.LastPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch price for %s: %w", symbol, err)
	}
	c.set(ctx, symbol, price)
	return price, nil
}

func (c *CachedPriceSource) get(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	if c.client == nil {
		return decimal.Zero, false
	}

	cacheCtx, cancel := context.WithTimeout(ctx, priceCacheTimeout)
	defer cancel()

	metrics.RecordRedisOperation("get")
	raw, err := c.client.Get(cacheCtx, priceCacheKeySpace+symbol).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Debug().Err(err).Str("symbol", symbol).Msg("Redis get error - treating as cache miss")
		}
		return decimal.Zero, false
	}

	var entry cachedPrice
	if err := json.Unmarshal(raw, &entry); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to unmarshal cached price")
		return decimal.Zero, false
	}
	return entry.Price, true
}

func (c *CachedPriceSource) set(ctx context.Context, symbol string, price decimal.Decimal) {
	if c.client == nil {
		return
	}

	data, err := json.Marshal(cachedPrice{Symbol: symbol, Price: price, Timestamp: time.Now().UTC()})
	if err != nil {
		return
	}

	cacheCtx, cancel := context.WithTimeout(ctx, priceCacheTimeout)
	defer cancel()

	metrics.RecordRedisOperation("set")
	if err := c.client.Set(cacheCtx, priceCacheKeySpace+symbol, data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache price")
	}
}
