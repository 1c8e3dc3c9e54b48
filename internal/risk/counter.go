package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradeledger/internal/metrics"
)

const counterKeySpace = "tradeledger:risk:trades:"

// Counter tracks how many orders a user placed on a given day.
type Counter interface {
	Get(ctx context.Context, key string) (int, error)
	Incr(ctx context.Context, key string, ttl time.Duration) error
}

// MemoryCounter is a process-local Counter.
type MemoryCounter struct {
	mu      sync.Mutex
	counts  map[string]int
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		counts:  make(map[string]int),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (c *MemoryCounter) Get(_ context.Context, key string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expire(key)
	return c.counts[key], nil
}

func (c *MemoryCounter) Incr(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expire(key)
	c.counts[key]++
	if _, ok := c.expires[key]; !ok {
		c.expires[key] = c.now().Add(ttl)
	}
	return nil
}

func (c *MemoryCounter) expire(key string) {
	if at, ok := c.expires[key]; ok && !c.now().Before(at) {
		delete(c.counts, key)
		delete(c.expires, key)
	}
}

// RedisCounter keeps counts in Redis so every replica sees the same totals.
// When Redis is unreachable it falls back to a local MemoryCounter.
type RedisCounter struct {
	client   *redis.Client
	fallback *MemoryCounter
	timeout  time.Duration
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{
		client:   client,
		fallback: NewMemoryCounter(),
		timeout:  500 * time.Millisecond,
	}
}

func (c *RedisCounter) Get(ctx context.Context, key string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	n, err := c.client.Get(ctx, counterKeySpace+key).Int()
	metrics.RecordRedisOperation("get")
	switch {
	case errors.Is(err, redis.Nil):
		return c.fallbackOr(ctx, key, 0)
	case err != nil:
		log.Warn().Err(err).Str("key", key).Msg("Redis unavailable, using local trade counter")
		return c.fallback.Get(ctx, key)
	}
	return c.fallbackOr(ctx, key, n)
}

// fallbackOr adds counts taken locally while Redis was down
func (c *RedisCounter) fallbackOr(ctx context.Context, key string, n int) (int, error) {
	local, _ := c.fallback.Get(ctx, key)
	return n + local, nil
}

func (c *RedisCounter) Incr(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, counterKeySpace+key)
	pipe.Expire(ctx, counterKeySpace+key, ttl)
	_, err := pipe.Exec(ctx)
	metrics.RecordRedisOperation("incr")
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Redis unavailable, counting trade locally")
		if ferr := c.fallback.Incr(ctx, key, ttl); ferr != nil {
			return fmt.Errorf("failed to count trade: %w", ferr)
		}
	}
	return nil
}
