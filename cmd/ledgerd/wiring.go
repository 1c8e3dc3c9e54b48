package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradeledger/internal/alerts"
	"github.com/ajitpratap0/tradeledger/internal/api"
	"github.com/ajitpratap0/tradeledger/internal/config"
	"github.com/ajitpratap0/tradeledger/internal/db"
	"github.com/ajitpratap0/tradeledger/internal/events"
	"github.com/ajitpratap0/tradeledger/internal/exchange"
	"github.com/ajitpratap0/tradeledger/internal/housekeeping"
	"github.com/ajitpratap0/tradeledger/internal/ledger"
	"github.com/ajitpratap0/tradeledger/internal/memstore"
	"github.com/ajitpratap0/tradeledger/internal/metrics"
	"github.com/ajitpratap0/tradeledger/internal/positions"
	"github.com/ajitpratap0/tradeledger/internal/risk"
	"github.com/ajitpratap0/tradeledger/internal/trading"
)

// store is everything the daemon needs from persistence. Both *db.DB and
// *memstore.Store satisfy it.
type store interface {
	ledger.Store
	positions.Store
	housekeeping.Store
	metrics.GaugeSource
}

var (
	_ store = (*db.DB)(nil)
	_ store = (*memstore.Store)(nil)
)

// infrastructure holds the external connections opened at startup
type infrastructure struct {
	store      store
	database   *db.DB
	redis      *redis.Client
	nats       *nats.Conn
	subscriber *events.Subscriber
	publisher  *events.Publisher
	health     map[string]api.HealthChecker
}

func connect(ctx context.Context, cfg *config.Config) (*infrastructure, error) {
	infra := &infrastructure{health: make(map[string]api.HealthChecker)}

	if cfg.Database.UsePostgres() {
		database, err := db.New(ctx, db.PoolConfig{
			URL:             cfg.Database.GetDSN(),
			MaxConns:        int32(cfg.Database.PoolSize),
			MinConns:        int32(cfg.Database.MinConns),
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		})
		if err != nil {
			return nil, err
		}
		infra.database = database
		infra.store = database
		infra.health["database"] = database
	} else {
		log.Warn().Msg("No database configured, using the in-memory store")
		infra.store = memstore.New()
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			// Counters and the price cache degrade to local state
			log.Warn().Err(err).Str("addr", cfg.Redis.GetRedisAddr()).Msg("Redis unreachable at startup")
		}
		infra.redis = client
		infra.health["redis"] = redisHealth{client}
	}

	if cfg.NATS.Enabled {
		nc, err := events.Connect(events.Config{
			URL:             cfg.NATS.URL,
			Name:            cfg.App.Name,
			StatusSubject:   cfg.NATS.StatusSubject,
			LifecyclePrefix: cfg.NATS.LifecyclePrefix,
			Buffer:          cfg.NATS.Buffer,
		})
		if err != nil {
			infra.Close()
			return nil, err
		}
		infra.nats = nc
		infra.subscriber = events.NewSubscriber(nc, cfg.NATS.StatusSubject, cfg.NATS.Buffer)
		infra.publisher = events.NewPublisher(nc, cfg.NATS.LifecyclePrefix)
		infra.health["nats"] = natsHealth{nc}
	}

	return infra, nil
}

// Close releases connections in reverse order of opening
func (i *infrastructure) Close() {
	if i.nats != nil {
		if err := i.nats.Drain(); err != nil {
			log.Warn().Err(err).Msg("Failed to drain NATS connection")
		}
	}
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}
	if i.database != nil {
		i.database.Close()
	}
}

// venue is the configured gateway plus what it contributes to the process
type venue struct {
	gateway exchange.Gateway
	prices  exchange.PriceSource
	sources []<-chan trading.StatusEvent
	run     func(ctx context.Context) error
}

func newVenue(cfg *config.Config) (*venue, error) {
	var (
		inner    exchange.Gateway
		upstream exchange.PriceSource
		run      func(ctx context.Context) error
	)

	switch cfg.Exchange.Mode {
	case "paper":
		p := cfg.Exchange.Paper
		pc := exchange.DefaultPaperConfig()
		pc.MakerFee = p.MakerFee
		pc.TakerFee = p.TakerFee
		pc.BaseSlippage = p.BaseSlippage
		pc.MarketImpact = p.MarketImpact
		pc.MaxSlippage = p.MaxSlippage
		pc.PartialFillThreshold = p.PartialFillThreshold
		pc.MaxFills = p.MaxFills
		paper := exchange.NewPaperGateway(pc)
		inner, upstream, run = paper, paper, paper.Run
	case "binance":
		bg := exchange.NewBinanceGateway(exchange.BinanceConfig{
			APIKey:    cfg.Exchange.APIKey,
			SecretKey: cfg.Exchange.SecretKey,
			Testnet:   cfg.Exchange.Testnet,
		})
		inner, upstream = bg, bg
	default:
		return nil, fmt.Errorf("unsupported exchange mode: %s", cfg.Exchange.Mode)
	}

	cb := cfg.Exchange.CircuitBreaker
	retry := exchange.DefaultRetryConfig()
	retry.MaxRetries = cfg.Exchange.MaxRetries
	guarded := exchange.NewGuardedGateway(inner, exchange.GuardConfig{
		Breaker: exchange.BreakerSettings{
			MinRequests:     cb.MinRequests,
			FailureRatio:    cb.FailureRatio,
			OpenTimeout:     cb.OpenTimeout,
			HalfOpenMaxReqs: cb.HalfOpenMaxReqs,
			CountInterval:   cb.CountInterval,
		},
		RequestsPerSecond: cfg.Exchange.RateLimit,
		Burst:             cfg.Exchange.Burst,
		Retry:             retry,
	})

	v := &venue{gateway: guarded, prices: upstream, run: run}
	if ch := guarded.Events(); ch != nil {
		v.sources = append(v.sources, ch)
	}
	return v, nil
}

func newRiskGate(cfg *config.Config, book *positions.Book, prices risk.PriceSource, client *redis.Client) (*risk.Gate, error) {
	defaults := risk.Limits{
		MaxPositionSize:  cfg.Risk.MaxPositionSize,
		MaxDailyTrades:   cfg.Risk.MaxDailyTrades,
		MaxOrderNotional: cfg.Risk.MaxOrderNotional,
		MaxLeverage:      cfg.Risk.MaxLeverage,
	}

	var overrides map[string]risk.Limits
	if cfg.Risk.OverridesFile != "" {
		var err error
		overrides, err = risk.LoadOverrides(cfg.Risk.OverridesFile)
		if err != nil {
			return nil, err
		}
		log.Info().Int("users", len(overrides)).Str("file", cfg.Risk.OverridesFile).Msg("Loaded risk limit overrides")
	}

	opts := []risk.Option{risk.WithPriceSource(prices)}
	if client != nil {
		opts = append(opts, risk.WithCounter(risk.NewRedisCounter(client)))
	}

	return risk.NewGate(risk.Config{Defaults: defaults, Overrides: overrides}, book, opts...), nil
}

func newAlertManager(cfg config.AlertsConfig) (*alerts.Manager, error) {
	alerters := []alerts.Alerter{alerts.NewLogAlerter()}

	if cfg.TelegramToken != "" {
		tg, err := alerts.NewTelegramAlerter(cfg.TelegramToken, cfg.TelegramChatIDs, alerts.Severity(strings.ToUpper(cfg.MinSeverity)))
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram alerter: %w", err)
		}
		alerters = append(alerters, tg)
	}

	return alerts.NewManager(alerters, alerts.WithSuppressWindow(cfg.SuppressWindow)), nil
}

// ready fails only on the database; Redis and NATS have degraded modes
func (i *infrastructure) ready(ctx context.Context) error {
	if i.database == nil {
		return nil
	}
	return i.database.Health(ctx)
}

type redisHealth struct {
	client *redis.Client
}

func (r redisHealth) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

type natsHealth struct {
	nc *nats.Conn
}

func (n natsHealth) Health(context.Context) error {
	if status := n.nc.Status(); status != nats.CONNECTED {
		return errors.New("nats connection " + status.String())
	}
	return nil
}
