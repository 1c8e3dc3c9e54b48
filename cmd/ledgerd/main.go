// Command ledgerd runs the order ledger: the REST and WebSocket API, the
// status event processor, venue reconciliation and housekeeping.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/tradeledger/internal/api"
	"github.com/ajitpratap0/tradeledger/internal/config"
	"github.com/ajitpratap0/tradeledger/internal/exchange"
	"github.com/ajitpratap0/tradeledger/internal/housekeeping"
	"github.com/ajitpratap0/tradeledger/internal/ledger"
	"github.com/ajitpratap0/tradeledger/internal/metrics"
	"github.com/ajitpratap0/tradeledger/internal/notify"
	"github.com/ajitpratap0/tradeledger/internal/positions"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults to ./configs/config.yaml)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		// The logger is not configured yet
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLogger(cfg.Logging)

	log.Info().
		Str("environment", cfg.App.Environment).
		Str("exchange_mode", cfg.Exchange.Mode).
		Bool("postgres", cfg.Database.UsePostgres()).
		Bool("redis", cfg.Redis.Enabled).
		Bool("nats", cfg.NATS.Enabled).
		Msg("Starting tradeledger")

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("tradeledger exited with error")
	}
	log.Info().Msg("tradeledger shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	infra, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer infra.Close()

	venue, err := newVenue(cfg)
	if err != nil {
		return err
	}

	prices := exchange.NewCachedPriceSource(venue.prices, infra.redis, cfg.Redis.PriceTTL)
	book := positions.NewBook(infra.store)
	gate, err := newRiskGate(cfg, book, prices, infra.redis)
	if err != nil {
		return err
	}

	var hub *api.Hub
	if cfg.API.EnableWS {
		hub = api.NewHub()
	}

	dispatcher := notify.NewDispatcher(notify.DefaultConfig(), notify.LogSink{})
	if hub != nil {
		dispatcher.AddSink(hub)
	}
	if infra.publisher != nil {
		dispatcher.AddSink(infra.publisher)
	}

	led := ledger.New(infra.store, book, venue.gateway, ledger.Config{
		SubmitTimeout: cfg.Ledger.SubmitTimeout,
		CancelTimeout: cfg.Ledger.CancelTimeout,
		FillPriceMode: ledger.FillPriceMode(cfg.Ledger.FillPriceMode),
	}, ledger.WithRiskGate(gate), ledger.WithNotifier(dispatcher))

	alerter, err := newAlertManager(cfg.Alerts)
	if err != nil {
		return err
	}

	processor := ledger.NewProcessor(led, alerter, cfg.Ledger.EventWorkers)
	reconciler := ledger.NewReconciler(infra.store, venue.gateway, led, ledger.ReconcileConfig{
		Interval:    cfg.Reconcile.Interval,
		BatchSize:   cfg.Reconcile.BatchSize,
		Concurrency: cfg.Reconcile.Concurrency,
	})
	purger := housekeeping.NewPurger(infra.store, housekeeping.Config{
		Retention: cfg.Housekeeping.Retention,
		Interval:  cfg.Housekeeping.Interval,
	})

	server := api.NewServer(api.Config{
		Host:           cfg.API.Host,
		Port:           cfg.API.Port,
		AllowedOrigins: cfg.API.AllowedOrigins,
		ReadTimeout:    cfg.API.ReadTimeout,
		WriteTimeout:   cfg.API.WriteTimeout,
	}, api.Deps{
		Orders:    led,
		Positions: book,
		Prices:    prices,
		Hub:       hub,
		Health:    infra.health,
	})

	g, gctx := errgroup.WithContext(ctx)

	sources := venue.sources
	if infra.subscriber != nil {
		ch, err := infra.subscriber.Start(gctx)
		if err != nil {
			return err
		}
		sources = append(sources, ch)
	}

	if venue.run != nil {
		g.Go(func() error { return venue.run(gctx) })
	}
	g.Go(func() error { return dispatcher.Run(gctx) })
	if hub != nil {
		g.Go(func() error { return hub.Run(gctx) })
	}
	g.Go(func() error { return processor.Run(gctx, sources...) })
	if cfg.Reconcile.Enabled {
		g.Go(func() error { return reconciler.Run(gctx) })
	}
	g.Go(func() error { return purger.Run(gctx) })
	g.Go(server.Start)

	var metricsServer *metrics.Server
	if cfg.Monitoring.EnableMetrics {
		metricsServer = metrics.NewServer(cfg.Monitoring.PrometheusPort, infra.ready, log.Logger)
		if err := metricsServer.Start(); err != nil {
			return err
		}
		updater := metrics.NewUpdater(infra.store, cfg.Monitoring.GaugeInterval)
		g.Go(func() error { return updater.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Initiating graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
