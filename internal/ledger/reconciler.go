package ledger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/tradeledger/internal/exchange"
	"github.com/ajitpratap0/tradeledger/internal/metrics"
	"github.com/ajitpratap0/tradeledger/internal/trading"
)

// ReconcileConfig controls the venue sync loop.
type ReconcileConfig struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
}

// SweepResult summarizes one reconciliation pass.
type SweepResult struct {
	Checked int
	Applied int
	Failed  int
}

// Reconciler polls the venue for working orders and feeds what it learns
// back through HandleEvent, so it never writes order state itself.
type Reconciler struct {
	store   Store
	gateway exchange.Gateway
	handler EventHandler
	cfg     ReconcileConfig
	log     zerolog.Logger
	now     func() time.Time
}

// NewReconciler creates a reconciler.
func NewReconciler(store Store, gateway exchange.Gateway, handler EventHandler, cfg ReconcileConfig) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Reconciler{
		store:   store,
		gateway: gateway,
		handler: handler,
		cfg:     cfg,
		log:     log.With().Str("component", "reconciler").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps on every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.log.Info().Dur("interval", r.cfg.Interval).Msg("Reconciler started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("Reconciler stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.log.Error().Err(err).Msg("Reconcile sweep failed")
			}
		}
	}
}

// Sweep queries the venue once for every open order with an external
// reference. Orders are read in BatchSize pages keyed on
// (updated_at, order_id); orders touched after the sweep started are left
// for the next one. Per-order failures are logged and counted, not returned.
func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	var res SweepResult

	q := trading.OpenOrderQuery{UpdatedBefore: r.now(), Limit: r.cfg.BatchSize}
	seen := make(map[string]struct{})
	pages := 0
	for {
		page, err := r.store.ListOpenOrders(ctx, q)
		if err != nil {
			metrics.RecordReconcileSweep(float64(time.Since(start).Milliseconds()), err)
			return res, err
		}
		pages++

		batch := make([]*trading.Order, 0, len(page))
		for _, o := range page {
			if _, dup := seen[o.OrderID]; dup || o.ExchangeOrderID == "" {
				continue
			}
			seen[o.OrderID] = struct{}{}
			batch = append(batch, o)
		}
		r.sweepBatch(ctx, batch, &res)

		if len(page) < q.Limit {
			break
		}
		if err := ctx.Err(); err != nil {
			metrics.RecordReconcileSweep(float64(time.Since(start).Milliseconds()), err)
			return res, err
		}
		q.After = trading.CursorOf(page[len(page)-1])
	}

	metrics.RecordReconcileSweep(float64(time.Since(start).Milliseconds()), nil)
	r.log.Info().
		Int("checked", res.Checked).
		Int("applied", res.Applied).
		Int("failed", res.Failed).
		Int("pages", pages).
		Dur("duration", time.Since(start)).
		Msg("Reconcile sweep complete")

	return res, nil
}

// sweepBatch reconciles one page of orders concurrently.
func (r *Reconciler) sweepBatch(ctx context.Context, orders []*trading.Order, res *SweepResult) {
	results := make(chan Outcome, len(orders))
	failures := make(chan struct{}, len(orders))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, o := range orders {
		g.Go(func() error {
			outcome, err := r.reconcile(gctx, o)
			if err != nil {
				failures <- struct{}{}
				return nil
			}
			results <- outcome
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	close(failures)

	res.Checked += len(orders)
	for outcome := range results {
		if outcome == OutcomeApplied {
			res.Applied++
		}
	}
	res.Failed += len(failures)
}

func (r *Reconciler) reconcile(ctx context.Context, o *trading.Order) (Outcome, error) {
	ev, err := r.gateway.QueryOrder(ctx, o.ExchangeOrderID, o.Symbol)
	if err != nil {
		r.log.Warn().Err(err).Str("order_id", o.OrderID).Msg("Failed to query order on venue")
		return "", err
	}
	ev.ClientOrderID = o.OrderID
	if ev.ExternalID == "" {
		ev.ExternalID = o.ExchangeOrderID
	}

	_, outcome, err := r.handler.HandleEvent(ctx, *ev)
	if err != nil {
		r.log.Error().Err(err).Str("order_id", o.OrderID).Msg("Failed to apply reconciled status")
		return "", err
	}
	if outcome == OutcomeApplied {
		r.log.Info().
			Str("order_id", o.OrderID).
			Str("status", string(ev.Status)).
			Stringer("filled_quantity", ev.FilledQuantity).
			Msg("Order reconciled from venue")
	}
	return outcome, nil
}
