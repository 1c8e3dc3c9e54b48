package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/tradeledger/internal/trading"
)

// PaperConfig holds the market simulation parameters
type PaperConfig struct {
	MakerFee     float64 // Maker fee ratio (0.001 = 0.1%)
	TakerFee     float64 // Taker fee ratio
	BaseSlippage float64 // Base slippage ratio for market fills
	MarketImpact float64 // Additional slippage per million of notional
	MaxSlippage  float64 // Slippage cap

	// Orders at or above this quantity fill in up to MaxFills slices
	PartialFillThreshold float64
	MaxFills             int

	EventBuffer int
}

// DefaultPaperConfig returns Binance-like fees and slippage
func DefaultPaperConfig() PaperConfig {
	return PaperConfig{
		MakerFee:             0.001,
		TakerFee:             0.001,
		BaseSlippage:         0.0005,
		MarketImpact:         0.0001,
		MaxSlippage:          0.003,
		PartialFillThreshold: 1.0,
		MaxFills:             5,
		EventBuffer:          1024,
	}
}

type paperOrder struct {
	req        trading.SubmitRequest
	externalID string
	status     trading.Status
	filled     decimal.Decimal
	quote      decimal.Decimal
	commission decimal.Decimal
	triggered  bool
}

// PaperGateway simulates a venue for paper trading. It acknowledges orders
// synchronously and reports fills through Events, in emission order.
type PaperGateway struct {
	cfg PaperConfig

	mu     sync.Mutex
	orders map[string]*paperOrder
	prices map[string]decimal.Decimal
	queue  []trading.StatusEvent

	wake   chan struct{}
	events chan trading.StatusEvent
	now    func() time.Time
}

// NewPaperGateway creates a paper venue
func NewPaperGateway(cfg PaperConfig) *PaperGateway {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 1024
	}
	if cfg.MaxFills <= 0 {
		cfg.MaxFills = 1
	}

	log.Info().
		Float64("maker_fee", cfg.MakerFee).
		Float64("taker_fee", cfg.TakerFee).
		Float64("base_slippage", cfg.BaseSlippage).
		Msg("Paper gateway initialized")

	return &PaperGateway{
		cfg:    cfg,
		orders: make(map[string]*paperOrder),
		prices: make(map[string]decimal.Decimal),
		wake:   make(chan struct{}, 1),
		events: make(chan trading.StatusEvent, cfg.EventBuffer),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Name implements Gateway
func (p *PaperGateway) Name() string { return "paper" }

// Events implements EventSource
func (p *PaperGateway) Events() <-chan trading.StatusEvent { return p.events }

// Run delivers queued events until ctx is cancelled, then closes Events.
func (p *PaperGateway) Run(ctx context.Context) error {
	defer close(p.events)
	for {
		p.mu.Lock()
		batch := p.queue
		p.queue = nil
		p.mu.Unlock()

		for _, ev := range batch {
			select {
			case p.events <- ev:
			case <-ctx.Done():
				return nil
			}
		}

		select {
		case <-p.wake:
		case <-ctx.Done():
			return nil
		}
	}
}

// Submit implements Gateway
func (p *PaperGateway) Submit(ctx context.Context, req trading.SubmitRequest) (*trading.SubmitAck, error) {
	if err := ctx.Err(); err != nil {
		return nil, &trading.ExchangeError{Op: "submit", Err: err, Timeout: true}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if reason := p.validate(req); reason != "" {
		log.Warn().
			Str("client_order_id", req.ClientOrderID).
			Str("symbol", req.Symbol).
			Str("reason", reason).
			Msg("Paper order rejected")
		return &trading.SubmitAck{Status: trading.StatusRejected, Reason: reason}, nil
	}

	o := &paperOrder{
		req:        req,
		externalID: "paper-" + uuid.New().String(),
		status:     trading.StatusNew,
	}
	p.orders[o.externalID] = o

	log.Info().
		Str("client_order_id", req.ClientOrderID).
		Str("external_id", o.externalID).
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("type", string(req.Kind)).
		Stringer("quantity", req.Quantity).
		Msg("Paper order accepted")

	p.emit(o)
	p.match(o)

	return &trading.SubmitAck{ExternalID: o.externalID, Status: trading.StatusNew}, nil
}

// Cancel implements Gateway
func (p *PaperGateway) Cancel(ctx context.Context, externalID, symbol string) error {
	if err := ctx.Err(); err != nil {
		return &trading.ExchangeError{Op: "cancel", Err: err, Timeout: true}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[externalID]
	if !ok {
		return &trading.ExchangeError{Op: "cancel", Err: fmt.Errorf("order not found: %s", externalID)}
	}
	if o.status.IsTerminal() {
		return &trading.ExchangeError{Op: "cancel", Err: fmt.Errorf("cannot cancel order in status: %s", o.status)}
	}

	o.status = trading.StatusCancelled
	p.emit(o)

	log.Info().Str("external_id", externalID).Msg("Paper order cancelled")
	return nil
}

// QueryOrder implements Gateway
func (p *PaperGateway) QueryOrder(ctx context.Context, externalID, symbol string) (*trading.StatusEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[externalID]
	if !ok {
		return nil, &trading.ExchangeError{Op: "query", Err: fmt.Errorf("order not found: %s", externalID)}
	}
	ev := p.snapshot(o)
	return &ev, nil
}

// LastPrice implements PriceSource
func (p *PaperGateway) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[trading.NormalizeSymbol(symbol)]
	if !ok {
		return decimal.Zero, fmt.Errorf("no market price for %s", symbol)
	}
	return price, nil
}

// SetMarketPrice sets the current price for a symbol and fills any resting
// order the new price crosses.
func (p *PaperGateway) SetMarketPrice(symbol string, price decimal.Decimal) {
	symbol = trading.NormalizeSymbol(symbol)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.prices[symbol] = price
	for _, o := range p.orders {
		if o.req.Symbol == symbol && !o.status.IsTerminal() {
			p.match(o)
		}
	}
}

func (p *PaperGateway) validate(req trading.SubmitRequest) string {
	switch {
	case req.Symbol == "":
		return "symbol is required"
	case !req.Quantity.IsPositive():
		return "quantity must be positive"
	case req.Kind.RequiresPrice() && (req.Price == nil || !req.Price.IsPositive()):
		return "order type requires a positive price"
	case req.Kind.RequiresStopPrice() && (req.StopPrice == nil || !req.StopPrice.IsPositive()):
		return "order type requires a positive stop price"
	}
	if req.Kind == trading.KindMarket {
		if _, ok := p.prices[req.Symbol]; !ok {
			return fmt.Sprintf("no market price for %s", req.Symbol)
		}
	}
	return ""
}

// match fills o if the current price allows it. Callers hold p.mu.
func (p *PaperGateway) match(o *paperOrder) {
	mid, ok := p.prices[o.req.Symbol]
	if !ok {
		return
	}

	kind := o.req.Kind
	if kind.RequiresStopPrice() && !o.triggered {
		stop := *o.req.StopPrice
		if (o.req.Side == trading.SideBuy && mid.GreaterThanOrEqual(stop)) ||
			(o.req.Side == trading.SideSell && mid.LessThanOrEqual(stop)) {
			o.triggered = true
		} else {
			return
		}
	}

	switch kind {
	case trading.KindMarket, trading.KindStop:
		p.fillMarket(o, mid)
	case trading.KindLimit, trading.KindStopLimit:
		limit := *o.req.Price
		if (o.req.Side == trading.SideBuy && mid.LessThanOrEqual(limit)) ||
			(o.req.Side == trading.SideSell && mid.GreaterThanOrEqual(limit)) {
			p.fillAt(o, o.req.Quantity, limit, p.cfg.MakerFee, true)
		}
	}
}

// fillMarket fills the remaining quantity with slippage, in slices for
// larger orders.
func (p *PaperGateway) fillMarket(o *paperOrder, mid decimal.Decimal) {
	total := o.req.Quantity
	remaining := total.Sub(o.filled)
	if !remaining.IsPositive() {
		return
	}

	slippage := p.calculateSlippage(total.Mul(mid).InexactFloat64())
	base := mid.Mul(decimal.NewFromFloat(1 + slippage))
	if o.req.Side == trading.SideSell {
		base = mid.Mul(decimal.NewFromFloat(1 - slippage))
	}

	slices := 1
	if total.GreaterThanOrEqual(decimal.NewFromFloat(p.cfg.PartialFillThreshold)) {
		slices = p.cfg.MaxFills
	}

	for i := 0; i < slices && remaining.IsPositive(); i++ {
		last := i == slices-1
		qty := remaining
		if !last {
			portion := decimal.NewFromFloat(0.2 + 0.2*float64(i)/float64(slices))
			qty = remaining.Mul(portion).Round(8)
			if qty.LessThan(decimal.NewFromFloat(0.01)) {
				qty = remaining
				last = true
			}
		}

		// Slight price variation per slice simulates book depth
		variation := 0.0001 * float64(i)
		price := base.Mul(decimal.NewFromFloat(1 + variation))
		if o.req.Side == trading.SideSell {
			price = base.Mul(decimal.NewFromFloat(1 - variation))
		}

		p.fillAt(o, qty, price.Round(8), p.cfg.TakerFee, last)
		remaining = total.Sub(o.filled)
	}
}

// fillAt records one execution and emits the cumulative state. When final is
// set the order is marked fully filled with exactly its requested quantity.
func (p *PaperGateway) fillAt(o *paperOrder, qty, price decimal.Decimal, fee float64, final bool) {
	total := o.req.Quantity
	if final {
		qty = total.Sub(o.filled)
	}
	notional := qty.Mul(price)

	o.filled = o.filled.Add(qty)
	o.quote = o.quote.Add(notional)
	o.commission = o.commission.Add(notional.Mul(decimal.NewFromFloat(fee)))

	if o.filled.GreaterThanOrEqual(total) {
		o.filled = total
		o.status = trading.StatusFilled
	} else {
		o.status = trading.StatusPartiallyFilled
	}

	log.Debug().
		Str("external_id", o.externalID).
		Stringer("quantity", qty).
		Stringer("price", price).
		Str("status", string(o.status)).
		Msg("Paper fill")

	p.emit(o)
}

// calculateSlippage calculates slippage based on order notional
func (p *PaperGateway) calculateSlippage(notional float64) float64 {
	normalizedSize := notional / 1000000.0
	total := p.cfg.BaseSlippage + p.cfg.MarketImpact*normalizedSize
	if total > p.cfg.MaxSlippage {
		total = p.cfg.MaxSlippage
	}
	return total
}

func (p *PaperGateway) snapshot(o *paperOrder) trading.StatusEvent {
	ev := trading.StatusEvent{
		ExternalID:     o.externalID,
		ClientOrderID:  o.req.ClientOrderID,
		Symbol:         o.req.Symbol,
		Status:         o.status,
		FilledQuantity: o.filled,
		Commission:     o.commission.Round(10),
		Venue:          p.Name(),
		Timestamp:      p.now(),
	}
	if o.filled.IsPositive() {
		ev.AveragePrice = o.quote.DivRound(o.filled, 10)
	}
	return ev
}

// emit queues the order's current state. Callers hold p.mu.
func (p *PaperGateway) emit(o *paperOrder) {
	p.queue = append(p.queue, p.snapshot(o))
	select {
	case p.wake <- struct{}{}:
	default:
	}
}
