package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/tradeledger/internal/trading"
)

// BinanceConfig contains configuration for the Binance gateway
type BinanceConfig struct {
	APIKey    string
	SecretKey string
	Testnet   bool
}

// BinanceGateway places spot orders on Binance
type BinanceGateway struct {
	client *binance.Client
}

// Binance API error codes that are safe to retry
var binanceRetryableCodes = map[int64]bool{
	-1001: true, // disconnected
	-1003: true, // too many requests
	-1007: true, // backend timeout
	-1021: true, // timestamp outside recvWindow
}

// NewBinanceGateway creates a new Binance gateway
func NewBinanceGateway(cfg BinanceConfig) *BinanceGateway {
	if cfg.Testnet {
		binance.UseTestnet = true
		log.Info().Msg("Binance gateway initialized (TESTNET mode)")
	} else {
		log.Warn().Msg("Binance gateway initialized (LIVE TRADING mode)")
	}

	return &BinanceGateway{client: binance.NewClient(cfg.APIKey, cfg.SecretKey)}
}

// Name implements Gateway
func (b *BinanceGateway) Name() string { return "binance" }

// Submit implements Gateway
func (b *BinanceGateway) Submit(ctx context.Context, req trading.SubmitRequest) (*trading.SubmitAck, error) {
	svc := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binanceSide(req.Side)).
		Quantity(formatDecimal(req.Quantity)).
		NewClientOrderID(req.ClientOrderID)

	switch req.Kind {
	case trading.KindMarket:
		svc = svc.Type(binance.OrderTypeMarket)
	case trading.KindLimit:
		tif, err := binanceTimeInForce(req.TimeInForce)
		if err != nil {
			return nil, err
		}
		svc = svc.Type(binance.OrderTypeLimit).TimeInForce(tif).Price(formatDecimal(*req.Price))
	case trading.KindStop:
		svc = svc.Type(binance.OrderTypeStopLoss).StopPrice(formatDecimal(*req.StopPrice))
	case trading.KindStopLimit:
		tif, err := binanceTimeInForce(req.TimeInForce)
		if err != nil {
			return nil, err
		}
		svc = svc.Type(binance.OrderTypeStopLossLimit).
			TimeInForce(tif).
			Price(formatDecimal(*req.Price)).
			StopPrice(formatDecimal(*req.StopPrice))
	default:
		return nil, &trading.ExchangeError{Op: "submit", Err: fmt.Errorf("unsupported order type: %s", req.Kind)}
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, classifyBinanceError("submit", err)
	}

	ack := &trading.SubmitAck{
		ExternalID: strconv.FormatInt(resp.OrderID, 10),
		Status:     mapBinanceStatus(resp.Status),
	}

	log.Info().
		Str("client_order_id", req.ClientOrderID).
		Str("exchange_order_id", ack.ExternalID).
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("status", string(ack.Status)).
		Msg("Order placed on Binance")

	return ack, nil
}

// Cancel implements Gateway
func (b *BinanceGateway) Cancel(ctx context.Context, externalID, symbol string) error {
	id, err := strconv.ParseInt(externalID, 10, 64)
	if err != nil {
		return &trading.ExchangeError{Op: "cancel", Err: fmt.Errorf("invalid order ID format: %w", err)}
	}

	if _, err := b.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx); err != nil {
		return classifyBinanceError("cancel", err)
	}

	log.Info().Str("exchange_order_id", externalID).Str("symbol", symbol).Msg("Order cancelled on Binance")
	return nil
}

// QueryOrder implements Gateway
func (b *BinanceGateway) QueryOrder(ctx context.Context, externalID, symbol string) (*trading.StatusEvent, error) {
	id, err := strconv.ParseInt(externalID, 10, 64)
	if err != nil {
		return nil, &trading.ExchangeError{Op: "query", Err: fmt.Errorf("invalid order ID format: %w", err)}
	}

	o, err := b.client.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return nil, classifyBinanceError("query", err)
	}

	executed, err := decimal.NewFromString(o.ExecutedQuantity)
	if err != nil {
		return nil, &trading.ExchangeError{Op: "query", Err: fmt.Errorf("invalid executed quantity %q: %w", o.ExecutedQuantity, err)}
	}
	quote, err := decimal.NewFromString(o.CummulativeQuoteQuantity)
	if err != nil {
		return nil, &trading.ExchangeError{Op: "query", Err: fmt.Errorf("invalid quote quantity %q: %w", o.CummulativeQuoteQuantity, err)}
	}

	ev := &trading.StatusEvent{
		ExternalID:     externalID,
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Status:         mapBinanceStatus(o.Status),
		FilledQuantity: executed,
		Venue:          b.Name(),
		Timestamp:      time.UnixMilli(o.UpdateTime).UTC(),
	}
	if executed.IsPositive() {
		ev.AveragePrice = quote.DivRound(executed, 10)
	}
	return ev, nil
}

// LastPrice implements PriceSource
func (b *BinanceGateway) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, classifyBinanceError("price", err)
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			return decimal.NewFromString(p.Price)
		}
	}
	return decimal.Zero, fmt.Errorf("no price returned for %s", symbol)
}

func binanceSide(side trading.Side) binance.SideType {
	if side == trading.SideSell {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

func binanceTimeInForce(tif trading.TimeInForce) (binance.TimeInForceType, error) {
	switch tif {
	case trading.TimeInForceGTC, "":
		return binance.TimeInForceTypeGTC, nil
	case trading.TimeInForceIOC:
		return binance.TimeInForceTypeIOC, nil
	case trading.TimeInForceFOK:
		return binance.TimeInForceTypeFOK, nil
	}
	return "", &trading.ExchangeError{Op: "submit", Err: fmt.Errorf("time in force %s is not supported by binance", tif)}
}

func mapBinanceStatus(s binance.OrderStatusType) trading.Status {
	switch s {
	case binance.OrderStatusTypeNew, binance.OrderStatusTypePendingCancel:
		return trading.StatusNew
	case binance.OrderStatusTypePartiallyFilled:
		return trading.StatusPartiallyFilled
	case binance.OrderStatusTypeFilled:
		return trading.StatusFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired:
		return trading.StatusCancelled
	case binance.OrderStatusTypeRejected:
		return trading.StatusRejected
	}
	return trading.StatusNew
}

func classifyBinanceError(op string, err error) error {
	exErr := &trading.ExchangeError{Op: op, Err: err}

	var apiErr *common.APIError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		exErr.Timeout = true
	case errors.As(err, &apiErr):
		exErr.Retryable = binanceRetryableCodes[apiErr.Code]
	default:
		exErr.Retryable = IsRetryable(err)
	}
	return exErr
}

func formatDecimal(v decimal.Decimal) string {
	return v.String()
}
