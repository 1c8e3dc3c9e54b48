package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradeledger/internal/trading"
)

// InsertTrade appends a trade to the trade log
func (db *DB) InsertTrade(ctx context.Context, t *trading.Trade) error {
	defer observe("insert_trade", time.Now())

	query := `
		INSERT INTO trades (
			trade_id, order_id, user_id, symbol, side, quantity, price,
			commission, realized_pnl, venue, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := db.q(ctx).Exec(ctx, query,
		t.TradeID,
		t.OrderID,
		t.UserID,
		t.Symbol,
		string(t.Side),
		t.Quantity,
		t.Price,
		t.Commission,
		t.RealizedPnL,
		nullString(t.Venue),
		t.ExecutedAt,
	)
	if err != nil {
		log.Error().
			Err(err).
			Str("trade_id", t.TradeID).
			Str("order_id", t.OrderID).
			Msg("Failed to insert trade")
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

// ListTrades returns an order's trades in execution order
func (db *DB) ListTrades(ctx context.Context, orderID string) ([]*trading.Trade, error) {
	defer observe("list_trades", time.Now())

	rows, err := db.q(ctx).Query(ctx, `
		SELECT trade_id, order_id, user_id, symbol, side, quantity, price,
		       commission, realized_pnl, venue, executed_at
		FROM trades
		WHERE order_id = $1
		ORDER BY executed_at ASC, trade_id ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	trades := make([]*trading.Trade, 0)
	for rows.Next() {
		var (
			t     trading.Trade
			side  string
			venue *string
		)
		if err := rows.Scan(
			&t.TradeID,
			&t.OrderID,
			&t.UserID,
			&t.Symbol,
			&side,
			&t.Quantity,
			&t.Price,
			&t.Commission,
			&t.RealizedPnL,
			&venue,
			&t.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Side = trading.Side(side)
		t.Venue = derefString(venue)
		trades = append(trades, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return trades, nil
}

// TradeStats aggregates a user's trades executed at or after since
func (db *DB) TradeStats(ctx context.Context, userID string, since time.Time) (*trading.TradeStats, error) {
	defer observe("trade_stats", time.Now())

	stats := &trading.TradeStats{Since: since}
	err := db.q(ctx).QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(quantity), 0),
		       COALESCE(SUM(CASE WHEN side = 'buy' THEN quantity * price END), 0),
		       COALESCE(SUM(CASE WHEN side = 'sell' THEN quantity * price END), 0),
		       COALESCE(SUM(commission), 0),
		       COALESCE(SUM(realized_pnl), 0)
		FROM trades
		WHERE user_id = $1 AND executed_at >= $2`, userID, since).Scan(
		&stats.TradeCount,
		&stats.Volume,
		&stats.BuyNotional,
		&stats.SellNotional,
		&stats.Commission,
		&stats.RealizedPnL,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate trades: %w", err)
	}

	err = db.q(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE user_id = $1 AND status = 'FILLED' AND filled_at >= $2`, userID, since).Scan(&stats.FilledOrders)
	if err != nil {
		return nil, fmt.Errorf("failed to count filled orders: %w", err)
	}
	return stats, nil
}
