package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradeledger/internal/trading"
)

const orderColumns = `
	order_id, user_id, strategy_id, symbol, side, kind, quantity, price,
	stop_price, time_in_force, leverage, status, filled_quantity,
	average_fill_price, commission, exchange_order_id, error_message,
	version, created_at, updated_at, filled_at, cancelled_at`

// InsertOrder inserts a new order and sets its version to 1
func (db *DB) InsertOrder(ctx context.Context, o *trading.Order) error {
	defer observe("insert_order", time.Now())

	query := `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, 1, $18, $19, $20, $21)`

	_, err := db.q(ctx).Exec(ctx, query,
		o.OrderID,
		o.UserID,
		nullString(o.StrategyID),
		o.Symbol,
		string(o.Side),
		string(o.Kind),
		o.Quantity,
		o.Price,
		o.StopPrice,
		string(o.TimeInForce),
		o.Leverage,
		string(o.Status),
		o.FilledQuantity,
		o.AverageFillPrice,
		o.Commission,
		nullString(o.ExchangeOrderID),
		nullString(o.ErrorMessage),
		o.CreatedAt,
		o.UpdatedAt,
		o.FilledAt,
		o.CancelledAt,
	)
	if err != nil {
		log.Error().
			Err(err).
			Str("order_id", o.OrderID).
			Str("symbol", o.Symbol).
			Msg("Failed to insert order")
		return fmt.Errorf("failed to insert order: %w", err)
	}

	o.Version = 1
	log.Debug().
		Str("order_id", o.OrderID).
		Str("status", string(o.Status)).
		Msg("Order inserted into database")
	return nil
}

// UpdateOrder writes the mutable order fields if the stored version equals
// o.Version, then increments o.Version.
func (db *DB) UpdateOrder(ctx context.Context, o *trading.Order) error {
	defer observe("update_order", time.Now())

	query := `
		UPDATE orders
		SET status = $1,
		    filled_quantity = $2,
		    average_fill_price = $3,
		    commission = $4,
		    exchange_order_id = $5,
		    error_message = $6,
		    updated_at = $7,
		    filled_at = $8,
		    cancelled_at = $9,
		    version = version + 1
		WHERE order_id = $10 AND version = $11`

	tag, err := db.q(ctx).Exec(ctx, query,
		string(o.Status),
		o.FilledQuantity,
		o.AverageFillPrice,
		o.Commission,
		nullString(o.ExchangeOrderID),
		nullString(o.ErrorMessage),
		o.UpdatedAt,
		o.FilledAt,
		o.CancelledAt,
		o.OrderID,
		o.Version,
	)
	if err != nil {
		log.Error().Err(err).Str("order_id", o.OrderID).Msg("Failed to update order")
		return fmt.Errorf("failed to update order: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := db.q(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE order_id = $1)`, o.OrderID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check order existence: %w", err)
		}
		if !exists {
			return &trading.NotFoundError{Resource: "order", ID: o.OrderID}
		}
		return trading.ErrConcurrentModification
	}

	o.Version++
	log.Debug().
		Str("order_id", o.OrderID).
		Str("status", string(o.Status)).
		Int64("version", o.Version).
		Msg("Order updated")
	return nil
}

// GetOrder loads one order by ID
func (db *DB) GetOrder(ctx context.Context, orderID string) (*trading.Order, error) {
	defer observe("get_order", time.Now())

	row := db.q(ctx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &trading.NotFoundError{Resource: "order", ID: orderID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// GetOrderByExternalID loads one order by its venue reference
func (db *DB) GetOrderByExternalID(ctx context.Context, externalID string) (*trading.Order, error) {
	defer observe("get_order", time.Now())

	row := db.q(ctx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE exchange_order_id = $1`, externalID)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &trading.NotFoundError{Resource: "order", ID: externalID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order by exchange id: %w", err)
	}
	return o, nil
}

// orderFilterClause builds the WHERE clause shared by the listing and its
// count query
func orderFilterClause(userID string, f trading.OrderFilter) (string, []interface{}) {
	conds := []string{"user_id = $1"}
	args := []interface{}{userID}
	argCount := 2

	add := func(cond string, v interface{}) {
		conds = append(conds, fmt.Sprintf(cond, argCount))
		args = append(args, v)
		argCount++
	}

	if f.Symbol != "" {
		add("symbol = $%d", f.Symbol)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Side != "" {
		add("side = $%d", string(f.Side))
	}
	if f.Kind != "" {
		add("kind = $%d", string(f.Kind))
	}
	if f.StartDate != nil {
		add("created_at >= $%d", *f.StartDate)
	}
	if f.EndDate != nil {
		add("created_at <= $%d", *f.EndDate)
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListOrders returns one page of a user's orders, newest first, and the
// total number of matching orders
func (db *DB) ListOrders(ctx context.Context, userID string, f trading.OrderFilter) ([]*trading.Order, int, error) {
	defer observe("list_orders", time.Now())
	f.Normalize()

	where, args := orderFilterClause(userID, f)

	var total int
	if err := db.q(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	n := len(args)
	query := `SELECT ` + orderColumns + ` FROM orders` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", n+1, n+2)
	args = append(args, f.PageSize, f.Offset())

	rows, err := db.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query orders: %w", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ListOpenOrders returns one page of non-terminal orders in
// (updated_at, order_id) order, starting strictly after q.After
func (db *DB) ListOpenOrders(ctx context.Context, q trading.OpenOrderQuery) ([]*trading.Order, error) {
	defer observe("list_open_orders", time.Now())

	conds := []string{`status IN ('PENDING', 'NEW', 'PARTIALLY_FILLED')`}
	args := []interface{}{}
	if !q.UpdatedBefore.IsZero() {
		args = append(args, q.UpdatedBefore)
		conds = append(conds, fmt.Sprintf("updated_at < $%d", len(args)))
	}
	if q.After != nil {
		args = append(args, q.After.UpdatedAt, q.After.OrderID)
		conds = append(conds, fmt.Sprintf("(updated_at, order_id) > ($%d, $%d)", len(args)-1, len(args)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY updated_at ASC, order_id ASC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query open orders: %w", err)
	}
	return collectOrders(rows)
}

// CountOpenOrders counts non-terminal orders
func (db *DB) CountOpenOrders(ctx context.Context) (int, error) {
	var count int
	err := db.q(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE status IN ('PENDING', 'NEW', 'PARTIALLY_FILLED')`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count open orders: %w", err)
	}
	return count, nil
}

// PurgeTerminalOrders deletes terminal orders last updated before cutoff.
// Trades reference orders without a foreign key and are kept.
func (db *DB) PurgeTerminalOrders(ctx context.Context, before time.Time) (int64, error) {
	defer observe("purge_orders", time.Now())

	tag, err := db.q(ctx).Exec(ctx, `
		DELETE FROM orders
		WHERE status IN ('FILLED', 'CANCELLED', 'REJECTED', 'FAILED')
		  AND updated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectOrders(rows pgx.Rows) ([]*trading.Order, error) {
	defer rows.Close()

	orders := make([]*trading.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (*trading.Order, error) {
	var (
		o                                 trading.Order
		side, kind, tif, status           string
		strategyID, externalID, errorText *string
	)
	err := row.Scan(
		&o.OrderID,
		&o.UserID,
		&strategyID,
		&o.Symbol,
		&side,
		&kind,
		&o.Quantity,
		&o.Price,
		&o.StopPrice,
		&tif,
		&o.Leverage,
		&status,
		&o.FilledQuantity,
		&o.AverageFillPrice,
		&o.Commission,
		&externalID,
		&errorText,
		&o.Version,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.FilledAt,
		&o.CancelledAt,
	)
	if err != nil {
		return nil, err
	}

	o.Side = trading.Side(side)
	o.Kind = trading.Kind(kind)
	o.TimeInForce = trading.TimeInForce(tif)
	o.Status = trading.Status(status)
	o.StrategyID = derefString(strategyID)
	o.ExchangeOrderID = derefString(externalID)
	o.ErrorMessage = derefString(errorText)
	return &o, nil
}
