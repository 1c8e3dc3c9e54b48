package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradeledger/internal/trading"
)

const positionColumns = `user_id, symbol, quantity, average_price, realized_pnl, leverage, opened_at, updated_at`

// GetPosition loads the position for a user and symbol. Inside a
// transaction the row is locked until commit.
func (db *DB) GetPosition(ctx context.Context, userID, symbol string) (*trading.Position, error) {
	defer observe("get_position", time.Now())

	query := `SELECT ` + positionColumns + ` FROM positions WHERE user_id = $1 AND symbol = $2`
	if inTx(ctx) {
		query += " FOR UPDATE"
	}

	p, err := scanPosition(db.q(ctx).QueryRow(ctx, query, userID, symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &trading.NotFoundError{Resource: "position", ID: userID + "|" + symbol}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return p, nil
}

// SavePosition upserts a position. Mark-to-market fields are not stored.
func (db *DB) SavePosition(ctx context.Context, p *trading.Position) error {
	defer observe("save_position", time.Now())

	query := `
		INSERT INTO positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, symbol) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			average_price = EXCLUDED.average_price,
			realized_pnl = EXCLUDED.realized_pnl,
			leverage = EXCLUDED.leverage,
			opened_at = EXCLUDED.opened_at,
			updated_at = EXCLUDED.updated_at`

	_, err := db.q(ctx).Exec(ctx, query,
		p.UserID,
		p.Symbol,
		p.Quantity,
		p.AveragePrice,
		p.RealizedPnL,
		p.Leverage,
		p.OpenedAt,
		p.UpdatedAt,
	)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", p.UserID).
			Str("symbol", p.Symbol).
			Msg("Failed to save position")
		return fmt.Errorf("failed to save position: %w", err)
	}
	return nil
}

// ListOpenPositions returns the user's positions holding quantity, by symbol
func (db *DB) ListOpenPositions(ctx context.Context, userID string) ([]*trading.Position, error) {
	defer observe("list_positions", time.Now())

	rows, err := db.q(ctx).Query(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE user_id = $1 AND quantity > 0
		ORDER BY symbol ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	out := make([]*trading.Position, 0)
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return out, nil
}

// CountOpenPositions counts positions holding quantity across users
func (db *DB) CountOpenPositions(ctx context.Context) (int, error) {
	var count int
	if err := db.q(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM positions WHERE quantity > 0`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count open positions: %w", err)
	}
	return count, nil
}

func scanPosition(row pgx.Row) (*trading.Position, error) {
	var p trading.Position
	err := row.Scan(
		&p.UserID,
		&p.Symbol,
		&p.Quantity,
		&p.AveragePrice,
		&p.RealizedPnL,
		&p.Leverage,
		&p.OpenedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
