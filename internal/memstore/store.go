// Package memstore keeps orders, trades and positions in process memory.
// It backs paper trading and tests, and implements the same contracts as
// the Postgres store including transactions and optimistic versioning.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ajitpratap0/tradeledger/internal/trading"
)

type txKey struct{}

type txState struct {
	undo []func()
}

// Store is an in-memory implementation of the ledger and position stores.
type Store struct {
	mu         sync.RWMutex
	orders     map[string]*trading.Order
	byExternal map[string]string
	trades     map[string][]*trading.Trade
	positions  map[string]*trading.Position

	// txMu serializes transactions so undo journals never interleave.
	txMu sync.Mutex
}

// New returns an empty store.
func New() *Store {
	return &Store{
		orders:     make(map[string]*trading.Order),
		byExternal: make(map[string]string),
		trades:     make(map[string][]*trading.Trade),
		positions:  make(map[string]*trading.Position),
	}
}

// RunInTx runs fn atomically: if fn fails, every mutation it made is undone.
// Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*txState); ok {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &txState{}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		s.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// journal registers an undo step. Callers hold s.mu.
func journal(ctx context.Context, undo func()) {
	if tx, ok := ctx.Value(txKey{}).(*txState); ok {
		tx.undo = append(tx.undo, undo)
	}
}

// InsertOrder stores a new order and sets its version to 1.
func (s *Store) InsertOrder(ctx context.Context, o *trading.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.OrderID]; exists {
		return fmt.Errorf("failed to insert order: duplicate order id %s", o.OrderID)
	}
	o.Version = 1
	s.orders[o.OrderID] = o.Clone()
	if o.ExchangeOrderID != "" {
		s.byExternal[o.ExchangeOrderID] = o.OrderID
	}

	id, ext := o.OrderID, o.ExchangeOrderID
	journal(ctx, func() {
		delete(s.orders, id)
		if ext != "" {
			delete(s.byExternal, ext)
		}
	})
	return nil
}

// UpdateOrder replaces an order if its version matches the stored one, then
// bumps the version on both copies.
func (s *Store) UpdateOrder(ctx context.Context, o *trading.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.orders[o.OrderID]
	if !ok {
		return &trading.NotFoundError{Resource: "order", ID: o.OrderID}
	}
	if prev.Version != o.Version {
		return trading.ErrConcurrentModification
	}

	o.Version++
	s.orders[o.OrderID] = o.Clone()
	if o.ExchangeOrderID != "" {
		s.byExternal[o.ExchangeOrderID] = o.OrderID
	}

	ext := o.ExchangeOrderID
	journal(ctx, func() {
		s.orders[prev.OrderID] = prev
		if ext != "" && ext != prev.ExchangeOrderID {
			delete(s.byExternal, ext)
		}
	})
	return nil
}

// GetOrder returns a copy of an order.
func (s *Store) GetOrder(ctx context.Context, orderID string) (*trading.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, &trading.NotFoundError{Resource: "order", ID: orderID}
	}
	return o.Clone(), nil
}

// GetOrderByExternalID resolves a venue reference.
func (s *Store) GetOrderByExternalID(ctx context.Context, externalID string) (*trading.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byExternal[externalID]
	if !ok {
		return nil, &trading.NotFoundError{Resource: "order", ID: externalID}
	}
	return s.orders[id].Clone(), nil
}

// ListOrders returns one page of a user's orders, newest first, and the
// total number of matches.
func (s *Store) ListOrders(ctx context.Context, userID string, f trading.OrderFilter) ([]*trading.Order, int, error) {
	f.Normalize()

	s.mu.RLock()
	matched := make([]*trading.Order, 0)
	for _, o := range s.orders {
		if o.UserID == userID && matches(o, f) {
			matched = append(matched, o.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].OrderID > matched[j].OrderID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := f.Offset()
	if start >= total {
		return []*trading.Order{}, total, nil
	}
	end := start + f.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func matches(o *trading.Order, f trading.OrderFilter) bool {
	if f.Symbol != "" && o.Symbol != f.Symbol {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.Side != "" && o.Side != f.Side {
		return false
	}
	if f.Kind != "" && o.Kind != f.Kind {
		return false
	}
	if f.StartDate != nil && o.CreatedAt.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && o.CreatedAt.After(*f.EndDate) {
		return false
	}
	return true
}

// ListOpenOrders returns one page of non-terminal orders ordered by
// (UpdatedAt, OrderID), resuming strictly after q.After.
func (s *Store) ListOpenOrders(ctx context.Context, q trading.OpenOrderQuery) ([]*trading.Order, error) {
	s.mu.RLock()
	open := make([]*trading.Order, 0)
	for _, o := range s.orders {
		if o.Status.IsTerminal() {
			continue
		}
		if !q.UpdatedBefore.IsZero() && !o.UpdatedAt.Before(q.UpdatedBefore) {
			continue
		}
		if q.After != nil && !q.After.Precedes(o) {
			continue
		}
		open = append(open, o.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(open, func(i, j int) bool {
		if open[i].UpdatedAt.Equal(open[j].UpdatedAt) {
			return open[i].OrderID < open[j].OrderID
		}
		return open[i].UpdatedAt.Before(open[j].UpdatedAt)
	})
	if q.Limit > 0 && len(open) > q.Limit {
		open = open[:q.Limit]
	}
	return open, nil
}

// CountOpenOrders counts non-terminal orders.
func (s *Store) CountOpenOrders(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, o := range s.orders {
		if !o.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

// PurgeTerminalOrders deletes terminal orders last updated before cutoff.
// Trades are kept.
func (s *Store) PurgeTerminalOrders(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, o := range s.orders {
		if o.Status.IsTerminal() && o.UpdatedAt.Before(before) {
			delete(s.orders, id)
			if o.ExchangeOrderID != "" {
				delete(s.byExternal, o.ExchangeOrderID)
			}
			n++
		}
	}
	return n, nil
}

// InsertTrade appends to the trade log.
func (s *Store) InsertTrade(ctx context.Context, t *trading.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *t
	s.trades[t.OrderID] = append(s.trades[t.OrderID], &cp)

	orderID := t.OrderID
	journal(ctx, func() {
		list := s.trades[orderID]
		if len(list) <= 1 {
			delete(s.trades, orderID)
			return
		}
		s.trades[orderID] = list[:len(list)-1]
	})
	return nil
}

// ListTrades returns an order's trades in execution order.
func (s *Store) ListTrades(ctx context.Context, orderID string) ([]*trading.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.trades[orderID]
	out := make([]*trading.Trade, 0, len(list))
	for _, t := range list {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

// TradeStats aggregates a user's trades executed at or after since.
func (s *Store) TradeStats(ctx context.Context, userID string, since time.Time) (*trading.TradeStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &trading.TradeStats{Since: since}
	for _, list := range s.trades {
		for _, t := range list {
			if t.UserID != userID || t.ExecutedAt.Before(since) {
				continue
			}
			stats.TradeCount++
			stats.Volume = stats.Volume.Add(t.Quantity)
			stats.Commission = stats.Commission.Add(t.Commission)
			stats.RealizedPnL = stats.RealizedPnL.Add(t.RealizedPnL)
			if t.Side == trading.SideBuy {
				stats.BuyNotional = stats.BuyNotional.Add(t.Notional())
			} else {
				stats.SellNotional = stats.SellNotional.Add(t.Notional())
			}
		}
	}
	for _, o := range s.orders {
		if o.UserID == userID && o.Status == trading.StatusFilled && o.FilledAt != nil && !o.FilledAt.Before(since) {
			stats.FilledOrders++
		}
	}
	return stats, nil
}

func positionKey(userID, symbol string) string {
	return userID + "|" + symbol
}

// GetPosition returns a copy of the pair's position.
func (s *Store) GetPosition(ctx context.Context, userID, symbol string) (*trading.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[positionKey(userID, symbol)]
	if !ok {
		return nil, &trading.NotFoundError{Resource: "position", ID: positionKey(userID, symbol)}
	}
	cp := *p
	return &cp, nil
}

// SavePosition upserts a position.
func (s *Store) SavePosition(ctx context.Context, p *trading.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := positionKey(p.UserID, p.Symbol)
	prev, existed := s.positions[key]
	cp := *p
	cp.UnrealizedPnL, cp.MarkPrice = nil, nil
	s.positions[key] = &cp

	journal(ctx, func() {
		if existed {
			s.positions[key] = prev
		} else {
			delete(s.positions, key)
		}
	})
	return nil
}

// ListOpenPositions returns the user's positions holding quantity, by symbol.
func (s *Store) ListOpenPositions(ctx context.Context, userID string) ([]*trading.Position, error) {
	s.mu.RLock()
	out := make([]*trading.Position, 0)
	for _, p := range s.positions {
		if p.UserID == userID && p.IsOpen() {
			cp := *p
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// CountOpenPositions counts positions holding quantity across users.
func (s *Store) CountOpenPositions(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, p := range s.positions {
		if p.IsOpen() {
			n++
		}
	}
	return n, nil
}
