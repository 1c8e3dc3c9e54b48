package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/tradeledger/internal/positions"
	"github.com/ajitpratap0/tradeledger/internal/trading"
)

// handleGetHealth reports liveness and the state of each dependency
func (s *Server) handleGetHealth(c *gin.Context) {
	components := gin.H{}
	healthy := true
	for name, checker := range s.deps.Health {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		err := checker.Health(ctx)
		cancel()
		if err != nil {
			healthy = false
			components[name] = gin.H{"status": "unhealthy", "error": err.Error()}
			continue
		}
		components[name] = gin.H{"status": "healthy"}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":     status,
		"timestamp":  time.Now().UTC(),
		"uptime":     time.Since(s.start).Seconds(),
		"components": components,
	})
}

type createOrderRequest struct {
	StrategyID  string           `json:"strategyId"`
	Symbol      string           `json:"symbol"`
	Side        string           `json:"side"`
	Type        string           `json:"type"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Price       *decimal.Decimal `json:"price"`
	StopPrice   *decimal.Decimal `json:"stopPrice"`
	TimeInForce string           `json:"timeInForce"`
	Leverage    float64          `json:"leverage"`
}

func (r createOrderRequest) intent(userID string) trading.OrderIntent {
	return trading.OrderIntent{
		UserID:      userID,
		StrategyID:  r.StrategyID,
		Symbol:      r.Symbol,
		Side:        trading.Side(strings.ToLower(strings.TrimSpace(r.Side))),
		Kind:        trading.Kind(strings.ToLower(strings.TrimSpace(r.Type))),
		Quantity:    r.Quantity,
		Price:       r.Price,
		StopPrice:   r.StopPrice,
		TimeInForce: trading.TimeInForce(strings.ToUpper(strings.TrimSpace(r.TimeInForce))),
		Leverage:    r.Leverage,
	}
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", "must be a JSON order")
		return
	}

	order, err := s.deps.Orders.CreateOrder(c.Request.Context(), req.intent(currentUser(c)))
	if err != nil {
		if order != nil && trading.IsExchange(err) {
			_ = c.Error(err)
			c.JSON(http.StatusBadGateway, gin.H{
				"error": "order submission failed",
				"order": order,
			})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (s *Server) handleListOrders(c *gin.Context) {
	f, ok := parseOrderFilter(c)
	if !ok {
		return
	}
	page, err := s.deps.Orders.ListOrders(c.Request.Context(), currentUser(c), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// parseOrderFilter reads listing query parameters, answering 400 itself
// when one is malformed
func parseOrderFilter(c *gin.Context) (trading.OrderFilter, bool) {
	f := trading.OrderFilter{
		Symbol: c.Query("symbol"),
		Side:   trading.Side(strings.ToLower(c.Query("side"))),
		Kind:   trading.Kind(strings.ToLower(c.Query("type"))),
	}

	if raw := c.Query("status"); raw != "" {
		st, ok := trading.ParseStatus(raw)
		if !ok {
			badRequest(c, "status", "unknown order status")
			return f, false
		}
		f.Status = st
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{{"page", &f.Page}, {"page_size", &f.PageSize}} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			badRequest(c, p.name, "must be a positive integer")
			return f, false
		}
		*p.dst = n
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"start_date", &f.StartDate}, {"end_date", &f.EndDate}} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, p.name, "must be an RFC3339 timestamp")
			return f, false
		}
		*p.dst = &t
	}
	return f, true
}

func (s *Server) handleGetOrder(c *gin.Context) {
	order, err := s.deps.Orders.GetOrder(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	order, err := s.deps.Orders.CancelOrder(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleGetOrderTrades(c *gin.Context) {
	trades, err := s.deps.Orders.GetOrderTrades(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

func (s *Server) handleListPositions(c *gin.Context) {
	list, err := s.deps.Positions.GetOpenPositions(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	positions.MarkToMarket(c.Request.Context(), list, s.deps.Prices)
	c.JSON(http.StatusOK, gin.H{"positions": list, "count": len(list)})
}

func (s *Server) handleGetStats(c *gin.Context) {
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "since", "must be an RFC3339 timestamp")
			return
		}
		since = t
	}

	stats, err := s.deps.Orders.Stats(c.Request.Context(), currentUser(c), since)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
