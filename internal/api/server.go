// Package api is the REST and WebSocket surface over the order ledger.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradeledger/internal/metrics"
	"github.com/ajitpratap0/tradeledger/internal/positions"
	"github.com/ajitpratap0/tradeledger/internal/trading"
)

// OrderService is the ledger as the API sees it
type OrderService interface {
	CreateOrder(ctx context.Context, intent trading.OrderIntent) (*trading.Order, error)
	CancelOrder(ctx context.Context, orderID, userID string) (*trading.Order, error)
	GetOrder(ctx context.Context, orderID, userID string) (*trading.Order, error)
	ListOrders(ctx context.Context, userID string, f trading.OrderFilter) (*trading.OrderPage, error)
	GetOrderTrades(ctx context.Context, orderID, userID string) ([]*trading.Trade, error)
	Stats(ctx context.Context, userID string, since time.Time) (*trading.TradeStats, error)
}

// PositionService lists open positions
type PositionService interface {
	GetOpenPositions(ctx context.Context, userID string) ([]*trading.Position, error)
}

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Config contains server configuration
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Deps are the services the handlers call
type Deps struct {
	Orders    OrderService
	Positions PositionService
	Prices    positions.PriceSource
	Hub       *Hub
	Health    map[string]HealthChecker
}

// Server represents the REST API server
type Server struct {
	router *gin.Engine
	deps   Deps
	addr   string
	server *http.Server
	cfg    Config
	start  time.Time
}

// NewServer creates a new API server
func NewServer(cfg Config, deps Deps) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(metrics.GinMiddleware())

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", UserHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(origins),
		MaxAge:           12 * time.Hour,
	}))

	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}

	s := &Server{
		router: router,
		deps:   deps,
		addr:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		cfg:    cfg,
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP until Stop is called
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping API server")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}
	return nil
}

// LoggerMiddleware is a custom logging middleware for Gin
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logEvent := log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP())

		if uid := c.GetString(userKey); uid != "" {
			logEvent.Str("user_id", uid)
		}
		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}
		logEvent.Msg("API request")
	}
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
