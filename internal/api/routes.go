package api

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	v1.GET("/health", s.handleGetHealth)

	authed := v1.Group("", RequireUser())
	{
		orders := authed.Group("/orders")
		{
			orders.POST("", s.handleCreateOrder)
			orders.GET("", s.handleListOrders)
			orders.GET("/:id", s.handleGetOrder)
			orders.DELETE("/:id", s.handleCancelOrder)
			orders.GET("/:id/trades", s.handleGetOrderTrades)
		}
		authed.GET("/positions", s.handleListPositions)
		authed.GET("/stats", s.handleGetStats)
	}

	if s.deps.Hub != nil {
		s.router.GET("/ws", s.handleWebSocket)
	}
}
