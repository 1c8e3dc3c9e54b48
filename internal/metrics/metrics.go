package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels.
const (
	// Consistency violation reasons
	ConsistencyOverFill     = "over_fill"
	ConsistencyOverSell     = "over_sell"
	ConsistencyInvalidPrice = "invalid_price"
	ConsistencyInvalidQty   = "invalid_quantity"
	ConsistencyOther        = "other"

	// Exchange API error categories
	ExchangeErrorTimeout     = "timeout"
	ExchangeErrorRateLimit   = "rate_limit"
	ExchangeErrorAuth        = "authentication"
	ExchangeErrorNetwork     = "network"
	ExchangeErrorInvalidReq  = "invalid_request"
	ExchangeErrorServerError = "server_error"
	ExchangeErrorCircuitOpen = "circuit_open"
	ExchangeErrorOther       = "other"
)

// NormalizeConsistencyReason maps a violation message to a bounded label.
func NormalizeConsistencyReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "over-fill") || strings.Contains(lower, "exceeds requested"):
		return ConsistencyOverFill
	case strings.Contains(lower, "over-sell"):
		return ConsistencyOverSell
	case strings.Contains(lower, "price"):
		return ConsistencyInvalidPrice
	case strings.Contains(lower, "quantity"):
		return ConsistencyInvalidQty
	default:
		return ConsistencyOther
	}
}

// NormalizeExchangeError maps arbitrary error messages to bounded set
func NormalizeExchangeError(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline") || strings.Contains(errStr, "timed out"):
		return ExchangeErrorTimeout
	case strings.Contains(errStr, "circuit breaker"):
		return ExchangeErrorCircuitOpen
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "429"):
		return ExchangeErrorRateLimit
	case strings.Contains(errStr, "auth") || strings.Contains(errStr, "401") || strings.Contains(errStr, "403"):
		return ExchangeErrorAuth
	case strings.Contains(errStr, "network") || strings.Contains(errStr, "connection"):
		return ExchangeErrorNetwork
	case strings.Contains(errStr, "400") || strings.Contains(errStr, "invalid"):
		return ExchangeErrorInvalidReq
	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") || strings.Contains(errStr, "503"):
		return ExchangeErrorServerError
	default:
		return ExchangeErrorOther
	}
}

// Order ledger metrics
var (
	OrdersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeledger_orders_created_total",
		Help: "Orders created, by status after submission",
	}, []string{"status"})

	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeledger_order_transitions_total",
		Help: "Order status transitions",
	}, []string{"from", "to"})

	StatusEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeledger_status_events_total",
		Help: "Exchange status events by outcome",
	}, []string{"outcome"})

	ConsistencyErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeledger_consistency_errors_total",
		Help: "Fill events dropped because they violate an invariant",
	}, []string{"reason"})

	OrderSubmitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradeledger_order_submit_latency_ms",
		Help:    "Order submission latency in milliseconds",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})

	TradesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeledger_trades_recorded_total",
		Help: "Trades appended to the trade log",
	}, []string{"side"})

	TradedNotional = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeledger_traded_notional_total",
		Help: "Notional value of recorded trades",
	}, []string{"side"})
)

// Position book metrics
var (
	PositionUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeledger_position_updates_total",
		Help: "Fills folded into positions",
	}, []string{"side"})

	RealizedPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradeledger_realized_pnl",
		Help: "Realized profit and loss accumulated since process start",
	})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradeledger_open_positions",
		Help: "Number of positions holding quantity",
	})

	OpenOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradeledger_open_orders",
		Help: "Number of orders in a non-terminal status",
	})
)

// Exchange metrics
var (
	ExchangeAPILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradeledger_exchange_api_latency_ms",
		Help:    "Exchange API latency in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"exchange", "endpoint"})

	ExchangeAPIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeledger_exchange_api_errors_total",
		Help: "Total exchange API errors",
	}, []string{"exchange", "error_type"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradeledger_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"breaker"})

	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeledger_circuit_breaker_trips_total",
		Help: "Times a circuit breaker opened",
	}, []string{"breaker"})

	ExchangeRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeledger_exchange_retries_total",
		Help: "Retried venue calls by operation",
	}, []string{"operation"})
)

// Pipeline metrics
var (
	InboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeledger_inbound_events_total",
		Help: "Status events received from transports",
	}, []string{"source", "result"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeledger_notifications_total",
		Help: "Lifecycle notifications by sink and result",
	}, []string{"sink", "result"})

	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradeledger_notifications_dropped_total",
		Help: "Lifecycle notifications dropped because the queue was full",
	})

	ReconcileSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeledger_reconcile_sweeps_total",
		Help: "Reconciliation sweeps by result",
	}, []string{"result"})

	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradeledger_reconcile_duration_ms",
		Help:    "Reconciliation sweep duration in milliseconds",
		Buckets: []float64{10, 50, 100, 500, 1000, 5000, 15000},
	})

	RiskChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeledger_risk_checks_total",
		Help: "Pre-trade risk checks by result",
	}, []string{"result"})

	OrdersPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradeledger_orders_purged_total",
		Help: "Terminal orders removed by housekeeping",
	})
)

// System metrics
var (
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradeledger_api_request_duration_ms",
		Help:    "API request duration in milliseconds",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"method", "path", "status"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeledger_errors_total",
		Help: "Total errors by type and component",
	}, []string{"error_type", "component"})

	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradeledger_database_query_duration_ms",
		Help:    "Database query duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	}, []string{"query_type"})

	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeledger_redis_operations_total",
		Help: "Redis operations by type",
	}, []string{"operation"})
)

// RecordOrderCreated records the status an order landed in after submission
func RecordOrderCreated(status string) {
	OrdersCreated.WithLabelValues(status).Inc()
}

// RecordTransition records an order status change
func RecordTransition(from, to string) {
	if from == to {
		return
	}
	OrderTransitions.WithLabelValues(from, to).Inc()
}

// RecordStatusEvent records how a status event was classified
func RecordStatusEvent(outcome string) {
	StatusEvents.WithLabelValues(outcome).Inc()
}

// RecordConsistencyError records a dropped fill with a normalized reason
func RecordConsistencyError(reason string) {
	ConsistencyErrors.WithLabelValues(NormalizeConsistencyReason(reason)).Inc()
}

// RecordOrderSubmission records submission latency
func RecordOrderSubmission(durationMs float64) {
	OrderSubmitLatency.Observe(durationMs)
}

// RecordTrade records an appended trade
func RecordTrade(side string, notional float64) {
	TradesRecorded.WithLabelValues(side).Inc()
	TradedNotional.WithLabelValues(side).Add(notional)
}

// RecordPositionUpdate records a folded fill and its realized P&L
func RecordPositionUpdate(side string, realized float64) {
	PositionUpdates.WithLabelValues(side).Inc()
	if realized != 0 {
		RealizedPnL.Add(realized)
	}
}

// RecordExchangeAPICall records an exchange API call with normalized error category
func RecordExchangeAPICall(exchange, endpoint string, durationMs float64, err error) {
	ExchangeAPILatency.WithLabelValues(exchange, endpoint).Observe(durationMs)
	if err != nil {
		errorCategory := NormalizeExchangeError(err)
		ExchangeAPIErrors.WithLabelValues(exchange, errorCategory).Inc()
	}
}

// UpdateCircuitBreaker sets the gauge for a breaker state
func UpdateCircuitBreaker(breaker string, state int) {
	CircuitBreakerState.WithLabelValues(breaker).Set(float64(state))
	if state == 2 {
		CircuitBreakerTrips.WithLabelValues(breaker).Inc()
	}
}

// RecordExchangeRetry counts one retry of a venue call
func RecordExchangeRetry(operation string) {
	ExchangeRetries.WithLabelValues(operation).Inc()
}

// RecordInboundEvent records a transport-level event receipt
func RecordInboundEvent(source, result string) {
	InboundEvents.WithLabelValues(source, result).Inc()
}

// RecordNotification records a sink delivery attempt
func RecordNotification(sink string, err error) {
	result := "delivered"
	if err != nil {
		result = "failed"
	}
	Notifications.WithLabelValues(sink, result).Inc()
}

// RecordNotificationDropped records a notification lost to backpressure
func RecordNotificationDropped() {
	NotificationsDropped.Inc()
}

// RecordReconcileSweep records a reconciliation pass
func RecordReconcileSweep(durationMs float64, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	ReconcileSweeps.WithLabelValues(result).Inc()
	ReconcileDuration.Observe(durationMs)
}

// RecordRiskCheck records a pre-trade check result
func RecordRiskCheck(allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	RiskChecks.WithLabelValues(result).Inc()
}

// RecordOrdersPurged records housekeeping deletions
func RecordOrdersPurged(count int64) {
	OrdersPurged.Add(float64(count))
}

// RecordAPIRequest records an API request with duration
func RecordAPIRequest(method, path, statusCode string, durationMs float64) {
	APIRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationMs)
	HTTPRequests.WithLabelValues(method, path, statusCode).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	Errors.WithLabelValues(errorType, component).Inc()
}

// RecordDatabaseQuery records a database query
func RecordDatabaseQuery(queryType string, durationMs float64) {
	DatabaseQueryDuration.WithLabelValues(queryType).Observe(durationMs)
}

// RecordRedisOperation records a Redis operation
func RecordRedisOperation(operation string) {
	RedisOperations.WithLabelValues(operation).Inc()
}
