package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestNormalizeConsistencyReason(t *testing.T) {
	tests := []struct {
		reason   string
		expected string
	}{
		{"over-fill: filled 12 exceeds requested 10", ConsistencyOverFill},
		{"over-sell: fill 12 exceeds position 10", ConsistencyOverSell},
		{"derived fill price must be positive", ConsistencyInvalidPrice},
		{"negative filled quantity", ConsistencyInvalidQty},
		{"something odd", ConsistencyOther},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeConsistencyReason(tt.reason))
		})
	}
}

func TestNormalizeExchangeError(t *testing.T) {
	assert.Equal(t, "", NormalizeExchangeError(nil))
	assert.Equal(t, ExchangeErrorTimeout, NormalizeExchangeError(context.DeadlineExceeded))
	assert.Equal(t, ExchangeErrorCircuitOpen, NormalizeExchangeError(errors.New("circuit breaker is open")))
	assert.Equal(t, ExchangeErrorRateLimit, NormalizeExchangeError(errors.New("HTTP 429")))
	assert.Equal(t, ExchangeErrorNetwork, NormalizeExchangeError(errors.New("connection refused")))
	assert.Equal(t, ExchangeErrorOther, NormalizeExchangeError(errors.New("weird")))
}

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(StatusEvents.WithLabelValues("duplicate"))
	RecordStatusEvent("duplicate")
	assert.Equal(t, before+1, testutil.ToFloat64(StatusEvents.WithLabelValues("duplicate")))

	before = testutil.ToFloat64(OrderTransitions.WithLabelValues("NEW", "FILLED"))
	RecordTransition("NEW", "FILLED")
	RecordTransition("NEW", "NEW")
	assert.Equal(t, before+1, testutil.ToFloat64(OrderTransitions.WithLabelValues("NEW", "FILLED")))

	assert.NotPanics(t, func() {
		RecordOrderCreated("NEW")
		RecordConsistencyError("over-sell")
		RecordOrderSubmission(12)
		RecordTrade("buy", 1000)
		RecordPositionUpdate("sell", -5)
		RecordExchangeAPICall("paper", "submit", 3, errors.New("timeout"))
		UpdateCircuitBreaker("exchange", 2)
		RecordInboundEvent("nats", "accepted")
		RecordNotification("log", nil)
		RecordNotificationDropped()
		RecordReconcileSweep(10, nil)
		RecordRiskCheck(false)
		RecordOrdersPurged(3)
		RecordError("db", "ledger")
		RecordDatabaseQuery("select", 1)
		RecordRedisOperation("incr")
	})
}

type fakeGaugeSource struct {
	orders, positions int
	err               error
}

func (f fakeGaugeSource) CountOpenOrders(context.Context) (int, error)    { return f.orders, f.err }
func (f fakeGaugeSource) CountOpenPositions(context.Context) (int, error) { return f.positions, f.err }

func TestUpdater(t *testing.T) {
	u := NewUpdater(fakeGaugeSource{orders: 7, positions: 3}, 0)
	u.Update(context.Background())
	assert.Equal(t, 7.0, testutil.ToFloat64(OpenOrders))
	assert.Equal(t, 3.0, testutil.ToFloat64(OpenPositions))

	NewUpdater(fakeGaugeSource{err: errors.New("down")}, 0).Update(context.Background())
	assert.Equal(t, 7.0, testutil.ToFloat64(OpenOrders))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, u.Run(ctx))
}

func TestGinMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/orders/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "/orders/:id", "204"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/abc", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "/orders/:id", "204")))
}

func TestServerServesMetrics(t *testing.T) {
	RecordStatusEvent("applied")
	h := NewServer(0, nil, zerolog.Nop()).handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tradeledger_")
}

func TestServerHealthReflectsReadiness(t *testing.T) {
	var readyErr error
	s := NewServer(0, func(context.Context) error { return readyErr }, zerolog.Nop())
	h := s.handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	readyErr = errors.New("database: connection refused")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestServerStartAndShutdown(t *testing.T) {
	s := NewServer(0, nil, zerolog.Nop())
	require.NoError(t, s.Start())

	addr := s.Addr()
	port := addr[strings.LastIndex(addr, ":")+1:]
	resp, err := http.Get("http://127.0.0.1:" + port + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}
