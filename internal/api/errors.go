package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradeledger/internal/metrics"
	"github.com/ajitpratap0/tradeledger/internal/trading"
)

// statusFor maps ledger errors to HTTP statuses and a client-safe body
func statusFor(err error) (int, gin.H) {
	var (
		verr  *trading.ValidationError
		nf    *trading.NotFoundError
		state *trading.InvalidStateError
		risk  *trading.RiskRejectedError
		exch  *trading.ExchangeError
	)

	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, gin.H{"error": "validation failed", "fields": verr.Fields}
	case errors.As(err, &nf):
		return http.StatusNotFound, gin.H{"error": nf.Resource + " not found"}
	case errors.As(err, &state):
		return http.StatusConflict, gin.H{"error": state.Error()}
	case errors.As(err, &risk):
		return http.StatusUnprocessableEntity, gin.H{"error": "order rejected by risk check", "reason": risk.Reason}
	case errors.As(err, &exch):
		if exch.IsRetriable() {
			return http.StatusServiceUnavailable, gin.H{"error": "exchange temporarily unavailable"}
		}
		return http.StatusBadGateway, gin.H{"error": "exchange request failed"}
	}
	return http.StatusInternalServerError, gin.H{"error": "internal error"}
}

func writeError(c *gin.Context, err error) {
	status, body := statusFor(err)
	if status >= http.StatusInternalServerError {
		metrics.RecordError(errorType(status), "api")
		log.Error().
			Err(err).
			Str("path", c.FullPath()).
			Str("user_id", currentUser(c)).
			Int("status", status).
			Msg("Request failed")
	}
	_ = c.Error(err)
	c.JSON(status, body)
}

func errorType(status int) string {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return "exchange"
	}
	return "internal"
}

func badRequest(c *gin.Context, field, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":  "validation failed",
		"fields": []trading.FieldError{{Field: field, Message: message}},
	})
}
