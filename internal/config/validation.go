package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Fields returns the names of the failing fields in order
func (ve ValidationErrors) Fields() []string {
	fields := make([]string, len(ve))
	for i, err := range ve {
		fields[i] = err.Field
	}
	return fields
}

func (ve *ValidationErrors) add(field, format string, args ...interface{}) {
	*ve = append(*ve, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

var (
	validEnvironments   = []string{"development", "staging", "production"}
	validExchangeModes  = []string{"paper", "binance"}
	validFillPriceModes = []string{"cumulative", "incremental"}
	validLogFormats     = []string{"json", "console"}
	validSeverities     = []string{"INFO", "WARNING", "CRITICAL"}
	validAuthMethods    = []string{"token", "kubernetes", "approle"}
)

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errs ValidationErrors

	errs = append(errs, c.validateApp()...)
	errs = append(errs, c.validateDatabase()...)
	errs = append(errs, c.validateRedis()...)
	errs = append(errs, c.validateNATS()...)
	errs = append(errs, c.validateExchange()...)
	errs = append(errs, c.validateLedger()...)
	errs = append(errs, c.validateRisk()...)
	errs = append(errs, c.validateLoops()...)
	errs = append(errs, c.validateAPI()...)
	errs = append(errs, c.validateAlerts()...)
	errs = append(errs, c.validateLogging()...)
	errs = append(errs, c.validateVault()...)

	if c.App.Environment != "development" {
		errs = append(errs, ValidateProductionSecrets(c)...)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errs ValidationErrors

	if c.App.Name == "" {
		errs.add("app.name", "Application name is required")
	}
	if !slices.Contains(validEnvironments, c.App.Environment) {
		errs.add("app.environment", "Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvironments)
	}

	return errs
}

func (c *Config) validateDatabase() ValidationErrors {
	var errs ValidationErrors

	if !c.Database.UsePostgres() {
		if c.App.Environment == "production" {
			errs.add("database.host", "Database host is required in production (the in-memory store is not durable)")
		}
		return errs
	}

	validatePort(&errs, "database.port", c.Database.Port)

	if c.Database.User == "" {
		errs.add("database.user", "Database user is required")
	}
	if c.Database.Database == "" {
		errs.add("database.database", "Database name is required")
	}
	if c.Database.Password == "" && c.App.Environment != "development" {
		errs.add("database.password", "Database password is required in non-development environments")
	}
	if c.Database.PoolSize < 1 {
		errs.add("database.pool_size", "Database pool size must be at least 1")
	}
	if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.PoolSize {
		errs.add("database.min_conns", "Min connections must be between 0 and pool_size (%d)", c.Database.PoolSize)
	}

	return errs
}

func (c *Config) validateRedis() ValidationErrors {
	var errs ValidationErrors

	if !c.Redis.Enabled {
		return errs
	}
	if c.Redis.Host == "" {
		errs.add("redis.host", "Redis host is required when redis is enabled")
	}
	validatePort(&errs, "redis.port", c.Redis.Port)
	if c.Redis.PriceTTL < 0 {
		errs.add("redis.price_ttl", "Price TTL cannot be negative")
	}

	return errs
}

func (c *Config) validateNATS() ValidationErrors {
	var errs ValidationErrors

	if !c.NATS.Enabled {
		return errs
	}
	if c.NATS.URL == "" {
		errs.add("nats.url", "NATS URL is required")
	} else if !strings.HasPrefix(c.NATS.URL, "nats://") && !strings.HasPrefix(c.NATS.URL, "tls://") {
		errs.add("nats.url", "NATS URL must start with 'nats://' or 'tls://'")
	}
	if c.NATS.StatusSubject == "" {
		errs.add("nats.status_subject", "Status subject is required")
	}
	if c.NATS.LifecyclePrefix == "" {
		errs.add("nats.lifecycle_prefix", "Lifecycle subject prefix is required")
	}
	if c.NATS.Buffer < 1 {
		errs.add("nats.buffer", "Buffer must be at least 1")
	}

	return errs
}

func (c *Config) validateExchange() ValidationErrors {
	var errs ValidationErrors
	ex := c.Exchange

	if !slices.Contains(validExchangeModes, ex.Mode) {
		errs.add("exchange.mode", "Invalid exchange mode '%s'. Must be one of: %v", ex.Mode, validExchangeModes)
	}
	if ex.Mode == "binance" {
		if ex.APIKey == "" {
			errs.add("exchange.api_key", "API key is required for binance mode")
		}
		if ex.SecretKey == "" {
			errs.add("exchange.secret_key", "Secret key is required for binance mode")
		}
		if !ex.Testnet && c.App.Environment == "development" {
			errs.add("exchange.testnet", "Live binance trading is not allowed in development")
		}
	}
	if ex.RateLimit < 0 {
		errs.add("exchange.rate_limit", "Rate limit cannot be negative")
	}
	if ex.RateLimit > 0 && ex.Burst < 1 {
		errs.add("exchange.burst", "Burst must be at least 1 when rate limiting is enabled")
	}
	if ex.MaxRetries < 0 {
		errs.add("exchange.max_retries", "Max retries cannot be negative")
	}

	cb := ex.CircuitBreaker
	if cb.FailureRatio <= 0 || cb.FailureRatio > 1 {
		errs.add("exchange.circuit_breaker.failure_ratio", "Failure ratio %.2f must be in (0, 1]", cb.FailureRatio)
	}
	if cb.OpenTimeout <= 0 {
		errs.add("exchange.circuit_breaker.open_timeout", "Open timeout must be positive")
	}

	p := ex.Paper
	ratios := []struct {
		field string
		value float64
	}{
		{"maker_fee", p.MakerFee},
		{"taker_fee", p.TakerFee},
		{"base_slippage", p.BaseSlippage},
		{"market_impact", p.MarketImpact},
		{"max_slippage", p.MaxSlippage},
	}
	for _, r := range ratios {
		if r.value < 0 || r.value > 0.1 {
			errs.add("exchange.paper."+r.field, "Value %.4f must be between 0 and 0.1", r.value)
		}
	}
	if p.BaseSlippage > p.MaxSlippage {
		errs.add("exchange.paper.base_slippage", "Base slippage cannot exceed max slippage")
	}

	return errs
}

func (c *Config) validateLedger() ValidationErrors {
	var errs ValidationErrors

	if c.Ledger.SubmitTimeout <= 0 {
		errs.add("ledger.submit_timeout", "Submit timeout must be positive")
	}
	if c.Ledger.CancelTimeout <= 0 {
		errs.add("ledger.cancel_timeout", "Cancel timeout must be positive")
	}
	if !slices.Contains(validFillPriceModes, c.Ledger.FillPriceMode) {
		errs.add("ledger.fill_price_mode", "Invalid fill price mode '%s'. Must be one of: %v", c.Ledger.FillPriceMode, validFillPriceModes)
	}
	if c.Ledger.EventWorkers < 1 {
		errs.add("ledger.event_workers", "Event workers must be at least 1")
	}

	return errs
}

func (c *Config) validateRisk() ValidationErrors {
	var errs ValidationErrors

	if c.Risk.MaxPositionSize < 0 {
		errs.add("risk.max_position_size", "Max position size cannot be negative")
	}
	if c.Risk.MaxDailyTrades < 0 {
		errs.add("risk.max_daily_trades", "Max daily trades cannot be negative")
	}
	if c.Risk.MaxOrderNotional < 0 {
		errs.add("risk.max_order_notional", "Max order notional cannot be negative")
	}
	if c.Risk.MaxLeverage != 0 && c.Risk.MaxLeverage < 1 {
		errs.add("risk.max_leverage", "Max leverage must be at least 1")
	}

	return errs
}

func (c *Config) validateLoops() ValidationErrors {
	var errs ValidationErrors

	if c.Reconcile.Enabled {
		if c.Reconcile.Interval <= 0 {
			errs.add("reconcile.interval", "Reconcile interval must be positive")
		}
		if c.Reconcile.BatchSize < 1 {
			errs.add("reconcile.batch_size", "Batch size must be at least 1")
		}
		if c.Reconcile.Concurrency < 1 {
			errs.add("reconcile.concurrency", "Concurrency must be at least 1")
		}
	}
	if c.Housekeeping.Retention < 0 {
		errs.add("housekeeping.retention", "Retention cannot be negative")
	}
	if c.Housekeeping.Retention > 0 && c.Housekeeping.Interval <= 0 {
		errs.add("housekeeping.interval", "Interval must be positive when retention is set")
	}

	return errs
}

func (c *Config) validateAPI() ValidationErrors {
	var errs ValidationErrors

	validatePort(&errs, "api.port", c.API.Port)
	if c.Monitoring.EnableMetrics {
		validatePort(&errs, "monitoring.prometheus_port", c.Monitoring.PrometheusPort)
		if c.Monitoring.PrometheusPort == c.API.Port {
			errs.add("monitoring.prometheus_port", "Metrics port %d conflicts with api.port", c.Monitoring.PrometheusPort)
		}
	}
	if c.App.Environment == "production" && slices.Contains(c.API.AllowedOrigins, "*") {
		errs.add("api.allowed_origins", "Wildcard CORS origin is not allowed in production")
	}

	return errs
}

func (c *Config) validateAlerts() ValidationErrors {
	var errs ValidationErrors

	if !slices.Contains(validSeverities, strings.ToUpper(c.Alerts.MinSeverity)) {
		errs.add("alerts.min_severity", "Invalid severity '%s'. Must be one of: %v", c.Alerts.MinSeverity, validSeverities)
	}
	if c.Alerts.TelegramToken != "" && len(c.Alerts.TelegramChatIDs) == 0 {
		errs.add("alerts.telegram_chat_ids", "At least one chat ID is required when a telegram token is set")
	}
	if c.Alerts.SuppressWindow < 0 {
		errs.add("alerts.suppress_window", "Suppress window cannot be negative")
	}

	return errs
}

func (c *Config) validateLogging() ValidationErrors {
	var errs ValidationErrors

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil || c.Logging.Level == "" {
		errs.add("logging.level", "Invalid log level '%s'", c.Logging.Level)
	}
	if !slices.Contains(validLogFormats, c.Logging.Format) {
		errs.add("logging.format", "Invalid log format '%s'. Must be one of: %v", c.Logging.Format, validLogFormats)
	}

	return errs
}

func (c *Config) validateVault() ValidationErrors {
	var errs ValidationErrors

	if !c.Vault.Enabled {
		return errs
	}
	if c.Vault.Address == "" {
		errs.add("vault.address", "Vault address is required when vault is enabled")
	}
	if !slices.Contains(validAuthMethods, c.Vault.AuthMethod) {
		errs.add("vault.auth_method", "Invalid auth method '%s'. Must be one of: %v", c.Vault.AuthMethod, validAuthMethods)
	}
	if c.Vault.MountPath == "" {
		errs.add("vault.mount_path", "Vault mount path is required")
	}

	return errs
}

func validatePort(errs *ValidationErrors, field string, port int) {
	if port < 1 || port > 65535 {
		errs.add(field, "Invalid port %d. Must be between 1-65535", port)
	}
}
