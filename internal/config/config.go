package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// TRADELEDGER_DATABASE_PASSWORD.
const EnvPrefix = "TRADELEDGER"

// Config holds all application configuration
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Exchange     ExchangeConfig     `mapstructure:"exchange"`
	Ledger       LedgerConfig       `mapstructure:"ledger"`
	Risk         RiskConfig         `mapstructure:"risk"`
	Reconcile    ReconcileConfig    `mapstructure:"reconcile"`
	Housekeeping HousekeepingConfig `mapstructure:"housekeeping"`
	API          APIConfig          `mapstructure:"api"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	Alerts       AlertsConfig       `mapstructure:"alerts"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Vault        VaultConfig        `mapstructure:"vault"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
}

// DatabaseConfig contains PostgreSQL settings. An empty Host selects the
// in-memory store.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinConns        int           `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// RedisConfig contains Redis settings. Redis is optional; without it the
// daily trade counter and price cache stay in process.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	PriceTTL time.Duration `mapstructure:"price_ttl"`
}

// NATSConfig contains NATS messaging settings
type NATSConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	URL             string `mapstructure:"url"`
	StatusSubject   string `mapstructure:"status_subject"`
	LifecyclePrefix string `mapstructure:"lifecycle_prefix"`
	Buffer          int    `mapstructure:"buffer"`
}

// ExchangeConfig selects and tunes the venue gateway
type ExchangeConfig struct {
	Mode           string               `mapstructure:"mode"` // paper or binance
	APIKey         string               `mapstructure:"api_key"`
	SecretKey      string               `mapstructure:"secret_key"`
	Testnet        bool                 `mapstructure:"testnet"`
	RateLimit      float64              `mapstructure:"rate_limit"` // requests per second, 0 disables
	Burst          int                  `mapstructure:"burst"`
	MaxRetries     int                  `mapstructure:"max_retries"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Paper          PaperConfig          `mapstructure:"paper"`
}

// CircuitBreakerConfig mirrors the gobreaker settings
type CircuitBreakerConfig struct {
	MinRequests     uint32        `mapstructure:"min_requests"`
	FailureRatio    float64       `mapstructure:"failure_ratio"`
	OpenTimeout     time.Duration `mapstructure:"open_timeout"`
	HalfOpenMaxReqs uint32        `mapstructure:"half_open_max_requests"`
	CountInterval   time.Duration `mapstructure:"count_interval"`
}

// PaperConfig contains paper venue fee and slippage settings
type PaperConfig struct {
	MakerFee             float64 `mapstructure:"maker_fee"`
	TakerFee             float64 `mapstructure:"taker_fee"`
	BaseSlippage         float64 `mapstructure:"base_slippage"`
	MarketImpact         float64 `mapstructure:"market_impact"`
	MaxSlippage          float64 `mapstructure:"max_slippage"`
	PartialFillThreshold float64 `mapstructure:"partial_fill_threshold"`
	MaxFills             int     `mapstructure:"max_fills"`
}

// LedgerConfig contains order lifecycle settings
type LedgerConfig struct {
	SubmitTimeout time.Duration `mapstructure:"submit_timeout"`
	CancelTimeout time.Duration `mapstructure:"cancel_timeout"`
	FillPriceMode string        `mapstructure:"fill_price_mode"` // cumulative or incremental
	EventWorkers  int           `mapstructure:"event_workers"`
}

// RiskConfig contains pre-trade limit defaults
type RiskConfig struct {
	MaxPositionSize  float64 `mapstructure:"max_position_size"`
	MaxDailyTrades   int     `mapstructure:"max_daily_trades"`
	MaxOrderNotional float64 `mapstructure:"max_order_notional"`
	MaxLeverage      float64 `mapstructure:"max_leverage"`
	OverridesFile    string  `mapstructure:"overrides_file"`
}

// ReconcileConfig contains settings for the venue polling loop
type ReconcileConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	BatchSize   int           `mapstructure:"batch_size"`
	Concurrency int           `mapstructure:"concurrency"`
}

// HousekeepingConfig contains terminal order retention settings
type HousekeepingConfig struct {
	Retention time.Duration `mapstructure:"retention"` // 0 keeps orders forever
	Interval  time.Duration `mapstructure:"interval"`
}

// APIConfig contains REST API settings
type APIConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	EnableWS       bool          `mapstructure:"enable_websocket"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	PrometheusPort int           `mapstructure:"prometheus_port"`
	EnableMetrics  bool          `mapstructure:"enable_metrics"`
	GaugeInterval  time.Duration `mapstructure:"gauge_interval"`
}

// AlertsConfig contains operator alert settings
type AlertsConfig struct {
	TelegramToken   string        `mapstructure:"telegram_token"`
	TelegramChatIDs []int64       `mapstructure:"telegram_chat_ids"`
	MinSeverity     string        `mapstructure:"min_severity"`
	SuppressWindow  time.Duration `mapstructure:"suppress_window"`
}

// LoggingConfig contains zerolog output settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or console
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load loads configuration from file and environment variables, overlays
// Vault secrets when enabled, and validates the result.
func Load(ctx context.Context, configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No file: defaults and environment only
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := LoadSecretsFromVault(ctx, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values. Every key is registered
// here so AutomaticEnv can resolve it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tradeledger")
	v.SetDefault("app.environment", "development")

	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "tradeledger")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.max_conn_idle_time", 30*time.Minute)
	v.SetDefault("database.migrations_dir", "migrations")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.price_ttl", 2*time.Second)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.status_subject", "exchange.orders.status")
	v.SetDefault("nats.lifecycle_prefix", "orders.lifecycle")
	v.SetDefault("nats.buffer", 256)

	v.SetDefault("exchange.mode", "paper")
	v.SetDefault("exchange.api_key", "")
	v.SetDefault("exchange.secret_key", "")
	v.SetDefault("exchange.testnet", true)
	v.SetDefault("exchange.rate_limit", 10.0)
	v.SetDefault("exchange.burst", 20)
	v.SetDefault("exchange.max_retries", 3)
	v.SetDefault("exchange.circuit_breaker.min_requests", 5)
	v.SetDefault("exchange.circuit_breaker.failure_ratio", 0.6)
	v.SetDefault("exchange.circuit_breaker.open_timeout", 30*time.Second)
	v.SetDefault("exchange.circuit_breaker.half_open_max_requests", 3)
	v.SetDefault("exchange.circuit_breaker.count_interval", 60*time.Second)
	v.SetDefault("exchange.paper.maker_fee", 0.001)
	v.SetDefault("exchange.paper.taker_fee", 0.001)
	v.SetDefault("exchange.paper.base_slippage", 0.0005)
	v.SetDefault("exchange.paper.market_impact", 0.0001)
	v.SetDefault("exchange.paper.max_slippage", 0.003)
	v.SetDefault("exchange.paper.partial_fill_threshold", 0.0)
	v.SetDefault("exchange.paper.max_fills", 3)

	v.SetDefault("ledger.submit_timeout", 10*time.Second)
	v.SetDefault("ledger.cancel_timeout", 5*time.Second)
	v.SetDefault("ledger.fill_price_mode", "cumulative")
	v.SetDefault("ledger.event_workers", 4)

	v.SetDefault("risk.max_position_size", 0.0)
	v.SetDefault("risk.max_daily_trades", 0)
	v.SetDefault("risk.max_order_notional", 0.0)
	v.SetDefault("risk.max_leverage", 1.0)
	v.SetDefault("risk.overrides_file", "")

	v.SetDefault("reconcile.enabled", true)
	v.SetDefault("reconcile.interval", 30*time.Second)
	v.SetDefault("reconcile.batch_size", 100)
	v.SetDefault("reconcile.concurrency", 4)

	v.SetDefault("housekeeping.retention", 30*24*time.Hour)
	v.SetDefault("housekeeping.interval", time.Hour)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("api.read_timeout", 15*time.Second)
	v.SetDefault("api.write_timeout", 15*time.Second)
	v.SetDefault("api.enable_websocket", true)

	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)
	v.SetDefault("monitoring.gauge_interval", 30*time.Second)

	v.SetDefault("alerts.telegram_token", "")
	v.SetDefault("alerts.telegram_chat_ids", []int64{})
	v.SetDefault("alerts.min_severity", "WARNING")
	v.SetDefault("alerts.suppress_window", time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)

	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.address", "http://localhost:8200")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.auth_method", "token")
	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.secret_path", "tradeledger")
	v.SetDefault("vault.namespace", "")
	v.SetDefault("vault.kubernetes_role", "tradeledger")
}

// UsePostgres reports whether a database host is configured
func (c *DatabaseConfig) UsePostgres() bool {
	return c.Host != ""
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the API server address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
