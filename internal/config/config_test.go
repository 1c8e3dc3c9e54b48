package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	setDefaults(v)
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	return &cfg
}

func TestLoad_DefaultsAreValid(t *testing.T) {
	cfg, err := Load(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, "tradeledger", cfg.App.Name)
	assert.Equal(t, "paper", cfg.Exchange.Mode)
	assert.False(t, cfg.Database.UsePostgres())
	assert.Equal(t, 10*time.Second, cfg.Ledger.SubmitTimeout)
	assert.Equal(t, "cumulative", cfg.Ledger.FillPriceMode)
	assert.Equal(t, 30*24*time.Hour, cfg.Housekeeping.Retention)
	assert.Equal(t, "exchange.orders.status", cfg.NATS.StatusSubject)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  environment: staging
database:
  host: db.internal
  password: Xk93-long-enough-pw
ledger:
  submit_timeout: 3s
  fill_price_mode: incremental
alerts:
  telegram_token: 123456789:AAHk-very-long-bot-token
  telegram_chat_ids: [111, 222]
`), 0o600))

	t.Setenv("TRADELEDGER_LEDGER_EVENT_WORKERS", "8")
	t.Setenv("TRADELEDGER_RISK_MAX_DAILY_TRADES", "25")

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.App.Environment)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 3*time.Second, cfg.Ledger.SubmitTimeout)
	assert.Equal(t, "incremental", cfg.Ledger.FillPriceMode)
	assert.Equal(t, 8, cfg.Ledger.EventWorkers)
	assert.Equal(t, 25, cfg.Risk.MaxDailyTrades)
	assert.Equal(t, []int64{111, 222}, cfg.Alerts.TelegramChatIDs)
}

func TestLoad_InvalidFileReturnsValidationErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("exchange:\n  mode: kraken\n"), 0o600))

	_, err := Load(context.Background(), path)
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Contains(t, verrs.Fields(), "exchange.mode")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		fields []string
	}{
		{
			name:   "bad environment",
			mutate: func(c *Config) { c.App.Environment = "qa" },
			fields: []string{"app.environment"},
		},
		{
			name:   "production requires postgres",
			mutate: func(c *Config) { c.App.Environment = "production" },
			fields: []string{"database.host"},
		},
		{
			name: "postgres outside development needs password",
			mutate: func(c *Config) {
				c.App.Environment = "staging"
				c.Database.Host = "db"
			},
			fields: []string{"database.password"},
		},
		{
			name: "binance needs keys",
			mutate: func(c *Config) {
				c.Exchange.Mode = "binance"
			},
			fields: []string{"exchange.api_key", "exchange.secret_key"},
		},
		{
			name: "live binance blocked in development",
			mutate: func(c *Config) {
				c.Exchange.Mode = "binance"
				c.Exchange.APIKey = "k"
				c.Exchange.SecretKey = "s"
				c.Exchange.Testnet = false
			},
			fields: []string{"exchange.testnet"},
		},
		{
			name:   "unknown fill price mode",
			mutate: func(c *Config) { c.Ledger.FillPriceMode = "vwap" },
			fields: []string{"ledger.fill_price_mode"},
		},
		{
			name:   "no event workers",
			mutate: func(c *Config) { c.Ledger.EventWorkers = 0 },
			fields: []string{"ledger.event_workers"},
		},
		{
			name: "negative risk limits",
			mutate: func(c *Config) {
				c.Risk.MaxDailyTrades = -1
				c.Risk.MaxLeverage = 0.5
			},
			fields: []string{"risk.max_daily_trades", "risk.max_leverage"},
		},
		{
			name:   "metrics port clash",
			mutate: func(c *Config) { c.Monitoring.PrometheusPort = c.API.Port },
			fields: []string{"monitoring.prometheus_port"},
		},
		{
			name:   "telegram token without chats",
			mutate: func(c *Config) { c.Alerts.TelegramToken = "tok" },
			fields: []string{"alerts.telegram_chat_ids"},
		},
		{
			name: "nats enabled with bad url",
			mutate: func(c *Config) {
				c.NATS.Enabled = true
				c.NATS.URL = "http://localhost:4222"
			},
			fields: []string{"nats.url"},
		},
		{
			name:   "bad log format",
			mutate: func(c *Config) { c.Logging.Format = "xml" },
			fields: []string{"logging.format"},
		},
		{
			name: "vault auth method",
			mutate: func(c *Config) {
				c.Vault.Enabled = true
				c.Vault.AuthMethod = "ldap"
			},
			fields: []string{"vault.auth_method"},
		},
		{
			name: "retention without interval",
			mutate: func(c *Config) {
				c.Housekeeping.Interval = 0
			},
			fields: []string{"housekeeping.interval"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			assert.ElementsMatch(t, tt.fields, verrs.Fields())
		})
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a", Message: "first"},
		{Field: "b", Message: "second"},
	}
	msg := errs.Error()
	assert.Contains(t, msg, "2 error(s)")
	assert.Contains(t, msg, "1. a: first")
	assert.Contains(t, msg, "2. b: second")
	assert.Empty(t, ValidationErrors{}.Error())
}

func TestValidateProductionSecrets(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Database.Password = "changeme_please"
	cfg.Exchange.APIKey = "short"
	cfg.Exchange.SecretKey = "Zq8rV1mWbK3nT6yP"
	cfg.Alerts.TelegramToken = ""

	errs := ValidateProductionSecrets(cfg)
	assert.ElementsMatch(t, []string{"database.password", "exchange.api_key"}, errs.Fields())
}

type fakeVault struct {
	secrets map[string]map[string]interface{}
	reads   []string
}

func (f *fakeVault) ReadWithContext(_ context.Context, path string) (*vault.Secret, error) {
	f.reads = append(f.reads, path)
	data, ok := f.secrets[path]
	if !ok {
		return nil, nil
	}
	return &vault.Secret{Data: map[string]interface{}{"data": data}}, nil
}

func TestVaultOverlay(t *testing.T) {
	fv := &fakeVault{secrets: map[string]map[string]interface{}{
		"secret/data/tradeledger/database": {
			"password": "from-vault",
		},
		"secret/data/tradeledger/exchange/binance": {
			"api_key":    "vault-key",
			"secret_key": "vault-secret",
		},
	}}
	vc := &VaultClient{reader: fv, config: VaultConfig{MountPath: "secret", SecretPath: "tradeledger"}}

	cfg := defaultConfig(t)
	cfg.Database.User = "ledger"

	applied := vc.Overlay(context.Background(), cfg)

	assert.Equal(t, 3, applied)
	assert.Equal(t, "ledger", cfg.Database.User)
	assert.Equal(t, "from-vault", cfg.Database.Password)
	assert.Equal(t, "vault-key", cfg.Exchange.APIKey)
	assert.Equal(t, "vault-secret", cfg.Exchange.SecretKey)
	assert.Empty(t, cfg.Alerts.TelegramToken)
	// each path is read once
	assert.Len(t, fv.reads, 4)
}

func TestVaultGetSecret_KVv1(t *testing.T) {
	reader := readerFunc(func(_ context.Context, path string) (*vault.Secret, error) {
		return &vault.Secret{Data: map[string]interface{}{"token": "abc"}}, nil
	})
	vc := &VaultClient{reader: reader, config: VaultConfig{MountPath: "kv", SecretPath: "app"}}

	data, err := vc.GetSecret(context.Background(), "alerts/telegram")
	require.NoError(t, err)
	assert.Equal(t, "abc", data["token"])
}

func TestVaultGetSecret_NotFound(t *testing.T) {
	vc := &VaultClient{reader: &fakeVault{}, config: VaultConfig{MountPath: "secret", SecretPath: "x"}}
	_, err := vc.GetSecret(context.Background(), "database")
	assert.ErrorContains(t, err, "secret not found")
}

type readerFunc func(ctx context.Context, path string) (*vault.Secret, error)

func (f readerFunc) ReadWithContext(ctx context.Context, path string) (*vault.Secret, error) {
	return f(ctx, path)
}

func TestNewVaultClient_Disabled(t *testing.T) {
	_, err := NewVaultClient(VaultConfig{})
	assert.Error(t, err)
	assert.NoError(t, LoadSecretsFromVault(context.Background(), defaultConfig(t)))
}

func TestNewRootLogger(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	file := filepath.Join(t.TempDir(), "ledger.log")
	var buf bytes.Buffer
	logger := NewRootLogger(LoggingConfig{Level: "warn", Format: "json", File: file, MaxSizeMB: 1}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("order_id", "o-1").Msg("shown")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "o-1", entry["order_id"])
	assert.Contains(t, entry, "caller")

	written, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(written), "shown")
	assert.NotContains(t, string(written), "hidden")
}
