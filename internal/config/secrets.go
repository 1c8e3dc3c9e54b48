package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// Values that show up in sample configs and must never reach staging or
// production.
var placeholderSecrets = []string{
	"changeme",
	"please_change_me",
	"your_api_key",
	"your_secret",
	"password",
	"secret",
	"postgres",
	"tradeledger",
	"example",
	"test",
	"demo",
}

// checkSecret returns a problem description, or "" when the value is usable.
func checkSecret(value string, minLength int) string {
	lower := strings.ToLower(value)
	for _, p := range placeholderSecrets {
		if strings.Contains(lower, p) {
			return fmt.Sprintf("looks like a placeholder value (%s)", p)
		}
	}
	if len(value) < minLength {
		return fmt.Sprintf("must be at least %d characters (got %d)", minLength, len(value))
	}
	return ""
}

// ValidateProductionSecrets rejects placeholder or short secrets. It is run
// by Validate outside development.
func ValidateProductionSecrets(cfg *Config) ValidationErrors {
	var errs ValidationErrors

	secrets := []struct {
		field     string
		value     string
		minLength int
	}{
		{"database.password", cfg.Database.Password, 12},
		{"redis.password", cfg.Redis.Password, 12},
		{"exchange.api_key", cfg.Exchange.APIKey, 10},
		{"exchange.secret_key", cfg.Exchange.SecretKey, 10},
		{"alerts.telegram_token", cfg.Alerts.TelegramToken, 20},
	}
	for _, s := range secrets {
		if s.value == "" {
			continue
		}
		if problem := checkSecret(s.value, s.minLength); problem != "" {
			errs.add(s.field, "Secret %s", problem)
		}
	}

	return errs
}

// VaultConfig holds Vault connection configuration
type VaultConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Address        string `mapstructure:"address"`
	Token          string `mapstructure:"token"`
	AuthMethod     string `mapstructure:"auth_method"` // token, kubernetes, approle
	MountPath      string `mapstructure:"mount_path"`
	SecretPath     string `mapstructure:"secret_path"`
	Namespace      string `mapstructure:"namespace"`
	KubernetesRole string `mapstructure:"kubernetes_role"`
}

// secretReader is the subset of *vault.Logical the overlay needs
type secretReader interface {
	ReadWithContext(ctx context.Context, path string) (*vault.Secret, error)
}

// VaultClient reads KV secrets below the configured secret path
type VaultClient struct {
	reader secretReader
	config VaultConfig
}

// NewVaultClient creates and authenticates a Vault client
func NewVaultClient(cfg VaultConfig) (*VaultClient, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("vault is not enabled in configuration")
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	switch cfg.AuthMethod {
	case "token", "":
		token := cfg.Token
		if token == "" {
			token = os.Getenv("VAULT_TOKEN")
		}
		if token == "" {
			return nil, fmt.Errorf("VAULT_TOKEN not set for token authentication")
		}
		client.SetToken(token)
	case "kubernetes":
		if err := authenticateKubernetes(client, cfg); err != nil {
			return nil, fmt.Errorf("kubernetes authentication failed: %w", err)
		}
	case "approle":
		if err := authenticateAppRole(client); err != nil {
			return nil, fmt.Errorf("AppRole authentication failed: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported Vault auth method: %s", cfg.AuthMethod)
	}

	log.Info().
		Str("address", cfg.Address).
		Str("auth_method", cfg.AuthMethod).
		Str("secret_path", cfg.SecretPath).
		Msg("Vault client initialized")

	return &VaultClient{reader: client.Logical(), config: cfg}, nil
}

// GetSecret reads one KV secret relative to the configured secret path.
// Both KV v2 (nested under "data") and KV v1 layouts are accepted.
func (vc *VaultClient) GetSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	fullPath := fmt.Sprintf("%s/data/%s/%s", vc.config.MountPath, vc.config.SecretPath, path)

	secret, err := vc.reader.ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from Vault: %w", err)
	}
	if secret == nil {
		return nil, fmt.Errorf("secret not found at path: %s", fullPath)
	}
	if data, ok := secret.Data["data"].(map[string]interface{}); ok {
		return data, nil
	}
	return secret.Data, nil
}

// LoadSecretsFromVault overlays secrets from Vault onto cfg. It is a no-op
// when vault is disabled.
func LoadSecretsFromVault(ctx context.Context, cfg *Config) error {
	if !cfg.Vault.Enabled {
		return nil
	}

	vc, err := NewVaultClient(cfg.Vault)
	if err != nil {
		return fmt.Errorf("failed to create Vault client: %w", err)
	}
	n := vc.Overlay(ctx, cfg)
	log.Info().Int("secrets", n).Msg("Secrets loaded from Vault")
	return nil
}

// secretBinding maps one key of a Vault secret onto a config field
type secretBinding struct {
	path   string
	key    string
	target *string
}

// Overlay copies every non-empty bound secret into cfg and returns how many
// values were applied. Missing paths are logged and skipped so environment
// variables can still supply them.
func (vc *VaultClient) Overlay(ctx context.Context, cfg *Config) int {
	bindings := []secretBinding{
		{"database", "user", &cfg.Database.User},
		{"database", "password", &cfg.Database.Password},
		{"redis", "password", &cfg.Redis.Password},
		{"exchange/binance", "api_key", &cfg.Exchange.APIKey},
		{"exchange/binance", "secret_key", &cfg.Exchange.SecretKey},
		{"alerts/telegram", "token", &cfg.Alerts.TelegramToken},
	}

	cache := make(map[string]map[string]interface{})
	applied := 0
	for _, b := range bindings {
		data, seen := cache[b.path]
		if !seen {
			var err error
			data, err = vc.GetSecret(ctx, b.path)
			if err != nil {
				log.Warn().Err(err).Str("path", b.path).Msg("Failed to load secrets from Vault")
			}
			cache[b.path] = data
		}
		if v, ok := data[b.key].(string); ok && v != "" {
			*b.target = v
			applied++
		}
	}
	return applied
}

func authenticateKubernetes(client *vault.Client, cfg VaultConfig) error {
	jwt, err := os.ReadFile("/var/run/secrets/kubernetes.io/serviceaccount/token")
	if err != nil {
		return fmt.Errorf("failed to read service account token: %w", err)
	}

	role := cfg.KubernetesRole
	if role == "" {
		role = "tradeledger"
	}

	secret, err := client.Logical().Write("auth/kubernetes/login", map[string]interface{}{
		"jwt":  string(jwt),
		"role": role,
	})
	if err != nil {
		return fmt.Errorf("failed to login with Kubernetes auth: %w", err)
	}
	if secret == nil || secret.Auth == nil {
		return fmt.Errorf("kubernetes authentication returned no token")
	}
	client.SetToken(secret.Auth.ClientToken)
	return nil
}

func authenticateAppRole(client *vault.Client) error {
	roleID := os.Getenv("VAULT_ROLE_ID")
	secretID := os.Getenv("VAULT_SECRET_ID")
	if roleID == "" || secretID == "" {
		return fmt.Errorf("VAULT_ROLE_ID and VAULT_SECRET_ID must be set for AppRole authentication")
	}

	secret, err := client.Logical().Write("auth/approle/login", map[string]interface{}{
		"role_id":   roleID,
		"secret_id": secretID,
	})
	if err != nil {
		return fmt.Errorf("failed to login with AppRole: %w", err)
	}
	if secret == nil || secret.Auth == nil {
		return fmt.Errorf("AppRole authentication returned no token")
	}
	client.SetToken(secret.Auth.ClientToken)
	return nil
}
