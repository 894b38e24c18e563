// Package vault resolves runtime secrets (database password, JWT signing
// key, Redis password) from HashiCorp Vault. With Vault disabled, secrets
// come from configuration or environment and the client serves its local
// cache only.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"
)

// Config holds Vault connection settings
type Config struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"-"`
	MountPath  string `json:"mount_path"` // KV v2 mount, defaults to "secret"
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// Well-known secret names the engine looks up
const (
	SecretDatabasePassword = "database_password"
	SecretJWTKey           = "jwt_signing_key"
	SecretRedisPassword    = "redis_password"
)

// Client wraps the HashiCorp Vault client with a read-through cache
type Client struct {
	client *api.Client
	cfg    Config

	mu    sync.RWMutex
	cache map[string]string
}

// NewClient creates a Vault client. With Vault disabled the client only
// serves values seeded through Seed.
func NewClient(cfg Config) (*Client, error) {
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	c := &Client{cfg: cfg, cache: make(map[string]string)}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{CACert: cfg.CACert}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	c.client = client
	return c, nil
}

// Seed places a secret in the local cache, used when Vault is disabled and
// the value comes from configuration
func (c *Client) Seed(name, value string) {
	if value == "" {
		return
	}
	c.mu.Lock()
	c.cache[name] = value
	c.mu.Unlock()
}

// Secret resolves a named secret, preferring the cache. With Vault enabled
// a miss reads the KV v2 path <mount>/data/market-structure-engine.
func (c *Client) Secret(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	if v, ok := c.cache[name]; ok {
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	if !c.cfg.Enabled {
		return "", fmt.Errorf("secret %q not found and vault is disabled", name)
	}

	path := fmt.Sprintf("%s/data/market-structure-engine", c.cfg.MountPath)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to read secrets from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("no secrets at %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("unexpected secret format at %s", path)
	}

	c.mu.Lock()
	for k, v := range data {
		if s, ok := v.(string); ok {
			c.cache[k] = s
		}
	}
	value, found := c.cache[name]
	c.mu.Unlock()

	if !found {
		return "", fmt.Errorf("secret %q not present in vault", name)
	}
	return value, nil
}

// SecretOr resolves a secret, falling back to a default when missing
func (c *Client) SecretOr(ctx context.Context, name, fallback string) string {
	v, err := c.Secret(ctx, name)
	if err != nil || v == "" {
		return fallback
	}
	return v
}
