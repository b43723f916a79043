// Package secrets resolves the exchange API credentials used by the bot
// manager. It prefers HashiCorp Vault's KV v2 engine when configured, and
// falls back to the single credential pair carried in config/env otherwise.
package secrets

import (
	"context"
	"fmt"
	"sync"

	"cyphertrade/config"

	"github.com/hashicorp/vault/api"
)

// ExchangeCredentials is the API key pair for one exchange account.
type ExchangeCredentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	Exchange  string `json:"exchange"`
	IsTestnet bool   `json:"is_testnet"`
}

// Provider resolves and caches exchange credentials.
type Provider struct {
	client *api.Client
	config config.VaultConfig
	static ExchangeCredentials

	mu    sync.RWMutex
	cache map[string]*ExchangeCredentials
}

// NewProvider creates a credential provider. staticFallback is used whenever
// Vault is disabled, unreachable, or has no entry for the requested key.
func NewProvider(cfg config.VaultConfig, staticFallback ExchangeCredentials) (*Provider, error) {
	p := &Provider{
		config: cfg,
		static: staticFallback,
		cache:  make(map[string]*ExchangeCredentials),
	}

	if !cfg.Enabled {
		return p, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{CACert: cfg.CACert}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("secrets: failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("secrets: failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	p.client = client

	return p, nil
}

// Get returns the credentials for an exchange/network pair, trying Vault
// first (when enabled) and falling back to the static config pair.
func (p *Provider) Get(ctx context.Context, exchange string, isTestnet bool) (*ExchangeCredentials, error) {
	key := p.cacheKey(exchange, isTestnet)

	p.mu.RLock()
	if cached, ok := p.cache[key]; ok {
		p.mu.RUnlock()
		return cached, nil
	}
	p.mu.RUnlock()

	if !p.config.Enabled {
		return &p.static, nil
	}

	path := p.secretPath(exchange, isTestnet)
	secret, err := p.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("secrets: failed to read from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return &p.static, nil
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return &p.static, nil
	}

	creds := &ExchangeCredentials{
		APIKey:    getString(data, "api_key"),
		SecretKey: getString(data, "secret_key"),
		Exchange:  exchange,
		IsTestnet: isTestnet,
	}

	p.mu.Lock()
	p.cache[key] = creds
	p.mu.Unlock()

	return creds, nil
}

// Rotate stores a new credential pair and refreshes the cache.
func (p *Provider) Rotate(ctx context.Context, creds ExchangeCredentials) error {
	if !p.config.Enabled {
		p.mu.Lock()
		p.cache[p.cacheKey(creds.Exchange, creds.IsTestnet)] = &creds
		p.mu.Unlock()
		return nil
	}

	path := p.secretPath(creds.Exchange, creds.IsTestnet)
	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":    creds.APIKey,
			"secret_key": creds.SecretKey,
		},
	}

	if _, err := p.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
		return fmt.Errorf("secrets: failed to rotate credentials: %w", err)
	}

	p.mu.Lock()
	p.cache[p.cacheKey(creds.Exchange, creds.IsTestnet)] = &creds
	p.mu.Unlock()

	return nil
}

// ClearCache drops all cached credentials, forcing the next Get to re-read Vault.
func (p *Provider) ClearCache() {
	p.mu.Lock()
	p.cache = make(map[string]*ExchangeCredentials)
	p.mu.Unlock()
}

// Health checks the Vault connection when enabled; a no-op otherwise.
func (p *Provider) Health(ctx context.Context) error {
	if !p.config.Enabled {
		return nil
	}

	health, err := p.client.Sys().Health()
	if err != nil {
		return fmt.Errorf("secrets: vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("secrets: vault is sealed")
	}
	return nil
}

func (p *Provider) secretPath(exchange string, isTestnet bool) string {
	network := "mainnet"
	if isTestnet {
		network = "testnet"
	}
	return fmt.Sprintf("%s/data/%s/%s_%s", p.config.MountPath, p.config.SecretPath, exchange, network)
}

func (p *Provider) cacheKey(exchange string, isTestnet bool) string {
	network := "mainnet"
	if isTestnet {
		network = "testnet"
	}
	return exchange + "_" + network
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
