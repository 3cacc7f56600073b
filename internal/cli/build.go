// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// build.go - Assembles the engine client from configuration.
//
// Key resolution order per provider: config file, environment variable,
// encrypted keyring. The keyring is only opened when a key is actually
// missing, a keyring file exists, and stdin is a terminal to prompt on.
package cli

import (
	"fmt"
	"os"

	"github.com/Bytes0211/stratifyai/internal/cache"
	"github.com/Bytes0211/stratifyai/internal/catalog"
	"github.com/Bytes0211/stratifyai/internal/client"
	"github.com/Bytes0211/stratifyai/internal/config"
	"github.com/Bytes0211/stratifyai/internal/keyring"
	"github.com/Bytes0211/stratifyai/internal/provider"
	"github.com/Bytes0211/stratifyai/internal/router"
	"github.com/Bytes0211/stratifyai/internal/telemetry"
)

// clientBuilder accumulates the collaborators for one client.Client.
type clientBuilder struct {
	cfg *config.Config

	// Lazily opened keyring. openedKeyring latches the first attempt so
	// the passphrase is prompted at most once.
	kr            *keyring.Keyring
	openedKeyring bool
}

// BuildClient assembles the full engine from configuration: provider
// adapters, catalog, response cache, router, and usage ledger.
func BuildClient(cfg *config.Config) (*client.Client, error) {
	b := &clientBuilder{cfg: cfg}

	providers, err := b.buildProviders()
	if err != nil {
		return nil, err
	}

	cat, err := b.buildCatalog()
	if err != nil {
		return nil, err
	}

	var responseCache *cache.ResponseCache
	if cfg.Cache.Enabled {
		responseCache = cache.New(cache.Config{
			MaxSize: cfg.Cache.MaxSize,
			TTL:     cfg.CacheTTL(),
		})
	}

	strategy, err := router.ParseStrategy(cfg.Router.Strategy)
	if err != nil {
		return nil, fmt.Errorf("invalid routing strategy: %w", err)
	}
	rt := router.New(cat, strategy, cfg.Router.ExcludeProviders...)

	var ledger *telemetry.Ledger
	if cfg.Telemetry.Enabled {
		dbPath, err := cfg.TelemetryDBPath()
		if err != nil {
			return nil, err
		}
		ledger, err = telemetry.Open(dbPath)
		if err != nil {
			// A broken ledger should not block requests; usage tracking
			// is just lost for this run.
			fmt.Fprintf(os.Stderr, "Warning: usage ledger unavailable: %v\n", err)
			ledger = nil
		}
	}

	return client.New(client.Options{
		Providers: providers,
		Catalog:   cat,
		Cache:     responseCache,
		Router:    rt,
		Ledger:    ledger,
		Budget: telemetry.Budget{
			DailyUSD: cfg.Budget.DailyUSD,
			TotalUSD: cfg.Budget.TotalUSD,
		},
	}), nil
}

// buildProviders constructs an adapter for every registered provider that
// has credentials. Ollama needs none and is always included.
func (b *clientBuilder) buildProviders() (map[string]provider.Provider, error) {
	providers := make(map[string]provider.Provider)

	for _, name := range provider.Names() {
		pc := b.cfg.Provider(name)

		apiKey := b.resolveAPIKey(name, pc)
		needsKey := provider.KeyEnvVars[name] != ""
		if needsKey && apiKey == "" {
			continue
		}

		p, err := provider.New(name, provider.Config{
			APIKey:            apiKey,
			BaseURL:           pc.BaseURL,
			Model:             pc.Model,
			Timeout:           pc.Timeout(),
			RequestsPerSecond: pc.RequestsPerSecond,
		})
		if err != nil {
			return nil, fmt.Errorf("configure provider %s: %w", name, err)
		}
		providers[name] = p
	}
	return providers, nil
}

// resolveAPIKey resolves a provider key: config, environment, keyring.
func (b *clientBuilder) resolveAPIKey(name string, pc config.ProviderConfig) string {
	if pc.APIKey != "" {
		return pc.APIKey
	}
	if key := provider.KeyFromEnv(name); key != "" {
		return key
	}
	if kr := b.keyring(); kr != nil {
		if key, err := kr.Get(name); err == nil {
			return key
		}
	}
	return ""
}

// keyring opens the encrypted key store on first use. Returns nil when no
// keyring file exists or the passphrase cannot be prompted.
func (b *clientBuilder) keyring() *keyring.Keyring {
	if b.openedKeyring {
		return b.kr
	}
	b.openedKeyring = true

	path, err := keyring.DefaultPath()
	if err != nil || !keyring.Exists(path) {
		return nil
	}
	if !CanPrompt() {
		return nil
	}

	passphrase, err := keyring.PromptPassphrase(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: keyring unavailable: %v\n", err)
		return nil
	}
	kr, err := keyring.Open(path, passphrase)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: keyring unavailable: %v\n", err)
		return nil
	}
	b.kr = kr
	return kr
}

// buildCatalog loads the catalog override file when configured, otherwise
// the builtin catalog.
func (b *clientBuilder) buildCatalog() (*catalog.Catalog, error) {
	path := b.cfg.CatalogPath()
	if path == "" {
		return catalog.Default(), nil
	}
	cat, err := catalog.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load model catalog %s: %w", path, err)
	}
	return cat, nil
}

// resolveTarget picks the provider and model for a command invocation:
// CLI flags first, then config defaults, then key auto-detection. The
// returned provider may be client.AutoProvider when routing is requested.
func resolveTarget(cfg *config.Config, args Args, route bool) (providerName, model string) {
	if route {
		return client.AutoProvider, args.Model
	}

	providerName = args.Provider
	if providerName == "" {
		providerName = cfg.DefaultProvider
	}
	if providerName == "" {
		if detected, ok := provider.DetectProvider(); ok {
			providerName = detected
		}
	}

	model = args.Model
	if model == "" {
		model = cfg.Provider(providerName).Model
	}
	if model == "" {
		model = cfg.DefaultModel
	}
	return providerName, model
}
