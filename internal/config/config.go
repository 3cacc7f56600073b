// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// stratifyai.
//
// Supports both TOML and JSON configuration formats, with sensible
// defaults, environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.stratifyai/config.toml
//   - ~/.stratifyai/config.json
//   - Built-in defaults
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Bytes0211/stratifyai/internal/provider"
	"github.com/Bytes0211/stratifyai/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete stratifyai configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// DefaultProvider names the provider used when a command does not.
	// Empty means auto-detect from configured keys.
	DefaultProvider string `toml:"default_provider" json:"default_provider"`

	// DefaultModel overrides the chosen provider's default model.
	DefaultModel string `toml:"default_model" json:"default_model"`

	// Providers holds per-provider settings keyed by provider name.
	Providers map[string]ProviderConfig `toml:"providers" json:"providers"`

	Router    RouterConfig    `toml:"router" json:"router"`
	Cache     CacheConfig     `toml:"cache" json:"cache"`
	Budget    BudgetConfig    `toml:"budget" json:"budget"`
	Catalog   CatalogConfig   `toml:"catalog" json:"catalog"`
	Telemetry TelemetryConfig `toml:"telemetry" json:"telemetry"`
	Server    ServerConfig    `toml:"server" json:"server"`
	UI        UIConfig        `toml:"ui" json:"ui"`
}

// ProviderConfig carries the per-provider connection settings.
type ProviderConfig struct {
	// APIKey authenticates against the provider. Resolution order at
	// client-build time: this value, then the provider's env var, then
	// the keyring.
	APIKey string `toml:"api_key" json:"api_key"`
	// BaseURL overrides the provider endpoint.
	BaseURL string `toml:"base_url" json:"base_url"`
	// Model is the provider's default model.
	Model string `toml:"model" json:"model"`
	// TimeoutSecs bounds non-streaming requests.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// RequestsPerSecond throttles outbound calls. Zero disables.
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
}

// RouterConfig selects the routing strategy and its standing constraints.
type RouterConfig struct {
	// Strategy is one of "cost", "quality", "latency", "hybrid".
	Strategy string `toml:"strategy" json:"strategy"`
	// ExcludeProviders are never considered by the router.
	ExcludeProviders []string `toml:"exclude_providers" json:"exclude_providers"`
	// MaxCostPer1K caps blended price in USD per 1K tokens. Zero = none.
	MaxCostPer1K float64 `toml:"max_cost_per_1k" json:"max_cost_per_1k"`
	// MaxLatencyMs caps typical response latency. Zero = none.
	MaxLatencyMs float64 `toml:"max_latency_ms" json:"max_latency_ms"`
}

// CacheConfig sizes the response cache.
type CacheConfig struct {
	Enabled bool `toml:"enabled" json:"enabled"`
	// MaxSize is the entry cap before LRU eviction.
	MaxSize int `toml:"max_size" json:"max_size"`
	// TTLSecs is the per-entry lifetime in seconds.
	TTLSecs int `toml:"ttl_secs" json:"ttl_secs"`
}

// BudgetConfig bounds spending. Zero means unlimited on that axis.
type BudgetConfig struct {
	DailyUSD float64 `toml:"daily_usd" json:"daily_usd"`
	TotalUSD float64 `toml:"total_usd" json:"total_usd"`
}

// CatalogConfig points at an optional model catalog override file.
type CatalogConfig struct {
	// Path is a TOML file merged over the builtin catalog. Empty uses
	// ~/.stratifyai/models.toml when present.
	Path string `toml:"path" json:"path"`
}

// TelemetryConfig controls the usage ledger.
type TelemetryConfig struct {
	Enabled bool `toml:"enabled" json:"enabled"`
	// DBPath overrides the ledger location (default ~/.stratifyai/usage.db).
	DBPath string `toml:"db_path" json:"db_path"`
}

// ServerConfig configures `stratifyai serve`.
type ServerConfig struct {
	Host string `toml:"host" json:"host"`
	Port int    `toml:"port" json:"port"`
	// AuthToken, when set, requires `Authorization: Bearer <token>`.
	AuthToken string `toml:"auth_token" json:"auth_token"`
}

// UIConfig controls terminal output.
type UIConfig struct {
	// Color enables ANSI styling on TTYs.
	Color bool `toml:"color" json:"color"`
	// Markdown renders assistant output as markdown on TTYs.
	Markdown bool `toml:"markdown" json:"markdown"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version:   "1",
		Providers: make(map[string]ProviderConfig),
		Router: RouterConfig{
			Strategy: "hybrid",
		},
		Cache: CacheConfig{
			Enabled: true,
			MaxSize: 256,
			TTLSecs: 3600,
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		UI: UIConfig{
			Color:    true,
			Markdown: true,
		},
	}
}

// ConfigDir returns the stratifyai configuration directory.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".stratifyai"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions fixes permissions on config files.
// SECURITY: Config files should be 0600 to protect API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD
// =============================================================================

// Load loads configuration from the config file(s). Tries TOML first, then
// JSON, then falls back to defaults. Environment overrides apply last.
func Load() (*Config, error) {
	cfg := Default()

	if path, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := LoadTOML(cfg, path); err != nil {
				return nil, err
			}
			return finishLoad(cfg)
		}
	}
	if path, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := LoadJSON(cfg, path); err != nil {
				return nil, err
			}
			return finishLoad(cfg)
		}
	}
	return finishLoad(cfg)
}

func finishLoad(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file over cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML config: %w", err)
	}
	return nil
}

// LoadJSON loads configuration from a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON config: %w", err)
	}
	return nil
}

// LoadFromPath loads a config file by extension (.toml or .json), applying
// env overrides, defaults, and validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	case ".json":
		if err := LoadJSON(cfg, path); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}
	return finishLoad(cfg)
}

// =============================================================================
// SAVE
// =============================================================================

// Save writes the configuration to the TOML config path.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration as TOML.
// SECURITY: Written 0600 and atomically, so a crash never leaves a
// half-written file holding API keys.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid config field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every violation found in one pass.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

var validStrategies = map[string]bool{
	"cost": true, "quality": true, "latency": true, "hybrid": true,
}

// Validate checks the configuration, reporting every violation at once.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Router.Strategy != "" && !validStrategies[strings.ToLower(c.Router.Strategy)] {
		errs = append(errs, ValidationError{
			Field:   "router.strategy",
			Message: fmt.Sprintf("unknown strategy %q (want cost, quality, latency, or hybrid)", c.Router.Strategy),
		})
	}
	if c.Router.MaxCostPer1K < 0 {
		errs = append(errs, ValidationError{Field: "router.max_cost_per_1k", Message: "must not be negative"})
	}
	if c.Router.MaxLatencyMs < 0 {
		errs = append(errs, ValidationError{Field: "router.max_latency_ms", Message: "must not be negative"})
	}
	if c.Cache.MaxSize < 0 {
		errs = append(errs, ValidationError{Field: "cache.max_size", Message: "must not be negative"})
	}
	if c.Cache.TTLSecs < 0 {
		errs = append(errs, ValidationError{Field: "cache.ttl_secs", Message: "must not be negative"})
	}
	if c.Budget.DailyUSD < 0 {
		errs = append(errs, ValidationError{Field: "budget.daily_usd", Message: "must not be negative"})
	}
	if c.Budget.TotalUSD < 0 {
		errs = append(errs, ValidationError{Field: "budget.total_usd", Message: "must not be negative"})
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{Field: "server.port", Message: "must be in [0, 65535]"})
	}
	for name, pc := range c.Providers {
		if _, known := provider.KeyEnvVars[name]; !known {
			errs = append(errs, ValidationError{
				Field:   "providers." + name,
				Message: "unknown provider",
			})
		}
		if pc.TimeoutSecs < 0 {
			errs = append(errs, ValidationError{Field: "providers." + name + ".timeout_secs", Message: "must not be negative"})
		}
		if pc.RequestsPerSecond < 0 {
			errs = append(errs, ValidationError{Field: "providers." + name + ".requests_per_second", Message: "must not be negative"})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills zero fields that must never stay zero.
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = "1"
	}
	if c.Router.Strategy == "" {
		c.Router.Strategy = "hybrid"
	}
	if c.Cache.MaxSize == 0 {
		c.Cache.MaxSize = 256
	}
	if c.Cache.TTLSecs == 0 {
		c.Cache.TTLSecs = 3600
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies STRATIFYAI_* variables over the loaded file.
// Provider API keys are NOT copied here: the client build resolves them
// through the provider env vars and keyring at construction time, so keys
// never sit in the config struct unless the user put them there.
func (c *Config) ApplyEnvOverrides() {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	if v := os.Getenv("STRATIFYAI_PROVIDER"); v != "" {
		c.DefaultProvider = v
	}
	if v := os.Getenv("STRATIFYAI_MODEL"); v != "" {
		c.DefaultModel = v
	}
	if v := os.Getenv("STRATIFYAI_STRATEGY"); v != "" {
		c.Router.Strategy = v
	}
	if v := os.Getenv("STRATIFYAI_CACHE"); v != "" {
		c.Cache.Enabled = envBool(v)
	}
	if v := os.Getenv("STRATIFYAI_DAILY_BUDGET"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Budget.DailyUSD = f
		}
	}
	if v := os.Getenv("STRATIFYAI_TOTAL_BUDGET"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Budget.TotalUSD = f
		}
	}
	if v := os.Getenv("STRATIFYAI_OLLAMA_URL"); v != "" {
		pc := c.Providers["ollama"]
		pc.BaseURL = v
		c.Providers["ollama"] = pc
	}
	if v := os.Getenv("STRATIFYAI_SERVER_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}
	if v := os.Getenv("STRATIFYAI_NO_COLOR"); v != "" {
		c.UI.Color = !envBool(v)
	}
}

func envBool(v string) bool {
	return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Provider returns the settings for a provider, zero-valued when absent.
func (c *Config) Provider(name string) ProviderConfig {
	return c.Providers[strings.ToLower(name)]
}

// Timeout returns the configured timeout as a duration, zero when unset.
func (pc ProviderConfig) Timeout() time.Duration {
	return time.Duration(pc.TimeoutSecs) * time.Second
}

// CacheTTL returns the cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSecs) * time.Second
}

// CatalogPath resolves the catalog override file: the configured path, or
// ~/.stratifyai/models.toml when that exists, else empty.
func (c *Config) CatalogPath() string {
	if c.Catalog.Path != "" {
		return c.Catalog.Path
	}
	dir, err := ConfigDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(dir, "models.toml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// TelemetryDBPath resolves the ledger location.
func (c *Config) TelemetryDBPath() (string, error) {
	if c.Telemetry.DBPath != "" {
		return c.Telemetry.DBPath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "usage.db"), nil
}

// Get retrieves a config value by dot-notation key, e.g. "router.strategy".
func (c *Config) Get(key string) (any, error) {
	switch strings.ToLower(key) {
	case "default_provider":
		return c.DefaultProvider, nil
	case "default_model":
		return c.DefaultModel, nil
	case "router.strategy":
		return c.Router.Strategy, nil
	case "router.max_cost_per_1k":
		return c.Router.MaxCostPer1K, nil
	case "router.max_latency_ms":
		return c.Router.MaxLatencyMs, nil
	case "cache.enabled":
		return c.Cache.Enabled, nil
	case "cache.max_size":
		return c.Cache.MaxSize, nil
	case "cache.ttl_secs":
		return c.Cache.TTLSecs, nil
	case "budget.daily_usd":
		return c.Budget.DailyUSD, nil
	case "budget.total_usd":
		return c.Budget.TotalUSD, nil
	case "telemetry.enabled":
		return c.Telemetry.Enabled, nil
	case "server.host":
		return c.Server.Host, nil
	case "server.port":
		return c.Server.Port, nil
	case "ui.color":
		return c.UI.Color, nil
	case "ui.markdown":
		return c.UI.Markdown, nil
	default:
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
}

// Set updates a config value by dot-notation key from its string form.
func (c *Config) Set(key, value string) error {
	switch strings.ToLower(key) {
	case "default_provider":
		c.DefaultProvider = value
	case "default_model":
		c.DefaultModel = value
	case "router.strategy":
		if !validStrategies[strings.ToLower(value)] {
			return fmt.Errorf("unknown strategy %q", value)
		}
		c.Router.Strategy = strings.ToLower(value)
	case "router.max_cost_per_1k":
		return setFloat(&c.Router.MaxCostPer1K, value)
	case "router.max_latency_ms":
		return setFloat(&c.Router.MaxLatencyMs, value)
	case "cache.enabled":
		c.Cache.Enabled = envBool(value)
	case "cache.max_size":
		return setInt(&c.Cache.MaxSize, value)
	case "cache.ttl_secs":
		return setInt(&c.Cache.TTLSecs, value)
	case "budget.daily_usd":
		return setFloat(&c.Budget.DailyUSD, value)
	case "budget.total_usd":
		return setFloat(&c.Budget.TotalUSD, value)
	case "telemetry.enabled":
		c.Telemetry.Enabled = envBool(value)
	case "server.host":
		c.Server.Host = value
	case "server.port":
		return setInt(&c.Server.Port, value)
	case "ui.color":
		c.UI.Color = envBool(value)
	case "ui.markdown":
		c.UI.Markdown = envBool(value)
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}

func setFloat(dst *float64, value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", value)
	}
	*dst = f
	return nil
}

func setInt(dst *int, value string) error {
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("not an integer: %q", value)
	}
	*dst = i
	return nil
}

// SettableKeys lists every key accepted by Set, for help output.
func SettableKeys() []string {
	return []string{
		"default_provider", "default_model",
		"router.strategy", "router.max_cost_per_1k", "router.max_latency_ms",
		"cache.enabled", "cache.max_size", "cache.ttl_secs",
		"budget.daily_usd", "budget.total_usd",
		"telemetry.enabled",
		"server.host", "server.port",
		"ui.color", "ui.markdown",
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Providers = make(map[string]ProviderConfig, len(c.Providers))
	for name, pc := range c.Providers {
		out.Providers[name] = pc
	}
	out.Router.ExcludeProviders = append([]string(nil), c.Router.ExcludeProviders...)
	return &out
}

// String renders the config as indented JSON with secrets redacted.
// SECURITY: API keys and tokens never appear in logs or `config show`.
func (c *Config) String() string {
	safe := c.Clone()
	for name, pc := range safe.Providers {
		if pc.APIKey != "" {
			pc.APIKey = "[REDACTED]"
			safe.Providers[name] = pc
		}
	}
	if safe.Server.AuthToken != "" {
		safe.Server.AuthToken = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration, loading it on first access.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
			cfg.ApplyEnvOverrides()
			cfg.SetDefaults()
		}
		globalConfig = cfg
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
	return nil
}

// SetGlobal replaces the global configuration instance.
func SetGlobal(cfg *Config) {
	// Consume the once so a later Global() does not load over this.
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets singleton state between test runs.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
