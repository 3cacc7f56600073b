// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "hybrid", cfg.Router.Strategy)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 256, cfg.Cache.MaxSize)
}

func TestLoadTOMLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := Default()
	cfg.DefaultProvider = "anthropic"
	cfg.Router.Strategy = "cost"
	cfg.Budget.DailyUSD = 2.5
	cfg.Providers["openai"] = ProviderConfig{
		APIKey: "sk-test",
		Model:  "gpt-4o-mini",
	}
	require.NoError(t, SaveTOML(cfg, path))

	// Saved 0600.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded := Default()
	require.NoError(t, LoadTOML(loaded, path))
	assert.Equal(t, "anthropic", loaded.DefaultProvider)
	assert.Equal(t, "cost", loaded.Router.Strategy)
	assert.Equal(t, 2.5, loaded.Budget.DailyUSD)
	assert.Equal(t, "sk-test", loaded.Providers["openai"].APIKey)
	assert.Equal(t, "gpt-4o-mini", loaded.Providers["openai"].Model)
}

func TestLoadFromPathJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"default_provider": "groq",
		"router": {"strategy": "latency"}
	}`), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "groq", cfg.DefaultProvider)
	assert.Equal(t, "latency", cfg.Router.Strategy)
	// Defaults filled for untouched sections.
	assert.Equal(t, 256, cfg.Cache.MaxSize)
}

func TestLoadFromPathUnknownExtension(t *testing.T) {
	_, err := LoadFromPath("/tmp/config.yaml")
	assert.Error(t, err)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Router.Strategy = "fastest"
	cfg.Budget.DailyUSD = -1
	cfg.Server.Port = 99999
	cfg.Providers["nope"] = ProviderConfig{}

	err := cfg.Validate()
	require.Error(t, err)
	verrs, ok := err.(ValidateErrors)
	require.True(t, ok)
	assert.Len(t, verrs, 4)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("STRATIFYAI_PROVIDER", "groq")
	t.Setenv("STRATIFYAI_STRATEGY", "quality")
	t.Setenv("STRATIFYAI_DAILY_BUDGET", "1.25")
	t.Setenv("STRATIFYAI_CACHE", "false")
	t.Setenv("STRATIFYAI_OLLAMA_URL", "http://gpu-box:11434")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "groq", cfg.DefaultProvider)
	assert.Equal(t, "quality", cfg.Router.Strategy)
	assert.Equal(t, 1.25, cfg.Budget.DailyUSD)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, "http://gpu-box:11434", cfg.Providers["ollama"].BaseURL)
}

func TestGetSetRoundTrip(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("router.strategy", "cost"))
	require.NoError(t, cfg.Set("budget.daily_usd", "3.5"))
	require.NoError(t, cfg.Set("cache.enabled", "false"))
	require.NoError(t, cfg.Set("server.port", "9090"))

	v, err := cfg.Get("router.strategy")
	require.NoError(t, err)
	assert.Equal(t, "cost", v)

	v, err = cfg.Get("budget.daily_usd")
	require.NoError(t, err)
	assert.Equal(t, 3.5, v)

	v, err = cfg.Get("cache.enabled")
	require.NoError(t, err)
	assert.Equal(t, false, v)

	v, err = cfg.Get("server.port")
	require.NoError(t, err)
	assert.Equal(t, 9090, v)
}

func TestSetRejectsBadValues(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Set("router.strategy", "fastest"))
	assert.Error(t, cfg.Set("budget.daily_usd", "lots"))
	assert.Error(t, cfg.Set("server.port", "eighty"))
	assert.Error(t, cfg.Set("no.such.key", "x"))
}

func TestSettableKeysAllResolve(t *testing.T) {
	cfg := Default()
	for _, key := range SettableKeys() {
		_, err := cfg.Get(key)
		assert.NoError(t, err, "key %s", key)
	}
}

func TestStringRedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Providers["openai"] = ProviderConfig{APIKey: "sk-very-secret"}
	cfg.Server.AuthToken = "bearer-secret"

	out := cfg.String()
	assert.NotContains(t, out, "sk-very-secret")
	assert.NotContains(t, out, "bearer-secret")
	assert.Contains(t, out, "[REDACTED]")

	// The original is untouched.
	assert.Equal(t, "sk-very-secret", cfg.Providers["openai"].APIKey)
}

func TestCloneIsDeep(t *testing.T) {
	cfg := Default()
	cfg.Providers["openai"] = ProviderConfig{APIKey: "a"}

	clone := cfg.Clone()
	clone.Providers["openai"] = ProviderConfig{APIKey: "b"}
	assert.Equal(t, "a", cfg.Providers["openai"].APIKey)
}

func TestGlobalSingleton(t *testing.T) {
	ResetGlobalForTesting()
	t.Cleanup(ResetGlobalForTesting)

	custom := Default()
	custom.DefaultProvider = "testing"
	SetGlobal(custom)

	assert.Equal(t, "testing", Global().DefaultProvider)
}
