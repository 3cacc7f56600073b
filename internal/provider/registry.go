// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"os"
	"sort"
	"sync"

	"github.com/Bytes0211/stratifyai/internal/llm"
)

// ============================================================================
// REGISTRY
// ============================================================================

// Factory constructs a Provider from a Config. Each adapter subpackage
// registers its factory in an init function.
type Factory func(cfg Config) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a provider available under a name. Called from adapter
// init functions; a later registration replaces an earlier one.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New constructs the named provider. Unknown names fail with an
// invalid-provider error.
func New(name string, cfg Config) (Provider, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, llm.NewInvalidProviderError(name)
	}
	return factory(cfg.WithDefaults())
}

// Names returns the registered provider names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registered reports whether a provider name is known.
func Registered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// ============================================================================
// ENVIRONMENT DETECTION
// ============================================================================

// KeyEnvVars maps provider names to the environment variable holding their
// API key. Ollama needs no key; its entry marks it always available.
var KeyEnvVars = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"google":     "GEMINI_API_KEY",
	"deepseek":   "DEEPSEEK_API_KEY",
	"groq":       "GROQ_API_KEY",
	"grok":       "XAI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"ollama":     "",
}

// detectOrder fixes the preference order for DetectProvider. Hosted
// providers win over local inference when both are configured.
var detectOrder = []string{
	"openai", "anthropic", "google", "deepseek",
	"groq", "grok", "openrouter", "ollama",
}

// DetectProvider returns the first provider whose API key environment
// variable is set, falling back to ollama (which needs none). The bool is
// false only when not even ollama is registered.
func DetectProvider() (string, bool) {
	for _, name := range detectOrder {
		if !Registered(name) {
			continue
		}
		envVar := KeyEnvVars[name]
		if envVar == "" || os.Getenv(envVar) != "" {
			return name, true
		}
	}
	return "", false
}

// KeyFromEnv reads the API key for a provider from its environment
// variable. Empty when the provider needs no key or none is set.
func KeyFromEnv(provider string) string {
	envVar, ok := KeyEnvVars[provider]
	if !ok || envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}
