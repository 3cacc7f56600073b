// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/Bytes0211/stratifyai/internal/llm"
)

// ============================================================================
// PROVIDER INTERFACE
// ============================================================================

// Provider is the uniform surface over one LLM backend. Implementations
// are safe for concurrent use.
type Provider interface {
	// Name returns the provider id, e.g. "openai" or "anthropic".
	Name() string

	// Chat executes a non-streaming completion and returns the
	// normalized response with token usage filled in.
	Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

	// ChatStream executes a streaming completion, invoking fn once per
	// chunk in arrival order. A non-nil error from fn stops the stream
	// and is returned. The final normalized response covers the whole
	// stream, with usage when the backend reports it.
	ChatStream(ctx context.Context, req *llm.ChatRequest, fn llm.StreamFunc) (*llm.ChatResponse, error)

	// Models lists the model ids the backend currently serves.
	Models(ctx context.Context) ([]string, error)

	// ValidateModel reports whether the backend recognizes the model,
	// failing with an invalid-model error when it does not.
	ValidateModel(ctx context.Context, model string) error
}

// ============================================================================
// CONFIGURATION
// ============================================================================

// Default transport settings, applied by Config.withDefaults.
const (
	DefaultTimeout       = 120 * time.Second
	DefaultMaxTokens     = 4096
	DefaultStreamTimeout = 5 * time.Second
)

// Config carries the settings common to every adapter. Zero values are
// filled with defaults at construction.
type Config struct {
	// APIKey authenticates against the backend. Local backends
	// (ollama) ignore it.
	APIKey string

	// BaseURL overrides the backend endpoint. Used for
	// OpenAI-compatible vendors and self-hosted gateways.
	BaseURL string

	// Model is the default model when a request leaves Model empty.
	Model string

	// Timeout bounds non-streaming requests. Streaming requests are
	// bounded by their context instead.
	Timeout time.Duration

	// RequestsPerSecond throttles outbound calls. Zero disables
	// client-side throttling.
	RequestsPerSecond float64

	// HTTPClient overrides the pooled transport. Tests inject fakes
	// through this.
	HTTPClient *http.Client
}

// DefaultConfig returns a Config with the standard transport settings.
func DefaultConfig() Config {
	return Config{Timeout: DefaultTimeout}
}

// WithDefaults returns a copy with zero fields filled in.
func (c Config) WithDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}
