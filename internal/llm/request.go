// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"fmt"
)

// =============================================================================
// REQUEST
// =============================================================================

// Sampling defaults shared by all providers.
const (
	// DefaultTemperature is used when a request does not set one.
	DefaultTemperature = 0.7

	// DefaultTopP is the nucleus sampling default.
	DefaultTopP = 1.0

	// MaxTemperature is the upper bound accepted by request validation.
	MaxTemperature = 2.0
)

// ChatRequest is the unified request for chat completions. The message
// sequence is conversation-ordered and treated as immutable once submitted.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`

	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Stream      bool    `json:"stream,omitempty"`

	TopP             float64  `json:"top_p"`
	FrequencyPenalty float64  `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64  `json:"presence_penalty,omitempty"`
	Stop             []string `json:"stop,omitempty"`

	// ReasoningEffort selects effort level on reasoning models (o-series).
	ReasoningEffort string `json:"reasoning_effort,omitempty"`

	// ReasoningMode marks the request as targeting a reasoning model.
	// The facade sets it from the catalog-aware classification; adapters
	// called directly fall back to their name patterns.
	ReasoningMode bool `json:"-"`

	// ExtraParams carries provider-specific parameters the unified schema
	// does not model. Requests using it are excluded from response caching
	// because the values may be non-deterministic.
	ExtraParams map[string]any `json:"extra_params,omitempty"`
}

// NewChatRequest creates a request with the sampling defaults applied.
func NewChatRequest(model string, messages []Message) *ChatRequest {
	return &ChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: DefaultTemperature,
		TopP:        DefaultTopP,
	}
}

// Validate checks the request against the unified schema invariants.
// Returns a ValidationError describing the first violation found.
func (r *ChatRequest) Validate() error {
	if r.Model == "" {
		return NewValidationError("model must not be empty")
	}
	if len(r.Messages) == 0 {
		return NewValidationError("messages must not be empty")
	}
	for i, m := range r.Messages {
		if !m.Role.Valid() {
			return NewValidationError(fmt.Sprintf("messages[%d]: invalid role %q", i, m.Role))
		}
	}
	if r.Temperature < 0 || r.Temperature > MaxTemperature {
		return NewValidationError(fmt.Sprintf("temperature %.2f out of range [0, %.0f]", r.Temperature, MaxTemperature))
	}
	if r.TopP < 0 || r.TopP > 1 {
		return NewValidationError(fmt.Sprintf("top_p %.2f out of range [0, 1]", r.TopP))
	}
	if r.MaxTokens < 0 {
		return NewValidationError(fmt.Sprintf("max_tokens %d must not be negative", r.MaxTokens))
	}
	return nil
}

// Clone returns a deep-enough copy: the message slice and stop list are
// copied, ExtraParams shares the underlying map (treated as read-only).
func (r *ChatRequest) Clone() *ChatRequest {
	out := *r
	out.Messages = CloneMessages(r.Messages)
	if r.Stop != nil {
		out.Stop = append([]string(nil), r.Stop...)
	}
	return &out
}

// Deterministic reports whether the request is eligible for response
// caching: non-streaming and free of open-ended extra parameters.
func (r *ChatRequest) Deterministic() bool {
	return !r.Stream && len(r.ExtraParams) == 0
}
