// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"testing"
)

// =============================================================================
// REQUEST VALIDATION TESTS
// =============================================================================

// TestNewChatRequestDefaults verifies the sampling defaults.
func TestNewChatRequestDefaults(t *testing.T) {
	req := NewChatRequest("gpt-4o", []Message{NewUserMessage("hi")})

	if req.Temperature != DefaultTemperature {
		t.Errorf("Temperature = %v, want %v", req.Temperature, DefaultTemperature)
	}
	if req.TopP != DefaultTopP {
		t.Errorf("TopP = %v, want %v", req.TopP, DefaultTopP)
	}
	if req.Stream {
		t.Error("Stream should default to false")
	}
}

// TestChatRequestValidate covers the unified schema invariants.
func TestChatRequestValidate(t *testing.T) {
	valid := func() *ChatRequest {
		return NewChatRequest("gpt-4o", []Message{NewUserMessage("hi")})
	}

	tests := []struct {
		name    string
		mutate  func(*ChatRequest)
		wantErr bool
	}{
		{"valid", func(r *ChatRequest) {}, false},
		{"empty_model", func(r *ChatRequest) { r.Model = "" }, true},
		{"no_messages", func(r *ChatRequest) { r.Messages = nil }, true},
		{"bad_role", func(r *ChatRequest) { r.Messages[0].Role = "tool" }, true},
		{"empty_content_ok", func(r *ChatRequest) { r.Messages[0].Content = "" }, false},
		{"temperature_low", func(r *ChatRequest) { r.Temperature = -0.1 }, true},
		{"temperature_high", func(r *ChatRequest) { r.Temperature = 2.1 }, true},
		{"temperature_max", func(r *ChatRequest) { r.Temperature = 2.0 }, false},
		{"temperature_zero", func(r *ChatRequest) { r.Temperature = 0 }, false},
		{"top_p_high", func(r *ChatRequest) { r.TopP = 1.5 }, true},
		{"negative_max_tokens", func(r *ChatRequest) { r.MaxTokens = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(req)
			err := req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsValidation(err) {
				t.Errorf("Validate() error type = %T, want validation ClientError", err)
			}
		})
	}
}

// TestChatRequestClone verifies the message slice is not aliased.
func TestChatRequestClone(t *testing.T) {
	req := NewChatRequest("gpt-4o", []Message{NewUserMessage("a")})
	req.Stop = []string{"END"}

	clone := req.Clone()
	clone.Messages[0].Content = "mutated"
	clone.Stop[0] = "STOP"

	if req.Messages[0].Content != "a" {
		t.Error("clone aliases the message slice")
	}
	if req.Stop[0] != "END" {
		t.Error("clone aliases the stop list")
	}
}

// TestChatRequestDeterministic verifies cache eligibility policy.
func TestChatRequestDeterministic(t *testing.T) {
	req := NewChatRequest("gpt-4o", []Message{NewUserMessage("a")})
	if !req.Deterministic() {
		t.Error("plain request should be deterministic")
	}

	streaming := req.Clone()
	streaming.Stream = true
	if streaming.Deterministic() {
		t.Error("streaming request must not be cacheable")
	}

	extra := req.Clone()
	extra.ExtraParams = map[string]any{"seed_jitter": true}
	if extra.Deterministic() {
		t.Error("request with extra params must not be cacheable")
	}
}

// =============================================================================
// USAGE TESTS
// =============================================================================

// TestNewUsageInvariant verifies total = prompt + completion by construction.
func TestNewUsageInvariant(t *testing.T) {
	u := NewUsage(1000, 500)
	if u.TotalTokens != 1500 {
		t.Errorf("TotalTokens = %d, want 1500", u.TotalTokens)
	}
	if u.TotalTokens != u.PromptTokens+u.CompletionTokens {
		t.Error("usage invariant violated")
	}
}

// TestCostBreakdownTotal verifies the itemized sum.
func TestCostBreakdownTotal(t *testing.T) {
	b := &CostBreakdown{Input: 0.005, Output: 0.0075, Reasoning: 0.001}
	if got, want := b.Total(), 0.0135; !almostEqual(got, want) {
		t.Errorf("Total() = %v, want %v", got, want)
	}

	var nilB *CostBreakdown
	if nilB.Total() != 0 {
		t.Error("nil breakdown should total 0")
	}
}

func almostEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}
