// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// USAGE
// =============================================================================

// Usage is the normalized token accounting for one completion.
// Invariant: TotalTokens == PromptTokens + CompletionTokens, all counts >= 0.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// CachedTokens is the portion of prompt tokens served from the
	// provider's prompt cache (OpenAI prompt_tokens_details.cached_tokens).
	CachedTokens int `json:"cached_tokens,omitempty"`

	// CacheCreationTokens / CacheReadTokens are Anthropic's split of
	// cache writes vs reads. Never double-counted into PromptTokens cost.
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_tokens,omitempty"`

	// ReasoningTokens is the hidden reasoning output on o-series models.
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`

	CostUSD       float64        `json:"cost_usd"`
	CostBreakdown *CostBreakdown `json:"cost_breakdown,omitempty"`
}

// NewUsage creates a Usage with the total derived from its parts, keeping
// the total_tokens invariant by construction.
func NewUsage(promptTokens, completionTokens int) Usage {
	return Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}

// CostBreakdown itemizes CostUSD by token class. Classes priced identically
// to their base class stay folded into Input/Output and report zero here.
type CostBreakdown struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cache_read,omitempty"`
	CacheWrite float64 `json:"cache_write,omitempty"`
	Reasoning  float64 `json:"reasoning,omitempty"`
}

// Total sums the itemized classes.
func (b *CostBreakdown) Total() float64 {
	if b == nil {
		return 0
	}
	return b.Input + b.Output + b.CacheRead + b.CacheWrite + b.Reasoning
}

// =============================================================================
// RESPONSE
// =============================================================================

// ChatResponse is the normalized response returned by every provider
// adapter. RawResponse preserves the provider payload for diagnostics only;
// nothing in the engine reads it.
type ChatResponse struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	Content      string    `json:"content"`
	FinishReason string    `json:"finish_reason"`
	Usage        Usage     `json:"usage"`
	Provider     string    `json:"provider"`
	CreatedAt    time.Time `json:"created_at"`

	// LatencyMs is wall-clock time for the provider call, measured by the
	// adapter. Zero when unknown (e.g. cache hits keep the original value).
	LatencyMs float64 `json:"latency_ms,omitempty"`

	RawResponse map[string]any `json:"raw_response,omitempty"`
}

// NewResponseID generates an ID for providers whose API does not return one.
func NewResponseID() string {
	return "chatcmpl-" + uuid.New().String()
}

// Clone returns a copy safe to hand to a second caller. Usage is a value;
// RawResponse stays shared because it is read-only diagnostic data.
func (r *ChatResponse) Clone() *ChatResponse {
	out := *r
	return &out
}

// =============================================================================
// STREAMING
// =============================================================================

// StreamChunk is one partial response on the streaming path. Chunks arrive
// in order; the final chunk has Done set and carries the usage totals when
// the provider reports them.
type StreamChunk struct {
	ID           string `json:"id,omitempty"`
	Model        string `json:"model,omitempty"`
	Delta        string `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
	Done         bool   `json:"done"`
	Usage        *Usage `json:"usage,omitempty"`
}

// StreamFunc receives chunks as they arrive. Returning a non-nil error
// stops the stream; the adapter must then release its upstream resources.
type StreamFunc func(chunk StreamChunk) error

// StreamAccumulator assembles a full ChatResponse from a chunk sequence.
type StreamAccumulator struct {
	// PERFORMANCE: strings.Builder avoids quadratic concatenation
	content strings.Builder

	id           string
	model        string
	finishReason string
	usage        *Usage

	startTime  time.Time
	firstToken time.Time
	chunkCount int
}

// NewStreamAccumulator creates an accumulator anchored at now.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{startTime: time.Now()}
}

// Add folds one chunk into the accumulator.
func (a *StreamAccumulator) Add(chunk StreamChunk) {
	if a.chunkCount == 0 && chunk.Delta != "" {
		a.firstToken = time.Now()
	}
	a.chunkCount++
	a.content.WriteString(chunk.Delta)

	if chunk.ID != "" {
		a.id = chunk.ID
	}
	if chunk.Model != "" {
		a.model = chunk.Model
	}
	if chunk.FinishReason != "" {
		a.finishReason = chunk.FinishReason
	}
	if chunk.Usage != nil {
		a.usage = chunk.Usage
	}
}

// Content returns the text assembled so far.
func (a *StreamAccumulator) Content() string {
	return a.content.String()
}

// TTFT returns the time to first token, or zero if no token arrived.
func (a *StreamAccumulator) TTFT() time.Duration {
	if a.firstToken.IsZero() {
		return 0
	}
	return a.firstToken.Sub(a.startTime)
}

// Response materializes the accumulated stream as a ChatResponse.
func (a *StreamAccumulator) Response(provider string) *ChatResponse {
	resp := &ChatResponse{
		ID:           a.id,
		Model:        a.model,
		Content:      a.content.String(),
		FinishReason: a.finishReason,
		Provider:     provider,
		CreatedAt:    time.Now(),
		LatencyMs:    float64(time.Since(a.startTime).Milliseconds()),
	}
	if resp.ID == "" {
		resp.ID = NewResponseID()
	}
	if a.usage != nil {
		resp.Usage = *a.usage
	}
	return resp
}
