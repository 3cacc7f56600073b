// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
)

// ============================================================================
// MODEL METADATA
// ============================================================================

// ModelInfo is one row of the model catalog. Prices are USD per one million
// tokens, matching the unit every provider publishes. CostCacheRead,
// CostCacheWrite, and CostReasoning are zero when the provider does not price
// that token class separately; the cost calculator then folds those tokens
// into the base input/output rate instead of charging them twice.
type ModelInfo struct {
	Provider      string  `toml:"-"`               // owning provider id, e.g. "openai"
	Model         string  `toml:"-"`               // model id as sent on the wire
	ContextWindow int     `toml:"context"`         // max tokens (prompt + completion)
	CostInput     float64 `toml:"cost_input"`      // USD per 1M prompt tokens
	CostOutput    float64 `toml:"cost_output"`     // USD per 1M completion tokens
	CostCacheRead float64 `toml:"cost_cache_read"` // USD per 1M cache-read tokens, 0 = input rate

	CostCacheWrite float64 `toml:"cost_cache_write"` // USD per 1M cache-write tokens, 0 = input rate
	CostReasoning  float64 `toml:"cost_reasoning"`   // USD per 1M reasoning tokens, 0 = output rate

	QualityScore   float64  `toml:"quality"`           // relative capability, 0.0 .. 1.0
	AvgLatencyMs   float64  `toml:"latency_ms"`        // typical full-response latency
	ReasoningModel bool     `toml:"reasoning"`         // emits internal reasoning tokens
	FixedTemp      *float64 `toml:"fixed_temperature"` // non-nil when the API pins temperature
}

// BlendedCostPer1K returns the average of input and output pricing expressed
// in USD per one thousand tokens. Routing constraints and the cost axis of
// hybrid scoring both work in this unit.
func (m ModelInfo) BlendedCostPer1K() float64 {
	return (m.CostInput + m.CostOutput) / 2.0 / 1000.0
}

// Free reports whether the model bills nothing for either token direction
// (local models served by ollama).
func (m ModelInfo) Free() bool {
	return m.CostInput == 0 && m.CostOutput == 0
}

// ============================================================================
// CATALOG
// ============================================================================

// Catalog is an immutable provider -> model -> ModelInfo table. Build one
// with Default or Load and share it freely; it is safe for concurrent reads.
type Catalog struct {
	rows map[string]map[string]ModelInfo
}

// Lookup returns the catalog row for (provider, model). The second return is
// false when either the provider or the model is absent.
func (c *Catalog) Lookup(provider, model string) (ModelInfo, bool) {
	if c == nil {
		return ModelInfo{}, false
	}
	models, ok := c.rows[provider]
	if !ok {
		return ModelInfo{}, false
	}
	info, ok := models[model]
	return info, ok
}

// Providers returns the provider ids present in the catalog, sorted.
func (c *Catalog) Providers() []string {
	names := make([]string, 0, len(c.rows))
	for name := range c.rows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Models returns the model ids known for a provider, sorted. Unknown
// providers yield an empty slice.
func (c *Catalog) Models(provider string) []string {
	models, ok := c.rows[provider]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries returns every row ordered by provider then model. The ordering is
// stable so that routing over the same catalog is deterministic.
func (c *Catalog) Entries() []ModelInfo {
	var out []ModelInfo
	for _, provider := range c.Providers() {
		for _, model := range c.Models(provider) {
			out = append(out, c.rows[provider][model])
		}
	}
	return out
}

// Len returns the total number of model rows.
func (c *Catalog) Len() int {
	n := 0
	for _, models := range c.rows {
		n += len(models)
	}
	return n
}

// ============================================================================
// CONSTRUCTION
// ============================================================================

// New builds a catalog from explicit rows. Rows must carry Provider and
// Model; later duplicates replace earlier ones.
func New(rows []ModelInfo) *Catalog {
	c := &Catalog{rows: make(map[string]map[string]ModelInfo)}
	for _, row := range rows {
		c.put(row)
	}
	return c
}

func (c *Catalog) put(row ModelInfo) {
	models, ok := c.rows[row.Provider]
	if !ok {
		models = make(map[string]ModelInfo)
		c.rows[row.Provider] = models
	}
	models[row.Model] = row
}

// Load returns the default catalog extended by the TOML file at path. Rows in
// the file override built-in rows with the same provider and model; new rows
// are added. A missing file is not an error, the defaults are returned as-is.
//
// File format, one table per model:
//
//	[openai."gpt-4o"]
//	context     = 128000
//	cost_input  = 2.50
//	cost_output = 10.00
//	quality     = 0.89
//	latency_ms  = 1200
func Load(path string) (*Catalog, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var raw map[string]map[string]ModelInfo
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}
	for provider, models := range raw {
		for model, row := range models {
			row.Provider = provider
			row.Model = model
			c.put(row)
		}
	}
	return c, nil
}

// ============================================================================
// BUILT-IN ROWS
// ============================================================================

func fixed(t float64) *float64 { return &t }

// Default returns the built-in catalog. Prices are USD per 1M tokens as
// published by each provider; quality scores are relative rankings on a
// 0..1 scale and only meaningful compared against each other.
func Default() *Catalog {
	return New([]ModelInfo{
		// --- OpenAI ---
		{Provider: "openai", Model: "gpt-4o", ContextWindow: 128000,
			CostInput: 2.50, CostOutput: 10.00, CostCacheRead: 1.25,
			QualityScore: 0.89, AvgLatencyMs: 1200},
		{Provider: "openai", Model: "gpt-4o-mini", ContextWindow: 128000,
			CostInput: 0.15, CostOutput: 0.60, CostCacheRead: 0.075,
			QualityScore: 0.78, AvgLatencyMs: 900},
		{Provider: "openai", Model: "gpt-4.1", ContextWindow: 1047576,
			CostInput: 2.00, CostOutput: 8.00, CostCacheRead: 0.50,
			QualityScore: 0.90, AvgLatencyMs: 1300},
		{Provider: "openai", Model: "gpt-4.1-mini", ContextWindow: 1047576,
			CostInput: 0.40, CostOutput: 1.60, CostCacheRead: 0.10,
			QualityScore: 0.80, AvgLatencyMs: 950},
		{Provider: "openai", Model: "o1", ContextWindow: 200000,
			CostInput: 15.00, CostOutput: 60.00, CostCacheRead: 7.50,
			QualityScore: 0.95, AvgLatencyMs: 8000,
			ReasoningModel: true, FixedTemp: fixed(1.0)},
		{Provider: "openai", Model: "o3-mini", ContextWindow: 200000,
			CostInput: 1.10, CostOutput: 4.40, CostCacheRead: 0.55,
			QualityScore: 0.91, AvgLatencyMs: 4500, ReasoningModel: true},

		// --- Anthropic --- cache writes bill at 1.25x input, reads at 0.1x.
		{Provider: "anthropic", Model: "claude-3-5-sonnet-20241022", ContextWindow: 200000,
			CostInput: 3.00, CostOutput: 15.00, CostCacheRead: 0.30, CostCacheWrite: 3.75,
			QualityScore: 0.91, AvgLatencyMs: 1500},
		{Provider: "anthropic", Model: "claude-3-5-haiku-20241022", ContextWindow: 200000,
			CostInput: 0.80, CostOutput: 4.00, CostCacheRead: 0.08, CostCacheWrite: 1.00,
			QualityScore: 0.82, AvgLatencyMs: 800},
		{Provider: "anthropic", Model: "claude-3-opus-20240229", ContextWindow: 200000,
			CostInput: 15.00, CostOutput: 75.00, CostCacheRead: 1.50, CostCacheWrite: 18.75,
			QualityScore: 0.93, AvgLatencyMs: 2500},

		// --- Google ---
		{Provider: "google", Model: "gemini-1.5-pro", ContextWindow: 2097152,
			CostInput: 1.25, CostOutput: 5.00,
			QualityScore: 0.88, AvgLatencyMs: 1400},
		{Provider: "google", Model: "gemini-1.5-flash", ContextWindow: 1048576,
			CostInput: 0.075, CostOutput: 0.30,
			QualityScore: 0.76, AvgLatencyMs: 600},
		{Provider: "google", Model: "gemini-2.0-flash", ContextWindow: 1048576,
			CostInput: 0.10, CostOutput: 0.40,
			QualityScore: 0.80, AvgLatencyMs: 500},

		// --- DeepSeek ---
		{Provider: "deepseek", Model: "deepseek-chat", ContextWindow: 65536,
			CostInput: 0.27, CostOutput: 1.10, CostCacheRead: 0.07,
			QualityScore: 0.80, AvgLatencyMs: 1100},
		{Provider: "deepseek", Model: "deepseek-reasoner", ContextWindow: 65536,
			CostInput: 0.55, CostOutput: 2.19, CostCacheRead: 0.14,
			QualityScore: 0.88, AvgLatencyMs: 6000, ReasoningModel: true},

		// --- Groq ---
		{Provider: "groq", Model: "llama-3.3-70b-versatile", ContextWindow: 131072,
			CostInput: 0.59, CostOutput: 0.79,
			QualityScore: 0.79, AvgLatencyMs: 300},
		{Provider: "groq", Model: "llama-3.1-8b-instant", ContextWindow: 131072,
			CostInput: 0.05, CostOutput: 0.08,
			QualityScore: 0.65, AvgLatencyMs: 150},
		{Provider: "groq", Model: "gpt-oss-120b", ContextWindow: 131072,
			CostInput: 0.15, CostOutput: 0.75,
			QualityScore: 0.83, AvgLatencyMs: 800, ReasoningModel: true},

		// --- Grok (xAI) ---
		{Provider: "grok", Model: "grok-3", ContextWindow: 131072,
			CostInput: 3.00, CostOutput: 15.00,
			QualityScore: 0.87, AvgLatencyMs: 1600},
		{Provider: "grok", Model: "grok-3-mini", ContextWindow: 131072,
			CostInput: 0.30, CostOutput: 0.50,
			QualityScore: 0.75, AvgLatencyMs: 700, ReasoningModel: true},
		{Provider: "grok", Model: "grok-4", ContextWindow: 262144,
			CostInput: 3.00, CostOutput: 15.00,
			QualityScore: 0.92, AvgLatencyMs: 2200, ReasoningModel: true},

		// --- Ollama --- local inference, no token billing.
		{Provider: "ollama", Model: "llama3.2", ContextWindow: 131072,
			QualityScore: 0.60, AvgLatencyMs: 400},
		{Provider: "ollama", Model: "qwen2.5-coder:14b", ContextWindow: 32768,
			QualityScore: 0.68, AvgLatencyMs: 600},
		{Provider: "ollama", Model: "mistral", ContextWindow: 32768,
			QualityScore: 0.58, AvgLatencyMs: 350},

		// --- OpenRouter --- passthrough pricing for the routed model.
		{Provider: "openrouter", Model: "anthropic/claude-3.5-sonnet", ContextWindow: 200000,
			CostInput: 3.00, CostOutput: 15.00,
			QualityScore: 0.91, AvgLatencyMs: 1800},
		{Provider: "openrouter", Model: "openai/gpt-4o", ContextWindow: 128000,
			CostInput: 2.50, CostOutput: 10.00,
			QualityScore: 0.89, AvgLatencyMs: 1500},
		{Provider: "openrouter", Model: "meta-llama/llama-3.1-70b-instruct", ContextWindow: 131072,
			CostInput: 0.30, CostOutput: 0.40,
			QualityScore: 0.77, AvgLatencyMs: 1000},
	})
}
