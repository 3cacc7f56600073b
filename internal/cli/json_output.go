// json_output.go - JSON output support for scripting integration.
//
// Provides a standardized JSON envelope for all CLI commands so shell
// pipelines and log collectors get one machine-parseable shape.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// JSONResponse is the standardized response format for all CLI commands.
type JSONResponse struct {
	// Success indicates whether the command completed successfully
	Success bool `json:"success"`

	// Data contains the command-specific response data
	Data interface{} `json:"data"`

	// Error contains the error message if Success is false, null otherwise
	Error *string `json:"error"`

	// Timestamp is the ISO8601 timestamp when the response was generated
	Timestamp string `json:"timestamp"`

	// Command is the command that was executed
	Command string `json:"command,omitempty"`
}

// NewJSONResponse creates a new successful JSON response.
func NewJSONResponse(command string, data interface{}) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Error:     nil,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates a new error JSON response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	errStr := err.Error()
	return &JSONResponse{
		Success:   false,
		Data:      nil,
		Error:     &errStr,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Print outputs the JSON response to stdout.
// Human-readable messages should go to stderr when JSON mode is enabled.
func (r *JSONResponse) Print() error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// PrintCompact outputs the JSON response without indentation.
// Useful for piping to other tools or log aggregation.
func (r *JSONResponse) PrintCompact() error {
	return json.NewEncoder(os.Stdout).Encode(r)
}

// String returns the JSON response as a string.
func (r *JSONResponse) String() string {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":"failed to marshal response: %s","timestamp":"%s"}`,
			err.Error(), time.Now().UTC().Format(time.RFC3339))
	}
	return string(data)
}

// =============================================================================
// COMMAND-SPECIFIC DATA STRUCTURES
// =============================================================================

// VersionData represents the data returned by the version command.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

// AskData represents the data returned by the ask command.
type AskData struct {
	Response     string  `json:"response"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	DurationMs   int64   `json:"duration_ms"`
	CacheHit     bool    `json:"cache_hit"`
	Strategy     string  `json:"strategy,omitempty"`
	Complexity   float64 `json:"complexity,omitempty"`
}

// RouteData represents the data returned by the route command.
type RouteData struct {
	Provider   string  `json:"provider"`
	Model      string  `json:"model"`
	Strategy   string  `json:"strategy"`
	Complexity float64 `json:"complexity"`
	Score      float64 `json:"score"`
	CostPer1K  float64 `json:"cost_per_1k_usd"`
	Candidates int     `json:"candidates"`
	Reason     string  `json:"reason,omitempty"`
}

// ModelData represents one catalog entry in models command output.
type ModelData struct {
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	ContextWindow int     `json:"context_window"`
	CostInput     float64 `json:"cost_input_per_1m_usd"`
	CostOutput    float64 `json:"cost_output_per_1m_usd"`
	Quality       float64 `json:"quality"`
	LatencyMs     float64 `json:"latency_ms"`
	Reasoning     bool    `json:"reasoning"`
}

// ProviderData represents one provider's status in providers command output.
type ProviderData struct {
	Name      string `json:"name"`
	KeySource string `json:"key_source"`
	Model     string `json:"model"`
	BaseURL   string `json:"base_url,omitempty"`
	Ready     bool   `json:"ready"`
}

// TotalsData is one usage rollup in cost command output.
type TotalsData struct {
	Requests    int     `json:"requests"`
	TotalTokens int     `json:"total_tokens"`
	CostUSD     float64 `json:"cost_usd"`
	CacheHits   int     `json:"cache_hits"`
}

// GroupTotalsData is TotalsData keyed by provider or model.
type GroupTotalsData struct {
	Key string `json:"key"`
	TotalsData
}

// CostData represents the data returned by the cost command.
type CostData struct {
	Session  TotalsData `json:"session"`
	Today    TotalsData `json:"today"`
	Lifetime TotalsData `json:"lifetime"`

	DailyBudgetUSD float64 `json:"daily_budget_usd,omitempty"`
	TotalBudgetUSD float64 `json:"total_budget_usd,omitempty"`
}

// CacheStatsData represents the data returned by the cache stats command.
type CacheStatsData struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	TTLSecs int     `json:"ttl_secs"`
}
