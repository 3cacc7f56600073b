// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Bytes0211/stratifyai/internal/catalog"
	"github.com/Bytes0211/stratifyai/internal/llm"
)

// ============================================================================
// STRATEGY
// ============================================================================

// Strategy is the objective the router optimizes when picking a model.
type Strategy int

const (
	// StrategyCost picks the cheapest eligible model.
	StrategyCost Strategy = iota
	// StrategyQuality picks the highest quality score.
	StrategyQuality
	// StrategyLatency picks the fastest typical response.
	StrategyLatency
	// StrategyHybrid balances quality against cost, weighted by how hard
	// the conversation looks, with a small penalty for slow models.
	StrategyHybrid
)

// String returns the lowercase strategy name.
func (s Strategy) String() string {
	switch s {
	case StrategyCost:
		return "cost"
	case StrategyQuality:
		return "quality"
	case StrategyLatency:
		return "latency"
	case StrategyHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// ParseStrategy converts a user-supplied name into a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cost":
		return StrategyCost, nil
	case "quality":
		return StrategyQuality, nil
	case "latency":
		return StrategyLatency, nil
	case "hybrid", "":
		return StrategyHybrid, nil
	default:
		return StrategyHybrid, llm.NewValidationError(
			fmt.Sprintf("unknown routing strategy %q (want cost, quality, latency, or hybrid)", name))
	}
}

// ============================================================================
// CONSTRAINTS
// ============================================================================

// Constraint holds the per-call hard limits. Zero values mean "no limit".
type Constraint struct {
	MaxCostPer1K     float64  // USD per 1K tokens, blended input/output
	MaxLatencyMs     float64  // typical full-response latency ceiling
	ExcludeProviders []string // dropped before any scoring
}

// ============================================================================
// ROUTER
// ============================================================================

// Hybrid scoring weights. The quality weight rises and the cost weight
// falls linearly with conversation complexity; latency keeps a small fixed
// weight. At every complexity the three weights stay positive.
const (
	hybridQualityBase  = 0.40
	hybridQualitySlope = 0.50
	hybridCostBase     = 0.55
	hybridCostSlope    = 0.50
	hybridLatencyWt    = 0.05
)

// Router picks models from a read-only catalog. It holds no mutable state
// and is safe for concurrent use.
type Router struct {
	cat      *catalog.Catalog
	strategy Strategy
	exclude  map[string]bool
}

// New builds a Router over a catalog. Providers named in exclude are never
// considered, on top of any per-call exclusions.
func New(cat *catalog.Catalog, strategy Strategy, exclude ...string) *Router {
	r := &Router{
		cat:      cat,
		strategy: strategy,
		exclude:  make(map[string]bool, len(exclude)),
	}
	for _, p := range exclude {
		r.exclude[strings.ToLower(p)] = true
	}
	return r
}

// Strategy returns the configured optimization objective.
func (r *Router) Strategy() Strategy {
	return r.strategy
}

// ModelInfo exposes the underlying catalog row for observability.
func (r *Router) ModelInfo(provider, model string) (catalog.ModelInfo, bool) {
	return r.cat.Lookup(provider, model)
}

// Decision is the outcome of one routing call.
type Decision struct {
	Provider   string  // chosen provider id
	Model      string  // chosen model id
	Strategy   Strategy
	Complexity float64 // conversation score the strategy used
	Score      float64 // winning candidate's strategy score
	CostPer1K  float64 // blended price of the chosen model
	Candidates int     // how many models survived filtering
	Reason     string  // human-readable summary for logs and UI
}

// candidate pairs a catalog row with its normalized axes and score.
type candidate struct {
	info        catalog.ModelInfo
	costPer1K   float64
	normCost    float64
	normLatency float64
	score       float64
}

// Route picks a (provider, model) for the conversation under the given
// constraints. It fails with a no-eligible-model error as soon as any
// filtering stage leaves zero candidates.
func (r *Router) Route(messages []llm.Message, c Constraint) (Decision, error) {
	// Stage 1: provider exclusions.
	excluded := make(map[string]bool, len(r.exclude)+len(c.ExcludeProviders))
	for p := range r.exclude {
		excluded[p] = true
	}
	for _, p := range c.ExcludeProviders {
		excluded[strings.ToLower(p)] = true
	}

	var pool []candidate
	for _, info := range r.cat.Entries() {
		if excluded[info.Provider] {
			continue
		}
		pool = append(pool, candidate{info: info, costPer1K: info.BlendedCostPer1K()})
	}
	if len(pool) == 0 {
		return Decision{}, llm.NewNoEligibleModelError("every catalog provider is excluded")
	}

	// Stage 2: hard constraints.
	filtered := pool[:0]
	for _, cand := range pool {
		if c.MaxCostPer1K > 0 && cand.costPer1K > c.MaxCostPer1K {
			continue
		}
		if c.MaxLatencyMs > 0 && cand.info.AvgLatencyMs > c.MaxLatencyMs {
			continue
		}
		filtered = append(filtered, cand)
	}
	if len(filtered) == 0 {
		return Decision{}, llm.NewNoEligibleModelError(fmt.Sprintf(
			"no model within max_cost_per_1k=%.4f max_latency_ms=%.0f",
			c.MaxCostPer1K, c.MaxLatencyMs))
	}

	// Stage 3: conversation complexity.
	complexity := ScoreComplexity(messages)

	// Stage 4: normalize cost and latency over the surviving set, then
	// score. Min-max normalization keeps the hybrid weights meaningful
	// whatever the absolute prices in the catalog are.
	normalizeCandidates(filtered)
	for i := range filtered {
		filtered[i].score = r.scoreCandidate(filtered[i], complexity)
	}

	// Stage 5: max score, ties broken by cheaper model, then provider
	// name, then model name. A total order, so routing is deterministic.
	sort.Slice(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.costPer1K != b.costPer1K {
			return a.costPer1K < b.costPer1K
		}
		if a.info.Provider != b.info.Provider {
			return a.info.Provider < b.info.Provider
		}
		return a.info.Model < b.info.Model
	})

	winner := filtered[0]
	return Decision{
		Provider:   winner.info.Provider,
		Model:      winner.info.Model,
		Strategy:   r.strategy,
		Complexity: complexity,
		Score:      winner.score,
		CostPer1K:  winner.costPer1K,
		Candidates: len(filtered),
		Reason: fmt.Sprintf("%s strategy over %d candidates (complexity %.2f) -> %s/%s ($%.4f/1K, quality %.2f, %dms)",
			r.strategy, len(filtered), complexity,
			winner.info.Provider, winner.info.Model,
			winner.costPer1K, winner.info.QualityScore, int(winner.info.AvgLatencyMs)),
	}, nil
}

// normalizeCandidates fills normCost and normLatency with min-max values
// over the candidate set. When every candidate shares the same value the
// axis carries no information and normalizes to 0 for all of them.
func normalizeCandidates(cands []candidate) {
	minCost, maxCost := cands[0].costPer1K, cands[0].costPer1K
	minLat, maxLat := cands[0].info.AvgLatencyMs, cands[0].info.AvgLatencyMs
	for _, c := range cands[1:] {
		if c.costPer1K < minCost {
			minCost = c.costPer1K
		}
		if c.costPer1K > maxCost {
			maxCost = c.costPer1K
		}
		if c.info.AvgLatencyMs < minLat {
			minLat = c.info.AvgLatencyMs
		}
		if c.info.AvgLatencyMs > maxLat {
			maxLat = c.info.AvgLatencyMs
		}
	}
	costSpan := maxCost - minCost
	latSpan := maxLat - minLat
	for i := range cands {
		if costSpan > 0 {
			cands[i].normCost = (cands[i].costPer1K - minCost) / costSpan
		}
		if latSpan > 0 {
			cands[i].normLatency = (cands[i].info.AvgLatencyMs - minLat) / latSpan
		}
	}
}

// scoreCandidate applies the configured strategy. Higher is better.
func (r *Router) scoreCandidate(c candidate, complexity float64) float64 {
	switch r.strategy {
	case StrategyCost:
		return -c.normCost
	case StrategyQuality:
		return c.info.QualityScore
	case StrategyLatency:
		return -c.normLatency
	case StrategyHybrid:
		wq := hybridQualityBase + hybridQualitySlope*complexity
		wc := hybridCostBase - hybridCostSlope*complexity
		return wq*c.info.QualityScore - wc*c.normCost - hybridLatencyWt*c.normLatency
	default:
		return 0
	}
}
