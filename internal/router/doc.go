// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router selects the (provider, model) pair for a conversation.
//
// Routing is a pure function of the catalog, the configured strategy, the
// conversation, and the call's constraints: identical inputs always pick the
// identical model, which keeps routed responses cacheable and routing
// decisions testable.
//
// Selection pipeline:
//
//	catalog entries -> drop excluded providers -> apply cost/latency caps
//	-> score remaining candidates per strategy -> pick max, total-order ties
//
// # Key Types
//
//   - Router: Stateless selector configured with a strategy and exclusions
//   - Strategy: Optimization objective (cost, quality, latency, hybrid)
//   - Constraint: Per-call hard limits and extra provider exclusions
//   - Decision: Chosen pair plus the complexity score and reasoning
//
// # Usage
//
//	r := router.New(catalog.Default(), router.StrategyHybrid, "ollama")
//	decision, err := r.Route(messages, router.Constraint{MaxLatencyMs: 2000})
//	if err != nil {
//	    // llm.IsNoEligibleModel(err): constraints left zero candidates
//	}
//	fmt.Println(decision.Provider, decision.Model, decision.Reason)
//
// # Complexity
//
// The hybrid strategy weights quality against cost using a [0,1] complexity
// score computed from the conversation (length, turns, code content, lexical
// diversity). Harder conversations bias selection toward quality, easier
// ones toward cost. ScoreComplexity is exported so the same number the
// router used can be surfaced for observability.
package router
