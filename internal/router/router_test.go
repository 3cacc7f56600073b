// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"strings"
	"testing"

	"github.com/Bytes0211/stratifyai/internal/catalog"
	"github.com/Bytes0211/stratifyai/internal/llm"
)

// testCatalog builds a small catalog with a known price/quality/latency
// spread: cheap-and-weak, middle, expensive-and-strong.
func testCatalog() *catalog.Catalog {
	return catalog.New([]catalog.ModelInfo{
		{Provider: "alpha", Model: "small", ContextWindow: 32768,
			CostInput: 0.10, CostOutput: 0.30, QualityScore: 0.60, AvgLatencyMs: 200},
		{Provider: "beta", Model: "medium", ContextWindow: 128000,
			CostInput: 1.00, CostOutput: 3.00, QualityScore: 0.80, AvgLatencyMs: 900},
		{Provider: "gamma", Model: "large", ContextWindow: 200000,
			CostInput: 10.00, CostOutput: 30.00, QualityScore: 0.95, AvgLatencyMs: 2400},
	})
}

func simpleConversation() []llm.Message {
	return []llm.Message{llm.NewUserMessage("hi")}
}

// hardConversation scores above 0.8 on the complexity scale.
func hardConversation(t *testing.T) []llm.Message {
	t.Helper()
	var msgs []llm.Message
	for i := 0; i < 20; i++ {
		msgs = append(msgs, llm.NewUserMessage(hardTurn(i)))
	}
	if score := ScoreComplexity(msgs); score <= 0.8 {
		t.Fatalf("fixture not hard enough: complexity %v", score)
	}
	return msgs
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"cost", StrategyCost, false},
		{"quality", StrategyQuality, false},
		{"latency", StrategyLatency, false},
		{"hybrid", StrategyHybrid, false},
		{"HYBRID", StrategyHybrid, false},
		{" cost ", StrategyCost, false},
		{"", StrategyHybrid, false},
		{"cheapest", StrategyHybrid, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStrategy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStrategy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				if !llm.IsValidation(err) {
					t.Errorf("want validation error, got %v", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ParseStrategy(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRouteStrategies(t *testing.T) {
	msgs := simpleConversation()
	tests := []struct {
		name         string
		strategy     Strategy
		wantProvider string
		wantModel    string
	}{
		{"cost picks cheapest", StrategyCost, "alpha", "small"},
		{"quality picks strongest", StrategyQuality, "gamma", "large"},
		{"latency picks fastest", StrategyLatency, "alpha", "small"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(testCatalog(), tt.strategy)
			d, err := r.Route(msgs, Constraint{})
			if err != nil {
				t.Fatalf("Route() error = %v", err)
			}
			if d.Provider != tt.wantProvider || d.Model != tt.wantModel {
				t.Errorf("Route() = %s/%s, want %s/%s", d.Provider, d.Model, tt.wantProvider, tt.wantModel)
			}
			if d.Candidates != 3 {
				t.Errorf("Candidates = %d, want 3", d.Candidates)
			}
		})
	}
}

func TestRouteDeterministic(t *testing.T) {
	r := New(catalog.Default(), StrategyHybrid, "ollama")
	msgs := []llm.Message{
		llm.NewSystemMessage("You translate legal prose into plain language."),
		llm.NewUserMessage("Summarize the indemnification clause in this contract."),
	}
	c := Constraint{MaxLatencyMs: 3000}

	first, err := r.Route(msgs, c)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	for i := 0; i < 25; i++ {
		again, err := r.Route(msgs, c)
		if err != nil {
			t.Fatalf("run %d: Route() error = %v", i, err)
		}
		if again.Provider != first.Provider || again.Model != first.Model {
			t.Fatalf("run %d: %s/%s != %s/%s", i, again.Provider, again.Model, first.Provider, first.Model)
		}
	}
}

func TestRouteConstraintSatisfaction(t *testing.T) {
	r := New(catalog.Default(), StrategyQuality)

	const maxCost = 0.003 // USD per 1K
	d, err := r.Route(simpleConversation(), Constraint{MaxCostPer1K: maxCost})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if d.CostPer1K > maxCost {
		t.Errorf("chosen model costs %v per 1K, over the %v cap", d.CostPer1K, maxCost)
	}

	d, err = r.Route(simpleConversation(), Constraint{MaxLatencyMs: 700})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	info, ok := r.ModelInfo(d.Provider, d.Model)
	if !ok {
		t.Fatalf("chosen model %s/%s missing from catalog", d.Provider, d.Model)
	}
	if info.AvgLatencyMs > 700 {
		t.Errorf("chosen model latency %v over the 700ms cap", info.AvgLatencyMs)
	}
}

func TestRouteNoEligibleModel(t *testing.T) {
	tests := []struct {
		name       string
		router     *Router
		constraint Constraint
	}{
		{
			"all providers excluded at construction",
			New(testCatalog(), StrategyCost, "alpha", "beta", "gamma"),
			Constraint{},
		},
		{
			"call exclusions finish the job",
			New(testCatalog(), StrategyCost, "alpha"),
			Constraint{ExcludeProviders: []string{"beta", "gamma"}},
		},
		{
			"cost cap below every model",
			New(testCatalog(), StrategyCost),
			Constraint{MaxCostPer1K: 0.00001},
		},
		{
			"latency cap below every model",
			New(testCatalog(), StrategyLatency),
			Constraint{MaxLatencyMs: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.router.Route(simpleConversation(), tt.constraint)
			if err == nil {
				t.Fatal("Route() should fail with zero candidates")
			}
			if !llm.IsNoEligibleModel(err) {
				t.Errorf("want no-eligible-model error, got %v", err)
			}
		})
	}
}

func TestRouteExclusionCaseInsensitive(t *testing.T) {
	r := New(testCatalog(), StrategyCost, "ALPHA")
	d, err := r.Route(simpleConversation(), Constraint{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if d.Provider == "alpha" {
		t.Error("excluded provider still selected")
	}
}

// Hybrid must pick the strong model for hard conversations and the cheap
// model for trivial ones, given one expensive/high-quality candidate and
// one cheap/low-quality candidate.
func TestRouteHybridComplexityBias(t *testing.T) {
	// Model A: quality 0.90, $0.02 per 1K blended, 800ms.
	// Model B: quality 0.60, $0.002 per 1K blended, 200ms.
	cat := catalog.New([]catalog.ModelInfo{
		{Provider: "prime", Model: "a", CostInput: 20.0, CostOutput: 20.0,
			QualityScore: 0.90, AvgLatencyMs: 800},
		{Provider: "budget", Model: "b", CostInput: 2.0, CostOutput: 2.0,
			QualityScore: 0.60, AvgLatencyMs: 200},
	})
	r := New(cat, StrategyHybrid)

	hard := hardConversation(t)
	d, err := r.Route(hard, Constraint{})
	if err != nil {
		t.Fatalf("Route(hard) error = %v", err)
	}
	if d.Provider != "prime" {
		t.Errorf("hard conversation routed to %s/%s, want prime/a (complexity %v)", d.Provider, d.Model, d.Complexity)
	}

	easy := simpleConversation()
	if score := ScoreComplexity(easy); score >= 0.2 {
		t.Fatalf("fixture not easy enough: complexity %v", score)
	}
	d, err = r.Route(easy, Constraint{})
	if err != nil {
		t.Fatalf("Route(easy) error = %v", err)
	}
	if d.Provider != "budget" {
		t.Errorf("easy conversation routed to %s/%s, want budget/b (complexity %v)", d.Provider, d.Model, d.Complexity)
	}
}

func TestRouteTieBreak(t *testing.T) {
	// Identical quality everywhere: quality strategy scores tie and the
	// cheaper model must win; among equal prices, lexical order decides.
	cat := catalog.New([]catalog.ModelInfo{
		{Provider: "zeta", Model: "m1", CostInput: 1.0, CostOutput: 1.0, QualityScore: 0.5, AvgLatencyMs: 100},
		{Provider: "eta", Model: "m2", CostInput: 4.0, CostOutput: 4.0, QualityScore: 0.5, AvgLatencyMs: 100},
		{Provider: "theta", Model: "m3", CostInput: 1.0, CostOutput: 1.0, QualityScore: 0.5, AvgLatencyMs: 100},
	})
	r := New(cat, StrategyQuality)
	d, err := r.Route(simpleConversation(), Constraint{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	// zeta/m1 and theta/m3 tie on cost; "theta" < "zeta".
	if d.Provider != "theta" || d.Model != "m3" {
		t.Errorf("tie broke to %s/%s, want theta/m3", d.Provider, d.Model)
	}
}

func TestRouteDecisionFields(t *testing.T) {
	r := New(testCatalog(), StrategyHybrid)
	d, err := r.Route(simpleConversation(), Constraint{})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if d.Strategy != StrategyHybrid {
		t.Errorf("Strategy = %v, want hybrid", d.Strategy)
	}
	if d.Complexity < 0 || d.Complexity > 1 {
		t.Errorf("Complexity = %v, out of [0,1]", d.Complexity)
	}
	if !strings.Contains(d.Reason, "hybrid") || !strings.Contains(d.Reason, d.Provider) {
		t.Errorf("Reason %q should mention the strategy and chosen provider", d.Reason)
	}
}

func TestModelInfoProjection(t *testing.T) {
	r := New(testCatalog(), StrategyCost)
	info, ok := r.ModelInfo("beta", "medium")
	if !ok {
		t.Fatal("ModelInfo() missed a catalog row")
	}
	if info.QualityScore != 0.80 {
		t.Errorf("QualityScore = %v, want 0.80", info.QualityScore)
	}
	if _, ok := r.ModelInfo("beta", "nonexistent"); ok {
		t.Error("ModelInfo() should miss unknown models")
	}
}

func BenchmarkRouteHybrid(b *testing.B) {
	r := New(catalog.Default(), StrategyHybrid, "ollama")
	msgs := []llm.Message{
		llm.NewSystemMessage("You are a database migration assistant."),
		llm.NewUserMessage("Plan a zero-downtime schema change for a 2TB table."),
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.Route(msgs, Constraint{}); err != nil {
			b.Fatal(err)
		}
	}
}
