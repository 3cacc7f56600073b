// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestLookup(t *testing.T) {
	cat := Default()

	tests := []struct {
		name     string
		provider string
		model    string
		wantOK   bool
	}{
		{"known model", "openai", "gpt-4o", true},
		{"known reasoning model", "deepseek", "deepseek-reasoner", true},
		{"unknown model", "openai", "gpt-99", false},
		{"unknown provider", "nonexistent", "gpt-4o", false},
		{"empty provider", "", "gpt-4o", false},
		{"empty model", "openai", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, ok := cat.Lookup(tt.provider, tt.model)
			if ok != tt.wantOK {
				t.Fatalf("Lookup(%q, %q) ok = %v, want %v", tt.provider, tt.model, ok, tt.wantOK)
			}
			if !ok && (info.CostInput != 0 || info.QualityScore != 0) {
				t.Errorf("miss should return zero ModelInfo, got %+v", info)
			}
			if ok && (info.Provider != tt.provider || info.Model != tt.model) {
				t.Errorf("row identity = %s/%s, want %s/%s", info.Provider, info.Model, tt.provider, tt.model)
			}
		})
	}
}

func TestLookupNilCatalog(t *testing.T) {
	var cat *Catalog
	if _, ok := cat.Lookup("openai", "gpt-4o"); ok {
		t.Error("nil catalog should miss every lookup")
	}
}

func TestDefaultCoversAllProviders(t *testing.T) {
	want := []string{"anthropic", "deepseek", "google", "grok", "groq", "ollama", "openai", "openrouter"}
	got := Default().Providers()
	if len(got) != len(want) {
		t.Fatalf("Providers() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Providers()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEntriesDeterministic(t *testing.T) {
	cat := Default()
	first := cat.Entries()
	if len(first) != cat.Len() {
		t.Fatalf("Entries() len = %d, Len() = %d", len(first), cat.Len())
	}
	if !sort.SliceIsSorted(first, func(i, j int) bool {
		if first[i].Provider != first[j].Provider {
			return first[i].Provider < first[j].Provider
		}
		return first[i].Model < first[j].Model
	}) {
		t.Error("Entries() not sorted by provider then model")
	}
	second := cat.Entries()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("Entries() unstable at %d: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestBlendedCostPer1K(t *testing.T) {
	// 2.50 in + 10.00 out per 1M averages to 6.25 per 1M = 0.00625 per 1K.
	info, ok := Default().Lookup("openai", "gpt-4o")
	if !ok {
		t.Fatal("gpt-4o missing from default catalog")
	}
	got := info.BlendedCostPer1K()
	if diff := got - 0.00625; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("BlendedCostPer1K() = %v, want 0.00625", got)
	}
}

func TestFreeModels(t *testing.T) {
	cat := Default()
	for _, model := range cat.Models("ollama") {
		info, _ := cat.Lookup("ollama", model)
		if !info.Free() {
			t.Errorf("ollama/%s should be free, got in=%v out=%v", model, info.CostInput, info.CostOutput)
		}
	}
	info, _ := cat.Lookup("anthropic", "claude-3-5-sonnet-20241022")
	if info.Free() {
		t.Error("claude-3-5-sonnet should not be free")
	}
}

func TestFixedTemperatureRow(t *testing.T) {
	info, ok := Default().Lookup("openai", "o1")
	if !ok {
		t.Fatal("o1 missing from default catalog")
	}
	if info.FixedTemp == nil {
		t.Fatal("o1 should carry a fixed temperature")
	}
	if *info.FixedTemp != 1.0 {
		t.Errorf("o1 fixed temperature = %v, want 1.0", *info.FixedTemp)
	}
	if !info.ReasoningModel {
		t.Error("o1 should be flagged as a reasoning model")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cat, err := Load(filepath.Join(t.TempDir(), "no-such-catalog.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cat.Len() != Default().Len() {
		t.Errorf("missing file should yield defaults: len = %d, want %d", cat.Len(), Default().Len())
	}
}

func TestLoadOverridesAndExtends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.toml")
	content := `
[openai."gpt-4o"]
context     = 128000
cost_input  = 1.00
cost_output = 4.00
quality     = 0.85
latency_ms  = 1000

[acme."frontier-1"]
context     = 32768
cost_input  = 9.00
cost_output = 27.00
quality     = 0.99
latency_ms  = 3000
reasoning   = true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cat, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	overridden, ok := cat.Lookup("openai", "gpt-4o")
	if !ok {
		t.Fatal("overridden row missing")
	}
	if overridden.CostInput != 1.00 || overridden.QualityScore != 0.85 {
		t.Errorf("override not applied: %+v", overridden)
	}

	added, ok := cat.Lookup("acme", "frontier-1")
	if !ok {
		t.Fatal("new provider row missing")
	}
	if !added.ReasoningModel || added.ContextWindow != 32768 {
		t.Errorf("added row wrong: %+v", added)
	}
	if added.Provider != "acme" || added.Model != "frontier-1" {
		t.Errorf("added row identity = %s/%s", added.Provider, added.Model)
	}

	// Untouched built-in rows survive the merge.
	if _, ok := cat.Lookup("groq", "llama-3.3-70b-versatile"); !ok {
		t.Error("built-in groq row lost during merge")
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.toml")
	if err := os.WriteFile(path, []byte("not [valid toml"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() should fail on malformed TOML")
	}
}
