// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reasoning decides whether a model is a reasoning model and what
// sampling temperature to actually send. Reasoning APIs reject or ignore
// caller temperatures, so the policy pins them to 1.0.
//
// Classification has one source of truth. A catalog row that sets the
// reasoning flag is authoritative; rows without it, and models the
// catalog has never heard of, fall back to the per-provider name
// patterns below. Every path that cares (request fix-up, streaming,
// router scoring) calls into this package, so no two call sites can
// disagree about the same (provider, model) pair.
package reasoning

import (
	"strings"

	"github.com/Bytes0211/stratifyai/internal/catalog"
	"github.com/Bytes0211/stratifyai/internal/llm"
)

// ReasoningTemperature is what reasoning APIs require regardless of the
// caller's request.
const ReasoningTemperature = 1.0

// ============================================================================
// NAME PATTERNS
// ============================================================================

// rule describes how one provider names its reasoning models.
type rule struct {
	prefixes []string // model name starts with any of these
	contains []string // model name contains any of these
	oSeries  bool     // bare "o" + digit families: o1, o3-mini, o4...
}

// rules is keyed by provider id. OpenRouter and DeepSeek expose
// OpenAI-compatible naming, so they share the OpenAI shapes.
var rules = map[string]rule{
	"openai":     {prefixes: []string{"gpt-5"}, contains: []string{"reasoner", "reasoning"}, oSeries: true},
	"deepseek":   {contains: []string{"reasoner", "reasoning"}, oSeries: true},
	"openrouter": {prefixes: []string{"gpt-5"}, contains: []string{"reasoner", "reasoning"}, oSeries: true},
	"grok":       {prefixes: []string{"grok-4", "grok-3-mini", "grok-code"}, contains: []string{"reasoning"}},
	"groq":       {contains: []string{"reasoning", "gpt-oss"}},
}

// MatchesPattern reports whether the model name alone marks (provider,
// model) as a reasoning model. Case-insensitive; OpenRouter-style
// "vendor/model" ids are matched on the part after the slash too.
func MatchesPattern(provider, model string) bool {
	r, ok := rules[strings.ToLower(provider)]
	if !ok {
		return false
	}
	name := strings.ToLower(model)
	if matchRule(r, name) {
		return true
	}
	if _, bare, found := strings.Cut(name, "/"); found {
		return matchRule(r, bare)
	}
	return false
}

func matchRule(r rule, name string) bool {
	for _, p := range r.prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	for _, c := range r.contains {
		if strings.Contains(name, c) {
			return true
		}
	}
	if r.oSeries && len(name) >= 2 && name[0] == 'o' && name[1] >= '0' && name[1] <= '9' {
		return true
	}
	return false
}

// ============================================================================
// POLICY
// ============================================================================

// IsReasoningModel classifies (provider, model). A set catalog flag is
// authoritative; otherwise the name patterns decide, even when a row
// exists. A user catalog row that only overrides pricing therefore never
// declassifies an o-series model by leaving the flag out.
func IsReasoningModel(cat *catalog.Catalog, provider, model string) bool {
	if info, ok := cat.Lookup(provider, model); ok && info.ReasoningModel {
		return true
	}
	return MatchesPattern(provider, model)
}

// EffectiveTemperature resolves the temperature to send upstream:
//
//  1. a fixed temperature declared on the catalog row wins outright
//  2. reasoning models always get ReasoningTemperature
//  3. otherwise the requested value is honored, with negative meaning
//     "unset" and falling back to the default
//
// Zero is a valid explicit request (greedy sampling) and is passed through.
func EffectiveTemperature(cat *catalog.Catalog, provider, model string, requested float64) float64 {
	if info, ok := cat.Lookup(provider, model); ok && info.FixedTemp != nil {
		return *info.FixedTemp
	}
	if IsReasoningModel(cat, provider, model) {
		return ReasoningTemperature
	}
	if requested < 0 {
		return llm.DefaultTemperature
	}
	return requested
}
