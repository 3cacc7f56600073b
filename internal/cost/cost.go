// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cost turns normalized token usage into USD amounts using catalog
// pricing. Costs are computed, never fetched: the same usage and the same
// catalog always produce the same number.
//
// Token classes that the catalog prices separately (cache reads, cache
// writes, reasoning output) are carved out of their base class before the
// base rate is applied, so no token is ever billed twice. A model without a
// catalog row is charged zero rather than failing the request; pricing
// gaps must not break chat.
package cost

import (
	"github.com/Bytes0211/stratifyai/internal/catalog"
	"github.com/Bytes0211/stratifyai/internal/llm"
)

// perMillion converts a token count and a USD-per-1M rate into USD.
func perMillion(tokens int, rate float64) float64 {
	return float64(tokens) / 1_000_000.0 * rate
}

// Calculate prices one completion's usage against a catalog row and returns
// the total USD plus the per-class breakdown.
//
// Accounting rules:
//   - CachedTokens is a subset of PromptTokens (OpenAI convention); the
//     cached portion bills at the cache-read rate when one is set and the
//     remainder bills at the input rate.
//   - CacheReadTokens and CacheCreationTokens are additive to PromptTokens
//     (Anthropic convention) and bill at their own rates, falling back to
//     the input rate when the catalog does not price them separately.
//   - ReasoningTokens is a subset of CompletionTokens; it bills at the
//     reasoning rate when one is set, otherwise at the output rate.
func Calculate(u llm.Usage, info catalog.ModelInfo) (float64, *llm.CostBreakdown) {
	b := &llm.CostBreakdown{}

	// Prompt side. Carve the cached subset out of the full-rate portion.
	fullRateInput := u.PromptTokens - u.CachedTokens
	if fullRateInput < 0 {
		fullRateInput = 0
	}
	b.Input = perMillion(fullRateInput, info.CostInput)

	cacheReadRate := info.CostCacheRead
	if cacheReadRate == 0 {
		cacheReadRate = info.CostInput
	}
	if u.CachedTokens > 0 {
		if info.CostCacheRead > 0 {
			b.CacheRead += perMillion(u.CachedTokens, cacheReadRate)
		} else {
			b.Input += perMillion(u.CachedTokens, cacheReadRate)
		}
	}
	if u.CacheReadTokens > 0 {
		if info.CostCacheRead > 0 {
			b.CacheRead += perMillion(u.CacheReadTokens, cacheReadRate)
		} else {
			b.Input += perMillion(u.CacheReadTokens, cacheReadRate)
		}
	}
	if u.CacheCreationTokens > 0 {
		if info.CostCacheWrite > 0 {
			b.CacheWrite = perMillion(u.CacheCreationTokens, info.CostCacheWrite)
		} else {
			b.Input += perMillion(u.CacheCreationTokens, info.CostInput)
		}
	}

	// Completion side. Reasoning tokens are already inside CompletionTokens.
	plainOutput := u.CompletionTokens - u.ReasoningTokens
	if plainOutput < 0 {
		plainOutput = 0
	}
	if u.ReasoningTokens > 0 && info.CostReasoning > 0 {
		b.Output = perMillion(plainOutput, info.CostOutput)
		b.Reasoning = perMillion(u.ReasoningTokens, info.CostReasoning)
	} else {
		b.Output = perMillion(u.CompletionTokens, info.CostOutput)
	}

	return b.Total(), b
}

// Annotate computes CostUSD and CostBreakdown for a usage in place. A model
// missing from the catalog charges zero and leaves the breakdown nil.
func Annotate(u *llm.Usage, cat *catalog.Catalog, provider, model string) {
	info, ok := cat.Lookup(provider, model)
	if !ok {
		u.CostUSD = 0
		u.CostBreakdown = nil
		return
	}
	u.CostUSD, u.CostBreakdown = Calculate(*u, info)
}

// EstimateTokens approximates the token count of a message list at roughly
// four characters per token. Used only for pre-flight budget checks; the
// provider's own accounting replaces it once the response arrives.
func EstimateTokens(messages []llm.Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
	}
	return (chars + 3) / 4
}

// EstimateRequest upper-bounds the USD cost of sending a request: estimated
// prompt tokens at the input rate plus the full completion allowance at the
// output rate. Returns zero when the model has no catalog row.
func EstimateRequest(req *llm.ChatRequest, cat *catalog.Catalog, provider string) float64 {
	info, ok := cat.Lookup(provider, req.Model)
	if !ok {
		return 0
	}
	prompt := perMillion(EstimateTokens(req.Messages), info.CostInput)
	completion := perMillion(req.MaxTokens, info.CostOutput)
	return prompt + completion
}
