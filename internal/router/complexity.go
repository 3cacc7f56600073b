// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"strings"

	"github.com/Bytes0211/stratifyai/internal/llm"
)

// ============================================================================
// COMPLEXITY SCORING
// ============================================================================

// Signal weights. They sum to 1.0 so the score stays in [0,1].
const (
	weightLength    = 0.35
	weightTurns     = 0.20
	weightCode      = 0.25
	weightDiversity = 0.20
)

// Saturation points: the input level at which each signal maxes out.
// Conversations beyond these are "fully hard" on that axis.
const (
	lengthSaturation    = 4000.0 // total content characters
	turnSaturation      = 10.0   // turns beyond the first
	codeSaturation      = 6.0    // code indicator hits
	diversitySaturation = 150.0  // distinct words
)

// codeIndicators mark code-like or structured content. Occurrence counts
// feed the code signal, so a second fenced block raises the score further.
var codeIndicators = []string{
	"```",
	"func ",
	"def ",
	"class ",
	"import ",
	"#include",
	"select ",
	"return ",
	"=> ",
	"{",
	"</",
}

// ScoreComplexity estimates how hard a conversation is on a 0..1 scale.
// Pure and deterministic: no I/O, no randomness, no clock.
//
// Four signals, each normalized to [0,1] and monotonic on its own
// (more length, more turns, more code, or a richer vocabulary never
// lowers the score while the others hold still):
//
//  1. aggregate content length across all messages
//  2. number of turns
//  3. code-like or structured content
//  4. lexical diversity (distinct word count)
//
// The weighted sum saturates at 1.0 once every signal is maxed. The score
// only biases routing; it is a heuristic, not ground-truth difficulty.
func ScoreComplexity(messages []llm.Message) float64 {
	if len(messages) == 0 {
		return 0
	}

	totalChars := 0
	codeHits := 0
	distinct := make(map[string]struct{})
	for _, m := range messages {
		totalChars += len(m.Content)
		lower := strings.ToLower(m.Content)
		for _, indicator := range codeIndicators {
			codeHits += strings.Count(lower, indicator)
		}
		for _, word := range strings.Fields(lower) {
			distinct[word] = struct{}{}
		}
	}

	lengthSignal := saturate(float64(totalChars) / lengthSaturation)
	turnSignal := saturate(float64(len(messages)-1) / turnSaturation)
	codeSignal := saturate(float64(codeHits) / codeSaturation)
	diversitySignal := saturate(float64(len(distinct)) / diversitySaturation)

	return weightLength*lengthSignal +
		weightTurns*turnSignal +
		weightCode*codeSignal +
		weightDiversity*diversitySignal
}

// saturate clamps a ratio to [0,1].
func saturate(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
