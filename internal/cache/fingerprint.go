// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/Bytes0211/stratifyai/internal/llm"
)

// ============================================================================
// FINGERPRINTING
// ============================================================================

// fingerprintMessage is the subset of a message that affects the response.
type fingerprintMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// fingerprintPayload fixes the field set and order hashed into a cache key.
// Only response-determining fields belong here; anything cosmetic (request
// IDs, timestamps) must stay out or identical requests stop colliding.
type fingerprintPayload struct {
	Provider         string               `json:"provider"`
	Model            string               `json:"model"`
	Messages         []fingerprintMessage `json:"messages"`
	Temperature      float64              `json:"temperature"`
	MaxTokens        int                  `json:"max_tokens"`
	TopP             float64              `json:"top_p"`
	FrequencyPenalty float64              `json:"frequency_penalty"`
	PresencePenalty  float64              `json:"presence_penalty"`
	Stop             []string             `json:"stop,omitempty"`
	ReasoningEffort  string               `json:"reasoning_effort,omitempty"`
}

// Fingerprint derives the cache key for a request bound to a provider.
// SHA-256 over a canonical JSON encoding: struct fields marshal in
// declaration order and message order is preserved, so equal requests
// always map to equal keys regardless of how they were built.
//
// Callers must gate on Cacheable first; fingerprints of non-deterministic
// requests are meaningless.
func Fingerprint(provider string, req *llm.ChatRequest) string {
	payload := fingerprintPayload{
		Provider:         provider,
		Model:            req.Model,
		Messages:         make([]fingerprintMessage, len(req.Messages)),
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Stop:             req.Stop,
		ReasoningEffort:  req.ReasoningEffort,
	}
	for i, m := range req.Messages {
		payload.Messages[i] = fingerprintMessage{
			Role:    string(m.Role),
			Content: m.Content,
			Name:    m.Name,
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		// Marshal of a flat struct of strings and numbers cannot fail;
		// an empty key disables caching for the request if it somehow does.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Cacheable reports whether a request may be served from or stored into
// the cache. Streaming output is never cached, and open-ended extra
// parameters make the response non-deterministic by policy.
func Cacheable(req *llm.ChatRequest) bool {
	return req.Deterministic()
}
