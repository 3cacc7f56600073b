// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider defines the adapter interface every LLM backend
// implements and the registry that constructs adapters by name.
//
// Adapters translate between the normalized request/response types in
// internal/llm and each vendor's wire format. They surface failures as the
// shared error taxonomy (authentication, rate limit, invalid model,
// provider API) and never retry on their own; retry policy belongs to the
// caller, which knows whether a partially streamed response makes a retry
// safe.
//
// Registration happens in each adapter subpackage's init, so importing a
// subpackage is what makes its provider constructible:
//
//	import (
//	    _ "github.com/Bytes0211/stratifyai/internal/provider/anthropic"
//	    _ "github.com/Bytes0211/stratifyai/internal/provider/openai"
//	)
//
//	p, err := provider.New("anthropic", provider.Config{APIKey: key})
//
// # Key Types
//
//   - Provider: Chat, streaming chat, and model listing for one backend
//   - Config: API key, base URL, timeout, and rate limit settings
//   - Factory: Constructor registered under a provider id
package provider
