// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llm defines the provider-neutral chat types shared by every
// layer of stratifyai: messages, requests, normalized responses, token
// usage accounting, and the error taxonomy.
//
// Every provider adapter accepts a ChatRequest and returns a ChatResponse;
// the router, cache, and telemetry layers only ever see these types, never
// a provider's wire format.
//
// # Key Types
//
//   - Message: One conversation turn (system/user/assistant)
//   - ChatRequest: Unified request for chat completions
//   - ChatResponse: Normalized response from any provider
//   - Usage: Token counts and computed cost
//   - StreamChunk: One partial response on the streaming path
//   - ClientError: Typed error with ErrorType classification
//
// # Usage
//
// Build a request and inspect the normalized result:
//
//	req := llm.NewChatRequest("gpt-4o", []llm.Message{
//	    llm.NewUserMessage("Summarize this log file"),
//	})
//	resp, err := provider.Chat(ctx, req)
//	if err != nil {
//	    if llm.IsRateLimit(err) {
//	        // back off at the call site
//	    }
//	    return err
//	}
//	fmt.Println(resp.Content, resp.Usage.CostUSD)
package llm
