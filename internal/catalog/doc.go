// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package catalog holds the static model metadata table: per-model context
// window, token pricing, quality score, typical latency, and reasoning-model
// classification for every provider stratifyai can talk to.
//
// The catalog is loaded once before any routing or cost computation and is
// read-only for the process lifetime. Lookups are typed: a missing row comes
// back as (zero, false), never as a silent empty value, so callers decide
// deliberately how to degrade (the cost calculator charges zero, the router
// excludes the model from its candidate set).
//
// # Key Types
//
//   - ModelInfo: One catalog row with pricing and scoring metadata
//   - Catalog: Immutable provider -> model -> ModelInfo table
//
// # Usage
//
//	cat := catalog.Default()
//	info, ok := cat.Lookup("openai", "gpt-4o")
//	if !ok {
//	    // unknown model: exclude or charge zero, caller's call
//	}
//	fmt.Println(info.BlendedCostPer1K())
//
// A TOML file can extend or override the built-in rows:
//
//	cat, err := catalog.Load("~/.stratifyai/catalog.toml")
package catalog
