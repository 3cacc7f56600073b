// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// models_cmd.go - Model catalog listing command handler.
//
// Command: models
// Short:   List catalog models with pricing and capability metadata
//
// Examples:
//   stratifyai models
//   stratifyai models --provider openai
//   stratifyai models --json
package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Bytes0211/stratifyai/internal/catalog"
	"github.com/Bytes0211/stratifyai/internal/config"
)

// HandleModels handles the "models" command.
func HandleModels(args Args) error {
	parser := NewArgParser(args.Raw)
	cfg := config.Global()

	var cat *catalog.Catalog
	if path := cfg.CatalogPath(); path != "" {
		loaded, err := catalog.Load(path)
		if err != nil {
			return err
		}
		cat = loaded
	} else {
		cat = catalog.Default()
	}

	filter := parser.FlagOrDefault("provider", parser.Flag("p"))

	entries := cat.Entries()
	if filter != "" {
		var kept []catalog.ModelInfo
		for _, e := range entries {
			if e.Provider == filter {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			return ErrNotFound("provider", filter)
		}
		entries = kept
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Provider != entries[j].Provider {
			return entries[i].Provider < entries[j].Provider
		}
		return entries[i].Model < entries[j].Model
	})

	if args.JSON {
		data := make([]ModelData, 0, len(entries))
		for _, e := range entries {
			data = append(data, ModelData{
				Provider:      e.Provider,
				Model:         e.Model,
				ContextWindow: e.ContextWindow,
				CostInput:     e.CostInput,
				CostOutput:    e.CostOutput,
				Quality:       e.QualityScore,
				LatencyMs:     e.AvgLatencyMs,
				Reasoning:     e.ReasoningModel,
			})
		}
		return NewJSONResponse("models", data).Print()
	}

	printModelTable(entries)
	return nil
}

// printModelTable renders the catalog as an aligned table. Costs are USD
// per 1M tokens, matching provider price sheets.
func printModelTable(entries []catalog.ModelInfo) {
	fmt.Println(TitleStyle.Render("Model Catalog"))
	fmt.Println()

	header := fmt.Sprintf("%-10s %-32s %10s %9s %9s %8s %9s",
		"PROVIDER", "MODEL", "CONTEXT", "IN/$1M", "OUT/$1M", "QUALITY", "LATENCY")
	fmt.Println(LabelStyle.Render(header))
	fmt.Println(DimStyle.Render(strings.Repeat("-", len(header))))

	for _, e := range entries {
		model := e.Model
		if e.ReasoningModel {
			model += " *"
		}
		cost := func(v float64) string {
			if v == 0 {
				return "free"
			}
			return fmt.Sprintf("%.2f", v)
		}
		fmt.Printf("%-10s %-32s %10s %9s %9s %8.2f %7.0fms\n",
			e.Provider,
			model,
			formatContext(e.ContextWindow),
			cost(e.CostInput),
			cost(e.CostOutput),
			e.QualityScore,
			e.AvgLatencyMs)
	}

	fmt.Println()
	fmt.Println(DimStyle.Render("* reasoning model (bills internal reasoning tokens)"))
}

// formatContext renders a context window as 128K / 1M style.
func formatContext(tokens int) string {
	switch {
	case tokens >= 1_000_000:
		return fmt.Sprintf("%dM", tokens/1_000_000)
	case tokens >= 1_000:
		return fmt.Sprintf("%dK", tokens/1_000)
	default:
		return fmt.Sprintf("%d", tokens)
	}
}
