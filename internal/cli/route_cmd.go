// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// route_cmd.go - Routing inspection command handler.
//
// Command: route
// Short:   Show the routing decision for a prompt without sending it
//
// Examples:
//   stratifyai route "Prove the halting problem is undecidable"
//   stratifyai route --strategy cost "Summarize this article"
//   stratifyai route --max-cost 0.01 --execute "What time is it in UTC?"
//
// Flags:
//   --strategy NAME     Routing strategy override (cost, quality, latency, hybrid)
//   --max-cost N        Cap blended cost in USD per 1K tokens
//   --max-latency N     Cap typical latency in milliseconds
//   --execute           Run the request after showing the decision
package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Bytes0211/stratifyai/internal/config"
	"github.com/Bytes0211/stratifyai/internal/llm"
	"github.com/Bytes0211/stratifyai/internal/router"
)

// HandleRoute handles the "route" command.
func HandleRoute(args Args) error {
	if strings.TrimSpace(args.Query) == "" {
		return ErrMissingArgument("query", `stratifyai route "Summarize this article"`)
	}

	parser := NewArgParser(args.Raw)
	cfg := config.Global().Clone()

	if strategy := parser.Flag("strategy"); strategy != "" {
		cfg.Router.Strategy = strategy
	}

	constraint := router.Constraint{
		MaxCostPer1K: cfg.Router.MaxCostPer1K,
		MaxLatencyMs: cfg.Router.MaxLatencyMs,
	}
	if raw := parser.Flag("max-cost"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 {
			return ErrInvalidFormat("max-cost", raw, "a non-negative number")
		}
		constraint.MaxCostPer1K = parsed
	}
	if raw := parser.Flag("max-latency"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return ErrInvalidFormat("max-latency", raw, "a non-negative integer")
		}
		constraint.MaxLatencyMs = float64(parsed)
	}

	cli, err := BuildClient(cfg)
	if err != nil {
		return err
	}
	defer closeLedger(cli)

	messages := []llm.Message{llm.NewUserMessage(args.Query)}
	decision, err := cli.Route(messages, constraint)
	if err != nil {
		return err
	}

	if args.JSON {
		data := RouteData{
			Provider:   decision.Provider,
			Model:      decision.Model,
			Strategy:   decision.Strategy.String(),
			Complexity: decision.Complexity,
			Score:      decision.Score,
			CostPer1K:  decision.CostPer1K,
			Candidates: decision.Candidates,
			Reason:     decision.Reason,
		}
		return NewJSONResponse("route", data).Print()
	}

	printDecision(decision)

	if parser.BoolFlag("execute") {
		fmt.Println()
		req := llm.NewChatRequest(decision.Model, messages)
		start := time.Now()
		resp, meta, err := cli.Chat(context.Background(), decision.Provider, req, router.Constraint{})
		if err != nil {
			return err
		}
		displayResponse(resp.Content)
		if !strings.HasSuffix(resp.Content, "\n") {
			fmt.Println()
		}
		if !args.Quiet {
			printAskSummary(resp, meta, time.Since(start))
		}
	}
	return nil
}

// printDecision renders one routing decision for the terminal.
func printDecision(d router.Decision) {
	fmt.Println(SectionStyle.Render("Routing Decision"))
	fmt.Printf("  %s %s\n", RenderLabel("Provider:", 14), HighlightStyle.Render(d.Provider))
	fmt.Printf("  %s %s\n", RenderLabel("Model:", 14), HighlightStyle.Render(d.Model))
	fmt.Printf("  %s %s\n", RenderLabel("Strategy:", 14), d.Strategy.String())
	fmt.Printf("  %s %.2f\n", RenderLabel("Complexity:", 14), d.Complexity)
	fmt.Printf("  %s %.3f\n", RenderLabel("Score:", 14), d.Score)
	fmt.Printf("  %s $%.4f\n", RenderLabel("Cost/1K:", 14), d.CostPer1K)
	fmt.Printf("  %s %d\n", RenderLabel("Candidates:", 14), d.Candidates)
	if d.Reason != "" {
		fmt.Printf("  %s %s\n", RenderLabel("Reason:", 14), DimStyle.Render(d.Reason))
	}
}
