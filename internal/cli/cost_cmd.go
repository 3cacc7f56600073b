// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cost_cmd.go - Usage and spending report command handler.
//
// Command: cost
// Short:   Show token usage and spending from the usage ledger
//
// Examples:
//   stratifyai cost                 Session, today, and lifetime totals
//   stratifyai cost --by-provider   Per-provider breakdown
//   stratifyai cost --by-model      Per-model breakdown
//   stratifyai cost --recent 10     The 10 most recent requests
package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Bytes0211/stratifyai/internal/config"
	"github.com/Bytes0211/stratifyai/internal/telemetry"
)

// HandleCost handles the "cost" command.
func HandleCost(args Args) error {
	parser := NewArgParser(args.Raw)
	cfg := config.Global()

	if !cfg.Telemetry.Enabled {
		return fmt.Errorf("usage tracking is disabled: enable with 'stratifyai config set telemetry.enabled true'")
	}
	dbPath, err := cfg.TelemetryDBPath()
	if err != nil {
		return err
	}
	ledger, err := telemetry.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open usage ledger: %w", err)
	}
	defer ledger.Close()

	ctx := context.Background()

	switch {
	case parser.BoolFlag("by-provider"):
		groups, err := ledger.ByProvider(ctx)
		if err != nil {
			return err
		}
		return printGroups(args, "by_provider", "By Provider", groups)

	case parser.BoolFlag("by-model"):
		groups, err := ledger.ByModel(ctx)
		if err != nil {
			return err
		}
		return printGroups(args, "by_model", "By Model", groups)

	case parser.Flag("recent") != "":
		n, err := strconv.Atoi(parser.Flag("recent"))
		if err != nil || n <= 0 {
			return ErrInvalidFormat("recent", parser.Flag("recent"), "a positive integer")
		}
		records, err := ledger.Recent(ctx, n)
		if err != nil {
			return err
		}
		return printRecent(args, records)

	default:
		return printTotals(args, ctx, ledger, cfg)
	}
}

// printTotals shows the session / today / lifetime summary.
func printTotals(args Args, ctx context.Context, ledger *telemetry.Ledger, cfg *config.Config) error {
	sess, err := ledger.Session(ctx)
	if err != nil {
		return err
	}
	today, err := ledger.Today(ctx)
	if err != nil {
		return err
	}
	lifetime, err := ledger.Lifetime(ctx)
	if err != nil {
		return err
	}

	if args.JSON {
		data := CostData{
			Session:  totalsData(sess),
			Today:    totalsData(today),
			Lifetime: totalsData(lifetime),
		}
		if cfg.Budget.DailyUSD > 0 {
			data.DailyBudgetUSD = cfg.Budget.DailyUSD
		}
		if cfg.Budget.TotalUSD > 0 {
			data.TotalBudgetUSD = cfg.Budget.TotalUSD
		}
		return NewJSONResponse("cost", data).Print()
	}

	fmt.Println(TitleStyle.Render("Usage"))
	fmt.Println()
	printTotalsRow("Session", sess)
	printTotalsRow("Today", today)
	printTotalsRow("Lifetime", lifetime)

	if cfg.Budget.DailyUSD > 0 {
		fmt.Println()
		fmt.Printf("%s $%.2f of $%.2f daily budget\n",
			RenderLabel("Budget:"), today.CostUSD, cfg.Budget.DailyUSD)
		if today.CostUSD >= cfg.Budget.DailyUSD {
			fmt.Println(WarningStyle.Render("Daily budget exhausted; further requests will be refused."))
		}
	}
	if cfg.Budget.TotalUSD > 0 && lifetime.CostUSD >= cfg.Budget.TotalUSD {
		fmt.Println(WarningStyle.Render("Total budget exhausted; further requests will be refused."))
	}
	return nil
}

func printTotalsRow(label string, t telemetry.Totals) {
	fmt.Printf("%s %4d requests | %8d tokens | $%8.4f | %d cache hits\n",
		RenderLabel(label+":", 10), t.Requests, t.TotalTokens, t.CostUSD, t.CacheHits)
}

// printGroups renders a per-provider or per-model breakdown.
func printGroups(args Args, op, title string, groups []telemetry.GroupTotals) error {
	if args.JSON {
		data := make([]GroupTotalsData, 0, len(groups))
		for _, g := range groups {
			d := totalsData(g.Totals)
			data = append(data, GroupTotalsData{Key: g.Key, TotalsData: d})
		}
		return NewJSONResponse("cost_"+op, data).Print()
	}

	fmt.Println(TitleStyle.Render(title))
	fmt.Println()
	if len(groups) == 0 {
		fmt.Println(DimStyle.Render("(no usage recorded)"))
		return nil
	}
	for _, g := range groups {
		fmt.Printf("%-36s %4d requests | %8d tokens | $%8.4f\n",
			g.Key, g.Requests, g.TotalTokens, g.CostUSD)
	}
	return nil
}

// printRecent renders the most recent ledger rows, newest first.
func printRecent(args Args, records []telemetry.UsageRecord) error {
	if args.JSON {
		return NewJSONResponse("cost_recent", records).Print()
	}

	fmt.Println(TitleStyle.Render("Recent Requests"))
	fmt.Println()
	if len(records) == 0 {
		fmt.Println(DimStyle.Render("(no usage recorded)"))
		return nil
	}
	for _, r := range records {
		cached := ""
		if r.CacheHit {
			cached = " " + HighlightStyle.Render("cached")
		}
		fmt.Printf("%s  %-30s %6d tokens  $%.4f%s\n",
			DimStyle.Render(r.Timestamp.Local().Format("2006-01-02 15:04:05")),
			r.Provider+"/"+r.Model,
			r.TotalTokens,
			r.CostUSD,
			cached)
	}
	return nil
}

func totalsData(t telemetry.Totals) TotalsData {
	return TotalsData{
		Requests:    t.Requests,
		TotalTokens: t.TotalTokens,
		CostUSD:     t.CostUSD,
		CacheHits:   t.CacheHits,
	}
}
