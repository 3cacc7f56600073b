// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cache_cmd.go - Response cache management command handler.
//
// Command: cache
// Short:   Inspect or clear the in-memory response cache
//
// Subcommands:
//   stats (default)   Show cache size, hit rate, and TTL
//   clear             Evict all cached responses
package cli

import (
	"fmt"

	"github.com/Bytes0211/stratifyai/internal/config"
	"github.com/Bytes0211/stratifyai/internal/session"
)

// HandleCache handles the "cache" command.
func HandleCache(args Args) error {
	cfg := config.Global().Clone()
	if !cfg.Cache.Enabled {
		return fmt.Errorf("response cache is disabled: enable with 'stratifyai config set cache.enabled true'")
	}

	cli, err := BuildClient(cfg)
	if err != nil {
		return err
	}
	defer closeLedger(cli)

	switch args.Subcommand {
	case "", "stats":
		stats, ok := cli.CacheStats()
		if !ok {
			return fmt.Errorf("response cache is disabled")
		}

		if args.JSON {
			data := CacheStatsData{
				Size:    stats.Size,
				MaxSize: stats.MaxSize,
				Hits:    stats.TotalHits,
				Misses:  stats.TotalMisses,
				HitRate: stats.HitRate,
				TTLSecs: int(stats.TTL.Seconds()),
			}
			return NewJSONResponse("cache_stats", data).Print()
		}

		fmt.Println(TitleStyle.Render("Response Cache"))
		fmt.Println()
		fmt.Printf("%s %d / %d entries\n", RenderLabel("Size:", 10), stats.Size, stats.MaxSize)
		fmt.Printf("%s %d hits, %d misses (%.1f%% hit rate)\n",
			RenderLabel("Activity:", 10), stats.TotalHits, stats.TotalMisses, stats.HitRate*100)
		fmt.Printf("%s %s\n", RenderLabel("TTL:", 10), session.FormatDuration(stats.TTL))
		return nil

	case "clear":
		cli.ClearCache()
		if args.JSON {
			return NewJSONResponse("cache_clear", map[string]bool{"cleared": true}).Print()
		}
		fmt.Println(SuccessStyle.Render("Cache cleared."))
		return nil

	default:
		return ErrUnknownSubcommand("cache", args.Subcommand, []string{"stats", "clear"})
	}
}
