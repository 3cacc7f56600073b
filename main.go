// stratifyai - multi-provider LLM request routing and response
// normalization engine.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"os"

	"github.com/Bytes0211/stratifyai/internal/cli"
	"github.com/Bytes0211/stratifyai/internal/config"
)

// Version information (set at build time)
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	// Sync version info with cli package
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args := cli.Parse()

	if args.NoColor || !config.Global().UI.Color {
		cli.ForceColorsEnabled(false)
	}

	switch cmd {
	case cli.CmdAsk:
		cli.Run(args, func() error { return cli.HandleAsk(args) })
	case cli.CmdChat:
		cli.Run(args, func() error { return cli.HandleChat(args) })
	case cli.CmdRoute:
		cli.Run(args, func() error { return cli.HandleRoute(args) })
	case cli.CmdModels:
		cli.Run(args, func() error { return cli.HandleModels(args) })
	case cli.CmdProviders:
		cli.Run(args, func() error { return cli.HandleProviders(args) })
	case cli.CmdCost:
		cli.Run(args, func() error { return cli.HandleCost(args) })
	case cli.CmdCache:
		cli.Run(args, func() error { return cli.HandleCache(args) })
	case cli.CmdConfig:
		cli.Run(args, func() error { return cli.HandleConfig(args) })
	case cli.CmdKeys:
		cli.Run(args, func() error { return cli.HandleKeys(args) })
	case cli.CmdSessions:
		cli.Run(args, func() error { return cli.HandleSessions(args) })
	case cli.CmdServe:
		cli.Run(args, func() error { return cli.HandleServe(args) })
	case cli.CmdVersion:
		cli.HandleVersion(args)
	case cli.CmdHelp:
		cli.HandleHelp()
	case cli.CmdUnknown:
		cli.HandleUnknown(args)
	default:
		fmt.Fprintln(os.Stderr, "Run 'stratifyai help' for usage.")
		os.Exit(cli.ExitUsageError)
	}
}
