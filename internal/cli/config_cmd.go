// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - Configuration command handler.
//
// Command: config
// Short:   Show, edit, and locate the configuration file
//
// Subcommands:
//   show (default)    Print the active configuration (keys redacted)
//   get <key>         Print one value by dot key
//   set <key> <value> Set a value and save the config file
//   keys              List settable dot keys
//   path              Print the config file path
package cli

import (
	"fmt"

	"github.com/Bytes0211/stratifyai/internal/config"
)

// HandleConfig handles the "config" command.
func HandleConfig(args Args) error {
	cfg := config.Global()

	switch args.Subcommand {
	case "", "show":
		if args.JSON {
			return NewJSONResponse("config_show", cfg.Clone()).Print()
		}
		fmt.Println(TitleStyle.Render("Configuration"))
		fmt.Println()
		fmt.Print(cfg.String())
		return nil

	case "get":
		if len(args.Raw) < 2 {
			return ErrMissingArgument("key", "stratifyai config get router.strategy")
		}
		key := args.Raw[1]
		value, err := cfg.Get(key)
		if err != nil {
			return err
		}
		if args.JSON {
			return NewJSONResponse("config_get", map[string]any{key: value}).Print()
		}
		fmt.Printf("%v\n", value)
		return nil

	case "set":
		if len(args.Raw) < 3 {
			return ErrMissingArgument("key and value", "stratifyai config set router.strategy cost")
		}
		key, value := args.Raw[1], args.Raw[2]

		updated := cfg.Clone()
		if err := updated.Set(key, value); err != nil {
			return err
		}
		if err := config.Save(updated); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		config.SetGlobal(updated)

		if args.JSON {
			return NewJSONResponse("config_set", map[string]string{key: value}).Print()
		}
		fmt.Printf("%s %s = %s\n", SuccessStyle.Render("Set"), key, value)
		return nil

	case "keys":
		keys := config.SettableKeys()
		if args.JSON {
			return NewJSONResponse("config_keys", keys).Print()
		}
		fmt.Println(TitleStyle.Render("Settable Keys"))
		for _, k := range keys {
			fmt.Println("  " + k)
		}
		return nil

	case "path":
		path, err := config.ConfigPathTOML()
		if err != nil {
			return err
		}
		if args.JSON {
			return NewJSONResponse("config_path", map[string]string{"path": path}).Print()
		}
		fmt.Println(path)
		return nil

	default:
		return ErrUnknownSubcommand("config", args.Subcommand, []string{"show", "get", "set", "keys", "path"})
	}
}
