// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// keys_cmd.go - Encrypted API key store command handler.
//
// Command: keys
// Short:   Manage API keys in the encrypted keyring
//
// SECURITY: Keys are read without echo and stored AES-GCM encrypted
// under a passphrase-derived key. Key values are never printed.
//
// Subcommands:
//   set <provider>      Store a key (prompted)
//   list                List providers with stored keys
//   remove <provider>   Remove a stored key
package cli

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/Bytes0211/stratifyai/internal/keyring"
	"github.com/Bytes0211/stratifyai/internal/provider"
)

// promptSecret reads one line from stdin without echo.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// openKeyring prompts for the passphrase and opens the store. A missing
// keyring file opens as an empty store; confirm controls double-entry
// for first-time passphrase creation.
func openKeyring(confirmNew bool) (*keyring.Keyring, error) {
	if !CanPrompt() {
		return nil, NewPermissionError("open keyring", "an interactive terminal is required for the passphrase prompt")
	}

	path, err := keyring.DefaultPath()
	if err != nil {
		return nil, err
	}

	confirm := confirmNew && !keyring.Exists(path)
	passphrase, err := keyring.PromptPassphrase(confirm)
	if err != nil {
		return nil, err
	}
	return keyring.Open(path, passphrase)
}

// HandleKeys handles the "keys" command.
func HandleKeys(args Args) error {
	switch args.Subcommand {
	case "set":
		if len(args.Raw) < 2 {
			return ErrMissingArgument("provider", "stratifyai keys set openai")
		}
		name := strings.ToLower(args.Raw[1])
		if !provider.Registered(name) {
			return ErrNotFound("provider", name)
		}
		if provider.KeyEnvVars[name] == "" {
			return NewValidationError("provider", name, "does not use an API key")
		}

		kr, err := openKeyring(true)
		if err != nil {
			return err
		}

		apiKey, err := promptSecret("API key for " + name + ": ")
		if err != nil {
			return err
		}
		if apiKey == "" {
			return NewValidationError("api key", "", "must not be empty")
		}

		kr.Set(name, apiKey)
		if err := kr.Save(); err != nil {
			return fmt.Errorf("save keyring: %w", err)
		}
		fmt.Printf("%s key for %s stored.\n", SuccessStyle.Render("OK:"), name)
		return nil

	case "", "list":
		path, err := keyring.DefaultPath()
		if err != nil {
			return err
		}
		if !keyring.Exists(path) {
			if args.JSON {
				return NewJSONResponse("keys_list", []string{}).Print()
			}
			fmt.Println(DimStyle.Render("No keyring yet. Store a key with 'stratifyai keys set <provider>'."))
			return nil
		}

		kr, err := openKeyring(false)
		if err != nil {
			return err
		}
		names := kr.List()

		if args.JSON {
			return NewJSONResponse("keys_list", names).Print()
		}
		fmt.Println(TitleStyle.Render("Stored Keys"))
		if len(names) == 0 {
			fmt.Println(DimStyle.Render("(none)"))
			return nil
		}
		for _, n := range names {
			fmt.Println("  " + n)
		}
		return nil

	case "remove", "rm":
		if len(args.Raw) < 2 {
			return ErrMissingArgument("provider", "stratifyai keys remove openai")
		}
		name := strings.ToLower(args.Raw[1])

		kr, err := openKeyring(false)
		if err != nil {
			return err
		}
		if !kr.Remove(name) {
			return ErrNotFound("stored key", name)
		}
		if err := kr.Save(); err != nil {
			return fmt.Errorf("save keyring: %w", err)
		}
		fmt.Printf("%s key for %s removed.\n", SuccessStyle.Render("OK:"), name)
		return nil

	default:
		return ErrUnknownSubcommand("keys", args.Subcommand, []string{"set", "list", "remove"})
	}
}
