// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// providers_cmd.go - Provider configuration status command handler.
//
// Command: providers
// Short:   Show which providers are registered, configured, and keyed
//
// SECURITY: Key values are never printed, only their source.
package cli

import (
	"fmt"

	"github.com/Bytes0211/stratifyai/internal/config"
	"github.com/Bytes0211/stratifyai/internal/keyring"
	"github.com/Bytes0211/stratifyai/internal/provider"
)

// keySource reports where a provider's credential would come from,
// without opening the encrypted keyring.
func keySource(name string, pc config.ProviderConfig, keyringPresent bool) (source string, ready bool) {
	envVar := provider.KeyEnvVars[name]
	if envVar == "" {
		return "not required", true
	}
	if pc.APIKey != "" {
		return "config file", true
	}
	if provider.KeyFromEnv(name) != "" {
		return "env " + envVar, true
	}
	if keyringPresent {
		// The keyring is encrypted; whether it holds this provider's key
		// is only known after a passphrase prompt at request time.
		return "keyring (locked)", true
	}
	return "none", false
}

// HandleProviders handles the "providers" command.
func HandleProviders(args Args) error {
	cfg := config.Global()

	keyringPresent := false
	if path, err := keyring.DefaultPath(); err == nil {
		keyringPresent = keyring.Exists(path)
	}

	type row struct {
		Name    string
		Source  string
		Model   string
		BaseURL string
		Ready   bool
	}

	var rows []row
	for _, name := range provider.Names() {
		pc := cfg.Provider(name)
		source, ready := keySource(name, pc, keyringPresent)
		model := pc.Model
		if model == "" {
			model = "(default)"
		}
		rows = append(rows, row{
			Name:    name,
			Source:  source,
			Model:   model,
			BaseURL: pc.BaseURL,
			Ready:   ready,
		})
	}

	if args.JSON {
		data := make([]ProviderData, 0, len(rows))
		for _, r := range rows {
			data = append(data, ProviderData{
				Name:      r.Name,
				KeySource: r.Source,
				Model:     r.Model,
				BaseURL:   r.BaseURL,
				Ready:     r.Ready,
			})
		}
		return NewJSONResponse("providers", data).Print()
	}

	fmt.Println(TitleStyle.Render("Providers"))
	fmt.Println()
	for _, r := range rows {
		status := RenderStatus("ok")
		if !r.Ready {
			status = RenderStatus("fail")
		}
		fmt.Printf("%s %-10s %s %s\n", status, r.Name,
			RenderLabel("key:", 5), r.Source)
		fmt.Printf("       %s %s\n", RenderLabel("model:", 7), r.Model)
		if r.BaseURL != "" {
			fmt.Printf("       %s %s\n", RenderLabel("url:", 7), r.BaseURL)
		}
	}

	if cfg.DefaultProvider != "" {
		fmt.Println()
		fmt.Printf("%s %s\n", RenderLabel("Default provider:"), HighlightStyle.Render(cfg.DefaultProvider))
	}
	if !keyringPresent {
		fmt.Println()
		fmt.Println(DimStyle.Render("Tip: store keys encrypted with 'stratifyai keys set <provider>'"))
	}
	return nil
}
