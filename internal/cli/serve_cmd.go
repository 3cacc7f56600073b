// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve_cmd.go - HTTP server command handler.
//
// Command: serve
// Short:   Run the OpenAI-compatible HTTP server
//
// Examples:
//   stratifyai serve
//   stratifyai serve --port 9000
//   stratifyai serve --host 0.0.0.0 --token s3cret
//
// Flags:
//   --host HOST     Listen host (default from config, 127.0.0.1)
//   --port N        Listen port (default from config, 8080)
//   --token TOKEN   Require this bearer token on every request
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Bytes0211/stratifyai/internal/config"
	"github.com/Bytes0211/stratifyai/internal/server"
)

// shutdownGrace bounds how long in-flight requests get on SIGINT/SIGTERM.
const shutdownGrace = 10 * time.Second

// HandleServe handles the "serve" command.
func HandleServe(args Args) error {
	parser := NewArgParser(args.Raw)
	cfg := config.Global().Clone()

	host := parser.FlagOrDefault("host", cfg.Server.Host)
	port := cfg.Server.Port
	if raw := parser.Flag("port"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 65535 {
			return ErrInvalidFormat("port", raw, "an integer between 1 and 65535")
		}
		port = parsed
	}
	token := parser.FlagOrDefault("token", cfg.Server.AuthToken)

	cli, err := BuildClient(cfg)
	if err != nil {
		return err
	}
	defer closeLedger(cli)

	if len(cli.Providers()) == 0 {
		return fmt.Errorf("no provider configured: set an API key or run 'stratifyai keys set <provider>'")
	}

	// Config edits refresh the global snapshot while the server runs, so
	// budget, routing, and catalog settings apply without a restart.
	if path, perr := config.ConfigPathTOML(); perr == nil {
		watcher, werr := config.NewWatcher(path, func(fresh *config.Config) {
			config.SetGlobal(fresh)
			if !args.Quiet {
				fmt.Fprintln(os.Stderr, DimStyle.Render("config reloaded from "+path))
			}
		})
		if werr == nil {
			defer watcher.Close()
		}
	}

	srv := server.New(host, port, cli)
	if token != "" {
		srv = srv.WithAuth(server.TokenAuth(token))
	} else if host != "127.0.0.1" && host != "localhost" && host != "::1" {
		// SECURITY: refuse to listen beyond loopback without a token.
		return fmt.Errorf("refusing to listen on %s without --token (or server.auth_token in config)", host)
	}

	if !args.Quiet {
		fmt.Printf("%s listening on http://%s\n", SuccessStyle.Render("stratifyai"), srv.Addr())
		fmt.Println(DimStyle.Render("POST /v1/chat/completions | GET /v1/models | GET /healthz | GET /stats"))
		fmt.Printf("%s %s\n", RenderLabel("Providers:"), fmt.Sprint(cli.Providers()))
		if token == "" {
			fmt.Println(DimStyle.Render("Auth: disabled (loopback only)"))
		} else {
			fmt.Println(DimStyle.Render("Auth: bearer token required"))
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		if !args.Quiet {
			fmt.Fprintf(os.Stderr, "\nReceived %s, shutting down...\n", sig)
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return <-errCh
	}
}
