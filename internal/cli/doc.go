// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the stratifyai command-line interface.
//
// Commands are parsed by ParseArgs into a Command plus Args, then
// dispatched to Handle* functions by the main package. Handlers finish
// their own flag parsing with ArgParser, assemble the engine through
// BuildClient, and return errors that GetExitCode maps to process exit
// codes.
//
// Output conventions:
//   - Results go to stdout; stats footers and warnings go to stderr.
//   - --json wraps command output in the JSONResponse envelope.
//   - Markdown rendering and colors engage only on a TTY.
package cli
