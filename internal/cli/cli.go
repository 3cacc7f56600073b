// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and command dispatch for stratifyai.
//
// CLI: Comprehensive help and examples for all commands
package cli

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdAsk Command = iota
	CmdChat
	CmdRoute
	CmdModels
	CmdProviders
	CmdCost
	CmdCache
	CmdConfig
	CmdKeys
	CmdSessions
	CmdServe
	CmdVersion
	CmdHelp
	CmdUnknown
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Quiet   bool
	Verbose bool
	JSON    bool
	NoColor bool

	// Command-specific
	Query      string
	Provider   string
	Model      string
	Subcommand string

	// Raw args remaining after global-flag parsing.
	Raw []string
}

const usageText = `stratifyai - multi-provider LLM routing engine

Stratifyai speaks one request schema to OpenAI, Anthropic, Google, and
Ollama, normalizes their responses, and routes each request to the model
that best fits a cost, quality, latency, or hybrid objective.

Usage:
  stratifyai ask "question"        Ask a single question
  stratifyai chat                  Interactive chat
  stratifyai route "question"      Show the routing decision for a prompt
  stratifyai models                List catalog models
  stratifyai providers             Show provider configuration status
  stratifyai cost                  Show usage and spending
  stratifyai cache [stats|clear]   Response cache management
  stratifyai config [show|set|path] Configuration
  stratifyai keys [set|list|remove] Encrypted API key store
  stratifyai sessions [subcommand] Saved conversation management
  stratifyai serve                 Run the OpenAI-compatible HTTP server
  stratifyai version               Show version
  stratifyai help                  Show this help

Ask Options:
  stratifyai ask "question"
    -p, --provider NAME     Provider to use (openai, anthropic, google, ollama)
    -m, --model NAME        Model to use
    --route                 Let the router pick provider and model
    --strategy NAME         Routing strategy (cost, quality, latency, hybrid)
    --system TEXT           System prompt
    --temperature N         Sampling temperature (0-2)
    --no-cache              Bypass the response cache
    --stream                Stream tokens as they arrive
    --json                  Output response as JSON

Chat Commands (during chat):
  /model [name]           Show or switch model
  /provider [name]        Show or switch provider
  /stats                  Show session statistics
  /save                   Save the conversation
  /clear                  Clear conversation history
  /help                   Show available commands
  /quit                   Exit chat (also Ctrl+D)

Route Options:
  stratifyai route "question"
    --strategy NAME         Routing strategy override
    --max-cost N            Cap blended cost in USD per 1K tokens
    --max-latency N         Cap typical latency in milliseconds
    --execute               Run the request after showing the decision

Cost Options:
  stratifyai cost                 Session, today, and lifetime totals
    --by-provider               Per-provider breakdown
    --by-model                  Per-model breakdown
    --recent N                  Show the N most recent requests
    --json                      Output in JSON format

Session Commands:
  stratifyai sessions list          List saved conversations
  stratifyai sessions show <n>      Show conversation n (1 = newest)
  stratifyai sessions export <n>    Export conversation n
    --format markdown|json        Export format (default: markdown)
    --output DIR                  Output directory (default: .)
  stratifyai sessions search <text> Search summaries and messages
  stratifyai sessions delete <n>    Delete conversation n
    --confirm                     Required confirmation flag

Key Commands:
  stratifyai keys set <provider>    Store an API key (prompted, encrypted)
  stratifyai keys list              List providers with stored keys
  stratifyai keys remove <provider> Remove a stored key

Serve Options:
  stratifyai serve
    --host HOST             Listen host (default: 127.0.0.1)
    --port N                Listen port (default: 8080)
    --token TOKEN           Require a bearer token

Global Flags:
  -q, --quiet     Minimal output
  -v, --verbose   Debug output
  --json          Output in JSON format
  --no-color      Disable ANSI colors

Environment:
  OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY   Provider keys
  STRATIFYAI_PROVIDER, STRATIFYAI_MODEL               Default target
  STRATIFYAI_STRATEGY                                 Routing strategy
  STRATIFYAI_DAILY_BUDGET, STRATIFYAI_TOTAL_BUDGET    Spending caps

Examples:
  stratifyai ask "What is a goroutine?"
  stratifyai ask --provider anthropic "Review this code"
  stratifyai ask --route --strategy cost "Summarize the news"
  stratifyai route "Prove the halting problem is undecidable"
  stratifyai chat --model gpt-4o-mini
  stratifyai models --provider openai
  stratifyai cost --by-provider
  stratifyai sessions export 1 --format markdown
  stratifyai serve --port 9000 --token s3cret

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage() {
	fmt.Printf(usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("stratifyai version %s\n", Version)
	fmt.Printf("  Git commit: %s\n", GitCommit)
	fmt.Printf("  Build date: %s\n", BuildDate)
	fmt.Printf("  Go version: %s\n", runtime.Version())
}

// Parse parses command-line arguments and returns the command and args.
func Parse() (Command, Args) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs parses the given arguments. Split from Parse for testing.
func ParseArgs(argv []string) (Command, Args) {
	remaining, parsed := parseGlobalFlags(argv)

	if len(remaining) == 0 {
		return CmdHelp, parsed
	}

	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	parsed.Raw = remaining

	switch cmd {
	case "ask", "a":
		parseAskArgs(&parsed, remaining)
		return CmdAsk, parsed

	case "chat", "c":
		parseChatArgs(&parsed, remaining)
		return CmdChat, parsed

	case "route", "r":
		parseRouteArgs(&parsed, remaining)
		return CmdRoute, parsed

	case "models", "model":
		return CmdModels, parsed

	case "providers", "provider":
		return CmdProviders, parsed

	case "cost", "usage", "spend":
		if len(remaining) > 0 {
			parsed.Subcommand = remaining[0]
		}
		return CmdCost, parsed

	case "cache":
		if len(remaining) > 0 {
			parsed.Subcommand = remaining[0]
		}
		return CmdCache, parsed

	case "config", "cfg":
		if len(remaining) > 0 {
			parsed.Subcommand = remaining[0]
		}
		return CmdConfig, parsed

	case "keys", "key":
		if len(remaining) > 0 {
			parsed.Subcommand = remaining[0]
		}
		return CmdKeys, parsed

	case "sessions", "session":
		if len(remaining) > 0 {
			parsed.Subcommand = remaining[0]
		}
		return CmdSessions, parsed

	case "serve", "server":
		return CmdServe, parsed

	case "version", "-v", "--version":
		return CmdVersion, parsed

	case "help", "-h", "--help":
		return CmdHelp, parsed

	default:
		// Unknown command: keep it in Raw so the caller can suggest a
		// correction.
		parsed.Raw = append([]string{cmd}, remaining...)
		return CmdUnknown, parsed
	}
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
func parseGlobalFlags(args []string) ([]string, Args) {
	var remaining []string
	var parsed Args

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-q", "--quiet":
			parsed.Quiet = true
		case "--verbose":
			parsed.Verbose = true
		case "--json":
			parsed.JSON = true
		case "--no-color":
			parsed.NoColor = true
		default:
			remaining = append(remaining, args[i])
		}
	}
	return remaining, parsed
}

// parseAskArgs parses ask command specific arguments. Positional arguments
// join into the query; flag parsing is finished in the handler via
// ArgParser.
func parseAskArgs(args *Args, remaining []string) {
	var query []string

	for i := 0; i < len(remaining); i++ {
		arg := remaining[i]
		switch arg {
		case "-p", "--provider":
			if i+1 < len(remaining) {
				i++
				args.Provider = remaining[i]
			}
		case "-m", "--model":
			if i+1 < len(remaining) {
				i++
				args.Model = remaining[i]
			}
		default:
			switch {
			case strings.HasPrefix(arg, "--provider="):
				args.Provider = strings.TrimPrefix(arg, "--provider=")
			case strings.HasPrefix(arg, "--model="):
				args.Model = strings.TrimPrefix(arg, "--model=")
			case !strings.HasPrefix(arg, "-"):
				query = append(query, arg)
			default:
				// Flags like --system take a value; skip it so it does
				// not leak into the query.
				if (arg == "--system" || arg == "--temperature" || arg == "--strategy") && i+1 < len(remaining) {
					i++
				}
			}
		}
	}
	args.Query = strings.Join(query, " ")
}

// parseChatArgs parses chat command specific arguments.
func parseChatArgs(args *Args, remaining []string) {
	for i := 0; i < len(remaining); i++ {
		arg := remaining[i]
		switch arg {
		case "-p", "--provider":
			if i+1 < len(remaining) {
				i++
				args.Provider = remaining[i]
			}
		case "-m", "--model":
			if i+1 < len(remaining) {
				i++
				args.Model = remaining[i]
			}
		default:
			if strings.HasPrefix(arg, "--provider=") {
				args.Provider = strings.TrimPrefix(arg, "--provider=")
			} else if strings.HasPrefix(arg, "--model=") {
				args.Model = strings.TrimPrefix(arg, "--model=")
			}
		}
	}
}

// parseRouteArgs parses route command specific arguments.
func parseRouteArgs(args *Args, remaining []string) {
	var query []string
	for i := 0; i < len(remaining); i++ {
		arg := remaining[i]
		if !strings.HasPrefix(arg, "-") {
			query = append(query, arg)
			continue
		}
		if (arg == "--strategy" || arg == "--max-cost" || arg == "--max-latency") && i+1 < len(remaining) {
			i++
		}
	}
	args.Query = strings.Join(query, " ")
}

// =============================================================================
// DISPATCH HELPERS
// =============================================================================

// ERROR HANDLING: Errors must not be silently ignored

// Run executes a handler and exits with the mapped code on failure.
// Errors render as JSON when the global --json flag is set so scripted
// callers get a machine-readable envelope on both paths.
func Run(args Args, handler func() error) {
	if err := handler(); err != nil {
		DisplayError(err, args.JSON)
		os.Exit(GetExitCode(err))
	}
}

// HandleVersion handles the "version" command.
func HandleVersion(args Args) {
	if args.JSON {
		data := VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}
		resp := NewJSONResponse("version", data)
		resp.Print()
		return
	}
	PrintVersion()
}

// HandleHelp handles the "help" command.
func HandleHelp() {
	PrintUsage()
}

// HandleUnknown prints an error with a suggestion for a mistyped command.
func HandleUnknown(args Args) {
	name := ""
	if len(args.Raw) > 0 {
		name = args.Raw[0]
	}
	fmt.Fprintf(os.Stderr, "Unknown command: %s\n", name)
	if suggestion := SuggestCommand(name); suggestion != "" {
		fmt.Fprintf(os.Stderr, "Did you mean: stratifyai %s?\n", suggestion)
	}
	fmt.Fprintln(os.Stderr, "Run 'stratifyai help' for usage.")
	os.Exit(ExitUsageError)
}
