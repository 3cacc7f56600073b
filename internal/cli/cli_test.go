// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bytes0211/stratifyai/internal/llm"
)

// =============================================================================
// COMMAND PARSING
// =============================================================================

func TestParseArgsCommands(t *testing.T) {
	tests := []struct {
		name string
		argv []string
		want Command
	}{
		{"no args is help", nil, CmdHelp},
		{"ask", []string{"ask", "hello"}, CmdAsk},
		{"ask alias", []string{"a", "hello"}, CmdAsk},
		{"chat", []string{"chat"}, CmdChat},
		{"chat alias", []string{"c"}, CmdChat},
		{"route", []string{"route", "hello"}, CmdRoute},
		{"models", []string{"models"}, CmdModels},
		{"models alias", []string{"model"}, CmdModels},
		{"providers", []string{"providers"}, CmdProviders},
		{"cost", []string{"cost"}, CmdCost},
		{"cost alias usage", []string{"usage"}, CmdCost},
		{"cost alias spend", []string{"spend"}, CmdCost},
		{"cache", []string{"cache", "stats"}, CmdCache},
		{"config", []string{"config", "show"}, CmdConfig},
		{"keys", []string{"keys", "list"}, CmdKeys},
		{"sessions", []string{"sessions", "list"}, CmdSessions},
		{"serve", []string{"serve"}, CmdServe},
		{"serve alias", []string{"server"}, CmdServe},
		{"version", []string{"version"}, CmdVersion},
		{"version flag", []string{"--version"}, CmdVersion},
		{"help", []string{"help"}, CmdHelp},
		{"help flag", []string{"-h"}, CmdHelp},
		{"unknown", []string{"frobnicate"}, CmdUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, _ := ParseArgs(tt.argv)
			assert.Equal(t, tt.want, cmd)
		})
	}
}

func TestParseArgsGlobalFlags(t *testing.T) {
	cmd, args := ParseArgs([]string{"--json", "-q", "ask", "hello", "world"})
	assert.Equal(t, CmdAsk, cmd)
	assert.True(t, args.JSON)
	assert.True(t, args.Quiet)
	assert.False(t, args.Verbose)
	assert.Equal(t, "hello world", args.Query)
}

func TestParseArgsGlobalFlagsAfterCommand(t *testing.T) {
	cmd, args := ParseArgs([]string{"ask", "hello", "--no-color"})
	assert.Equal(t, CmdAsk, cmd)
	assert.True(t, args.NoColor)
	assert.Equal(t, "hello", args.Query)
}

func TestParseArgsAskTarget(t *testing.T) {
	tests := []struct {
		name         string
		argv         []string
		wantProvider string
		wantModel    string
		wantQuery    string
	}{
		{
			name:         "long flags",
			argv:         []string{"ask", "--provider", "openai", "--model", "gpt-4o", "hi"},
			wantProvider: "openai",
			wantModel:    "gpt-4o",
			wantQuery:    "hi",
		},
		{
			name:         "short flags",
			argv:         []string{"ask", "-p", "anthropic", "-m", "claude-3-5-haiku-20241022", "hi"},
			wantProvider: "anthropic",
			wantModel:    "claude-3-5-haiku-20241022",
			wantQuery:    "hi",
		},
		{
			name:         "equals form",
			argv:         []string{"ask", "--provider=ollama", "--model=llama3.2", "hi"},
			wantProvider: "ollama",
			wantModel:    "llama3.2",
			wantQuery:    "hi",
		},
		{
			name:      "value flags do not leak into query",
			argv:      []string{"ask", "--system", "be brief", "--temperature", "0.5", "what", "is", "go"},
			wantQuery: "what is go",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, args := ParseArgs(tt.argv)
			require.Equal(t, CmdAsk, cmd)
			assert.Equal(t, tt.wantProvider, args.Provider)
			assert.Equal(t, tt.wantModel, args.Model)
			assert.Equal(t, tt.wantQuery, args.Query)
		})
	}
}

func TestParseArgsSubcommand(t *testing.T) {
	_, args := ParseArgs([]string{"sessions", "export", "1", "--format", "json"})
	assert.Equal(t, "export", args.Subcommand)
	assert.Equal(t, []string{"export", "1", "--format", "json"}, args.Raw)
}

func TestParseArgsUnknownKeepsName(t *testing.T) {
	_, args := ParseArgs([]string{"frobnicate", "now"})
	require.NotEmpty(t, args.Raw)
	assert.Equal(t, "frobnicate", args.Raw[0])
}

func TestParseArgsRouteQuery(t *testing.T) {
	_, args := ParseArgs([]string{"route", "--strategy", "cost", "hello", "there"})
	assert.Equal(t, "hello there", args.Query)
}

// =============================================================================
// ARG PARSER
// =============================================================================

func TestArgParserFlagFormats(t *testing.T) {
	parser := NewArgParser([]string{"show", "--lines", "50", "--since=2024-01-01", "--json", "-o", "out"})

	assert.Equal(t, "show", parser.Subcommand())
	assert.Equal(t, "50", parser.Flag("lines"))
	assert.Equal(t, "2024-01-01", parser.Flag("since"))
	assert.Equal(t, "out", parser.Flag("o"))
	assert.True(t, parser.BoolFlag("json"))
	assert.False(t, parser.BoolFlag("missing"))
	assert.Equal(t, "", parser.Flag("missing"))
}

func TestArgParserExplicitBool(t *testing.T) {
	parser := NewArgParser([]string{"--stream=false", "--cache=true"})
	assert.False(t, parser.BoolFlag("stream"))
	assert.True(t, parser.BoolFlag("cache"))
}

func TestArgParserDefaults(t *testing.T) {
	parser := NewArgParser([]string{"export", "1"})
	assert.Equal(t, "markdown", parser.FlagOrDefault("format", "markdown"))
	assert.Equal(t, 25, parser.FlagIntOrDefault("recent", 25))
	assert.Equal(t, "1", parser.Positional(1))
	assert.Equal(t, "", parser.Positional(9))
	assert.Equal(t, 2, parser.PositionalCount())
}

// =============================================================================
// SUGGESTIONS
// =============================================================================

func TestSuggestCommand(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"asx", "ask"},
		{"hepl", "help"},
		{"modls", "models"},
		{"sesions", "sessions"},
		{"providrs", "providers"},
		{"caceh", "cache"},
		{"q", ""},                // too short
		{"zzzzzzzzzzzzzzzz", ""}, // nothing close
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, SuggestCommand(tt.input))
		})
	}
}

func TestLevenshteinDistance(t *testing.T) {
	assert.Equal(t, 0, levenshteinDistance("ask", "ask"))
	assert.Equal(t, 1, levenshteinDistance("ask", "asks"))
	assert.Equal(t, 3, levenshteinDistance("", "abc"))
	assert.Equal(t, 2, levenshteinDistance("chat", "cost"))
}

// =============================================================================
// EXIT CODES
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"generic", errors.New("boom"), ExitGeneralError},
		{"validation type", NewValidationError("query", "", "missing"), ExitUsageError},
		{"permission type", NewPermissionError("open keyring", "no tty"), ExitAuthError},
		{"not found type", ErrNotFound("conversation", "9"), ExitNotFoundError},
		{"llm validation", llm.NewValidationError("empty messages"), ExitUsageError},
		{"llm auth", llm.NewAuthenticationError("openai", "bad key"), ExitAuthError},
		{"llm rate limit", llm.NewRateLimitError("openai", "slow down"), ExitNetworkError},
		{"llm budget", llm.NewBudgetExceededError("daily cap hit"), ExitBudgetError},
		{"llm invalid provider", llm.NewInvalidProviderError("nope"), ExitNotFoundError},
		{"llm no eligible model", llm.NewNoEligibleModelError("all excluded"), ExitNotFoundError},
		{"wrapped llm error", WrapError(llm.NewRateLimitError("openai", "429"), "chat"), ExitNetworkError},
		{"config sniffing", errors.New("load configuration: bad toml"), ExitConfigError},
		{"timeout sniffing", errors.New("context deadline exceeded"), ExitTimeoutError},
		{"network sniffing", errors.New("dial tcp: connection refused"), ExitNetworkError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := ErrMissingArgument("query", `stratifyai ask "hello"`)
	assert.Contains(t, err.Error(), "query")
	assert.Contains(t, err.Error(), "Example:")
	assert.True(t, IsValidationError(err))
}

func TestErrUnknownSubcommand(t *testing.T) {
	err := ErrUnknownSubcommand("cache", "flush", []string{"stats", "clear"})
	assert.Contains(t, err.Error(), "flush")
	assert.Contains(t, err.Error(), "stats, clear")
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

// =============================================================================
// HELPERS
// =============================================================================

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{450 * time.Millisecond, "450ms"},
		{3200 * time.Millisecond, "3.2s"},
		{90 * time.Second, "1m30s"},
		{61 * time.Minute, "1h1m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDurationShort(tt.d))
	}
}

func TestValidateOutputPath(t *testing.T) {
	tmp := t.TempDir()

	got, err := ValidateOutputPath(filepath.Join(tmp, "out.md"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmp, "out.md"), got)

	_, err = ValidateOutputPath("../../../etc/passwd")
	assert.Error(t, err)
}

// =============================================================================
// STYLES
// =============================================================================

func TestRenderStatus(t *testing.T) {
	tests := []struct{ in, want string }{
		{"ok", "[OK]"},
		{"success", "[OK]"},
		{"fail", "[FAIL]"},
		{"error", "[FAIL]"},
		{"warn", "[WARN]"},
		{"pending", "[WARN]"},
		{"locked", "[LOCKED]"},
	}
	for _, tt := range tests {
		assert.Contains(t, RenderStatus(tt.in), tt.want)
	}
}

func TestRenderLabel(t *testing.T) {
	assert.Contains(t, RenderLabel("Cost:", 10), "Cost:")
	// The default label width pads short labels to a column.
	assert.GreaterOrEqual(t, len(RenderLabel("x")), 20)
}

// =============================================================================
// TARGET RESOLUTION
// =============================================================================

func TestResolveConversationIndexValidation(t *testing.T) {
	// Index 0 and negatives are rejected before the store is consulted.
	_, err := resolveConversation(nil, "0")
	assert.True(t, IsValidationError(err))
	_, err = resolveConversation(nil, "-3")
	assert.True(t, IsValidationError(err))
}
