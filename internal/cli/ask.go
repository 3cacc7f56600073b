// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - Single-question command handler for the stratifyai CLI.
//
// Command: ask
// Short:   Ask a single question and print the answer
//
// Examples:
//   stratifyai ask "What is a goroutine?"
//   stratifyai ask --provider anthropic "Review this code"
//   stratifyai ask --route --strategy cost "Summarize the news"
//   stratifyai ask "Review this:" --file main.go
//
// Flags:
//   -p, --provider NAME   Provider to use
//   -m, --model NAME      Model to use
//   --route               Let the router pick provider and model
//   --strategy NAME       Routing strategy (cost, quality, latency, hybrid)
//   --system TEXT         System prompt
//   --temperature N       Sampling temperature (0-2)
//   -f, --file PATH       Include a file's content with the question
//   --no-cache            Bypass the response cache
//   --stream              Stream tokens as they arrive
//   --json                Output response as JSON
package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/Bytes0211/stratifyai/internal/client"
	"github.com/Bytes0211/stratifyai/internal/config"
	"github.com/Bytes0211/stratifyai/internal/llm"
	"github.com/Bytes0211/stratifyai/internal/router"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// MaxFileSize is the maximum file size to include (50KB).
	MaxFileSize = 50 * 1024
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// markdownRenderer is the global glamour renderer for markdown output.
// USABILITY: Renders markdown responses with syntax highlighting and formatting.
var markdownRenderer *glamour.TermRenderer

func init() {
	var err error
	markdownRenderer, err = glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(GetTerminalWidth()),
	)
	if err != nil {
		// Fallback to plain text if renderer initialization fails
		markdownRenderer = nil
	}
}

// renderMarkdown renders markdown content for terminal display.
// Returns the original content if rendering fails or renderer is unavailable.
func renderMarkdown(content string) string {
	if markdownRenderer == nil {
		return content
	}
	rendered, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// displayResponse displays a response with markdown rendering when appropriate.
// Only renders markdown when stdout is a TTY to avoid corrupting piped output.
func displayResponse(response string) {
	if IsStdoutTTY() && config.Global().UI.Markdown {
		fmt.Print(renderMarkdown(response))
		return
	}
	fmt.Print(response)
}

// streamToStdout prints tokens directly to stdout.
func streamToStdout(token string) {
	fmt.Print(token)
}

// =============================================================================
// FILE READING
// =============================================================================

// readFileForContext reads a file and formats it for inclusion in a prompt.
// Files larger than MaxFileSize are rejected.
func readFileForContext(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", path)
		}
		return "", fmt.Errorf("cannot access file: %w", err)
	}
	if info.Size() > MaxFileSize {
		return "", fmt.Errorf("file too large: %d bytes (max %d bytes)", info.Size(), MaxFileSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	var builder strings.Builder
	builder.WriteString("File: ")
	builder.WriteString(path)
	builder.WriteString("\n```\n")
	builder.Write(content)
	if !strings.HasSuffix(string(content), "\n") {
		builder.WriteString("\n")
	}
	builder.WriteString("```")
	return builder.String(), nil
}

// =============================================================================
// ASK HANDLER
// =============================================================================

// HandleAsk handles the "ask" command.
func HandleAsk(args Args) error {
	if strings.TrimSpace(args.Query) == "" {
		return ErrMissingArgument("query", `stratifyai ask "What is a goroutine?"`)
	}

	parser := NewArgParser(args.Raw)
	cfg := config.Global().Clone()

	// Flag-level config overrides apply before the client is assembled.
	if strategy := parser.Flag("strategy"); strategy != "" {
		cfg.Router.Strategy = strategy
	}
	if parser.BoolFlag("no-cache") {
		cfg.Cache.Enabled = false
	}

	cli, err := BuildClient(cfg)
	if err != nil {
		return err
	}
	defer closeLedger(cli)

	route := parser.BoolFlag("route") || args.Provider == client.AutoProvider
	providerName, model := resolveTarget(cfg, args, route)
	if providerName == "" {
		return fmt.Errorf("no provider configured: set an API key or run 'stratifyai keys set <provider>'")
	}

	query := args.Query
	if file := parser.FlagOrDefault("file", parser.Flag("f")); file != "" {
		fileContext, err := readFileForContext(file)
		if err != nil {
			return err
		}
		query = query + "\n\n" + fileContext
	}

	var messages []llm.Message
	if system := parser.Flag("system"); system != "" {
		messages = append(messages, llm.NewSystemMessage(system))
	}
	messages = append(messages, llm.NewUserMessage(query))

	req := llm.NewChatRequest(model, messages)
	if temp := parser.Flag("temperature"); temp != "" {
		parsed, err := strconv.ParseFloat(temp, 64)
		if err != nil || parsed < 0 || parsed > 2 {
			return ErrInvalidFormat("temperature", temp, "a number between 0 and 2")
		}
		req.Temperature = parsed
	}

	constraint := router.Constraint{
		MaxCostPer1K: cfg.Router.MaxCostPer1K,
		MaxLatencyMs: cfg.Router.MaxLatencyMs,
	}

	ctx := context.Background()
	start := time.Now()

	stream := parser.BoolFlag("stream") && !args.JSON
	var resp *llm.ChatResponse
	var meta client.Meta
	if stream {
		resp, meta, err = cli.ChatStream(ctx, providerName, req, constraint, func(chunk llm.StreamChunk) error {
			streamToStdout(chunk.Delta)
			return nil
		})
		fmt.Println()
	} else {
		resp, meta, err = cli.Chat(ctx, providerName, req, constraint)
	}
	if err != nil {
		return err
	}

	if args.JSON {
		return printAskJSON(resp, meta, time.Since(start))
	}

	if !stream {
		displayResponse(resp.Content)
		if !strings.HasSuffix(resp.Content, "\n") {
			fmt.Println()
		}
	}

	if !args.Quiet {
		printAskSummary(resp, meta, time.Since(start))
	}
	return nil
}

// printAskSummary prints the one-line stats footer to stderr.
func printAskSummary(resp *llm.ChatResponse, meta client.Meta, elapsed time.Duration) {
	var parts []string
	parts = append(parts, fmt.Sprintf("%s/%s", resp.Provider, resp.Model))
	parts = append(parts, fmt.Sprintf("%d tokens", resp.Usage.TotalTokens))
	if resp.Usage.CostUSD > 0 {
		parts = append(parts, fmt.Sprintf("$%.4f", resp.Usage.CostUSD))
	}
	parts = append(parts, formatDurationShort(elapsed))
	if meta.CacheHit {
		parts = append(parts, HighlightStyle.Render("cached"))
	}
	if meta.Decision != nil {
		parts = append(parts, DimStyle.Render("routed:"+meta.Decision.Strategy.String()))
	}

	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "%s %s\n",
		InfoStyle.Render("[Stats]"),
		strings.Join(parts, " | "))
}

// printAskJSON emits the response in the standard JSON envelope.
func printAskJSON(resp *llm.ChatResponse, meta client.Meta, elapsed time.Duration) error {
	data := AskData{
		Response:     resp.Content,
		Provider:     resp.Provider,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
		CostUSD:      resp.Usage.CostUSD,
		DurationMs:   elapsed.Milliseconds(),
		CacheHit:     meta.CacheHit,
	}
	if meta.Decision != nil {
		data.Strategy = meta.Decision.Strategy.String()
		data.Complexity = meta.Decision.Complexity
	}
	return NewJSONResponse("ask", data).Print()
}

// closeLedger releases the usage ledger when the client carries one.
func closeLedger(cli *client.Client) {
	if ledger := cli.Ledger(); ledger != nil {
		ledger.Close()
	}
}
