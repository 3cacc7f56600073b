// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command handler for the stratifyai CLI.
//
// USABILITY: Markdown rendering and history for better CLI experience
//
// Handles the "stratifyai chat" command which provides an interactive
// REPL for conversing with a model, with routing, caching, and session
// persistence underneath.
//
// Command: chat
// Short:   Start an interactive chat session
//
// Examples:
//   stratifyai chat                         Start chat (default provider)
//   stratifyai chat --model gpt-4o-mini     Use a specific model
//   stratifyai chat --provider anthropic    Use a specific provider
//
// Interactive Commands (during chat):
//   /help, /h           Show available commands
//   /clear, /c          Clear conversation history
//   /model [name]       Show or switch model
//   /provider [name]    Show or switch provider
//   /stats, /s          Show session statistics
//   /history            Show conversation history
//   /save               Save the conversation
//   /quit, /q           Exit chat
//   Ctrl+C              Cancel current generation
//   Ctrl+D              Exit chat
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"

	"github.com/Bytes0211/stratifyai/internal/client"
	"github.com/Bytes0211/stratifyai/internal/config"
	"github.com/Bytes0211/stratifyai/internal/llm"
	"github.com/Bytes0211/stratifyai/internal/router"
	"github.com/Bytes0211/stratifyai/internal/session"
	"github.com/Bytes0211/stratifyai/internal/storage"
	"github.com/Bytes0211/stratifyai/internal/util"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	welcomeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Bold(true)

	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
// USABILITY: Supports arrow keys for history navigation and line editing.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a new ChatCLI with input history support.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	cli := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	cli.LoadHistory()
	return cli
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists command history to file with secure permissions.
func (c *ChatCLI) SaveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and closes the liner.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// SESSION STATE
// =============================================================================

// ChatState holds the state for an interactive chat session.
type ChatState struct {
	Client  *client.Client
	Config  *config.Config
	Session *session.Session
	Store   *storage.ConversationStore

	Provider string // current provider, or client.AutoProvider
	Model    string
	Quiet    bool

	// Cancel function for the current stream.
	CancelFunc context.CancelFunc

	// Input history handler
	InputCLI *ChatCLI
}

// newChatState assembles the chat session from configuration and flags.
func newChatState(args Args) (*ChatState, error) {
	cfg := config.Global().Clone()

	cli, err := BuildClient(cfg)
	if err != nil {
		return nil, err
	}

	providerName, model := resolveTarget(cfg, args, args.Provider == client.AutoProvider)
	if providerName == "" {
		return nil, fmt.Errorf("no provider configured: set an API key or run 'stratifyai keys set <provider>'")
	}

	store, err := storage.NewConversationStore()
	if err != nil {
		// Chat still works without persistence; /save will report it.
		store = nil
	}

	return &ChatState{
		Client:   cli,
		Config:   cfg,
		Session:  session.New(session.DefaultConfig()),
		Store:    store,
		Provider: providerName,
		Model:    model,
		Quiet:    args.Quiet,
		InputCLI: NewChatCLI(),
	}, nil
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// HandleChat handles the "chat" command with full interactive support.
func HandleChat(args Args) error {
	state, err := newChatState(args)
	if err != nil {
		return err
	}
	defer closeLedger(state.Client)
	defer state.InputCLI.Close()

	if !state.Quiet {
		printWelcome(state)
	}

	// AutoSave persists the conversation in the background of the REPL
	// loop; expiry just ends the session cleanly.
	state.Session.OnAutoSave(func() error {
		return saveConversation(state, true)
	})

	// First Ctrl+C cancels the in-flight generation instead of killing
	// the process.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if state.CancelFunc != nil {
				state.CancelFunc()
				state.CancelFunc = nil
				fmt.Fprintln(os.Stderr, "\n"+WarningStyle.Render("[Cancelled]"))
			}
		}
	}()

	for {
		input, err := state.InputCLI.ReadInput(promptStyle.Render("stratifyai> "))
		if err != nil {
			// Ctrl+C at the prompt or EOF (Ctrl+D): exit gracefully.
			fmt.Println()
			printExitSummary(state)
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if !state.Session.Check() {
			fmt.Fprintln(os.Stderr, WarningStyle.Render("[Session expired]"))
			printExitSummary(state)
			return nil
		}

		if strings.HasPrefix(input, "/") {
			keepGoing, err := handleSlashCommand(input, state)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			}
			if !keepGoing {
				printExitSummary(state)
				return nil
			}
			continue
		}

		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			printExitSummary(state)
			return nil
		}

		if err := processMessage(state, input); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		}
	}
}

// =============================================================================
// MESSAGE PROCESSING
// =============================================================================

// processMessage sends a message through the engine and streams the reply.
func processMessage(state *ChatState, input string) error {
	messages := append(state.Session.Messages(), llm.NewUserMessage(input))
	req := llm.NewChatRequest(state.Model, messages)

	constraint := router.Constraint{
		MaxCostPer1K: state.Config.Router.MaxCostPer1K,
		MaxLatencyMs: state.Config.Router.MaxLatencyMs,
	}

	ctx, cancel := context.WithCancel(context.Background())
	state.CancelFunc = cancel
	defer func() {
		state.CancelFunc = nil
		cancel()
	}()

	// USABILITY: Render markdown on TTY; stream raw tokens otherwise.
	useMarkdown := IsStdoutTTY() && state.Config.UI.Markdown
	start := time.Now()

	fmt.Println()
	resp, meta, err := state.Client.ChatStream(ctx, state.Provider, req, constraint, func(chunk llm.StreamChunk) error {
		if !useMarkdown {
			streamToStdout(chunk.Delta)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if useMarkdown {
		displayResponse(resp.Content)
	}
	fmt.Println()
	fmt.Println()

	state.Session.RecordExchange(input, resp, meta.CacheHit)

	if !state.Quiet {
		showBriefStats(resp, meta, time.Since(start))
	}
	return nil
}

// showBriefStats shows one line of stats after a response.
func showBriefStats(resp *llm.ChatResponse, meta client.Meta, elapsed time.Duration) {
	var parts []string
	parts = append(parts, resp.Provider+"/"+resp.Model)
	parts = append(parts, util.IntToString(resp.Usage.TotalTokens)+" tokens")
	parts = append(parts, elapsed.Round(time.Millisecond).String())
	if resp.Usage.CostUSD > 0 {
		parts = append(parts, fmt.Sprintf("$%.4f", resp.Usage.CostUSD))
	}
	if meta.CacheHit {
		parts = append(parts, HighlightStyle.Render("cached"))
	}

	fmt.Fprintf(os.Stderr, "%s %s\n",
		InfoStyle.Render("[Stats]"),
		strings.Join(parts, " | "))
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand processes slash commands.
// Returns (keepGoing, error) where keepGoing=false means exit.
func handleSlashCommand(cmd string, state *ChatState) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return true, nil
	}

	command := strings.ToLower(parts[0])
	rest := parts[1:]

	switch command {
	case "/help", "/h", "/?", "/":
		printChatHelp()
		return true, nil

	case "/clear", "/c":
		state.Session.Clear()
		fmt.Println(commandStyle.Render("[Conversation cleared]"))
		return true, nil

	case "/model", "/m":
		if len(rest) == 0 {
			fmt.Printf("Current model: %s\n", displayModel(state))
			return true, nil
		}
		state.Model = rest[0]
		fmt.Println(commandStyle.Render("[Model switched to " + rest[0] + "]"))
		return true, nil

	case "/provider", "/p":
		if len(rest) == 0 {
			fmt.Printf("Current provider: %s\n", state.Provider)
			fmt.Printf("Configured: %s\n", strings.Join(state.Client.Providers(), ", "))
			return true, nil
		}
		name := strings.ToLower(rest[0])
		if name != client.AutoProvider {
			if _, err := state.Client.Provider(name); err != nil {
				return true, err
			}
		}
		state.Provider = name
		// A provider switch invalidates a provider-specific model choice.
		state.Model = state.Config.Provider(name).Model
		fmt.Println(commandStyle.Render("[Provider switched to " + name + "]"))
		return true, nil

	case "/stats", "/s", "/status":
		printSessionStats(state)
		return true, nil

	case "/history":
		printHistory(state)
		return true, nil

	case "/save":
		if err := saveConversation(state, false); err != nil {
			return true, err
		}
		return true, nil

	case "/quit", "/q", "/exit":
		return false, nil

	default:
		return true, fmt.Errorf("unknown command %s (try /help)", command)
	}
}

// saveConversation persists the session to the conversation store.
// quiet suppresses the confirmation line (used by auto-save).
func saveConversation(state *ChatState, quiet bool) error {
	if state.Store == nil {
		return fmt.Errorf("conversation store unavailable")
	}
	if state.Session.Len() == 0 {
		if quiet {
			return nil
		}
		return fmt.Errorf("nothing to save yet")
	}

	conv := storage.FromSession(state.Session, state.Provider, state.Model)
	id, err := state.Store.Save(conv)
	if err != nil {
		return err
	}
	if !quiet {
		fmt.Println(commandStyle.Render("[Saved " + id + "]"))
	}
	return nil
}

// =============================================================================
// DISPLAY
// =============================================================================

func displayModel(state *ChatState) string {
	if state.Model == "" {
		return "(provider default)"
	}
	return state.Model
}

func printWelcome(state *ChatState) {
	fmt.Println(welcomeStyle.Render("stratifyai chat"))
	fmt.Printf("%s %s  %s %s\n",
		DimStyle.Render("provider:"), state.Provider,
		DimStyle.Render("model:"), displayModel(state))
	fmt.Println(DimStyle.Render("Type /help for commands, /quit to exit."))
	fmt.Println()
}

func printChatHelp() {
	fmt.Println(SectionStyle.Render("Commands"))
	fmt.Println("  /model [name]      Show or switch model")
	fmt.Println("  /provider [name]   Show or switch provider (or 'auto')")
	fmt.Println("  /stats             Show session statistics")
	fmt.Println("  /history           Show conversation history")
	fmt.Println("  /save              Save the conversation")
	fmt.Println("  /clear             Clear conversation history")
	fmt.Println("  /quit              Exit chat")
}

func printSessionStats(state *ChatState) {
	status := state.Session.GetStatus()
	totals := status.Totals

	fmt.Println(SectionStyle.Render("Session"))
	fmt.Printf("  %s %s\n", RenderLabel("ID:"), status.ID)
	fmt.Printf("  %s %s\n", RenderLabel("Duration:"), session.FormatDuration(status.Duration))
	fmt.Printf("  %s %d\n", RenderLabel("Exchanges:"), totals.Exchanges)
	fmt.Printf("  %s %d\n", RenderLabel("Total tokens:"), totals.TotalTokens)
	fmt.Printf("  %s $%.4f\n", RenderLabel("Cost:"), totals.CostUSD)
	fmt.Printf("  %s %d\n", RenderLabel("Cache hits:"), totals.CacheHits)
}

func printHistory(state *ChatState) {
	history := state.Session.History()
	if len(history) == 0 {
		fmt.Println(DimStyle.Render("(no messages yet)"))
		return
	}
	for _, msg := range history {
		label := "[" + strings.ToUpper(string(msg.Role)) + "]"
		fmt.Printf("%s %s\n", HighlightStyle.Render(label), util.TruncateRunes(msg.Content, 200))
	}
}

func printExitSummary(state *ChatState) {
	if state.Quiet {
		return
	}
	totals := state.Session.Totals()
	if totals.Exchanges == 0 {
		return
	}
	fmt.Println()
	fmt.Println(SectionStyle.Render("Session summary"))
	fmt.Printf("  %d exchanges | %d tokens | $%.4f | %s\n",
		totals.Exchanges, totals.TotalTokens, totals.CostUSD,
		session.FormatDuration(state.Session.Duration()))
}
