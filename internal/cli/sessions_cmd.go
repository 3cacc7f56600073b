// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// sessions_cmd.go - Saved conversation management command handler.
//
// Command: sessions
// Short:   List, show, export, search, and delete saved conversations
//
// Conversations are addressed by position: 1 is the newest. IDs also
// work anywhere an index is accepted.
//
// Subcommands:
//   list (default)      List saved conversations
//   show <n>            Show conversation n
//   export <n>          Export conversation n (--format, --output)
//   search <text>       Search summaries and message bodies
//   delete <n>          Delete conversation n (--confirm required)
package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Bytes0211/stratifyai/internal/export"
	"github.com/Bytes0211/stratifyai/internal/storage"
	"github.com/Bytes0211/stratifyai/internal/util"
)

// resolveConversation loads a conversation by 1-based index or by ID.
func resolveConversation(store *storage.ConversationStore, ref string) (*storage.StoredConversation, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 {
			return nil, ErrInvalidFormat("conversation", ref, "an index starting at 1 (1 = newest)")
		}
		conv, err := store.LoadByIndex(n - 1)
		if err != nil {
			return nil, ErrNotFound("conversation", ref)
		}
		return conv, nil
	}
	conv, err := store.Load(ref)
	if err != nil {
		return nil, ErrNotFound("conversation", ref)
	}
	return conv, nil
}

// HandleSessions handles the "sessions" command.
func HandleSessions(args Args) error {
	store, err := storage.NewConversationStore()
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}

	switch args.Subcommand {
	case "", "list":
		return sessionsList(args, store)
	case "show":
		return sessionsShow(args, store)
	case "export":
		return sessionsExport(args, store)
	case "search":
		return sessionsSearch(args, store)
	case "delete", "rm":
		return sessionsDelete(args, store)
	default:
		return ErrUnknownSubcommand("sessions", args.Subcommand, []string{"list", "show", "export", "search", "delete"})
	}
}

func sessionsList(args Args, store *storage.ConversationStore) error {
	metas, err := store.List()
	if err != nil {
		return err
	}

	if args.JSON {
		return NewJSONResponse("sessions_list", metas).Print()
	}

	fmt.Println(TitleStyle.Render("Saved Conversations"))
	fmt.Println()
	if len(metas) == 0 {
		fmt.Println(DimStyle.Render("No saved conversations. Use /save during chat."))
		return nil
	}
	printMetaList(metas, true)
	return nil
}

// printMetaList renders conversation metadata rows; numbered controls
// whether 1-based positions are shown.
func printMetaList(metas []storage.ConversationMeta, numbered bool) {
	for i, m := range metas {
		prefix := "  "
		if numbered {
			prefix = fmt.Sprintf("%3d. ", i+1)
		}
		fmt.Printf("%s%s  %s\n",
			prefix,
			HighlightStyle.Render(util.TruncateRunes(m.Summary, 60)),
			DimStyle.Render(m.UpdatedAt.Local().Format("2006-01-02 15:04")))
		fmt.Printf("%s%d messages | %d tokens | $%.4f",
			strings.Repeat(" ", len(prefix)), m.MessageCount, m.TotalTokens, m.CostUSD)
		if m.Provider != "" {
			fmt.Printf(" | %s", m.Provider)
			if m.Model != "" {
				fmt.Printf("/%s", m.Model)
			}
		}
		fmt.Println()
	}
}

func sessionsShow(args Args, store *storage.ConversationStore) error {
	if len(args.Raw) < 2 {
		return ErrMissingArgument("conversation", "stratifyai sessions show 1")
	}
	conv, err := resolveConversation(store, args.Raw[1])
	if err != nil {
		return err
	}

	if args.JSON {
		return NewJSONResponse("sessions_show", conv).Print()
	}

	fmt.Println(TitleStyle.Render(conv.Summary))
	fmt.Printf("%s %s\n", RenderLabel("ID:", 10), conv.ID)
	fmt.Printf("%s %s\n", RenderLabel("Created:", 10), conv.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if conv.Provider != "" {
		fmt.Printf("%s %s/%s\n", RenderLabel("Target:", 10), conv.Provider, conv.Model)
	}
	fmt.Printf("%s %d tokens | $%.4f\n", RenderLabel("Usage:", 10), conv.TotalTokens, conv.CostUSD)
	fmt.Println()

	if conv.System != "" {
		fmt.Printf("%s %s\n\n", HighlightStyle.Render("[SYSTEM]"), conv.System)
	}
	for _, msg := range conv.Messages {
		label := "[" + strings.ToUpper(string(msg.Role)) + "]"
		fmt.Printf("%s\n", HighlightStyle.Render(label))
		if msg.Role == "assistant" {
			displayResponse(msg.Content)
			if !strings.HasSuffix(msg.Content, "\n") {
				fmt.Println()
			}
		} else {
			fmt.Println(msg.Content)
		}
		fmt.Println()
	}
	return nil
}

func sessionsExport(args Args, store *storage.ConversationStore) error {
	if len(args.Raw) < 2 {
		return ErrMissingArgument("conversation", "stratifyai sessions export 1 --format markdown")
	}
	conv, err := resolveConversation(store, args.Raw[1])
	if err != nil {
		return err
	}

	parser := NewArgParser(args.Raw)
	format := parser.FlagOrDefault("format", "markdown")

	opts := export.DefaultOptions()
	if out := parser.FlagOrDefault("output", parser.Flag("o")); out != "" {
		validated, err := ValidateOutputPath(out)
		if err != nil {
			return err
		}
		opts.OutputDir = validated
	}

	exporter, err := export.ForFormat(format, opts)
	if err != nil {
		return ErrUnsupportedFormat(format, []string{"markdown", "json"})
	}

	path, err := export.ExportToFile(conv, exporter, opts)
	if err != nil {
		return fmt.Errorf("export conversation: %w", err)
	}

	if args.JSON {
		return NewJSONResponse("sessions_export", map[string]string{
			"id":     conv.ID,
			"format": format,
			"path":   path,
		}).Print()
	}
	fmt.Printf("%s exported to %s\n", SuccessStyle.Render("OK:"), path)
	return nil
}

func sessionsSearch(args Args, store *storage.ConversationStore) error {
	if len(args.Raw) < 2 {
		return ErrMissingArgument("query", "stratifyai sessions search goroutine")
	}
	query := strings.Join(args.Raw[1:], " ")

	// Summary matches first, then full message-body matches.
	metas, err := store.Search(query)
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		metas, err = store.SearchMessages(query)
		if err != nil {
			return err
		}
	}

	if args.JSON {
		return NewJSONResponse("sessions_search", metas).Print()
	}

	if len(metas) == 0 {
		fmt.Println(DimStyle.Render("No conversations match: " + query))
		return nil
	}
	fmt.Println(TitleStyle.Render(fmt.Sprintf("Matches for %q", query)))
	fmt.Println()
	printMetaList(metas, false)
	return nil
}

func sessionsDelete(args Args, store *storage.ConversationStore) error {
	if len(args.Raw) < 2 {
		return ErrMissingArgument("conversation", "stratifyai sessions delete 1 --confirm")
	}
	conv, err := resolveConversation(store, args.Raw[1])
	if err != nil {
		return err
	}

	parser := NewArgParser(args.Raw)
	if !parser.BoolFlag("confirm") {
		return NewValidationError("delete", args.Raw[1],
			"deletion is permanent, re-run with --confirm")
	}

	if err := store.Delete(conv.ID); err != nil {
		return err
	}

	if args.JSON {
		return NewJSONResponse("sessions_delete", map[string]string{"id": conv.ID}).Print()
	}
	fmt.Printf("%s deleted %s\n", SuccessStyle.Render("OK:"), util.TruncateRunes(conv.Summary, 60))
	return nil
}
