// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/Bytes0211/stratifyai/internal/llm"
	"github.com/Bytes0211/stratifyai/internal/storage"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter renders a conversation as Markdown: YAML front matter,
// the transcript, and a usage footer.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a conversation to Markdown.
func (e *MarkdownExporter) Export(conv *storage.StoredConversation) ([]byte, error) {
	if conv == nil {
		return nil, fmt.Errorf("conversation is nil")
	}
	if len(conv.Messages) == 0 {
		return nil, fmt.Errorf("conversation has no messages")
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		sb.WriteString(fmt.Sprintf("title: %s\n", escapeYAML(conv.Summary)))
		if conv.Provider != "" {
			sb.WriteString(fmt.Sprintf("provider: %s\n", conv.Provider))
		}
		if conv.Model != "" {
			sb.WriteString(fmt.Sprintf("model: %s\n", conv.Model))
		}
		sb.WriteString(fmt.Sprintf("date: %s\n", conv.CreatedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("updated: %s\n", conv.UpdatedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("messages: %d\n", len(conv.Messages)))
		if conv.TotalTokens > 0 {
			sb.WriteString(fmt.Sprintf("tokens: %d\n", conv.TotalTokens))
		}
		if conv.CostUSD > 0 {
			sb.WriteString(fmt.Sprintf("cost_usd: %.6f\n", conv.CostUSD))
		}
		sb.WriteString(fmt.Sprintf("exported: %s\n", time.Now().Format(time.RFC3339)))
		sb.WriteString("generator: stratifyai\n")
		sb.WriteString("---\n\n")
	}

	sb.WriteString(fmt.Sprintf("# %s\n\n", escapeMarkdown(conv.Summary)))

	if e.options.IncludeMetadata && conv.System != "" {
		sb.WriteString("## System Prompt\n\n")
		sb.WriteString("> " + strings.ReplaceAll(strings.TrimSpace(conv.System), "\n", "\n> "))
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Conversation\n\n")
	for i, msg := range conv.Messages {
		sb.WriteString(fmt.Sprintf("### %s\n\n", roleLabel(msg.Role)))
		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n\n")
		if i < len(conv.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	if e.options.IncludeMetadata {
		sb.WriteString("\n---\n\n")
		sb.WriteString("## Usage\n\n")
		sb.WriteString(fmt.Sprintf("- **Exchanges**: %d\n", conv.Exchanges))
		sb.WriteString(fmt.Sprintf("- **Prompt Tokens**: %d\n", conv.PromptTokens))
		sb.WriteString(fmt.Sprintf("- **Completion Tokens**: %d\n", conv.CompletionTokens))
		sb.WriteString(fmt.Sprintf("- **Total Tokens**: %d\n", conv.TotalTokens))
		sb.WriteString(fmt.Sprintf("- **Cost**: $%.6f\n", conv.CostUSD))
		if conv.CacheHits > 0 {
			sb.WriteString(fmt.Sprintf("- **Cache Hits**: %d\n", conv.CacheHits))
		}
		sb.WriteString(fmt.Sprintf("\n*Exported from stratifyai on %s*\n", formatTimestamp(time.Now())))
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

// roleLabel returns the transcript heading for a message role.
func roleLabel(role llm.Role) string {
	switch role {
	case llm.RoleUser:
		return "[User]"
	case llm.RoleAssistant:
		return "[Assistant]"
	case llm.RoleSystem:
		return "[System]"
	case "":
		return "Unknown"
	default:
		runes := []rune(string(role))
		return strings.ToUpper(string(runes[0])) + string(runes[1:])
	}
}

// escapeMarkdown escapes characters that would break headings.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

// escapeYAML quotes values holding YAML-significant characters.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}
