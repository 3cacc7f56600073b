// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"strings"
)

// =============================================================================
// ROLES
// =============================================================================

// Role identifies who authored a message. The set is closed: providers
// reject anything outside system/user/assistant.
type Role string

const (
	// RoleSystem is an instruction message that conditions the model.
	RoleSystem Role = "system"

	// RoleUser is a message authored by the human caller.
	RoleUser Role = "user"

	// RoleAssistant is a message authored by the model.
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the three permitted values.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// String returns the wire-format role name.
func (r Role) String() string {
	return string(r)
}

// =============================================================================
// MESSAGE
// =============================================================================

// imageMarker prefixes an inline image payload embedded in message content.
// Format: "[IMAGE:<mime_type>]\n<base64 data>". Adapters for providers with
// vision support split this into their native content-block form.
const imageMarker = "[IMAGE:"

// Message is one conversation turn in the provider-neutral format.
// Content is never nil-like: an empty string is permitted, absence is not.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Name tags the author in multi-agent conversations. Optional.
	Name string `json:"name,omitempty"`

	// CacheControl hints that providers with prompt caching should pin
	// this message (Anthropic ephemeral cache). Optional, adapter-specific.
	CacheControl map[string]string `json:"cache_control,omitempty"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// HasImage reports whether the content embeds an inline image payload.
func (m Message) HasImage() bool {
	return strings.Contains(m.Content, imageMarker)
}

// ImagePayload is an inline image extracted from message content.
type ImagePayload struct {
	MimeType string
	Base64   string
}

// ParseVisionContent splits the content into its text part and an optional
// inline image. The text part may be empty when the message is image-only.
// Malformed markers (no closing bracket, empty data) are treated as text.
func (m Message) ParseVisionContent() (string, *ImagePayload) {
	if !m.HasImage() {
		return m.Content, nil
	}

	parts := strings.Split(m.Content, imageMarker)
	var textParts []string
	var image *ImagePayload

	for i, part := range parts {
		if i == 0 {
			if s := strings.TrimSpace(part); s != "" {
				textParts = append(textParts, s)
			}
			continue
		}

		// This part starts with "mime_type]".
		mime, rest, ok := strings.Cut(part, "]")
		if !ok {
			// No closing bracket: keep the raw text rather than drop it.
			if s := strings.TrimSpace(imageMarker + part); s != "" {
				textParts = append(textParts, s)
			}
			continue
		}
		if data := strings.TrimSpace(rest); data != "" {
			image = &ImagePayload{
				MimeType: strings.TrimSpace(mime),
				Base64:   data,
			}
		}
	}

	return strings.TrimSpace(strings.Join(textParts, "\n")), image
}

// CloneMessages returns a copy of the slice so callers can hold conversation
// history without aliasing a request's message sequence.
func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}
