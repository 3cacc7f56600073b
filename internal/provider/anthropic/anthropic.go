// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package anthropic adapts the Anthropic Messages API to the unified
// provider interface. Handles the API's structural differences: the system
// prompt travels outside the message list, max_tokens is mandatory, vision
// uses typed content blocks, and prompt-cache accounting arrives as
// separate creation/read counters.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Bytes0211/stratifyai/internal/catalog"
	"github.com/Bytes0211/stratifyai/internal/llm"
	"github.com/Bytes0211/stratifyai/internal/provider"
)

// DefaultModel is used when neither config nor request names one.
const DefaultModel = "claude-3-5-sonnet-20241022"

// Client serves the Anthropic Messages API.
type Client struct {
	api     anthropic.Client
	model   string
	limiter *provider.Limiter
}

// New creates an Anthropic adapter. The key falls back to
// ANTHROPIC_API_KEY when cfg leaves it empty.
func New(cfg provider.Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	if cfg.APIKey == "" {
		cfg.APIKey = provider.KeyFromEnv("anthropic")
	}
	if cfg.APIKey == "" {
		return nil, llm.NewAuthenticationError("anthropic", "API key not configured")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{
		api:     anthropic.NewClient(opts...),
		model:   cfg.Model,
		limiter: provider.NewLimiter(cfg.RequestsPerSecond),
	}, nil
}

// Name returns "anthropic".
func (c *Client) Name() string {
	return "anthropic"
}

func (c *Client) resolveModel(req *llm.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return c.model
}

// ============================================================================
// REQUEST MAPPING
// ============================================================================

func (c *Client) buildParams(req *llm.ChatRequest) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		// The Messages API rejects requests without max_tokens.
		maxTokens = provider.DefaultMaxTokens
	}

	var system []anthropic.TextBlockParam
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			// System turns move out of the message list; multiple system
			// messages concatenate in order.
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case llm.RoleAssistant:
			messages = append(messages,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(userBlocks(msg)...))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.resolveModel(req)),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = system
	}
	params.Temperature = anthropic.Float(req.Temperature)
	if req.TopP > 0 {
		params.TopP = anthropic.Float(req.TopP)
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}
	return params
}

// userBlocks converts a user turn into content blocks, splitting out an
// inline image payload for vision models.
func userBlocks(msg llm.Message) []anthropic.ContentBlockParamUnion {
	if !msg.HasImage() {
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)}
	}
	text, image := msg.ParseVisionContent()
	var blocks []anthropic.ContentBlockParamUnion
	if image != nil {
		blocks = append(blocks, anthropic.NewImageBlockBase64(image.MimeType, image.Base64))
	}
	if text != "" {
		blocks = append(blocks, anthropic.NewTextBlock(text))
	}
	return blocks
}

// ============================================================================
// CHAT
// ============================================================================

// Chat executes a non-streaming completion.
func (c *Client) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.api.Messages.New(ctx, c.buildParams(req))
	if err != nil {
		return nil, c.mapError(err, c.resolveModel(req))
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if textBlock, ok := block.AsAny().(anthropic.TextBlock); ok {
			content.WriteString(textBlock.Text)
		}
	}

	out := &llm.ChatResponse{
		ID:           resp.ID,
		Model:        string(resp.Model),
		Content:      content.String(),
		FinishReason: mapStopReason(string(resp.StopReason)),
		Usage:        usageFrom(resp.Usage),
		Provider:     "anthropic",
		CreatedAt:    time.Now(),
		LatencyMs:    float64(time.Since(start).Milliseconds()),
		RawResponse:  rawPayload(resp),
	}
	if out.ID == "" {
		out.ID = llm.NewResponseID()
	}
	return out, nil
}

// ChatStream executes a streaming completion, forwarding each text delta
// to fn in arrival order.
func (c *Client) ChatStream(ctx context.Context, req *llm.ChatRequest, fn llm.StreamFunc) (*llm.ChatResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	acc := llm.NewStreamAccumulator()
	stream := c.api.Messages.NewStreaming(ctx, c.buildParams(req))
	defer stream.Close()

	// Accumulate tracks message-level state (id, model, stop reason,
	// usage) across events while we surface the text deltas.
	var message anthropic.Message
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, llm.NewProviderAPIError("anthropic", 0, "malformed stream event", err)
		}

		if deltaEvent, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if textDelta, ok := deltaEvent.Delta.AsAny().(anthropic.TextDelta); ok && textDelta.Text != "" {
				chunk := llm.StreamChunk{
					ID:    message.ID,
					Model: string(message.Model),
					Delta: textDelta.Text,
				}
				acc.Add(chunk)
				if fn != nil {
					if err := fn(chunk); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, c.mapError(err, c.resolveModel(req))
	}

	usage := usageFrom(message.Usage)
	final := llm.StreamChunk{
		ID:           message.ID,
		Model:        string(message.Model),
		FinishReason: mapStopReason(string(message.StopReason)),
		Done:         true,
		Usage:        &usage,
	}
	acc.Add(final)
	if fn != nil {
		if err := fn(final); err != nil {
			return nil, err
		}
	}
	return acc.Response("anthropic"), nil
}

// usageFrom normalizes Anthropic token accounting. Cache creation and read
// counts are additive to input_tokens, not a subset, so they stay in their
// own fields.
func usageFrom(u anthropic.Usage) llm.Usage {
	usage := llm.NewUsage(int(u.InputTokens), int(u.OutputTokens))
	usage.CacheCreationTokens = int(u.CacheCreationInputTokens)
	usage.CacheReadTokens = int(u.CacheReadInputTokens)
	return usage
}

// mapStopReason translates Anthropic stop reasons to the OpenAI-style
// vocabulary the rest of the engine speaks.
func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

// ============================================================================
// MODELS
// ============================================================================

// Models lists the known Anthropic models. The lineup is small and
// relatively static, so this comes from the builtin catalog rather than a
// network round trip.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	return catalog.Default().Models("anthropic"), nil
}

// ValidateModel checks the model against the known lineup. Dated snapshot
// ids newer than the catalog pass on the claude- prefix; the API itself is
// the final arbiter at request time.
func (c *Client) ValidateModel(ctx context.Context, model string) error {
	known, _ := c.Models(ctx)
	for _, id := range known {
		if id == model {
			return nil
		}
	}
	if strings.HasPrefix(model, "claude-") {
		return nil
	}
	return llm.NewInvalidModelError("anthropic", model)
}

// ============================================================================
// ERROR MAPPING
// ============================================================================

func (c *Client) mapError(err error, model string) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return llm.NewAuthenticationError("anthropic", "API key rejected")
		case 404:
			return llm.NewInvalidModelError("anthropic", model)
		case 429:
			return llm.NewRateLimitError("anthropic", "rate limited by upstream")
		default:
			return llm.NewProviderAPIError("anthropic", apiErr.StatusCode,
				fmt.Sprintf("upstream error (HTTP %d)", apiErr.StatusCode), err)
		}
	}
	return llm.NewProviderAPIError("anthropic", 0, "request failed", err)
}

func rawPayload(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func init() {
	provider.Register("anthropic", func(cfg provider.Config) (provider.Provider, error) { return New(cfg) })
}
