// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package openai adapts the OpenAI chat completions API, and every
// OpenAI-compatible vendor (DeepSeek, Groq, xAI Grok, OpenRouter), to the
// unified provider interface. One adapter, five constructors; only the
// base URL, key env var, and default model differ.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/Bytes0211/stratifyai/internal/llm"
	"github.com/Bytes0211/stratifyai/internal/provider"
	"github.com/Bytes0211/stratifyai/internal/reasoning"
)

// Default models per compatible vendor.
const (
	DefaultModel           = "gpt-4o"
	DefaultDeepSeekModel   = "deepseek-chat"
	DefaultGroqModel       = "llama-3.3-70b-versatile"
	DefaultGrokModel       = "grok-3"
	DefaultOpenRouterModel = "anthropic/claude-3.5-sonnet"
)

// Base URLs for the OpenAI-compatible vendors.
const (
	deepSeekBaseURL   = "https://api.deepseek.com/v1"
	groqBaseURL       = "https://api.groq.com/openai/v1"
	grokBaseURL       = "https://api.x.ai/v1"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
)

// Client serves one OpenAI-compatible backend.
type Client struct {
	api     openai.Client
	name    string
	model   string
	limiter *provider.Limiter
}

// New creates an adapter for api.openai.com, or for any compatible
// endpoint when cfg.BaseURL is set.
func New(cfg provider.Config) (*Client, error) {
	return newCompatible("openai", DefaultModel, "", cfg)
}

// NewDeepSeek creates an adapter for the DeepSeek API.
func NewDeepSeek(cfg provider.Config) (*Client, error) {
	return newCompatible("deepseek", DefaultDeepSeekModel, deepSeekBaseURL, cfg)
}

// NewGroq creates an adapter for the Groq API.
func NewGroq(cfg provider.Config) (*Client, error) {
	return newCompatible("groq", DefaultGroqModel, groqBaseURL, cfg)
}

// NewGrok creates an adapter for the xAI API.
func NewGrok(cfg provider.Config) (*Client, error) {
	return newCompatible("grok", DefaultGrokModel, grokBaseURL, cfg)
}

// NewOpenRouter creates an adapter for the OpenRouter gateway.
func NewOpenRouter(cfg provider.Config) (*Client, error) {
	return newCompatible("openrouter", DefaultOpenRouterModel, openRouterBaseURL, cfg)
}

func newCompatible(name, defaultModel, defaultBaseURL string, cfg provider.Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	if cfg.APIKey == "" {
		cfg.APIKey = provider.KeyFromEnv(name)
	}
	if cfg.APIKey == "" {
		return nil, llm.NewAuthenticationError(name, "API key not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
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
		api:     openai.NewClient(opts...),
		name:    name,
		model:   cfg.Model,
		limiter: provider.NewLimiter(cfg.RequestsPerSecond),
	}, nil
}

// Name returns the provider id this adapter was constructed as.
func (c *Client) Name() string {
	return c.name
}

// ============================================================================
// REQUEST MAPPING
// ============================================================================

// resolveModel applies the adapter default when a request leaves Model empty.
func (c *Client) resolveModel(req *llm.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return c.model
}

func (c *Client) buildParams(req *llm.ChatRequest) openai.ChatCompletionNewParams {
	model := c.resolveModel(req)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, userMessage(msg))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}

	// Reasoning models reject sampling parameters and use the completion
	// token budget field; everything else takes the classic parameters.
	// The facade classifies with the catalog; a direct adapter call falls
	// back to the name patterns.
	if req.ReasoningMode || reasoning.MatchesPattern(c.name, model) {
		if req.MaxTokens > 0 {
			params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
		}
		if req.ReasoningEffort != "" {
			params.ReasoningEffort = shared.ReasoningEffort(req.ReasoningEffort)
		}
	} else {
		params.Temperature = openai.Float(req.Temperature)
		if req.TopP > 0 {
			params.TopP = openai.Float(req.TopP)
		}
		if req.MaxTokens > 0 {
			params.MaxTokens = openai.Int(int64(req.MaxTokens))
		}
		if req.FrequencyPenalty != 0 {
			params.FrequencyPenalty = openai.Float(req.FrequencyPenalty)
		}
		if req.PresencePenalty != 0 {
			params.PresencePenalty = openai.Float(req.PresencePenalty)
		}
	}
	if len(req.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}
	return params
}

// userMessage converts a user turn, splitting inline image payloads into
// content parts for vision models.
func userMessage(msg llm.Message) openai.ChatCompletionMessageParamUnion {
	if !msg.HasImage() {
		return openai.UserMessage(msg.Content)
	}
	text, image := msg.ParseVisionContent()
	var parts []openai.ChatCompletionContentPartUnionParam
	if text != "" {
		parts = append(parts, openai.TextContentPart(text))
	}
	if image != nil {
		dataURL := "data:" + image.MimeType + ";base64," + image.Base64
		parts = append(parts, openai.ImageContentPart(
			openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}))
	}
	return openai.UserMessage(parts)
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
	resp, err := c.api.Chat.Completions.New(ctx, c.buildParams(req))
	if err != nil {
		return nil, c.mapError(err, c.resolveModel(req))
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewProviderAPIError(c.name, 0, "response contained no choices", nil)
	}

	choice := resp.Choices[0]
	out := &llm.ChatResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage:        c.usageFrom(resp.Usage),
		Provider:     c.name,
		CreatedAt:    time.Now(),
		LatencyMs:    float64(time.Since(start).Milliseconds()),
		RawResponse:  rawPayload(resp),
	}
	if out.ID == "" {
		out.ID = llm.NewResponseID()
	}
	return out, nil
}

// ChatStream executes a streaming completion, forwarding each delta to fn
// in arrival order.
func (c *Client) ChatStream(ctx context.Context, req *llm.ChatRequest, fn llm.StreamFunc) (*llm.ChatResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := c.buildParams(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	acc := llm.NewStreamAccumulator()
	stream := c.api.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		chunk := llm.StreamChunk{ID: event.ID, Model: event.Model}
		if len(event.Choices) > 0 {
			chunk.Delta = event.Choices[0].Delta.Content
			chunk.FinishReason = string(event.Choices[0].FinishReason)
		}
		if event.Usage.TotalTokens > 0 {
			u := c.usageFrom(event.Usage)
			chunk.Usage = &u
		}
		acc.Add(chunk)
		if fn != nil {
			if err := fn(chunk); err != nil {
				return nil, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, c.mapError(err, c.resolveModel(req))
	}

	final := llm.StreamChunk{Done: true}
	acc.Add(final)
	if fn != nil {
		if err := fn(final); err != nil {
			return nil, err
		}
	}
	return acc.Response(c.name), nil
}

// usageFrom normalizes the SDK usage block, including the cached and
// reasoning token details OpenAI reports in sub-objects.
func (c *Client) usageFrom(u openai.CompletionUsage) llm.Usage {
	usage := llm.NewUsage(int(u.PromptTokens), int(u.CompletionTokens))
	usage.CachedTokens = int(u.PromptTokensDetails.CachedTokens)
	usage.ReasoningTokens = int(u.CompletionTokensDetails.ReasoningTokens)
	return usage
}

// ============================================================================
// MODELS
// ============================================================================

// Models lists the model ids the backend currently serves.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	page, err := c.api.Models.List(ctx)
	if err != nil {
		return nil, c.mapError(err, "")
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// ValidateModel asks the backend whether it recognizes the model.
func (c *Client) ValidateModel(ctx context.Context, model string) error {
	if _, err := c.api.Models.Get(ctx, model); err != nil {
		mapped := c.mapError(err, model)
		if llm.IsProviderAPI(mapped) {
			return mapped
		}
		return llm.NewInvalidModelError(c.name, model)
	}
	return nil
}

// ============================================================================
// ERROR MAPPING
// ============================================================================

// mapError converts SDK failures into the unified taxonomy at the adapter
// boundary.
func (c *Client) mapError(err error, model string) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return llm.NewAuthenticationError(c.name, "API key rejected")
		case 404:
			return llm.NewInvalidModelError(c.name, model)
		case 429:
			return llm.NewRateLimitError(c.name, "rate limited by upstream")
		default:
			return llm.NewProviderAPIError(c.name, apiErr.StatusCode,
				fmt.Sprintf("upstream error (HTTP %d)", apiErr.StatusCode), err)
		}
	}
	return llm.NewProviderAPIError(c.name, 0, "request failed", err)
}

// rawPayload preserves the provider response for diagnostics. Nothing in
// the engine reads it, so a lossy JSON round-trip is fine.
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
	provider.Register("openai", func(cfg provider.Config) (provider.Provider, error) { return New(cfg) })
	provider.Register("deepseek", func(cfg provider.Config) (provider.Provider, error) { return NewDeepSeek(cfg) })
	provider.Register("groq", func(cfg provider.Config) (provider.Provider, error) { return NewGroq(cfg) })
	provider.Register("grok", func(cfg provider.Config) (provider.Provider, error) { return NewGrok(cfg) })
	provider.Register("openrouter", func(cfg provider.Config) (provider.Provider, error) { return NewOpenRouter(cfg) })
}
