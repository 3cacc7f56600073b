// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package google adapts the Gemini generateContent API to the unified
// provider interface. Gemini has no official Go SDK in this stack, so the
// adapter speaks the REST API directly: JSON over HTTPS for single
// completions, SSE for streaming.
package google

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Bytes0211/stratifyai/internal/llm"
	"github.com/Bytes0211/stratifyai/internal/provider"
)

const (
	// DefaultModel is used when neither config nor request names one.
	DefaultModel = "gemini-2.0-flash"

	// DefaultBaseURL is the Gemini REST endpoint root.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// maxRetries bounds the retry loop for transient errors.
	maxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second
)

// Client serves the Gemini API.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	limiter *provider.Limiter

	httpClient   *http.Client
	streamClient *http.Client
}

// New creates a Gemini adapter. The key falls back to GEMINI_API_KEY when
// cfg leaves it empty.
func New(cfg provider.Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	if cfg.APIKey == "" {
		cfg.APIKey = provider.KeyFromEnv("google")
	}
	if cfg.APIKey == "" {
		return nil, llm.NewAuthenticationError("google", "API key not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	return &Client{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		model:        cfg.Model,
		limiter:      provider.NewLimiter(cfg.RequestsPerSecond),
		httpClient:   provider.HTTPClient(cfg),
		streamClient: provider.StreamingClient(cfg),
	}, nil
}

// Name returns "google".
func (c *Client) Name() string {
	return "google"
}

func (c *Client) resolveModel(req *llm.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return c.model
}

// ============================================================================
// WIRE TYPES
// ============================================================================

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount        int `json:"promptTokenCount"`
		CandidatesTokenCount    int `json:"candidatesTokenCount"`
		TotalTokenCount         int `json:"totalTokenCount"`
		CachedContentTokenCount int `json:"cachedContentTokenCount"`
		ThoughtsTokenCount      int `json:"thoughtsTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// ============================================================================
// REQUEST MAPPING
// ============================================================================

func buildRequest(req *llm.ChatRequest) *geminiRequest {
	out := &geminiRequest{}
	var system []geminiPart

	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, geminiPart{Text: msg.Content})
		case llm.RoleAssistant:
			// Gemini calls the assistant role "model".
			out.Contents = append(out.Contents, geminiContent{
				Role:  "model",
				Parts: []geminiPart{{Text: msg.Content}},
			})
		default:
			out.Contents = append(out.Contents, geminiContent{
				Role:  "user",
				Parts: userParts(msg),
			})
		}
	}
	if len(system) > 0 {
		out.SystemInstruction = &geminiContent{Parts: system}
	}

	gen := &geminiGenerationConfig{}
	temp := req.Temperature
	gen.Temperature = &temp
	if req.TopP > 0 {
		topP := req.TopP
		gen.TopP = &topP
	}
	if req.MaxTokens > 0 {
		gen.MaxOutputTokens = req.MaxTokens
	}
	if len(req.Stop) > 0 {
		gen.StopSequences = req.Stop
	}
	out.GenerationConfig = gen
	return out
}

func userParts(msg llm.Message) []geminiPart {
	if !msg.HasImage() {
		return []geminiPart{{Text: msg.Content}}
	}
	text, image := msg.ParseVisionContent()
	var parts []geminiPart
	if image != nil {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: image.MimeType,
			Data:     image.Base64,
		}})
	}
	if text != "" {
		parts = append(parts, geminiPart{Text: text})
	}
	return parts
}

// mapFinishReason translates Gemini finish reasons to the OpenAI-style
// vocabulary the rest of the engine speaks.
func mapFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST":
		return "content_filter"
	case "":
		return ""
	default:
		return strings.ToLower(reason)
	}
}

func usageFrom(resp *geminiResponse) llm.Usage {
	usage := llm.NewUsage(resp.UsageMetadata.PromptTokenCount, resp.UsageMetadata.CandidatesTokenCount)
	usage.CachedTokens = resp.UsageMetadata.CachedContentTokenCount
	usage.ReasoningTokens = resp.UsageMetadata.ThoughtsTokenCount
	return usage
}

// ============================================================================
// CHAT
// ============================================================================

// Chat executes a non-streaming completion with retry on transient errors.
func (c *Client) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	model := c.resolveModel(req)
	payload, err := json.Marshal(buildRequest(req))
	if err != nil {
		return nil, llm.NewValidationError(fmt.Sprintf("failed to encode request: %v", err))
	}
	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		body, err := c.post(ctx, url, payload, model)
		if err != nil {
			lastErr = err
			if !isRetryable(err) {
				return nil, err
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(calculateBackoff(attempt)):
			}
			continue
		}

		var gr geminiResponse
		if err := json.Unmarshal(body, &gr); err != nil {
			return nil, llm.NewProviderAPIError("google", 0, "failed to parse response", err)
		}
		if len(gr.Candidates) == 0 {
			return nil, llm.NewProviderAPIError("google", 0, "response contained no candidates", nil)
		}

		var content strings.Builder
		for _, part := range gr.Candidates[0].Content.Parts {
			content.WriteString(part.Text)
		}

		var raw map[string]any
		_ = json.Unmarshal(body, &raw)

		return &llm.ChatResponse{
			ID:           llm.NewResponseID(),
			Model:        model,
			Content:      content.String(),
			FinishReason: mapFinishReason(gr.Candidates[0].FinishReason),
			Usage:        usageFrom(&gr),
			Provider:     "google",
			CreatedAt:    time.Now(),
			LatencyMs:    float64(time.Since(start).Milliseconds()),
			RawResponse:  raw,
		}, nil
	}
	return nil, lastErr
}

// post issues one request and returns the body, mapping error statuses to
// the unified taxonomy.
func (c *Client) post(ctx context.Context, url string, payload []byte, model string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, llm.NewProviderAPIError("google", 0, "failed to build request", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.NewProviderAPIError("google", 0, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := provider.ReadResponse(resp)
	if err != nil {
		return nil, llm.NewProviderAPIError("google", 0, err.Error(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp.StatusCode, body, model)
	}
	return body, nil
}

func (c *Client) setHeaders(req *http.Request) {
	// SECURITY: Key travels in a header, never in the URL, so it cannot
	// leak through proxy or server logs.
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

// handleErrorResponse converts HTTP error statuses to the unified taxonomy.
func (c *Client) handleErrorResponse(statusCode int, body []byte, model string) error {
	message := ""
	var apiErr geminiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return llm.NewAuthenticationError("google", "API key rejected")
	case http.StatusNotFound:
		return llm.NewInvalidModelError("google", model)
	case http.StatusTooManyRequests:
		return llm.NewRateLimitError("google", "rate limited by upstream")
	default:
		if message == "" {
			message = fmt.Sprintf("upstream error (HTTP %d)", statusCode)
		}
		return llm.NewProviderAPIError("google", statusCode, message, nil)
	}
}

// isRetryable reports whether an error should trigger a retry. Rate limits
// and 5xx responses are transient; everything else fails immediately.
func isRetryable(err error) bool {
	if llm.IsRateLimit(err) {
		return true
	}
	var clientErr *llm.ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Status >= 500 && clientErr.Status < 600
	}
	return false
}

// calculateBackoff returns the delay before the next retry attempt.
// Exponential: 500ms, 1000ms, 2000ms, capped at retryMaxDelay.
func calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

// ============================================================================
// STREAMING
// ============================================================================

// ChatStream executes a streaming completion over SSE, forwarding each
// text delta to fn in arrival order. Streams are bounded by ctx, not a
// client timeout.
func (c *Client) ChatStream(ctx context.Context, req *llm.ChatRequest, fn llm.StreamFunc) (*llm.ChatResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	model := c.resolveModel(req)
	payload, err := json.Marshal(buildRequest(req))
	if err != nil {
		return nil, llm.NewValidationError(fmt.Sprintf("failed to encode request: %v", err))
	}
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.baseURL, model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, llm.NewProviderAPIError("google", 0, "failed to build request", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, llm.NewProviderAPIError("google", 0, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := provider.ReadResponse(resp)
		if readErr != nil {
			return nil, llm.NewProviderAPIError("google", resp.StatusCode, "stream rejected", readErr)
		}
		return nil, c.handleErrorResponse(resp.StatusCode, body, model)
	}

	acc := llm.NewStreamAccumulator()
	var last geminiResponse

	scanner := bufio.NewScanner(resp.Body)
	// SECURITY: Line cap bounds memory per SSE event.
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var gr geminiResponse
		if err := json.Unmarshal([]byte(data), &gr); err != nil {
			return nil, llm.NewProviderAPIError("google", 0, "malformed stream event", err)
		}
		last = gr

		if len(gr.Candidates) == 0 {
			continue
		}
		var delta strings.Builder
		for _, part := range gr.Candidates[0].Content.Parts {
			delta.WriteString(part.Text)
		}
		if delta.Len() == 0 {
			continue
		}
		chunk := llm.StreamChunk{Model: model, Delta: delta.String()}
		acc.Add(chunk)
		if fn != nil {
			if err := fn(chunk); err != nil {
				return nil, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, llm.NewProviderAPIError("google", 0, "stream interrupted", err)
	}

	usage := usageFrom(&last)
	finish := ""
	if len(last.Candidates) > 0 {
		finish = mapFinishReason(last.Candidates[0].FinishReason)
	}
	final := llm.StreamChunk{Model: model, FinishReason: finish, Done: true, Usage: &usage}
	acc.Add(final)
	if fn != nil {
		if err := fn(final); err != nil {
			return nil, err
		}
	}
	return acc.Response("google"), nil
}

// ============================================================================
// MODELS
// ============================================================================

// Models lists the model ids the API currently serves, stripped of the
// "models/" resource prefix.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, llm.NewProviderAPIError("google", 0, "failed to build request", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.NewProviderAPIError("google", 0, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := provider.ReadResponse(resp)
	if err != nil {
		return nil, llm.NewProviderAPIError("google", 0, err.Error(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp.StatusCode, body, "")
	}

	var list struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, llm.NewProviderAPIError("google", 0, "failed to parse model list", err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, strings.TrimPrefix(m.Name, "models/"))
	}
	return ids, nil
}

// ValidateModel asks the API whether it recognizes the model.
func (c *Client) ValidateModel(ctx context.Context, model string) error {
	ids, err := c.Models(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == model {
			return nil
		}
	}
	return llm.NewInvalidModelError("google", model)
}

func init() {
	provider.Register("google", func(cfg provider.Config) (provider.Provider, error) { return New(cfg) })
}
