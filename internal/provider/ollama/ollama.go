// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama adapts a local Ollama server to the unified provider
// interface. Ollama needs no API key, reports token counts as eval counts,
// and streams newline-delimited JSON instead of SSE. Every model it serves
// is free, so cost annotation yields zero by construction.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Bytes0211/stratifyai/internal/llm"
	"github.com/Bytes0211/stratifyai/internal/provider"
)

const (
	// DefaultBaseURL is the standard local Ollama endpoint.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultModel is used when neither config nor request names one.
	DefaultModel = "llama3.2"
)

// Client serves a local Ollama instance.
type Client struct {
	baseURL string
	model   string
	limiter *provider.Limiter

	httpClient   *http.Client
	streamClient *http.Client
}

// New creates an Ollama adapter. No API key is required; cfg.APIKey is
// ignored.
func New(cfg provider.Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		model:        cfg.Model,
		limiter:      provider.NewLimiter(cfg.RequestsPerSecond),
		httpClient:   provider.HTTPClient(cfg),
		streamClient: provider.StreamingClient(cfg),
	}, nil
}

// Name returns "ollama".
func (c *Client) Name() string {
	return "ollama"
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

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

// chatResponse is both the single-shot response and one stream line; the
// final stream line has Done set and carries the eval counts.
type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`

	DoneReason      string `json:"done_reason,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	TotalDuration   int64  `json:"total_duration,omitempty"`
}

type ollamaError struct {
	Error string `json:"error"`
}

func buildRequest(req *llm.ChatRequest, model string, stream bool) *chatRequest {
	out := &chatRequest{
		Model:    model,
		Messages: make([]chatMessage, 0, len(req.Messages)),
		Stream:   stream,
	}
	for _, msg := range req.Messages {
		m := chatMessage{Role: string(msg.Role), Content: msg.Content}
		if msg.Role == llm.RoleUser && msg.HasImage() {
			text, image := msg.ParseVisionContent()
			if image != nil {
				m.Content = text
				m.Images = []string{image.Base64}
			}
		}
		out.Messages = append(out.Messages, m)
	}

	opts := &chatOptions{}
	temp := req.Temperature
	opts.Temperature = &temp
	if req.TopP > 0 {
		topP := req.TopP
		opts.TopP = &topP
	}
	if req.MaxTokens > 0 {
		opts.NumPredict = req.MaxTokens
	}
	if len(req.Stop) > 0 {
		opts.Stop = req.Stop
	}
	out.Options = opts
	return out
}

func mapDoneReason(reason string) string {
	switch reason {
	case "stop", "":
		return "stop"
	case "length":
		return "length"
	default:
		return reason
	}
}

// ============================================================================
// CHAT
// ============================================================================

// Chat executes a non-streaming completion against the local server.
func (c *Client) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	model := c.resolveModel(req)
	payload, err := json.Marshal(buildRequest(req, model, false))
	if err != nil {
		return nil, llm.NewValidationError(fmt.Sprintf("failed to encode request: %v", err))
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, llm.NewProviderAPIError("ollama", 0, "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.connectionError(err)
	}
	defer resp.Body.Close()

	body, err := provider.ReadResponse(resp)
	if err != nil {
		return nil, llm.NewProviderAPIError("ollama", 0, err.Error(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp.StatusCode, body, model)
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, llm.NewProviderAPIError("ollama", 0, "failed to parse response", err)
	}

	var raw map[string]any
	_ = json.Unmarshal(body, &raw)

	return &llm.ChatResponse{
		ID:           llm.NewResponseID(),
		Model:        result.Model,
		Content:      result.Message.Content,
		FinishReason: mapDoneReason(result.DoneReason),
		Usage:        llm.NewUsage(result.PromptEvalCount, result.EvalCount),
		Provider:     "ollama",
		CreatedAt:    time.Now(),
		LatencyMs:    float64(time.Since(start).Milliseconds()),
		RawResponse:  raw,
	}, nil
}

// ChatStream executes a streaming completion. Ollama streams one JSON
// object per line; the final line carries the eval counts.
func (c *Client) ChatStream(ctx context.Context, req *llm.ChatRequest, fn llm.StreamFunc) (*llm.ChatResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	model := c.resolveModel(req)
	payload, err := json.Marshal(buildRequest(req, model, true))
	if err != nil {
		return nil, llm.NewValidationError(fmt.Sprintf("failed to encode request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, llm.NewProviderAPIError("ollama", 0, "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, c.connectionError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := provider.ReadResponse(resp)
		if readErr != nil {
			return nil, llm.NewProviderAPIError("ollama", resp.StatusCode, "stream rejected", readErr)
		}
		return nil, c.handleErrorResponse(resp.StatusCode, body, model)
	}

	acc := llm.NewStreamAccumulator()
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var cr chatResponse
			if jsonErr := json.Unmarshal(bytes.TrimSpace(line), &cr); jsonErr != nil {
				return nil, llm.NewProviderAPIError("ollama", 0, "malformed stream line", jsonErr)
			}

			chunk := llm.StreamChunk{Model: cr.Model, Delta: cr.Message.Content}
			if cr.Done {
				chunk.Done = true
				chunk.FinishReason = mapDoneReason(cr.DoneReason)
				usage := llm.NewUsage(cr.PromptEvalCount, cr.EvalCount)
				chunk.Usage = &usage
			}
			acc.Add(chunk)
			if fn != nil {
				if cbErr := fn(chunk); cbErr != nil {
					return nil, cbErr
				}
			}
			if cr.Done {
				return acc.Response("ollama"), nil
			}
		}
		if err != nil {
			if err == io.EOF {
				// Stream ended without a done line; return what arrived.
				return acc.Response("ollama"), nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, llm.NewProviderAPIError("ollama", 0, "stream interrupted", err)
		}
	}
}

// ============================================================================
// MODELS
// ============================================================================

// Models lists the locally pulled model names via /api/tags.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, llm.NewProviderAPIError("ollama", 0, "failed to build request", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.connectionError(err)
	}
	defer resp.Body.Close()

	body, err := provider.ReadResponse(resp)
	if err != nil {
		return nil, llm.NewProviderAPIError("ollama", 0, err.Error(), err)
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
		return nil, llm.NewProviderAPIError("ollama", 0, "failed to parse model list", err)
	}
	names := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// ValidateModel checks whether the model has been pulled locally. The
// :latest tag is implied when the requested name carries no tag.
func (c *Client) ValidateModel(ctx context.Context, model string) error {
	names, err := c.Models(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == model || name == model+":latest" {
			return nil
		}
	}
	return llm.NewInvalidModelError("ollama", model)
}

// ============================================================================
// ERROR MAPPING
// ============================================================================

func (c *Client) handleErrorResponse(statusCode int, body []byte, model string) error {
	message := ""
	var apiErr ollamaError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		message = apiErr.Error
	}

	if statusCode == http.StatusNotFound && model != "" {
		return llm.NewInvalidModelError("ollama", model)
	}
	if message == "" {
		message = fmt.Sprintf("upstream error (HTTP %d)", statusCode)
	}
	return llm.NewProviderAPIError("ollama", statusCode, message, nil)
}

// connectionError maps transport failures. A refused connection almost
// always means the server is not running, which deserves a clearer message
// than a raw dial error.
func (c *Client) connectionError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return llm.NewProviderAPIError("ollama", 0,
		"cannot reach ollama at "+c.baseURL+" (is the server running?)", err)
}

func init() {
	provider.Register("ollama", func(cfg provider.Config) (provider.Provider, error) { return New(cfg) })
}
