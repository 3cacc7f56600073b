// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the engine over HTTP with OpenAI-compatible
// endpoints.
//
// Endpoints:
//   - POST /v1/chat/completions - chat completions (routing when model is "auto")
//   - GET  /v1/models           - models available through configured providers
//   - GET  /healthz             - health check
//   - GET  /stats               - request counters since start
//
// Supports both streaming (SSE) and non-streaming responses.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Bytes0211/stratifyai/internal/client"
	"github.com/Bytes0211/stratifyai/internal/llm"
	"github.com/Bytes0211/stratifyai/internal/router"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultPort is the default listen port.
	DefaultPort = 8080

	// MaxRequestBodySize caps request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxMessageCount caps messages per request.
	MaxMessageCount = 100

	// MaxMessageLength caps a single message body.
	MaxMessageLength = 100000

	// MaxTokensLimit caps the max_tokens parameter.
	MaxTokensLimit = 128000

	// MinTemperature and MaxTemperature bound the temperature parameter.
	MinTemperature = 0.0
	MaxTemperature = 2.0

	// Version is reported by /healthz.
	Version = "0.3.0"
)

// validateMessages rejects unknown roles before anything reaches a
// provider.
func validateMessages(messages []wireMessage) error {
	for i, msg := range messages {
		role := llm.Role(msg.Role)
		if role != llm.RoleUser && role != llm.RoleAssistant && role != llm.RoleSystem {
			return fmt.Errorf("invalid role %q at message %d: must be one of user, assistant, system", msg.Role, i)
		}
	}
	return nil
}

// ============================================================================
// SERVER STATS
// ============================================================================

// ServerStats tracks request counters since startup.
type ServerStats struct {
	mu sync.Mutex

	TotalRequests  int64     `json:"total_requests"`
	StreamRequests int64     `json:"stream_requests"`
	CacheHits      int64     `json:"cache_hits"`
	RoutedRequests int64     `json:"routed_requests"`
	TotalTokens    int64     `json:"total_tokens"`
	TotalCostUSD   float64   `json:"total_cost_usd"`
	StartTime      time.Time `json:"start_time"`
}

// NewServerStats creates zeroed stats anchored at now.
func NewServerStats() *ServerStats {
	return &ServerStats{StartTime: time.Now()}
}

// Record folds one completed request into the counters.
func (s *ServerStats) Record(resp *llm.ChatResponse, meta client.Meta, streamed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.TotalRequests++
	if streamed {
		s.StreamRequests++
	}
	if meta.CacheHit {
		s.CacheHits++
	}
	if meta.Decision != nil {
		s.RoutedRequests++
	}
	if resp != nil {
		s.TotalTokens += int64(resp.Usage.TotalTokens)
		s.TotalCostUSD += resp.Usage.CostUSD
	}
}

// Snapshot returns a copy of the counters.
func (s *ServerStats) Snapshot() ServerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ServerStats{
		TotalRequests:  s.TotalRequests,
		StreamRequests: s.StreamRequests,
		CacheHits:      s.CacheHits,
		RoutedRequests: s.RoutedRequests,
		TotalTokens:    s.TotalTokens,
		TotalCostUSD:   s.TotalCostUSD,
		StartTime:      s.StartTime,
	}
}

// Uptime returns time since startup.
func (s *ServerStats) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// ============================================================================
// SERVER
// ============================================================================

// Server serves the engine over HTTP.
type Server struct {
	host string
	port int

	cli    *client.Client
	mux    *http.ServeMux
	server *http.Server
	stats  *ServerStats
	auth   *AuthConfig
	logger *log.Logger
}

// New creates a Server for the given client. Port 0 uses DefaultPort.
func New(host string, port int, cli *client.Client) *Server {
	if port == 0 {
		port = DefaultPort
	}
	if host == "" {
		host = "127.0.0.1"
	}

	s := &Server{
		host:   host,
		port:   port,
		cli:    cli,
		mux:    http.NewServeMux(),
		stats:  NewServerStats(),
		auth:   DefaultAuthConfig(),
		logger: log.New(os.Stderr, "", 0),
	}
	s.setupRoutes()
	return s
}

// WithAuth sets the authentication configuration.
func (s *Server) WithAuth(config *AuthConfig) *Server {
	s.auth = config
	return s
}

// WithLogger sets the request logger.
func (s *Server) WithLogger(logger *log.Logger) *Server {
	s.logger = logger
	return s
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.host, s.port)
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	s.mux.HandleFunc("GET /v1/models", s.handleModels)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /stats", s.handleStats)
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	chain := Chain(
		RecoveryMiddleware(),
		LoggingMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		AuthMiddleware(s.auth),
	)
	return chain(s.mux)
}

// Start runs the server until Shutdown or a listener error.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// ============================================================================
// OPENAI-COMPATIBLE TYPES
// ============================================================================

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type wireUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd,omitempty"`
}

type chatCompletionResponse struct {
	ID       string       `json:"id"`
	Object   string       `json:"object"`
	Created  int64        `json:"created"`
	Model    string       `json:"model"`
	Provider string       `json:"provider,omitempty"`
	Choices  []chatChoice `json:"choices"`
	Usage    wireUsage    `json:"usage"`
}

type streamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type streamChoice struct {
	Index        int         `json:"index"`
	Delta        streamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type streamChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []streamChoice `json:"choices"`
	Usage   *wireUsage     `json:"usage,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ============================================================================
// CHAT COMPLETIONS HANDLER
// ============================================================================

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	// SECURITY: Bound the body before decoding to prevent memory DoS.
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if strings.Contains(err.Error(), "request body too large") {
			s.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds maximum size of %d bytes", MaxRequestBodySize))
			return
		}
		// Full decode error stays in the log; the client gets a generic
		// message.
		log.Printf("Invalid request body: %v", err)
		s.writeError(w, http.StatusBadRequest, "invalid request format")
		return
	}

	if len(req.Messages) == 0 {
		s.writeError(w, http.StatusBadRequest, "request must contain at least one message")
		return
	}
	if len(req.Messages) > MaxMessageCount {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("too many messages: maximum is %d", MaxMessageCount))
		return
	}
	if err := validateMessages(req.Messages); err != nil {
		log.Printf("Message validation failed: %v", err)
		s.writeError(w, http.StatusBadRequest, "messages must have valid roles (user, assistant, system)")
		return
	}
	for i, msg := range req.Messages {
		if len(msg.Content) > MaxMessageLength {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("message %d exceeds maximum length of %d", i, MaxMessageLength))
			return
		}
	}
	if req.MaxTokens < 0 || req.MaxTokens > MaxTokensLimit {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("max_tokens must be between 0 and %d", MaxTokensLimit))
		return
	}
	if req.Temperature != nil && (*req.Temperature < MinTemperature || *req.Temperature > MaxTemperature) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("temperature must be between %.1f and %.1f", MinTemperature, MaxTemperature))
		return
	}

	providerName, chatReq := s.buildChatRequest(req)

	if req.Stream {
		s.handleStreamingCompletion(w, r, providerName, chatReq)
	} else {
		s.handleNonStreamingCompletion(w, r, providerName, chatReq)
	}
}

// buildChatRequest converts the wire request into the engine request and
// resolves which provider should serve it. Model "auto" (or empty) leaves
// the choice to the router.
func (s *Server) buildChatRequest(req chatCompletionRequest) (string, *llm.ChatRequest) {
	messages := make([]llm.Message, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = llm.Message{Role: llm.Role(msg.Role), Content: msg.Content}
	}

	providerName, model := s.resolveTarget(req.Model)

	out := llm.NewChatRequest(model, messages)
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		out.TopP = *req.TopP
	}
	out.MaxTokens = req.MaxTokens
	out.Stop = req.Stop
	return providerName, out
}

// resolveTarget maps the wire model field to (provider, model). The
// catalog decides which configured provider owns a model; unknown models
// fall through to the sole configured provider when there is exactly one.
func (s *Server) resolveTarget(model string) (string, string) {
	model = strings.TrimSpace(model)
	if model == "" || strings.EqualFold(model, client.AutoProvider) {
		return client.AutoProvider, ""
	}

	cat := s.cli.Catalog()
	configured := s.cli.Providers()
	for _, p := range configured {
		if _, ok := cat.Lookup(p, model); ok {
			return p, model
		}
	}

	// "provider/model" addressing for models the catalog does not know.
	// Checked after the catalog so slashed catalog model ids resolve to
	// their owning provider first.
	if idx := strings.IndexByte(model, '/'); idx > 0 {
		prefix := strings.ToLower(model[:idx])
		for _, p := range configured {
			if p == prefix {
				return p, model[idx+1:]
			}
		}
	}

	if len(configured) == 1 {
		return configured[0], model
	}
	// Let the client produce the InvalidModel error against a routed
	// provider choice; dispatch to auto keeps the error taxonomy uniform.
	return client.AutoProvider, model
}

func (s *Server) handleNonStreamingCompletion(w http.ResponseWriter, r *http.Request, providerName string, chatReq *llm.ChatRequest) {
	resp, meta, err := s.cli.Chat(r.Context(), providerName, chatReq, router.Constraint{})
	if err != nil {
		s.writeClientError(w, err)
		return
	}
	s.stats.Record(resp, meta, false)

	s.setResultHeaders(w, meta)
	s.writeJSON(w, http.StatusOK, toWireResponse(resp))
}

func toWireResponse(resp *llm.ChatResponse) chatCompletionResponse {
	id := resp.ID
	if id == "" {
		id = llm.NewResponseID()
	}
	return chatCompletionResponse{
		ID:       id,
		Object:   "chat.completion",
		Created:  resp.CreatedAt.Unix(),
		Model:    resp.Model,
		Provider: resp.Provider,
		Choices: []chatChoice{
			{
				Index:        0,
				Message:      wireMessage{Role: "assistant", Content: resp.Content},
				FinishReason: resp.FinishReason,
			},
		},
		Usage: wireUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
			CostUSD:          resp.Usage.CostUSD,
		},
	}
}

// setResultHeaders reports cache and routing outcomes without touching
// the OpenAI-shaped body.
func (s *Server) setResultHeaders(w http.ResponseWriter, meta client.Meta) {
	if meta.CacheHit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	if meta.Decision != nil {
		w.Header().Set("X-Routed-Provider", meta.Decision.Provider)
		w.Header().Set("X-Routed-Model", meta.Decision.Model)
		w.Header().Set("X-Routed-Strategy", meta.Decision.Strategy.String())
	}
}

// ============================================================================
// STREAMING
// ============================================================================

func (s *Server) handleStreamingCompletion(w http.ResponseWriter, r *http.Request, providerName string, chatReq *llm.ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	chatReq.Stream = true
	id := llm.NewResponseID()
	created := time.Now().Unix()
	headersSent := false

	sendChunk := func(chunk streamChunk) {
		if !headersSent {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			headersSent = true
		}
		data, err := json.Marshal(chunk)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	resp, meta, err := s.cli.ChatStream(r.Context(), providerName, chatReq, router.Constraint{}, func(chunk llm.StreamChunk) error {
		out := streamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   chunk.Model,
			Choices: []streamChoice{{Index: 0}},
		}
		if chunk.Delta != "" {
			out.Choices[0].Delta.Content = chunk.Delta
		}
		if chunk.Done {
			reason := chunk.FinishReason
			if reason == "" {
				reason = "stop"
			}
			out.Choices[0].FinishReason = &reason
			if chunk.Usage != nil {
				out.Usage = &wireUsage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				}
			}
		}
		sendChunk(out)
		return nil
	})
	if err != nil {
		// Nothing streamed yet: a proper error status is still possible.
		if !headersSent {
			s.writeClientError(w, err)
			return
		}
		// Mid-stream failure: the SSE contract only allows ending the
		// stream.
		log.Printf("STREAM_ABORTED | error=%v", err)
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
		return
	}

	s.stats.Record(resp, meta, true)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// ============================================================================
// MODELS
// ============================================================================

type modelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

type modelsResponse struct {
	Object string      `json:"object"`
	Data   []modelInfo `json:"data"`
}

// handleModels lists the catalog models of every configured provider.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	cat := s.cli.Catalog()

	var models []modelInfo
	for _, p := range s.cli.Providers() {
		for _, m := range cat.Models(p) {
			models = append(models, modelInfo{
				ID:      m,
				Object:  "model",
				OwnedBy: p,
			})
		}
	}
	if models == nil {
		models = []modelInfo{}
	}

	s.writeJSON(w, http.StatusOK, modelsResponse{Object: "list", Data: models})
}

// ============================================================================
// HEALTH AND STATS
// ============================================================================

type healthResponse struct {
	Status     string   `json:"status"`
	Version    string   `json:"version"`
	UptimeSecs int64    `json:"uptime_secs"`
	Providers  []string `json:"providers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		Version:    Version,
		UptimeSecs: int64(s.stats.Uptime().Seconds()),
		Providers:  s.cli.Providers(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

// ============================================================================
// RESPONSE HELPERS
// ============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{
		Error: errorBody{Message: message, Type: errorTypeForStatus(status)},
	})
}

// writeClientError maps the engine error taxonomy onto HTTP statuses.
func (s *Server) writeClientError(w http.ResponseWriter, err error) {
	switch {
	case llm.IsValidation(err):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case llm.IsInvalidProvider(err), llm.IsInvalidModel(err), llm.IsNoEligibleModel(err):
		s.writeError(w, http.StatusNotFound, err.Error())
	case llm.IsAuthentication(err):
		s.writeError(w, http.StatusUnauthorized, err.Error())
	case llm.IsRateLimit(err):
		s.writeError(w, http.StatusTooManyRequests, err.Error())
	case llm.IsBudgetExceeded(err):
		s.writeError(w, http.StatusPaymentRequired, err.Error())
	default:
		s.writeError(w, http.StatusBadGateway, err.Error())
	}
}

func errorTypeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return "invalid_request_error"
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusPaymentRequired:
		return "budget_exceeded_error"
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	default:
		return "api_error"
	}
}
