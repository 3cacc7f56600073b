// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bytes0211/stratifyai/internal/catalog"
	"github.com/Bytes0211/stratifyai/internal/client"
	"github.com/Bytes0211/stratifyai/internal/llm"
	"github.com/Bytes0211/stratifyai/internal/provider"
	"github.com/Bytes0211/stratifyai/internal/router"
)

// ============================================================================
// TEST FIXTURES
// ============================================================================

// fakeProvider serves canned responses; err short-circuits every call.
type fakeProvider struct {
	name string
	err  error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{
		ID:           llm.NewResponseID(),
		Model:        req.Model,
		Content:      "response from " + f.name,
		FinishReason: "stop",
		Usage:        llm.NewUsage(10, 5),
		Provider:     f.name,
	}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req *llm.ChatRequest, fn llm.StreamFunc) (*llm.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, delta := range []string{"str", "eam"} {
		if err := fn(llm.StreamChunk{Model: req.Model, Delta: delta}); err != nil {
			return nil, err
		}
	}
	usage := llm.NewUsage(4, 2)
	if err := fn(llm.StreamChunk{Model: req.Model, Done: true, FinishReason: "stop", Usage: &usage}); err != nil {
		return nil, err
	}
	return &llm.ChatResponse{
		Model:    req.Model,
		Content:  "stream",
		Usage:    usage,
		Provider: f.name,
	}, nil
}

func (f *fakeProvider) Models(ctx context.Context) ([]string, error)      { return nil, nil }
func (f *fakeProvider) ValidateModel(ctx context.Context, m string) error { return nil }

func newTestServer(t *testing.T, fakes ...*fakeProvider) *Server {
	t.Helper()
	providers := make(map[string]provider.Provider, len(fakes))
	for _, f := range fakes {
		providers[f.name] = f
	}
	cat := catalog.Default()
	cli := client.New(client.Options{
		Providers: providers,
		Catalog:   cat,
		Router:    router.New(cat, router.StrategyCost),
	})
	srv := New("127.0.0.1", 0, cli)
	srv.logger = log.New(io.Discard, "", 0)
	return srv
}

func postCompletion(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

// ============================================================================
// CHAT COMPLETIONS
// ============================================================================

func TestChatCompletionBasic(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{name: "openai"})

	rec := postCompletion(t, srv, `{
		"model": "gpt-4o",
		"messages": [{"role": "user", "content": "hello"}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp chatCompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "chat.completion", resp.Object)
	assert.Equal(t, "gpt-4o", resp.Model)
	assert.Equal(t, "openai", resp.Provider)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "assistant", resp.Choices[0].Message.Role)
	assert.Equal(t, "response from openai", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
}

func TestChatCompletionAutoRoutes(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{name: "openai"})

	rec := postCompletion(t, srv, `{
		"model": "auto",
		"messages": [{"role": "user", "content": "hello"}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Only openai is configured, so routing must land there.
	assert.Equal(t, "openai", rec.Header().Get("X-Routed-Provider"))
	assert.NotEmpty(t, rec.Header().Get("X-Routed-Model"))
	assert.Equal(t, "cost", rec.Header().Get("X-Routed-Strategy"))
}

func TestChatCompletionProviderPrefix(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{name: "ollama"})

	rec := postCompletion(t, srv, `{
		"model": "ollama/some-local-model",
		"messages": [{"role": "user", "content": "hello"}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp chatCompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ollama", resp.Provider)
	assert.Equal(t, "some-local-model", resp.Model)
}

func TestChatCompletionValidation(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{name: "openai"})

	tests := []struct {
		name string
		body string
	}{
		{"empty messages", `{"model": "gpt-4o", "messages": []}`},
		{"invalid role", `{"model": "gpt-4o", "messages": [{"role": "wizard", "content": "hi"}]}`},
		{"temperature too high", `{"model": "gpt-4o", "temperature": 3.0, "messages": [{"role": "user", "content": "hi"}]}`},
		{"negative max_tokens", `{"model": "gpt-4o", "max_tokens": -1, "messages": [{"role": "user", "content": "hi"}]}`},
		{"max_tokens over limit", `{"model": "gpt-4o", "max_tokens": 999999, "messages": [{"role": "user", "content": "hi"}]}`},
		{"malformed json", `{"model": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postCompletion(t, srv, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var errResp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
			assert.Equal(t, "invalid_request_error", errResp.Error.Type)
		})
	}
}

func TestChatCompletionTooManyMessages(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{name: "openai"})

	var msgs []string
	for i := 0; i < MaxMessageCount+1; i++ {
		msgs = append(msgs, `{"role": "user", "content": "hi"}`)
	}
	body := fmt.Sprintf(`{"model": "gpt-4o", "messages": [%s]}`, strings.Join(msgs, ","))

	rec := postCompletion(t, srv, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatCompletionBodyTooLarge(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{name: "openai"})

	big := strings.Repeat("x", MaxRequestBodySize+1)
	body := fmt.Sprintf(`{"model": "gpt-4o", "messages": [{"role": "user", "content": "%s"}]}`, big)

	rec := postCompletion(t, srv, body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestChatCompletionErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"rate limit", llm.NewRateLimitError("openai", "slow down"), http.StatusTooManyRequests, "rate_limit_error"},
		{"authentication", llm.NewAuthenticationError("openai", "bad key"), http.StatusUnauthorized, "authentication_error"},
		{"invalid model", llm.NewInvalidModelError("openai", "nope"), http.StatusNotFound, "not_found_error"},
		{"budget exceeded", llm.NewBudgetExceededError("daily budget reached"), http.StatusPaymentRequired, "budget_exceeded_error"},
		{"upstream failure", llm.NewProviderAPIError("openai", 500, "boom", nil), http.StatusBadGateway, "api_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeProvider{name: "openai", err: tt.err})
			rec := postCompletion(t, srv, `{
				"model": "gpt-4o",
				"messages": [{"role": "user", "content": "hello"}]
			}`)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var errResp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
			assert.Equal(t, tt.wantType, errResp.Error.Type)
		})
	}
}

// ============================================================================
// STREAMING
// ============================================================================

func TestChatCompletionStreaming(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{name: "openai"})

	rec := postCompletion(t, srv, `{
		"model": "gpt-4o",
		"stream": true,
		"messages": [{"role": "user", "content": "hello"}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]"))

	// Reassemble deltas and check the terminal chunk.
	var content strings.Builder
	var sawFinish bool
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") || line == "data: [DONE]" {
			continue
		}
		var chunk streamChunk
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk))
		assert.Equal(t, "chat.completion.chunk", chunk.Object)
		require.Len(t, chunk.Choices, 1)
		content.WriteString(chunk.Choices[0].Delta.Content)
		if chunk.Choices[0].FinishReason != nil {
			sawFinish = true
			assert.Equal(t, "stop", *chunk.Choices[0].FinishReason)
			require.NotNil(t, chunk.Usage)
			assert.Equal(t, 6, chunk.Usage.TotalTokens)
		}
	}
	assert.Equal(t, "stream", content.String())
	assert.True(t, sawFinish, "stream must carry a finish_reason chunk")
}

func TestChatCompletionStreamingErrorBeforeFirstChunk(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{
		name: "openai",
		err:  llm.NewRateLimitError("openai", "slow down"),
	})

	rec := postCompletion(t, srv, `{
		"model": "gpt-4o",
		"stream": true,
		"messages": [{"role": "user", "content": "hello"}]
	}`)
	// Nothing was streamed, so a real error status is still possible.
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

// ============================================================================
// MODELS, HEALTH, STATS
// ============================================================================

func TestModelsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{name: "openai"})

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp modelsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "list", resp.Object)
	require.NotEmpty(t, resp.Data)

	ids := make(map[string]bool)
	for _, m := range resp.Data {
		assert.Equal(t, "model", m.Object)
		assert.Equal(t, "openai", m.OwnedBy)
		ids[m.ID] = true
	}
	assert.True(t, ids["gpt-4o"])
}

func TestModelsEndpointNoProviders(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"object": "list", "data": []}`, rec.Body.String())
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{name: "openai"})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, Version, resp.Version)
	assert.Equal(t, []string{"openai"}, resp.Providers)
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{name: "openai"})

	rec := postCompletion(t, srv, `{
		"model": "gpt-4o",
		"messages": [{"role": "user", "content": "hello"}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	statsRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(statsRec, req)
	require.Equal(t, http.StatusOK, statsRec.Code)

	var stats ServerStats
	require.NoError(t, json.Unmarshal(statsRec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, int64(15), stats.TotalTokens)
}

// ============================================================================
// MIDDLEWARE
// ============================================================================

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{name: "openai"}).
		WithAuth(TokenAuth("secret-token"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestValidateBearerToken(t *testing.T) {
	assert.True(t, ValidateBearerToken("abc", "abc"))
	assert.False(t, ValidateBearerToken("abc", "abd"))
	assert.False(t, ValidateBearerToken("", "abc"))
	assert.False(t, ValidateBearerToken("abc", ""))
	assert.False(t, ValidateBearerToken("", ""))
}

func TestAuthIPAllowlist(t *testing.T) {
	cfg := &AuthConfig{
		Enabled:     true,
		BearerToken: "tok",
		AllowedIPs:  []string{"10.1.0.0/16", "192.0.2.7"},
	}

	assert.True(t, cfg.isIPAllowed("10.1.2.3"))
	assert.True(t, cfg.isIPAllowed("192.0.2.7"))
	assert.False(t, cfg.isIPAllowed("10.2.0.1"))
	assert.False(t, cfg.isIPAllowed("not-an-ip"))
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "default-src 'self'", rec.Header().Get("Content-Security-Policy"))
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	handler := RecoveryMiddleware()(panicking)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	line := buf.String()
	assert.Contains(t, line, "GET /v1/models")
	assert.Contains(t, line, "418")
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"direct connection", "203.0.113.9:1234", "", "203.0.113.9"},
		{"untrusted proxy ignores xff", "203.0.113.9:1234", "198.51.100.1", "203.0.113.9"},
		{"trusted proxy honors xff", "127.0.0.1:1234", "198.51.100.1", "198.51.100.1"},
		{"trusted proxy bad xff falls back", "127.0.0.1:1234", "garbage", "127.0.0.1"},
		{"xff first entry wins", "10.0.0.5:443", "198.51.100.1, 10.0.0.5", "198.51.100.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, GetClientIP(req))
		})
	}
}

// ============================================================================
// TARGET RESOLUTION
// ============================================================================

func TestResolveTarget(t *testing.T) {
	srv := newTestServer(t,
		&fakeProvider{name: "openai"},
		&fakeProvider{name: "anthropic"},
	)

	tests := []struct {
		model        string
		wantProvider string
		wantModel    string
	}{
		{"", client.AutoProvider, ""},
		{"auto", client.AutoProvider, ""},
		{"gpt-4o", "openai", "gpt-4o"},
		{"claude-3-5-sonnet-20241022", "anthropic", "claude-3-5-sonnet-20241022"},
		{"openai/custom-model", "openai", "custom-model"},
		{"totally-unknown", client.AutoProvider, "totally-unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			gotProvider, gotModel := srv.resolveTarget(tt.model)
			assert.Equal(t, tt.wantProvider, gotProvider)
			assert.Equal(t, tt.wantModel, gotModel)
		})
	}
}

func TestResolveTargetSingleProviderFallback(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{name: "ollama"})

	p, m := srv.resolveTarget("some-unlisted-model")
	assert.Equal(t, "ollama", p)
	assert.Equal(t, "some-unlisted-model", m)
}
