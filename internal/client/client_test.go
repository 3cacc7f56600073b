// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bytes0211/stratifyai/internal/cache"
	"github.com/Bytes0211/stratifyai/internal/catalog"
	"github.com/Bytes0211/stratifyai/internal/llm"
	"github.com/Bytes0211/stratifyai/internal/provider"
	"github.com/Bytes0211/stratifyai/internal/router"
	"github.com/Bytes0211/stratifyai/internal/telemetry"
)

// fakeProvider counts upstream calls and records the last request it saw.
type fakeProvider struct {
	name  string
	calls atomic.Int64

	mu      sync.Mutex
	lastReq *llm.ChatRequest
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastReq = req.Clone()
	f.mu.Unlock()

	model := req.Model
	if model == "" {
		model = "fake-default"
	}
	return &llm.ChatResponse{
		ID:           llm.NewResponseID(),
		Model:        model,
		Content:      "response from " + f.name,
		FinishReason: "stop",
		Usage:        llm.NewUsage(10, 5),
		Provider:     f.name,
	}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req *llm.ChatRequest, fn llm.StreamFunc) (*llm.ChatResponse, error) {
	f.calls.Add(1)
	for _, delta := range []string{"str", "eam"} {
		if fn != nil {
			if err := fn(llm.StreamChunk{Delta: delta}); err != nil {
				return nil, err
			}
		}
	}
	usage := llm.NewUsage(4, 2)
	if fn != nil {
		if err := fn(llm.StreamChunk{Done: true, FinishReason: "stop", Usage: &usage}); err != nil {
			return nil, err
		}
	}
	return &llm.ChatResponse{
		Model:    req.Model,
		Content:  "stream",
		Usage:    usage,
		Provider: f.name,
	}, nil
}

func (f *fakeProvider) Models(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeProvider) ValidateModel(ctx context.Context, model string) error {
	return nil
}

func (f *fakeProvider) lastRequest() *llm.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

func newTestClient(t *testing.T, opts Options, providers ...*fakeProvider) *Client {
	t.Helper()
	opts.Providers = make(map[string]provider.Provider, len(providers))
	for _, p := range providers {
		opts.Providers[p.name] = p
	}
	return New(opts)
}

func askReq(model, prompt string) *llm.ChatRequest {
	return llm.NewChatRequest(model, []llm.Message{llm.NewUserMessage(prompt)})
}

func TestChatUnknownProvider(t *testing.T) {
	c := newTestClient(t, Options{})
	_, _, err := c.Chat(context.Background(), "nope", askReq("m", "hi"), router.Constraint{})
	require.Error(t, err)
	assert.True(t, llm.IsInvalidProvider(err))
}

func TestChatAnnotatesCost(t *testing.T) {
	fake := &fakeProvider{name: "openai"}
	c := newTestClient(t, Options{}, fake)

	resp, meta, err := c.Chat(context.Background(), "openai", askReq("gpt-4o", "hi"), router.Constraint{})
	require.NoError(t, err)
	assert.False(t, meta.CacheHit)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	// gpt-4o is a priced catalog row, so a nonzero cost must be attached.
	assert.Greater(t, resp.Usage.CostUSD, 0.0)
}

func TestChatCacheHitSkipsUpstream(t *testing.T) {
	fake := &fakeProvider{name: "openai"}
	c := newTestClient(t, Options{Cache: cache.New(cache.DefaultConfig())}, fake)
	ctx := context.Background()
	req := askReq("gpt-4o", "same question")

	_, meta1, err := c.Chat(ctx, "openai", req, router.Constraint{})
	require.NoError(t, err)
	assert.False(t, meta1.CacheHit)

	resp2, meta2, err := c.Chat(ctx, "openai", req, router.Constraint{})
	require.NoError(t, err)
	assert.True(t, meta2.CacheHit)
	assert.Equal(t, "response from openai", resp2.Content)

	assert.EqualValues(t, 1, fake.calls.Load())
}

func TestChatConcurrentMissesCollapse(t *testing.T) {
	fake := &fakeProvider{name: "openai"}
	c := newTestClient(t, Options{Cache: cache.New(cache.DefaultConfig())}, fake)
	req := askReq("gpt-4o", "burst")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.Chat(context.Background(), "openai", req, router.Constraint{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Every identical concurrent miss shares one upstream call.
	assert.EqualValues(t, 1, fake.calls.Load())
}

func TestChatDifferentRequestsNotShared(t *testing.T) {
	fake := &fakeProvider{name: "openai"}
	c := newTestClient(t, Options{Cache: cache.New(cache.DefaultConfig())}, fake)
	ctx := context.Background()

	_, _, err := c.Chat(ctx, "openai", askReq("gpt-4o", "one"), router.Constraint{})
	require.NoError(t, err)
	_, _, err = c.Chat(ctx, "openai", askReq("gpt-4o", "two"), router.Constraint{})
	require.NoError(t, err)

	assert.EqualValues(t, 2, fake.calls.Load())
}

func TestReasoningModelTemperatureOverride(t *testing.T) {
	fake := &fakeProvider{name: "openai"}
	c := newTestClient(t, Options{}, fake)

	req := askReq("o3-mini", "prove it")
	req.Temperature = 0.2

	_, _, err := c.Chat(context.Background(), "openai", req, router.Constraint{})
	require.NoError(t, err)

	sent := fake.lastRequest()
	require.NotNil(t, sent)
	assert.Equal(t, 1.0, sent.Temperature)
	// The caller's request is never mutated.
	assert.Equal(t, 0.2, req.Temperature)
}

func TestCatalogFlaggedModelSentAsReasoning(t *testing.T) {
	fake := &fakeProvider{name: "openai"}
	cat := catalog.New([]catalog.ModelInfo{
		// No name pattern matches this; only the catalog flag marks it.
		{Provider: "openai", Model: "lab-thinker", ReasoningModel: true},
	})
	c := newTestClient(t, Options{Catalog: cat}, fake)

	req := askReq("lab-thinker", "hi")
	req.Temperature = 0.2
	_, _, err := c.Chat(context.Background(), "openai", req, router.Constraint{})
	require.NoError(t, err)

	sent := fake.lastRequest()
	require.NotNil(t, sent)
	// The adapter sees the catalog-aware classification, not just names.
	assert.True(t, sent.ReasoningMode)
	assert.Equal(t, 1.0, sent.Temperature)
}

func TestChatStreamNeverCached(t *testing.T) {
	fake := &fakeProvider{name: "openai"}
	c := newTestClient(t, Options{Cache: cache.New(cache.DefaultConfig())}, fake)
	ctx := context.Background()
	req := askReq("gpt-4o", "stream me")

	var deltas []string
	collect := func(chunk llm.StreamChunk) error {
		if chunk.Delta != "" {
			deltas = append(deltas, chunk.Delta)
		}
		return nil
	}

	_, _, err := c.ChatStream(ctx, "openai", req, router.Constraint{}, collect)
	require.NoError(t, err)
	_, _, err = c.ChatStream(ctx, "openai", req, router.Constraint{}, collect)
	require.NoError(t, err)

	assert.Equal(t, []string{"str", "eam", "str", "eam"}, deltas)
	// Both calls reached upstream; streams bypass the cache.
	assert.EqualValues(t, 2, fake.calls.Load())

	stats, ok := c.CacheStats()
	require.True(t, ok)
	assert.Equal(t, 0, stats.Size)
}

func TestRoutingPicksConfiguredProvider(t *testing.T) {
	fake := &fakeProvider{name: "openai"}
	c := newTestClient(t, Options{
		Router: router.New(catalog.Default(), router.StrategyCost),
	}, fake)

	req := askReq("", "hi")
	resp, meta, err := c.Chat(context.Background(), AutoProvider, req, router.Constraint{})
	require.NoError(t, err)

	require.NotNil(t, meta.Decision)
	// Only openai has an adapter, so routing cannot choose anyone else.
	assert.Equal(t, "openai", meta.Decision.Provider)
	assert.Equal(t, "openai", resp.Provider)
	assert.NotEmpty(t, meta.Decision.Model)
	assert.Equal(t, router.StrategyCost, meta.Decision.Strategy)
}

func TestRoutingWithoutRouter(t *testing.T) {
	fake := &fakeProvider{name: "openai"}
	c := newTestClient(t, Options{}, fake)

	_, _, err := c.Chat(context.Background(), AutoProvider, askReq("", "hi"), router.Constraint{})
	require.Error(t, err)
	assert.True(t, llm.IsValidation(err))
}

func TestBudgetBlocksBeforeDispatch(t *testing.T) {
	ledger, err := telemetry.Open(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	defer ledger.Close()

	// Exhaust the budget with a prior recorded spend.
	require.NoError(t, ledger.Record(context.Background(), telemetry.UsageRecord{
		Provider: "openai", Model: "gpt-4o", TotalTokens: 1000, CostUSD: 5.0,
	}))

	fake := &fakeProvider{name: "openai"}
	c := newTestClient(t, Options{
		Ledger: ledger,
		Budget: telemetry.Budget{TotalUSD: 5.0},
	}, fake)

	_, _, err = c.Chat(context.Background(), "openai", askReq("gpt-4o", "hi"), router.Constraint{})
	require.Error(t, err)
	assert.True(t, llm.IsBudgetExceeded(err))
	// The provider was never called.
	assert.EqualValues(t, 0, fake.calls.Load())
}

func TestLedgerRecordsUsage(t *testing.T) {
	ledger, err := telemetry.Open(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	defer ledger.Close()

	fake := &fakeProvider{name: "openai"}
	c := newTestClient(t, Options{Ledger: ledger}, fake)

	_, _, err = c.Chat(context.Background(), "openai", askReq("gpt-4o", "hi"), router.Constraint{})
	require.NoError(t, err)

	totals, err := ledger.Lifetime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, totals.Requests)
	assert.Equal(t, 15, totals.TotalTokens)
}

func TestCacheHitNotDoubleCharged(t *testing.T) {
	ledger, err := telemetry.Open(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	defer ledger.Close()

	fake := &fakeProvider{name: "openai"}
	c := newTestClient(t, Options{
		Cache:  cache.New(cache.DefaultConfig()),
		Ledger: ledger,
	}, fake)
	ctx := context.Background()
	req := askReq("gpt-4o", "same question twice")

	resp1, meta1, err := c.Chat(ctx, "openai", req, router.Constraint{})
	require.NoError(t, err)
	require.False(t, meta1.CacheHit)
	require.Greater(t, resp1.Usage.CostUSD, 0.0)

	_, meta2, err := c.Chat(ctx, "openai", req, router.Constraint{})
	require.NoError(t, err)
	require.True(t, meta2.CacheHit)
	require.EqualValues(t, 1, fake.calls.Load())

	// One upstream call means one charge; the hit lands as a zero-cost row.
	totals, err := ledger.Lifetime(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, totals.Requests)
	assert.Equal(t, 1, totals.CacheHits)
	assert.InDelta(t, resp1.Usage.CostUSD, totals.CostUSD, 1e-12)
}

func TestProvidersSorted(t *testing.T) {
	c := newTestClient(t, Options{},
		&fakeProvider{name: "zeta"}, &fakeProvider{name: "alpha"})
	assert.Equal(t, []string{"alpha", "zeta"}, c.Providers())
}
