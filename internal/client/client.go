// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client is the facade over the whole engine: provider adapters,
// router, response cache, reasoning policy, cost annotation, and the usage
// ledger, composed behind Chat / ChatStream / Route.
//
// Nothing here is a singleton. Every collaborator is injected, so tests
// run the full pipeline against fake providers and a temp-dir ledger.
package client

import (
	"context"
	"sort"
	"strings"

	"github.com/Bytes0211/stratifyai/internal/cache"
	"github.com/Bytes0211/stratifyai/internal/catalog"
	"github.com/Bytes0211/stratifyai/internal/cost"
	"github.com/Bytes0211/stratifyai/internal/llm"
	"github.com/Bytes0211/stratifyai/internal/provider"
	"github.com/Bytes0211/stratifyai/internal/reasoning"
	"github.com/Bytes0211/stratifyai/internal/router"
	"github.com/Bytes0211/stratifyai/internal/telemetry"
)

// AutoProvider routes the request instead of naming a provider.
const AutoProvider = "auto"

// Options wires a Client. Nil collaborators disable their concern:
// no Cache means every request goes upstream, no Router means AutoProvider
// fails, no Ledger means no usage tracking or budget enforcement.
type Options struct {
	Providers map[string]provider.Provider
	Catalog   *catalog.Catalog
	Cache     *cache.ResponseCache
	Router    *router.Router
	Ledger    *telemetry.Ledger
	Budget    telemetry.Budget
}

// Meta reports how a response was produced.
type Meta struct {
	// CacheHit is true when the response was served from the cache
	// without an upstream call.
	CacheHit bool

	// Decision is set when the request was routed (AutoProvider).
	Decision *router.Decision
}

// Client executes chat requests through the full pipeline.
type Client struct {
	providers map[string]provider.Provider
	cat       *catalog.Catalog
	cache     *cache.ResponseCache
	router    *router.Router
	ledger    *telemetry.Ledger
	budget    telemetry.Budget
}

// New creates a Client from Options. The catalog falls back to the
// builtin defaults when not provided.
func New(opts Options) *Client {
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	if opts.Providers == nil {
		opts.Providers = make(map[string]provider.Provider)
	}
	return &Client{
		providers: opts.Providers,
		cat:       opts.Catalog,
		cache:     opts.Cache,
		router:    opts.Router,
		ledger:    opts.Ledger,
		budget:    opts.Budget,
	}
}

// Provider returns the adapter registered under name.
func (c *Client) Provider(name string) (provider.Provider, error) {
	p, ok := c.providers[strings.ToLower(name)]
	if !ok {
		return nil, llm.NewInvalidProviderError(name)
	}
	return p, nil
}

// Providers returns the configured provider names, sorted.
func (c *Client) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for name := range c.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalog exposes the model catalog for display commands.
func (c *Client) Catalog() *catalog.Catalog {
	return c.cat
}

// CacheStats reads the cache counters. The bool is false when caching is
// disabled.
func (c *Client) CacheStats() (cache.Stats, bool) {
	if c.cache == nil {
		return cache.Stats{}, false
	}
	return c.cache.Stats(), true
}

// ClearCache drops every cached response. No-op when caching is disabled.
func (c *Client) ClearCache() {
	if c.cache != nil {
		c.cache.Clear()
	}
}

// Ledger exposes the usage ledger, or nil when tracking is disabled.
func (c *Client) Ledger() *telemetry.Ledger {
	return c.ledger
}

// Route picks a (provider, model) for the conversation without executing
// anything.
func (c *Client) Route(messages []llm.Message, constraint router.Constraint) (router.Decision, error) {
	if c.router == nil {
		return router.Decision{}, llm.NewValidationError("routing is not configured")
	}
	// Providers without a configured adapter cannot serve the request,
	// so they are excluded up front rather than failing at dispatch.
	constraint.ExcludeProviders = append(constraint.ExcludeProviders, c.unconfiguredProviders()...)
	return c.router.Route(messages, constraint)
}

func (c *Client) unconfiguredProviders() []string {
	var out []string
	for _, name := range c.cat.Providers() {
		if _, ok := c.providers[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

// resolve picks the adapter and final request for a call. providerName
// AutoProvider (or empty) routes; anything else is used as given.
// The returned request is a clone with the reasoning temperature policy
// applied; the caller's request is never mutated.
func (c *Client) resolve(providerName string, req *llm.ChatRequest, constraint router.Constraint) (provider.Provider, *llm.ChatRequest, *router.Decision, error) {
	name := strings.ToLower(strings.TrimSpace(providerName))

	var decision *router.Decision
	out := req.Clone()

	if name == "" || name == AutoProvider {
		d, err := c.Route(req.Messages, constraint)
		if err != nil {
			return nil, nil, nil, err
		}
		decision = &d
		name = d.Provider
		if out.Model == "" {
			out.Model = d.Model
		}
	}

	p, err := c.Provider(name)
	if err != nil {
		return nil, nil, nil, err
	}

	out.Temperature = reasoning.EffectiveTemperature(c.cat, name, out.Model, out.Temperature)
	out.ReasoningMode = reasoning.IsReasoningModel(c.cat, name, out.Model)
	if out.Model != "" {
		if err := out.Validate(); err != nil {
			return nil, nil, nil, err
		}
	}
	return p, out, decision, nil
}

// checkBudget estimates the request cost and fails before dispatch when a
// configured budget would be crossed.
func (c *Client) checkBudget(ctx context.Context, providerName string, req *llm.ChatRequest) error {
	if c.ledger == nil || c.budget.Unlimited() {
		return nil
	}
	estimate := cost.EstimateRequest(req, c.cat, providerName)
	return c.ledger.CheckBudget(ctx, c.budget, estimate)
}

// record appends the outcome to the ledger. Ledger failures are not the
// caller's problem; the response already happened.
func (c *Client) record(ctx context.Context, resp *llm.ChatResponse, meta Meta) {
	if c.ledger == nil || resp == nil {
		return
	}
	strategy := ""
	if meta.Decision != nil {
		strategy = meta.Decision.Strategy.String()
	}
	_ = c.ledger.Record(ctx, telemetry.RecordFromResponse(resp, meta.CacheHit, strategy))
}

// Chat executes a non-streaming completion. providerName AutoProvider (or
// empty) routes by the configured strategy; the constraint only applies
// on that path. Deterministic requests are served from the cache when one
// is configured, with concurrent identical misses collapsed into a single
// upstream call.
func (c *Client) Chat(ctx context.Context, providerName string, req *llm.ChatRequest, constraint router.Constraint) (*llm.ChatResponse, Meta, error) {
	p, prepared, decision, err := c.resolve(providerName, req, constraint)
	if err != nil {
		return nil, Meta{}, err
	}
	meta := Meta{Decision: decision}

	if err := c.checkBudget(ctx, p.Name(), prepared); err != nil {
		return nil, meta, err
	}

	call := func() (*llm.ChatResponse, error) {
		resp, err := p.Chat(ctx, prepared)
		if err != nil {
			return nil, err
		}
		cost.Annotate(&resp.Usage, c.cat, resp.Provider, resp.Model)
		return resp, nil
	}

	var resp *llm.ChatResponse
	if c.cache != nil && cache.Cacheable(prepared) {
		fp := cache.Fingerprint(p.Name(), prepared)
		resp, meta.CacheHit, err = c.cache.GetOrCall(ctx, fp, call)
	} else {
		resp, err = call()
	}
	if err != nil {
		return nil, meta, err
	}

	c.record(ctx, resp, meta)
	return resp, meta, nil
}

// ChatStream executes a streaming completion. Streamed responses are
// never cached; chunks are forwarded as they arrive and the stream stops
// promptly when ctx is cancelled.
func (c *Client) ChatStream(ctx context.Context, providerName string, req *llm.ChatRequest, constraint router.Constraint, fn llm.StreamFunc) (*llm.ChatResponse, Meta, error) {
	p, prepared, decision, err := c.resolve(providerName, req, constraint)
	if err != nil {
		return nil, Meta{}, err
	}
	meta := Meta{Decision: decision}

	if err := c.checkBudget(ctx, p.Name(), prepared); err != nil {
		return nil, meta, err
	}

	resp, err := p.ChatStream(ctx, prepared, fn)
	if err != nil {
		return nil, meta, err
	}
	cost.Annotate(&resp.Usage, c.cat, resp.Provider, resp.Model)

	c.record(ctx, resp, meta)
	return resp, meta, nil
}
