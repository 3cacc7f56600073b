// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache stores normalized chat responses keyed by request
// fingerprint, in front of every provider call.
//
// Bounded LRU with per-entry TTL. Expired entries are evicted lazily on
// lookup. Hit and miss counters only ever increase for the process
// lifetime. Concurrent misses for the same fingerprint coalesce into a
// single upstream call; every waiter receives that one result or that one
// error.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/Bytes0211/stratifyai/internal/llm"
)

// Defaults applied by New when the config leaves a field zero.
const (
	DefaultMaxSize = 256
	DefaultTTL     = time.Hour
)

// Config sizes a ResponseCache.
type Config struct {
	MaxSize int           // entry cap before LRU eviction
	TTL     time.Duration // default lifetime for stored responses
}

// DefaultConfig returns the standard cache sizing.
func DefaultConfig() Config {
	return Config{MaxSize: DefaultMaxSize, TTL: DefaultTTL}
}

// entry is owned exclusively by the cache. Responses go in and come out
// as copies so no caller ever aliases cache-held state.
type entry struct {
	response  *llm.ChatResponse
	createdAt time.Time
	expiresAt time.Time
}

// flight tracks one in-progress upstream call that later arrivals wait on.
// resp and err are written before done closes and read only after.
type flight struct {
	done chan struct{}
	resp *llm.ChatResponse
	err  error
}

// Stats is a point-in-time read of the cache counters.
type Stats struct {
	Size        int           `json:"size"`
	MaxSize     int           `json:"max_size"`
	TotalHits   uint64        `json:"total_hits"`
	TotalMisses uint64        `json:"total_misses"`
	TTL         time.Duration `json:"ttl"`
	HitRate     float64       `json:"hit_rate"`
}

// ResponseCache is safe for concurrent use.
type ResponseCache struct {
	mu          sync.Mutex
	entries     map[string]*entry
	accessOrder []string // LRU order, oldest first
	inflight    map[string]*flight

	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64

	// now is the clock, swappable in tests.
	now func() time.Time
}

// New creates a ResponseCache, zero-filling the config with defaults.
func New(cfg Config) *ResponseCache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &ResponseCache{
		entries:     make(map[string]*entry),
		accessOrder: make([]string, 0, cfg.MaxSize),
		inflight:    make(map[string]*flight),
		maxSize:     cfg.MaxSize,
		ttl:         cfg.TTL,
		now:         time.Now,
	}
}

// Get returns a copy of the cached response for a fingerprint. An entry
// past its expiry counts as a miss and is removed on the spot.
func (c *ResponseCache) Get(fingerprint string) (*llm.ChatResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(fingerprint)
}

func (c *ResponseCache) getLocked(fingerprint string) (*llm.ChatResponse, bool) {
	e, ok := c.entries[fingerprint]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.removeLocked(fingerprint)
		c.misses++
		return nil, false
	}
	c.hits++
	c.touchLocked(fingerprint)
	return e.response.Clone(), true
}

// Put stores a copy of the response under a fingerprint. ttl <= 0 uses the
// cache default. Inserting into a full cache evicts the least recently
// used entry first; replacing an existing fingerprint never evicts.
func (c *ResponseCache) Put(fingerprint string, resp *llm.ChatResponse, ttl time.Duration) {
	if fingerprint == "" || resp == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(fingerprint, resp, ttl)
}

func (c *ResponseCache) putLocked(fingerprint string, resp *llm.ChatResponse, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if _, exists := c.entries[fingerprint]; !exists {
		for len(c.entries) >= c.maxSize {
			if len(c.accessOrder) == 0 {
				break
			}
			c.removeLocked(c.accessOrder[0])
		}
	}
	now := c.now()
	c.entries[fingerprint] = &entry{
		response:  resp.Clone(),
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	c.touchLocked(fingerprint)
}

// GetOrCall returns the cached response for a fingerprint or produces one
// by calling fn. Concurrent callers with the same uncached fingerprint
// share a single fn invocation: the first caller runs it, the rest block
// until it resolves and receive the same outcome. The bool reports whether
// the response came from the cache without an upstream call this time.
//
// fn errors are returned to every waiter and nothing is stored. A caller
// whose ctx ends while waiting unblocks with the ctx error; the upstream
// call itself keeps running for the remaining waiters.
func (c *ResponseCache) GetOrCall(ctx context.Context, fingerprint string, fn func() (*llm.ChatResponse, error)) (*llm.ChatResponse, bool, error) {
	if fingerprint == "" {
		resp, err := fn()
		return resp, false, err
	}

	c.mu.Lock()
	if resp, ok := c.getLocked(fingerprint); ok {
		c.mu.Unlock()
		return resp, true, nil
	}
	if f, ok := c.inflight[fingerprint]; ok {
		c.mu.Unlock()
		select {
		case <-f.done:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
		if f.err != nil {
			return nil, false, f.err
		}
		return f.resp.Clone(), false, nil
	}
	f := &flight{done: make(chan struct{})}
	c.inflight[fingerprint] = f
	c.mu.Unlock()

	resp, err := fn()

	c.mu.Lock()
	delete(c.inflight, fingerprint)
	if err == nil && resp != nil {
		c.putLocked(fingerprint, resp, 0)
	}
	c.mu.Unlock()
	f.resp, f.err = resp, err
	close(f.done)

	if err != nil {
		return nil, false, err
	}
	return resp, false, nil
}

// Delete removes one fingerprint if present.
func (c *ResponseCache) Delete(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(fingerprint)
}

// Clear drops every entry. Counters are left alone; they track the whole
// process lifetime.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.accessOrder = c.accessOrder[:0]
}

// Len returns the current entry count, including not-yet-collected
// expired entries.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats reads the current counters.
func (c *ResponseCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	hitRate := 0.0
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return Stats{
		Size:        len(c.entries),
		MaxSize:     c.maxSize,
		TotalHits:   c.hits,
		TotalMisses: c.misses,
		TTL:         c.ttl,
		HitRate:     hitRate,
	}
}

// removeLocked deletes an entry and its LRU slot (must hold mu).
func (c *ResponseCache) removeLocked(fingerprint string) {
	if _, ok := c.entries[fingerprint]; !ok {
		return
	}
	delete(c.entries, fingerprint)
	for i, fp := range c.accessOrder {
		if fp == fingerprint {
			c.accessOrder = append(c.accessOrder[:i], c.accessOrder[i+1:]...)
			break
		}
	}
}

// touchLocked moves a fingerprint to the most-recently-used end (must
// hold mu).
func (c *ResponseCache) touchLocked(fingerprint string) {
	for i, fp := range c.accessOrder {
		if fp == fingerprint {
			c.accessOrder = append(c.accessOrder[:i], c.accessOrder[i+1:]...)
			break
		}
	}
	c.accessOrder = append(c.accessOrder, fingerprint)
}
