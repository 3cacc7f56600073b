// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ============================================================================
// SHARED TRANSPORT PLUMBING
// ============================================================================

// MaxResponseSize caps provider response bodies.
// SECURITY: Response size limit prevents memory exhaustion.
const MaxResponseSize = 10 * 1024 * 1024 // 10MB

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	// Shared by every raw-HTTP adapter for non-streaming requests.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient has no timeout; streams are bounded by their
	// context instead.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
)

// HTTPClient returns the pooled client for non-streaming requests, or the
// override from cfg when tests inject one.
func HTTPClient(cfg Config) *http.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	return sharedHTTPClient
}

// StreamingClient returns the pooled no-timeout client for streams, or the
// override from cfg.
func StreamingClient(cfg Config) *http.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	return sharedStreamingClient
}

// ReadResponse reads a response body under the size cap.
func ReadResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// KeyFingerprint returns a sha256-based identifier for an API key.
// SECURITY: Keys never appear in logs; only this fingerprint does.
func KeyFingerprint(apiKey string) string {
	if apiKey == "" {
		return "none"
	}
	sum := sha256.Sum256([]byte(apiKey))
	return "key_sha256_" + hex.EncodeToString(sum[:4])
}

// ============================================================================
// RATE LIMITING
// ============================================================================

// Limiter throttles outbound calls to one backend. A nil Limiter never
// blocks, so adapters can hold one unconditionally.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter builds a Limiter from a requests-per-second setting. Zero or
// negative disables throttling.
func NewLimiter(requestsPerSecond float64) *Limiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Limiter{rl: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// Wait blocks until a request may proceed or the context ends.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.rl == nil {
		return nil
	}
	return l.rl.Wait(ctx)
}
