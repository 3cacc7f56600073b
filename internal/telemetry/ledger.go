// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry keeps the usage ledger: one row per completed request
// with tokens, cost, latency, and cache outcome, stored in SQLite so
// aggregates survive restarts. Budget checks read the same ledger before a
// request is dispatched.
package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/Bytes0211/stratifyai/internal/llm"
)

// =============================================================================
// RECORDS
// =============================================================================

// UsageRecord is one completed request in the ledger.
type UsageRecord struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	LatencyMs        float64   `json:"latency_ms"`
	CacheHit         bool      `json:"cache_hit"`
	Strategy         string    `json:"strategy,omitempty"`
}

// RecordFromResponse builds a ledger row from a normalized response.
// A cache hit never reached the provider, so it records zero cost: the
// original call already charged the full amount, and spend aggregates
// feed budget enforcement. Token counts stay as served for request stats.
func RecordFromResponse(resp *llm.ChatResponse, cacheHit bool, strategy string) UsageRecord {
	costUSD := resp.Usage.CostUSD
	if cacheHit {
		costUSD = 0
	}
	return UsageRecord{
		ID:               uuid.New().String(),
		Timestamp:        time.Now(),
		Provider:         resp.Provider,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		CostUSD:          costUSD,
		LatencyMs:        resp.LatencyMs,
		CacheHit:         cacheHit,
		Strategy:         strategy,
	}
}

// Totals aggregates a set of ledger rows.
type Totals struct {
	Requests    int     `json:"requests"`
	TotalTokens int     `json:"total_tokens"`
	CostUSD     float64 `json:"cost_usd"`
	CacheHits   int     `json:"cache_hits"`
}

// GroupTotals is Totals for one provider or model.
type GroupTotals struct {
	Key string `json:"key"`
	Totals
}

// Budget bounds spending. Zero means unlimited on that axis.
type Budget struct {
	DailyUSD float64 `json:"daily_usd"`
	TotalUSD float64 `json:"total_usd"`
}

// Unlimited reports whether no budget axis is set.
func (b Budget) Unlimited() bool {
	return b.DailyUSD <= 0 && b.TotalUSD <= 0
}

// =============================================================================
// LEDGER
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS usage (
	id                TEXT PRIMARY KEY,
	timestamp         INTEGER NOT NULL,
	provider          TEXT NOT NULL,
	model             TEXT NOT NULL,
	prompt_tokens     INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens      INTEGER NOT NULL,
	cost_usd          REAL NOT NULL,
	latency_ms        REAL NOT NULL,
	cache_hit         INTEGER NOT NULL,
	strategy          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage(timestamp);
CREATE INDEX IF NOT EXISTS idx_usage_provider ON usage(provider);
`

// Ledger is the SQLite-backed usage store. Safe for concurrent use.
type Ledger struct {
	db *sql.DB
	mu sync.Mutex

	// sessionStart bounds the "this session" aggregates.
	sessionStart time.Time

	// now is the clock, swappable in tests.
	now func() time.Time
}

// Open creates or opens the ledger database at path, creating parent
// directories as needed.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Ledger{
		db:           db,
		sessionStart: time.Now(),
		now:          time.Now,
	}, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record appends one usage row.
func (l *Ledger) Record(ctx context.Context, rec UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO usage (id, timestamp, provider, model, prompt_tokens,
			completion_tokens, total_tokens, cost_usd, latency_ms, cache_hit, strategy)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UnixNano(), rec.Provider, rec.Model,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		rec.CostUSD, rec.LatencyMs, boolToInt(rec.CacheHit), rec.Strategy)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// =============================================================================
// AGGREGATES
// =============================================================================

// Lifetime aggregates every row in the ledger.
func (l *Ledger) Lifetime(ctx context.Context) (Totals, error) {
	return l.totalsSince(ctx, time.Time{})
}

// Session aggregates rows recorded since this process opened the ledger.
func (l *Ledger) Session(ctx context.Context) (Totals, error) {
	return l.totalsSince(ctx, l.sessionStart)
}

// Today aggregates rows recorded since local midnight.
func (l *Ledger) Today(ctx context.Context) (Totals, error) {
	now := l.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return l.totalsSince(ctx, midnight)
}

func (l *Ledger) totalsSince(ctx context.Context, since time.Time) (Totals, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_tokens), 0),
			COALESCE(SUM(cost_usd), 0), COALESCE(SUM(cache_hit), 0)
		FROM usage WHERE timestamp >= ?`, since.UnixNano())

	var t Totals
	if err := row.Scan(&t.Requests, &t.TotalTokens, &t.CostUSD, &t.CacheHits); err != nil {
		return Totals{}, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	return t, nil
}

// ByProvider aggregates per provider, ordered by spend descending.
func (l *Ledger) ByProvider(ctx context.Context) ([]GroupTotals, error) {
	return l.groupBy(ctx, "provider")
}

// ByModel aggregates per model, ordered by spend descending.
func (l *Ledger) ByModel(ctx context.Context) ([]GroupTotals, error) {
	return l.groupBy(ctx, "model")
}

func (l *Ledger) groupBy(ctx context.Context, column string) ([]GroupTotals, error) {
	// column is one of two compile-time constants, never user input.
	rows, err := l.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, COUNT(*), COALESCE(SUM(total_tokens), 0),
			COALESCE(SUM(cost_usd), 0), COALESCE(SUM(cache_hit), 0)
		FROM usage GROUP BY %s ORDER BY SUM(cost_usd) DESC`, column, column))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	defer rows.Close()

	var out []GroupTotals
	for rows.Next() {
		var g GroupTotals
		if err := rows.Scan(&g.Key, &g.Requests, &g.TotalTokens, &g.CostUSD, &g.CacheHits); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Recent returns the newest n rows, newest first.
func (l *Ledger) Recent(ctx context.Context, n int) ([]UsageRecord, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, timestamp, provider, model, prompt_tokens, completion_tokens,
			total_tokens, cost_usd, latency_ms, cache_hit, strategy
		FROM usage ORDER BY timestamp DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}
	defer rows.Close()

	var out []UsageRecord
	for rows.Next() {
		var rec UsageRecord
		var ts int64
		var hit int
		if err := rows.Scan(&rec.ID, &ts, &rec.Provider, &rec.Model,
			&rec.PromptTokens, &rec.CompletionTokens, &rec.TotalTokens,
			&rec.CostUSD, &rec.LatencyMs, &hit, &rec.Strategy); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		rec.Timestamp = time.Unix(0, ts)
		rec.CacheHit = hit != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// =============================================================================
// BUDGET
// =============================================================================

// CheckBudget fails with a budget-exceeded error when spending the
// estimate would cross a configured limit. The estimate is a chars/4
// heuristic upstream, so this is a guard rail, not an exact meter.
func (l *Ledger) CheckBudget(ctx context.Context, b Budget, estimatedUSD float64) error {
	if b.Unlimited() {
		return nil
	}

	if b.TotalUSD > 0 {
		lifetime, err := l.Lifetime(ctx)
		if err != nil {
			return err
		}
		if lifetime.CostUSD+estimatedUSD > b.TotalUSD {
			return llm.NewBudgetExceededError(fmt.Sprintf(
				"total budget $%.2f would be exceeded: spent $%.4f, request estimate $%.4f",
				b.TotalUSD, lifetime.CostUSD, estimatedUSD))
		}
	}
	if b.DailyUSD > 0 {
		today, err := l.Today(ctx)
		if err != nil {
			return err
		}
		if today.CostUSD+estimatedUSD > b.DailyUSD {
			return llm.NewBudgetExceededError(fmt.Sprintf(
				"daily budget $%.2f would be exceeded: spent $%.4f today, request estimate $%.4f",
				b.DailyUSD, today.CostUSD, estimatedUSD))
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
