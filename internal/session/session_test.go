// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bytes0211/stratifyai/internal/llm"
)

// fakeClock advances manually so timeout tests never sleep.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClockedSession(cfg Config) (*Session, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := New(cfg)
	s.now = clock.Now
	s.startTime = clock.Now()
	s.lastActivity = clock.Now()
	s.lastAutoSave = clock.Now()
	return s, clock
}

func chatResp(content string, prompt, completion int, cost float64) *llm.ChatResponse {
	usage := llm.NewUsage(prompt, completion)
	usage.CostUSD = cost
	return &llm.ChatResponse{Content: content, Usage: usage}
}

func TestRecordExchangeAccumulates(t *testing.T) {
	s := New(DefaultConfig())

	s.RecordExchange("first", chatResp("a1", 10, 5, 0.01), false)
	s.RecordExchange("second", chatResp("a2", 20, 8, 0.02), true)

	totals := s.Totals()
	assert.Equal(t, 2, totals.Exchanges)
	assert.Equal(t, 30, totals.PromptTokens)
	assert.Equal(t, 13, totals.CompletionTokens)
	assert.Equal(t, 43, totals.TotalTokens)
	assert.InDelta(t, 0.03, totals.CostUSD, 1e-9)
	assert.Equal(t, 1, totals.CacheHits)

	history := s.History()
	require.Len(t, history, 4)
	assert.Equal(t, llm.RoleUser, history[0].Role)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, llm.RoleAssistant, history[1].Role)
	assert.Equal(t, "a1", history[1].Content)
	assert.Equal(t, "second", history[2].Content)
	assert.Equal(t, "a2", history[3].Content)
}

func TestMessagesPrependSystem(t *testing.T) {
	s := New(DefaultConfig())
	s.SetSystem("be terse")
	s.Append(llm.NewUserMessage("hi"))

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "be terse", msgs[0].Content)
	assert.Equal(t, llm.RoleUser, msgs[1].Role)

	// History never includes the system prompt.
	assert.Len(t, s.History(), 1)
}

func TestMessagesReturnsCopy(t *testing.T) {
	s := New(DefaultConfig())
	s.Append(llm.NewUserMessage("hi"))

	msgs := s.Messages()
	msgs[0].Content = "mutated"
	assert.Equal(t, "hi", s.History()[0].Content)
}

func TestClearKeepsIdentity(t *testing.T) {
	s := New(DefaultConfig())
	id := s.ID()
	s.SetSystem("be terse")
	s.RecordExchange("q", chatResp("a", 5, 5, 0.0), false)

	s.Clear()

	assert.Equal(t, id, s.ID())
	assert.Equal(t, "be terse", s.System())
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, Totals{}, s.Totals())
	assert.False(t, s.Dirty())
}

func TestExpiryAfterIdleTimeout(t *testing.T) {
	s, clock := newClockedSession(Config{IdleTimeout: 10 * time.Minute})

	assert.False(t, s.Expired())
	clock.Advance(9 * time.Minute)
	assert.False(t, s.Expired())
	assert.Equal(t, time.Minute, s.Remaining())

	clock.Advance(time.Minute)
	assert.True(t, s.Expired())
	assert.Equal(t, time.Duration(0), s.Remaining())
}

func TestZeroTimeoutNeverExpires(t *testing.T) {
	s, clock := newClockedSession(Config{})
	clock.Advance(1000 * time.Hour)
	assert.False(t, s.Expired())
	assert.True(t, s.Check())
}

func TestActivityResetsIdleClock(t *testing.T) {
	s, clock := newClockedSession(Config{IdleTimeout: 10 * time.Minute})

	clock.Advance(9 * time.Minute)
	s.RecordActivity()
	clock.Advance(9 * time.Minute)
	assert.False(t, s.Expired())
}

func TestCheckFiresWarningOnce(t *testing.T) {
	s, clock := newClockedSession(Config{
		IdleTimeout:   10 * time.Minute,
		WarningBefore: 2 * time.Minute,
	})

	var warnings []time.Duration
	s.OnWarning(func(remaining time.Duration) {
		warnings = append(warnings, remaining)
	})

	clock.Advance(8 * time.Minute)
	assert.True(t, s.Check())
	assert.True(t, s.Check()) // repeated check does not re-warn
	require.Len(t, warnings, 1)
	assert.Equal(t, 2*time.Minute, warnings[0])

	// Activity resets the warning latch.
	s.RecordActivity()
	clock.Advance(8 * time.Minute)
	assert.True(t, s.Check())
	assert.Len(t, warnings, 2)
}

func TestCheckFiresExpiry(t *testing.T) {
	s, clock := newClockedSession(Config{IdleTimeout: 10 * time.Minute})

	expired := false
	s.OnExpired(func() { expired = true })

	clock.Advance(10 * time.Minute)
	assert.False(t, s.Check())
	assert.True(t, expired)
}

func TestCheckAutoSavesDirtySession(t *testing.T) {
	s, clock := newClockedSession(Config{AutoSaveInterval: 30 * time.Second})

	saves := 0
	s.OnAutoSave(func() error {
		saves++
		return nil
	})

	// Clean session: nothing to save.
	clock.Advance(time.Minute)
	s.Check()
	assert.Equal(t, 0, saves)

	s.Append(llm.NewUserMessage("hi"))
	clock.Advance(time.Minute)
	s.Check()
	assert.Equal(t, 1, saves)
	assert.False(t, s.Dirty())

	// A clean session does not re-save.
	clock.Advance(time.Minute)
	s.Check()
	assert.Equal(t, 1, saves)
}

func TestAutoSaveErrorKeepsDirty(t *testing.T) {
	s, clock := newClockedSession(Config{AutoSaveInterval: 30 * time.Second})
	s.OnAutoSave(func() error { return errors.New("disk full") })

	s.Append(llm.NewUserMessage("hi"))
	clock.Advance(time.Minute)
	s.Check()
	assert.True(t, s.Dirty())
}

func TestGetStatusSnapshot(t *testing.T) {
	s, clock := newClockedSession(Config{IdleTimeout: 10 * time.Minute})
	s.RecordExchange("q", chatResp("a", 10, 5, 0.01), false)
	clock.Advance(3 * time.Minute)

	st := s.GetStatus()
	assert.Equal(t, s.ID(), st.ID)
	assert.Equal(t, 2, st.Messages)
	assert.Equal(t, 3*time.Minute, st.IdleTime)
	assert.Equal(t, 7*time.Minute, st.Remaining)
	assert.Equal(t, 15, st.Totals.TotalTokens)
	assert.True(t, st.Dirty)
	assert.False(t, st.Expired)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{time.Minute, "1m"},
		{3*time.Minute + 12*time.Second, "3m 12s"},
		{-time.Second, "0s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in))
	}
}
