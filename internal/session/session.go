// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session tracks the state of an interactive conversation: ordered
// message history, running token and cost totals, idle timeout, and an
// autosave hook.
//
// A Session is driven by an explicit caller loop. Nothing here spawns
// goroutines or timers; the REPL calls Check on its own cadence and the
// session reports what is due (warning, autosave, expiry) via callbacks.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Bytes0211/stratifyai/internal/llm"
	"github.com/Bytes0211/stratifyai/internal/util"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds session behavior settings.
type Config struct {
	// IdleTimeout ends the session after this much inactivity.
	// Zero disables the timeout.
	IdleTimeout time.Duration

	// WarningBefore is how long before expiry the warning fires.
	WarningBefore time.Duration

	// AutoSaveInterval is the minimum spacing between autosaves of a
	// dirty session. Zero disables autosave.
	AutoSaveInterval time.Duration
}

// DefaultConfig returns the default session settings.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:      30 * time.Minute,
		WarningBefore:    2 * time.Minute,
		AutoSaveInterval: 30 * time.Second,
	}
}

// Totals are the running usage counters for a session.
type Totals struct {
	Exchanges        int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostUSD          float64
	CacheHits        int
}

// =============================================================================
// SESSION
// =============================================================================

// Session is an in-progress conversation. Safe for concurrent use.
type Session struct {
	mu sync.Mutex

	id           string
	startTime    time.Time
	lastActivity time.Time

	messages []llm.Message
	system   string
	totals   Totals

	cfg          Config
	warningShown bool
	lastAutoSave time.Time
	dirty        bool

	onWarning  func(remaining time.Duration)
	onExpired  func()
	onAutoSave func() error

	// now is swappable for tests.
	now func() time.Time
}

// New creates a session with the given settings.
func New(cfg Config) *Session {
	s := &Session{
		id:  "sess_" + uuid.NewString(),
		cfg: cfg,
		now: time.Now,
	}
	s.startTime = s.now()
	s.lastActivity = s.startTime
	s.lastAutoSave = s.startTime
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// StartTime returns when the session began.
func (s *Session) StartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startTime
}

// Duration returns how long the session has been running.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.startTime)
}

// =============================================================================
// HISTORY
// =============================================================================

// SetSystem sets the system prompt prepended to every request.
func (s *Session) SetSystem(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.system = prompt
	s.dirty = true
}

// System returns the current system prompt.
func (s *Session) System() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.system
}

// Append adds a message to the history and marks the session active.
func (s *Session) Append(msg llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	s.touch()
}

// RecordExchange appends a user/assistant pair and folds the response
// usage into the running totals.
func (s *Session) RecordExchange(prompt string, resp *llm.ChatResponse, cacheHit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages,
		llm.NewUserMessage(prompt),
		llm.NewAssistantMessage(resp.Content),
	)
	s.totals.Exchanges++
	s.totals.PromptTokens += resp.Usage.PromptTokens
	s.totals.CompletionTokens += resp.Usage.CompletionTokens
	s.totals.TotalTokens += resp.Usage.TotalTokens
	s.totals.CostUSD += resp.Usage.CostUSD
	if cacheHit {
		s.totals.CacheHits++
	}
	s.touch()
}

// Messages returns a copy of the conversation suitable for the next
// request: the system prompt (when set) followed by the history.
func (s *Session) Messages() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]llm.Message, 0, len(s.messages)+1)
	if s.system != "" {
		out = append(out, llm.NewSystemMessage(s.system))
	}
	out = append(out, s.messages...)
	return out
}

// History returns a copy of the raw history without the system prompt.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.messages...)
}

// Len returns the number of messages in the history.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Clear drops the history and resets the totals. The system prompt and
// session identity survive.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.totals = Totals{}
	s.dirty = false
	s.touch()
}

// Totals returns the running usage counters.
func (s *Session) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals
}

// touch must be called with the lock held.
func (s *Session) touch() {
	s.lastActivity = s.now()
	s.warningShown = false
	s.dirty = true
}

// =============================================================================
// ACTIVITY AND TIMEOUT
// =============================================================================

// RecordActivity marks the session active without changing the history.
// Call on any user input, including commands that do not hit a provider.
func (s *Session) RecordActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.now()
	s.warningShown = false
}

// IdleTime returns the time since last activity.
func (s *Session) IdleTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.lastActivity)
}

// Expired reports whether the idle timeout has elapsed.
func (s *Session) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiredLocked()
}

func (s *Session) expiredLocked() bool {
	if s.cfg.IdleTimeout <= 0 {
		return false
	}
	return s.now().Sub(s.lastActivity) >= s.cfg.IdleTimeout
}

// Remaining returns the time left before expiry, zero when expired or
// when no timeout is configured.
func (s *Session) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.IdleTimeout <= 0 {
		return 0
	}
	remaining := s.cfg.IdleTimeout - s.now().Sub(s.lastActivity)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Dirty reports whether there are unsaved changes.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// MarkSaved records a successful save.
func (s *Session) MarkSaved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false
	s.lastAutoSave = s.now()
}

// =============================================================================
// CALLBACKS
// =============================================================================

// OnWarning sets the callback fired once per idle period when expiry is
// near.
func (s *Session) OnWarning(fn func(remaining time.Duration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onWarning = fn
}

// OnExpired sets the callback fired when the session times out.
func (s *Session) OnExpired(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpired = fn
}

// OnAutoSave sets the save hook. A nil error marks the session clean.
func (s *Session) OnAutoSave(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAutoSave = fn
}

// Check evaluates timeout, warning, and autosave state and fires the due
// callbacks. Returns false once the session has expired. Callbacks run
// outside the lock so they may call back into the session.
func (s *Session) Check() bool {
	s.mu.Lock()
	expired := s.expiredLocked()

	shouldWarn := false
	var remaining time.Duration
	if !expired && !s.warningShown && s.cfg.IdleTimeout > 0 && s.cfg.WarningBefore > 0 {
		idle := s.now().Sub(s.lastActivity)
		if idle >= s.cfg.IdleTimeout-s.cfg.WarningBefore {
			shouldWarn = true
			remaining = s.cfg.IdleTimeout - idle
			s.warningShown = true
		}
	}

	shouldSave := s.cfg.AutoSaveInterval > 0 && s.dirty &&
		s.now().Sub(s.lastAutoSave) >= s.cfg.AutoSaveInterval

	onWarning := s.onWarning
	onExpired := s.onExpired
	onAutoSave := s.onAutoSave
	s.mu.Unlock()

	if shouldWarn && onWarning != nil {
		onWarning(remaining)
	}
	if shouldSave && onAutoSave != nil {
		if err := onAutoSave(); err == nil {
			s.MarkSaved()
		}
	}
	if expired && onExpired != nil {
		onExpired()
	}
	return !expired
}

// =============================================================================
// STATUS
// =============================================================================

// Status is a point-in-time snapshot for display.
type Status struct {
	ID        string
	StartTime time.Time
	Duration  time.Duration
	IdleTime  time.Duration
	Remaining time.Duration
	Messages  int
	Totals    Totals
	Dirty     bool
	Expired   bool
}

// GetStatus snapshots the session for the /stats command.
func (s *Session) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	idle := now.Sub(s.lastActivity)
	var remaining time.Duration
	if s.cfg.IdleTimeout > 0 {
		remaining = s.cfg.IdleTimeout - idle
		if remaining < 0 {
			remaining = 0
		}
	}
	return Status{
		ID:        s.id,
		StartTime: s.startTime,
		Duration:  now.Sub(s.startTime),
		IdleTime:  idle,
		Remaining: remaining,
		Messages:  len(s.messages),
		Totals:    s.totals,
		Dirty:     s.dirty,
		Expired:   s.expiredLocked(),
	}
}

// FormatDuration renders a duration as "3m 12s" for status lines.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return util.IntToString(int(d.Seconds())) + "s"
	}
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if secs == 0 {
		return util.IntToString(mins) + "m"
	}
	return util.IntToString(mins) + "m " + util.IntToString(secs) + "s"
}
