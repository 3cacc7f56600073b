// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bytes0211/stratifyai/internal/llm"
	"github.com/Bytes0211/stratifyai/internal/session"
)

func newTestStore(t *testing.T) *ConversationStore {
	t.Helper()
	store, err := NewConversationStoreWithDir(t.TempDir())
	require.NoError(t, err)
	return store
}

func conv(prompt, answer string) *StoredConversation {
	return &StoredConversation{
		Provider: "openai",
		Model:    "gpt-4o",
		Messages: []llm.Message{
			llm.NewUserMessage(prompt),
			llm.NewAssistantMessage(answer),
		},
		TotalTokens: 15,
		CostUSD:     0.001,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	id, err := store.Save(conv("what is go?", "a language"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	loaded, err := store.Load(id)
	require.NoError(t, err)
	assert.Equal(t, "openai", loaded.Provider)
	assert.Equal(t, "gpt-4o", loaded.Model)
	require.Len(t, loaded.Messages, 2)
	assert.Equal(t, llm.RoleUser, loaded.Messages[0].Role)
	assert.Equal(t, "what is go?", loaded.Messages[0].Content)
	assert.Equal(t, 15, loaded.TotalTokens)
	assert.Equal(t, "what is go?", loaded.Summary)
	assert.False(t, loaded.CreatedAt.IsZero())
}

func TestLoadMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load("conv_missing")
	assert.True(t, errors.Is(err, ErrConversationNotFound))
}

func TestSaveOverwritesByID(t *testing.T) {
	store := newTestStore(t)

	c := conv("first", "a")
	id, err := store.Save(c)
	require.NoError(t, err)

	c.Messages = append(c.Messages, llm.NewUserMessage("more"))
	id2, err := store.Save(c)
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	metas, err := store.List()
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, 3, metas[0].MessageCount)
}

func TestListNewestFirst(t *testing.T) {
	store := newTestStore(t)

	// Explicit timestamps avoid relying on sub-millisecond save ordering.
	base := time.Now().Add(-time.Hour)
	for i, prompt := range []string{"oldest", "middle", "newest"} {
		c := conv(prompt, "a")
		c.ID = "conv_" + prompt
		_, err := store.Save(c)
		require.NoError(t, err)

		c.UpdatedAt = base.Add(time.Duration(i) * time.Minute)
		data, err := json.MarshalIndent(c, "", "  ")
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(store.BaseDir, c.ID+".json"), data, 0644))
	}

	metas, err := store.List()
	require.NoError(t, err)
	require.Len(t, metas, 3)
	assert.Equal(t, "conv_newest", metas[0].ID)
	assert.Equal(t, "conv_oldest", metas[2].ID)
}

func TestLoadByIndex(t *testing.T) {
	store := newTestStore(t)
	id, err := store.Save(conv("only", "a"))
	require.NoError(t, err)

	loaded, err := store.LoadByIndex(0)
	require.NoError(t, err)
	assert.Equal(t, id, loaded.ID)

	_, err = store.LoadByIndex(1)
	assert.True(t, errors.Is(err, ErrConversationNotFound))
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	id, err := store.Save(conv("bye", "a"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(id))
	_, err = store.Load(id)
	assert.True(t, errors.Is(err, ErrConversationNotFound))
	assert.True(t, errors.Is(store.Delete(id), ErrConversationNotFound))
}

func TestCapacityPruning(t *testing.T) {
	store := newTestStore(t)
	store.MaxConversations = 3

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		c := conv("prompt", "a")
		c.ID = "conv_" + string(rune('a'+i))
		c.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		_, err := store.Save(c)
		require.NoError(t, err)
	}

	metas, err := store.List()
	require.NoError(t, err)
	assert.Len(t, metas, 3)
}

func TestSearch(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Save(conv("explain goroutines", "sure"))
	require.NoError(t, err)
	_, err = store.Save(conv("pasta recipe", "boil water"))
	require.NoError(t, err)

	results, err := store.Search("GOROUTINE")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Summary, "goroutines")
}

func TestSearchMessagesLooksInsideBodies(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Save(conv("question", "channels are typed conduits"))
	require.NoError(t, err)
	_, err = store.Save(conv("other", "nothing here"))
	require.NoError(t, err)

	results, err := store.SearchMessages("typed conduits")
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestListSkipsCorruptFiles(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Save(conv("good", "a"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(store.BaseDir, "conv_bad.json"), []byte("{not json"), 0644))

	metas, err := store.List()
	require.NoError(t, err)
	assert.Len(t, metas, 1)
}

func TestFilePathRejectsTraversal(t *testing.T) {
	store := newTestStore(t)
	path := store.filePath("../../etc/passwd")
	assert.Equal(t, filepath.Join(store.BaseDir, "passwd.json"), path)
}

func TestFromSession(t *testing.T) {
	s := session.New(session.DefaultConfig())
	s.SetSystem("be terse")
	usage := llm.NewUsage(10, 5)
	usage.CostUSD = 0.002
	s.RecordExchange("hi", &llm.ChatResponse{Content: "hello", Usage: usage}, false)

	c := FromSession(s, "anthropic", "claude-3-5-sonnet-20241022")
	assert.Equal(t, "anthropic", c.Provider)
	assert.Equal(t, "be terse", c.System)
	assert.Len(t, c.Messages, 2)
	assert.Equal(t, 1, c.Exchanges)
	assert.Equal(t, 15, c.TotalTokens)
	assert.InDelta(t, 0.002, c.CostUSD, 1e-9)
	assert.True(t, len(c.ID) > len("conv_"))
}

func TestPreviewTruncates(t *testing.T) {
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}
	c := conv(string(long), "a")
	preview := c.Preview()
	assert.LessOrEqual(t, len([]rune(preview)), 80)
	assert.Contains(t, preview, "...")
}
