// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package anthropic

import (
	"context"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bytes0211/stratifyai/internal/llm"
	"github.com/Bytes0211/stratifyai/internal/provider"
)

func newOfflineClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(provider.Config{APIKey: "sk-ant-test"})
	require.NoError(t, err)
	return c
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := New(provider.Config{})
	require.Error(t, err)
	assert.True(t, llm.IsAuthentication(err))
}

func TestBuildParamsSystemExtraction(t *testing.T) {
	c := newOfflineClient(t)

	req := llm.NewChatRequest("claude-3-5-sonnet-20241022", []llm.Message{
		llm.NewSystemMessage("be brief"),
		llm.NewUserMessage("hi"),
		llm.NewAssistantMessage("hello"),
		llm.NewUserMessage("continue"),
	})
	req.MaxTokens = 512
	req.Stop = []string{"END"}

	params := c.buildParams(req)
	// System turns leave the message list.
	require.Len(t, params.System, 1)
	assert.Equal(t, "be brief", params.System[0].Text)
	assert.Len(t, params.Messages, 3)
	assert.EqualValues(t, 512, params.MaxTokens)
	assert.Equal(t, []string{"END"}, params.StopSequences)
}

func TestBuildParamsMaxTokensMandatory(t *testing.T) {
	c := newOfflineClient(t)

	req := llm.NewChatRequest("claude-3-5-haiku-20241022", []llm.Message{llm.NewUserMessage("hi")})
	params := c.buildParams(req)
	// The Messages API rejects requests without max_tokens.
	assert.EqualValues(t, provider.DefaultMaxTokens, params.MaxTokens)
}

func TestUserBlocksVision(t *testing.T) {
	msg := llm.NewUserMessage("what is this?\n[IMAGE:image/png]\naWJiZQ==")
	blocks := userBlocks(msg)
	require.Len(t, blocks, 2)
	require.NotNil(t, blocks[0].OfImage)
	require.NotNil(t, blocks[1].OfText)
	assert.Equal(t, "what is this?", blocks[1].OfText.Text)
}

func TestMapStopReason(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"end_turn", "stop"},
		{"stop_sequence", "stop"},
		{"max_tokens", "length"},
		{"tool_use", "tool_calls"},
		{"other", "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mapStopReason(tt.in))
	}
}

func TestUsageFromCacheCounters(t *testing.T) {
	u := usageFrom(anthropic.Usage{
		InputTokens:              80,
		OutputTokens:             20,
		CacheCreationInputTokens: 30,
		CacheReadInputTokens:     50,
	})

	assert.Equal(t, 80, u.PromptTokens)
	assert.Equal(t, 20, u.CompletionTokens)
	assert.Equal(t, 100, u.TotalTokens)
	// Cache counters are additive to input, never folded into it.
	assert.Equal(t, 30, u.CacheCreationTokens)
	assert.Equal(t, 50, u.CacheReadTokens)
}

func TestModelsFromCatalog(t *testing.T) {
	c := newOfflineClient(t)

	models, err := c.Models(context.Background())
	require.NoError(t, err)
	assert.Contains(t, models, "claude-3-5-sonnet-20241022")
}

func TestValidateModel(t *testing.T) {
	c := newOfflineClient(t)
	ctx := context.Background()

	assert.NoError(t, c.ValidateModel(ctx, "claude-3-5-sonnet-20241022"))
	// Newer dated snapshots pass on prefix.
	assert.NoError(t, c.ValidateModel(ctx, "claude-sonnet-4-20250514"))

	err := c.ValidateModel(ctx, "gpt-4o")
	assert.True(t, llm.IsInvalidModel(err))
}

func TestMapErrorStatuses(t *testing.T) {
	c := newOfflineClient(t)

	tests := []struct {
		status int
		check  func(error) bool
	}{
		{401, llm.IsAuthentication},
		{404, llm.IsInvalidModel},
		{429, llm.IsRateLimit},
		{529, llm.IsProviderAPI},
	}
	for _, tt := range tests {
		err := c.mapError(&anthropic.Error{StatusCode: tt.status}, "claude-3-5-sonnet-20241022")
		assert.True(t, tt.check(err), "status %d", tt.status)
	}
}
