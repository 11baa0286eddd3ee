package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamOf(chunks ...Chunk) <-chan Chunk {
	ch := make(chan Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestCollect_TextAndUsage(t *testing.T) {
	resp, err := Collect(streamOf(
		&TextChunk{Content: "Hello, "},
		&TextChunk{Content: "world"},
		&UsageChunk{InputTokens: 10, OutputTokens: 2, TotalTokens: 12},
	))
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", resp.Text)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, int32(12), resp.Usage.TotalTokens)
	assert.Empty(t, resp.ToolCalls)
}

func TestCollect_ToolCalls(t *testing.T) {
	resp, err := Collect(streamOf(
		&TextChunk{Content: "Let me check."},
		&ToolCallChunk{CallID: "call_1", Name: "web_search", Arguments: `{"query":"weather"}`},
		&ToolCallChunk{CallID: "call_2", Name: "web_search", Arguments: `{"query":"news"}`},
	))
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 2)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "web_search", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"query":"news"}`, resp.ToolCalls[1].Arguments)
}

func TestCollect_ThinkingSeparateFromText(t *testing.T) {
	resp, err := Collect(streamOf(
		&ThinkingChunk{Content: "considering..."},
		&TextChunk{Content: "answer"},
	))
	require.NoError(t, err)
	assert.Equal(t, "considering...", resp.ThinkingText)
	assert.Equal(t, "answer", resp.Text)
}

func TestCollect_ErrorChunkAborts(t *testing.T) {
	resp, err := Collect(streamOf(
		&TextChunk{Content: "partial"},
		&ErrorChunk{Message: "rate limited", Code: "429", Retryable: true},
	))
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Contains(t, err.Error(), "retryable=true")
}

func TestCollectWithCallback_DeltasInOrder(t *testing.T) {
	var deltas []string
	var kinds []ChunkType
	resp, err := CollectWithCallback(streamOf(
		&ThinkingChunk{Content: "hm"},
		&TextChunk{Content: "a"},
		&TextChunk{Content: "b"},
	), func(kind ChunkType, delta string) {
		kinds = append(kinds, kind)
		deltas = append(deltas, delta)
	})
	require.NoError(t, err)
	assert.Equal(t, "ab", resp.Text)
	assert.Equal(t, []ChunkType{ChunkTypeThinking, ChunkTypeText, ChunkTypeText}, kinds)
	assert.Equal(t, []string{"hm", "a", "b"}, deltas)
}

func TestCollect_EmptyStream(t *testing.T) {
	resp, err := Collect(streamOf())
	require.NoError(t, err)
	assert.Empty(t, resp.Text)
	assert.Empty(t, resp.ToolCalls)
	assert.Nil(t, resp.Usage)
}
