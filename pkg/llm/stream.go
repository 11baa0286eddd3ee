package llm

import (
	"fmt"
	"strings"

	"github.com/weftlabs/weft/pkg/models"
)

// Response is the fully collected result of one chat generation.
type Response struct {
	Text         string
	ThinkingText string
	ToolCalls    []models.ToolCall
	Usage        *TokenUsage
}

// StreamCallback receives each delta as it arrives. The chunk type
// distinguishes text from thinking so consumers can route them separately.
// Callbacks must not block; slow consumers should buffer on their side.
type StreamCallback func(chunk ChunkType, delta string)

// Collect drains a chunk stream and assembles the complete response.
func Collect(stream <-chan Chunk) (*Response, error) {
	return CollectWithCallback(stream, nil)
}

// CollectWithCallback drains a chunk stream, invoking cb for each text and
// thinking delta as it arrives. An ErrorChunk aborts collection and is
// returned as an error; partial content accumulated before the error is
// discarded.
func CollectWithCallback(stream <-chan Chunk, cb StreamCallback) (*Response, error) {
	var text, thinking strings.Builder
	var toolCalls []models.ToolCall
	var usage *TokenUsage

	for chunk := range stream {
		switch c := chunk.(type) {
		case *TextChunk:
			text.WriteString(c.Content)
			if cb != nil {
				cb(ChunkTypeText, c.Content)
			}
		case *ThinkingChunk:
			thinking.WriteString(c.Content)
			if cb != nil {
				cb(ChunkTypeThinking, c.Content)
			}
		case *ToolCallChunk:
			toolCalls = append(toolCalls, models.ToolCall{
				ID:        c.CallID,
				Name:      c.Name,
				Arguments: c.Arguments,
			})
		case *UsageChunk:
			usage = &TokenUsage{
				InputTokens:  c.InputTokens,
				OutputTokens: c.OutputTokens,
				TotalTokens:  c.TotalTokens,
			}
		case *ErrorChunk:
			return nil, fmt.Errorf("llm stream error (code=%s retryable=%t): %s", c.Code, c.Retryable, c.Message)
		}
	}

	return &Response{
		Text:         text.String(),
		ThinkingText: thinking.String(),
		ToolCalls:    toolCalls,
		Usage:        usage,
	}, nil
}
