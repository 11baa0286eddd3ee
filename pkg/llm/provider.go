// Package llm defines the provider interfaces the runtime calls out through:
// chat generation with channel-based streaming, and embeddings. Provider
// implementations (OpenAI, local inference, test scripts) live with the
// embedding application; the runtime only sees these interfaces.
package llm

import (
	"context"

	"github.com/weftlabs/weft/pkg/models"
)

// ChatProvider generates model responses for a conversation.
type ChatProvider interface {
	// Generate sends a conversation to the model and returns a stream of
	// chunks. The returned channel is closed when the stream completes.
	// Errors after the stream starts are delivered as ErrorChunk values.
	// Cancelling ctx aborts the in-flight request.
	Generate(ctx context.Context, req *ChatRequest) (<-chan Chunk, error)
}

// EmbeddingProvider converts text into vectors.
type EmbeddingProvider interface {
	// Embed returns one vector per input, in input order.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	// Dimensions reports the vector width this provider produces.
	Dimensions() int
}

// ChatRequest carries one model invocation.
type ChatRequest struct {
	ThreadID string
	EventID  string
	AgentID  string

	Model    string
	Messages []models.ChatMessage
	Tools    []ToolDefinition // nil = no tools
	Config   GenerationConfig
}

// GenerationConfig holds per-call generation parameters.
type GenerationConfig struct {
	Temperature *float64
	MaxTokens   int
	// Stream requests token-by-token delivery; providers that cannot stream
	// may return the full response as one TextChunk.
	Stream bool
}

// ToolDefinition describes a tool available to the model.
type ToolDefinition struct {
	Name             string
	Description      string
	ParametersSchema string // JSON Schema
}

// Chunk is the interface for all streaming chunk types.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

// Chunk type constants.
const (
	ChunkTypeText     ChunkType = "text"
	ChunkTypeThinking ChunkType = "thinking"
	ChunkTypeToolCall ChunkType = "tool_call"
	ChunkTypeUsage    ChunkType = "usage"
	ChunkTypeError    ChunkType = "error"
)

// TextChunk is a chunk of the model's text response.
type TextChunk struct{ Content string }

// ThinkingChunk is a chunk of the model's internal reasoning.
type ThinkingChunk struct{ Content string }

// ToolCallChunk signals the model wants to call a tool.
type ToolCallChunk struct{ CallID, Name, Arguments string }

// UsageChunk reports token consumption for this call.
type UsageChunk struct{ InputTokens, OutputTokens, TotalTokens int32 }

// ErrorChunk signals a provider error mid-stream.
type ErrorChunk struct {
	Message   string
	Code      string
	Retryable bool
}

func (c *TextChunk) chunkType() ChunkType     { return ChunkTypeText }
func (c *ThinkingChunk) chunkType() ChunkType { return ChunkTypeThinking }
func (c *ToolCallChunk) chunkType() ChunkType { return ChunkTypeToolCall }
func (c *UsageChunk) chunkType() ChunkType    { return ChunkTypeUsage }
func (c *ErrorChunk) chunkType() ChunkType    { return ChunkTypeError }

// TokenUsage is the accumulated usage for one call.
type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}
