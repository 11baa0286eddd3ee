package util

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/weftlabs/weft/pkg/llm"
)

// ScriptedReply is one canned model turn for ScriptedChat.
type ScriptedReply struct {
	// Text is streamed as TextChunk values, split into TokenSize runes per
	// chunk (0 streams it as a single chunk).
	Text      string
	TokenSize int

	// ToolCalls are emitted after the text, one ToolCallChunk each.
	ToolCalls []llm.ToolCallChunk

	// Err aborts the call before any chunk is produced.
	Err error
	// StreamErr is emitted as a trailing ErrorChunk, simulating a provider
	// failing mid-stream.
	StreamErr *llm.ErrorChunk

	// Gate, when non-nil, blocks the call until closed. Cancelling the
	// request context unblocks it with ctx.Err().
	Gate <-chan struct{}
}

// ScriptedChat is a ChatProvider that replays canned replies in call order
// and records every request it sees. Calls beyond the script fail, so a
// test immediately notices an unexpected extra model turn.
type ScriptedChat struct {
	mu      sync.Mutex
	replies []ScriptedReply
	next    int
	calls   []*llm.ChatRequest
}

// NewScriptedChat builds a provider that serves the given replies in order.
func NewScriptedChat(replies ...ScriptedReply) *ScriptedChat {
	return &ScriptedChat{replies: replies}
}

// Append adds replies to the end of the script.
func (s *ScriptedChat) Append(replies ...ScriptedReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
}

// Calls returns a copy of the requests received so far, in order.
func (s *ScriptedChat) Calls() []*llm.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*llm.ChatRequest, len(s.calls))
	copy(out, s.calls)
	return out
}

// Generate implements llm.ChatProvider.
func (s *ScriptedChat) Generate(ctx context.Context, req *llm.ChatRequest) (<-chan llm.Chunk, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	if s.next >= len(s.replies) {
		n := s.next
		s.mu.Unlock()
		return nil, fmt.Errorf("scripted chat: no reply for call %d (agent %s)", n, req.AgentID)
	}
	reply := s.replies[s.next]
	s.next++
	s.mu.Unlock()

	if reply.Gate != nil {
		select {
		case <-reply.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if reply.Err != nil {
		return nil, reply.Err
	}

	ch := make(chan llm.Chunk, 16)
	go func() {
		defer close(ch)
		send := func(c llm.Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, piece := range splitRunes(reply.Text, reply.TokenSize) {
			if !send(&llm.TextChunk{Content: piece}) {
				return
			}
		}
		for i := range reply.ToolCalls {
			tc := reply.ToolCalls[i]
			if !send(&tc) {
				return
			}
		}
		if reply.StreamErr != nil {
			send(reply.StreamErr)
		}
	}()
	return ch, nil
}

// splitRunes cuts s into chunks of at most size runes; size <= 0 keeps s
// whole.
func splitRunes(s string, size int) []string {
	if s == "" {
		return nil
	}
	if size <= 0 {
		return []string{s}
	}
	runes := []rune(s)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// HashEmbedder is a deterministic EmbeddingProvider: the vector for a text
// depends only on the text, so equality and cache behavior are testable
// without a real model. Vectors are unit-normalized-ish but carry no
// semantic similarity.
type HashEmbedder struct {
	// Dim defaults to 1536, matching the schema's column width.
	Dim int
}

// Dimensions implements llm.EmbeddingProvider.
func (e *HashEmbedder) Dimensions() int {
	if e.Dim <= 0 {
		return 1536
	}
	return e.Dim
}

// Embed implements llm.EmbeddingProvider.
func (e *HashEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	dim := e.Dimensions()
	out := make([][]float32, len(inputs))
	for i, input := range inputs {
		h := fnv.New64a()
		_, _ = h.Write([]byte(input))
		seed := h.Sum64()
		vec := make([]float32, dim)
		for j := 0; j < dim; j++ {
			seed = seed*6364136223846793005 + 1442695040888963407
			vec[j] = float32(int64(seed>>33))/float32(1<<30) - 1
		}
		out[i] = vec
	}
	return out, nil
}
