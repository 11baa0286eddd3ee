// Package models contains the persistent entities and event payloads of the
// runtime: threads, events, messages, the knowledge graph, and documents.
package models

// Role is a chat message role as seen by a provider.
type Role string

// Role constants.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage is one line of a provider-facing conversation. The history
// generator builds these from durable messages: an agent sees its own
// messages as assistant and everyone else's as user, with non-self content
// prefixed "[<senderName>]: ".
type ChatMessage struct {
	Role       Role          `json:"role"`
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

// PartKind classifies a multimodal content part.
type PartKind string

// Part kind constants.
const (
	PartText  PartKind = "text"
	PartImage PartKind = "image"
	PartAudio PartKind = "audio"
	PartFile  PartKind = "file"
)

// ContentPart is a multimodal slice of a chat message. AssetRef parts hold an
// unresolved "asset://" reference; the LLM-call processor resolves them to
// inline data or URLs before invoking the provider.
type ContentPart struct {
	Kind     PartKind `json:"kind"`
	Text     string   `json:"text,omitempty"`
	AssetRef string   `json:"asset_ref,omitempty"`
	URL      string   `json:"url,omitempty"`
	Data     []byte   `json:"data,omitempty"`
	MIME     string   `json:"mime,omitempty"`
}

// TextMessage builds a plain text chat message.
func TextMessage(role Role, content string) ChatMessage {
	return ChatMessage{Role: role, Content: content}
}
