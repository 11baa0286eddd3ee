package models

import "time"

// SenderType classifies who produced a message.
type SenderType string

// Sender type constants.
const (
	SenderUser   SenderType = "user"
	SenderAgent  SenderType = "agent"
	SenderSystem SenderType = "system"
	SenderTool   SenderType = "tool"
)

// Sender identifies the author of a message. ID is the internal identity;
// ExternalID is the caller-stable key for users.
type Sender struct {
	ID         string     `json:"id,omitempty"`
	ExternalID string     `json:"external_id,omitempty"`
	Type       SenderType `json:"type"`
	Name       string     `json:"name,omitempty"`
	Metadata   Meta       `json:"metadata,omitempty"`
}

// DisplayName returns the best human-readable name for the sender.
func (s Sender) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.ID != "" {
		return s.ID
	}
	return s.ExternalID
}

// Message is the durable record of one piece of conversation content.
// Every message is dual-written as a graph node of type "message"; see the
// store for the REPLIED_BY edge linking consecutive messages in a thread.
type Message struct {
	ID          string       `json:"id"`
	ThreadID    string       `json:"thread_id"`
	SenderID    string       `json:"sender_id"`
	SenderType  SenderType   `json:"sender_type"`
	SenderName  string       `json:"sender_name,omitempty"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolCallID  string       `json:"tool_call_id,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Metadata    Meta         `json:"metadata,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// ToolCall is a single tool invocation requested by an agent.
// Batch fields group calls issued together in one LLM response; the
// follow-up LLM call fires only after every member of the batch completed.
type ToolCall struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	BatchID    string `json:"batch_id,omitempty"`
	BatchSize  int    `json:"batch_size,omitempty"`
	BatchIndex int    `json:"batch_index,omitempty"`
}

// AttachmentKind classifies a message attachment.
type AttachmentKind string

// Attachment kind constants.
const (
	AttachmentImage AttachmentKind = "image"
	AttachmentAudio AttachmentKind = "audio"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment is non-text content carried by a message. Exactly one of
// AssetRef, URL, or Data is expected to be set.
type Attachment struct {
	Kind     AttachmentKind `json:"kind"`
	AssetRef string         `json:"asset_ref,omitempty"`
	URL      string         `json:"url,omitempty"`
	Data     string         `json:"data,omitempty"` // base64
	MIME     string         `json:"mime,omitempty"`
	Name     string         `json:"name,omitempty"`
}
