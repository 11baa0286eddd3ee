package models

// MessagePayload is the payload of a NEW_MESSAGE event.
type MessagePayload struct {
	Content     string       `json:"content"`
	Sender      Sender       `json:"sender"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolCallID  string       `json:"tool_call_id,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Metadata    Meta         `json:"metadata,omitempty"`
}

// LLMCallPayload is the payload of an LLM_CALL event: one agent turn with a
// fully built per-agent view of the conversation. SourceMessageID and
// SourceSenderID identify the message that triggered the call; they feed the
// reply-to-sender routing fallback.
type LLMCallPayload struct {
	AgentID         string        `json:"agent_id"`
	AgentName       string        `json:"agent_name"`
	Messages        []ChatMessage `json:"messages"`
	SourceMessageID string        `json:"source_message_id,omitempty"`
	SourceSenderID  string        `json:"source_sender_id,omitempty"`
	TargetQueue     []string      `json:"target_queue,omitempty"`
}

// ToolCallPayload is the payload of a TOOL_CALL event. SourceSenderID and
// TargetQueue ride along so the post-batch follow-up call keeps the reply
// routing that was in effect when the agent requested the tools.
type ToolCallPayload struct {
	Call           ToolCall `json:"call"`
	AgentID        string   `json:"agent_id"`
	AgentName      string   `json:"agent_name"`
	SourceEventID  string   `json:"source_event_id,omitempty"`
	SourceSenderID string   `json:"source_sender_id,omitempty"`
	TargetQueue    []string `json:"target_queue,omitempty"`
}

// TokenPayload is a single streamed token. Tokens are stream-only: they are
// pushed to consumers but never enqueued as durable events. Every token
// stream for one LLM call ends with exactly one IsComplete token.
type TokenPayload struct {
	ThreadID   string `json:"thread_id"`
	AgentName  string `json:"agent_name"`
	Token      string `json:"token"`
	IsComplete bool   `json:"is_complete"`
}

// AssetCreatedPayload announces a stored asset. Ephemeral: emitted on the
// stream, never persisted.
type AssetCreatedPayload struct {
	AssetRef string `json:"asset_ref"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Kind     string `json:"kind,omitempty"`
}

// RAGIngestPayload is the payload of a RAG_INGEST event. Source accepts a
// URL, a file path, or inline content prefixed "text:".
type RAGIngestPayload struct {
	Source    string `json:"source"`
	Namespace string `json:"namespace,omitempty"`
	MIMEType  string `json:"mime_type,omitempty"`
	Title     string `json:"title,omitempty"`
}

// EntityExtractPayload is the payload of an ENTITY_EXTRACT event, referencing
// the persisted message (and its graph node) to extract entities from.
// AgentID names the agent whose extraction settings apply.
type EntityExtractPayload struct {
	MessageID  string `json:"message_id"`
	NodeID     string `json:"node_id"`
	Content    string `json:"content"`
	Namespace  string `json:"namespace,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
	AgentID    string `json:"agent_id,omitempty"`
}
