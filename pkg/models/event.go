package models

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of work an event carries.
type EventType string

// Event type constants.
const (
	EventNewMessage    EventType = "NEW_MESSAGE"
	EventLLMCall       EventType = "LLM_CALL"
	EventToolCall      EventType = "TOOL_CALL"
	EventToken         EventType = "TOKEN"
	EventAssetCreated  EventType = "ASSET_CREATED"
	EventEntityExtract EventType = "ENTITY_EXTRACT"
	EventRAGIngest     EventType = "RAG_INGEST"
)

// Stream-only observation types. They appear on the event stream but are
// never enqueued as durable queue events.
const (
	EventQueueDrained EventType = "QUEUE_DRAINED"
	EventFailed       EventType = "EVENT_FAILED"
)

// EventStatus represents the queue lifecycle state of an event.
// The only legal path is pending → processing → {completed, failed, expired},
// except that processing resets to pending when the lease holder crashed
// before acknowledging (see queue orphan recovery).
type EventStatus string

// Event status constants.
const (
	EventStatusPending    EventStatus = "pending"
	EventStatusProcessing EventStatus = "processing"
	EventStatusCompleted  EventStatus = "completed"
	EventStatusFailed     EventStatus = "failed"
	EventStatusExpired    EventStatus = "expired"
)

// Terminal reports whether the status is a terminal state.
func (s EventStatus) Terminal() bool {
	return s == EventStatusCompleted || s == EventStatusFailed || s == EventStatusExpired
}

// Event is a unit of asynchronous work persisted in the per-thread queue.
// ID is a ULID, so identical-priority events tie-break in insertion order.
// ExpiresAt is computed from the TTL at enqueue time; a pending event past
// ExpiresAt is marked expired instead of being dispatched.
type Event struct {
	ID            string          `json:"id"`
	ThreadID      string          `json:"thread_id"`
	Namespace     string          `json:"namespace,omitempty"`
	Type          EventType       `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	ParentEventID string          `json:"parent_event_id,omitempty"`
	TraceID       string          `json:"trace_id,omitempty"`
	Priority      int             `json:"priority"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	Status        EventStatus     `json:"status"`
	Metadata      Meta            `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// DecodePayload unmarshals the event payload into v.
func (e *Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// EnqueueInput carries the fields for adding an event to a thread's queue.
// Namespace is filled in by the caller from the run's effective namespace.
type EnqueueInput struct {
	Type          EventType
	Payload       any
	ParentEventID string
	TraceID       string
	Priority      int
	TTL           time.Duration
	Metadata      Meta
}
