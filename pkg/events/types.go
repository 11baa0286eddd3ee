// Package events relays stream events from thread workers to run
// subscribers. Delivery is in-process through the Broker, plus Postgres
// NOTIFY on a per-thread channel so a handle attached on one process
// observes events produced by a worker on another.
package events

import (
	"encoding/json"
	"time"

	"github.com/weftlabs/weft/pkg/models"
)

// channelPrefix namespaces the per-thread NOTIFY channels.
const channelPrefix = "weft_events_"

// ChannelForThread returns the NOTIFY channel name for a thread.
func ChannelForThread(threadID string) string {
	return channelPrefix + threadID
}

// StreamEvent is one observation on a run's event stream: a queue event
// changing state, a message being persisted, or a streaming token.
type StreamEvent struct {
	Type     models.EventType `json:"type"`
	ThreadID string           `json:"thread_id"`
	// EventID is the queue event this observation belongs to, when any.
	EventID string          `json:"event_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// Truncated marks a NOTIFY envelope whose payload exceeded the wire
	// limit; receivers re-read the full event by EventID.
	Truncated bool      `json:"truncated,omitempty"`
	Origin    string    `json:"origin,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TokenEvent builds the stream observation for one streamed token.
func TokenEvent(threadID, eventID string, payload models.TokenPayload) (*StreamEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &StreamEvent{
		Type:      models.EventToken,
		ThreadID:  threadID,
		EventID:   eventID,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// FromQueueEvent builds the stream observation for a queue event.
func FromQueueEvent(ev *models.Event) *StreamEvent {
	return &StreamEvent{
		Type:      ev.Type,
		ThreadID:  ev.ThreadID,
		EventID:   ev.ID,
		Payload:   ev.Payload,
		Timestamp: time.Now().UTC(),
	}
}

// DrainedPayload is the payload of a QUEUE_DRAINED observation, published
// when a worker releases a thread with no dispatchable events left.
// LastEventID is the ULID of the last event the worker handled; because
// ULIDs sort by creation time, a subscriber waiting on an enqueued event
// knows the drain covers it when LastEventID >= its own event ID.
type DrainedPayload struct {
	Processed   int    `json:"processed"`
	LastEventID string `json:"last_event_id,omitempty"`
}

// FailurePayload is the payload of an EVENT_FAILED observation.
type FailurePayload struct {
	EventID string `json:"event_id"`
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
}

// DrainedEvent builds the QUEUE_DRAINED observation for a thread.
func DrainedEvent(threadID string, processed int, lastEventID string) *StreamEvent {
	raw, _ := json.Marshal(DrainedPayload{Processed: processed, LastEventID: lastEventID})
	return &StreamEvent{
		Type:      models.EventQueueDrained,
		ThreadID:  threadID,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}
}

// FailedEvent builds the EVENT_FAILED observation for a queue event.
func FailedEvent(threadID, eventID, reason, kind string) *StreamEvent {
	raw, _ := json.Marshal(FailurePayload{EventID: eventID, Error: reason, Kind: kind})
	return &StreamEvent{
		Type:      models.EventFailed,
		ThreadID:  threadID,
		EventID:   eventID,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}
}
