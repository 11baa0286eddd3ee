package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// maxNotifyPayload stays under PostgreSQL's 8000-byte NOTIFY limit with
// headroom for quoting overhead.
const maxNotifyPayload = 7900

// Publisher sends stream events over Postgres NOTIFY. Oversized payloads
// are replaced by a truncation envelope carrying only routing fields;
// receivers re-read the full event row.
type Publisher struct {
	pool *pgxpool.Pool
}

// NewPublisher builds a publisher on the shared pool.
func NewPublisher(pool *pgxpool.Pool) *Publisher {
	return &Publisher{pool: pool}
}

// Publish notifies fire-and-forget, outside any transaction.
func (p *Publisher) Publish(ctx context.Context, ev *StreamEvent) error {
	payload, err := encodeNotifyPayload(ev)
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", ChannelForThread(ev.ThreadID), payload); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

// encodeNotifyPayload marshals the event, swapping in a truncation
// envelope when the wire form exceeds the NOTIFY limit.
func encodeNotifyPayload(ev *StreamEvent) (string, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal stream event: %w", err)
	}
	if len(raw) <= maxNotifyPayload {
		return string(raw), nil
	}

	envelope := &StreamEvent{
		Type:      ev.Type,
		ThreadID:  ev.ThreadID,
		EventID:   ev.EventID,
		Truncated: true,
		Origin:    ev.Origin,
		Timestamp: ev.Timestamp,
	}
	truncated, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("marshal truncation envelope: %w", err)
	}
	return string(truncated), nil
}
