package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/weftlabs/weft/pkg/models"
)

const eventColumns = `id, thread_id, namespace, type, payload, parent_event_id, trace_id,
	priority, expires_at, status, metadata, created_at, updated_at`

// AcquireLease claims or renews the worker lease on a thread with one
// compare-and-swap statement. It succeeds when the thread is unleased, the
// previous lease expired, or the caller already holds it; otherwise it
// returns ErrLeaseNotAcquired. Renewal is the same statement re-issued
// before the TTL elapses.
func (s *Store) AcquireLease(ctx context.Context, threadID, workerID string, ttl time.Duration) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE threads
			    SET worker_locked_by = $2,
			        worker_lease_expires_at = now() + make_interval(secs => $3),
			        updated_at = now()
			  WHERE id = $1
			    AND (worker_locked_by IS NULL
			         OR worker_lease_expires_at < now()
			         OR worker_locked_by = $2)`,
			threadID, workerID, ttl.Seconds())
		if err != nil {
			return fmt.Errorf("store: acquire lease: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrLeaseNotAcquired
		}
		return nil
	})
}

// ReleaseLease clears the lease fields iff the caller still holds the lease.
// Releasing a lease you no longer hold is a no-op, not an error.
func (s *Store) ReleaseLease(ctx context.Context, threadID, workerID string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`UPDATE threads
			    SET worker_locked_by = NULL, worker_lease_expires_at = NULL, updated_at = now()
			  WHERE id = $1 AND worker_locked_by = $2`,
			threadID, workerID)
		if err != nil {
			return fmt.Errorf("store: release lease: %w", err)
		}
		return nil
	})
}

// ResetProcessingEvents returns events stuck in processing back to pending.
// A fresh lease holder calls this once so work orphaned by a crashed worker
// is dispatched again.
func (s *Store) ResetProcessingEvents(ctx context.Context, threadID string) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE events SET status = 'pending', updated_at = now()
			  WHERE thread_id = $1 AND status = 'processing'`,
			threadID)
		if err != nil {
			return fmt.Errorf("store: reset processing events: %w", err)
		}
		n = int(tag.RowsAffected())
		return nil
	})
	return n, err
}

// Enqueue inserts one pending event on a thread's queue.
func (s *Store) Enqueue(ctx context.Context, threadID, ns string, input models.EnqueueInput) (*models.Event, error) {
	var evt *models.Event
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		e, err := insertEvent(ctx, tx, threadID, ns, input)
		if err != nil {
			return err
		}
		evt = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evt, nil
}

// EnqueueAll inserts several events in one transaction, so all of them become
// visible to the next dequeue together or not at all.
func (s *Store) EnqueueAll(ctx context.Context, threadID, ns string, inputs []models.EnqueueInput) ([]*models.Event, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	events := make([]*models.Event, 0, len(inputs))
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		for _, input := range inputs {
			e, err := insertEvent(ctx, tx, threadID, ns, input)
			if err != nil {
				return err
			}
			events = append(events, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// EnqueueUnique inserts an event only when no event on the thread carries the
// same dedupe key in its metadata. It returns (nil, nil) when the key was
// already used. Used for exactly-once follow-ups such as the post-batch
// LLM call.
func (s *Store) EnqueueUnique(ctx context.Context, threadID, ns string, input models.EnqueueInput, dedupeKey string) (*models.Event, error) {
	meta := input.Metadata.Clone()
	meta[models.MetaDedupeKey] = dedupeKey
	input.Metadata = meta

	var evt *models.Event
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		payloadJSON, metaJSON, expiresAt, err := encodeEventInput(input)
		if err != nil {
			return err
		}
		row := tx.QueryRow(ctx,
			`INSERT INTO events (id, thread_id, namespace, type, payload, parent_event_id, trace_id, priority, expires_at, metadata)
			 SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10
			  WHERE NOT EXISTS (
			        SELECT 1 FROM events
			         WHERE thread_id = $2 AND metadata->>'dedupeKey' = $11)
			 RETURNING `+eventColumns,
			models.NewID(), threadID, nsParam(ns), input.Type, payloadJSON,
			nilIfEmpty(input.ParentEventID), nilIfEmpty(input.TraceID),
			input.Priority, expiresAt, metaJSON, dedupeKey)
		e, err := scanEvent(row)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("store: enqueue unique: %w", err)
		}
		evt = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evt, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, threadID, ns string, input models.EnqueueInput) (*models.Event, error) {
	payloadJSON, metaJSON, expiresAt, err := encodeEventInput(input)
	if err != nil {
		return nil, err
	}
	row := tx.QueryRow(ctx,
		`INSERT INTO events (id, thread_id, namespace, type, payload, parent_event_id, trace_id, priority, expires_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING `+eventColumns,
		models.NewID(), threadID, nsParam(ns), input.Type, payloadJSON,
		nilIfEmpty(input.ParentEventID), nilIfEmpty(input.TraceID),
		input.Priority, expiresAt, metaJSON)
	e, err := scanEvent(row)
	if err != nil {
		return nil, fmt.Errorf("store: enqueue event: %w", err)
	}
	return e, nil
}

func encodeEventInput(input models.EnqueueInput) (payload []byte, meta []byte, expiresAt *time.Time, err error) {
	if input.Payload != nil {
		payload, err = json.Marshal(input.Payload)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("store: marshal event payload: %w", err)
		}
	}
	meta, err = json.Marshal(orEmptyMeta(input.Metadata))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("store: marshal event metadata: %w", err)
	}
	if input.TTL > 0 {
		t := time.Now().Add(input.TTL)
		expiresAt = &t
	}
	return payload, meta, expiresAt, nil
}

// Dequeue picks the next dispatchable event for a thread and marks it
// processing, in one transaction. Selection order is priority descending,
// then creation time, then id; the row is locked with SKIP LOCKED so a
// concurrent sweep never blocks the dispatch path. Only the lease holder
// may call this. Returns ErrQueueEmpty when nothing is dispatchable.
func (s *Store) Dequeue(ctx context.Context, threadID, ns string) (*models.Event, error) {
	var evt *models.Event
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+eventColumns+`
			   FROM events
			  WHERE thread_id = $1
			    AND (namespace = $2 OR ($2::text IS NULL AND namespace IS NULL))
			    AND status = 'pending'
			    AND (expires_at IS NULL OR expires_at > now())
			  ORDER BY COALESCE(priority, 0) DESC, created_at ASC, id ASC
			  LIMIT 1
			    FOR UPDATE SKIP LOCKED`,
			threadID, nsParam(ns))
		e, err := scanEvent(row)
		if err == pgx.ErrNoRows {
			return ErrQueueEmpty
		}
		if err != nil {
			return fmt.Errorf("store: dequeue: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE events SET status = 'processing', updated_at = now() WHERE id = $1`, e.ID); err != nil {
			return fmt.Errorf("store: mark processing: %w", err)
		}
		e.Status = models.EventStatusProcessing
		evt = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evt, nil
}

// CompleteEvent acknowledges a processed event.
func (s *Store) CompleteEvent(ctx context.Context, eventID string) error {
	return s.setEventStatus(ctx, eventID, models.EventStatusCompleted)
}

// AckAndEnqueue acknowledges a processed event and inserts the events it
// produced in the same transaction. Either the ack and all produced events
// commit together or none do, so a crash between processing and ack leaves
// the original event re-dispatchable with no orphaned children.
func (s *Store) AckAndEnqueue(ctx context.Context, eventID, threadID, ns string, produced []models.EnqueueInput) ([]*models.Event, error) {
	var events []*models.Event
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		events = events[:0]
		for _, input := range produced {
			e, err := insertEvent(ctx, tx, threadID, ns, input)
			if err != nil {
				return err
			}
			events = append(events, e)
		}
		tag, err := tx.Exec(ctx,
			`UPDATE events SET status = 'completed', updated_at = now() WHERE id = $1`, eventID)
		if err != nil {
			return fmt.Errorf("store: ack event: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrEventNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// FailEvent marks an event failed and records the failure reason and error
// kind in its metadata. There is no automatic retry.
func (s *Store) FailEvent(ctx context.Context, eventID, reason, kind string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE events
			    SET status = 'failed',
			        metadata = metadata || jsonb_build_object('error', $2::text, 'errorKind', $3::text),
			        updated_at = now()
			  WHERE id = $1`,
			eventID, reason, kind)
		if err != nil {
			return fmt.Errorf("store: fail event: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrEventNotFound
		}
		return nil
	})
}

func (s *Store) setEventStatus(ctx context.Context, eventID string, status models.EventStatus) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE events SET status = $2, updated_at = now() WHERE id = $1`, eventID, status)
		if err != nil {
			return fmt.Errorf("store: set event status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrEventNotFound
		}
		return nil
	})
}

// ExpireEvents transitions every pending event past its expiry to expired.
// Runs from the background sweep; returns the number of rows touched.
func (s *Store) ExpireEvents(ctx context.Context) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE events SET status = 'expired', updated_at = now()
			  WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at < now()`)
		if err != nil {
			return fmt.Errorf("store: expire events: %w", err)
		}
		n = int(tag.RowsAffected())
		return nil
	})
	return n, err
}

// ClearExpiredLeases blanks the lease fields on every thread whose lease
// passed its expiry. Safe to run from any replica at any time: a live
// holder keeps renewing, so only genuinely dead leases match.
func (s *Store) ClearExpiredLeases(ctx context.Context) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE threads
			    SET worker_locked_by = NULL, worker_lease_expires_at = NULL, updated_at = now()
			  WHERE worker_locked_by IS NOT NULL AND worker_lease_expires_at < now()`)
		if err != nil {
			return fmt.Errorf("store: clear expired leases: %w", err)
		}
		n = int(tag.RowsAffected())
		return nil
	})
	return n, err
}

// ResetOrphanedEvents returns processing events on unleased threads to
// pending. Run after ClearExpiredLeases so events stranded by a dead worker
// become dispatchable again; events under a live lease are untouched.
func (s *Store) ResetOrphanedEvents(ctx context.Context) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE events e
			    SET status = 'pending', updated_at = now()
			   FROM threads t
			  WHERE e.thread_id = t.id
			    AND e.status = 'processing'
			    AND t.worker_locked_by IS NULL`)
		if err != nil {
			return fmt.Errorf("store: reset orphaned events: %w", err)
		}
		n = int(tag.RowsAffected())
		return nil
	})
	return n, err
}

// PendingCount reports how many dispatchable events remain on a thread.
func (s *Store) PendingCount(ctx context.Context, threadID, ns string) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`SELECT count(*) FROM events
			  WHERE thread_id = $1
			    AND (namespace = $2 OR ($2::text IS NULL AND namespace IS NULL))
			    AND status = 'pending'
			    AND (expires_at IS NULL OR expires_at > now())`,
			threadID, nsParam(ns)).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("store: pending count: %w", err)
	}
	return n, nil
}

// PendingThread identifies a thread the orphan sweep should hand back to a
// worker, with the namespace its worker dequeues under.
type PendingThread struct {
	ID        string
	Namespace string
}

// ThreadsWithPendingWork finds immediate-mode threads that have dispatchable
// events but no live lease. The orphan sweep uses this to restart workers
// after a crash.
func (s *Store) ThreadsWithPendingWork(ctx context.Context, limit int) ([]PendingThread, error) {
	var threads []PendingThread
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT DISTINCT t.id, COALESCE(t.namespace, '')
			   FROM threads t
			   JOIN events e ON e.thread_id = t.id
			  WHERE e.status = 'pending'
			    AND (e.expires_at IS NULL OR e.expires_at > now())
			    AND t.mode = 'immediate'
			    AND (t.worker_locked_by IS NULL OR t.worker_lease_expires_at < now())
			  LIMIT $1`,
			limit)
		if err != nil {
			return fmt.Errorf("store: threads with pending work: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var pt PendingThread
			if err := rows.Scan(&pt.ID, &pt.Namespace); err != nil {
				return fmt.Errorf("store: scan pending thread: %w", err)
			}
			threads = append(threads, pt)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return threads, nil
}

// GetEvent returns an event by id, or ErrEventNotFound.
func (s *Store) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var evt *models.Event
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
		e, err := scanEvent(row)
		if err == pgx.ErrNoRows {
			return ErrEventNotFound
		}
		if err != nil {
			return fmt.Errorf("store: get event: %w", err)
		}
		evt = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evt, nil
}

// ListThreadEvents returns all events on a thread in creation order.
func (s *Store) ListThreadEvents(ctx context.Context, threadID string) ([]*models.Event, error) {
	var events []*models.Event
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT `+eventColumns+` FROM events WHERE thread_id = $1 ORDER BY created_at ASC, id ASC`,
			threadID)
		if err != nil {
			return fmt.Errorf("store: list events: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanEvent(rows)
			if err != nil {
				return fmt.Errorf("store: scan event: %w", err)
			}
			events = append(events, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func scanEvent(row pgx.Row) (*models.Event, error) {
	var e models.Event
	var ns, parentID, traceID *string
	var payload, metaJSON []byte
	err := row.Scan(&e.ID, &e.ThreadID, &ns, &e.Type, &payload, &parentID, &traceID,
		&e.Priority, &e.ExpiresAt, &e.Status, &metaJSON, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Namespace = derefStr(ns)
	e.ParentEventID = derefStr(parentID)
	e.TraceID = derefStr(traceID)
	e.Payload = payload
	if metaJSON != nil {
		_ = json.Unmarshal(metaJSON, &e.Metadata)
	}
	return &e, nil
}
