package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/weftlabs/weft/pkg/models"
)

const threadColumns = `id, namespace, name, external_id, participants, status, mode,
	parent_thread_id, worker_locked_by, worker_lease_expires_at, metadata, created_at, updated_at`

// FindOrCreateThread resolves a thread in one transaction: by id first, then
// by external id, else it inserts a new row. The returned bool is true when
// a new thread was created.
func (s *Store) FindOrCreateThread(ctx context.Context, spec models.ThreadSpec) (*models.Thread, bool, error) {
	var thread *models.Thread
	var created bool

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if spec.ID != "" {
			t, err := queryThread(ctx, tx, `SELECT `+threadColumns+` FROM threads WHERE id = $1`, spec.ID)
			if err != nil {
				return err
			}
			if t != nil {
				thread = t
				return nil
			}
		}
		if spec.ExternalID != "" {
			t, err := queryThread(ctx, tx, `SELECT `+threadColumns+` FROM threads WHERE external_id = $1`, spec.ExternalID)
			if err != nil {
				return err
			}
			if t != nil {
				thread = t
				return nil
			}
		}

		id := spec.ID
		if id == "" {
			id = models.NewID()
		}
		mode := spec.Mode
		if mode == "" {
			mode = models.ThreadModeImmediate
		}
		participants := spec.Participants
		if participants == nil {
			participants = []string{}
		}
		metaJSON, err := json.Marshal(orEmptyMeta(spec.Metadata))
		if err != nil {
			return fmt.Errorf("store: marshal thread metadata: %w", err)
		}

		t, err := queryThread(ctx, tx,
			`INSERT INTO threads (id, namespace, name, external_id, participants, status, mode, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING `+threadColumns,
			id, nsParam(spec.Namespace), spec.Name, nilIfEmpty(spec.ExternalID),
			participants, models.ThreadStatusActive, mode, metaJSON)
		if err != nil {
			if uniqueViolation(err) && spec.ExternalID != "" {
				// Lost a create race on external_id; the winner's row is ours.
				t, err = queryThread(ctx, tx, `SELECT `+threadColumns+` FROM threads WHERE external_id = $1`, spec.ExternalID)
				if err != nil {
					return err
				}
				thread = t
				return nil
			}
			return err
		}
		thread = t
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return thread, created, nil
}

// GetThread returns a thread by id, or ErrThreadNotFound.
func (s *Store) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	var thread *models.Thread
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		t, err := queryThread(ctx, tx, `SELECT `+threadColumns+` FROM threads WHERE id = $1`, id)
		if err != nil {
			return err
		}
		thread = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, ErrThreadNotFound
	}
	return thread, nil
}

// SetThreadStatus updates a thread's lifecycle status.
func (s *Store) SetThreadStatus(ctx context.Context, id string, status models.ThreadStatus) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE threads SET status = $2, updated_at = now() WHERE id = $1`, id, status)
		if err != nil {
			return fmt.Errorf("store: set thread status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrThreadNotFound
		}
		return nil
	})
}

func queryThread(ctx context.Context, tx pgx.Tx, sql string, args ...any) (*models.Thread, error) {
	row := tx.QueryRow(ctx, sql, args...)
	t, err := scanThread(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: query thread: %w", err)
	}
	return t, nil
}

func scanThread(row pgx.Row) (*models.Thread, error) {
	var t models.Thread
	var ns, externalID, parentID, lockedBy *string
	var leaseExpires *time.Time
	var metaJSON []byte
	err := row.Scan(&t.ID, &ns, &t.Name, &externalID, &t.Participants, &t.Status, &t.Mode,
		&parentID, &lockedBy, &leaseExpires, &metaJSON, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Namespace = derefStr(ns)
	t.ExternalID = derefStr(externalID)
	t.ParentThreadID = derefStr(parentID)
	t.WorkerLockedBy = derefStr(lockedBy)
	t.WorkerLeaseExpiresAt = leaseExpires
	if metaJSON != nil {
		_ = json.Unmarshal(metaJSON, &t.Metadata)
	}
	return &t, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func orEmptyMeta(m models.Meta) models.Meta {
	if m == nil {
		return models.Meta{}
	}
	return m
}
