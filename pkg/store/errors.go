package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors returned by store operations. Callers branch on these with
// errors.Is; everything else is an infrastructure failure.
var (
	// ErrThreadNotFound is returned when a thread lookup matches no row.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrEventNotFound is returned when an event status transition matched
	// no row, usually because the event was already terminal.
	ErrEventNotFound = errors.New("event not found")

	// ErrQueueEmpty is returned by Dequeue when no dispatchable event exists.
	ErrQueueEmpty = errors.New("queue empty")

	// ErrLeaseNotAcquired is returned when another worker holds a live lease
	// on the thread.
	ErrLeaseNotAcquired = errors.New("thread lease not acquired")

	// ErrDocumentExists is returned when a document with the same
	// (namespace, content hash) was already ingested.
	ErrDocumentExists = errors.New("document already exists")
)

// uniqueViolation reports whether err is a Postgres unique constraint error.
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
