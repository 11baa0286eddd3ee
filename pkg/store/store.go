// Package store implements the durable persistence layer on PostgreSQL:
// threads, the per-thread event queue, messages with their graph dual-write,
// knowledge nodes and edges (pgvector), documents and chunks, and users.
//
// All multi-row writes run inside a transaction. When a Store is bound to a
// tenant schema via WithSchema, every transaction begins with
// SET LOCAL search_path so the run's SQL resolves against that schema.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides typed access to the weft tables.
type Store struct {
	pool   *pgxpool.Pool
	schema string
}

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithSchema returns a Store whose transactions execute with
// search_path set to the given tenant schema (then public).
// The underlying pool is shared.
func (s *Store) WithSchema(schema string) *Store {
	return &Store{pool: s.pool, schema: schema}
}

// Schema returns the tenant schema this Store is bound to, or "".
func (s *Store) Schema() string {
	return s.schema
}

// Pool exposes the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// withTx runs fn inside a transaction, applying the tenant search_path first
// when the Store is schema-bound. The transaction commits iff fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := s.applySearchPath(ctx, tx); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}

func (s *Store) applySearchPath(ctx context.Context, tx pgx.Tx) error {
	if s.schema == "" {
		return nil
	}
	stmt := "SET LOCAL search_path TO " + pgx.Identifier{s.schema}.Sanitize() + ", public"
	if _, err := tx.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("store: set search_path: %w", err)
	}
	return nil
}

// nsParam maps the Go empty-string namespace to SQL NULL for the tables
// where namespace is a nullable column (threads, events).
func nsParam(ns string) *string {
	if ns == "" {
		return nil
	}
	return &ns
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
