// Package queue runs thread workers. Each worker claims one thread's
// lease, drains its event queue through the processor registry, and
// releases the thread when no dispatchable work remains. A pool caps how
// many workers run concurrently per replica and sweeps up work stranded
// by crashed replicas.
package queue

import (
	"errors"
	"time"
)

// Sentinel errors returned by the worker pool.
var (
	// ErrAtCapacity is returned by Ensure when every worker slot is taken.
	// The orphan sweep picks the thread up once a slot frees.
	ErrAtCapacity = errors.New("worker pool at capacity")

	// ErrPoolStopped is returned by Ensure after Stop.
	ErrPoolStopped = errors.New("worker pool stopped")
)

// PoolHealth is a point-in-time snapshot of the worker pool.
type PoolHealth struct {
	Healthy          bool      `json:"healthy"`
	ActiveThreads    int       `json:"active_threads"`
	Capacity         int       `json:"capacity"`
	BrokerHealthy    bool      `json:"broker_healthy"`
	ThreadsProcessed int64     `json:"threads_processed"`
	LastOrphanSweep  time.Time `json:"last_orphan_sweep"`
	OrphansRecovered int64     `json:"orphans_recovered"`
}

// WorkerInfo describes one active thread worker.
type WorkerInfo struct {
	ThreadID  string    `json:"thread_id"`
	Namespace string    `json:"namespace,omitempty"`
	StartedAt time.Time `json:"started_at"`
}
