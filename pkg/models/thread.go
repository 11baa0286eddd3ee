package models

import "time"

// ThreadStatus represents the lifecycle state of a thread.
type ThreadStatus string

// Thread status constants.
const (
	ThreadStatusActive   ThreadStatus = "active"
	ThreadStatusArchived ThreadStatus = "archived"
)

// ThreadMode controls when queued events are processed.
type ThreadMode string

// Thread mode constants.
const (
	// ThreadModeImmediate processes events as soon as a worker holds the lease.
	ThreadModeImmediate ThreadMode = "immediate"
	// ThreadModeDeferred leaves events pending until a worker is started explicitly.
	ThreadModeDeferred ThreadMode = "deferred"
)

// Thread is a conversation and the unit of processing exclusivity.
// ExternalID is the caller-stable lookup key; ID is an internal ULID.
// WorkerLockedBy and WorkerLeaseExpiresAt together form the worker lease:
// both are set while a worker owns the thread and both are NULL otherwise.
type Thread struct {
	ID                   string         `json:"id"`
	Namespace            string         `json:"namespace,omitempty"`
	Name                 string         `json:"name,omitempty"`
	ExternalID           string         `json:"external_id,omitempty"`
	Participants         []string       `json:"participants,omitempty"`
	Status               ThreadStatus   `json:"status"`
	Mode                 ThreadMode     `json:"mode"`
	ParentThreadID       string         `json:"parent_thread_id,omitempty"`
	WorkerLockedBy       string         `json:"worker_locked_by,omitempty"`
	WorkerLeaseExpiresAt *time.Time     `json:"worker_lease_expires_at,omitempty"`
	Metadata             Meta           `json:"metadata,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// ThreadSpec carries the caller-supplied fields used to find or create a thread.
type ThreadSpec struct {
	ID           string
	ExternalID   string
	Name         string
	Namespace    string
	Participants []string
	Mode         ThreadMode
	Metadata     Meta
}
