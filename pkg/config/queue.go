package config

import "time"

// QueueConfig contains queue, lease, and worker pool configuration.
// These values control how thread workers claim, process, and release work.
type QueueConfig struct {
	// WorkerCount is the maximum number of concurrent thread workers per
	// replica. Each worker owns exactly one thread lease while running.
	WorkerCount int `yaml:"worker_count"`

	// PollInterval is the base interval for re-checking a thread's queue
	// when a dequeue finds nothing.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// LeaseTTL is how long a thread lease is valid without renewal.
	// Must be at least 30 seconds.
	LeaseTTL time.Duration `yaml:"lease_ttl"`

	// LeaseRenewInterval is how often a running worker renews its lease.
	// Must be at most LeaseTTL/3.
	LeaseRenewInterval time.Duration `yaml:"lease_renew_interval"`

	// EventTimeout is the maximum processing time for a single event.
	EventTimeout time.Duration `yaml:"event_timeout"`

	// GracefulShutdownTimeout is the max time to wait for active thread
	// workers to finish during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// ExpireSweepInterval is how often pending events past their ExpiresAt
	// are marked expired.
	ExpireSweepInterval time.Duration `yaml:"expire_sweep_interval"`

	// OrphanSweepInterval is how often expired leases are cleared and
	// stranded processing events reset to pending.
	OrphanSweepInterval time.Duration `yaml:"orphan_sweep_interval"`

	// UserUpsertDebounce suppresses repeated user upserts for the same
	// sender within this window. In-process and best-effort.
	UserUpsertDebounce time.Duration `yaml:"user_upsert_debounce"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		LeaseTTL:                30 * time.Second,
		LeaseRenewInterval:      10 * time.Second,
		EventTimeout:            5 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
		ExpireSweepInterval:     30 * time.Second,
		OrphanSweepInterval:     1 * time.Minute,
		UserUpsertDebounce:      60 * time.Second,
	}
}
