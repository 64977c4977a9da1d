package repository

import (
	"errors"
	"time"

	syncdomain "apptrack-backend/internal/sync/domain"
)

// ErrStaleJob reports a lifecycle update against a job that is no longer in
// an active status: its lease lapsed and a newer run reclaimed it. The
// caller must stop without finalizing.
var ErrStaleJob = errors.New("job is no longer active")

// HeartbeatUpdate carries one progress flush from the coordinator: counter
// snapshot plus lease renewal. Counters are absolute values, not deltas; the
// coordinator is the only writer per job, so they are monotonically
// non-decreasing.
type HeartbeatUpdate struct {
	Phase           syncdomain.SyncPhase
	MessagesScanned int
	MessagesFetched int
	CandidatesFound int
	SkippedCount    int
	CategoryCounts  syncdomain.CategoryCounts
	TotalEstimate   int
	LeaseExpiresAt  time.Time
}

// JobStore is the durable record of sync attempts. It holds no business
// logic beyond the atomicity Start needs to keep the one-active-job-per-
// account invariant true under concurrent callers.
type JobStore interface {
	// ClaimOrAttach returns the account's active job when its lease is still
	// valid (attached=true). An active job with an expired lease is marked
	// Failed ("lease expired") and a fresh Queued job is created in the same
	// transaction; attached is false for new jobs.
	ClaimOrAttach(accountID string, mode syncdomain.SyncMode, leaseTTL time.Duration) (job *syncdomain.SyncJob, attached bool, err error)

	GetJob(jobID string) (*syncdomain.SyncJob, error)
	// ActiveJob returns the account's Queued/Running job, or nil.
	ActiveJob(accountID string) (*syncdomain.SyncJob, error)

	// MarkRunning transitions Queued -> Running and sets the initial lease.
	// Returns ErrStaleJob if the job is no longer Queued.
	MarkRunning(jobID string, leaseExpiresAt time.Time) error
	// Heartbeat flushes counters and renews the lease. Returns ErrStaleJob
	// if the job is no longer Running, i.e. its lease was reclaimed.
	Heartbeat(jobID string, update HeartbeatUpdate) error
	// RequestCancel sets the cooperative cancel flag; the running loop
	// observes it at page boundaries.
	RequestCancel(jobID string) error
	// Finish moves the job to a terminal status and clears the lease.
	// Only Queued/Running jobs can be finished; a run whose job was
	// reclaimed gets ErrStaleJob instead of overwriting the newer state.
	Finish(jobID string, status syncdomain.SyncStatus, errorMessage string) error

	AppendLog(entry *syncdomain.SyncLogEntry) error
	// LogsAfter returns entries with Seq > afterSeq in Seq order, capped at
	// limit.
	LogsAfter(jobID string, afterSeq int64, limit int) ([]syncdomain.SyncLogEntry, error)
	LastLog(jobID string) (*syncdomain.SyncLogEntry, error)
}

// WatermarkRepository persists the per-account resume point.
type WatermarkRepository interface {
	// Get returns nil when the account has never completed a sync.
	Get(accountID string) (*syncdomain.MailboxWatermark, error)
	Save(wm *syncdomain.MailboxWatermark) error
}
