package domain

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

type SyncStatus string

const (
	StatusQueued    SyncStatus = "queued"
	StatusRunning   SyncStatus = "running"
	StatusCompleted SyncStatus = "completed"
	StatusFailed    SyncStatus = "failed"
	StatusCancelled SyncStatus = "cancelled"
)

// Active reports whether a job in this status still holds (or may claim) the
// account's sync lease.
func (s SyncStatus) Active() bool {
	return s == StatusQueued || s == StatusRunning
}

// Terminal reports whether the job can no longer change.
func (s SyncStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type SyncPhase string

const (
	PhaseFetching    SyncPhase = "fetching"
	PhaseClassifying SyncPhase = "classifying"
	PhaseStoring     SyncPhase = "storing"
	PhaseFinalizing  SyncPhase = "finalizing"
)

type SyncMode string

const (
	ModeFull        SyncMode = "full"
	ModeIncremental SyncMode = "incremental"
)

// CategoryCounts is a custom type to handle a JSON counter map in GORM
type CategoryCounts map[string]int

// Value implements driver.Valuer
func (c CategoryCounts) Value() (driver.Value, error) {
	if len(c) == 0 {
		return "{}", nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner
func (c *CategoryCounts) Scan(value interface{}) error {
	if value == nil {
		*c = CategoryCounts{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}
	if len(bytes) == 0 {
		*c = CategoryCounts{}
		return nil
	}
	return json.Unmarshal(bytes, c)
}

// SyncJob represents one attempt to synchronize one account's mailbox.
// At most one job per account may be in an active status at any time; the
// lease (LeaseExpiresAt) enforces that across processes.
type SyncJob struct {
	ID        string     `json:"id" gorm:"primaryKey"`
	AccountID string     `json:"account_id" gorm:"index;not null"`
	Status    SyncStatus `json:"status" gorm:"index;not null"`
	Phase     SyncPhase  `json:"phase"`
	Mode      SyncMode   `json:"mode"`

	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	LeaseExpiresAt  *time.Time `json:"lease_expires_at,omitempty"`
	HeartbeatAt     *time.Time `json:"heartbeat_at,omitempty"`
	CancelRequested bool       `json:"cancel_requested"`

	MessagesScanned int            `json:"messages_scanned"`
	MessagesFetched int            `json:"messages_fetched"`
	CandidatesFound int            `json:"candidates_found"`
	SkippedCount    int            `json:"skipped_count"`
	CategoryCounts  CategoryCounts `json:"category_counts" gorm:"type:text"`
	TotalEstimate   int            `json:"total_estimate"`

	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LeaseExpired reports whether the job's lease has lapsed. A job with no
// lease set is treated as expired so it can always be reclaimed.
func (j *SyncJob) LeaseExpired(now time.Time) bool {
	return j.LeaseExpiresAt == nil || j.LeaseExpiresAt.Before(now)
}

type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// SyncLogEntry is an append-only progress record for one job. Seq is assigned
// by the single writer (the coordinator) and is strictly increasing per job.
type SyncLogEntry struct {
	ID        uint      `json:"-" gorm:"primaryKey;autoIncrement"`
	JobID     string    `json:"job_id" gorm:"index:idx_job_seq,unique;not null"`
	Seq       int64     `json:"seq" gorm:"index:idx_job_seq,unique;not null"`
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}

// MailboxWatermark is the per-account resume point. It is updated only after
// a sync attempt reaches Completed, so a failed run retries from the same
// place.
type MailboxWatermark struct {
	AccountID     string    `json:"account_id" gorm:"primaryKey"`
	LastSyncedAt  time.Time `json:"last_synced_at"`
	HistoryCursor string    `json:"history_cursor"`
	UpdatedAt     time.Time `json:"updated_at"`
}
