package dto

import (
	"time"

	syncdomain "apptrack-backend/internal/sync/domain"
)

type StartSyncResponse struct {
	JobID  string                `json:"job_id"`
	Status syncdomain.SyncStatus `json:"status"`
	// Attached is true when the call re-attached to a sync already in
	// flight instead of starting one.
	Attached bool `json:"attached"`
}

type JobStatusResponse struct {
	JobID  string                `json:"job_id"`
	Status syncdomain.SyncStatus `json:"status"`
	Phase  syncdomain.SyncPhase  `json:"phase"`
	Mode   syncdomain.SyncMode   `json:"mode"`

	MessagesScanned int                       `json:"messages_scanned"`
	MessagesFetched int                       `json:"messages_fetched"`
	CandidatesFound int                       `json:"candidates_found"`
	SkippedCount    int                       `json:"skipped_count"`
	CategoryCounts  syncdomain.CategoryCounts `json:"category_counts"`

	// PercentComplete and EstimatedSecondsLeft are set only when the
	// provider reported a listing size estimate.
	PercentComplete      *float64 `json:"percent_complete,omitempty"`
	EstimatedSecondsLeft *int64   `json:"estimated_seconds_left,omitempty"`

	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	LastLog      string     `json:"last_log,omitempty"`
}

type JobLogsResponse struct {
	Entries []syncdomain.SyncLogEntry `json:"entries"`
	// NextAfter is the seq to pass on the next poll.
	NextAfter int64 `json:"next_after"`
}

type AccountStatusResponse struct {
	Running bool   `json:"running"`
	JobID   string `json:"job_id,omitempty"`
}
