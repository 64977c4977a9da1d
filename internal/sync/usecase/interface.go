package usecase

import (
	"context"
	"errors"

	accountdomain "apptrack-backend/internal/account/domain"
	syncdomain "apptrack-backend/internal/sync/domain"
)

// SyncUsecase is the caller-facing surface of the sync coordinator.
type SyncUsecase interface {
	// Start begins a sync for the account or re-attaches to the one already
	// in flight. attached reports which happened; callers surface a conflict
	// when they require a fresh run.
	Start(accountID string) (job *syncdomain.SyncJob, attached bool, err error)

	GetJob(jobID string) (*syncdomain.SyncJob, error)
	JobLogs(jobID string, afterSeq int64, limit int) ([]syncdomain.SyncLogEntry, error)
	LastLog(jobID string) (*syncdomain.SyncLogEntry, error)

	// AccountStatus reports whether a sync is currently in flight for the
	// account, and the active job when there is one.
	AccountStatus(accountID string) (running bool, job *syncdomain.SyncJob, err error)

	// Cancel requests cooperative cancellation of a running job. Work
	// already stored stays stored.
	Cancel(jobID string) error
}

// ReaderFactory builds a MailboxReader session for one account's provider.
// cleanup releases the session (connection close for IMAP) and is always
// safe to call.
type ReaderFactory interface {
	ReaderFor(ctx context.Context, account *accountdomain.Account) (reader syncdomain.MailboxReader, cleanup func(), err error)
}

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotActive    = errors.New("job is not active")
)
