package repository

import (
	"time"

	appdomain "apptrack-backend/internal/application/domain"
)

// ApplicationRepository persists classified application emails.
type ApplicationRepository interface {
	// Upsert stores the record keyed by (AccountID, ProviderMessageID).
	// Re-processing the same message overwrites the classification rather
	// than duplicating the row, so duplicate provider delivery is safe.
	Upsert(record *appdomain.ApplicationRecord) error

	GetByProviderMessageID(accountID, providerMessageID string) (*appdomain.ApplicationRecord, error)

	// ListByCategory returns board records for one category, newest first.
	// Uncertain records are excluded unless includeUncertain is set.
	ListByCategory(accountID string, category appdomain.Category, includeUncertain bool, limit, offset int) ([]appdomain.ApplicationRecord, int64, error)

	// CountByCategory returns per-category totals for the board header.
	CountByCategory(accountID string) (map[appdomain.Category]int64, error)

	// ListGhostCandidates returns Applied records received before olderThan.
	ListGhostCandidates(accountID string, olderThan time.Time) ([]appdomain.ApplicationRecord, error)
	// ListAllGhostCandidates is the sweep-wide variant across accounts.
	ListAllGhostCandidates(olderThan time.Time) ([]appdomain.ApplicationRecord, error)

	// HasLaterAdvancement reports whether the thread has a newer record in a
	// category past Applied; such threads never go Ghosted.
	HasLaterAdvancement(accountID, threadID string, after time.Time) (bool, error)

	// UpdateCategory is the sweep's reclassification path.
	UpdateCategory(id string, category appdomain.Category) error
}
