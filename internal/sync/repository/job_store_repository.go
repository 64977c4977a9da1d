package repository

import (
	"errors"
	"time"

	syncdomain "apptrack-backend/internal/sync/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// jobStoreRepository implements JobStore on gorm/postgres.
type jobStoreRepository struct {
	db *gorm.DB
}

// NewJobStore creates a new instance of jobStoreRepository
func NewJobStore(db *gorm.DB) JobStore {
	return &jobStoreRepository{
		db: db,
	}
}

func (r *jobStoreRepository) ClaimOrAttach(accountID string, mode syncdomain.SyncMode, leaseTTL time.Duration) (*syncdomain.SyncJob, bool, error) {
	var out *syncdomain.SyncJob
	attached := false

	err := r.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		// Row lock keeps two concurrent Start calls from both reaching the
		// create below.
		var existing syncdomain.SyncJob
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("account_id = ? AND status IN ?", accountID, []syncdomain.SyncStatus{syncdomain.StatusQueued, syncdomain.StatusRunning}).
			First(&existing).Error

		switch {
		case err == nil:
			if !existing.LeaseExpired(now) {
				out = &existing
				attached = true
				return nil
			}
			// Expired lease: the previous run crashed. Reclaim it.
			reclaim := map[string]interface{}{
				"status":           syncdomain.StatusFailed,
				"error_message":    "lease expired",
				"finished_at":      now,
				"lease_expires_at": nil,
				"updated_at":       now,
			}
			if err := tx.Model(&syncdomain.SyncJob{}).Where("id = ?", existing.ID).Updates(reclaim).Error; err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		lease := now.Add(leaseTTL)
		job := &syncdomain.SyncJob{
			ID:             uuid.New().String(),
			AccountID:      accountID,
			Status:         syncdomain.StatusQueued,
			Phase:          syncdomain.PhaseFetching,
			Mode:           mode,
			LeaseExpiresAt: &lease,
			CategoryCounts: syncdomain.CategoryCounts{},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		out = job
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, attached, nil
}

func (r *jobStoreRepository) GetJob(jobID string) (*syncdomain.SyncJob, error) {
	var job syncdomain.SyncJob
	err := r.db.Where("id = ?", jobID).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (r *jobStoreRepository) ActiveJob(accountID string) (*syncdomain.SyncJob, error) {
	var job syncdomain.SyncJob
	err := r.db.
		Where("account_id = ? AND status IN ?", accountID, []syncdomain.SyncStatus{syncdomain.StatusQueued, syncdomain.StatusRunning}).
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (r *jobStoreRepository) MarkRunning(jobID string, leaseExpiresAt time.Time) error {
	now := time.Now()
	res := r.db.Model(&syncdomain.SyncJob{}).
		Where("id = ? AND status = ?", jobID, syncdomain.StatusQueued).
		Updates(map[string]interface{}{
			"status":           syncdomain.StatusRunning,
			"started_at":       now,
			"heartbeat_at":     now,
			"lease_expires_at": leaseExpiresAt,
			"updated_at":       now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleJob
	}
	return nil
}

func (r *jobStoreRepository) Heartbeat(jobID string, update HeartbeatUpdate) error {
	now := time.Now()
	// Guarded on Running so a run whose lease was reclaimed cannot renew
	// itself back to life.
	res := r.db.Model(&syncdomain.SyncJob{}).
		Where("id = ? AND status = ?", jobID, syncdomain.StatusRunning).
		Updates(map[string]interface{}{
			"phase":            update.Phase,
			"messages_scanned": update.MessagesScanned,
			"messages_fetched": update.MessagesFetched,
			"candidates_found": update.CandidatesFound,
			"skipped_count":    update.SkippedCount,
			"category_counts":  update.CategoryCounts,
			"total_estimate":   update.TotalEstimate,
			"heartbeat_at":     now,
			"lease_expires_at": update.LeaseExpiresAt,
			"updated_at":       now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleJob
	}
	return nil
}

func (r *jobStoreRepository) RequestCancel(jobID string) error {
	return r.db.Model(&syncdomain.SyncJob{}).
		Where("id = ? AND status IN ?", jobID, []syncdomain.SyncStatus{syncdomain.StatusQueued, syncdomain.StatusRunning}).
		Updates(map[string]interface{}{
			"cancel_requested": true,
			"updated_at":       time.Now(),
		}).Error
}

func (r *jobStoreRepository) Finish(jobID string, status syncdomain.SyncStatus, errorMessage string) error {
	now := time.Now()
	// Only an active job can be finished; otherwise a reclaimed run would
	// overwrite the terminal status the reclaimer wrote.
	res := r.db.Model(&syncdomain.SyncJob{}).
		Where("id = ? AND status IN ?", jobID, []syncdomain.SyncStatus{syncdomain.StatusQueued, syncdomain.StatusRunning}).
		Updates(map[string]interface{}{
			"status":           status,
			"phase":            syncdomain.PhaseFinalizing,
			"error_message":    errorMessage,
			"finished_at":      now,
			"lease_expires_at": nil,
			"updated_at":       now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleJob
	}
	return nil
}

func (r *jobStoreRepository) AppendLog(entry *syncdomain.SyncLogEntry) error {
	return r.db.Create(entry).Error
}

func (r *jobStoreRepository) LogsAfter(jobID string, afterSeq int64, limit int) ([]syncdomain.SyncLogEntry, error) {
	var entries []syncdomain.SyncLogEntry
	err := r.db.
		Where("job_id = ? AND seq > ?", jobID, afterSeq).
		Order("seq asc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *jobStoreRepository) LastLog(jobID string) (*syncdomain.SyncLogEntry, error) {
	var entry syncdomain.SyncLogEntry
	err := r.db.Where("job_id = ?", jobID).Order("seq desc").First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}
