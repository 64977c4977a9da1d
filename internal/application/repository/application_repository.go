package repository

import (
	"errors"
	"time"

	appdomain "apptrack-backend/internal/application/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// applicationRepository implements ApplicationRepository interface
type applicationRepository struct {
	db *gorm.DB
}

// NewApplicationRepository creates a new instance of applicationRepository
func NewApplicationRepository(db *gorm.DB) ApplicationRepository {
	return &applicationRepository{
		db: db,
	}
}

func (r *applicationRepository) Upsert(record *appdomain.ApplicationRecord) error {
	now := time.Now()
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.CreatedAt = now
	record.UpdatedAt = now

	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "provider_message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"thread_id",
			"category",
			"uncertain",
			"company_name",
			"role_title",
			"subject",
			"sender_address",
			"snippet",
			"received_at",
			"updated_at",
		}),
	}).Create(record).Error
}

func (r *applicationRepository) GetByProviderMessageID(accountID, providerMessageID string) (*appdomain.ApplicationRecord, error) {
	var record appdomain.ApplicationRecord
	err := r.db.Where("account_id = ? AND provider_message_id = ?", accountID, providerMessageID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *applicationRepository) ListByCategory(accountID string, category appdomain.Category, includeUncertain bool, limit, offset int) ([]appdomain.ApplicationRecord, int64, error) {
	query := r.db.Model(&appdomain.ApplicationRecord{}).
		Where("account_id = ? AND category = ?", accountID, category)
	if !includeUncertain {
		query = query.Where("uncertain = ?", false)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []appdomain.ApplicationRecord
	err := query.Order("received_at desc").Limit(limit).Offset(offset).Find(&records).Error
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (r *applicationRepository) CountByCategory(accountID string) (map[appdomain.Category]int64, error) {
	type row struct {
		Category appdomain.Category
		Count    int64
	}
	var rows []row
	err := r.db.Model(&appdomain.ApplicationRecord{}).
		Select("category, count(*) as count").
		Where("account_id = ? AND uncertain = ?", accountID, false).
		Group("category").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[appdomain.Category]int64, len(appdomain.BoardCategories))
	for _, c := range appdomain.BoardCategories {
		counts[c] = 0
	}
	for _, row := range rows {
		counts[row.Category] = row.Count
	}
	return counts, nil
}

func (r *applicationRepository) ListGhostCandidates(accountID string, olderThan time.Time) ([]appdomain.ApplicationRecord, error) {
	var records []appdomain.ApplicationRecord
	err := r.db.
		Where("account_id = ? AND category = ? AND uncertain = ? AND received_at < ?",
			accountID, appdomain.CategoryApplied, false, olderThan).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *applicationRepository) ListAllGhostCandidates(olderThan time.Time) ([]appdomain.ApplicationRecord, error) {
	var records []appdomain.ApplicationRecord
	err := r.db.
		Where("category = ? AND uncertain = ? AND received_at < ?",
			appdomain.CategoryApplied, false, olderThan).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *applicationRepository) HasLaterAdvancement(accountID, threadID string, after time.Time) (bool, error) {
	if threadID == "" {
		return false, nil
	}
	var count int64
	err := r.db.Model(&appdomain.ApplicationRecord{}).
		Where("account_id = ? AND thread_id = ? AND received_at > ? AND category IN ?",
			accountID, threadID, after,
			[]appdomain.Category{appdomain.CategoryInterview, appdomain.CategoryOffer, appdomain.CategoryRejected}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *applicationRepository) UpdateCategory(id string, category appdomain.Category) error {
	return r.db.Model(&appdomain.ApplicationRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
		"category":   category,
		"updated_at": time.Now(),
	}).Error
}
