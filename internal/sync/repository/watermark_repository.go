package repository

import (
	"errors"
	"time"

	syncdomain "apptrack-backend/internal/sync/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type watermarkRepository struct {
	db *gorm.DB
}

// NewWatermarkRepository creates a new instance of watermarkRepository
func NewWatermarkRepository(db *gorm.DB) WatermarkRepository {
	return &watermarkRepository{
		db: db,
	}
}

func (r *watermarkRepository) Get(accountID string) (*syncdomain.MailboxWatermark, error) {
	var wm syncdomain.MailboxWatermark
	err := r.db.Where("account_id = ?", accountID).First(&wm).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &wm, nil
}

func (r *watermarkRepository) Save(wm *syncdomain.MailboxWatermark) error {
	wm.UpdatedAt = time.Now()
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		UpdateAll: true,
	}).Create(wm).Error
}
