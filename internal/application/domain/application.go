package domain

import "time"

// Category is the lifecycle stage of one application email. Exactly one
// category per message; Ghosted is only ever assigned by the sweep.
type Category string

const (
	CategoryApplied   Category = "applied"
	CategoryInterview Category = "interview"
	CategoryOffer     Category = "offer"
	CategoryRejected  Category = "rejected"
	CategoryGhosted   Category = "ghosted"
)

// BoardCategories is the fixed five-value set shown on the dashboard.
var BoardCategories = []Category{
	CategoryApplied,
	CategoryInterview,
	CategoryOffer,
	CategoryRejected,
	CategoryGhosted,
}

// ApplicationRecord is one classified job-application email. Keyed uniquely
// by (AccountID, ProviderMessageID); upserts by that key overwrite rather
// than duplicate, so duplicate delivery from the provider is harmless.
type ApplicationRecord struct {
	ID                string   `json:"id" gorm:"primaryKey"`
	AccountID         string   `json:"account_id" gorm:"index:idx_account_message,unique;not null"`
	ProviderMessageID string   `json:"provider_message_id" gorm:"index:idx_account_message,unique;not null"`
	ThreadID          string   `json:"thread_id" gorm:"index"`
	Category          Category `json:"category" gorm:"index;not null"`
	// Uncertain marks low-confidence candidates retained for audit but
	// excluded from the five-category board view.
	Uncertain bool `json:"uncertain"`

	CompanyName   string    `json:"company_name"`
	RoleTitle     string    `json:"role_title"`
	Subject       string    `json:"subject"`
	SenderAddress string    `json:"sender_address"`
	Snippet       string    `json:"snippet"`
	ReceivedAt    time.Time `json:"received_at" gorm:"index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
