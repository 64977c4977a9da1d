package repository

import (
	accountdomain "apptrack-backend/internal/account/domain"
)

// AccountRepository defines the persistence surface for connected mailboxes.
type AccountRepository interface {
	FindByID(id string) (*accountdomain.Account, error)
	FindByEmail(email string) (*accountdomain.Account, error)
	Create(account *accountdomain.Account) error
	Update(account *accountdomain.Account) error
	// UpdateTokens persists a refreshed OAuth token pair without touching
	// other fields.
	UpdateTokens(id, accessToken, refreshToken string) error
}
