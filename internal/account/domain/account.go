package domain

import "time"

type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderIMAP   Provider = "imap"
)

// Account is one connected mailbox. Identity and OAuth issuance live with
// the external identity service; this record only holds what sync needs: the
// provider kind and the credentials to read the mailbox.
type Account struct {
	ID       string   `json:"id" gorm:"primaryKey"`
	Email    string   `json:"email" gorm:"uniqueIndex;not null"`
	Provider Provider `json:"provider" gorm:"not null"`

	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`

	ImapServer string `json:"imap_server,omitempty"`
	ImapPort   int    `json:"imap_port,omitempty"`
	// ImapPassword is stored encrypted; pkg/crypto seals and opens it.
	ImapPassword string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
