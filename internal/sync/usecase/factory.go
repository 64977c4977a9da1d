package usecase

import (
	"context"
	"fmt"

	accountdomain "apptrack-backend/internal/account/domain"
	accountrepo "apptrack-backend/internal/account/repository"
	syncdomain "apptrack-backend/internal/sync/domain"
	"apptrack-backend/pkg/crypto"
	"apptrack-backend/pkg/gmail"
	imapkg "apptrack-backend/pkg/imap"

	"golang.org/x/oauth2"
)

// providerReaderFactory selects the reader for an account's mail provider
// and wires credential plumbing: refreshed OAuth tokens are written back to
// the account record, IMAP passwords are opened from their encrypted form.
type providerReaderFactory struct {
	gmailService  *gmail.Service
	imapService   *imapkg.Service
	accounts      accountrepo.AccountRepository
	encryptionKey string
}

// NewReaderFactory creates a new instance of providerReaderFactory
func NewReaderFactory(gmailService *gmail.Service, imapService *imapkg.Service, accounts accountrepo.AccountRepository, encryptionKey string) ReaderFactory {
	return &providerReaderFactory{
		gmailService:  gmailService,
		imapService:   imapService,
		accounts:      accounts,
		encryptionKey: encryptionKey,
	}
}

func (f *providerReaderFactory) ReaderFor(ctx context.Context, account *accountdomain.Account) (syncdomain.MailboxReader, func(), error) {
	switch account.Provider {
	case accountdomain.ProviderGoogle:
		if account.AccessToken == "" && account.RefreshToken == "" {
			return nil, nil, fmt.Errorf("%w: no tokens on account", syncdomain.ErrPermanentAuth)
		}
		onRefresh := func(token *oauth2.Token) error {
			return f.accounts.UpdateTokens(account.ID, token.AccessToken, token.RefreshToken)
		}
		reader, err := f.gmailService.ReaderFor(ctx, account.AccessToken, account.RefreshToken, onRefresh)
		if err != nil {
			return nil, nil, err
		}
		return reader, func() {}, nil

	case accountdomain.ProviderIMAP:
		password, err := crypto.Decrypt(account.ImapPassword, f.encryptionKey)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: unable to decrypt credentials: %v", syncdomain.ErrPermanentAuth, err)
		}
		reader, err := f.imapService.ReaderFor(ctx, account.ImapServer, account.ImapPort, account.Email, password)
		if err != nil {
			return nil, nil, err
		}
		return reader, func() { _ = reader.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported mail provider %q", account.Provider)
	}
}
