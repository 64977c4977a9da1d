package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MessageID identifies one message at the mail provider.
type MessageID string

// Cursor marks a position in a mailbox listing. PageToken advances pages
// within one run; HistoryCursor/Since come from the stored watermark and
// switch the listing into incremental mode. The zero cursor means a full
// listing from the newest message.
type Cursor struct {
	PageToken     string
	HistoryCursor string
	Since         time.Time
}

// Incremental reports whether the cursor resumes from a previous sync rather
// than walking the whole mailbox.
func (c *Cursor) Incremental() bool {
	return c != nil && (c.HistoryCursor != "" || !c.Since.IsZero())
}

// FullMessage is a fetched message with its body already normalized to plain
// text (HTML stripped, signatures/disclaimers removed).
type FullMessage struct {
	ID          MessageID
	ThreadID    string
	Subject     string
	From        string
	FromName    string
	FromAddress string
	Body        string
	Snippet     string
	ReceivedAt  time.Time
}

// ListPage is one page of a mailbox listing.
type ListPage struct {
	IDs []MessageID
	// NextCursor resumes the listing; nil when HasMore is false.
	NextCursor *Cursor
	HasMore    bool
	// TotalEstimate is the provider's size estimate for the whole listing,
	// 0 when unknown. Only meaningful on the first page.
	TotalEstimate int
	// HistoryCursor is the provider token to persist as the next watermark.
	HistoryCursor string
}

// MailboxReader hides the mail provider's pagination behind a page-at-a-time
// listing plus full-message retrieval. Implementations retry transient
// provider errors internally with bounded backoff and surface
// ErrPermanentAuth without retrying.
type MailboxReader interface {
	ListSince(ctx context.Context, cursor *Cursor) (*ListPage, error)
	Fetch(ctx context.Context, id MessageID) (*FullMessage, error)
}

// Provider error taxonomy. Readers classify provider failures into these so
// the coordinator never has to inspect provider-specific codes.
var (
	// ErrPermanentAuth means the account's credential is revoked or expired
	// beyond refresh. Fails the job; never retried.
	ErrPermanentAuth = errors.New("mail provider authorization revoked")

	// ErrProviderUnavailable means the provider could not be reached at all
	// after exhausting the retry budget.
	ErrProviderUnavailable = errors.New("mail provider unreachable")

	// ErrMalformedMessage marks a message whose body cannot be parsed. The
	// message is skipped and counted; the job continues.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrCursorExpired means the provider no longer honors the stored
	// incremental cursor; the coordinator falls back to a full listing.
	ErrCursorExpired = errors.New("resume cursor expired")
)

// TransientError wraps a retryable provider failure (rate limit, 5xx). It is
// absorbed inside readers and only escapes once the retry budget exhausts.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
