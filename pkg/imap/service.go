// Package imap implements the MailboxReader contract over IMAP for accounts
// that are not Gmail-backed. Listing is UID-based: a full pass walks all
// UIDs newest-first, an incremental pass searches SINCE the stored watermark.
package imap

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	syncdomain "apptrack-backend/internal/sync/domain"
	"apptrack-backend/pkg/mailtext"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
)

// One page of UIDs per ListSince call; mirrors the Gmail page size.
const listPageSize = 500

type Service struct {
	retryAttempts int
}

func NewService(retryAttempts int) *Service {
	if retryAttempts <= 0 {
		retryAttempts = 5
	}
	return &Service{retryAttempts: retryAttempts}
}

// ReaderFor dials the IMAP server and opens INBOX read-only. The caller owns
// the reader for the duration of one sync attempt and must Close it.
func (s *Service) ReaderFor(ctx context.Context, server string, port int, username, password string) (*Reader, error) {
	addr := fmt.Sprintf("%s:%d", server, port)
	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", syncdomain.ErrProviderUnavailable, addr, err)
	}

	if err := c.Login(username, password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("%w: %v", syncdomain.ErrPermanentAuth, err)
	}

	if _, err := c.Select("INBOX", true); err != nil {
		c.Logout()
		return nil, &syncdomain.TransientError{Err: fmt.Errorf("unable to select INBOX: %v", err)}
	}

	return &Reader{c: c, retryAttempts: s.retryAttempts}, nil
}

// Reader implements syncdomain.MailboxReader over one IMAP connection. The
// protocol is single-stream, so all calls are serialized behind a mutex; the
// coordinator's fetch pool degrades gracefully to sequential fetches.
type Reader struct {
	c             *client.Client
	retryAttempts int
	mu            sync.Mutex

	// uids caches the full newest-first UID listing for the duration of one
	// sync attempt; pages are slices of it addressed by the cursor token.
	uids []uint32
}

func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.c.Logout()
}

func (r *Reader) ListSince(ctx context.Context, cursor *syncdomain.Cursor) (*syncdomain.ListPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	offset := 0
	if cursor != nil && cursor.PageToken != "" {
		parsed, err := strconv.Atoi(cursor.PageToken)
		if err != nil {
			return nil, syncdomain.ErrCursorExpired
		}
		offset = parsed
	}

	if r.uids == nil {
		criteria := imap.NewSearchCriteria()
		if cursor.Incremental() {
			criteria.Since = cursor.Since
		}

		var uids []uint32
		err := r.withRetry(ctx, func() error {
			var searchErr error
			uids, searchErr = r.c.UidSearch(criteria)
			return searchErr
		})
		if err != nil {
			return nil, err
		}

		// Newest first, matching the provider listing order guarantee.
		sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
		r.uids = uids
	}

	if offset > len(r.uids) {
		offset = len(r.uids)
	}
	end := offset + listPageSize
	if end > len(r.uids) {
		end = len(r.uids)
	}

	page := &syncdomain.ListPage{
		IDs:     make([]syncdomain.MessageID, 0, end-offset),
		HasMore: end < len(r.uids),
	}
	for _, uid := range r.uids[offset:end] {
		page.IDs = append(page.IDs, syncdomain.MessageID(strconv.FormatUint(uint64(uid), 10)))
	}
	if offset == 0 {
		page.TotalEstimate = len(r.uids)
	}
	if page.HasMore {
		next := syncdomain.Cursor{PageToken: strconv.Itoa(end)}
		if cursor != nil {
			next.Since = cursor.Since
			next.HistoryCursor = cursor.HistoryCursor
		}
		page.NextCursor = &next
	}
	return page, nil
}

func (r *Reader) Fetch(ctx context.Context, id syncdomain.MessageID) (*syncdomain.FullMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	uid, err := strconv.ParseUint(string(id), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid uid %q", syncdomain.ErrMalformedMessage, id)
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uint32(uid))

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	var fetched *imap.Message
	err = r.withRetry(ctx, func() error {
		messages := make(chan *imap.Message, 1)
		done := make(chan error, 1)
		go func() {
			done <- r.c.UidFetch(seqset, items, messages)
		}()
		fetched = nil
		for msg := range messages {
			fetched = msg
		}
		return <-done
	})
	if err != nil {
		return nil, err
	}
	if fetched == nil || fetched.Envelope == nil {
		return nil, fmt.Errorf("%w: uid %s not found", syncdomain.ErrMalformedMessage, id)
	}

	env := fetched.Envelope
	fromName, fromAddress := envelopeFrom(env)

	body, isHTML := readBody(fetched.GetBody(section))
	body = mailtext.Normalize(body, isHTML)

	threadID := env.InReplyTo
	if threadID == "" {
		threadID = env.MessageId
	}

	return &syncdomain.FullMessage{
		ID:          id,
		ThreadID:    threadID,
		Subject:     env.Subject,
		From:        fmt.Sprintf("%s <%s>", fromName, fromAddress),
		FromName:    fromName,
		FromAddress: fromAddress,
		Body:        body,
		Snippet:     mailtext.Snippet(body, 200),
		ReceivedAt:  env.Date,
	}, nil
}

func (r *Reader) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := 500 * time.Millisecond

	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = &syncdomain.TransientError{Err: err}
		log.Printf("[IMAP] Transient error (attempt %d/%d): %v", attempt+1, r.retryAttempts, err)
	}

	return lastErr
}

func envelopeFrom(env *imap.Envelope) (name, address string) {
	if len(env.From) == 0 {
		return "", ""
	}
	from := env.From[0]
	return from.PersonalName, strings.ToLower(from.Address())
}

// readBody parses the raw RFC 822 body, preferring the text/plain part.
func readBody(literal imap.Literal) (string, bool) {
	if literal == nil {
		return "", false
	}

	mr, err := mail.CreateReader(literal)
	if err != nil {
		return "", false
	}

	var htmlBody, plainBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := header.ContentType()
		data, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch contentType {
		case "text/plain":
			plainBody = string(data)
		case "text/html":
			htmlBody = string(data)
		}
	}

	if plainBody != "" {
		return plainBody, false
	}
	return htmlBody, true
}
