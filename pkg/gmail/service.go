package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	syncdomain "apptrack-backend/internal/sync/domain"
	"apptrack-backend/pkg/mailtext"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// TokenUpdateFunc handles persisted token updates after an OAuth refresh.
type TokenUpdateFunc func(token *oauth2.Token) error

// Gmail API maximum page size for Users.Messages.List.
const maxListPageSize = 500

type Service struct {
	clientID      string
	clientSecret  string
	retryAttempts int
}

func NewService(clientID, clientSecret string, retryAttempts int) *Service {
	if retryAttempts <= 0 {
		retryAttempts = 5
	}
	return &Service{
		clientID:      clientID,
		clientSecret:  clientSecret,
		retryAttempts: retryAttempts,
	}
}

type notifyTokenSource struct {
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback TokenUpdateFunc
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.callback(t); err != nil {
			log.Printf("[Gmail] Failed to persist refreshed token: %v", err)
		}
	}
	return t, nil
}

// ReaderFor builds a MailboxReader bound to one account's credentials.
// onTokenRefresh is invoked whenever the underlying token source refreshes,
// so the new access token can be written back to the account record.
func (s *Service) ReaderFor(ctx context.Context, accessToken, refreshToken string, onTokenRefresh TokenUpdateFunc) (*Reader, error) {
	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
	}

	// Only force refresh if we have a refresh token
	if refreshToken != "" {
		token.Expiry = time.Now()
	}

	config := &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		Endpoint:     google.Endpoint,
	}

	wrappedSource := &notifyTokenSource{
		src:      config.TokenSource(ctx, token),
		current:  token,
		callback: onTokenRefresh,
	}

	client := oauth2.NewClient(ctx, wrappedSource)

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %v", err)
	}

	return &Reader{srv: srv, retryAttempts: s.retryAttempts}, nil
}

// Reader implements syncdomain.MailboxReader against the Gmail API.
type Reader struct {
	srv           *gmail.Service
	retryAttempts int
}

// ListSince returns one page of message ids. A nil or zero cursor walks the
// whole mailbox newest-first via the provider page token, with no cap on
// message count; a cursor carrying a history id lists only changes since
// that point.
func (r *Reader) ListSince(ctx context.Context, cursor *syncdomain.Cursor) (*syncdomain.ListPage, error) {
	if cursor.Incremental() {
		return r.listHistory(ctx, cursor)
	}
	return r.listFull(ctx, cursor)
}

func (r *Reader) listFull(ctx context.Context, cursor *syncdomain.Cursor) (*syncdomain.ListPage, error) {
	pageToken := ""
	firstPage := true
	if cursor != nil {
		pageToken = cursor.PageToken
		firstPage = cursor.PageToken == ""
	}

	var resp *gmail.ListMessagesResponse
	err := r.withRetry(ctx, func() error {
		call := r.srv.Users.Messages.List("me").MaxResults(maxListPageSize).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		var callErr error
		resp, callErr = call.Do()
		return callErr
	})
	if err != nil {
		return nil, err
	}

	page := &syncdomain.ListPage{
		IDs:     make([]syncdomain.MessageID, 0, len(resp.Messages)),
		HasMore: resp.NextPageToken != "",
	}
	for _, m := range resp.Messages {
		page.IDs = append(page.IDs, syncdomain.MessageID(m.Id))
	}
	if resp.NextPageToken != "" {
		page.NextCursor = &syncdomain.Cursor{PageToken: resp.NextPageToken}
	}
	if firstPage {
		page.TotalEstimate = int(resp.ResultSizeEstimate)
		// Capture the history id at sync start; committing it as the
		// watermark makes the next run incremental from this point.
		if hist, histErr := r.currentHistoryID(ctx); histErr == nil {
			page.HistoryCursor = hist
		}
	}
	return page, nil
}

func (r *Reader) listHistory(ctx context.Context, cursor *syncdomain.Cursor) (*syncdomain.ListPage, error) {
	startID, err := strconv.ParseUint(cursor.HistoryCursor, 10, 64)
	if err != nil {
		return nil, syncdomain.ErrCursorExpired
	}

	var resp *gmail.ListHistoryResponse
	err = r.withRetry(ctx, func() error {
		call := r.srv.Users.History.List("me").
			StartHistoryId(startID).
			HistoryTypes("messageAdded").
			Context(ctx)
		if cursor.PageToken != "" {
			call = call.PageToken(cursor.PageToken)
		}
		var callErr error
		resp, callErr = call.Do()
		return callErr
	})
	if err != nil {
		// Gmail drops history after about a week; a 404 here means the
		// watermark is stale, not that the mailbox is gone.
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 404 {
			return nil, syncdomain.ErrCursorExpired
		}
		return nil, err
	}

	seen := make(map[string]bool)
	page := &syncdomain.ListPage{HasMore: resp.NextPageToken != ""}
	for _, h := range resp.History {
		for _, added := range h.MessagesAdded {
			if added.Message == nil || seen[added.Message.Id] {
				continue
			}
			seen[added.Message.Id] = true
			page.IDs = append(page.IDs, syncdomain.MessageID(added.Message.Id))
		}
	}
	if resp.NextPageToken != "" {
		next := *cursor
		next.PageToken = resp.NextPageToken
		page.NextCursor = &next
	}
	if resp.HistoryId > 0 {
		page.HistoryCursor = strconv.FormatUint(resp.HistoryId, 10)
	}
	return page, nil
}

func (r *Reader) currentHistoryID(ctx context.Context) (string, error) {
	var profile *gmail.Profile
	err := r.withRetry(ctx, func() error {
		var callErr error
		profile, callErr = r.srv.Users.GetProfile("me").Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(profile.HistoryId, 10), nil
}

// Fetch retrieves one full message with the body normalized to plain text.
func (r *Reader) Fetch(ctx context.Context, id syncdomain.MessageID) (*syncdomain.FullMessage, error) {
	var msg *gmail.Message
	err := r.withRetry(ctx, func() error {
		var callErr error
		msg, callErr = r.srv.Users.Messages.Get("me", string(id)).Format("full").Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return nil, fetchError(id, err)
	}
	if msg.Payload == nil {
		return nil, fmt.Errorf("%w: message %s has no payload", syncdomain.ErrMalformedMessage, id)
	}

	from := getHeader(msg.Payload.Headers, "From")
	fromName, fromAddress := splitAddress(from)

	rawBody, isHTML := getMessageBody(msg.Payload)
	body := mailtext.Normalize(rawBody, isHTML)

	snippet := msg.Snippet
	if snippet == "" {
		snippet = mailtext.Snippet(body, 200)
	}

	return &syncdomain.FullMessage{
		ID:          id,
		ThreadID:    msg.ThreadId,
		Subject:     getHeader(msg.Payload.Headers, "Subject"),
		From:        from,
		FromName:    fromName,
		FromAddress: fromAddress,
		Body:        body,
		Snippet:     snippet,
		ReceivedAt:  time.Unix(msg.InternalDate/1000, 0),
	}, nil
}

// withRetry retries transient provider failures with bounded exponential
// backoff. Permanent failures and context cancellation abort immediately.
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

		classified := classifyError(err)
		if !syncdomain.IsTransient(classified) {
			return classified
		}
		lastErr = classified
		log.Printf("[Gmail] Transient error (attempt %d/%d): %v", attempt+1, r.retryAttempts, err)
	}

	return lastErr
}

// fetchError maps a Get failure onto the domain taxonomy. A 404 means the
// message was deleted between listing and fetch, which is routine during
// history replay; the message is skipped rather than failing the job.
func fetchError(id syncdomain.MessageID, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == 404 {
		return fmt.Errorf("%w: message %s no longer exists", syncdomain.ErrMalformedMessage, id)
	}
	return err
}

// classifyError maps provider failures onto the domain taxonomy.
func classifyError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == 401:
			return fmt.Errorf("%w: %v", syncdomain.ErrPermanentAuth, err)
		case gerr.Code == 403:
			// 403 is either a rate limit or a revoked/insufficient grant.
			msg := strings.ToLower(gerr.Message)
			if strings.Contains(msg, "rate") || strings.Contains(msg, "quota") {
				return &syncdomain.TransientError{Err: err}
			}
			return fmt.Errorf("%w: %v", syncdomain.ErrPermanentAuth, err)
		case gerr.Code == 429 || gerr.Code >= 500:
			return &syncdomain.TransientError{Err: err}
		default:
			return err
		}
	}
	// Anything non-HTTP (DNS, connection reset, timeout) is retryable.
	return &syncdomain.TransientError{Err: err}
}

// Helper functions

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

// splitAddress breaks "Name <email@example.com>" into its parts.
func splitAddress(from string) (name, address string) {
	if idx := strings.Index(from, "<"); idx >= 0 {
		name = strings.TrimSpace(strings.Trim(from[:idx], `" `))
		address = strings.TrimSpace(strings.Trim(from[idx:], "<> "))
		return name, address
	}
	return "", strings.TrimSpace(from)
}

func getMessageBody(payload *gmail.MessagePart) (string, bool) {
	// If the payload itself is the body
	if payload.Body != nil && payload.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(payload.Body.Data)
		if err == nil {
			return string(data), payload.MimeType == "text/html"
		}
	}

	var htmlBody string
	var plainBody string

	var findBody func(parts []*gmail.MessagePart)
	findBody = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.MimeType == "text/html" {
				if part.Body != nil && part.Body.Data != "" {
					data, err := base64.URLEncoding.DecodeString(part.Body.Data)
					if err == nil {
						htmlBody = string(data)
					}
				}
			} else if part.MimeType == "text/plain" {
				if part.Body != nil && part.Body.Data != "" {
					data, err := base64.URLEncoding.DecodeString(part.Body.Data)
					if err == nil {
						plainBody = string(data)
					}
				}
			}

			if len(part.Parts) > 0 {
				findBody(part.Parts)
			}
		}
	}

	findBody(payload.Parts)

	// Prefer plain text: classification never needs markup.
	if plainBody != "" {
		return plainBody, false
	}
	return htmlBody, true
}
