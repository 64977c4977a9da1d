package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	accountdomain "apptrack-backend/internal/account/domain"
	appdomain "apptrack-backend/internal/application/domain"
	syncdomain "apptrack-backend/internal/sync/domain"
	"apptrack-backend/internal/sync/repository"
	"apptrack-backend/pkg/classifier"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- in-memory fakes ----

type fakeJobStore struct {
	mu     sync.Mutex
	jobs   map[string]*syncdomain.SyncJob
	logs   map[string][]syncdomain.SyncLogEntry
	nextID int
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		jobs: map[string]*syncdomain.SyncJob{},
		logs: map[string][]syncdomain.SyncLogEntry{},
	}
}

func copyJob(j *syncdomain.SyncJob) *syncdomain.SyncJob {
	cp := *j
	cp.CategoryCounts = syncdomain.CategoryCounts{}
	for k, v := range j.CategoryCounts {
		cp.CategoryCounts[k] = v
	}
	return &cp
}

func (s *fakeJobStore) ClaimOrAttach(accountID string, mode syncdomain.SyncMode, leaseTTL time.Duration) (*syncdomain.SyncJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, j := range s.jobs {
		if j.AccountID != accountID || !j.Status.Active() {
			continue
		}
		if !j.LeaseExpired(now) {
			return copyJob(j), true, nil
		}
		j.Status = syncdomain.StatusFailed
		j.ErrorMessage = "lease expired"
		j.LeaseExpiresAt = nil
	}

	s.nextID++
	lease := now.Add(leaseTTL)
	job := &syncdomain.SyncJob{
		ID:             fmt.Sprintf("job-%d", s.nextID),
		AccountID:      accountID,
		Status:         syncdomain.StatusQueued,
		Mode:           mode,
		LeaseExpiresAt: &lease,
		CategoryCounts: syncdomain.CategoryCounts{},
	}
	s.jobs[job.ID] = job
	return copyJob(job), false, nil
}

func (s *fakeJobStore) GetJob(jobID string) (*syncdomain.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	return copyJob(j), nil
}

func (s *fakeJobStore) ActiveJob(accountID string) (*syncdomain.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.AccountID == accountID && j.Status.Active() {
			return copyJob(j), nil
		}
	}
	return nil, nil
}

func (s *fakeJobStore) MarkRunning(jobID string, leaseExpiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[jobID]
	if j == nil || j.Status != syncdomain.StatusQueued {
		return repository.ErrStaleJob
	}
	now := time.Now()
	j.Status = syncdomain.StatusRunning
	j.StartedAt = &now
	j.LeaseExpiresAt = &leaseExpiresAt
	return nil
}

func (s *fakeJobStore) Heartbeat(jobID string, update repository.HeartbeatUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[jobID]
	if j == nil || j.Status != syncdomain.StatusRunning {
		return repository.ErrStaleJob
	}
	j.Phase = update.Phase
	j.MessagesScanned = update.MessagesScanned
	j.MessagesFetched = update.MessagesFetched
	j.CandidatesFound = update.CandidatesFound
	j.SkippedCount = update.SkippedCount
	j.TotalEstimate = update.TotalEstimate
	j.LeaseExpiresAt = &update.LeaseExpiresAt
	j.CategoryCounts = syncdomain.CategoryCounts{}
	for k, v := range update.CategoryCounts {
		j.CategoryCounts[k] = v
	}
	now := time.Now()
	j.HeartbeatAt = &now
	return nil
}

func (s *fakeJobStore) RequestCancel(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[jobID]
	if j == nil {
		return errors.New("no such job")
	}
	j.CancelRequested = true
	return nil
}

func (s *fakeJobStore) Finish(jobID string, status syncdomain.SyncStatus, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[jobID]
	if j == nil || !j.Status.Active() {
		return repository.ErrStaleJob
	}
	now := time.Now()
	j.Status = status
	j.FinishedAt = &now
	j.LeaseExpiresAt = nil
	j.ErrorMessage = errorMessage
	return nil
}

func (s *fakeJobStore) AppendLog(entry *syncdomain.SyncLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[entry.JobID] = append(s.logs[entry.JobID], *entry)
	return nil
}

func (s *fakeJobStore) LogsAfter(jobID string, afterSeq int64, limit int) ([]syncdomain.SyncLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []syncdomain.SyncLogEntry
	for _, e := range s.logs[jobID] {
		if e.Seq > afterSeq {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeJobStore) LastLog(jobID string) (*syncdomain.SyncLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.logs[jobID]
	if len(entries) == 0 {
		return nil, nil
	}
	last := entries[len(entries)-1]
	return &last, nil
}

type fakeWatermarkRepo struct {
	mu    sync.Mutex
	marks map[string]*syncdomain.MailboxWatermark
}

func newFakeWatermarkRepo() *fakeWatermarkRepo {
	return &fakeWatermarkRepo{marks: map[string]*syncdomain.MailboxWatermark{}}
}

func (w *fakeWatermarkRepo) Get(accountID string) (*syncdomain.MailboxWatermark, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	wm, ok := w.marks[accountID]
	if !ok {
		return nil, nil
	}
	cp := *wm
	return &cp, nil
}

func (w *fakeWatermarkRepo) Save(wm *syncdomain.MailboxWatermark) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := *wm
	w.marks[wm.AccountID] = &cp
	return nil
}

type fakeApplicationRepo struct {
	mu          sync.Mutex
	records     map[string]*appdomain.ApplicationRecord
	failUpserts int
	upsertCalls int
}

func newFakeApplicationRepo() *fakeApplicationRepo {
	return &fakeApplicationRepo{records: map[string]*appdomain.ApplicationRecord{}}
}

func appKey(accountID, providerMessageID string) string {
	return accountID + "|" + providerMessageID
}

func (r *fakeApplicationRepo) Upsert(record *appdomain.ApplicationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertCalls++
	if r.failUpserts > 0 {
		r.failUpserts--
		return errors.New("storage unavailable")
	}
	cp := *record
	r.records[appKey(record.AccountID, record.ProviderMessageID)] = &cp
	return nil
}

func (r *fakeApplicationRepo) GetByProviderMessageID(accountID, providerMessageID string) (*appdomain.ApplicationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[appKey(accountID, providerMessageID)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeApplicationRepo) ListByCategory(accountID string, category appdomain.Category, includeUncertain bool, limit, offset int) ([]appdomain.ApplicationRecord, int64, error) {
	return nil, 0, nil
}

func (r *fakeApplicationRepo) CountByCategory(accountID string) (map[appdomain.Category]int64, error) {
	return nil, nil
}

func (r *fakeApplicationRepo) ListGhostCandidates(accountID string, olderThan time.Time) ([]appdomain.ApplicationRecord, error) {
	return nil, nil
}

func (r *fakeApplicationRepo) ListAllGhostCandidates(olderThan time.Time) ([]appdomain.ApplicationRecord, error) {
	return nil, nil
}

func (r *fakeApplicationRepo) HasLaterAdvancement(accountID, threadID string, after time.Time) (bool, error) {
	return false, nil
}

func (r *fakeApplicationRepo) UpdateCategory(id string, category appdomain.Category) error {
	return nil
}

func (r *fakeApplicationRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*accountdomain.Account
}

func newFakeAccountRepo(accounts ...*accountdomain.Account) *fakeAccountRepo {
	r := &fakeAccountRepo{accounts: map[string]*accountdomain.Account{}}
	for _, a := range accounts {
		r.accounts[a.ID] = a
	}
	return r
}

func (r *fakeAccountRepo) FindByID(id string) (*accountdomain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *fakeAccountRepo) FindByEmail(email string) (*accountdomain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeAccountRepo) Create(account *accountdomain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[account.ID] = account
	return nil
}

func (r *fakeAccountRepo) Update(account *accountdomain.Account) error {
	return r.Create(account)
}

func (r *fakeAccountRepo) UpdateTokens(id, accessToken, refreshToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		a.AccessToken = accessToken
		a.RefreshToken = refreshToken
	}
	return nil
}

// fakeReader serves scripted pages. block, when set, stalls every ListSince
// until the channel is closed, which lets tests act while a run is in flight.
// fetchDelay slows every Fetch, simulating a rate-limited provider.
type fakeReader struct {
	mu                sync.Mutex
	pages             []*syncdomain.ListPage
	msgs              map[syncdomain.MessageID]*syncdomain.FullMessage
	malformed         map[syncdomain.MessageID]bool
	expireIncremental bool
	block             chan struct{}
	fetchDelay        time.Duration
	next              int
}

func (r *fakeReader) ListSince(ctx context.Context, cursor *syncdomain.Cursor) (*syncdomain.ListPage, error) {
	r.mu.Lock()
	block := r.block
	r.mu.Unlock()
	if block != nil {
		<-block
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.expireIncremental && cursor.Incremental() {
		return nil, syncdomain.ErrCursorExpired
	}
	if r.next >= len(r.pages) {
		return &syncdomain.ListPage{}, nil
	}
	page := r.pages[r.next]
	r.next++
	return page, nil
}

func (r *fakeReader) Fetch(ctx context.Context, id syncdomain.MessageID) (*syncdomain.FullMessage, error) {
	r.mu.Lock()
	delay := r.fetchDelay
	r.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.malformed[id] {
		return nil, fmt.Errorf("parsing body: %w", syncdomain.ErrMalformedMessage)
	}
	msg, ok := r.msgs[id]
	if !ok {
		return nil, &syncdomain.TransientError{Err: errors.New("not found")}
	}
	return msg, nil
}

type fakeReaderFactory struct {
	reader *fakeReader
	err    error
}

func (f *fakeReaderFactory) ReaderFor(ctx context.Context, account *accountdomain.Account) (syncdomain.MailboxReader, func(), error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.reader, func() {}, nil
}

// ---- fixture ----

type fixture struct {
	store      *fakeJobStore
	watermarks *fakeWatermarkRepo
	apps       *fakeApplicationRepo
	accounts   *fakeAccountRepo
	reader     *fakeReader
	co         SyncUsecase
}

const testAccountID = "acct-1"

func newFixture(reader *fakeReader) *fixture {
	return newFixtureOpts(reader, Options{
		LeaseTTL:          time.Minute,
		HeartbeatInterval: time.Millisecond,
		FetchWorkers:      2,
		StorageRetries:    3,
	})
}

func newFixtureOpts(reader *fakeReader, opts Options) *fixture {
	f := &fixture{
		store:      newFakeJobStore(),
		watermarks: newFakeWatermarkRepo(),
		apps:       newFakeApplicationRepo(),
		accounts: newFakeAccountRepo(&accountdomain.Account{
			ID:       testAccountID,
			Email:    "jane@example.com",
			Provider: accountdomain.ProviderGoogle,
		}),
		reader: reader,
	}
	f.co = NewCoordinator(
		f.store,
		f.watermarks,
		f.apps,
		f.accounts,
		&fakeReaderFactory{reader: reader},
		&classifier.Pipeline{},
		opts,
	)
	return f
}

func waitTerminal(t *testing.T, store *fakeJobStore, jobID string) *syncdomain.SyncJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(jobID)
		require.NoError(t, err)
		if job != nil && job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal status", jobID)
	return nil
}

func waitRunning(t *testing.T, store *fakeJobStore, jobID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(jobID)
		require.NoError(t, err)
		if job != nil && job.Status == syncdomain.StatusRunning {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job %s never started running", jobID)
}

func testMessages() (map[syncdomain.MessageID]*syncdomain.FullMessage, []syncdomain.MessageID) {
	msgs := map[syncdomain.MessageID]*syncdomain.FullMessage{
		"m1": {
			ID:          "m1",
			ThreadID:    "t1",
			Subject:     "Thank you for applying to Hooli",
			FromName:    "Hooli",
			FromAddress: "no-reply@hooli.greenhouse.io",
			Body:        "We received your application and will review it shortly.",
			ReceivedAt:  time.Now().Add(-time.Hour),
		},
		"m2": {
			ID:          "m2",
			ThreadID:    "t2",
			Subject:     "Interview invitation",
			FromName:    "Initech Recruiting",
			FromAddress: "recruiting@initech.com",
			Body:        "We would like to schedule an interview. Please share your availability.",
			ReceivedAt:  time.Now().Add(-30 * time.Minute),
		},
		"m3": {
			ID:          "m3",
			ThreadID:    "t3",
			Subject:     "Weekly savings inside",
			FromName:    "ShopMart",
			FromAddress: "promo@shopmart.com",
			Body:        "Huge discounts this week only.",
			ReceivedAt:  time.Now().Add(-10 * time.Minute),
		},
	}
	return msgs, []syncdomain.MessageID{"m1", "m2", "m3"}
}

// ---- tests ----

func TestFullSyncClassifiesAndStores(t *testing.T) {
	msgs, ids := testMessages()
	reader := &fakeReader{
		pages: []*syncdomain.ListPage{{
			IDs:           ids,
			TotalEstimate: 3,
			HistoryCursor: "h-100",
		}},
		msgs: msgs,
	}
	f := newFixture(reader)

	job, attached, err := f.co.Start(testAccountID)
	require.NoError(t, err)
	assert.False(t, attached)
	assert.Equal(t, syncdomain.ModeFull, job.Mode)

	final := waitTerminal(t, f.store, job.ID)
	assert.Equal(t, syncdomain.StatusCompleted, final.Status)
	assert.Equal(t, 3, final.MessagesScanned)
	assert.Equal(t, 3, final.MessagesFetched)
	assert.Equal(t, 2, final.CandidatesFound)
	assert.Equal(t, 1, final.SkippedCount)
	assert.Equal(t, 1, final.CategoryCounts["applied"])
	assert.Equal(t, 1, final.CategoryCounts["interview"])
	assert.Nil(t, final.LeaseExpiresAt, "terminal jobs hold no lease")

	assert.Equal(t, 2, f.apps.count())
	rec, err := f.apps.GetByProviderMessageID(testAccountID, "m1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, appdomain.CategoryApplied, rec.Category)
	assert.Equal(t, "Hooli", rec.CompanyName)

	// Watermark only committed on success, carrying the provider cursor.
	wm, err := f.watermarks.Get(testAccountID)
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, "h-100", wm.HistoryCursor)
	assert.False(t, wm.LastSyncedAt.IsZero())
}

func TestLogSequenceIsGapFree(t *testing.T) {
	msgs, ids := testMessages()
	reader := &fakeReader{
		pages: []*syncdomain.ListPage{{IDs: ids}},
		msgs:  msgs,
	}
	f := newFixture(reader)

	job, _, err := f.co.Start(testAccountID)
	require.NoError(t, err)
	waitTerminal(t, f.store, job.ID)

	entries, err := f.co.JobLogs(job.ID, 0, 100)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Seq)
	}
	assert.Contains(t, entries[0].Message, "sync started")
	assert.Contains(t, entries[len(entries)-1].Message, "sync completed")
}

func TestStartWhileRunningAttaches(t *testing.T) {
	msgs, ids := testMessages()
	block := make(chan struct{})
	reader := &fakeReader{
		pages: []*syncdomain.ListPage{{IDs: ids, HistoryCursor: "h-1"}},
		msgs:  msgs,
		block: block,
	}
	f := newFixture(reader)

	first, attached, err := f.co.Start(testAccountID)
	require.NoError(t, err)
	require.False(t, attached)

	second, attached, err := f.co.Start(testAccountID)
	require.NoError(t, err)
	assert.True(t, attached)
	assert.Equal(t, first.ID, second.ID, "re-attach returns the in-flight job")

	running, active, err := f.co.AccountStatus(testAccountID)
	require.NoError(t, err)
	assert.True(t, running)
	assert.Equal(t, first.ID, active.ID)

	close(block)
	waitTerminal(t, f.store, first.ID)

	running, _, err = f.co.AccountStatus(testAccountID)
	require.NoError(t, err)
	assert.False(t, running)

	// A fresh start after completion is a new, incremental job.
	third, attached, err := f.co.Start(testAccountID)
	require.NoError(t, err)
	assert.False(t, attached)
	assert.NotEqual(t, first.ID, third.ID)
	assert.Equal(t, syncdomain.ModeIncremental, third.Mode)
	waitTerminal(t, f.store, third.ID)
}

// Concurrent Start calls must converge on one job: exactly one caller
// creates, the rest attach to it.
func TestConcurrentStartsCreateOneJob(t *testing.T) {
	msgs, ids := testMessages()
	block := make(chan struct{})
	reader := &fakeReader{
		pages: []*syncdomain.ListPage{{IDs: ids}},
		msgs:  msgs,
		block: block,
	}
	f := newFixture(reader)

	const callers = 8
	jobIDs := make([]string, callers)
	var created int32
	var wg sync.WaitGroup
	var mu sync.Mutex
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, attached, err := f.co.Start(testAccountID)
			if !assert.NoError(t, err) || job == nil {
				return
			}
			mu.Lock()
			jobIDs[i] = job.ID
			if !attached {
				created++
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), created, "exactly one caller creates the job")
	for _, id := range jobIDs {
		assert.Equal(t, jobIDs[0], id)
	}

	close(block)
	waitTerminal(t, f.store, jobIDs[0])
}

func TestExpiredLeaseIsReclaimed(t *testing.T) {
	msgs, ids := testMessages()
	reader := &fakeReader{
		pages: []*syncdomain.ListPage{{IDs: ids}},
		msgs:  msgs,
	}
	f := newFixture(reader)

	// A crashed run: active in the store but its lease long lapsed.
	stale := time.Now().Add(-time.Hour)
	f.store.jobs["job-stale"] = &syncdomain.SyncJob{
		ID:             "job-stale",
		AccountID:      testAccountID,
		Status:         syncdomain.StatusRunning,
		LeaseExpiresAt: &stale,
		CategoryCounts: syncdomain.CategoryCounts{},
	}
	// Records the crashed run stored before dying.
	require.NoError(t, f.apps.Upsert(&appdomain.ApplicationRecord{
		AccountID:         testAccountID,
		ProviderMessageID: "m1",
		Category:          appdomain.CategoryApplied,
	}))

	running, _, err := f.co.AccountStatus(testAccountID)
	require.NoError(t, err)
	assert.False(t, running, "an expired lease is not a live sync")

	job, attached, err := f.co.Start(testAccountID)
	require.NoError(t, err)
	assert.False(t, attached)
	assert.NotEqual(t, "job-stale", job.ID)

	old, err := f.store.GetJob("job-stale")
	require.NoError(t, err)
	assert.Equal(t, syncdomain.StatusFailed, old.Status)
	assert.Equal(t, "lease expired", old.ErrorMessage)

	final := waitTerminal(t, f.store, job.ID)
	assert.Equal(t, syncdomain.StatusCompleted, final.Status)

	// Re-processing m1 upserted over the earlier record rather than
	// duplicating it.
	assert.Equal(t, 2, f.apps.count())
}

// A page whose fetches are slow must not let the lease lapse: renewal is
// time-driven inside the fetch phase, so a Start issued well past the TTL
// attaches to the live run instead of reclaiming it.
func TestLeaseRenewedDuringSlowFetches(t *testing.T) {
	msgs, ids := testMessages()
	reader := &fakeReader{
		pages:      []*syncdomain.ListPage{{IDs: ids}},
		msgs:       msgs,
		fetchDelay: 250 * time.Millisecond,
	}
	f := newFixtureOpts(reader, Options{
		LeaseTTL:          150 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
		FetchWorkers:      1,
		StorageRetries:    3,
	})

	job, attached, err := f.co.Start(testAccountID)
	require.NoError(t, err)
	require.False(t, attached)
	waitRunning(t, f.store, job.ID)

	// Two TTLs into the run the single worker is still draining the page.
	time.Sleep(300 * time.Millisecond)

	second, attached, err := f.co.Start(testAccountID)
	require.NoError(t, err)
	assert.True(t, attached, "lease must stay fresh while fetches drain")
	assert.Equal(t, job.ID, second.ID)

	final := waitTerminal(t, f.store, job.ID)
	assert.Equal(t, syncdomain.StatusCompleted, final.Status)
}

// If a run stalls long enough to be reclaimed, the zombie must not finish
// the job back to Completed over the reclaimer's Failed status, and must not
// commit a watermark.
func TestReclaimedJobIsNotResurrected(t *testing.T) {
	msgs, ids := testMessages()
	reader := &fakeReader{
		pages:      []*syncdomain.ListPage{{IDs: ids}},
		msgs:       msgs,
		fetchDelay: 200 * time.Millisecond,
	}
	// An hour-long heartbeat interval simulates a stalled run that never
	// renews its lease.
	f := newFixtureOpts(reader, Options{
		LeaseTTL:          50 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		FetchWorkers:      1,
		StorageRetries:    3,
	})

	first, attached, err := f.co.Start(testAccountID)
	require.NoError(t, err)
	require.False(t, attached)
	waitRunning(t, f.store, first.ID)

	// Let the lease lapse mid-page, then reclaim.
	time.Sleep(100 * time.Millisecond)
	second, attached, err := f.co.Start(testAccountID)
	require.NoError(t, err)
	require.False(t, attached, "expired lease is reclaimed, not attached")
	require.NotEqual(t, first.ID, second.ID)

	waitTerminal(t, f.store, second.ID)
	wm, err := f.watermarks.Get(testAccountID)
	require.NoError(t, err)
	require.NotNil(t, wm)

	// Drain the zombie run completely, then check it changed nothing.
	time.Sleep(700 * time.Millisecond)
	old, err := f.store.GetJob(first.ID)
	require.NoError(t, err)
	assert.Equal(t, syncdomain.StatusFailed, old.Status)
	assert.Equal(t, "lease expired", old.ErrorMessage)

	after, err := f.watermarks.Get(testAccountID)
	require.NoError(t, err)
	assert.Equal(t, wm.LastSyncedAt, after.LastSyncedAt, "a reclaimed run must not move the watermark")
}

func TestCancelStopsAtPageBoundary(t *testing.T) {
	msgs, ids := testMessages()
	block := make(chan struct{})
	reader := &fakeReader{
		pages: []*syncdomain.ListPage{
			{IDs: ids, HasMore: true, NextCursor: &syncdomain.Cursor{PageToken: "2"}},
			{IDs: ids},
		},
		msgs:  msgs,
		block: block,
	}
	f := newFixture(reader)

	job, _, err := f.co.Start(testAccountID)
	require.NoError(t, err)
	waitRunning(t, f.store, job.ID)

	require.NoError(t, f.co.Cancel(job.ID))
	close(block)

	final := waitTerminal(t, f.store, job.ID)
	assert.Equal(t, syncdomain.StatusCancelled, final.Status)
	assert.True(t, final.CancelRequested)

	// No watermark: a cancelled run must not advance the resume point.
	wm, err := f.watermarks.Get(testAccountID)
	require.NoError(t, err)
	assert.Nil(t, wm)

	// Cancelling a finished job is a conflict; unknown jobs are not found.
	assert.ErrorIs(t, f.co.Cancel(job.ID), ErrJobNotActive)
	assert.ErrorIs(t, f.co.Cancel("nope"), ErrJobNotFound)
}

func TestExpiredCursorFallsBackToFull(t *testing.T) {
	msgs, ids := testMessages()
	reader := &fakeReader{
		pages:             []*syncdomain.ListPage{{IDs: ids, HistoryCursor: "h-2"}},
		msgs:              msgs,
		expireIncremental: true,
	}
	f := newFixture(reader)

	require.NoError(t, f.watermarks.Save(&syncdomain.MailboxWatermark{
		AccountID:     testAccountID,
		LastSyncedAt:  time.Now().Add(-24 * time.Hour),
		HistoryCursor: "h-stale",
	}))

	job, _, err := f.co.Start(testAccountID)
	require.NoError(t, err)
	assert.Equal(t, syncdomain.ModeIncremental, job.Mode)

	final := waitTerminal(t, f.store, job.ID)
	assert.Equal(t, syncdomain.StatusCompleted, final.Status)
	assert.Equal(t, 3, final.MessagesScanned)

	entries, err := f.co.JobLogs(job.ID, 0, 100)
	require.NoError(t, err)
	var sawFallback bool
	for _, e := range entries {
		if e.Level == syncdomain.LogWarn {
			sawFallback = true
		}
	}
	assert.True(t, sawFallback, "fallback should leave a warn log")

	wm, err := f.watermarks.Get(testAccountID)
	require.NoError(t, err)
	assert.Equal(t, "h-2", wm.HistoryCursor)
}

func TestMalformedMessageSkippedNotFatal(t *testing.T) {
	msgs, ids := testMessages()
	reader := &fakeReader{
		pages:     []*syncdomain.ListPage{{IDs: ids}},
		msgs:      msgs,
		malformed: map[syncdomain.MessageID]bool{"m2": true},
	}
	f := newFixture(reader)

	job, _, err := f.co.Start(testAccountID)
	require.NoError(t, err)

	final := waitTerminal(t, f.store, job.ID)
	assert.Equal(t, syncdomain.StatusCompleted, final.Status)
	assert.Equal(t, 2, final.MessagesFetched)
	assert.Equal(t, 1, final.CandidatesFound)
	// m2 malformed plus m3 filtered out.
	assert.Equal(t, 2, final.SkippedCount)
}

func TestStorageRetriesThenFails(t *testing.T) {
	msgs, ids := testMessages()

	t.Run("transient failures are retried", func(t *testing.T) {
		reader := &fakeReader{pages: []*syncdomain.ListPage{{IDs: ids}}, msgs: msgs}
		f := newFixture(reader)
		f.apps.failUpserts = 2

		job, _, err := f.co.Start(testAccountID)
		require.NoError(t, err)

		final := waitTerminal(t, f.store, job.ID)
		assert.Equal(t, syncdomain.StatusCompleted, final.Status)
		assert.Equal(t, 2, f.apps.count())
	})

	t.Run("persistent failure fails the job", func(t *testing.T) {
		reader := &fakeReader{pages: []*syncdomain.ListPage{{IDs: ids}}, msgs: msgs}
		f := newFixture(reader)
		f.apps.failUpserts = 100

		job, _, err := f.co.Start(testAccountID)
		require.NoError(t, err)

		final := waitTerminal(t, f.store, job.ID)
		assert.Equal(t, syncdomain.StatusFailed, final.Status)
		assert.Contains(t, final.ErrorMessage, "storage failed")

		// Failure must not advance the watermark.
		wm, err := f.watermarks.Get(testAccountID)
		require.NoError(t, err)
		assert.Nil(t, wm)
	})
}

func TestReaderOpenFailureFailsJob(t *testing.T) {
	f := newFixture(&fakeReader{})
	f.co = NewCoordinator(
		f.store,
		f.watermarks,
		f.apps,
		f.accounts,
		&fakeReaderFactory{err: syncdomain.ErrPermanentAuth},
		&classifier.Pipeline{},
		Options{LeaseTTL: time.Minute},
	)

	job, _, err := f.co.Start(testAccountID)
	require.NoError(t, err)

	final := waitTerminal(t, f.store, job.ID)
	assert.Equal(t, syncdomain.StatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "unable to open mailbox")
}

func TestStartUnknownAccount(t *testing.T) {
	f := newFixture(&fakeReader{})
	_, _, err := f.co.Start("missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestGetJobUnknown(t *testing.T) {
	f := newFixture(&fakeReader{})
	_, err := f.co.GetJob("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = f.co.JobLogs("missing", 0, 10)
	assert.ErrorIs(t, err, ErrJobNotFound)
}
