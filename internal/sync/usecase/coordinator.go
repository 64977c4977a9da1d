package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	accountdomain "apptrack-backend/internal/account/domain"
	accountrepo "apptrack-backend/internal/account/repository"
	appdomain "apptrack-backend/internal/application/domain"
	apprepo "apptrack-backend/internal/application/repository"
	syncdomain "apptrack-backend/internal/sync/domain"
	"apptrack-backend/internal/sync/repository"
	"apptrack-backend/pkg/classifier"

	"golang.org/x/sync/errgroup"
)

// Options tunes one coordinator instance.
type Options struct {
	LeaseTTL          time.Duration
	HeartbeatInterval time.Duration
	FetchWorkers      int
	StorageRetries    int
}

func (o Options) withDefaults() Options {
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 10 * time.Minute
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.FetchWorkers <= 0 {
		o.FetchWorkers = 6
	}
	if o.StorageRetries <= 0 {
		o.StorageRetries = 3
	}
	return o
}

// coordinator implements SyncUsecase. One background run per account; the
// durable lease in JobStore is the mutual-exclusion primitive, so a second
// process (or a restart) can reclaim work from a crashed run once the lease
// expires.
type coordinator struct {
	jobs       repository.JobStore
	watermarks repository.WatermarkRepository
	apps       apprepo.ApplicationRepository
	accounts   accountrepo.AccountRepository
	readers    ReaderFactory
	pipeline   *classifier.Pipeline
	opts       Options

	// cancelFlags tracks in-process runs so Cancel takes effect without
	// waiting for the next JobStore poll.
	mu          sync.Mutex
	cancelFlags map[string]*atomic.Bool
}

// NewCoordinator creates a new instance of coordinator
func NewCoordinator(
	jobs repository.JobStore,
	watermarks repository.WatermarkRepository,
	apps apprepo.ApplicationRepository,
	accounts accountrepo.AccountRepository,
	readers ReaderFactory,
	pipeline *classifier.Pipeline,
	opts Options,
) SyncUsecase {
	return &coordinator{
		jobs:        jobs,
		watermarks:  watermarks,
		apps:        apps,
		accounts:    accounts,
		readers:     readers,
		pipeline:    pipeline,
		opts:        opts.withDefaults(),
		cancelFlags: make(map[string]*atomic.Bool),
	}
}

func (c *coordinator) Start(accountID string) (*syncdomain.SyncJob, bool, error) {
	account, err := c.accounts.FindByID(accountID)
	if err != nil {
		return nil, false, err
	}
	if account == nil {
		return nil, false, ErrAccountNotFound
	}

	watermark, err := c.watermarks.Get(accountID)
	if err != nil {
		return nil, false, err
	}

	mode := syncdomain.ModeFull
	if watermark != nil {
		mode = syncdomain.ModeIncremental
	}

	job, attached, err := c.jobs.ClaimOrAttach(accountID, mode, c.opts.LeaseTTL)
	if err != nil {
		return nil, false, err
	}
	if attached {
		return job, true, nil
	}

	flag := &atomic.Bool{}
	c.mu.Lock()
	c.cancelFlags[job.ID] = flag
	c.mu.Unlock()

	go c.run(job, account, watermark, flag)

	return job, false, nil
}

func (c *coordinator) GetJob(jobID string) (*syncdomain.SyncJob, error) {
	job, err := c.jobs.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (c *coordinator) JobLogs(jobID string, afterSeq int64, limit int) ([]syncdomain.SyncLogEntry, error) {
	job, err := c.jobs.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return c.jobs.LogsAfter(jobID, afterSeq, limit)
}

func (c *coordinator) LastLog(jobID string) (*syncdomain.SyncLogEntry, error) {
	return c.jobs.LastLog(jobID)
}

func (c *coordinator) AccountStatus(accountID string) (bool, *syncdomain.SyncJob, error) {
	job, err := c.jobs.ActiveJob(accountID)
	if err != nil {
		return false, nil, err
	}
	if job == nil {
		return false, nil, nil
	}
	// An active job whose lease lapsed is a crashed run awaiting reclaim,
	// not a live sync.
	if job.LeaseExpired(time.Now()) {
		return false, job, nil
	}
	return true, job, nil
}

func (c *coordinator) Cancel(jobID string) error {
	job, err := c.jobs.GetJob(jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return ErrJobNotActive
	}

	if err := c.jobs.RequestCancel(jobID); err != nil {
		return err
	}

	c.mu.Lock()
	flag := c.cancelFlags[jobID]
	c.mu.Unlock()
	if flag != nil {
		flag.Store(true)
	}
	return nil
}

func (c *coordinator) run(job *syncdomain.SyncJob, account *accountdomain.Account, watermark *syncdomain.MailboxWatermark, flag *atomic.Bool) {
	defer func() {
		c.mu.Lock()
		delete(c.cancelFlags, job.ID)
		c.mu.Unlock()
	}()

	r := &runner{
		c:          c,
		job:        job,
		account:    account,
		watermark:  watermark,
		cancelFlag: flag,
		counts:     syncdomain.CategoryCounts{},
	}
	r.execute()
}

// runner holds the per-attempt state of one sync execution. It is the single
// writer for its job: counters only grow and log seq numbers are gap-free.
type runner struct {
	c          *coordinator
	job        *syncdomain.SyncJob
	account    *accountdomain.Account
	watermark  *syncdomain.MailboxWatermark
	cancelFlag *atomic.Bool

	seq           int64
	scanned       int
	fetched       int
	candidates    int
	skipped       int
	counts        syncdomain.CategoryCounts
	totalEstimate int

	phase         syncdomain.SyncPhase
	lastHeartbeat time.Time
	// stale flips when a heartbeat learns the job was reclaimed by a newer
	// run; the runner then stops without finalizing.
	stale atomic.Bool
	// historyCursor is the provider token captured during the run, committed
	// as the next watermark only on success.
	historyCursor string
}

// errLeaseLost aborts a run whose job was reclaimed while it was working.
var errLeaseLost = errors.New("sync lease lost to a newer run")

func (r *runner) execute() {
	ctx := context.Background()
	startedAt := time.Now()

	if err := r.c.jobs.MarkRunning(r.job.ID, startedAt.Add(r.c.opts.LeaseTTL)); err != nil {
		log.Printf("[SyncCoordinator] Failed to mark job %s running: %v", r.job.ID, err)
		return
	}
	r.lastHeartbeat = startedAt
	r.phase = syncdomain.PhaseFetching
	r.logf(syncdomain.LogInfo, "sync started (mode=%s)", r.job.Mode)

	reader, cleanup, err := r.c.readers.ReaderFor(ctx, r.account)
	if err != nil {
		r.fail(fmt.Errorf("unable to open mailbox: %w", err))
		return
	}
	defer cleanup()

	cursor := r.initialCursor()

	for {
		if r.cancelled() {
			r.finishCancelled()
			return
		}

		page, err := reader.ListSince(ctx, cursor)
		if errors.Is(err, syncdomain.ErrCursorExpired) && cursor.Incremental() {
			// Provider no longer honors the watermark; restart as a full
			// pass within the same job.
			r.logf(syncdomain.LogWarn, "incremental cursor expired, falling back to full listing")
			cursor = nil
			continue
		}
		if err != nil {
			r.fail(fmt.Errorf("listing failed: %w", err))
			return
		}

		if page.HistoryCursor != "" {
			r.historyCursor = page.HistoryCursor
		}
		if page.TotalEstimate > 0 {
			r.totalEstimate = page.TotalEstimate
		}
		r.scanned += len(page.IDs)

		if err := r.processPage(ctx, reader, page.IDs); err != nil {
			if errors.Is(err, errLeaseLost) {
				r.abandon()
				return
			}
			r.fail(err)
			return
		}

		r.phase = syncdomain.PhaseFetching
		r.heartbeat(true)
		if r.stale.Load() {
			r.abandon()
			return
		}
		r.logf(syncdomain.LogInfo, "page processed: scanned=%d fetched=%d candidates=%d skipped=%d",
			r.scanned, r.fetched, r.candidates, r.skipped)

		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	if r.cancelled() {
		r.finishCancelled()
		return
	}

	r.phase = syncdomain.PhaseFinalizing
	r.heartbeat(true)
	if r.stale.Load() {
		// A reclaimed run must not commit a watermark over the newer run's.
		r.abandon()
		return
	}

	wm := &syncdomain.MailboxWatermark{
		AccountID:     r.account.ID,
		LastSyncedAt:  startedAt,
		HistoryCursor: r.historyCursor,
	}
	if wm.HistoryCursor == "" && r.watermark != nil {
		wm.HistoryCursor = r.watermark.HistoryCursor
	}
	if err := r.c.watermarks.Save(wm); err != nil {
		r.fail(fmt.Errorf("unable to persist watermark: %w", err))
		return
	}

	if err := r.c.jobs.Finish(r.job.ID, syncdomain.StatusCompleted, ""); err != nil {
		log.Printf("[SyncCoordinator] Failed to complete job %s: %v", r.job.ID, err)
		return
	}
	r.logf(syncdomain.LogInfo, "sync completed: fetched=%d candidates=%d skipped=%d", r.fetched, r.candidates, r.skipped)
}

func (r *runner) initialCursor() *syncdomain.Cursor {
	if r.job.Mode != syncdomain.ModeIncremental || r.watermark == nil {
		return nil
	}
	return &syncdomain.Cursor{
		HistoryCursor: r.watermark.HistoryCursor,
		Since:         r.watermark.LastSyncedAt,
	}
}

// processPage fetches one page of messages through the bounded worker pool,
// then classifies and stores each result. Classification order within the
// page does not matter: the upsert key absorbs reordering.
func (r *runner) processPage(ctx context.Context, reader syncdomain.MailboxReader, ids []syncdomain.MessageID) error {
	messages, err := r.fetchPage(ctx, reader, ids)
	if err != nil {
		return err
	}

	r.phase = syncdomain.PhaseClassifying
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		if r.stale.Load() {
			return errLeaseLost
		}

		result := r.c.pipeline.Classify(msg)
		if !result.Candidate {
			r.skipped++
			r.heartbeat(false)
			continue
		}
		r.candidates++

		r.phase = syncdomain.PhaseStoring
		record := recordFromResult(r.account.ID, msg, result)
		if err := r.upsertWithRetry(record); err != nil {
			return fmt.Errorf("storage failed for message %s: %w", msg.ID, err)
		}

		if result.Uncertain {
			r.counts["uncertain"]++
		} else {
			r.counts[string(result.Category)]++
		}
		r.phase = syncdomain.PhaseClassifying
		r.heartbeat(false)
	}

	return nil
}

// fetchPage runs the bounded fetch pool. Results keep listing order. A
// malformed message is skipped and counted; any other fetch error aborts the
// page. Cancellation is checked before each fetch is scheduled; fetches
// already in flight complete normally.
func (r *runner) fetchPage(ctx context.Context, reader syncdomain.MailboxReader, ids []syncdomain.MessageID) ([]*syncdomain.FullMessage, error) {
	messages := make([]*syncdomain.FullMessage, len(ids))

	var (
		mu        sync.Mutex
		malformed []string
	)

	// A slow page (rate-limited provider, large backoff) must not outlive
	// the lease, so renewal is time-driven while the pool drains. The ticker
	// shares the pool mutex with the workers for a consistent counter
	// snapshot; it stops before the runner resumes flushing heartbeats
	// itself.
	hbStop := make(chan struct{})
	var hbWg sync.WaitGroup
	hbWg.Add(1)
	go func() {
		defer hbWg.Done()
		ticker := time.NewTicker(r.c.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				mu.Lock()
				r.heartbeat(true)
				mu.Unlock()
			case <-hbStop:
				return
			}
		}
	}()

	g := new(errgroup.Group)
	g.SetLimit(r.c.opts.FetchWorkers)

	for i, id := range ids {
		if r.cancelled() || r.stale.Load() {
			break
		}

		i, id := i, id
		g.Go(func() error {
			msg, err := reader.Fetch(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, syncdomain.ErrMalformedMessage):
				r.skipped++
				malformed = append(malformed, fmt.Sprintf("%s: %v", id, err))
			case err != nil:
				return fmt.Errorf("fetch failed for message %s: %w", id, err)
			default:
				messages[i] = msg
				r.fetched++
			}
			return nil
		})
	}

	err := g.Wait()
	close(hbStop)
	hbWg.Wait()
	// The runner goroutine is the only log writer, so malformed skips are
	// logged here rather than from the pool.
	for _, m := range malformed {
		r.logf(syncdomain.LogWarn, "skipping malformed message %s", m)
	}
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// upsertWithRetry retries storage failures a bounded number of times before
// failing the job; progress already stored is never lost.
func (r *runner) upsertWithRetry(record *appdomain.ApplicationRecord) error {
	var lastErr error
	for attempt := 0; attempt < r.c.opts.StorageRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
		}
		if err := r.c.apps.Upsert(record); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func recordFromResult(accountID string, msg *syncdomain.FullMessage, result classifier.Result) *appdomain.ApplicationRecord {
	return &appdomain.ApplicationRecord{
		AccountID:         accountID,
		ProviderMessageID: string(msg.ID),
		ThreadID:          msg.ThreadID,
		Category:          result.Category,
		Uncertain:         result.Uncertain,
		CompanyName:       result.CompanyName,
		RoleTitle:         result.RoleTitle,
		Subject:           msg.Subject,
		SenderAddress:     msg.FromAddress,
		Snippet:           msg.Snippet,
		ReceivedAt:        msg.ReceivedAt,
	}
}

func (r *runner) cancelled() bool {
	if r.cancelFlag.Load() {
		return true
	}
	// Pick up cancel requests issued to another process against the same
	// store.
	job, err := r.c.jobs.GetJob(r.job.ID)
	if err == nil && job != nil && job.CancelRequested {
		r.cancelFlag.Store(true)
		return true
	}
	return false
}

func (r *runner) finishCancelled() {
	// Partial results already upserted remain valid; no rollback.
	if err := r.c.jobs.Finish(r.job.ID, syncdomain.StatusCancelled, ""); err != nil {
		log.Printf("[SyncCoordinator] Failed to cancel job %s: %v", r.job.ID, err)
		return
	}
	r.logf(syncdomain.LogWarn, "sync cancelled: fetched=%d candidates=%d", r.fetched, r.candidates)
}

func (r *runner) fail(err error) {
	r.logf(syncdomain.LogError, "sync failed: %v", err)
	if finishErr := r.c.jobs.Finish(r.job.ID, syncdomain.StatusFailed, err.Error()); finishErr != nil {
		log.Printf("[SyncCoordinator] Failed to mark job %s failed: %v", r.job.ID, finishErr)
	}
}

// heartbeat flushes counters and renews the lease. Forced at page
// boundaries; otherwise rate-limited to the heartbeat interval so the lease
// of a live run never comes close to expiry.
func (r *runner) heartbeat(force bool) {
	now := time.Now()
	if !force && now.Sub(r.lastHeartbeat) < r.c.opts.HeartbeatInterval {
		return
	}
	r.lastHeartbeat = now

	update := repository.HeartbeatUpdate{
		Phase:           r.phase,
		MessagesScanned: r.scanned,
		MessagesFetched: r.fetched,
		CandidatesFound: r.candidates,
		SkippedCount:    r.skipped,
		CategoryCounts:  r.counts,
		TotalEstimate:   r.totalEstimate,
		LeaseExpiresAt:  now.Add(r.c.opts.LeaseTTL),
	}
	if err := r.c.jobs.Heartbeat(r.job.ID, update); err != nil {
		if errors.Is(err, repository.ErrStaleJob) {
			r.stale.Store(true)
			return
		}
		log.Printf("[SyncCoordinator] Heartbeat failed for job %s: %v", r.job.ID, err)
	}
}

// abandon stops a run whose job was reclaimed. The reclaimer owns the job
// record now; this run writes nothing further, not even a terminal status.
func (r *runner) abandon() {
	log.Printf("[SyncCoordinator] Job %s was reclaimed by a newer run, stopping", r.job.ID)
}

// logf appends one durable log entry with the next sequence number and
// mirrors it to the process log.
func (r *runner) logf(level syncdomain.LogLevel, format string, args ...interface{}) {
	r.seq++
	entry := &syncdomain.SyncLogEntry{
		JobID:     r.job.ID,
		Seq:       r.seq,
		Timestamp: time.Now(),
		Level:     level,
		Message:   fmt.Sprintf(format, args...),
	}
	if err := r.c.jobs.AppendLog(entry); err != nil {
		log.Printf("[SyncCoordinator] Failed to append log for job %s: %v", r.job.ID, err)
	}
	log.Printf("[SyncCoordinator] job=%s %s: %s", r.job.ID, level, entry.Message)
}
