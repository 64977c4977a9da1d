package delivery

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	syncdomain "apptrack-backend/internal/sync/domain"
	syncdto "apptrack-backend/internal/sync/dto"
	"apptrack-backend/internal/sync/usecase"

	"github.com/gin-gonic/gin"
)

type SyncHandler struct {
	syncUsecase usecase.SyncUsecase
	logPageSize int
}

func NewSyncHandler(syncUsecase usecase.SyncUsecase, logPageSize int) *SyncHandler {
	if logPageSize <= 0 {
		logPageSize = 200
	}
	return &SyncHandler{
		syncUsecase: syncUsecase,
		logPageSize: logPageSize,
	}
}

// StartSync begins a sync for the caller's account. When one is already in
// flight the response is a 409 conflict that still carries the live job id,
// so polling callers can re-attach.
func (h *SyncHandler) StartSync(c *gin.Context) {
	accountID := c.GetString("accountID")

	job, attached, err := h.syncUsecase.Start(accountID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, usecase.ErrAccountNotFound):
			status = http.StatusNotFound
		case errors.Is(err, syncdomain.ErrProviderUnavailable):
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	resp := syncdto.StartSyncResponse{
		JobID:    job.ID,
		Status:   job.Status,
		Attached: attached,
	}
	if attached {
		c.JSON(http.StatusConflict, resp)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

// GetJob returns the pollable snapshot of one sync attempt.
func (h *SyncHandler) GetJob(c *gin.Context) {
	jobID := c.Param("id")

	job, err := h.syncUsecase.GetJob(jobID)
	if err != nil {
		if errors.Is(err, usecase.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := syncdto.JobStatusResponse{
		JobID:           job.ID,
		Status:          job.Status,
		Phase:           job.Phase,
		Mode:            job.Mode,
		MessagesScanned: job.MessagesScanned,
		MessagesFetched: job.MessagesFetched,
		CandidatesFound: job.CandidatesFound,
		SkippedCount:    job.SkippedCount,
		CategoryCounts:  job.CategoryCounts,
		StartedAt:       job.StartedAt,
		FinishedAt:      job.FinishedAt,
		ErrorMessage:    job.ErrorMessage,
	}

	if job.TotalEstimate > 0 && job.MessagesScanned > 0 {
		percent := float64(job.MessagesScanned) / float64(job.TotalEstimate) * 100
		if percent > 100 {
			percent = 100
		}
		resp.PercentComplete = &percent

		if job.Status == syncdomain.StatusRunning && job.StartedAt != nil {
			elapsed := time.Since(*job.StartedAt)
			remaining := job.TotalEstimate - job.MessagesScanned
			if remaining > 0 {
				eta := int64(elapsed.Seconds() * float64(remaining) / float64(job.MessagesScanned))
				resp.EstimatedSecondsLeft = &eta
			}
		}
	}

	if last, err := h.syncUsecase.LastLog(jobID); err == nil && last != nil {
		resp.LastLog = last.Message
	}

	c.JSON(http.StatusOK, resp)
}

// GetJobLogs returns log entries with seq greater than the "after" query
// parameter, capped at the configured page size.
func (h *SyncHandler) GetJobLogs(c *gin.Context) {
	jobID := c.Param("id")

	afterSeq := int64(0)
	if afterStr := c.Query("after"); afterStr != "" {
		if parsed, err := strconv.ParseInt(afterStr, 10, 64); err == nil && parsed >= 0 {
			afterSeq = parsed
		}
	}

	limit := h.logPageSize
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed < h.logPageSize {
			limit = parsed
		}
	}

	entries, err := h.syncUsecase.JobLogs(jobID, afterSeq, limit)
	if err != nil {
		if errors.Is(err, usecase.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	nextAfter := afterSeq
	if len(entries) > 0 {
		nextAfter = entries[len(entries)-1].Seq
	}

	c.JSON(http.StatusOK, syncdto.JobLogsResponse{
		Entries:   entries,
		NextAfter: nextAfter,
	})
}

// GetAccountStatus reports whether a sync is currently running for the
// caller's account, without needing a job id.
func (h *SyncHandler) GetAccountStatus(c *gin.Context) {
	accountID := c.GetString("accountID")

	running, job, err := h.syncUsecase.AccountStatus(accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := syncdto.AccountStatusResponse{Running: running}
	if running && job != nil {
		resp.JobID = job.ID
	}
	c.JSON(http.StatusOK, resp)
}

// CancelJob requests cooperative cancellation; partial results stay stored.
func (h *SyncHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("id")

	err := h.syncUsecase.Cancel(jobID)
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		case errors.Is(err, usecase.ErrJobNotActive):
			c.JSON(http.StatusConflict, gin.H{"error": "job already finished"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancel requested"})
}
