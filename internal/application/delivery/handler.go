package delivery

import (
	"net/http"
	"strconv"

	appdomain "apptrack-backend/internal/application/domain"
	appdto "apptrack-backend/internal/application/dto"
	"apptrack-backend/internal/application/repository"

	"github.com/gin-gonic/gin"
)

const defaultPageSize = 50

type ApplicationHandler struct {
	appRepo repository.ApplicationRepository
}

func NewApplicationHandler(appRepo repository.ApplicationRepository) *ApplicationHandler {
	return &ApplicationHandler{appRepo: appRepo}
}

// ListByCategory returns the board column for one category, newest first.
// Uncertain records are excluded unless include_uncertain=true.
func (h *ApplicationHandler) ListByCategory(c *gin.Context) {
	accountID := c.GetString("accountID")

	category := appdomain.Category(c.Param("category"))
	if !validCategory(category) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
		return
	}

	includeUncertain := c.Query("include_uncertain") == "true"

	limit := defaultPageSize
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	offset := 0
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	records, total, err := h.appRepo.ListByCategory(accountID, category, includeUncertain, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, appdto.ListApplicationsResponse{
		Applications: records,
		Total:        total,
		Limit:        limit,
		Offset:       offset,
	})
}

// GetByMessage resolves the stored classification for one provider message,
// letting the mail view cross-link into the board.
func (h *ApplicationHandler) GetByMessage(c *gin.Context) {
	accountID := c.GetString("accountID")

	record, err := h.appRepo.GetByProviderMessageID(accountID, c.Param("messageId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "application not found"})
		return
	}

	c.JSON(http.StatusOK, record)
}

// GetSummary returns per-category totals for the board header. Every board
// category is present in the map even when its count is zero.
func (h *ApplicationHandler) GetSummary(c *gin.Context) {
	accountID := c.GetString("accountID")

	counts, err := h.appRepo.CountByCategory(accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, appdto.CategorySummaryResponse{Counts: counts})
}

func validCategory(category appdomain.Category) bool {
	for _, known := range appdomain.BoardCategories {
		if category == known {
			return true
		}
	}
	return false
}
