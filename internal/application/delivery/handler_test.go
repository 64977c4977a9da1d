package delivery

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appdomain "apptrack-backend/internal/application/domain"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubApplicationRepo struct {
	records map[string]*appdomain.ApplicationRecord
	counts  map[appdomain.Category]int64
}

func stubKey(accountID, providerMessageID string) string {
	return accountID + "|" + providerMessageID
}

func (r *stubApplicationRepo) Upsert(record *appdomain.ApplicationRecord) error {
	return nil
}

func (r *stubApplicationRepo) GetByProviderMessageID(accountID, providerMessageID string) (*appdomain.ApplicationRecord, error) {
	rec, ok := r.records[stubKey(accountID, providerMessageID)]
	if !ok {
		return nil, nil
	}
	return rec, nil
}

func (r *stubApplicationRepo) ListByCategory(accountID string, category appdomain.Category, includeUncertain bool, limit, offset int) ([]appdomain.ApplicationRecord, int64, error) {
	var out []appdomain.ApplicationRecord
	for _, rec := range r.records {
		if rec.AccountID == accountID && rec.Category == category && (includeUncertain || !rec.Uncertain) {
			out = append(out, *rec)
		}
	}
	return out, int64(len(out)), nil
}

func (r *stubApplicationRepo) CountByCategory(accountID string) (map[appdomain.Category]int64, error) {
	return r.counts, nil
}

func (r *stubApplicationRepo) ListGhostCandidates(accountID string, olderThan time.Time) ([]appdomain.ApplicationRecord, error) {
	return nil, nil
}

func (r *stubApplicationRepo) ListAllGhostCandidates(olderThan time.Time) ([]appdomain.ApplicationRecord, error) {
	return nil, nil
}

func (r *stubApplicationRepo) HasLaterAdvancement(accountID, threadID string, after time.Time) (bool, error) {
	return false, nil
}

func (r *stubApplicationRepo) UpdateCategory(id string, category appdomain.Category) error {
	return nil
}

func setupTestRouter(repo *stubApplicationRepo) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewApplicationHandler(repo)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("accountID", "acct-1")
	})
	r.GET("/applications/summary", h.GetSummary)
	r.GET("/applications/category/:category", h.ListByCategory)
	r.GET("/applications/message/:messageId", h.GetByMessage)
	return r
}

func TestGetByMessage(t *testing.T) {
	repo := &stubApplicationRepo{
		records: map[string]*appdomain.ApplicationRecord{
			stubKey("acct-1", "m1"): {
				ID:                "rec-1",
				AccountID:         "acct-1",
				ProviderMessageID: "m1",
				Category:          appdomain.CategoryInterview,
				CompanyName:       "Initech",
			},
		},
	}
	router := setupTestRouter(repo)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/applications/message/m1", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var rec appdomain.ApplicationRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, appdomain.CategoryInterview, rec.Category)
	assert.Equal(t, "Initech", rec.CompanyName)
}

func TestGetByMessageNotFound(t *testing.T) {
	router := setupTestRouter(&stubApplicationRepo{records: map[string]*appdomain.ApplicationRecord{}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/applications/message/unknown", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListByCategoryRejectsUnknownCategory(t *testing.T) {
	router := setupTestRouter(&stubApplicationRepo{records: map[string]*appdomain.ApplicationRecord{}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/applications/category/spam", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
