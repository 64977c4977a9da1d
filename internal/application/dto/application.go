package dto

import (
	appdomain "apptrack-backend/internal/application/domain"
)

type ListApplicationsResponse struct {
	Applications []appdomain.ApplicationRecord `json:"applications"`
	Total        int64                         `json:"total"`
	Limit        int                           `json:"limit"`
	Offset       int                           `json:"offset"`
}

type CategorySummaryResponse struct {
	Counts map[appdomain.Category]int64 `json:"counts"`
}
