package api

import (
	"net/http"

	accountDelivery "apptrack-backend/internal/account/delivery"
	accountRepo "apptrack-backend/internal/account/repository"
	appDelivery "apptrack-backend/internal/application/delivery"
	appRepo "apptrack-backend/internal/application/repository"
	syncDelivery "apptrack-backend/internal/sync/delivery"
	syncUsecase "apptrack-backend/internal/sync/usecase"
	"apptrack-backend/pkg/config"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, syncUc syncUsecase.SyncUsecase, accountRepository accountRepo.AccountRepository, appRepository appRepo.ApplicationRepository, cfg *config.Config) {
	syncHandler := syncDelivery.NewSyncHandler(syncUc, cfg.LogPageSize)
	appHandler := appDelivery.NewApplicationHandler(appRepository)

	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// Sync routes (protected)
		sync := api.Group("/sync")
		sync.Use(accountDelivery.AuthMiddleware(cfg.JWTSecret, accountRepository))
		{
			sync.POST("/start", syncHandler.StartSync)
			sync.GET("/status", syncHandler.GetAccountStatus)
			sync.GET("/jobs/:id", syncHandler.GetJob)
			sync.GET("/jobs/:id/logs", syncHandler.GetJobLogs)
			sync.POST("/jobs/:id/cancel", syncHandler.CancelJob)
		}

		// Application board routes (protected)
		applications := api.Group("/applications")
		applications.Use(accountDelivery.AuthMiddleware(cfg.JWTSecret, accountRepository))
		{
			applications.GET("/summary", appHandler.GetSummary)
			applications.GET("/category/:category", appHandler.ListByCategory)
			applications.GET("/message/:messageId", appHandler.GetByMessage)
		}
	}
}
