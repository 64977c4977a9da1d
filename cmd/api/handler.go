package api

import (
	accountRepo "apptrack-backend/internal/account/repository"
	appRepo "apptrack-backend/internal/application/repository"
	syncUsecase "apptrack-backend/internal/sync/usecase"
	"apptrack-backend/pkg/config"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	syncUsecase       syncUsecase.SyncUsecase
	accountRepository accountRepo.AccountRepository
	appRepository     appRepo.ApplicationRepository
	config            *config.Config
}

func NewHandler(syncUc syncUsecase.SyncUsecase, accountRepository accountRepo.AccountRepository, appRepository appRepo.ApplicationRepository, cfg *config.Config) *Handler {
	return &Handler{
		syncUsecase:       syncUc,
		accountRepository: accountRepository,
		appRepository:     appRepository,
		config:            cfg,
	}
}

func (h *Handler) Start(addr string) error {
	r := gin.Default()
	gin.SetMode(gin.ReleaseMode)

	// CORS middleware
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Setup routes
	SetupRoutes(r, h.syncUsecase, h.accountRepository, h.appRepository, h.config)

	return r.Run(addr)
}
