package main

import (
	"log"

	api "apptrack-backend/cmd/api"
	accountdomain "apptrack-backend/internal/account/domain"
	accountRepo "apptrack-backend/internal/account/repository"
	appdomain "apptrack-backend/internal/application/domain"
	appRepo "apptrack-backend/internal/application/repository"
	appUsecase "apptrack-backend/internal/application/usecase"
	syncdomain "apptrack-backend/internal/sync/domain"
	syncRepo "apptrack-backend/internal/sync/repository"
	syncUsecase "apptrack-backend/internal/sync/usecase"
	"apptrack-backend/pkg/classifier"
	"apptrack-backend/pkg/config"
	"apptrack-backend/pkg/database"
	"apptrack-backend/pkg/gmail"
	"apptrack-backend/pkg/imap"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database schemas
	if err := db.AutoMigrate(
		&accountdomain.Account{},
		&syncdomain.SyncJob{},
		&syncdomain.SyncLogEntry{},
		&syncdomain.MailboxWatermark{},
		&appdomain.ApplicationRecord{},
	); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize repositories (dependency injection)
	accountRepository := accountRepo.NewAccountRepository(db)
	jobStore := syncRepo.NewJobStore(db)
	watermarkRepository := syncRepo.NewWatermarkRepository(db)
	applicationRepository := appRepo.NewApplicationRepository(db)

	// Initialize mail provider services
	gmailService := gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.RetryAttempts)
	imapService := imap.NewService(cfg.RetryAttempts)

	readerFactory := syncUsecase.NewReaderFactory(gmailService, imapService, accountRepository, cfg.EncryptionKey)

	// Classification pipeline
	pipeline := &classifier.Pipeline{
		CatchallUncertain: cfg.Uncertain == config.UncertainCatchall,
	}

	// Sync coordinator
	coordinator := syncUsecase.NewCoordinator(
		jobStore,
		watermarkRepository,
		applicationRepository,
		accountRepository,
		readerFactory,
		pipeline,
		syncUsecase.Options{
			LeaseTTL:          cfg.LeaseTTL,
			HeartbeatInterval: cfg.HeartbeatInterval,
			FetchWorkers:      cfg.FetchWorkers,
			StorageRetries:    cfg.RetryAttempts,
		},
	)

	// Ghosted sweep runs in the background for the life of the process
	sweeper := appUsecase.NewSweeper(applicationRepository, cfg.GhostThreshold, cfg.SweepInterval)
	sweeper.Start()
	log.Printf("[Sweeper] started (threshold %s, interval %s)", cfg.GhostThreshold, cfg.SweepInterval)

	// Initialize HTTP handler
	handler := api.NewHandler(coordinator, accountRepository, applicationRepository, cfg)

	// Start server
	log.Printf("Server starting on port %s", cfg.Port)
	if err := handler.Start(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
