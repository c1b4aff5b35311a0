package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"community-rewards-system/config"
	"community-rewards-system/handlers"
	"community-rewards-system/models"
	"community-rewards-system/services"
	"community-rewards-system/utils"
	"community-rewards-system/workers"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	logger, err := utils.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to build logger:", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	tokens, err := services.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		logger.Fatal("failed to build token issuer", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var media utils.MediaStore
	if r2 := cfg.R2.Store(); r2.Enabled() {
		store, err := utils.NewR2Store(ctx, r2)
		if err != nil {
			logger.Fatal("failed to initialize R2 client", zap.Error(err))
		}
		media = store
		logger.Info("image uploads go to R2", zap.String("bucket", r2.Bucket))
	} else {
		store, err := utils.NewLocalStore(cfg.UploadDir, "/uploads")
		if err != nil {
			logger.Fatal("failed to ensure upload dir", zap.Error(err))
		}
		media = store
		logger.Warn("R2 not configured, storing uploads on local disk", zap.String("dir", cfg.UploadDir))
	}

	var roles services.RoleResolver
	if cfg.Discord.ServerID != "" {
		roles = services.NewDiscordRoleResolver(
			cfg.Discord.ServerID, cfg.Discord.BotToken, cfg.Discord.AdminRoleID, cfg.Discord.ModeratorRoleID,
		)
	}

	walletAuth := services.NewWalletAuthService(db, tokens, logger)
	socialAuth := services.NewSocialAuthService(db, tokens, roles, logger)
	badgeService := services.NewBadgeService(db, logger)
	eventService := services.NewEventService(db, logger)
	userService := services.NewUserService(db, logger)

	sched, err := eventService.StartPublishScheduler(ctx)
	if err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}

	reconciler := workers.NewStatsReconcileWorker(services.NewReconciler(db, logger), cfg.ReconcileInterval, logger)
	go reconciler.Start(ctx)

	app := handlers.NewApp(handlers.Deps{
		DB:             db,
		Tokens:         tokens,
		Log:            logger,
		Wallet:         walletAuth,
		Social:         socialAuth,
		Badges:         badgeService,
		Events:         eventService,
		Users:          userService,
		Media:          media,
		AllowedOrigins: cfg.AllowedOrigins,
		ServiceToken:   cfg.ServiceToken,
		UploadDir:      cfg.UploadDir,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()
	logger.Info("server running", zap.String("port", cfg.Port), zap.Strings("origins", cfg.AllowedOrigins))

	<-ctx.Done()
	logger.Info("shutting down server")

	if err := sched.Shutdown(); err != nil {
		logger.Warn("scheduler shutdown", zap.Error(err))
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
}
