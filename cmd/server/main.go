package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/api"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/config"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/db"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/services"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/store"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/pkg/logger"
	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/pkg/metrics"
)

func main() {
	cfg := loadConfiguration()

	zapLogger, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	zap.ReplaceGlobals(zapLogger)

	config.LogConfig(cfg, zapLogger)

	database, err := db.Initialize(cfg)
	if err != nil {
		zapLogger.Fatal("Failed to initialize database", zap.Error(err))
	}

	metricsCollector := metrics.NewMetricsCollector()
	clock := services.SystemClock{}

	recordStore := store.NewGormStore(database, zapLogger)
	auditService := services.NewAuditService(recordStore, zapLogger, clock)
	dispatcher := services.NewLogDispatcher(zapLogger)
	provider := services.NewInternalProvider(zapLogger)

	requestService := services.NewRequestService(
		recordStore,
		auditService,
		dispatcher,
		provider,
		clock,
		zapLogger,
		metricsCollector,
		cfg.Workflow.ConflictRetries,
		cfg.Workflow.ReminderLimit,
		cfg.Workflow.DefaultExpiryDays,
	)
	signerService := services.NewSignerService(requestService, zapLogger)

	router := api.NewRouter(zapLogger, metricsCollector, requestService, signerService, auditService, cfg.Provider.WebhookSecret)
	router.SetupRoutes()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runExpirySweep(ctx, cfg, requestService, zapLogger)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Server.Port
	}
	go func() {
		if err := router.Run(":" + port); err != nil {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	zapLogger.Info("Server started", zap.String("port", port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")
	cancel()

	sqlDB, err := database.DB()
	if err == nil {
		sqlDB.Close()
	}
	zapLogger.Info("Server gracefully stopped")
}

func loadConfiguration() *config.Configuration {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		return config.InitializeDefaultConfig()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	return cfg
}

func runExpirySweep(ctx context.Context, cfg *config.Configuration, requestService *services.RequestService, zapLogger *zap.Logger) {
	ticker := time.NewTicker(cfg.Workflow.ExpirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := requestService.ExpireOverdue(ctx)
			if err != nil {
				zapLogger.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if expired > 0 {
				zapLogger.Info("expired overdue requests", zap.Int("count", expired))
			}
		}
	}
}
