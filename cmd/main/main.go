package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/polisuite/api/agency-crm-service/internal/config"
	"gitlab.com/polisuite/api/agency-crm-service/internal/events"
	"gitlab.com/polisuite/api/agency-crm-service/internal/healthcheck"
	"gitlab.com/polisuite/api/agency-crm-service/internal/httpapi"
	"gitlab.com/polisuite/api/agency-crm-service/internal/observer"
	"gitlab.com/polisuite/api/agency-crm-service/internal/session"
	"gitlab.com/polisuite/api/agency-crm-service/internal/storage"
	"gitlab.com/polisuite/api/agency-crm-service/internal/usecase"
	"gitlab.com/polisuite/api/agency-crm-service/pkg/logger"
	"gitlab.com/polisuite/api/agency-crm-service/pkg/utils"
)

func main() {
	// Set timezone to UTC
	time.Local = time.UTC

	// Load configuration
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metricsEnabled := cfg.Metrics.Enabled
	observer.InitMetrics(metricsEnabled)

	logger.Log.Info("Starting Agency CRM Service",
		zap.String("environment", cfg.Environment),
		zap.String("agency_id", cfg.Agency.ID),
		zap.Int("port", cfg.Server.Port),
	)

	// Initialize repositories
	postgresRepo, err := initPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate, cfg.Agency.ID)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	// Session store (bearer token -> identity)
	sessions, err := session.NewRedisStore(cfg.Redis.URL, cfg.Redis.SessionPrefix)
	if err != nil {
		logger.Log.Fatal("Failed to initialize session store", zap.Error(err))
	}

	// Event publisher; falls back to a no-op when NATS is not configured
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()
	publisher := initPublisher(mainCtx, cfg)

	// Create repository adapters for the services
	leadRepo := storage.NewLeadRepoAdapter(postgresRepo)
	importRepo := storage.NewImportRepoAdapter(postgresRepo)
	invitationRepo := storage.NewInvitationRepoAdapter(postgresRepo)
	agencyRepo := storage.NewAgencyRepoAdapter(postgresRepo)
	auditRepo := storage.NewAuditRepoAdapter(postgresRepo)

	// Core services
	importService := usecase.NewImportService(leadRepo, importRepo, auditRepo, publisher)
	orchestrator := usecase.NewOrchestrator(importService, cfg.Import.ChunkSize, cfg.Import.ChunkInterval)
	inviteService := usecase.NewInviteService(invitationRepo, agencyRepo, auditRepo, publisher,
		cfg.Invites.TTL, cfg.Invites.LockAttempts, cfg.Invites.LockRetryWait)

	// Maintenance sweeper
	sweeper, err := usecase.NewSweeper(cfg.Sweeper, cfg.Agency.ID, importRepo, invitationRepo, logger.Log)
	if err != nil {
		logger.Log.Fatal("Failed to initialize maintenance sweeper", zap.Error(err))
	}
	sweeper.Start(mainCtx)

	// HTTP API server
	apiServer := httpapi.NewServer(cfg.Import.MaxBodyBytes, sessions,
		httpapi.NewImportHandler(importService, orchestrator),
		httpapi.NewInvitationHandler(inviteService))

	// Health check server on its own port
	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Health.Port), logger.Log)
	healthServer.RegisterReadyCheck("postgres", postgresRepo.Ping)
	healthServer.RegisterReadyCheck("redis", sessions.Ping)
	if metricsEnabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Health.Port))
	}
	healthServer.Start()

	logger.Log.Info("Health check endpoints available",
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port)),
		zap.String("readiness", fmt.Sprintf("http://localhost:%d/ready", cfg.Health.Port)),
	)

	// Start API server
	sigChan := make(chan os.Signal, 1)
	utils.SafeGo(func() {
		addr := ":" + strconv.Itoa(cfg.Server.Port)
		logger.Log.Info("Starting API server", zap.String("addr", addr))
		if err := apiServer.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Log.Error("API server failed, initiating shutdown", zap.Error(err))
			mainCancel()
			select {
			case sigChan <- syscall.SIGTERM:
			default:
				logger.Log.Warn("Could not send SIGTERM to signal channel immediately")
			}
		}
	}, nil)

	// Wait for termination signal
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	mainCancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", 30*time.Second))

	var wg sync.WaitGroup
	wg.Add(4)

	// Shutdown API server
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping API server")
		start := time.Now()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping API server", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] API server stopped",
				zap.Duration("duration", time.Since(start)))
		}
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping API server",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Shutdown sweeper pool
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping maintenance sweeper")
		start := time.Now()
		sweeper.Stop()
		logger.Log.Info("[shutdown] Maintenance sweeper stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping maintenance sweeper",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Shutdown health check server (includes metrics if enabled)
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping health check server")
		start := time.Now()
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping health check server", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] Health check server stopped",
				zap.Duration("duration", time.Since(start)))
		}
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping health check server",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Close external connections
	utils.SafeGo(func() {
		defer wg.Done()

		logger.Log.Info("[shutdown] Closing PostgreSQL connection")
		pgStart := time.Now()
		if err := postgresRepo.Close(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] PostgreSQL connection closed",
				zap.Duration("duration", time.Since(pgStart)))
		}

		logger.Log.Info("[shutdown] Closing session store")
		if err := sessions.Close(); err != nil {
			logger.Log.Error("[shutdown] Failed to close session store", zap.Error(err))
		}

		logger.Log.Info("[shutdown] Closing event publisher")
		publisher.Close()
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while closing connections",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Wait with a timeout for all components to shut down
	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	logger.Log.Info("Agency CRM Service shutdown complete")
}

// Initialize PostgreSQL repository
func initPostgresRepo(dsn string, autoMigrate bool, agencyID string) (*storage.PostgresRepo, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	repo, err := storage.NewPostgresRepo(dsn, autoMigrate, agencyID)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}

	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}

// initPublisher connects to JetStream when configured, otherwise events are
// discarded. The service stays up either way.
func initPublisher(ctx context.Context, cfg *config.Config) events.Publisher {
	if cfg.NATS.URL == "" {
		logger.Log.Info("NATS URL not configured, events disabled")
		return events.NoopPublisher{}
	}

	publisher, err := events.NewJetStreamPublisher(ctx, cfg.NATS.URL, cfg.NATS.EventStream, cfg.NATS.MaxAgeDays)
	if err != nil {
		logger.Log.Warn("Failed to initialize JetStream publisher, events disabled", zap.Error(err))
		return events.NoopPublisher{}
	}
	return publisher
}
