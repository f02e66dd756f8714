package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/sweet-shop/internal/adapter/handler"
	"github.com/rl1809/sweet-shop/internal/bootstrap"
	"github.com/rl1809/sweet-shop/internal/config"
	"github.com/rl1809/sweet-shop/internal/core/service"
	"github.com/rl1809/sweet-shop/internal/scheduler"
	"github.com/rl1809/sweet-shop/internal/worker"
	"github.com/rl1809/sweet-shop/pkg/logger"
)

func main() {
	envFile := flag.String("env", "", "optional .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(cfg.LogLevel))
	defer func() { _ = baseLogger.Sync() }()

	zap.ReplaceGlobals(baseLogger)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	stores, err := bootstrap.OpenStores(startupCtx, cfg, logger.Named(baseLogger, "stores"))
	cancelStartup()
	if err != nil {
		baseLogger.Fatal("failed to open stores", zap.Error(err))
	}

	// Initialize services
	ledger := service.NewInventoryLedger(stores.Stock, stores.Idempotency, cfg.Ledger.JournalQueueSize, cfg.Ledger.LowStockThreshold, logger.Named(baseLogger, "svc.ledger"))
	catalog := service.NewCatalogService(stores.Catalog, logger.Named(baseLogger, "svc.catalog"))
	auth := service.NewAuthService(stores.Users, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, logger.Named(baseLogger, "svc.auth"))

	if cfg.Admin.Password != "" {
		if _, err := auth.EnsureAdmin(context.Background(), cfg.Admin.Username, cfg.Admin.Email, cfg.Admin.Password); err != nil {
			baseLogger.Fatal("failed to ensure admin user", zap.Error(err))
		}
	}

	// Start journal workers
	journalPool := worker.NewJournalPool(ledger.GetMovementQueue(), stores.Journal, logger.Named(baseLogger, "worker.journal"))
	journalPool.Start(cfg.Ledger.JournalWorkers)

	sched := scheduler.NewScheduler(cfg.Maintenance, cfg.Ledger.LowStockThreshold, catalog, logger.Named(baseLogger, "scheduler"))
	if err := sched.Start(); err != nil {
		baseLogger.Fatal("failed to start scheduler", zap.Error(err))
	}

	// Initialize gRPC server
	grpcServer, healthServer := handler.NewGRPCServer(handler.NewGRPCHandler(ledger), auth, logger.Named(baseLogger, "grpc"))

	lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
	if err != nil {
		baseLogger.Fatal("failed to listen", zap.String("port", cfg.Server.GRPCPort), zap.Error(err))
	}

	go func() {
		baseLogger.Info("gRPC server listening", zap.String("port", cfg.Server.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			baseLogger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(ledger, catalog, auth, stores.Journal, logger.Named(baseLogger, "handler.http"))
	engine := handler.NewRouter(httpHandler, auth, logger.Named(baseLogger, "router"))

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.HTTPPort,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		baseLogger.Info("HTTP server listening", zap.String("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("HTTP server crashed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	baseLogger.Info("shutting down")

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("HTTP graceful shutdown failed", zap.Error(err))
	}
	baseLogger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	baseLogger.Info("gRPC server stopped")

	sched.Stop()

	// Close movement queue and wait for workers
	ledger.Close()
	journalPool.Wait()
	baseLogger.Info("journal workers stopped")

	if err := stores.Close(shutdownCtx); err != nil {
		baseLogger.Error("failed to close stores", zap.Error(err))
	}
	baseLogger.Info("connections closed")
}
