package main

import (
	"context"
	"flag"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/sweet-shop/internal/bootstrap"
	"github.com/rl1809/sweet-shop/internal/config"
	"github.com/rl1809/sweet-shop/internal/core/service"
	"github.com/rl1809/sweet-shop/internal/seed"
	"github.com/rl1809/sweet-shop/pkg/logger"
)

func main() {
	envFile := flag.String("env", "", "optional .env file")
	seedFile := flag.String("file", "deploy/seed/sweets.yaml", "catalog seed file")
	dedupe := flag.Bool("dedupe", false, "remove sweets whose name is already used by an older sweet")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(cfg.LogLevel))
	defer func() { _ = baseLogger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	stores, err := bootstrap.OpenStores(ctx, cfg, logger.Named(baseLogger, "stores"))
	if err != nil {
		baseLogger.Fatal("failed to open stores", zap.Error(err))
	}
	defer stores.Close(context.Background())

	catalog := service.NewCatalogService(stores.Catalog, logger.Named(baseLogger, "svc.catalog"))
	auth := service.NewAuthService(stores.Users, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, logger.Named(baseLogger, "svc.auth"))

	if cfg.Admin.Password == "" {
		baseLogger.Warn("ADMIN_PASSWORD not set, skipping admin account")
	} else if _, err := auth.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Email, cfg.Admin.Password); err != nil {
		baseLogger.Fatal("failed to ensure admin user", zap.Error(err))
	}

	items, err := seed.Load(*seedFile)
	if err != nil {
		baseLogger.Fatal("failed to load seed file", zap.String("file", *seedFile), zap.Error(err))
	}

	inserted, err := catalog.Seed(ctx, items)
	if err != nil {
		baseLogger.Fatal("failed to seed catalog", zap.Int("inserted", inserted), zap.Error(err))
	}
	baseLogger.Info("catalog seeded", zap.Int("inserted", inserted))

	if *dedupe {
		if _, err := catalog.RemoveDuplicates(ctx); err != nil {
			baseLogger.Fatal("failed to remove duplicates", zap.Error(err))
		}
	}
}
