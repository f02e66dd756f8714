package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/sweet-shop/internal/adapter/storage"
	"github.com/rl1809/sweet-shop/internal/config"
	"github.com/rl1809/sweet-shop/internal/port"
)

// Stores bundles the repositories selected by configuration.
type Stores struct {
	Stock       port.StockRepository
	Catalog     port.CatalogRepository
	Users       port.UserRepository
	Idempotency port.IdempotencyRepository
	Journal     port.JournalRepository

	closers []func(context.Context) error
}

type catalogStore interface {
	port.StockRepository
	port.CatalogRepository
	port.UserRepository
}

// OpenStores connects the configured backends. Redis and MongoDB are
// optional; without them idempotency keys and movements stay in process.
func OpenStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Stores, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Stores{}
	local := storage.NewMemoryAdapter()

	var primary catalogStore
	switch cfg.Store.Driver {
	case config.DriverMemory:
		primary = local
		logger.Warn("using in-memory store, data is lost on restart")
	default:
		db, err := storage.OpenMySQL(ctx, cfg.Store.MySQLDSN, cfg.Store.MaxOpenConns)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, closeDB(db))

		adapter := storage.NewMySQLAdapter(db)
		if err := adapter.EnsureSchema(ctx); err != nil {
			s.Close(ctx)
			return nil, err
		}
		primary = adapter
		logger.Info("connected to mysql")
	}
	s.Stock, s.Catalog, s.Users = primary, primary, primary

	s.Idempotency = local
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			PoolSize: 100,
		})
		adapter := storage.NewRedisAdapter(rdb)
		if err := adapter.Ping(ctx); err != nil {
			rdb.Close()
			s.Close(ctx)
			return nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		s.closers = append(s.closers, func(context.Context) error { return rdb.Close() })
		s.Idempotency = adapter
		logger.Info("connected to redis")
	}

	s.Journal = local
	if cfg.MongoDB.URI != "" {
		journal, err := storage.NewMongoJournal(ctx, cfg.MongoDB.URI, cfg.MongoDB.DBName)
		if err != nil {
			s.Close(ctx)
			return nil, err
		}
		s.closers = append(s.closers, journal.Close)
		s.Journal = journal
		logger.Info("connected to mongodb")
	} else {
		logger.Warn("mongodb not configured, movements are kept in memory")
	}

	return s, nil
}

// Close releases connections in reverse order of opening.
func (s *Stores) Close(ctx context.Context) error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

func closeDB(db *sql.DB) func(context.Context) error {
	return func(context.Context) error { return db.Close() }
}
