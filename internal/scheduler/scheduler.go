package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rl1809/sweet-shop/internal/config"
	"github.com/rl1809/sweet-shop/internal/core/domain"
)

const jobTimeout = 2 * time.Minute

// Catalog is the subset of the catalog service the maintenance jobs need.
type Catalog interface {
	RemoveDuplicates(ctx context.Context) ([]int64, error)
	LowStock(ctx context.Context, threshold int) ([]domain.StockItem, error)
}

// Scheduler runs the catalog maintenance jobs.
type Scheduler struct {
	cron      *cron.Cron
	catalog   Catalog
	cfg       config.MaintenanceConfig
	threshold int
	logger    *zap.Logger
}

func NewScheduler(cfg config.MaintenanceConfig, lowStockThreshold int, catalog Catalog, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		cron:      cron.New(),
		catalog:   catalog,
		cfg:       cfg,
		threshold: lowStockThreshold,
		logger:    logger,
	}
}

// Start registers the jobs and starts the cron runner. An empty schedule
// disables its job.
func (s *Scheduler) Start() error {
	s.logger.Info("starting scheduler")

	if s.cfg.DedupeSchedule != "" {
		if _, err := s.cron.AddFunc(s.cfg.DedupeSchedule, s.removeDuplicates); err != nil {
			return fmt.Errorf("schedule duplicate cleanup %q: %w", s.cfg.DedupeSchedule, err)
		}
	}
	if s.cfg.LowStockSchedule != "" {
		if _, err := s.cron.AddFunc(s.cfg.LowStockSchedule, s.reportLowStock); err != nil {
			return fmt.Errorf("schedule low stock report %q: %w", s.cfg.LowStockSchedule, err)
		}
	}

	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) removeDuplicates() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := s.catalog.RemoveDuplicates(ctx); err != nil {
		s.logger.Error("duplicate cleanup failed", zap.Error(err))
	}
}

func (s *Scheduler) reportLowStock() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	items, err := s.catalog.LowStock(ctx, s.threshold)
	if err != nil {
		s.logger.Error("low stock report failed", zap.Error(err))
		return
	}

	for _, item := range items {
		s.logger.Warn("low stock",
			zap.Int64("item_id", item.ID),
			zap.String("name", item.Name),
			zap.Int("quantity", item.Quantity),
			zap.Int("threshold", s.threshold))
	}
	s.logger.Info("low stock report completed", zap.Int("items", len(items)))
}
