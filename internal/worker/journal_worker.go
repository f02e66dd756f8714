package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/sweet-shop/internal/core/domain"
	"github.com/rl1809/sweet-shop/internal/port"
)

const (
	appendTimeout = 5 * time.Second
	maxAttempts   = 3
	retryBackoff  = 200 * time.Millisecond
)

// JournalPool drains the ledger's movement queue into the journal. Workers
// exit once the queue is closed and drained.
type JournalPool struct {
	queue   <-chan domain.StockMovement
	journal port.JournalRepository
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func NewJournalPool(queue <-chan domain.StockMovement, journal port.JournalRepository, logger *zap.Logger) *JournalPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JournalPool{queue: queue, journal: journal, logger: logger}
}

// Start launches count workers.
func (p *JournalPool) Start(count int) {
	for i := 0; i < count; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.workerLoop(id)
		}(i)
	}
	p.logger.Info("started journal workers", zap.Int("count", count))
}

// Wait blocks until every worker has exited.
func (p *JournalPool) Wait() {
	p.wg.Wait()
}

func (p *JournalPool) workerLoop(id int) {
	for movement := range p.queue {
		if err := p.appendWithRetry(movement); err != nil {
			p.logger.Error("failed to journal movement",
				zap.Int("worker", id),
				zap.String("movement_id", movement.ID),
				zap.Int64("item_id", movement.ItemID),
				zap.String("kind", string(movement.Kind)),
				zap.Int("delta", movement.Delta),
				zap.Error(err))
			continue
		}

		p.logger.Debug("journaled movement",
			zap.Int("worker", id),
			zap.String("movement_id", movement.ID),
			zap.Int64("item_id", movement.ItemID))
	}
}

func (p *JournalPool) appendWithRetry(movement domain.StockMovement) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		err = p.journal.AppendMovement(ctx, movement)
		cancel()
		if err == nil {
			return nil
		}
		if attempt < maxAttempts {
			time.Sleep(retryBackoff * time.Duration(attempt))
		}
	}
	return err
}
