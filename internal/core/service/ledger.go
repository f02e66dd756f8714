package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/sweet-shop/internal/core/domain"
	"github.com/rl1809/sweet-shop/internal/port"
)

type PurchaseRequest struct {
	Caller         domain.Caller
	ItemID         int64
	Quantity       int
	IdempotencyKey string
}

type PurchaseResult struct {
	Item      domain.StockItem
	Purchased int
}

type RestockRequest struct {
	Caller   domain.Caller
	ItemID   int64
	Quantity int
}

type RestockResult struct {
	Item      domain.StockItem
	Restocked int
}

// InventoryLedger applies purchases and restocks. Every quantity change is a
// single conditional update on one item delegated to the StockRepository,
// so operations on the same item are serialized by the store and operations
// on different items never contend.
type InventoryLedger struct {
	stock             port.StockRepository
	idempotency       port.IdempotencyRepository
	movementQueue     chan domain.StockMovement
	lowStockThreshold int
	logger            *zap.Logger
}

// NewInventoryLedger wires a ledger. idempotency may be nil, in which case
// idempotency keys are ignored.
func NewInventoryLedger(stock port.StockRepository, idempotency port.IdempotencyRepository, queueSize, lowStockThreshold int, logger *zap.Logger) *InventoryLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InventoryLedger{
		stock:             stock,
		idempotency:       idempotency,
		movementQueue:     make(chan domain.StockMovement, queueSize),
		lowStockThreshold: lowStockThreshold,
		logger:            logger,
	}
}

func (l *InventoryLedger) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be a positive integer", domain.ErrInvalidInput)
	}

	key := ""
	if req.IdempotencyKey != "" && l.idempotency != nil {
		key = fmt.Sprintf("purchase:%d:%s", req.Caller.UserID, req.IdempotencyKey)
		ok, err := l.idempotency.SetIdempotency(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%w: idempotency check: %w", domain.ErrStoreUnavailable, err)
		}
		if !ok {
			return nil, domain.ErrDuplicateRequest
		}
	}

	item, err := l.stock.DecrementStock(ctx, req.ItemID, req.Quantity)
	if err != nil {
		l.release(key)
		var stockErr *domain.InsufficientStockError
		if errors.As(err, &stockErr) {
			l.logger.Info("purchase rejected",
				zap.Int64("item_id", req.ItemID),
				zap.Int("available", stockErr.Available),
				zap.Int("requested", stockErr.Requested))
			return nil, err
		}
		return nil, fmt.Errorf("purchase item %d: %w", req.ItemID, err)
	}

	l.logger.Info("purchase committed",
		zap.Int64("item_id", item.ID),
		zap.String("user", req.Caller.Username),
		zap.Int("purchased", req.Quantity),
		zap.Int("quantity", item.Quantity))

	before := item.Quantity + req.Quantity
	if before >= l.lowStockThreshold && item.Quantity < l.lowStockThreshold {
		l.logger.Warn("low stock",
			zap.Int64("item_id", item.ID),
			zap.String("name", item.Name),
			zap.Int("quantity", item.Quantity),
			zap.Int("threshold", l.lowStockThreshold))
	}

	l.record(req.Caller, *item, domain.MovementPurchase, -req.Quantity)

	return &PurchaseResult{Item: *item, Purchased: req.Quantity}, nil
}

func (l *InventoryLedger) Restock(ctx context.Context, req RestockRequest) (*RestockResult, error) {
	if !req.Caller.IsAdmin() {
		return nil, fmt.Errorf("%w: restock requires admin privilege", domain.ErrUnauthorized)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be a positive integer", domain.ErrInvalidInput)
	}

	item, err := l.stock.IncrementStock(ctx, req.ItemID, req.Quantity)
	if err != nil {
		return nil, fmt.Errorf("restock item %d: %w", req.ItemID, err)
	}

	l.logger.Info("restock committed",
		zap.Int64("item_id", item.ID),
		zap.String("user", req.Caller.Username),
		zap.Int("restocked", req.Quantity),
		zap.Int("quantity", item.Quantity))

	l.record(req.Caller, *item, domain.MovementRestock, req.Quantity)

	return &RestockResult{Item: *item, Restocked: req.Quantity}, nil
}

// GetItem reads the current state of an item.
func (l *InventoryLedger) GetItem(ctx context.Context, id int64) (*domain.StockItem, error) {
	return l.stock.GetItem(ctx, id)
}

// record enqueues a movement for the journal workers. A committed update is
// never rolled back because the journal is behind.
func (l *InventoryLedger) record(caller domain.Caller, item domain.StockItem, kind domain.MovementKind, delta int) {
	movement := domain.StockMovement{
		ID:            uuid.New().String(),
		ItemID:        item.ID,
		Kind:          kind,
		Delta:         delta,
		QuantityAfter: item.Quantity,
		Actor:         caller.Username,
		OccurredAt:    time.Now().UTC(),
	}

	select {
	case l.movementQueue <- movement:
	default:
		l.logger.Warn("movement queue full, dropping movement",
			zap.Int64("item_id", item.ID),
			zap.String("kind", string(kind)))
	}
}

func (l *InventoryLedger) release(key string) {
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.idempotency.ReleaseIdempotency(ctx, key); err != nil {
		l.logger.Error("failed to release idempotency key", zap.String("key", key), zap.Error(err))
	}
}

func (l *InventoryLedger) GetMovementQueue() <-chan domain.StockMovement {
	return l.movementQueue
}

func (l *InventoryLedger) Close() {
	close(l.movementQueue)
}
