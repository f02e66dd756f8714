package port

import (
	"context"

	"github.com/rl1809/sweet-shop/internal/core/domain"
)

type JournalRepository interface {
	AppendMovement(ctx context.Context, movement domain.StockMovement) error

	// ListMovements returns the latest movements of an item, newest first
	ListMovements(ctx context.Context, itemID int64, limit int) ([]domain.StockMovement, error)
}
