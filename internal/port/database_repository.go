package port

import (
	"context"

	"github.com/rl1809/sweet-shop/internal/core/domain"
)

type StockRepository interface {
	// GetItem returns domain.ErrNotFound for unknown ids
	GetItem(ctx context.Context, id int64) (*domain.StockItem, error)

	// DecrementStock atomically subtracts quantity when enough stock is available,
	// otherwise returns *domain.InsufficientStockError without mutating
	DecrementStock(ctx context.Context, id int64, quantity int) (*domain.StockItem, error)

	// IncrementStock atomically adds quantity
	IncrementStock(ctx context.Context, id int64, quantity int) (*domain.StockItem, error)
}

type CatalogRepository interface {
	GetItem(ctx context.Context, id int64) (*domain.StockItem, error)
	ListItems(ctx context.Context) ([]domain.StockItem, error)
	SearchItems(ctx context.Context, filter domain.SearchFilter) ([]domain.StockItem, error)
	CreateItem(ctx context.Context, item domain.NewItem) (*domain.StockItem, error)

	// UpdateItem applies a partial update, returns domain.ErrNotFound for unknown ids
	UpdateItem(ctx context.Context, id int64, patch domain.ItemPatch) (*domain.StockItem, error)
	DeleteItem(ctx context.Context, id int64) error

	// RemoveDuplicateNames keeps the lowest id for every name and returns the deleted ids
	RemoveDuplicateNames(ctx context.Context) ([]int64, error)
	CountItems(ctx context.Context) (int, error)
}

type UserRepository interface {
	// CreateUser returns domain.ErrAlreadyExists when username or email is taken
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	HasAdmin(ctx context.Context) (bool, error)
}
