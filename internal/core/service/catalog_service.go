package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rl1809/sweet-shop/internal/core/domain"
	"github.com/rl1809/sweet-shop/internal/port"
)

// CatalogService owns catalog maintenance: item records, search and the
// duplicate-name cleanup. Quantity changes for sales go through the ledger.
type CatalogService struct {
	repo   port.CatalogRepository
	logger *zap.Logger
}

func NewCatalogService(repo port.CatalogRepository, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{repo: repo, logger: logger}
}

func (s *CatalogService) List(ctx context.Context) ([]domain.StockItem, error) {
	return s.repo.ListItems(ctx)
}

func (s *CatalogService) Get(ctx context.Context, id int64) (*domain.StockItem, error) {
	return s.repo.GetItem(ctx, id)
}

func (s *CatalogService) Search(ctx context.Context, filter domain.SearchFilter) ([]domain.StockItem, error) {
	filter.Name = strings.TrimSpace(filter.Name)
	filter.Category = strings.TrimSpace(filter.Category)
	if filter.MinPrice != nil && filter.MinPrice.IsNegative() {
		return nil, fmt.Errorf("%w: minPrice must not be negative", domain.ErrInvalidInput)
	}
	if filter.MaxPrice != nil && filter.MaxPrice.IsNegative() {
		return nil, fmt.Errorf("%w: maxPrice must not be negative", domain.ErrInvalidInput)
	}
	return s.repo.SearchItems(ctx, filter)
}

func (s *CatalogService) Create(ctx context.Context, item domain.NewItem) (*domain.StockItem, error) {
	item.Name = strings.TrimSpace(item.Name)
	item.Category = strings.TrimSpace(item.Category)
	item.Image = strings.TrimSpace(item.Image)

	switch {
	case item.Name == "":
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidInput)
	case item.Category == "":
		return nil, fmt.Errorf("%w: category is required", domain.ErrInvalidInput)
	case item.Price.IsNegative():
		return nil, fmt.Errorf("%w: price must not be negative", domain.ErrInvalidInput)
	case item.Quantity < 0 || item.Quantity > domain.MaxQuantity:
		return nil, fmt.Errorf("%w: quantity must be a non-negative integer", domain.ErrInvalidInput)
	}

	created, err := s.repo.CreateItem(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}

	s.logger.Info("item created", zap.Int64("item_id", created.ID), zap.String("name", created.Name))
	return created, nil
}

func (s *CatalogService) Update(ctx context.Context, id int64, patch domain.ItemPatch) (*domain.StockItem, error) {
	if patch.Name != nil {
		trimmed := strings.TrimSpace(*patch.Name)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: name must not be empty", domain.ErrInvalidInput)
		}
		patch.Name = &trimmed
	}
	if patch.Category != nil {
		trimmed := strings.TrimSpace(*patch.Category)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: category must not be empty", domain.ErrInvalidInput)
		}
		patch.Category = &trimmed
	}
	if patch.Price != nil && patch.Price.IsNegative() {
		return nil, fmt.Errorf("%w: price must not be negative", domain.ErrInvalidInput)
	}
	if patch.Quantity != nil && (*patch.Quantity < 0 || *patch.Quantity > domain.MaxQuantity) {
		return nil, fmt.Errorf("%w: quantity must be a non-negative integer", domain.ErrInvalidInput)
	}
	if len(patch.Fields()) == 0 {
		return nil, fmt.Errorf("%w: no fields to update", domain.ErrInvalidInput)
	}

	updated, err := s.repo.UpdateItem(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("update item %d: %w", id, err)
	}

	s.logger.Info("item updated", zap.Int64("item_id", id))
	return updated, nil
}

func (s *CatalogService) Delete(ctx context.Context, caller domain.Caller, id int64) error {
	if !caller.IsAdmin() {
		return fmt.Errorf("%w: delete requires admin privilege", domain.ErrUnauthorized)
	}
	if err := s.repo.DeleteItem(ctx, id); err != nil {
		return fmt.Errorf("delete item %d: %w", id, err)
	}

	s.logger.Info("item deleted", zap.Int64("item_id", id), zap.String("user", caller.Username))
	return nil
}

// RemoveDuplicates deletes every item whose name is already used by an item
// with a lower id.
func (s *CatalogService) RemoveDuplicates(ctx context.Context) ([]int64, error) {
	removed, err := s.repo.RemoveDuplicateNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("remove duplicates: %w", err)
	}

	if len(removed) == 0 {
		s.logger.Info("no duplicate items found")
	} else {
		s.logger.Info("removed duplicate items", zap.Int64s("item_ids", removed))
	}
	return removed, nil
}

// LowStock returns the items whose quantity is below threshold.
func (s *CatalogService) LowStock(ctx context.Context, threshold int) ([]domain.StockItem, error) {
	items, err := s.repo.ListItems(ctx)
	if err != nil {
		return nil, err
	}

	var low []domain.StockItem
	for _, item := range items {
		if item.Quantity < threshold {
			low = append(low, item)
		}
	}
	return low, nil
}

// Seed inserts items only when the catalog is empty. It returns the number of
// items inserted.
func (s *CatalogService) Seed(ctx context.Context, items []domain.NewItem) (int, error) {
	count, err := s.repo.CountItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	if count > 0 {
		s.logger.Info("catalog already seeded", zap.Int("items", count))
		return 0, nil
	}

	inserted := 0
	for _, item := range items {
		if _, err := s.Create(ctx, item); err != nil {
			return inserted, fmt.Errorf("seed %q: %w", item.Name, err)
		}
		inserted++
	}
	return inserted, nil
}
