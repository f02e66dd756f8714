package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rl1809/sweet-shop/internal/core/domain"
)

const maxMovementsPerItem = 1000

// memoryItem pairs an item with the lock that serializes its read-check-write
// sequences. The lock is per item so unrelated items never wait on each other.
type memoryItem struct {
	mu      sync.Mutex
	item    domain.StockItem
	deleted bool
}

// MemoryAdapter is an in-process store for development and tests. It
// implements the same ports as the MySQL, Redis and Mongo adapters.
type MemoryAdapter struct {
	mu     sync.RWMutex
	items  map[int64]*memoryItem
	nextID int64

	usersMu    sync.Mutex
	users      map[int64]domain.User
	nextUserID int64

	idemMu sync.Mutex
	idem   map[string]time.Time

	journalMu sync.Mutex
	journal   map[int64][]domain.StockMovement

	now func() time.Time
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		items:   make(map[int64]*memoryItem),
		users:   make(map[int64]domain.User),
		idem:    make(map[string]time.Time),
		journal: make(map[int64][]domain.StockMovement),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryAdapter) entry(id int64) *memoryItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.items[id]
}

// snapshot copies every live item, ordered newest first.
func (m *MemoryAdapter) snapshot() []domain.StockItem {
	m.mu.RLock()
	entries := make([]*memoryItem, 0, len(m.items))
	for _, e := range m.items {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	items := make([]domain.StockItem, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted {
			items = append(items, e.item)
		}
		e.mu.Unlock()
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items
}

func (m *MemoryAdapter) GetItem(ctx context.Context, id int64) (*domain.StockItem, error) {
	e := m.entry(id)
	if e == nil {
		return nil, domain.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, domain.ErrNotFound
	}
	item := e.item
	return &item, nil
}

func (m *MemoryAdapter) DecrementStock(ctx context.Context, id int64, quantity int) (*domain.StockItem, error) {
	e := m.entry(id)
	if e == nil {
		return nil, domain.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, domain.ErrNotFound
	}
	if e.item.Quantity < quantity {
		return nil, &domain.InsufficientStockError{ItemID: id, Available: e.item.Quantity, Requested: quantity}
	}

	e.item.Quantity -= quantity
	e.item.UpdatedAt = m.now()
	item := e.item
	return &item, nil
}

func (m *MemoryAdapter) IncrementStock(ctx context.Context, id int64, quantity int) (*domain.StockItem, error) {
	e := m.entry(id)
	if e == nil {
		return nil, domain.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, domain.ErrNotFound
	}
	if quantity > domain.MaxQuantity-e.item.Quantity {
		return nil, ErrQuantityOverflow
	}

	e.item.Quantity += quantity
	e.item.UpdatedAt = m.now()
	item := e.item
	return &item, nil
}

func (m *MemoryAdapter) ListItems(ctx context.Context) ([]domain.StockItem, error) {
	return m.snapshot(), nil
}

func (m *MemoryAdapter) SearchItems(ctx context.Context, filter domain.SearchFilter) ([]domain.StockItem, error) {
	name := strings.ToLower(filter.Name)
	category := strings.ToLower(filter.Category)

	var result []domain.StockItem
	for _, item := range m.snapshot() {
		if name != "" && !strings.Contains(strings.ToLower(item.Name), name) {
			continue
		}
		if category != "" && !strings.Contains(strings.ToLower(item.Category), category) {
			continue
		}
		if filter.MinPrice != nil && item.Price.LessThan(*filter.MinPrice) {
			continue
		}
		if filter.MaxPrice != nil && item.Price.GreaterThan(*filter.MaxPrice) {
			continue
		}
		result = append(result, item)
	}
	return result, nil
}

func (m *MemoryAdapter) CreateItem(ctx context.Context, item domain.NewItem) (*domain.StockItem, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	created := domain.StockItem{
		ID:        m.nextID,
		Name:      item.Name,
		Category:  item.Category,
		Price:     item.Price,
		Quantity:  item.Quantity,
		Image:     item.Image,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.items[created.ID] = &memoryItem{item: created}
	return &created, nil
}

func (m *MemoryAdapter) UpdateItem(ctx context.Context, id int64, patch domain.ItemPatch) (*domain.StockItem, error) {
	e := m.entry(id)
	if e == nil {
		return nil, domain.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, domain.ErrNotFound
	}

	if patch.Name != nil {
		e.item.Name = *patch.Name
	}
	if patch.Category != nil {
		e.item.Category = *patch.Category
	}
	if patch.Price != nil {
		e.item.Price = *patch.Price
	}
	if patch.Quantity != nil {
		e.item.Quantity = *patch.Quantity
	}
	if patch.Image != nil {
		e.item.Image = *patch.Image
	}
	e.item.UpdatedAt = m.now()

	item := e.item
	return &item, nil
}

func (m *MemoryAdapter) DeleteItem(ctx context.Context, id int64) error {
	m.mu.Lock()
	e, ok := m.items[id]
	delete(m.items, id)
	m.mu.Unlock()

	if !ok {
		return domain.ErrNotFound
	}

	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()
	return nil
}

func (m *MemoryAdapter) RemoveDuplicateNames(ctx context.Context) ([]int64, error) {
	items := m.snapshot()
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	seen := make(map[string]bool)
	var removed []int64
	for _, item := range items {
		if !seen[item.Name] {
			seen[item.Name] = true
			continue
		}
		if err := m.DeleteItem(ctx, item.ID); err != nil {
			continue
		}
		removed = append(removed, item.ID)
	}
	return removed, nil
}

func (m *MemoryAdapter) CountItems(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items), nil
}

func (m *MemoryAdapter) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()

	for _, existing := range m.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return nil, domain.ErrAlreadyExists
		}
	}

	m.nextUserID++
	user.ID = m.nextUserID
	if user.CreatedAt.IsZero() {
		user.CreatedAt = m.now()
	}
	m.users[user.ID] = user
	return &user, nil
}

func (m *MemoryAdapter) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()

	for _, user := range m.users {
		if user.Username == username {
			u := user
			return &u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MemoryAdapter) HasAdmin(ctx context.Context) (bool, error) {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()

	for _, user := range m.users {
		if user.Role == domain.RoleAdmin {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.idemMu.Lock()
	defer m.idemMu.Unlock()

	now := m.now()
	if expires, ok := m.idem[key]; ok && now.Before(expires) {
		return false, nil
	}
	m.idem[key] = now.Add(idempotencyKeyTTL)
	return true, nil
}

func (m *MemoryAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	m.idemMu.Lock()
	defer m.idemMu.Unlock()
	delete(m.idem, key)
	return nil
}

func (m *MemoryAdapter) AppendMovement(ctx context.Context, movement domain.StockMovement) error {
	m.journalMu.Lock()
	defer m.journalMu.Unlock()

	movements := append(m.journal[movement.ItemID], movement)
	if len(movements) > maxMovementsPerItem {
		movements = movements[len(movements)-maxMovementsPerItem:]
	}
	m.journal[movement.ItemID] = movements
	return nil
}

func (m *MemoryAdapter) ListMovements(ctx context.Context, itemID int64, limit int) ([]domain.StockMovement, error) {
	m.journalMu.Lock()
	defer m.journalMu.Unlock()

	movements := m.journal[itemID]
	result := make([]domain.StockMovement, 0, len(movements))
	for i := len(movements) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, movements[i])
	}
	return result, nil
}
