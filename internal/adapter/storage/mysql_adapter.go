package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/rl1809/sweet-shop/internal/core/domain"
)

var (
	ErrOptimisticLock   = fmt.Errorf("%w: optimistic lock conflict", domain.ErrStoreUnavailable)
	ErrQuantityOverflow = fmt.Errorf("%w: quantity would exceed maximum stock", domain.ErrInvalidInput)
)

const mysqlDuplicateEntry = 1062

const itemColumns = `id, name, category, price, quantity, COALESCE(image, '') AS image, created_at, updated_at`

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(64) NOT NULL UNIQUE,
		email VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		role ENUM('user', 'admin') NOT NULL DEFAULT 'user',
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
	)`,
	`CREATE TABLE IF NOT EXISTS sweets (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		category VARCHAR(255) NOT NULL,
		price DECIMAL(10, 2) NOT NULL,
		quantity INT NOT NULL DEFAULT 0,
		image VARCHAR(512) NULL,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		CONSTRAINT sweets_price_non_negative CHECK (price >= 0),
		CONSTRAINT sweets_quantity_non_negative CHECK (quantity >= 0),
		INDEX idx_sweets_name (name)
	)`,
}

// patchColumns is the whitelist of columns a partial update may touch.
var patchColumns = map[string]bool{
	"name":     true,
	"category": true,
	"price":    true,
	"quantity": true,
	"image":    true,
}

type MySQLAdapter struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{
		db:  sqlx.NewDb(db, "mysql"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// EnsureSchema creates the tables when they do not exist yet.
func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: ensure schema: %w", domain.ErrStoreUnavailable, err)
		}
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}

func (m *MySQLAdapter) GetItem(ctx context.Context, id int64) (*domain.StockItem, error) {
	var item domain.StockItem
	err := m.db.GetContext(ctx, &item, `SELECT `+itemColumns+` FROM sweets WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("query item", err)
	}
	return &item, nil
}

// DecrementStock locks the item row, checks the available quantity and
// applies the decrement inside one transaction. The UPDATE repeats the
// sufficiency condition so that it can never drive quantity below zero.
func (m *MySQLAdapter) DecrementStock(ctx context.Context, id int64, quantity int) (*domain.StockItem, error) {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin tx", err)
	}
	defer tx.Rollback()

	current, err := lockQuantity(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if current < quantity {
		return nil, &domain.InsufficientStockError{ItemID: id, Available: current, Requested: quantity}
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE sweets
		SET quantity = quantity - ?, updated_at = ?
		WHERE id = ? AND quantity >= ?`,
		quantity, m.now(), id, quantity,
	)
	if err != nil {
		return nil, unavailable("update stock", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, unavailable("rows affected", err)
	}
	if rows == 0 {
		return nil, ErrOptimisticLock
	}

	return commitItem(ctx, tx, id)
}

func (m *MySQLAdapter) IncrementStock(ctx context.Context, id int64, quantity int) (*domain.StockItem, error) {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin tx", err)
	}
	defer tx.Rollback()

	current, err := lockQuantity(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if quantity > domain.MaxQuantity-current {
		return nil, ErrQuantityOverflow
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sweets
		SET quantity = quantity + ?, updated_at = ?
		WHERE id = ?`,
		quantity, m.now(), id,
	); err != nil {
		return nil, unavailable("update stock", err)
	}

	return commitItem(ctx, tx, id)
}

func lockQuantity(ctx context.Context, tx *sqlx.Tx, id int64) (int, error) {
	var current int
	err := tx.QueryRowxContext(ctx, `SELECT quantity FROM sweets WHERE id = ? FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, unavailable("lock item", err)
	}
	return current, nil
}

func commitItem(ctx context.Context, tx *sqlx.Tx, id int64) (*domain.StockItem, error) {
	var item domain.StockItem
	if err := tx.GetContext(ctx, &item, `SELECT `+itemColumns+` FROM sweets WHERE id = ?`, id); err != nil {
		return nil, unavailable("reload item", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit", err)
	}
	return &item, nil
}

func (m *MySQLAdapter) ListItems(ctx context.Context) ([]domain.StockItem, error) {
	items := []domain.StockItem{}
	if err := m.db.SelectContext(ctx, &items, `SELECT `+itemColumns+` FROM sweets ORDER BY created_at DESC, id DESC`); err != nil {
		return nil, unavailable("list items", err)
	}
	return items, nil
}

func (m *MySQLAdapter) SearchItems(ctx context.Context, filter domain.SearchFilter) ([]domain.StockItem, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.Name != "" {
		conditions = append(conditions, "name LIKE ?")
		args = append(args, "%"+escapeLike(filter.Name)+"%")
	}
	if filter.Category != "" {
		conditions = append(conditions, "category LIKE ?")
		args = append(args, "%"+escapeLike(filter.Category)+"%")
	}
	if filter.MinPrice != nil {
		conditions = append(conditions, "price >= ?")
		args = append(args, *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		conditions = append(conditions, "price <= ?")
		args = append(args, *filter.MaxPrice)
	}

	query := `SELECT ` + itemColumns + ` FROM sweets`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	items := []domain.StockItem{}
	if err := m.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, unavailable("search items", err)
	}
	return items, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (m *MySQLAdapter) CreateItem(ctx context.Context, item domain.NewItem) (*domain.StockItem, error) {
	now := m.now()
	var image any
	if item.Image != "" {
		image = item.Image
	}

	result, err := m.db.ExecContext(ctx, `
		INSERT INTO sweets (name, category, price, quantity, image, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.Name, item.Category, item.Price, item.Quantity, image, now, now,
	)
	if err != nil {
		return nil, unavailable("insert item", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, unavailable("last insert id", err)
	}
	return m.GetItem(ctx, id)
}

func (m *MySQLAdapter) UpdateItem(ctx context.Context, id int64, patch domain.ItemPatch) (*domain.StockItem, error) {
	fields := patch.Fields()
	columns := make([]string, 0, len(fields))
	for column := range fields {
		if !patchColumns[column] {
			return nil, fmt.Errorf("%w: unknown field %q", domain.ErrInvalidInput, column)
		}
		columns = append(columns, column)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: no fields to update", domain.ErrInvalidInput)
	}
	sort.Strings(columns)

	sets := make([]string, 0, len(columns)+1)
	args := make([]any, 0, len(columns)+2)
	for _, column := range columns {
		sets = append(sets, column+" = ?")
		args = append(args, fields[column])
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, m.now(), id)

	if _, err := m.db.ExecContext(ctx, `UPDATE sweets SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		return nil, unavailable("update item", err)
	}

	// RowsAffected is zero for unchanged rows too, so existence is decided by the reload.
	return m.GetItem(ctx, id)
}

func (m *MySQLAdapter) DeleteItem(ctx context.Context, id int64) error {
	result, err := m.db.ExecContext(ctx, `DELETE FROM sweets WHERE id = ?`, id)
	if err != nil {
		return unavailable("delete item", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return unavailable("rows affected", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (m *MySQLAdapter) RemoveDuplicateNames(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := m.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT dup.id
		FROM sweets dup
		JOIN sweets keeper ON keeper.name = dup.name AND keeper.id < dup.id
		ORDER BY dup.id`); err != nil {
		return nil, unavailable("find duplicates", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`DELETE FROM sweets WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build delete: %w", err)
	}
	if _, err := m.db.ExecContext(ctx, m.db.Rebind(query), args...); err != nil {
		return nil, unavailable("delete duplicates", err)
	}
	return ids, nil
}

func (m *MySQLAdapter) CountItems(ctx context.Context) (int, error) {
	var count int
	if err := m.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM sweets`); err != nil {
		return 0, unavailable("count items", err)
	}
	return count, nil
}

func (m *MySQLAdapter) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = m.now()
	}

	result, err := m.db.ExecContext(ctx, `
		INSERT INTO users (username, email, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		user.Username, user.Email, user.PasswordHash, user.Role, user.CreatedAt,
	)
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return nil, domain.ErrAlreadyExists
	}
	if err != nil {
		return nil, unavailable("insert user", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, unavailable("last insert id", err)
	}
	user.ID = id
	return &user, nil
}

func (m *MySQLAdapter) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var user domain.User
	err := m.db.GetContext(ctx, &user, `
		SELECT id, username, email, password_hash, role, created_at
		FROM users WHERE username = ?`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("query user", err)
	}
	return &user, nil
}

func (m *MySQLAdapter) HasAdmin(ctx context.Context) (bool, error) {
	var count int
	if err := m.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM users WHERE role = 'admin'`); err != nil {
		return false, unavailable("count admins", err)
	}
	return count > 0, nil
}

// normalizeDSN forces parseTime so DATETIME columns scan into time.Time.
func normalizeDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

// OpenMySQL opens a pooled connection and verifies it with a ping.
func OpenMySQL(ctx context.Context, dsn string, maxOpenConns int) (*sql.DB, error) {
	dsn, err := normalizeDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}
	return db, nil
}
