package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultPurchaseQuantity = 1
	MaxQuantity             = math.MaxInt32 // sweets.quantity is a signed INT column
)

type StockItem struct {
	ID        int64           `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	Category  string          `json:"category" db:"category"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Quantity  int             `json:"quantity" db:"quantity"`
	Image     string          `json:"image,omitempty" db:"image"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

type NewItem struct {
	Name     string
	Category string
	Price    decimal.Decimal
	Quantity int
	Image    string
}

// ItemPatch is a partial update; nil fields are left untouched.
type ItemPatch struct {
	Name     *string
	Category *string
	Price    *decimal.Decimal
	Quantity *int
	Image    *string
}

// Fields maps the set fields of the patch to their column names.
func (p ItemPatch) Fields() map[string]any {
	fields := make(map[string]any)
	if p.Name != nil {
		fields["name"] = *p.Name
	}
	if p.Category != nil {
		fields["category"] = *p.Category
	}
	if p.Price != nil {
		fields["price"] = *p.Price
	}
	if p.Quantity != nil {
		fields["quantity"] = *p.Quantity
	}
	if p.Image != nil {
		fields["image"] = *p.Image
	}
	return fields
}

type SearchFilter struct {
	Name     string
	Category string
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
}
