package product

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrVariantNotFound is returned when a product exists but has no
	// variant with the requested id.
	ErrVariantNotFound = errors.New("variant not found")
	// ErrStockConflict is returned by conditional stock decrements when the
	// variant no longer holds enough stock to satisfy the reservation.
	ErrStockConflict = errors.New("stock conflict")
	// ErrDuplicateVariant is returned when two variants of one product share
	// the same (color, capacity) pair or the same SKU.
	ErrDuplicateVariant = errors.New("duplicate variant")
)

// Variant is a purchasable SKU of a product, distinguished by color and
// capacity, carrying its own price and stock.
type Variant struct {
	ID       string
	Color    string
	Capacity string
	Price    decimal.Decimal
	Stock    int
	SKU      string
}

// Product represents a catalog item with one or more purchasable variants.
type Product struct {
	ID          string
	Name        string
	Description string
	CategoryID  string
	Images      []string
	Variants    []Variant
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Variant returns the variant with the given id, or nil when absent.
func (p *Product) Variant(id string) *Variant {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i]
		}
	}
	return nil
}

// ValidateVariants checks the product-level variant invariants: no two
// variants may share a (color, capacity) pair, and SKUs must be unique
// within the product.
func (p *Product) ValidateVariants() error {
	combos := make(map[[2]string]struct{}, len(p.Variants))
	skus := make(map[string]struct{}, len(p.Variants))
	for _, v := range p.Variants {
		combo := [2]string{v.Color, v.Capacity}
		if _, ok := combos[combo]; ok {
			return errors.Wrapf(ErrDuplicateVariant, "color %q capacity %q", v.Color, v.Capacity)
		}
		combos[combo] = struct{}{}

		if _, ok := skus[v.SKU]; ok {
			return errors.Wrapf(ErrDuplicateVariant, "sku %q", v.SKU)
		}
		skus[v.SKU] = struct{}{}
	}
	return nil
}

// Filter narrows product listings.
type Filter struct {
	CategoryID string
}

// Repository defines persistence operations for the product catalog.
// Stock is mutated only through ReserveStock and RestoreStock; all other
// writes leave variant stock untouched.
type Repository interface {
	Create(ctx context.Context, p *Product) error
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	List(ctx context.Context, f Filter) ([]Product, error)
	Update(ctx context.Context, p *Product) error
	Delete(ctx context.Context, id string) error

	// ReserveStock atomically decrements the variant's stock by qty, but
	// only when the current stock is at least qty. It returns
	// ErrStockConflict when the conditional update matches nothing.
	ReserveStock(ctx context.Context, productID, variantID string, qty int) error
	// RestoreStock atomically increments the variant's stock by qty.
	RestoreStock(ctx context.Context, productID, variantID string, qty int) error
}
