package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// PaymentMethod enumerates how an order is paid.
type PaymentMethod string

const (
	// MethodCOD is cash on delivery.
	MethodCOD PaymentMethod = "COD"
	// MethodGateway pays through the external payment gateway.
	MethodGateway PaymentMethod = "GATEWAY"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	return m == MethodCOD || m == MethodGateway
}

// Sentinel errors for order validation and access control.
var (
	ErrEmptyItems      = errors.New("items required")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	ErrNotFound        = errors.New("order not found")
	ErrNotOwner        = errors.New("order belongs to another user")
	ErrNotCancellable  = errors.New("order can no longer be cancelled")
	ErrPaymentRefInUse = errors.New("payment reference already attached")
	ErrStatusConflict  = errors.New("order status changed concurrently")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// VariantNotFoundError indicates a product has no variant with the given id.
type VariantNotFoundError struct {
	ProductID string
	VariantID string
}

func (e *VariantNotFoundError) Error() string {
	return fmt.Sprintf("variant %s of product %s not found", e.VariantID, e.ProductID)
}

// OutOfStockError indicates a variant has zero stock.
type OutOfStockError struct {
	ProductID string
	VariantID string
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("variant %s of product %s is out of stock", e.VariantID, e.ProductID)
}

// InsufficientStockError indicates a variant cannot cover the requested
// quantity. The message states requested vs available.
type InsufficientStockError struct {
	ProductID string
	VariantID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %s of product %s: requested %d, available %d",
		e.VariantID, e.ProductID, e.Requested, e.Available)
}

// Address is the shipping destination for an order.
type Address struct {
	Recipient string
	Phone     string
	Line1     string
	Ward      string
	District  string
	City      string
}

// OrderItem is a line of an order. Name and UnitPrice are snapshots taken at
// purchase time, so historical orders are immune to later product mutation.
type OrderItem struct {
	ProductID string
	VariantID string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Order is a placed customer order. FinalAmount is always recomputed from
// its components before persistence, never trusted as input.
type Order struct {
	ID              string
	UserID          string
	Items           []OrderItem
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus
	Status          Status
	TotalAmount     decimal.Decimal
	ShippingFee     decimal.Decimal
	FreeShipping    bool
	CouponCode      string
	DiscountAmount  decimal.Decimal
	FinalAmount     decimal.Decimal
	PaymentRef      string
	PaymentTxnID    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ComputeFinalAmount applies the order total invariant:
// final = total - discount + (freeShipping ? 0 : shippingFee), floored at
// zero so an oversized fixed discount cannot produce a negative amount.
func (o *Order) ComputeFinalAmount() {
	final := o.TotalAmount.Sub(o.DiscountAmount)
	if !o.FreeShipping {
		final = final.Add(o.ShippingFee)
	}
	if final.IsNegative() {
		final = decimal.Zero
	}
	o.FinalAmount = final.Round(2)
}

// Filter narrows admin order listings.
type Filter struct {
	Status Status
	UserID string
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, f Filter) ([]Order, error)
	// SetStatus writes the new status only while the stored status still
	// equals from, failing with ErrStatusConflict otherwise. The guard makes
	// a read-check-write sequence safe against concurrent transitions.
	SetStatus(ctx context.Context, id string, from, to Status) error
	SetPaymentStatus(ctx context.Context, id string, from, to PaymentStatus) error
	// SetPaymentRef attaches the gateway correlation id, failing with
	// ErrPaymentRefInUse when the order already carries one.
	SetPaymentRef(ctx context.Context, id, ref string) error
	FindByPaymentRef(ctx context.Context, ref string) (*Order, error)
	// SetPaymentResult records the gateway outcome under the same guard as
	// SetPaymentStatus, so duplicate callbacks cannot flip a settled state.
	SetPaymentResult(ctx context.Context, id, txnID string, from, to PaymentStatus) error
}
