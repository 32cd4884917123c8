package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Normalize canonicalizes a user-supplied coupon code. Codes are stored
// upper-case; every lookup path must normalize the same way so preview
// and redemption agree on the same input.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Type enumerates the supported coupon discount strategies.
type Type string

const (
	// TypePercentage applies a percentage of the subtotal, optionally capped.
	TypePercentage Type = "PERCENTAGE_DISCOUNT"
	// TypeFixedAmount subtracts a fixed amount regardless of subtotal.
	TypeFixedAmount Type = "FIXED_AMOUNT_DISCOUNT"
	// TypeFreeShipping waives the shipping fee without reducing the subtotal.
	TypeFreeShipping Type = "FREE_SHIPPING"
	// TypeBuyXGetY is accepted on creation but has no resolution semantics.
	TypeBuyXGetY Type = "BUY_X_GET_Y"
	// TypeProductGift is accepted on creation but has no resolution semantics.
	TypeProductGift Type = "PRODUCT_GIFT"
)

// Valid reports whether t is a known coupon type.
func (t Type) Valid() bool {
	switch t {
	case TypePercentage, TypeFixedAmount, TypeFreeShipping, TypeBuyXGetY, TypeProductGift:
		return true
	}
	return false
}

// Rejection reasons carried by InvalidCouponError.
const (
	ReasonInactive     = "coupon is not active"
	ReasonNotStarted   = "coupon is not valid yet"
	ReasonExpired      = "coupon has expired"
	ReasonUsageLimit   = "coupon usage limit reached"
	ReasonPerUserLimit = "coupon usage limit per user reached"
	ReasonBelowMinimum = "order subtotal is below the coupon minimum"
)

var (
	// ErrNotFound is returned when a coupon code does not exist.
	ErrNotFound = errors.New("coupon not found")
	// ErrCodeExists is returned when creating a coupon with a taken code.
	ErrCodeExists = errors.New("coupon code already exists")
	// ErrDiscountNotImplemented is returned for coupon types whose discount
	// semantics are not defined (BUY_X_GET_Y, PRODUCT_GIFT).
	ErrDiscountNotImplemented = errors.New("discount type not implemented")
)

// InvalidCouponError rejects a coupon that exists but cannot be applied.
type InvalidCouponError struct {
	Code   string
	Reason string
}

func (e *InvalidCouponError) Error() string {
	return fmt.Sprintf("coupon %s invalid: %s", e.Code, e.Reason)
}

// Coupon defines a discount with a validity window and usage limits.
// Validity is a pure function of time and counters; no expired state is
// stored.
type Coupon struct {
	ID                string
	Code              string
	Type              Type
	Value             decimal.Decimal
	MinOrderValue     decimal.Decimal
	MaxDiscountValue  decimal.Decimal
	UsageLimit        int // 0 = unlimited
	TimesUsed         int
	UsageLimitPerUser int // 0 = unlimited
	StartDate         time.Time
	EndDate           time.Time
	IsActive          bool

	// Fields for BUY_X_GET_Y / PRODUCT_GIFT; schema-only, see
	// ErrDiscountNotImplemented.
	BuyQuantity   int
	GetQuantity   int
	GiftProductID string

	CreatedAt time.Time
}

// ValidAt evaluates the validity predicate against the given time: the
// coupon must be active, now must fall inside [StartDate, EndDate], and the
// global usage limit must not be exhausted. It returns nil when valid, or an
// InvalidCouponError naming the first failed condition.
func (c *Coupon) ValidAt(now time.Time) error {
	if !c.IsActive {
		return &InvalidCouponError{Code: c.Code, Reason: ReasonInactive}
	}
	if now.Before(c.StartDate) {
		return &InvalidCouponError{Code: c.Code, Reason: ReasonNotStarted}
	}
	if now.After(c.EndDate) {
		return &InvalidCouponError{Code: c.Code, Reason: ReasonExpired}
	}
	if c.UsageLimit > 0 && c.TimesUsed >= c.UsageLimit {
		return &InvalidCouponError{Code: c.Code, Reason: ReasonUsageLimit}
	}
	return nil
}

// Discount is the outcome of resolving a coupon against an order subtotal.
type Discount struct {
	Amount       decimal.Decimal
	FreeShipping bool
}

// UserCoupon records a user's redemptions of a coupon. One record exists per
// (user, coupon) pair; Uses counts redemptions against UsageLimitPerUser.
type UserCoupon struct {
	UserID   string
	CouponID string
	Uses     int
	UsedAt   time.Time
}

// Repository provides coupon persistence. Redeem must enforce both usage
// limits with atomic conditional updates so that concurrent checkouts cannot
// exceed them.
type Repository interface {
	Create(ctx context.Context, c *Coupon) error
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	List(ctx context.Context) ([]Coupon, error)
	// Codes returns every known coupon code, used to warm the negative-lookup
	// filter at startup.
	Codes(ctx context.Context) ([]string, error)
	// UserRedemptions returns how many times the user has redeemed the coupon.
	UserRedemptions(ctx context.Context, couponID, userID string) (int, error)
	// Redeem increments the coupon's global counter and the user's redemption
	// count as conditional updates. It returns an InvalidCouponError with
	// ReasonUsageLimit or ReasonPerUserLimit when either limit is hit.
	Redeem(ctx context.Context, c *Coupon, userID string) error
}
