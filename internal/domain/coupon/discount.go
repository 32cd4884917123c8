package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Compute calculates the discount for the given coupon and order subtotal.
// It assumes validity and applicability have already been checked.
//
// Percentage discounts are capped at MaxDiscountValue when set. Fixed
// discounts are returned uncapped and may exceed the subtotal; the order
// engine floors the final amount at zero. Free shipping yields a zero amount
// with the FreeShipping flag set.
func Compute(c *Coupon, subtotal decimal.Decimal) (Discount, error) {
	switch c.Type {
	case TypePercentage:
		amount := subtotal.Mul(c.Value).Div(hundred)
		if c.MaxDiscountValue.IsPositive() && amount.GreaterThan(c.MaxDiscountValue) {
			amount = c.MaxDiscountValue
		}
		return Discount{Amount: amount.Round(2)}, nil

	case TypeFixedAmount:
		return Discount{Amount: c.Value.Round(2)}, nil

	case TypeFreeShipping:
		return Discount{Amount: decimal.Zero, FreeShipping: true}, nil

	case TypeBuyXGetY, TypeProductGift:
		// Schema-only types: intent is unspecified upstream, so resolution
		// refuses rather than inventing semantics.
		return Discount{}, errors.Wrapf(ErrDiscountNotImplemented, "type %s", c.Type)

	default:
		return Discount{}, errors.Errorf("unsupported discount type: %q", c.Type)
	}
}
