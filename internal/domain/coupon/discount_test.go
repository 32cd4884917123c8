package coupon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidAt(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	start := now.Add(-24 * time.Hour)
	end := now.Add(24 * time.Hour)

	base := Coupon{
		Code:      "SAVE10",
		Type:      TypePercentage,
		Value:     decimal.NewFromInt(10),
		StartDate: start,
		EndDate:   end,
		IsActive:  true,
	}

	tests := []struct {
		name       string
		mutate     func(*Coupon)
		wantReason string
	}{
		{name: "valid coupon"},
		{
			name:       "inactive",
			mutate:     func(c *Coupon) { c.IsActive = false },
			wantReason: ReasonInactive,
		},
		{
			name:       "not started",
			mutate:     func(c *Coupon) { c.StartDate = now.Add(time.Hour) },
			wantReason: ReasonNotStarted,
		},
		{
			name:       "expired",
			mutate:     func(c *Coupon) { c.EndDate = now.Add(-time.Hour) },
			wantReason: ReasonExpired,
		},
		{
			name: "usage limit reached",
			mutate: func(c *Coupon) {
				c.UsageLimit = 100
				c.TimesUsed = 100
			},
			wantReason: ReasonUsageLimit,
		},
		{
			name: "usage under limit",
			mutate: func(c *Coupon) {
				c.UsageLimit = 100
				c.TimesUsed = 99
			},
		},
		{
			name: "zero limit means unlimited",
			mutate: func(c *Coupon) {
				c.UsageLimit = 0
				c.TimesUsed = 9999
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			if tt.mutate != nil {
				tt.mutate(&c)
			}

			err := c.ValidAt(now)
			if tt.wantReason == "" {
				require.NoError(t, err)
				return
			}

			var icErr *InvalidCouponError
			require.ErrorAs(t, err, &icErr)
			assert.Equal(t, tt.wantReason, icErr.Reason)
		})
	}
}

func TestCompute_Percentage(t *testing.T) {
	c := &Coupon{
		Code:             "SUMMER20",
		Type:             TypePercentage,
		Value:            decimal.NewFromInt(20),
		MaxDiscountValue: decimal.NewFromInt(100_000),
	}

	// 20% of 1,000,000 is 200,000 but the cap wins.
	d, err := Compute(c, decimal.NewFromInt(1_000_000))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100_000).Equal(d.Amount),
		"expected 100000, got %s", d.Amount)
	assert.False(t, d.FreeShipping)

	// Below the cap the raw percentage applies.
	d, err = Compute(c, decimal.NewFromInt(400_000))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(80_000).Equal(d.Amount))
}

func TestCompute_PercentageNoCap(t *testing.T) {
	c := &Coupon{Code: "HALF", Type: TypePercentage, Value: decimal.NewFromInt(50)}

	d, err := Compute(c, decimal.NewFromInt(1_000_000))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(500_000).Equal(d.Amount))
}

func TestCompute_FixedExceedsSubtotal(t *testing.T) {
	c := &Coupon{Code: "MINUS50K", Type: TypeFixedAmount, Value: decimal.NewFromInt(50_000)}

	// Fixed discounts are not clamped to the subtotal; the order engine
	// floors the final amount instead.
	d, err := Compute(c, decimal.NewFromInt(30_000))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(50_000).Equal(d.Amount))
}

func TestCompute_FreeShipping(t *testing.T) {
	c := &Coupon{Code: "FREESHIP", Type: TypeFreeShipping}

	d, err := Compute(c, decimal.NewFromInt(200_000))
	require.NoError(t, err)
	assert.True(t, d.Amount.IsZero())
	assert.True(t, d.FreeShipping)
}

func TestCompute_NotImplementedTypes(t *testing.T) {
	for _, typ := range []Type{TypeBuyXGetY, TypeProductGift} {
		c := &Coupon{Code: "GIFT", Type: typ}
		_, err := Compute(c, decimal.NewFromInt(100_000))
		require.ErrorIs(t, err, ErrDiscountNotImplemented)
	}
}

func TestCompute_UnknownType(t *testing.T) {
	c := &Coupon{Code: "WAT", Type: Type("MYSTERY")}
	_, err := Compute(c, decimal.NewFromInt(100))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDiscountNotImplemented)
}
