package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCouponRepo struct {
	coupon      *Coupon
	findErr     error
	redemptions int
	redeemErr   error

	lookups      []string
	redeemed     bool
	redeemedUser string
}

func (m *mockCouponRepo) Create(_ context.Context, _ *Coupon) error { return nil }
func (m *mockCouponRepo) List(_ context.Context) ([]Coupon, error)  { return nil, nil }

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	m.lookups = append(m.lookups, code)
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.coupon, nil
}

func (m *mockCouponRepo) Codes(_ context.Context) ([]string, error) {
	if m.coupon == nil {
		return nil, nil
	}
	return []string{m.coupon.Code}, nil
}

func (m *mockCouponRepo) UserRedemptions(_ context.Context, _, _ string) (int, error) {
	return m.redemptions, nil
}

func (m *mockCouponRepo) Redeem(_ context.Context, _ *Coupon, userID string) error {
	if m.redeemErr != nil {
		return m.redeemErr
	}
	m.redeemed = true
	m.redeemedUser = userID
	return nil
}

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func activeCoupon(code string) *Coupon {
	return &Coupon{
		ID:        "c1",
		Code:      code,
		Type:      TypePercentage,
		Value:     decimal.NewFromInt(10),
		StartDate: fixedNow.Add(-24 * time.Hour),
		EndDate:   fixedNow.Add(24 * time.Hour),
		IsActive:  true,
	}
}

func newTestResolver(repo Repository) *Resolver {
	r := NewResolver(repo)
	r.now = func() time.Time { return fixedNow }
	return r
}

func TestResolve_Success(t *testing.T) {
	repo := &mockCouponRepo{coupon: activeCoupon("SAVE10")}
	r := newTestResolver(repo)

	d, err := r.Resolve(context.Background(), "SAVE10", "u1", decimal.NewFromInt(100_000))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10_000).Equal(d.Amount))
	assert.False(t, repo.redeemed, "preview must not consume a use")
}

func TestResolve_NormalizesCode(t *testing.T) {
	repo := &mockCouponRepo{coupon: activeCoupon("SUMMER10")}
	r := newTestResolver(repo)

	d, err := r.Resolve(context.Background(), " summer10 ", "u1", decimal.NewFromInt(100_000))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10_000).Equal(d.Amount))
	assert.Equal(t, []string{"SUMMER10"}, repo.lookups, "lookup must use the canonical code")
}

func TestRedeem_NormalizesCode(t *testing.T) {
	repo := &mockCouponRepo{coupon: activeCoupon("SUMMER10")}
	r := newTestResolver(repo)
	// The filter holds canonical codes; a padded lower-case input must
	// still pass it.
	require.NoError(t, r.Warm(context.Background()))

	_, err := r.Redeem(context.Background(), "\tsummer10\n", "u1", decimal.NewFromInt(100_000))
	require.NoError(t, err)
	assert.True(t, repo.redeemed)
	assert.Equal(t, []string{"SUMMER10"}, repo.lookups)
}

func TestResolve_NotFound(t *testing.T) {
	repo := &mockCouponRepo{findErr: ErrNotFound}
	r := newTestResolver(repo)

	_, err := r.Resolve(context.Background(), "BOGUS", "u1", decimal.NewFromInt(100))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_PerUserLimit(t *testing.T) {
	c := activeCoupon("ONCE")
	c.UsageLimitPerUser = 1
	repo := &mockCouponRepo{coupon: c, redemptions: 1}
	r := newTestResolver(repo)

	_, err := r.Resolve(context.Background(), "ONCE", "u1", decimal.NewFromInt(100_000))

	var icErr *InvalidCouponError
	require.ErrorAs(t, err, &icErr)
	assert.Equal(t, ReasonPerUserLimit, icErr.Reason)
}

func TestResolve_BelowMinimum(t *testing.T) {
	c := activeCoupon("BIGONLY")
	c.MinOrderValue = decimal.NewFromInt(100_000)
	repo := &mockCouponRepo{coupon: c}
	r := newTestResolver(repo)

	_, err := r.Resolve(context.Background(), "BIGONLY", "u1", decimal.NewFromInt(99_999))

	var icErr *InvalidCouponError
	require.ErrorAs(t, err, &icErr)
	assert.Equal(t, ReasonBelowMinimum, icErr.Reason)
}

func TestResolve_Expired(t *testing.T) {
	c := activeCoupon("OLD")
	c.EndDate = fixedNow.Add(-time.Hour)
	repo := &mockCouponRepo{coupon: c}
	r := newTestResolver(repo)

	_, err := r.Resolve(context.Background(), "OLD", "u1", decimal.NewFromInt(100))

	var icErr *InvalidCouponError
	require.ErrorAs(t, err, &icErr)
	assert.Equal(t, ReasonExpired, icErr.Reason)
}

func TestRedeem_ConsumesUse(t *testing.T) {
	repo := &mockCouponRepo{coupon: activeCoupon("SAVE10")}
	r := newTestResolver(repo)

	d, err := r.Redeem(context.Background(), "SAVE10", "u1", decimal.NewFromInt(100_000))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10_000).Equal(d.Amount))
	assert.True(t, repo.redeemed)
	assert.Equal(t, "u1", repo.redeemedUser)
}

func TestRedeem_RepositoryLimitRace(t *testing.T) {
	repo := &mockCouponRepo{
		coupon:    activeCoupon("LAST"),
		redeemErr: &InvalidCouponError{Code: "LAST", Reason: ReasonUsageLimit},
	}
	r := newTestResolver(repo)

	_, err := r.Redeem(context.Background(), "LAST", "u1", decimal.NewFromInt(100_000))

	var icErr *InvalidCouponError
	require.ErrorAs(t, err, &icErr)
	assert.Equal(t, ReasonUsageLimit, icErr.Reason)
}

func TestRedeem_NotImplementedType(t *testing.T) {
	c := activeCoupon("GIFTME")
	c.Type = TypeProductGift
	repo := &mockCouponRepo{coupon: c}
	r := newTestResolver(repo)

	_, err := r.Redeem(context.Background(), "GIFTME", "u1", decimal.NewFromInt(100_000))
	require.ErrorIs(t, err, ErrDiscountNotImplemented)
	assert.False(t, repo.redeemed, "failed resolution must not consume a use")
}

func TestResolver_BloomShortCircuit(t *testing.T) {
	repo := &mockCouponRepo{coupon: activeCoupon("KNOWN")}
	r := newTestResolver(repo)
	require.NoError(t, r.Warm(context.Background()))

	// Unknown code is rejected without touching the repository.
	repo.findErr = errors.New("store must not be hit")
	_, err := r.Resolve(context.Background(), "DEFINITELY-NOT-A-CODE", "u1", decimal.NewFromInt(100))
	require.ErrorIs(t, err, ErrNotFound)

	// Known code still goes through.
	repo.findErr = nil
	_, err = r.Resolve(context.Background(), "KNOWN", "u1", decimal.NewFromInt(100_000))
	require.NoError(t, err)
}

func TestResolver_RememberNewCode(t *testing.T) {
	repo := &mockCouponRepo{coupon: activeCoupon("KNOWN")}
	r := newTestResolver(repo)
	require.NoError(t, r.Warm(context.Background()))

	repo.coupon = activeCoupon("FRESH")
	r.Remember("FRESH")

	_, err := r.Resolve(context.Background(), "FRESH", "u1", decimal.NewFromInt(100_000))
	require.NoError(t, err)
}
