package coupon

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Redeemer resolves a coupon code for a user and consumes one use on
// success. Implemented by Resolver; order placement depends on this
// interface.
type Redeemer interface {
	Redeem(ctx context.Context, code, userID string, subtotal decimal.Decimal) (*Discount, error)
}

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
)

// Resolver checks coupon validity and applicability and computes discounts.
// A bloom filter of known codes short-circuits lookups for codes that
// certainly do not exist; false positives just fall through to the store.
type Resolver struct {
	repo Repository
	now  func() time.Time

	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewResolver creates a Resolver backed by the given Repository. The
// negative-lookup filter is inactive until Warm is called.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo, now: time.Now}
}

// Warm loads every known coupon code into the bloom filter. Call once at
// startup; a warm failure leaves the filter disabled, not the resolver.
func (r *Resolver) Warm(ctx context.Context) error {
	codes, err := r.repo.Codes(ctx)
	if err != nil {
		return errors.Wrap(err, "load coupon codes")
	}

	filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	for _, code := range codes {
		filter.AddString(code)
	}

	r.mu.Lock()
	r.filter = filter
	r.mu.Unlock()
	return nil
}

// Remember adds a newly created coupon code to the filter.
func (r *Resolver) Remember(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.filter != nil {
		r.filter.AddString(Normalize(code))
	}
}

// mightExist reports whether the code could be present in the store.
func (r *Resolver) mightExist(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.filter == nil {
		return true
	}
	return r.filter.TestString(code)
}

// Resolve checks the coupon's validity (active, inside its window, global
// limit not exhausted) and its applicability to this user and subtotal
// (per-user limit, minimum order value), returning the computed discount
// without consuming a use. It backs the standalone preview endpoint.
func (r *Resolver) Resolve(ctx context.Context, code, userID string, subtotal decimal.Decimal) (*Discount, error) {
	code = Normalize(code)
	if !r.mightExist(code) {
		return nil, ErrNotFound
	}

	c, err := r.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if err := c.ValidAt(r.now()); err != nil {
		return nil, err
	}

	if c.UsageLimitPerUser > 0 {
		used, err := r.repo.UserRedemptions(ctx, c.ID, userID)
		if err != nil {
			return nil, errors.Wrap(err, "count user redemptions")
		}
		if used >= c.UsageLimitPerUser {
			return nil, &InvalidCouponError{Code: c.Code, Reason: ReasonPerUserLimit}
		}
	}

	if subtotal.LessThan(c.MinOrderValue) {
		return nil, &InvalidCouponError{Code: c.Code, Reason: ReasonBelowMinimum}
	}

	d, err := Compute(c, subtotal)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Redeem is Resolve plus consumption: on success the coupon's global counter
// and the user's redemption record are updated through the repository's
// conditional writes, so two concurrent checkouts racing for the last use
// cannot both win.
func (r *Resolver) Redeem(ctx context.Context, code, userID string, subtotal decimal.Decimal) (*Discount, error) {
	code = Normalize(code)
	if !r.mightExist(code) {
		return nil, ErrNotFound
	}

	c, err := r.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if err := c.ValidAt(r.now()); err != nil {
		return nil, err
	}
	if subtotal.LessThan(c.MinOrderValue) {
		return nil, &InvalidCouponError{Code: c.Code, Reason: ReasonBelowMinimum}
	}

	d, err := Compute(c, subtotal)
	if err != nil {
		return nil, err
	}

	// Limits are enforced here, not by the pre-checks above: the repository
	// increments both counters conditionally and reports which limit lost
	// the race.
	if err := r.repo.Redeem(ctx, c, userID); err != nil {
		return nil, err
	}

	return &d, nil
}
