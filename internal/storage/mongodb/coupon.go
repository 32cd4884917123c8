package mongodb

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/techshop/storefront/internal/domain/coupon"
)

// CouponRepository implements coupon.Repository across the coupons and
// user_coupons collections. Both usage limits are enforced without
// transactions: the global limit through a conditional increment, the
// per-user limit through the unique (user_id, coupon_id) index.
type CouponRepository struct {
	coupons *mongo.Collection
	users   *mongo.Collection
}

var _ coupon.Repository = (*CouponRepository)(nil)

type couponDoc struct {
	ID                string    `bson:"_id"`
	Code              string    `bson:"code"`
	Type              string    `bson:"type"`
	Value             string    `bson:"value"`
	MinOrderValue     string    `bson:"min_order_value"`
	MaxDiscountValue  string    `bson:"max_discount_value"`
	UsageLimit        int       `bson:"usage_limit"`
	TimesUsed         int       `bson:"times_used"`
	UsageLimitPerUser int       `bson:"usage_limit_per_user"`
	StartDate         time.Time `bson:"start_date"`
	EndDate           time.Time `bson:"end_date"`
	IsActive          bool      `bson:"is_active"`
	BuyQuantity       int       `bson:"buy_quantity,omitempty"`
	GetQuantity       int       `bson:"get_quantity,omitempty"`
	GiftProductID     string    `bson:"gift_product_id,omitempty"`
	CreatedAt         time.Time `bson:"created_at"`
}

type userCouponDoc struct {
	UserID   string    `bson:"user_id"`
	CouponID string    `bson:"coupon_id"`
	Uses     int       `bson:"uses"`
	UsedAt   time.Time `bson:"used_at"`
}

func toCouponDoc(c *coupon.Coupon) couponDoc {
	return couponDoc{
		ID:                c.ID,
		Code:              c.Code,
		Type:              string(c.Type),
		Value:             c.Value.String(),
		MinOrderValue:     c.MinOrderValue.String(),
		MaxDiscountValue:  c.MaxDiscountValue.String(),
		UsageLimit:        c.UsageLimit,
		TimesUsed:         c.TimesUsed,
		UsageLimitPerUser: c.UsageLimitPerUser,
		StartDate:         c.StartDate,
		EndDate:           c.EndDate,
		IsActive:          c.IsActive,
		BuyQuantity:       c.BuyQuantity,
		GetQuantity:       c.GetQuantity,
		GiftProductID:     c.GiftProductID,
		CreatedAt:         c.CreatedAt,
	}
}

func (d couponDoc) toDomain() (coupon.Coupon, error) {
	value, err := decimal.NewFromString(d.Value)
	if err != nil {
		return coupon.Coupon{}, errors.Wrapf(err, "coupon %s value", d.Code)
	}
	minOrder, err := decimal.NewFromString(d.MinOrderValue)
	if err != nil {
		return coupon.Coupon{}, errors.Wrapf(err, "coupon %s min order value", d.Code)
	}
	maxDiscount, err := decimal.NewFromString(d.MaxDiscountValue)
	if err != nil {
		return coupon.Coupon{}, errors.Wrapf(err, "coupon %s max discount value", d.Code)
	}
	return coupon.Coupon{
		ID:                d.ID,
		Code:              d.Code,
		Type:              coupon.Type(d.Type),
		Value:             value,
		MinOrderValue:     minOrder,
		MaxDiscountValue:  maxDiscount,
		UsageLimit:        d.UsageLimit,
		TimesUsed:         d.TimesUsed,
		UsageLimitPerUser: d.UsageLimitPerUser,
		StartDate:         d.StartDate,
		EndDate:           d.EndDate,
		IsActive:          d.IsActive,
		BuyQuantity:       d.BuyQuantity,
		GetQuantity:       d.GetQuantity,
		GiftProductID:     d.GiftProductID,
		CreatedAt:         d.CreatedAt,
	}, nil
}

func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	if _, err := r.coupons.InsertOne(ctx, toCouponDoc(c)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return coupon.ErrCodeExists
		}
		return errors.Wrap(err, "insert coupon")
	}
	return nil
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	var doc couponDoc
	err := r.coupons.FindOne(ctx, bson.M{"code": code}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, coupon.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find coupon")
	}
	c, err := doc.toDomain()
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CouponRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	cursor, err := r.coupons.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	defer cursor.Close(ctx)

	var docs []couponDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode coupons")
	}
	out := make([]coupon.Coupon, 0, len(docs))
	for _, doc := range docs {
		c, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *CouponRepository) Codes(ctx context.Context) ([]string, error) {
	cursor, err := r.coupons.Find(ctx, bson.M{},
		options.Find().SetProjection(bson.M{"code": 1}))
	if err != nil {
		return nil, errors.Wrap(err, "list coupon codes")
	}
	defer cursor.Close(ctx)

	var codes []string
	for cursor.Next(ctx) {
		var doc struct {
			Code string `bson:"code"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decode coupon code")
		}
		codes = append(codes, doc.Code)
	}
	return codes, cursor.Err()
}

func (r *CouponRepository) UserRedemptions(ctx context.Context, couponID, userID string) (int, error) {
	var doc userCouponDoc
	err := r.users.FindOne(ctx, bson.M{"user_id": userID, "coupon_id": couponID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "find user redemptions")
	}
	return doc.Uses, nil
}

// Redeem consumes one use of the coupon for the user. The global counter
// is advanced with a conditional update that re-checks the limit inside
// the filter, so concurrent redemptions of the last remaining use serialize
// on the document and the losers match nothing. The per-user counter is
// then advanced with an equally conditional update; when neither limit
// allows it, the global increment is compensated.
func (r *CouponRepository) Redeem(ctx context.Context, c *coupon.Coupon, userID string) error {
	filter := bson.M{"_id": c.ID}
	if c.UsageLimit > 0 {
		filter["times_used"] = bson.M{"$lt": c.UsageLimit}
	}
	res, err := r.coupons.UpdateOne(ctx, filter, bson.M{"$inc": bson.M{"times_used": 1}})
	if err != nil {
		return errors.Wrap(err, "increment coupon usage")
	}
	if res.MatchedCount == 0 {
		return &coupon.InvalidCouponError{Code: c.Code, Reason: coupon.ReasonUsageLimit}
	}

	if err := r.redeemForUser(ctx, c, userID); err != nil {
		// Hand the use back so a rejected per-user redemption does not
		// burn a slot of the global limit.
		if _, derr := r.coupons.UpdateOne(ctx,
			bson.M{"_id": c.ID, "times_used": bson.M{"$gt": 0}},
			bson.M{"$inc": bson.M{"times_used": -1}},
		); derr != nil {
			return errors.Wrap(derr, "compensate coupon usage")
		}
		return err
	}
	return nil
}

func (r *CouponRepository) redeemForUser(ctx context.Context, c *coupon.Coupon, userID string) error {
	now := time.Now()

	filter := bson.M{"user_id": userID, "coupon_id": c.ID}
	if c.UsageLimitPerUser > 0 {
		filter["uses"] = bson.M{"$lt": c.UsageLimitPerUser}
	}
	update := bson.M{
		"$inc": bson.M{"uses": 1},
		"$set": bson.M{"used_at": now},
	}

	res, err := r.users.UpdateOne(ctx, filter, update)
	if err != nil {
		return errors.Wrap(err, "increment user redemptions")
	}
	if res.MatchedCount > 0 {
		return nil
	}

	// No matching record: either the user has never redeemed this coupon,
	// or their counter is at the limit. Try inserting the first record; the
	// unique (user_id, coupon_id) index rejects it when one already exists.
	doc := userCouponDoc{UserID: userID, CouponID: c.ID, Uses: 1, UsedAt: now}
	_, err = r.users.InsertOne(ctx, doc)
	if err == nil {
		return nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return errors.Wrap(err, "insert user redemption")
	}

	// A duplicate key only proves a record exists now; a concurrent first
	// redemption may have inserted it between the update and the insert.
	// Retry the limit-filtered update against that record: a second miss
	// means the per-user limit really is exhausted.
	res, err = r.users.UpdateOne(ctx, filter, update)
	if err != nil {
		return errors.Wrap(err, "increment user redemptions")
	}
	if res.MatchedCount == 0 {
		return &coupon.InvalidCouponError{Code: c.Code, Reason: coupon.ReasonPerUserLimit}
	}
	return nil
}
