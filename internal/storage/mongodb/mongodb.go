// Package mongodb implements the persistence layer on MongoDB. All
// cross-request invariants (stock, coupon limits, payment correlation)
// are enforced with conditional single-document updates or unique
// indexes rather than application-level locking.
package mongodb

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names.
const (
	colProducts      = "products"
	colCoupons       = "coupons"
	colUserCoupons   = "user_coupons"
	colOrders        = "orders"
	colCategories    = "categories"
	colNotifications = "notifications"
)

// Store wraps a MongoDB database handle and hands out repositories.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect establishes a MongoDB connection and verifies it with a ping.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongodb")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "ping mongodb")
	}

	return &Store{client: client, db: client.Database(database)}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the repositories rely on. Unique
// indexes double as integrity guards: coupon codes, category slugs,
// variant SKUs and (user, coupon) redemption records are all enforced
// here rather than in application code.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	specs := map[string][]mongo.IndexModel{
		colCoupons: {
			{Keys: bson.D{{Key: "code", Value: 1}}, Options: unique},
		},
		colCategories: {
			{Keys: bson.D{{Key: "slug", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "ancestors.id", Value: 1}}},
			{Keys: bson.D{{Key: "parent_id", Value: 1}}},
		},
		colUserCoupons: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "coupon_id", Value: 1}}, Options: unique},
		},
		colProducts: {
			{Keys: bson.D{{Key: "variants.sku", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "category_id", Value: 1}}},
		},
		colOrders: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{
				Keys: bson.D{{Key: "payment_ref", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(
					bson.M{"payment_ref": bson.M{"$type": "string"}},
				),
			},
		},
		colNotifications: {
			{Keys: bson.D{{Key: "recipient_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
	}

	for name, models := range specs {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return errors.Wrapf(err, "create indexes for %s", name)
		}
	}
	return nil
}

// Repositories.

func (s *Store) Products() *ProductRepository {
	return &ProductRepository{col: s.db.Collection(colProducts)}
}

func (s *Store) Coupons() *CouponRepository {
	return &CouponRepository{
		coupons: s.db.Collection(colCoupons),
		users:   s.db.Collection(colUserCoupons),
	}
}

func (s *Store) Orders() *OrderRepository {
	return &OrderRepository{col: s.db.Collection(colOrders)}
}

func (s *Store) Categories() *CategoryRepository {
	return &CategoryRepository{
		client: s.client,
		col:    s.db.Collection(colCategories),
	}
}

func (s *Store) Notifications() *NotificationStore {
	return &NotificationStore{col: s.db.Collection(colNotifications)}
}
