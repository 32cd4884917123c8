package mongodb

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/techshop/storefront/internal/domain/product"
)

// ProductRepository implements product.Repository on the products
// collection. A product and its variants live in one document, so stock
// mutations are single-document atomic updates.
type ProductRepository struct {
	col *mongo.Collection
}

var _ product.Repository = (*ProductRepository)(nil)

type variantDoc struct {
	ID       string `bson:"id"`
	Color    string `bson:"color"`
	Capacity string `bson:"capacity"`
	Price    string `bson:"price"`
	Stock    int    `bson:"stock"`
	SKU      string `bson:"sku"`
}

type productDoc struct {
	ID          string       `bson:"_id"`
	Name        string       `bson:"name"`
	Description string       `bson:"description"`
	CategoryID  string       `bson:"category_id"`
	Images      []string     `bson:"images"`
	Variants    []variantDoc `bson:"variants"`
	CreatedAt   time.Time    `bson:"created_at"`
	UpdatedAt   time.Time    `bson:"updated_at"`
}

func toProductDoc(p *product.Product) productDoc {
	doc := productDoc{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		CategoryID:  p.CategoryID,
		Images:      p.Images,
		Variants:    make([]variantDoc, len(p.Variants)),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	for i, v := range p.Variants {
		doc.Variants[i] = variantDoc{
			ID:       v.ID,
			Color:    v.Color,
			Capacity: v.Capacity,
			Price:    v.Price.String(),
			Stock:    v.Stock,
			SKU:      v.SKU,
		}
	}
	return doc
}

func (d productDoc) toDomain() (product.Product, error) {
	p := product.Product{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		CategoryID:  d.CategoryID,
		Images:      d.Images,
		Variants:    make([]product.Variant, len(d.Variants)),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	for i, v := range d.Variants {
		price, err := decimal.NewFromString(v.Price)
		if err != nil {
			return product.Product{}, errors.Wrapf(err, "variant %s price", v.ID)
		}
		p.Variants[i] = product.Variant{
			ID:       v.ID,
			Color:    v.Color,
			Capacity: v.Capacity,
			Price:    price,
			Stock:    v.Stock,
			SKU:      v.SKU,
		}
	}
	return p, nil
}

func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	if _, err := r.col.InsertOne(ctx, toProductDoc(p)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return product.ErrDuplicateVariant
		}
		return errors.Wrap(err, "insert product")
	}
	return nil
}

func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	var doc productDoc
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, product.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find product")
	}
	p, err := doc.toDomain()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.find(ctx, bson.M{"_id": bson.M{"$in": ids}}, nil)
}

func (r *ProductRepository) List(ctx context.Context, f product.Filter) ([]product.Product, error) {
	filter := bson.M{}
	if f.CategoryID != "" {
		filter["category_id"] = f.CategoryID
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return r.find(ctx, filter, opts)
}

func (r *ProductRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]product.Product, error) {
	var cursor *mongo.Cursor
	var err error
	if opts != nil {
		cursor, err = r.col.Find(ctx, filter, opts)
	} else {
		cursor, err = r.col.Find(ctx, filter)
	}
	if err != nil {
		return nil, errors.Wrap(err, "find products")
	}
	defer cursor.Close(ctx)

	var docs []productDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode products")
	}

	out := make([]product.Product, 0, len(docs))
	for _, doc := range docs {
		p, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *ProductRepository) Update(ctx context.Context, p *product.Product) error {
	doc := toProductDoc(p)
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": p.ID}, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return product.ErrDuplicateVariant
		}
		return errors.Wrap(err, "update product")
	}
	if res.MatchedCount == 0 {
		return product.ErrNotFound
	}
	return nil
}

func (r *ProductRepository) Delete(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrap(err, "delete product")
	}
	if res.DeletedCount == 0 {
		return product.ErrNotFound
	}
	return nil
}

// ReserveStock decrements the variant's stock only when the same filter
// still matches a variant with enough stock. A zero match means another
// checkout won the race; the caller decides whether to retry or fail.
func (r *ProductRepository) ReserveStock(ctx context.Context, productID, variantID string, qty int) error {
	filter := bson.M{
		"_id": productID,
		"variants": bson.M{"$elemMatch": bson.M{
			"id":    variantID,
			"stock": bson.M{"$gte": qty},
		}},
	}
	update := bson.M{
		"$inc": bson.M{"variants.$.stock": -qty},
		"$set": bson.M{"updated_at": time.Now()},
	}
	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return errors.Wrap(err, "reserve stock")
	}
	if res.MatchedCount == 0 {
		return product.ErrStockConflict
	}
	return nil
}

func (r *ProductRepository) RestoreStock(ctx context.Context, productID, variantID string, qty int) error {
	filter := bson.M{"_id": productID}
	update := bson.M{
		"$inc": bson.M{"variants.$[v].stock": qty},
		"$set": bson.M{"updated_at": time.Now()},
	}
	opts := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{bson.M{"v.id": variantID}},
	})
	res, err := r.col.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return errors.Wrap(err, "restore stock")
	}
	if res.MatchedCount == 0 {
		return product.ErrNotFound
	}
	return nil
}
