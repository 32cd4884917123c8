package mongodb

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/techshop/storefront/internal/domain/category"
)

// CategoryRepository implements category.Repository on the categories
// collection. Subtree rewrites touch many documents, so they run inside
// a session transaction; everything else is single-document.
type CategoryRepository struct {
	client *mongo.Client
	col    *mongo.Collection
}

var _ category.Repository = (*CategoryRepository)(nil)

type ancestorDoc struct {
	ID   string `bson:"id"`
	Name string `bson:"name"`
	Slug string `bson:"slug"`
}

type categoryDoc struct {
	ID        string        `bson:"_id"`
	Name      string        `bson:"name"`
	Slug      string        `bson:"slug"`
	ParentID  string        `bson:"parent_id,omitempty"`
	Ancestors []ancestorDoc `bson:"ancestors"`
	Level     int           `bson:"level"`
	CreatedAt time.Time     `bson:"created_at"`
	UpdatedAt time.Time     `bson:"updated_at"`
}

func toCategoryDoc(c *category.Category) categoryDoc {
	doc := categoryDoc{
		ID:        c.ID,
		Name:      c.Name,
		Slug:      c.Slug,
		ParentID:  c.ParentID,
		Ancestors: make([]ancestorDoc, len(c.Ancestors)),
		Level:     c.Level,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	for i, a := range c.Ancestors {
		doc.Ancestors[i] = ancestorDoc(a)
	}
	return doc
}

func (d categoryDoc) toDomain() category.Category {
	c := category.Category{
		ID:        d.ID,
		Name:      d.Name,
		Slug:      d.Slug,
		ParentID:  d.ParentID,
		Ancestors: make([]category.AncestorRef, len(d.Ancestors)),
		Level:     d.Level,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for i, a := range d.Ancestors {
		c.Ancestors[i] = category.AncestorRef(a)
	}
	return c
}

func (r *CategoryRepository) Create(ctx context.Context, c *category.Category) error {
	if _, err := r.col.InsertOne(ctx, toCategoryDoc(c)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return category.ErrSlugExists
		}
		return errors.Wrap(err, "insert category")
	}
	return nil
}

func (r *CategoryRepository) GetByID(ctx context.Context, id string) (*category.Category, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *CategoryRepository) GetBySlug(ctx context.Context, slug string) (*category.Category, error) {
	return r.findOne(ctx, bson.M{"slug": slug})
}

func (r *CategoryRepository) findOne(ctx context.Context, filter bson.M) (*category.Category, error) {
	var doc categoryDoc
	err := r.col.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, category.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find category")
	}
	c := doc.toDomain()
	return &c, nil
}

func (r *CategoryRepository) List(ctx context.Context) ([]category.Category, error) {
	return r.find(ctx, bson.M{})
}

// Descendants returns every category whose denormalized ancestor path
// contains id, i.e. the whole subtree below it at any depth.
func (r *CategoryRepository) Descendants(ctx context.Context, id string) ([]category.Category, error) {
	return r.find(ctx, bson.M{"ancestors.id": id})
}

func (r *CategoryRepository) find(ctx context.Context, filter bson.M) ([]category.Category, error) {
	cursor, err := r.col.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "level", Value: 1}, {Key: "name", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "find categories")
	}
	defer cursor.Close(ctx)

	var docs []categoryDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode categories")
	}
	out := make([]category.Category, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}

func (r *CategoryRepository) HasChildren(ctx context.Context, id string) (bool, error) {
	err := r.col.FindOne(ctx, bson.M{"parent_id": id},
		options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "check children")
	}
	return true, nil
}

// UpdateSubtree replaces the node and its rewritten descendants inside one
// transaction, so a failed re-parent never leaves the subtree half-moved.
func (r *CategoryRepository) UpdateSubtree(ctx context.Context, node *category.Category, descendants []category.Category) error {
	session, err := r.client.StartSession()
	if err != nil {
		return errors.Wrap(err, "start session")
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if err := r.replace(sc, node); err != nil {
			return nil, err
		}
		for i := range descendants {
			if err := r.replace(sc, &descendants[i]); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return category.ErrSlugExists
		}
		return errors.Wrap(err, "update subtree")
	}
	return nil
}

func (r *CategoryRepository) replace(ctx context.Context, c *category.Category) error {
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": c.ID}, toCategoryDoc(c))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return category.ErrNotFound
	}
	return nil
}

func (r *CategoryRepository) Delete(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrap(err, "delete category")
	}
	if res.DeletedCount == 0 {
		return category.ErrNotFound
	}
	return nil
}
