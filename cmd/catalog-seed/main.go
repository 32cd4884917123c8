// catalog-seed loads an initial category tree and product catalog from a
// JSON file, for local development and demo environments.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/techshop/storefront/internal/domain/category"
	"github.com/techshop/storefront/internal/domain/product"
	"github.com/techshop/storefront/internal/storage/mongodb"
)

type variantJSON struct {
	Color    string          `json:"color"`
	Capacity string          `json:"capacity"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	SKU      string          `json:"sku"`
}

type productJSON struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Category    string        `json:"category"` // category slug
	Images      []string      `json:"images"`
	Variants    []variantJSON `json:"variants"`
}

type categoryJSON struct {
	Name     string         `json:"name"`
	Children []categoryJSON `json:"children"`
}

type catalogJSON struct {
	Categories []categoryJSON `json:"categories"`
	Products   []productJSON  `json:"products"`
}

func main() {
	var (
		mongoURI    string
		database    string
		catalogFile string
	)

	flag.StringVar(&mongoURI, "mongo-uri", "", "MongoDB connection URI (or MONGO_URI env)")
	flag.StringVar(&database, "database", "storefront", "MongoDB database name")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.Parse()

	if mongoURI == "" {
		mongoURI = os.Getenv("MONGO_URI")
	}
	if mongoURI == "" {
		slog.Error("mongo URI is required: set --mongo-uri or MONGO_URI")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, mongoURI, database, catalogFile); err != nil {
		slog.Error("catalog seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog seed completed successfully")
}

func run(ctx context.Context, mongoURI, database, catalogFile string) error {
	raw, err := os.ReadFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}
	var catalog catalogJSON
	if err := json.Unmarshal(raw, &catalog); err != nil {
		return errors.Wrap(err, "parse catalog file")
	}

	store, err := mongodb.Connect(ctx, mongoURI, database)
	if err != nil {
		return errors.Wrap(err, "connect store")
	}
	defer func() {
		_ = store.Close(context.Background())
	}()
	if err := store.EnsureIndexes(ctx); err != nil {
		return errors.Wrap(err, "ensure indexes")
	}

	categories := category.NewService(store.Categories(), nil)
	bySlug := make(map[string]string)

	var seedCategories func(nodes []categoryJSON, parentID string) error
	seedCategories = func(nodes []categoryJSON, parentID string) error {
		for _, node := range nodes {
			c, err := categories.Create(ctx, node.Name, parentID)
			if errors.Is(err, category.ErrSlugExists) {
				c, err = categories.GetBySlug(ctx, category.Slugify(node.Name))
			}
			if err != nil {
				return errors.Wrapf(err, "seed category %s", node.Name)
			}
			bySlug[c.Slug] = c.ID
			if err := seedCategories(node.Children, c.ID); err != nil {
				return err
			}
		}
		return nil
	}
	if err := seedCategories(catalog.Categories, ""); err != nil {
		return err
	}
	slog.Info("categories seeded", slog.Int("count", len(bySlug)))

	products := store.Products()
	now := time.Now()
	seeded := 0
	for _, pj := range catalog.Products {
		p := &product.Product{
			ID:          uuid.New().String(),
			Name:        pj.Name,
			Description: pj.Description,
			CategoryID:  bySlug[pj.Category],
			Images:      pj.Images,
			Variants:    make([]product.Variant, len(pj.Variants)),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		for i, v := range pj.Variants {
			p.Variants[i] = product.Variant{
				ID:       uuid.New().String(),
				Color:    v.Color,
				Capacity: v.Capacity,
				Price:    v.Price.Round(2),
				Stock:    v.Stock,
				SKU:      v.SKU,
			}
		}
		if err := p.ValidateVariants(); err != nil {
			return errors.Wrapf(err, "product %s", pj.Name)
		}
		if err := products.Create(ctx, p); err != nil {
			if errors.Is(err, product.ErrDuplicateVariant) {
				// SKU already seeded on a previous run.
				continue
			}
			return errors.Wrapf(err, "seed product %s", pj.Name)
		}
		seeded++
	}
	slog.Info("products seeded", slog.Int("count", seeded))
	return nil
}
