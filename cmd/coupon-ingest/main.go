// coupon-ingest bulk-loads promotional coupon codes from gzipped code
// lists into the store. Lines are upper-cased coupon codes, one per line;
// every distinct valid code becomes a percentage coupon built from the
// flag-provided template.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/techshop/storefront/internal/domain/coupon"
	"github.com/techshop/storefront/internal/storage/mongodb"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
	minCodeLen    = 4
	maxCodeLen    = 24
)

func main() {
	var (
		mongoURI   string
		database   string
		percent    int64
		validDays  int
		usageLimit int
		perUser    int
	)

	flag.StringVar(&mongoURI, "mongo-uri", "", "MongoDB connection URI (or MONGO_URI env)")
	flag.StringVar(&database, "database", "storefront", "MongoDB database name")
	flag.Int64Var(&percent, "percent", 10, "discount percentage for ingested codes")
	flag.IntVar(&validDays, "valid-days", 30, "validity window in days from now")
	flag.IntVar(&usageLimit, "usage-limit", 0, "global usage limit per code (0 = unlimited)")
	flag.IntVar(&perUser, "per-user", 1, "per-user usage limit (0 = unlimited)")
	flag.Parse()

	if mongoURI == "" {
		mongoURI = os.Getenv("MONGO_URI")
	}
	if mongoURI == "" {
		slog.Error("mongo URI is required: set --mongo-uri or MONGO_URI")
		os.Exit(1)
	}
	files := flag.Args()
	if len(files) == 0 {
		slog.Error("at least one .gz code list is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	tpl := template{
		percent:    decimal.NewFromInt(percent),
		validFor:   time.Duration(validDays) * 24 * time.Hour,
		usageLimit: usageLimit,
		perUser:    perUser,
	}
	if err := run(ctx, mongoURI, database, files, tpl); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

type template struct {
	percent    decimal.Decimal
	validFor   time.Duration
	usageLimit int
	perUser    int
}

func run(ctx context.Context, mongoURI, database string, files []string, tpl template) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
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
	repo := store.Coupons()

	// Shared dedup filter across all files. False positives only cost a
	// duplicate-key round trip, which the unique code index absorbs.
	var (
		mu   sync.Mutex
		seen = bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	)

	now := time.Now()
	var total, inserted, duplicates int64

	g, gctx := errgroup.WithContext(ctx)
	for _, file := range files {
		g.Go(func() error {
			f, err := os.Open(file)
			if err != nil {
				return errors.Wrapf(err, "open %s", file)
			}
			defer f.Close()

			gz, err := pgzip.NewReader(f)
			if err != nil {
				return errors.Wrapf(err, "gzip %s", file)
			}
			defer gz.Close()

			scanner := bufio.NewScanner(gz)
			var count int64
			for scanner.Scan() {
				if gctx.Err() != nil {
					return gctx.Err()
				}

				code := strings.ToUpper(strings.TrimSpace(scanner.Text()))
				if len(code) < minCodeLen || len(code) > maxCodeLen {
					continue
				}

				mu.Lock()
				total++
				dup := seen.TestOrAddString(code)
				mu.Unlock()
				if dup {
					continue
				}

				err := repo.Create(gctx, &coupon.Coupon{
					ID:                uuid.New().String(),
					Code:              code,
					Type:              coupon.TypePercentage,
					Value:             tpl.percent,
					MinOrderValue:     decimal.Zero,
					MaxDiscountValue:  decimal.Zero,
					UsageLimit:        tpl.usageLimit,
					UsageLimitPerUser: tpl.perUser,
					StartDate:         now,
					EndDate:           now.Add(tpl.validFor),
					IsActive:          true,
					CreatedAt:         now,
				})
				switch {
				case errors.Is(err, coupon.ErrCodeExists):
					mu.Lock()
					duplicates++
					mu.Unlock()
				case err != nil:
					return errors.Wrapf(err, "insert code %s", code)
				default:
					mu.Lock()
					inserted++
					mu.Unlock()
				}

				count++
				if count%progressEvery == 0 {
					slog.Info("progress", slog.String("file", file), slog.Int64("lines", count))
				}
			}
			return errors.Wrapf(scanner.Err(), "scan %s", file)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("ingest summary",
		slog.Int64("total", total),
		slog.Int64("inserted", inserted),
		slog.Int64("duplicates", duplicates),
	)
	return nil
}
