package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/app"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

func main() {
	var (
		storage app.StorageConfig
		dataDir string
		workers int
		dryRun  bool
	)

	flag.StringVar(&storage.Driver, "driver", "postgres", "storage driver: postgres or mongo")
	flag.StringVar(&storage.DatabaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&storage.MongoURI, "mongo-uri", "", "MongoDB connection URI (or MONGODB_URI env)")
	flag.StringVar(&storage.MongoDatabase, "mongo-database", "kart", "MongoDB database name")
	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.csv.gz coupon files")
	flag.IntVar(&workers, "workers", 8, "concurrent upserts")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and validate without writing")
	flag.Parse()

	if storage.DatabaseURL == "" {
		storage.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if storage.MongoURI == "" {
		storage.MongoURI = os.Getenv("MONGODB_URI")
	}

	files := flag.Args()
	if len(files) == 0 {
		matches, err := filepath.Glob(filepath.Join(dataDir, "*.csv.gz"))
		if err != nil {
			slog.Error("list coupon files", slog.String("error", err.Error()))
			os.Exit(1)
		}
		sort.Strings(matches)
		files = matches
	}
	if len(files) == 0 {
		slog.Error("no coupon files found", slog.String("data_dir", dataDir))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, storage, files, workers, dryRun); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, storage app.StorageConfig, files []string, workers int, dryRun bool) error {
	now := time.Now().UTC()

	slog.Info("reading coupon files", slog.Int("files", len(files)))

	parsed, err := readFiles(ctx, files, now)
	if err != nil {
		return errors.Wrap(err, "read coupon files")
	}

	coupons, dups := dedupe(parsed)
	rejected := 0
	for _, p := range parsed {
		rejected += len(p.rejected)
	}
	slog.Info("coupon definitions ready",
		slog.Int("valid", len(coupons)),
		slog.Int("duplicates", dups),
		slog.Int("rejected", rejected),
	)

	if dryRun || len(coupons) == 0 {
		return nil
	}

	slog.Info("connecting to storage", slog.String("driver", storage.Driver))

	stores, err := app.OpenStores(ctx, storage)
	if err != nil {
		return errors.Wrap(err, "open storage")
	}
	defer stores.Close(context.WithoutCancel(ctx))

	if err := writeCoupons(ctx, stores.Coupons, coupons, workers); err != nil {
		return errors.Wrap(err, "write coupons")
	}

	return nil
}

// writeCoupons upserts the coupons with at most workers concurrent writes.
func writeCoupons(ctx context.Context, repo coupon.Repository, coupons []coupon.Coupon, workers int) error {
	slog.Info("writing coupons", slog.Int("count", len(coupons)))

	return forEachLimit(ctx, workers, len(coupons), func(ctx context.Context, i int) error {
		c := &coupons[i]
		if err := repo.Upsert(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}
		if done := i + 1; done%1000 == 0 || done == len(coupons) {
			slog.Info("write progress", slog.Int("written", done), slog.Int("total", len(coupons)))
		}
		return nil
	})
}
