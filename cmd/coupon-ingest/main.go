// Command coupon-ingest imports coupon rules from gzip-compressed CSV files.
//
// Each row is: code,type,value[,min_amount[,description[,valid_until[,max_uses]]]].
// A header row starting with "code" is skipped. Files are parsed
// concurrently; when a code appears more than once the occurrence in the
// earliest file (by argument order) wins.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"sort"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/storage/postgres"
)

func main() {
	var (
		dataDir     string
		databaseURL string
		batchSize   int
		dryRun      bool
	)
	flag.StringVar(&dataDir, "data-dir", "data", "directory with *.csv.gz files, used when no files are given")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&batchSize, "batch", 1000, "coupons per upsert batch")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and deduplicate without writing")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	files := flag.Args()
	if len(files) == 0 {
		files, err = filepath.Glob(filepath.Join(dataDir, "*.csv.gz"))
		if err != nil {
			lg.Fatal("List data dir", zap.Error(err))
		}
		sort.Strings(files)
	}
	if len(files) == 0 {
		lg.Fatal("No input files")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, files, databaseURL, batchSize, dryRun); err != nil {
		lg.Fatal("Coupon ingest failed", zap.Error(err))
	}
	lg.Info("Coupon ingest completed")
}

func run(ctx context.Context, lg *zap.Logger, files []string, databaseURL string, batchSize int, dryRun bool) error {
	parsed, err := parseFiles(ctx, lg, files)
	if err != nil {
		return err
	}

	rules, dupes := dedupe(parsed)
	lg.Info("Coupons ready",
		zap.Int("unique", len(rules)),
		zap.Int("duplicates", dupes),
	)
	if dryRun || len(rules) == 0 {
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	written, err := upsert(ctx, postgres.NewCouponRepository(pool), rules, batchSize)
	lg.Info("Coupons written", zap.Int("count", written))
	return err
}

// parseFiles reads every file concurrently and returns the rules per file,
// in argument order.
func parseFiles(ctx context.Context, lg *zap.Logger, files []string) ([][]coupon.Rule, error) {
	out := make([][]coupon.Rule, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			res, err := readFile(ctx, path)
			if err != nil {
				return errors.Wrapf(err, "read %s", path)
			}
			for _, bad := range res.invalid {
				lg.Warn("Skipping row", zap.String("file", path), zap.Error(bad))
			}
			lg.Info("Parsed file",
				zap.String("file", path),
				zap.Int("rules", len(res.rules)),
				zap.Int("invalid", len(res.invalid)),
			)
			out[i] = res.rules
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type couponWriter interface {
	Upsert(ctx context.Context, rules []coupon.Rule) (int, error)
}

// upsert writes rules in batches, up to four batches in flight.
func upsert(ctx context.Context, w couponWriter, rules []coupon.Rule, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = len(rules)
	}

	var (
		g       errgroup.Group
		written = make([]int, (len(rules)+batchSize-1)/batchSize)
	)
	g.SetLimit(4)
	for i := 0; i*batchSize < len(rules); i++ {
		lo, hi := i*batchSize, min((i+1)*batchSize, len(rules))
		g.Go(func() error {
			n, err := w.Upsert(ctx, rules[lo:hi])
			written[i] = n
			return err
		})
	}
	err := g.Wait()

	var total int
	for _, n := range written {
		total += n
	}
	return total, err
}
