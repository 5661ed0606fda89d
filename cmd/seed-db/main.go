package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront/db"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/storage/postgres"
)

type options struct {
	databaseURL  string
	productsFile string
	apiKey       string
	apiKeyPepper string
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.productsFile, "products-file", "", "path to a products JSON file; the built-in catalog when empty")
	flag.StringVar(&opts.apiKey, "api-key", "", "payment webhook API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	opts.fromEnv(os.Getenv)
	if err := opts.validate(); err != nil {
		lg.Fatal("Invalid options", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func (o *options) fromEnv(getenv func(string) string) {
	if o.databaseURL == "" {
		o.databaseURL = getenv("DATABASE_URL")
	}
	if o.apiKey == "" {
		o.apiKey = getenv("SHOP_SEED_API_KEY")
	}
	if o.apiKeyPepper == "" {
		o.apiKeyPepper = getenv("SHOP_API_KEY_PEPPER")
	}
}

func (o *options) validate() error {
	switch {
	case o.databaseURL == "":
		return errors.New("database URL is required: set --database-url or DATABASE_URL")
	case o.apiKey == "":
		return errors.New("API key is required: set --api-key or SHOP_SEED_API_KEY")
	case o.apiKeyPepper == "":
		return errors.New("API key pepper is required: set --api-key-pepper or SHOP_API_KEY_PEPPER")
	}
	return nil
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	version, err := postgres.RunMigrations(opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "run migrations")
	}
	lg.Info("Migrations applied", zap.Uint("version", version))

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	products, err := loadProducts(opts.productsFile)
	if err != nil {
		return errors.Wrap(err, "load products")
	}
	productRepo := postgres.NewProductRepository(pool)
	for _, p := range products {
		if err := productRepo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		lg.Debug("Upserted product", zap.String("id", p.ID), zap.String("name", p.Name))
	}
	lg.Info("Products seeded", zap.Int("count", len(products)))

	n, err := postgres.NewCouponRepository(pool).Upsert(ctx, coupon.DefaultRules())
	if err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	lg.Info("Coupons seeded", zap.Int("count", n))

	key := auth.APIKeyInfo{
		ID:      "payment-gateway",
		KeyHash: auth.HashKey([]byte(opts.apiKeyPepper), opts.apiKey),
		Name:    "Payment gateway webhook",
		Scopes:  []string{auth.ScopePaymentWebhook},
	}
	if err := postgres.NewAPIKeyRepository(pool).Upsert(ctx, key); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	lg.Info("API key seeded", zap.String("id", key.ID), zap.Strings("scopes", key.Scopes))
	return nil
}

func loadProducts(path string) ([]catalog.Product, error) {
	data := db.Products
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read products file")
		}
		data = raw
	}
	return catalog.DecodeProducts(data)
}
