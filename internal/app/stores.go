package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/storefront/db"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/outbox"
	"github.com/xenking/storefront/internal/storage/memory"
	"github.com/xenking/storefront/internal/storage/postgres"
	rediscache "github.com/xenking/storefront/internal/storage/redis"
	"github.com/xenking/storefront/pkg/health"
)

// stores bundles the storage backends selected by Config.Store.
type stores struct {
	products catalog.Repository
	carts    cart.Repository
	orders   order.Store
	outbox   outbox.Store
	coupons  coupon.Repository
	apikeys  auth.Repository

	// couponRedeemed evicts cached coupon rules after checkout; nil without a cache.
	couponRedeemed func(ctx context.Context, code string) error

	// readiness holds a check per external dependency.
	readiness map[string]health.CheckFunc
	closers   []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg *Config) (_ *stores, rerr error) {
	s := &stores{readiness: make(map[string]health.CheckFunc)}
	defer func() {
		if rerr != nil {
			s.Close()
		}
	}()

	switch cfg.Store {
	case StorePostgres:
		if err := s.openPostgres(ctx, cfg); err != nil {
			return nil, err
		}
	case StoreMemory:
		if err := s.openMemory(ctx, cfg); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("unknown store %q", cfg.Store)
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.closers = append(s.closers, func() { _ = client.Close() })
		s.readiness["redis"] = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
		cache := rediscache.NewCouponCache(s.coupons, client, cfg.Redis.TTL)
		s.coupons = cache
		s.couponRedeemed = cache.Invalidate
		zctx.From(ctx).Info("Coupon cache enabled", zap.String("redis", cfg.Redis.Addr))
	}
	return s, nil
}

func (s *stores) openPostgres(ctx context.Context, cfg *Config) error {
	lg := zctx.From(ctx)

	version, err := postgres.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "run migrations")
	}
	lg.Info("Migrations applied", zap.Uint("version", version))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	s.closers = append(s.closers, pool.Close)
	s.readiness["postgres"] = health.PingCheck(pool)

	s.products = postgres.NewProductRepository(pool)
	s.carts = postgres.NewCartRepository(pool)
	s.orders = postgres.NewOrderStore(pool)
	s.outbox = postgres.NewOutboxRepository(pool)
	s.coupons = postgres.NewCouponRepository(pool)
	s.apikeys = postgres.NewAPIKeyRepository(pool)
	return nil
}

// openMemory builds a self-contained store with the reference catalog and
// coupons. State is lost on restart.
func (s *stores) openMemory(ctx context.Context, cfg *Config) error {
	products, err := catalog.DecodeProducts(db.Products)
	if err != nil {
		return errors.Wrap(err, "load reference catalog")
	}

	coupons := coupon.NewStaticRepository(coupon.DefaultRules()...)
	mem := memory.New(coupons)
	now := time.Now()
	for _, p := range products {
		p.UpdatedAt = now
		mem.Products().Put(p)
	}

	keys := auth.StaticKeys{}
	if cfg.WebhookKey != "" {
		info := auth.APIKeyInfo{
			ID:      "webhook",
			KeyHash: auth.HashKey([]byte(cfg.APIKeyPepper), cfg.WebhookKey),
			Name:    "Payment gateway",
			Scopes:  []string{auth.ScopePaymentWebhook},
		}
		keys[info.KeyHash] = info
	}

	s.products = mem.Products()
	s.carts = mem.Carts()
	s.orders = mem.Orders()
	s.outbox = mem.Outbox()
	s.coupons = coupons
	s.apikeys = keys

	zctx.From(ctx).Warn("Using in-memory store, data is not persisted",
		zap.Int("products", len(products)),
	)
	return nil
}
