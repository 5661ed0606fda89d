//go:build integration

package redis

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/storage/memory"
)

type countingRepo struct {
	coupon.Repository
	finds atomic.Int32
}

func (r *countingRepo) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	r.finds.Add(1)
	return r.Repository.FindByCode(ctx, code)
}

func TestCouponCache(t *testing.T) {
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	endpoint, err := c.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })

	backing := &countingRepo{Repository: coupon.NewStaticRepository(coupon.DefaultRules()...)}
	cache := NewCouponCache(backing, client, time.Minute)

	for i := 0; i < 3; i++ {
		rule, err := cache.FindByCode(ctx, "save10")
		require.NoError(t, err)
		assert.Equal(t, "SAVE10", rule.Code)
	}
	assert.Equal(t, int32(1), backing.finds.Load())

	_, err = cache.FindByCode(ctx, "BOGUS")
	require.ErrorIs(t, err, coupon.ErrInvalidCoupon)

	require.NoError(t, cache.IncrementUses(ctx, "SAVE10"))
	rule, err := cache.FindByCode(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 1, rule.Uses)
	assert.Equal(t, int32(3), backing.finds.Load())

	t.Run("CheckoutEvicts", func(t *testing.T) {
		static := coupon.NewStaticRepository(coupon.DefaultRules()...)
		cache := NewCouponCache(static, client, time.Minute)

		db := memory.New(static)
		db.Products().Put(catalog.Product{ID: "p1", Name: "Headphones", Price: decimal.NewFromInt(60), Stock: 5, Active: true})

		resolver := coupon.NewRepoResolver(cache)
		orders, err := order.NewService(db.Orders(), db.Products(), db.Carts(), resolver, pricing.DefaultPolicy,
			order.WithCouponRedeemed(cache.Invalidate),
		)
		require.NoError(t, err)

		rule, err := cache.FindByCode(ctx, "FLAT15")
		require.NoError(t, err)
		require.Equal(t, 0, rule.Uses)

		_, err = orders.Create(ctx, auth.Identity{UserID: "u1", Role: auth.RoleCustomer}, order.CreateRequest{
			Items:         []order.LineRequest{{ProductID: "p1", Quantity: 2}},
			PaymentMethod: order.PaymentCard,
			CouponCode:    "flat15",
			ShippingAddress: order.Address{
				FullName: "Jane", Street: "1 Main", City: "Town", PostalCode: "1", Country: "US",
			},
		})
		require.NoError(t, err)

		n, err := client.Exists(ctx, couponKey("FLAT15")).Result()
		require.NoError(t, err)
		assert.Zero(t, n)

		rule, err = cache.FindByCode(ctx, "FLAT15")
		require.NoError(t, err)
		assert.Equal(t, 1, rule.Uses)
	})
}
