//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "shop",
				"POSTGRES_PASSWORD": "shop",
				"POSTGRES_DB":       "shop",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	url := fmt.Sprintf("postgres://shop:shop@%s:%s/shop?sslmode=disable", host, port.Port())

	version, err := RunMigrations(url)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	// Second run is a no-op.
	_, err = RunMigrations(url)
	require.NoError(t, err)

	pool, err := NewPool(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgres(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	products := NewProductRepository(pool)
	coupons := NewCouponRepository(pool)
	carts := NewCartRepository(pool)
	orders := NewOrderStore(pool)
	outbox := NewOutboxRepository(pool)

	for _, p := range []catalog.Product{
		{ID: "p60", Name: "Headphones", Price: decimal.NewFromInt(60), Stock: 10, Active: true, LowStockThreshold: 3},
		{ID: "last", Name: "Last One", Price: decimal.NewFromInt(25), Stock: 1, Active: true},
	} {
		require.NoError(t, products.Upsert(ctx, p))
	}
	n, err := coupons.Upsert(ctx, coupon.DefaultRules())
	require.NoError(t, err)
	require.Equal(t, 3, n)

	resolver := coupon.NewRepoResolver(coupons)
	cartSvc := cart.NewService(carts, products, resolver, pricing.DefaultPolicy)
	orderSvc, err := order.NewService(orders, products, carts, resolver, pricing.DefaultPolicy)
	require.NoError(t, err)

	customer := auth.Identity{UserID: "u1", Email: "u1@example.com", Role: auth.RoleCustomer}
	address := order.Address{FullName: "Jane", Street: "1 Main", City: "Town", PostalCode: "1", Country: "US"}

	t.Run("ConditionalDecrement", func(t *testing.T) {
		require.NoError(t, products.Upsert(ctx, catalog.Product{ID: "tmp", Name: "Tmp", Price: decimal.NewFromInt(1), Stock: 2, Active: true}))
		require.NoError(t, products.ConditionalDecrementStock(ctx, "tmp", 2))
		require.ErrorIs(t, products.ConditionalDecrementStock(ctx, "tmp", 1), catalog.ErrInsufficientStock)

		p, err := products.GetByID(ctx, "tmp")
		require.NoError(t, err)
		assert.Equal(t, 0, p.Stock)
		assert.Equal(t, catalog.StatusOutOfStock, p.Status)

		require.NoError(t, products.IncrementStock(ctx, "tmp", 1))
		p, err = products.GetByID(ctx, "tmp")
		require.NoError(t, err)
		assert.Equal(t, catalog.StatusActive, p.Status)
	})

	t.Run("CartCompareAndSwap", func(t *testing.T) {
		c := cart.New("cas", time.Now())
		require.NoError(t, carts.Save(ctx, c))
		require.ErrorIs(t, carts.Save(ctx, cart.New("cas", time.Now())), cart.ErrVersionConflict)

		a, err := carts.Get(ctx, "cas")
		require.NoError(t, err)
		b, err := carts.Get(ctx, "cas")
		require.NoError(t, err)
		require.NoError(t, carts.Save(ctx, a))
		require.ErrorIs(t, carts.Save(ctx, b), cart.ErrVersionConflict)
	})

	t.Run("CheckoutFromCart", func(t *testing.T) {
		_, err := cartSvc.AddItem(ctx, customer.UserID, "p60", 1, nil)
		require.NoError(t, err)
		c, err := cartSvc.ApplyCoupon(ctx, customer.UserID, "save10")
		require.NoError(t, err)
		require.True(t, decimal.RequireFromString("68.8").Equal(c.Total))

		o, err := orderSvc.Create(ctx, customer, order.CreateRequest{
			FromCart:        true,
			ShippingAddress: address,
			PaymentMethod:   order.PaymentCard,
		})
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("68.8").Equal(o.TotalPrice))

		stored, err := orders.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, o.OrderNumber, stored.OrderNumber)
		assert.Equal(t, int64(1), stored.Version)
		require.Len(t, stored.StatusHistory, 1)
		require.Len(t, stored.Items, 1)
		assert.Equal(t, address, stored.ShippingAddress)

		emptied, err := carts.Get(ctx, customer.UserID)
		require.NoError(t, err)
		assert.Empty(t, emptied.Items)

		rule, err := coupons.FindByCode(ctx, "SAVE10")
		require.NoError(t, err)
		assert.Equal(t, 1, rule.Uses)

		paid, err := orderSvc.ConfirmPayment(ctx, order.PaymentEvent{
			OrderID:       o.ID,
			TransactionID: "txn-1",
			Status:        order.PaymentSucceeded,
			Amount:        o.TotalPrice,
			Currency:      "USD",
		})
		require.NoError(t, err)
		assert.Equal(t, order.StatusProcessing, paid.Status)

		again, err := orders.Get(ctx, o.ID)
		require.NoError(t, err)
		require.NotNil(t, again.PaymentResult)
		assert.Equal(t, "txn-1", again.PaymentResult.TransactionID)
		assert.Equal(t, int64(2), again.Version)

		events, err := outbox.Pending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, order.EventCreated, events[0].Type)

		ids := []string{events[0].ID, events[1].ID}
		require.NoError(t, outbox.MarkPublished(ctx, ids, time.Now()))
		events, err = outbox.Pending(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("ConcurrentLastUnit", func(t *testing.T) {
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			errs []error
		)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := orderSvc.Create(ctx, customer, order.CreateRequest{
					Items:           []order.LineRequest{{ProductID: "last", Quantity: 1}},
					ShippingAddress: address,
					PaymentMethod:   order.PaymentCard,
				})
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}()
		}
		wg.Wait()

		var ok, unavailable int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, order.ErrInsufficientStock):
				unavailable++
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 1, unavailable)

		p, err := products.GetByID(ctx, "last")
		require.NoError(t, err)
		assert.Equal(t, 0, p.Stock)
	})

	t.Run("DailyCounter", func(t *testing.T) {
		var seqs []int
		for i := 0; i < 3; i++ {
			require.NoError(t, orders.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
				seq, err := tx.NextSequence(ctx, "2030-06-01")
				seqs = append(seqs, seq)
				return err
			}))
		}
		assert.Equal(t, []int{1, 2, 3}, seqs)
	})

	t.Run("APIKeys", func(t *testing.T) {
		keys := NewAPIKeyRepository(pool)
		pepper := []byte("pepper")
		require.NoError(t, keys.Upsert(ctx, auth.APIKeyInfo{
			ID:      "gateway",
			KeyHash: auth.HashKey(pepper, "secret"),
			Name:    "Payment gateway",
			Scopes:  []string{auth.ScopePaymentWebhook},
		}))

		info, err := auth.VerifyKey(ctx, keys, pepper, "secret", auth.ScopePaymentWebhook)
		require.NoError(t, err)
		assert.Equal(t, "gateway", info.ID)

		_, err = keys.FindByHash(ctx, "nope")
		require.ErrorIs(t, err, auth.ErrKeyNotFound)
	})
}
