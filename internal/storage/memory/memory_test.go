package memory

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
)

func newDB(t *testing.T) *DB {
	t.Helper()
	db := New(coupon.NewStaticRepository(coupon.DefaultRules()...))
	db.Products().Put(catalog.Product{
		ID:     "p1",
		Name:   "Widget",
		Price:  decimal.NewFromInt(10),
		Stock:  2,
		Active: true,
	})
	return db
}

func TestProducts_ConditionalDecrement(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	products := db.Products()

	require.NoError(t, products.ConditionalDecrementStock(ctx, "p1", 2))

	p, err := products.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, p.Stock)
	assert.Equal(t, catalog.StatusOutOfStock, p.Status)

	err = products.ConditionalDecrementStock(ctx, "p1", 1)
	require.ErrorIs(t, err, catalog.ErrInsufficientStock)

	require.NoError(t, products.IncrementStock(ctx, "p1", 3))
	p, err = products.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stock)
	assert.Equal(t, catalog.StatusActive, p.Status)

	_, err = products.GetByID(ctx, "missing")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestCarts_SaveCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	carts := newDB(t).Carts()

	c := cart.New("u1", time.Now())
	require.NoError(t, carts.Save(ctx, c))
	assert.Equal(t, int64(1), c.Version)

	// A second first-write loses.
	require.ErrorIs(t, carts.Save(ctx, cart.New("u1", time.Now())), cart.ErrVersionConflict)

	a, err := carts.Get(ctx, "u1")
	require.NoError(t, err)
	b, err := carts.Get(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, carts.Save(ctx, a))
	require.ErrorIs(t, carts.Save(ctx, b), cart.ErrVersionConflict)

	stored, err := carts.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
}

func TestCarts_DeleteAbandoned(t *testing.T) {
	ctx := context.Background()
	carts := newDB(t).Carts()
	old := time.Now().Add(-40 * 24 * time.Hour)

	require.NoError(t, carts.Save(ctx, cart.New("idle", old)))

	full := cart.New("full", old)
	full.Items = []cart.Item{{ProductID: "p1", Quantity: 1, Price: decimal.NewFromInt(10)}}
	require.NoError(t, carts.Save(ctx, full))

	require.NoError(t, carts.Save(ctx, cart.New("fresh", time.Now())))

	n, err := carts.DeleteAbandoned(ctx, time.Now().Add(-cart.AbandonedAfter))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = carts.Get(ctx, "idle")
	require.ErrorIs(t, err, cart.ErrNotFound)
	_, err = carts.Get(ctx, "full")
	require.NoError(t, err)
}

func TestOrders_InTxRollsBack(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)

	c := cart.New("u1", time.Now())
	c.Items = []cart.Item{{ProductID: "p1", Quantity: 1, Price: decimal.NewFromInt(10)}}
	require.NoError(t, db.Carts().Save(ctx, c))

	o := &order.Order{ID: "o1", UserID: "u1"}
	boom := errors.New("boom")
	err := db.Orders().InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		require.NoError(t, tx.DecrementStock(ctx, "p1", 1))
		seq, err := tx.NextSequence(ctx, "2026-01-02")
		require.NoError(t, err)
		assert.Equal(t, 1, seq)
		require.NoError(t, tx.RedeemCoupon(ctx, "SAVE10"))
		require.NoError(t, tx.Insert(ctx, o))
		require.NoError(t, tx.Enqueue(ctx, order.NewEvent(order.EventCreated, o, time.Now())))
		require.NoError(t, tx.ClearCart(ctx, "u1"))
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := db.Products().GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Stock)

	_, err = db.Orders().Get(ctx, "o1")
	require.ErrorIs(t, err, order.ErrNotFound)

	stored, err := db.Carts().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, stored.Items, 1)

	pending, err := db.Outbox().Pending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	rule, err := db.coupons.FindByCode(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 0, rule.Uses)

	// The counter was rolled back too.
	err = db.Orders().InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		seq, err := tx.NextSequence(ctx, "2026-01-02")
		require.NoError(t, err)
		assert.Equal(t, 1, seq)
		return nil
	})
	require.NoError(t, err)
}

func TestOrders_UpdateVersionConflict(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	orders := db.Orders()

	require.NoError(t, orders.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		return tx.Insert(ctx, &order.Order{ID: "o1", UserID: "u1", Status: order.StatusPending})
	}))

	a, err := orders.Get(ctx, "o1")
	require.NoError(t, err)
	b, err := orders.Get(ctx, "o1")
	require.NoError(t, err)

	a.Status = order.StatusProcessing
	require.NoError(t, orders.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		return tx.Update(ctx, a)
	}))
	assert.Equal(t, int64(2), a.Version)

	b.Status = order.StatusCancelled
	err = orders.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		return tx.Update(ctx, b)
	})
	require.ErrorIs(t, err, order.ErrVersionConflict)

	stored, err := orders.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, stored.Status)
}

func TestOutbox_PendingAndMarkPublished(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	o := &order.Order{ID: "o1"}

	require.NoError(t, db.Orders().InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		for i := 0; i < 3; i++ {
			if err := tx.Enqueue(ctx, order.NewEvent(order.EventStatusChanged, o, time.Now())); err != nil {
				return err
			}
		}
		return nil
	}))

	outbox := db.Outbox()
	batch, err := outbox.Pending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	require.NoError(t, outbox.MarkPublished(ctx, []string{batch[0].ID, batch[1].ID}, time.Now()))

	rest, err := outbox.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.NotEqual(t, batch[0].ID, rest[0].ID)
}
