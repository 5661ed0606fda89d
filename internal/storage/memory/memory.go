// Package memory implements the storage contracts in process. It backs the
// service in store=memory mode and the domain tests, and keeps the same
// atomicity guarantees as the Postgres implementation: a single mutex
// serializes writes and transactions roll back staged changes on error.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
)

type outboxEntry struct {
	event       order.Event
	publishedAt *time.Time
}

// DB holds all in-memory state.
type DB struct {
	mu sync.Mutex

	products map[string]catalog.Product
	carts    map[string]cart.Cart
	orders   map[string]order.Order
	counters map[string]int
	outbox   []outboxEntry

	coupons coupon.Repository
	now     func() time.Time
}

// New creates an empty DB. Coupon redemptions made by order transactions
// are applied to coupons on commit.
func New(coupons coupon.Repository) *DB {
	return &DB{
		products: make(map[string]catalog.Product),
		carts:    make(map[string]cart.Cart),
		orders:   make(map[string]order.Order),
		counters: make(map[string]int),
		coupons:  coupons,
		now:      time.Now,
	}
}

// Products returns the catalog view of db.
func (db *DB) Products() *Products { return &Products{db: db} }

// Carts returns the cart repository view of db.
func (db *DB) Carts() *Carts { return &Carts{db: db} }

// Orders returns the order store view of db.
func (db *DB) Orders() *Orders { return &Orders{db: db} }

// Outbox returns the outbox view of db.
func (db *DB) Outbox() *Outbox { return &Outbox{db: db} }

func cloneCart(c cart.Cart) cart.Cart {
	c.Items = append([]cart.Item(nil), c.Items...)
	for i := range c.Items {
		if v := c.Items[i].Variant; v != nil {
			cp := *v
			c.Items[i].Variant = &cp
		}
	}
	return c
}

func cloneOrder(o order.Order) order.Order {
	o.Items = append([]order.Item(nil), o.Items...)
	for i := range o.Items {
		if v := o.Items[i].Variant; v != nil {
			cp := *v
			o.Items[i].Variant = &cp
		}
	}
	o.StatusHistory = append([]order.HistoryEntry(nil), o.StatusHistory...)
	if o.PaymentResult != nil {
		pr := *o.PaymentResult
		o.PaymentResult = &pr
	}
	o.PaidAt = cloneTime(o.PaidAt)
	o.ShippedAt = cloneTime(o.ShippedAt)
	o.DeliveredAt = cloneTime(o.DeliveredAt)
	o.CancelledAt = cloneTime(o.CancelledAt)
	o.RefundedAt = cloneTime(o.RefundedAt)
	return o
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// sortNewestFirst orders by creation time, newest first, with the order
// number as a tie breaker.
func sortNewestFirst(orders []order.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].OrderNumber > orders[j].OrderNumber
	})
}
