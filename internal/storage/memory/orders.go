package memory

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/order"
)

// Orders implements order.Store.
type Orders struct {
	db *DB
}

var _ order.Store = (*Orders)(nil)

// Get returns a copy of the order or order.ErrNotFound.
func (r *Orders) Get(_ context.Context, id string) (*order.Order, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	o, ok := r.db.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	o = cloneOrder(o)
	return &o, nil
}

// ListByUser returns the user's orders, newest first.
func (r *Orders) ListByUser(_ context.Context, userID string) ([]order.Order, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var out []order.Order
	for _, o := range r.db.orders {
		if o.UserID == userID {
			out = append(out, cloneOrder(o))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// List returns orders matching filter, newest first.
func (r *Orders) List(_ context.Context, filter order.ListFilter) ([]order.Order, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var out []order.Order
	for _, o := range r.db.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sortNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// InTx runs fn holding the store lock. Writes made through the Tx are
// undone in reverse order if fn or the final coupon redemption fails.
func (r *Orders) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	tx := &memTx{db: r.db}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	for _, code := range tx.redeem {
		if err := r.db.coupons.IncrementUses(ctx, code); err != nil {
			tx.rollback()
			return errors.Wrapf(err, "redeem coupon %s", code)
		}
	}
	return nil
}

type memTx struct {
	db     *DB
	undo   []func()
	redeem []string
}

var _ order.Tx = (*memTx)(nil)

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) DecrementStock(_ context.Context, productID string, qty int) error {
	prev, ok := tx.db.products[productID]
	if err := tx.db.decrementStock(productID, qty); err != nil {
		return err
	}
	if ok {
		tx.undo = append(tx.undo, func() { tx.db.products[productID] = prev })
	}
	return nil
}

func (tx *memTx) IncrementStock(_ context.Context, productID string, qty int) error {
	prev, ok := tx.db.products[productID]
	if err := tx.db.incrementStock(productID, qty); err != nil {
		return err
	}
	if ok {
		tx.undo = append(tx.undo, func() { tx.db.products[productID] = prev })
	}
	return nil
}

func (tx *memTx) NextSequence(_ context.Context, day string) (int, error) {
	prev := tx.db.counters[day]
	tx.db.counters[day] = prev + 1
	tx.undo = append(tx.undo, func() { tx.db.counters[day] = prev })
	return prev + 1, nil
}

func (tx *memTx) RedeemCoupon(_ context.Context, code string) error {
	tx.redeem = append(tx.redeem, code)
	return nil
}

func (tx *memTx) Insert(_ context.Context, o *order.Order) error {
	if _, exists := tx.db.orders[o.ID]; exists {
		return errors.Errorf("order %s already exists", o.ID)
	}
	o.Version = 1
	tx.db.orders[o.ID] = cloneOrder(*o)
	id := o.ID
	tx.undo = append(tx.undo, func() { delete(tx.db.orders, id) })
	return nil
}

func (tx *memTx) Update(_ context.Context, o *order.Order) error {
	prev, ok := tx.db.orders[o.ID]
	if !ok {
		return order.ErrNotFound
	}
	if prev.Version != o.Version {
		return order.ErrVersionConflict
	}
	o.Version++
	tx.db.orders[o.ID] = cloneOrder(*o)
	tx.undo = append(tx.undo, func() { tx.db.orders[prev.ID] = prev })
	return nil
}

func (tx *memTx) ClearCart(_ context.Context, userID string) error {
	prev, ok := tx.db.carts[userID]
	if !ok {
		return nil
	}
	c := cloneCart(prev)
	c.Reset(tx.db.now())
	c.Version++
	tx.db.carts[userID] = c
	tx.undo = append(tx.undo, func() { tx.db.carts[userID] = prev })
	return nil
}

func (tx *memTx) Enqueue(_ context.Context, e order.Event) error {
	tx.db.outbox = append(tx.db.outbox, outboxEntry{event: e})
	n := len(tx.db.outbox) - 1
	tx.undo = append(tx.undo, func() { tx.db.outbox = tx.db.outbox[:n] })
	return nil
}
