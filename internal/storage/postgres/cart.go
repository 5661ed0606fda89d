package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/cart"
)

const (
	getCartSQL = `SELECT user_id, items, coupon_code, discount, subtotal, tax, shipping, total,
		version, created_at, updated_at
		FROM carts WHERE user_id = $1`

	insertCartSQL = `INSERT INTO carts (user_id, items, coupon_code, discount, subtotal, tax,
		shipping, total, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10)
		ON CONFLICT (user_id) DO NOTHING`

	updateCartSQL = `UPDATE carts SET items = $3, coupon_code = $4, discount = $5, subtotal = $6,
		tax = $7, shipping = $8, total = $9, updated_at = $10, version = version + 1
		WHERE user_id = $1 AND version = $2`

	clearCartSQL = `UPDATE carts SET items = '[]', coupon_code = '', discount = 0, subtotal = 0,
		tax = 0, shipping = 0, total = 0, updated_at = now(), version = version + 1
		WHERE user_id = $1`

	deleteCartSQL = `DELETE FROM carts WHERE user_id = $1`

	deleteAbandonedCartsSQL = `DELETE FROM carts
		WHERE jsonb_array_length(items) = 0 AND updated_at < $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. Items are
// stored as a JSONB array.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Get returns the user's cart or cart.ErrNotFound.
func (r *CartRepository) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	rows, err := r.pool.Query(ctx, getCartSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("getting cart for %q: %w", userID, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("getting cart for %q: %w", userID, err)
	}
	return &c, nil
}

// Save inserts a new cart (Version 0) or updates it if the stored version
// still matches. Lost races report cart.ErrVersionConflict.
func (r *CartRepository) Save(ctx context.Context, c *cart.Cart) error {
	itemsJSON, err := json.Marshal(nonNilItems(c.Items))
	if err != nil {
		return fmt.Errorf("marshaling cart items: %w", err)
	}

	if c.Version == 0 {
		tag, err := r.pool.Exec(ctx, insertCartSQL,
			c.UserID, itemsJSON, c.CouponCode, c.Discount, c.Subtotal, c.Tax, c.Shipping, c.Total,
			c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting cart for %q: %w", c.UserID, err)
		}
		if tag.RowsAffected() == 0 {
			return cart.ErrVersionConflict
		}
		c.Version = 1
		return nil
	}

	tag, err := r.pool.Exec(ctx, updateCartSQL,
		c.UserID, c.Version, itemsJSON, c.CouponCode, c.Discount, c.Subtotal, c.Tax, c.Shipping, c.Total,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating cart for %q: %w", c.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrVersionConflict
	}
	c.Version++
	return nil
}

// Delete removes the user's cart.
func (r *CartRepository) Delete(ctx context.Context, userID string) error {
	if _, err := r.pool.Exec(ctx, deleteCartSQL, userID); err != nil {
		return fmt.Errorf("deleting cart for %q: %w", userID, err)
	}
	return nil
}

// DeleteAbandoned removes empty carts last updated before idleSince.
func (r *CartRepository) DeleteAbandoned(ctx context.Context, idleSince time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, deleteAbandonedCartsSQL, idleSince)
	if err != nil {
		return 0, fmt.Errorf("deleting abandoned carts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func clearCart(ctx context.Context, q querier, userID string) error {
	if _, err := q.Exec(ctx, clearCartSQL, userID); err != nil {
		return fmt.Errorf("clearing cart for %q: %w", userID, err)
	}
	return nil
}

func nonNilItems(items []cart.Item) []cart.Item {
	if items == nil {
		return []cart.Item{}
	}
	return items
}

func scanCart(row pgx.CollectableRow) (cart.Cart, error) {
	var (
		c         cart.Cart
		itemsJSON []byte
	)
	err := row.Scan(
		&c.UserID, &itemsJSON, &c.CouponCode, &c.Discount, &c.Subtotal, &c.Tax, &c.Shipping, &c.Total,
		&c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(itemsJSON, &c.Items); err != nil {
		return c, fmt.Errorf("unmarshaling cart items: %w", err)
	}
	return c, nil
}
