package memory

import (
	"context"
	"time"

	"github.com/xenking/storefront/internal/domain/cart"
)

// Carts implements cart.Repository.
type Carts struct {
	db *DB
}

var _ cart.Repository = (*Carts)(nil)

// Get returns a copy of the user's cart or cart.ErrNotFound.
func (r *Carts) Get(_ context.Context, userID string) (*cart.Cart, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	c, ok := r.db.carts[userID]
	if !ok {
		return nil, cart.ErrNotFound
	}
	c = cloneCart(c)
	return &c, nil
}

// Save stores c if its version matches and advances c.Version.
func (r *Carts) Save(_ context.Context, c *cart.Cart) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	stored, exists := r.db.carts[c.UserID]
	switch {
	case c.Version == 0 && exists:
		return cart.ErrVersionConflict
	case c.Version != 0 && (!exists || stored.Version != c.Version):
		return cart.ErrVersionConflict
	}

	c.Version++
	r.db.carts[c.UserID] = cloneCart(*c)
	return nil
}

// Delete removes the user's cart.
func (r *Carts) Delete(_ context.Context, userID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	delete(r.db.carts, userID)
	return nil
}

// DeleteAbandoned removes empty carts last updated before idleSince.
func (r *Carts) DeleteAbandoned(_ context.Context, idleSince time.Time) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	n := 0
	for id, c := range r.db.carts {
		if len(c.Items) == 0 && c.UpdatedAt.Before(idleSince) {
			delete(r.db.carts, id)
			n++
		}
	}
	return n, nil
}
