package memory

import (
	"context"
	"sort"

	"github.com/xenking/storefront/internal/domain/catalog"
)

// Products implements catalog.Repository and catalog.StockWriter.
type Products struct {
	db *DB
}

var (
	_ catalog.Repository  = (*Products)(nil)
	_ catalog.StockWriter = (*Products)(nil)
)

// Put adds or replaces a product.
func (r *Products) Put(p catalog.Product) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if p.Status == "" {
		p.Status = catalog.DeriveStatus(catalog.StatusActive, p.Stock)
	}
	r.db.products[p.ID] = p
}

// List returns all active products ordered by name.
func (r *Products) List(_ context.Context) ([]catalog.Product, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	out := make([]catalog.Product, 0, len(r.db.products))
	for _, p := range r.db.products {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetByID returns a product or catalog.ErrNotFound.
func (r *Products) GetByID(_ context.Context, id string) (*catalog.Product, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	p, ok := r.db.products[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &p, nil
}

// GetByIDs returns the products found for ids. Missing ids are skipped.
func (r *Products) GetByIDs(_ context.Context, ids []string) ([]catalog.Product, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	seen := make(map[string]struct{}, len(ids))
	out := make([]catalog.Product, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if p, ok := r.db.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// ConditionalDecrementStock takes qty units if available.
func (r *Products) ConditionalDecrementStock(_ context.Context, id string, qty int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	return r.db.decrementStock(id, qty)
}

// IncrementStock returns qty units to stock.
func (r *Products) IncrementStock(_ context.Context, id string, qty int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	return r.db.incrementStock(id, qty)
}

// decrementStock requires db.mu.
func (db *DB) decrementStock(id string, qty int) error {
	p, ok := db.products[id]
	if !ok {
		return catalog.ErrNotFound
	}
	if !p.Active || p.Stock < qty {
		return catalog.ErrInsufficientStock
	}
	p.Stock -= qty
	p.Status = catalog.DeriveStatus(p.Status, p.Stock)
	p.UpdatedAt = db.now()
	db.products[id] = p
	return nil
}

// incrementStock requires db.mu.
func (db *DB) incrementStock(id string, qty int) error {
	p, ok := db.products[id]
	if !ok {
		return catalog.ErrNotFound
	}
	p.Stock += qty
	p.Status = catalog.DeriveStatus(p.Status, p.Stock)
	p.UpdatedAt = db.now()
	db.products[id] = p
	return nil
}
