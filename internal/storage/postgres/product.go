package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/catalog"
)

const (
	productColumns = `id, name, description, category, image, price, compare_at_price,
		stock, low_stock_threshold, active, status, updated_at`

	listProductsSQL = `SELECT ` + productColumns + `
		FROM products WHERE active ORDER BY name, id`

	getProductByIDSQL = `SELECT ` + productColumns + `
		FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + `
		FROM products WHERE id = ANY($1)`

	// Stock can only be taken from an active product with enough units;
	// the status follows the new stock level unless it was set by hand.
	decrementStockSQL = `UPDATE products SET
		stock = stock - $2,
		status = CASE
			WHEN status IN ('inactive', 'archived') THEN status
			WHEN stock - $2 = 0 THEN 'out_of_stock'
			ELSE 'active' END,
		updated_at = now()
		WHERE id = $1 AND stock >= $2 AND active`

	incrementStockSQL = `UPDATE products SET
		stock = stock + $2,
		status = CASE
			WHEN status = 'out_of_stock' AND stock + $2 > 0 THEN 'active'
			ELSE status END,
		updated_at = now()
		WHERE id = $1`

	upsertProductSQL = `INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			image = EXCLUDED.image,
			price = EXCLUDED.price,
			compare_at_price = EXCLUDED.compare_at_price,
			stock = EXCLUDED.stock,
			low_stock_threshold = EXCLUDED.low_stock_threshold,
			active = EXCLUDED.active,
			status = EXCLUDED.status,
			updated_at = now()`
)

var (
	_ catalog.Repository  = (*ProductRepository)(nil)
	_ catalog.StockWriter = (*ProductRepository)(nil)
)

// ProductRepository implements catalog.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all active products ordered by name.
func (r *ProductRepository) List(ctx context.Context) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// ConditionalDecrementStock takes qty units in a single guarded UPDATE.
func (r *ProductRepository) ConditionalDecrementStock(ctx context.Context, id string, qty int) error {
	return decrementStock(ctx, r.pool, id, qty)
}

// IncrementStock returns qty units to stock.
func (r *ProductRepository) IncrementStock(ctx context.Context, id string, qty int) error {
	return incrementStock(ctx, r.pool, id, qty)
}

// Upsert inserts or replaces a product.
func (r *ProductRepository) Upsert(ctx context.Context, p catalog.Product) error {
	if p.Status == "" {
		p.Status = catalog.DeriveStatus(catalog.StatusActive, p.Stock)
	}
	_, err := r.pool.Exec(ctx, upsertProductSQL,
		p.ID, p.Name, p.Description, p.Category, p.Image, p.Price, p.CompareAtPrice,
		p.Stock, p.LowStockThreshold, p.Active, string(p.Status),
	)
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

func decrementStock(ctx context.Context, q querier, id string, qty int) error {
	tag, err := q.Exec(ctx, decrementStockSQL, id, qty)
	if err != nil {
		return fmt.Errorf("decrementing stock for %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrInsufficientStock
	}
	return nil
}

func incrementStock(ctx context.Context, q querier, id string, qty int) error {
	tag, err := q.Exec(ctx, incrementStockSQL, id, qty)
	if err != nil {
		return fmt.Errorf("incrementing stock for %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var (
		p      catalog.Product
		status string
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Category, &p.Image, &p.Price, &p.CompareAtPrice,
		&p.Stock, &p.LowStockThreshold, &p.Active, &status, &p.UpdatedAt,
	)
	p.Status = catalog.Status(status)
	return p, err
}
