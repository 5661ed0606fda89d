// Package catalog describes the products that carts and orders reference.
package catalog

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrInsufficientStock is returned by a conditional decrement that would
	// take stock below zero or targets an inactive product.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Status is the lifecycle state of a product.
type Status string

const (
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive"
	StatusArchived   Status = "archived"
	StatusOutOfStock Status = "out_of_stock"
)

// Product represents a catalog item available for purchase.
type Product struct {
	ID                string
	Name              string
	Description       string
	Category          string
	Image             string
	Price             decimal.Decimal
	CompareAtPrice    decimal.Decimal
	Stock             int
	LowStockThreshold int
	Active            bool
	Status            Status
	UpdatedAt         time.Time
}

// Purchasable reports whether the product can be added to a cart or ordered.
func (p *Product) Purchasable() bool {
	return p.Active && p.Status == StatusActive && p.Stock > 0
}

// Listed reports whether the product is offered for sale at all, regardless
// of its stock level.
func (p *Product) Listed() bool {
	return p.Active && p.Status != StatusInactive && p.Status != StatusArchived
}

// IsLowStock reports whether stock is positive but at or below the threshold.
func (p *Product) IsLowStock() bool {
	return p.Stock > 0 && p.Stock <= p.LowStockThreshold
}

// DeriveStatus returns the status implied by the stock level. Inactive and
// archived products keep their status regardless of stock.
func DeriveStatus(current Status, stock int) Status {
	switch current {
	case StatusInactive, StatusArchived:
		return current
	}
	if stock <= 0 {
		return StatusOutOfStock
	}
	return StatusActive
}

// Repository defines read operations and stock adjustments for the catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}

// StockWriter adjusts product inventory. ConditionalDecrementStock must be a
// single atomic "decrement if stock >= qty" write and returns
// ErrInsufficientStock when the guard fails.
type StockWriter interface {
	ConditionalDecrementStock(ctx context.Context, id string, qty int) error
	IncrementStock(ctx context.Context, id string, qty int) error
}
