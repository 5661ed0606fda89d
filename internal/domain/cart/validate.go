package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/catalog"
)

// IssueKind classifies a problem found while validating a cart line.
type IssueKind string

const (
	// IssueUnavailable means the product was deleted or deactivated.
	IssueUnavailable IssueKind = "unavailable"
	// IssueStockShortfall means fewer units are in stock than requested.
	IssueStockShortfall IssueKind = "stock_shortfall"
	// IssuePriceChanged means the catalog price differs from the snapshot.
	IssuePriceChanged IssueKind = "price_changed"
)

// Issue is a line-level problem found by Validate.
type Issue struct {
	Kind      IssueKind
	ProductID string
	Variant   *Variant
	Name      string
	// Available is set for IssueStockShortfall.
	Available int
	// OldPrice and NewPrice are set for IssuePriceChanged.
	OldPrice decimal.Decimal
	NewPrice decimal.Decimal
}

// Validate re-checks every line against the current catalog. The cart is
// not modified; see Reconcile for automatic remediation.
func (s *Service) Validate(ctx context.Context, userID string) ([]Issue, error) {
	c, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.inspect(ctx, c)
}

// Reconcile validates the cart and fixes what it finds: unavailable lines
// are removed, quantities are clamped to available stock and drifted prices
// are refreshed. It returns the updated cart and the issues that were fixed.
func (s *Service) Reconcile(ctx context.Context, userID string) (*Cart, []Issue, error) {
	var fixed []Issue
	c, err := s.mutate(ctx, userID, func(c *Cart) error {
		issues, err := s.inspect(ctx, c)
		if err != nil {
			return err
		}
		fixed = issues

		kept := c.Items[:0]
		for _, it := range c.Items {
			drop := false
			for _, is := range issues {
				if !it.matches(is.ProductID, is.Variant) {
					continue
				}
				switch is.Kind {
				case IssueUnavailable:
					drop = true
				case IssueStockShortfall:
					if is.Available <= 0 {
						drop = true
					} else {
						it.Quantity = clampQuantity(is.Available)
					}
				case IssuePriceChanged:
					it.Price = is.NewPrice
				}
			}
			if !drop {
				kept = append(kept, it)
			}
		}
		c.Items = kept
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return c, fixed, nil
}

func (s *Service) inspect(ctx context.Context, c *Cart) ([]Issue, error) {
	if c.IsEmpty() {
		return nil, nil
	}

	ids := make([]string, 0, len(c.Items))
	for _, it := range c.Items {
		ids = append(ids, it.ProductID)
	}
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]catalog.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	var issues []Issue
	for _, it := range c.Items {
		base := Issue{ProductID: it.ProductID, Variant: it.Variant, Name: it.Name}

		p, ok := byID[it.ProductID]
		if !ok || !p.Listed() {
			is := base
			is.Kind = IssueUnavailable
			issues = append(issues, is)
			continue
		}
		if p.Stock < it.Quantity {
			is := base
			is.Kind = IssueStockShortfall
			is.Available = p.Stock
			issues = append(issues, is)
		}
		if !p.Price.Equal(it.Price) {
			is := base
			is.Kind = IssuePriceChanged
			is.OldPrice = it.Price
			is.NewPrice = p.Price
			issues = append(issues, is)
		}
	}
	return issues, nil
}
