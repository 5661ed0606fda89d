package catalog

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// DecodeProducts parses a JSON array of products. Prices may be strings or
// numbers; "active" defaults to true and the status is derived from stock.
func DecodeProducts(data []byte) ([]Product, error) {
	var out []Product
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		p := Product{Active: true}
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				p.ID, err = d.Str()
			case "name":
				p.Name, err = d.Str()
			case "description":
				p.Description, err = d.Str()
			case "category":
				p.Category, err = d.Str()
			case "image":
				p.Image, err = d.Str()
			case "price":
				p.Price, err = decodeDecimal(d)
			case "compare_at_price":
				p.CompareAtPrice, err = decodeDecimal(d)
			case "stock":
				p.Stock, err = d.Int()
			case "low_stock_threshold":
				p.LowStockThreshold, err = d.Int()
			case "active":
				p.Active, err = d.Bool()
			default:
				return d.Skip()
			}
			if err != nil {
				return errors.Wrap(err, key)
			}
			return nil
		}); err != nil {
			return err
		}
		if p.ID == "" || p.Name == "" {
			return errors.Errorf("product %d: id and name are required", len(out))
		}
		if p.Price.IsNegative() {
			return errors.Errorf("product %s: negative price", p.ID)
		}
		p.Status = DeriveStatus(StatusActive, p.Stock)
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode products")
	}
	return out, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Zero, errors.Errorf("unexpected %s", d.Next())
	}
}
