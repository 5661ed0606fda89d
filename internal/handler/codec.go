package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/order"
)

const maxBodyBytes = 1 << 20

// errMalformed marks request bodies that could not be decoded.
var errMalformed = errors.New("malformed request body")

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	encode(e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(message)
		e.ObjEnd()
	})
}

// decodeBody decodes the JSON object in the request body field by field.
// An absent body is treated as an empty object when optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, optional bool, field func(d *jx.Decoder, key string) error) error {
	if r.ContentLength == 0 && optional {
		return nil
	}
	d := jx.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), 512)
	if err := d.Obj(field); err != nil {
		return errors.Wrap(errMalformed, err.Error())
	}
	return nil
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
		return decimal.Zero, errors.New("expected number")
	}
}

func decodeVariant(d *jx.Decoder) (*cart.Variant, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var v cart.Variant
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name":
			v.Name, err = d.Str()
		case "value":
			v.Value, err = d.Str()
		case "additional_price":
			v.AdditionalPrice, err = decodeDecimal(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeAddress(d *jx.Decoder) (order.Address, error) {
	var a order.Address
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "full_name":
			a.FullName, err = d.Str()
		case "street":
			a.Street, err = d.Str()
		case "city":
			a.City, err = d.Str()
		case "postal_code":
			a.PostalCode, err = d.Str()
		case "country":
			a.Country, err = d.Str()
		case "phone":
			a.Phone, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return a, err
}

func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeOptTime(e *jx.Encoder, field string, t *time.Time) {
	if t == nil {
		return
	}
	e.FieldStart(field)
	encodeTime(e, *t)
}

func encodeVariant(e *jx.Encoder, v *cart.Variant) {
	if v == nil {
		e.Null()
		return
	}
	e.ObjStart()
	e.FieldStart("name")
	e.Str(v.Name)
	e.FieldStart("value")
	e.Str(v.Value)
	e.FieldStart("additional_price")
	encodeMoney(e, v.AdditionalPrice)
	e.ObjEnd()
}

func (h *Handler) image(path string) string {
	if path == "" {
		return ""
	}
	return h.imageBaseURL + path
}

func (h *Handler) encodeProduct(e *jx.Encoder, p *catalog.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("category")
	e.Str(p.Category)
	e.FieldStart("image")
	e.Str(h.image(p.Image))
	e.FieldStart("price")
	encodeMoney(e, p.Price)
	if p.CompareAtPrice.IsPositive() {
		e.FieldStart("compare_at_price")
		encodeMoney(e, p.CompareAtPrice)
	}
	e.FieldStart("stock")
	e.Int(p.Stock)
	e.FieldStart("low_stock")
	e.Bool(p.IsLowStock())
	e.FieldStart("status")
	e.Str(string(p.Status))
	e.ObjEnd()
}

func (h *Handler) encodeCart(e *jx.Encoder, c *cart.Cart) {
	e.ObjStart()
	e.FieldStart("user_id")
	e.Str(c.UserID)
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range c.Items {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Str(it.ProductID)
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("image")
		e.Str(h.image(it.Image))
		e.FieldStart("price")
		encodeMoney(e, it.Price)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("variant")
		encodeVariant(e, it.Variant)
		e.FieldStart("line_total")
		encodeMoney(e, it.UnitPrice().Mul(decimal.NewFromInt(int64(it.Quantity))))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("item_count")
	e.Int(c.ItemCount())
	if c.CouponCode != "" {
		e.FieldStart("coupon_code")
		e.Str(c.CouponCode)
	}
	e.FieldStart("subtotal")
	encodeMoney(e, c.Subtotal)
	e.FieldStart("discount")
	encodeMoney(e, c.Discount)
	e.FieldStart("tax")
	encodeMoney(e, c.Tax)
	e.FieldStart("shipping")
	encodeMoney(e, c.Shipping)
	e.FieldStart("total")
	encodeMoney(e, c.Total)
	e.FieldStart("updated_at")
	encodeTime(e, c.UpdatedAt)
	e.ObjEnd()
}

func encodeIssues(e *jx.Encoder, issues []cart.Issue) {
	e.ArrStart()
	for _, is := range issues {
		e.ObjStart()
		e.FieldStart("kind")
		e.Str(string(is.Kind))
		e.FieldStart("product_id")
		e.Str(is.ProductID)
		if is.Variant != nil {
			e.FieldStart("variant")
			encodeVariant(e, is.Variant)
		}
		e.FieldStart("name")
		e.Str(is.Name)
		switch is.Kind {
		case cart.IssueStockShortfall:
			e.FieldStart("available")
			e.Int(is.Available)
		case cart.IssuePriceChanged:
			e.FieldStart("old_price")
			encodeMoney(e, is.OldPrice)
			e.FieldStart("new_price")
			encodeMoney(e, is.NewPrice)
		}
		e.ObjEnd()
	}
	e.ArrEnd()
}

func (h *Handler) encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("order_number")
	e.Str(o.OrderNumber)
	e.FieldStart("user_id")
	e.Str(o.UserID)
	if o.UserEmail != "" {
		e.FieldStart("user_email")
		e.Str(o.UserEmail)
	}

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Str(it.ProductID)
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("image")
		e.Str(h.image(it.Image))
		e.FieldStart("price")
		encodeMoney(e, it.Price)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		if it.Variant != nil {
			e.FieldStart("variant")
			encodeVariant(e, it.Variant)
		}
		e.ObjEnd()
	}
	e.ArrEnd()

	a := o.ShippingAddress
	e.FieldStart("shipping_address")
	e.ObjStart()
	e.FieldStart("full_name")
	e.Str(a.FullName)
	e.FieldStart("street")
	e.Str(a.Street)
	e.FieldStart("city")
	e.Str(a.City)
	e.FieldStart("postal_code")
	e.Str(a.PostalCode)
	e.FieldStart("country")
	e.Str(a.Country)
	if a.Phone != "" {
		e.FieldStart("phone")
		e.Str(a.Phone)
	}
	e.ObjEnd()

	e.FieldStart("payment_method")
	e.Str(string(o.PaymentMethod))
	if o.CouponCode != "" {
		e.FieldStart("coupon_code")
		e.Str(o.CouponCode)
	}
	e.FieldStart("items_price")
	encodeMoney(e, o.ItemsPrice)
	e.FieldStart("tax_price")
	encodeMoney(e, o.TaxPrice)
	e.FieldStart("shipping_price")
	encodeMoney(e, o.ShippingPrice)
	e.FieldStart("discount_amount")
	encodeMoney(e, o.DiscountAmount)
	e.FieldStart("total_price")
	encodeMoney(e, o.TotalPrice)

	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("is_paid")
	e.Bool(o.IsPaid)
	encodeOptTime(e, "paid_at", o.PaidAt)
	if pr := o.PaymentResult; pr != nil {
		e.FieldStart("payment_result")
		e.ObjStart()
		e.FieldStart("transaction_id")
		e.Str(pr.TransactionID)
		e.FieldStart("status")
		e.Str(pr.Status)
		e.FieldStart("amount")
		encodeMoney(e, pr.Amount)
		e.FieldStart("currency")
		e.Str(pr.Currency)
		e.FieldStart("updated_at")
		encodeTime(e, pr.UpdatedAt)
		e.ObjEnd()
	}
	encodeOptTime(e, "shipped_at", o.ShippedAt)
	if o.TrackingNumber != "" {
		e.FieldStart("tracking_number")
		e.Str(o.TrackingNumber)
	}
	e.FieldStart("is_delivered")
	e.Bool(o.IsDelivered)
	encodeOptTime(e, "delivered_at", o.DeliveredAt)
	encodeOptTime(e, "cancelled_at", o.CancelledAt)
	if o.CancellationReason != "" {
		e.FieldStart("cancellation_reason")
		e.Str(o.CancellationReason)
	}
	encodeOptTime(e, "refunded_at", o.RefundedAt)
	if o.RefundReason != "" {
		e.FieldStart("refund_reason")
		e.Str(o.RefundReason)
	}

	e.FieldStart("status_history")
	e.ArrStart()
	for _, entry := range o.StatusHistory {
		e.ObjStart()
		e.FieldStart("status")
		e.Str(string(entry.Status))
		e.FieldStart("timestamp")
		encodeTime(e, entry.Timestamp)
		e.FieldStart("note")
		e.Str(entry.Note)
		if entry.Actor != "" {
			e.FieldStart("actor")
			e.Str(entry.Actor)
		}
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("created_at")
	encodeTime(e, o.CreatedAt)
	e.FieldStart("updated_at")
	encodeTime(e, o.UpdatedAt)
	e.ObjEnd()
}

func (h *Handler) encodeOrders(e *jx.Encoder, orders []order.Order) {
	e.ArrStart()
	for i := range orders {
		h.encodeOrder(e, &orders[i])
	}
	e.ArrEnd()
}
