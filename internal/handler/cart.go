package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/cart"
)

func (h *Handler) respondCart(w http.ResponseWriter, r *http.Request, c *cart.Cart, err error) {
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		h.encodeCart(e, c)
	})
}

// GetCart returns the caller's cart, creating it on first access.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Get(r.Context(), identity(r).UserID)
	h.respondCart(w, r, c, err)
}

// AddCartItem adds a product line or increases the quantity of an
// existing one.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var (
		productID string
		quantity  = 1
		variant   *cart.Variant
	)
	if err := decodeBody(w, r, false, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_id":
			productID, err = d.Str()
		case "quantity":
			quantity, err = d.Int()
		case "variant":
			variant, err = decodeVariant(d)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		fail(w, r, err)
		return
	}
	if productID == "" {
		writeError(w, http.StatusBadRequest, "product_id is required")
		return
	}

	c, err := h.carts.AddItem(r.Context(), identity(r).UserID, productID, quantity, variant)
	h.respondCart(w, r, c, err)
}

// UpdateCartItem sets the quantity of a line. Zero removes it.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var (
		quantity    int
		hasQuantity bool
		variant     *cart.Variant
	)
	if err := decodeBody(w, r, false, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "quantity":
			quantity, err = d.Int()
			hasQuantity = true
		case "variant":
			variant, err = decodeVariant(d)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		fail(w, r, err)
		return
	}
	if !hasQuantity {
		writeError(w, http.StatusBadRequest, "quantity is required")
		return
	}

	c, err := h.carts.UpdateQuantity(r.Context(), identity(r).UserID, chi.URLParam(r, "productId"), quantity, variant)
	h.respondCart(w, r, c, err)
}

// RemoveCartItem deletes a line. The variant, if any, is selected with the
// variant_name and variant_value query parameters.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	var variant *cart.Variant
	q := r.URL.Query()
	if name := q.Get("variant_name"); name != "" {
		variant = &cart.Variant{Name: name, Value: q.Get("variant_value")}
	}
	c, err := h.carts.RemoveItem(r.Context(), identity(r).UserID, chi.URLParam(r, "productId"), variant)
	h.respondCart(w, r, c, err)
}

// ClearCart empties the caller's cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Clear(r.Context(), identity(r).UserID)
	h.respondCart(w, r, c, err)
}

// ApplyCoupon attaches a coupon code to the cart.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var code string
	if err := decodeBody(w, r, false, func(d *jx.Decoder, key string) error {
		if key == "code" {
			var err error
			code, err = d.Str()
			return err
		}
		return d.Skip()
	}); err != nil {
		fail(w, r, err)
		return
	}
	if code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	c, err := h.carts.ApplyCoupon(r.Context(), identity(r).UserID, code)
	h.respondCart(w, r, c, err)
}

// RemoveCoupon detaches the coupon from the cart.
func (h *Handler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.RemoveCoupon(r.Context(), identity(r).UserID)
	h.respondCart(w, r, c, err)
}

// ValidateCart reports lines that no longer match the catalog without
// changing the cart.
func (h *Handler) ValidateCart(w http.ResponseWriter, r *http.Request) {
	issues, err := h.carts.Validate(r.Context(), identity(r).UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("valid")
		e.Bool(len(issues) == 0)
		e.FieldStart("issues")
		encodeIssues(e, issues)
		e.ObjEnd()
	})
}

// ReconcileCart fixes the issues Validate would report and returns the
// updated cart with the list of changes.
func (h *Handler) ReconcileCart(w http.ResponseWriter, r *http.Request) {
	c, issues, err := h.carts.Reconcile(r.Context(), identity(r).UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("cart")
		h.encodeCart(e, c)
		e.FieldStart("issues")
		encodeIssues(e, issues)
		e.ObjEnd()
	})
}
