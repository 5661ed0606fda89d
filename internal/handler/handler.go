// Package handler exposes the storefront over HTTP: catalog reads, the
// caller's cart and orders, admin order management, and the payment
// gateway webhook.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/order"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in responses.
	// When empty, image paths are returned as stored.
	ImageBaseURL string
	// APIKeyPepper is the HMAC key used to hash webhook API keys.
	APIKeyPepper []byte
	// Authenticated runs after BearerAuth on every user route, so it can
	// read the caller identity (e.g. a per-user rate limit).
	Authenticated []func(http.Handler) http.Handler
}

// Handler serves the REST API, delegating business logic to the domain
// services.
type Handler struct {
	products catalog.Repository
	carts    *cart.Service
	orders   *order.Service
	tokens   *auth.Tokens
	apikeys  auth.Repository

	pepper        []byte
	imageBaseURL  string
	authenticated []func(http.Handler) http.Handler
	now           func() time.Time
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg Config,
	products catalog.Repository,
	carts *cart.Service,
	orders *order.Service,
	tokens *auth.Tokens,
	apikeys auth.Repository,
) *Handler {
	return &Handler{
		products:      products,
		carts:         carts,
		orders:        orders,
		tokens:        tokens,
		apikeys:       apikeys,
		pepper:        cfg.APIKeyPepper,
		imageBaseURL:  cfg.ImageBaseURL,
		authenticated: cfg.Authenticated,
		now:           time.Now,
	}
}

// Routes returns the API router. It is meant to be mounted under /api.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/products", h.ListProducts)
	r.Get("/products/{productId}", h.GetProduct)

	r.With(h.APIKeyAuth(auth.ScopePaymentWebhook)).Post("/payments/webhook", h.PaymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(h.BearerAuth)
		r.Use(h.authenticated...)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Post("/items", h.AddCartItem)
			r.Put("/items/{productId}", h.UpdateCartItem)
			r.Delete("/items/{productId}", h.RemoveCartItem)
			r.Post("/coupon", h.ApplyCoupon)
			r.Delete("/coupon", h.RemoveCoupon)
			r.Get("/validate", h.ValidateCart)
			r.Post("/reconcile", h.ReconcileCart)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/", h.ListMyOrders)
			r.Get("/{orderId}", h.GetOrder)
			r.Post("/{orderId}/cancel", h.CancelOrder)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Get("/orders", h.ListAllOrders)
			r.Post("/orders/{orderId}/ship", h.ShipOrder)
			r.Post("/orders/{orderId}/deliver", h.DeliverOrder)
			r.Post("/orders/{orderId}/refund", h.RefundOrder)
		})
	})

	return r
}
