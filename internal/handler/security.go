package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// BearerAuth authenticates end users by an HS256 bearer token and stores
// the resulting identity in the request context.
func (h *Handler) BearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="storefront"`)
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		id, err := h.tokens.Parse(raw)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="storefront", error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		ctx := auth.WithIdentity(r.Context(), id)
		ctx = zctx.With(ctx, zap.String("user_id", id.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects callers without the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if !ok || !id.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// APIKeyAuth authenticates machine clients by the api_key header. Keys are
// matched by their peppered HMAC-SHA256 hash and must grant scope.
func (h *Handler) APIKeyAuth(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("api_key")
			if key == "" {
				key = r.Header.Get("X-API-Key")
			}

			info, err := auth.VerifyKey(r.Context(), h.apikeys, h.pepper, key, scope)
			switch {
			case err == nil:
			case errors.Is(err, auth.ErrScopeDenied):
				writeError(w, http.StatusForbidden, "api key not allowed")
				return
			case errors.Is(err, auth.ErrKeyNotFound):
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			default:
				zctx.From(r.Context()).Error("API key lookup failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}

			ctx := zctx.With(r.Context(), zap.String("api_key_id", info.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// identity returns the caller set by BearerAuth.
func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

// RateLimitKey keys authenticated requests by user and falls back to the
// client address.
func RateLimitKey(r *http.Request) string {
	if id, ok := auth.FromContext(r.Context()); ok {
		return "user:" + id.UserID
	}
	return httpmiddleware.ClientIP(r)
}
