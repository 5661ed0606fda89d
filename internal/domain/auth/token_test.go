package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestTokens(t *testing.T, now time.Time) *Tokens {
	t.Helper()
	tokens, err := NewTokens(testSecret, "storefront", time.Hour)
	require.NoError(t, err)
	tokens.now = func() time.Time { return now }
	return tokens
}

func TestTokens_RoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	tokens := newTestTokens(t, now)

	for _, id := range []Identity{
		{UserID: "u1", Email: "u1@example.com", Role: RoleCustomer},
		{UserID: "admin", Role: RoleAdmin},
	} {
		raw, err := tokens.Issue(id)
		require.NoError(t, err)

		got, err := tokens.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
}

func TestTokens_Rejects(t *testing.T) {
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	tokens := newTestTokens(t, now)

	sign := func(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
		t.Helper()
		raw, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return raw
	}
	valid := func() Claims {
		return Claims{
			Role: RoleCustomer,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "u1",
				Issuer:    "storefront",
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
			},
		}
	}

	for _, tt := range []struct {
		name string
		raw  func(t *testing.T) string
	}{
		{"Garbage", func(*testing.T) string { return "not.a.token" }},
		{"WrongSecret", func(t *testing.T) string {
			return sign(t, jwt.SigningMethodHS256, []byte("another-secret-of-32-bytes-long!"), valid())
		}},
		{"NoneAlgorithm", func(t *testing.T) string {
			return sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid())
		}},
		{"Expired", func(t *testing.T) string {
			c := valid()
			c.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
			return sign(t, jwt.SigningMethodHS256, testSecret, c)
		}},
		{"NoExpiry", func(t *testing.T) string {
			c := valid()
			c.ExpiresAt = nil
			return sign(t, jwt.SigningMethodHS256, testSecret, c)
		}},
		{"WrongIssuer", func(t *testing.T) string {
			c := valid()
			c.Issuer = "elsewhere"
			return sign(t, jwt.SigningMethodHS256, testSecret, c)
		}},
		{"NoSubject", func(t *testing.T) string {
			c := valid()
			c.Subject = ""
			return sign(t, jwt.SigningMethodHS256, testSecret, c)
		}},
		{"SystemRole", func(t *testing.T) string {
			c := valid()
			c.Role = RoleSystem
			return sign(t, jwt.SigningMethodHS256, testSecret, c)
		}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tokens.Parse(tt.raw(t))
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestTokens_DefaultRole(t *testing.T) {
	now := time.Now()
	tokens := newTestTokens(t, now)

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "storefront",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}).SignedString(testSecret)
	require.NoError(t, err)

	id, err := tokens.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, RoleCustomer, id.Role)
}

func TestNewTokens_ShortSecret(t *testing.T) {
	_, err := NewTokens([]byte("short"), "", 0)
	require.Error(t, err)
}
