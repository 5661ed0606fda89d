package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"
)

var (
	// ErrKeyNotFound is returned by a Repository for unknown or revoked keys.
	ErrKeyNotFound = errors.New("api key not found")
	// ErrScopeDenied is returned when a valid key lacks the required scope.
	ErrScopeDenied = errors.New("api key scope denied")
)

// ScopePaymentWebhook allows posting payment gateway callbacks.
const ScopePaymentWebhook = "payment_webhook"

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key grants scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashKey returns the hex HMAC-SHA256 of key under pepper. Only hashes are
// stored; the raw key is shown to its owner once.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyKey resolves a raw API key and checks that it grants scope.
func VerifyKey(ctx context.Context, repo Repository, pepper []byte, key, scope string) (*APIKeyInfo, error) {
	if key == "" {
		return nil, ErrKeyNotFound
	}
	hash := HashKey(pepper, key)

	info, err := repo.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	// The lookup is by hash; compare again in constant time in case the
	// repository matched loosely.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, ErrKeyNotFound
	}
	computed, _ := hex.DecodeString(hash)
	if subtle.ConstantTimeCompare(computed, stored) != 1 {
		return nil, ErrKeyNotFound
	}
	if !info.HasScope(scope) {
		return nil, errors.Wrapf(ErrScopeDenied, "key %s lacks %s", info.ID, scope)
	}
	return info, nil
}

// StaticKeys is an in-memory Repository keyed by hash.
type StaticKeys map[string]APIKeyInfo

// FindByHash implements Repository.
func (s StaticKeys) FindByHash(_ context.Context, hash string) (*APIKeyInfo, error) {
	info, ok := s[hash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return &info, nil
}
