package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyKey(t *testing.T) {
	ctx := context.Background()
	pepper := []byte("pepper")

	hook := APIKeyInfo{ID: "k1", KeyHash: HashKey(pepper, "secret"), Name: "gateway", Scopes: []string{ScopePaymentWebhook}}
	other := APIKeyInfo{ID: "k2", KeyHash: HashKey(pepper, "reader"), Name: "reader"}
	keys := StaticKeys{hook.KeyHash: hook, other.KeyHash: other}

	info, err := VerifyKey(ctx, keys, pepper, "secret", ScopePaymentWebhook)
	require.NoError(t, err)
	assert.Equal(t, "k1", info.ID)

	_, err = VerifyKey(ctx, keys, pepper, "wrong", ScopePaymentWebhook)
	require.ErrorIs(t, err, ErrKeyNotFound)

	_, err = VerifyKey(ctx, keys, pepper, "", ScopePaymentWebhook)
	require.ErrorIs(t, err, ErrKeyNotFound)

	// Same key, different pepper.
	_, err = VerifyKey(ctx, keys, []byte("other"), "secret", ScopePaymentWebhook)
	require.ErrorIs(t, err, ErrKeyNotFound)

	_, err = VerifyKey(ctx, keys, pepper, "reader", ScopePaymentWebhook)
	require.ErrorIs(t, err, ErrScopeDenied)
}

func TestIdentityContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), Identity{UserID: "u1", Role: RoleAdmin})
	id, ok := FromContext(ctx)
	require.True(t, ok)
	assert.True(t, id.IsAdmin())
	assert.False(t, System.IsAdmin())
}
