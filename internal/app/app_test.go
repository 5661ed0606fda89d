package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/order"
)

type noopTelemetry struct{}

func (noopTelemetry) TracerProvider() trace.TracerProvider { return tracenoop.NewTracerProvider() }
func (noopTelemetry) MeterProvider() metric.MeterProvider  { return metricnoop.NewMeterProvider() }

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

type client struct {
	t     *testing.T
	base  string
	token string
}

func (c client) do(method, path, body string, header http.Header) (int, map[string]any) {
	c.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, c.base+path, r)
	require.NoError(c.t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(c.t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestRun_MemoryStore(t *testing.T) {
	cfg := &Config{
		Addr:         freeAddr(t),
		Store:        StoreMemory,
		APIKeyPepper: "pepper",
		WebhookKey:   "hook-secret",
		JWT:          JWTConfig{Secret: "0123456789abcdef0123456789abcdef", Issuer: "storefront", TTL: time.Hour},
		Outbox:       OutboxConfig{Interval: 10 * time.Millisecond, BatchSize: 10},
		Carts:        CartsConfig{PurgeInterval: time.Hour},
		RateLimit:    RateLimitConfig{Max: 1000, Window: time.Minute},
		CORS:         CORSConfig{Origins: []string{"*"}},
		Graceful:     GracefulConfig{ShutdownTimeout: 5 * time.Second},
	}
	require.NoError(t, cfg.Validate())

	core, logs := observer.New(zapcore.InfoLevel)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, zap.New(core), noopTelemetry{}, cfg) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("Run did not stop")
		}
	})

	anon := client{t: t, base: "http://" + cfg.Addr}
	require.Eventually(t, func() bool {
		resp, err := http.Get(anon.base + "/readyz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	code, _ := anon.do(http.MethodGet, "/livez", "", nil)
	assert.Equal(t, http.StatusOK, code)

	code, body := anon.do(http.MethodGet, "/api/products/1", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Wireless Headphones", body["name"])

	code, _ = anon.do(http.MethodGet, "/api/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	tokens, err := auth.NewTokens([]byte(cfg.JWT.Secret), cfg.JWT.Issuer, cfg.JWT.TTL)
	require.NoError(t, err)
	token, err := tokens.Issue(auth.Identity{UserID: "u1", Email: "u1@example.com", Role: auth.RoleCustomer})
	require.NoError(t, err)
	user := client{t: t, base: anon.base, token: token}

	code, _ = user.do(http.MethodPost, "/api/cart/items", `{"product_id":"1","quantity":1}`, nil)
	require.Equal(t, http.StatusOK, code)
	code, body = user.do(http.MethodPost, "/api/cart/coupon", `{"code":"SAVE10"}`, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 68.8, body["total"])

	code, body = user.do(http.MethodPost, "/api/orders",
		`{"from_cart":true,"payment_method":"card","shipping_address":{"full_name":"Jane Doe","street":"1 Main St","city":"Springfield","postal_code":"12345","country":"US"}}`, nil)
	require.Equal(t, http.StatusCreated, code)
	id := body["id"].(string)

	hook := `{"order_id":"` + id + `","transaction_id":"txn-1","status":"succeeded","amount":"68.80","currency":"USD"}`
	code, body = anon.do(http.MethodPost, "/api/payments/webhook", hook, http.Header{"X-Api-Key": {"hook-secret"}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(order.StatusProcessing), body["status"])

	// Both events reach the log publisher through the outbox relay.
	require.Eventually(t, func() bool {
		return logs.FilterMessage("Order event").Len() >= 2
	}, 5*time.Second, 20*time.Millisecond)
	events := logs.FilterMessage("Order event").All()
	assert.Equal(t, order.EventCreated, events[0].ContextMap()["type"])
	assert.Equal(t, order.EventStatusChanged, events[1].ContextMap()["type"])
}
