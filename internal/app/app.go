// Package app wires configuration, storage, domain services and transports
// into the running storefront service.
package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/handler"
	kafkamsg "github.com/xenking/storefront/internal/messaging/kafka"
	"github.com/xenking/storefront/internal/outbox"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Telemetry provides the OpenTelemetry providers. Implemented by
// *app.Telemetry from go-faster/sdk.
type Telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

var _ Telemetry = (*app.Telemetry)(nil)

// Run creates all dependencies, starts the HTTP server and background
// workers, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.String("store", cfg.Store))
	ctx = zctx.Base(ctx, lg)

	st, err := openStores(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "open stores")
	}
	defer st.Close()

	// Health check service.
	healthSvc := health.New()
	for name, check := range st.readiness {
		healthSvc.AddReadinessCheck(name, 5*time.Second, check)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		healthSvc.AddReadinessCheck("kafka", 5*time.Second, kafkaCheck(cfg.Kafka.Brokers[0]))
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)

	// Domain services.
	resolver := coupon.NewRepoResolver(st.coupons)
	carts := cart.NewService(st.carts, st.products, resolver, pricing.DefaultPolicy)
	orderOpts := []order.Option{
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	}
	if st.couponRedeemed != nil {
		orderOpts = append(orderOpts, order.WithCouponRedeemed(st.couponRedeemed))
	}
	orders, err := order.NewService(st.orders, st.products, st.carts, resolver, pricing.DefaultPolicy, orderOpts...)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	tokens, err := auth.NewTokens([]byte(cfg.JWT.Secret), cfg.JWT.Issuer, cfg.JWT.TTL)
	if err != nil {
		return errors.Wrap(err, "create token verifier")
	}

	// HTTP handlers.
	h := handler.NewHandler(
		handler.Config{
			ImageBaseURL: cfg.ImageBaseURL,
			APIKeyPepper: []byte(cfg.APIKeyPepper),
			Authenticated: []func(http.Handler) http.Handler{
				httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
					Max:     cfg.RateLimit.Max,
					Window:  cfg.RateLimit.Window,
					KeyFunc: handler.RateLimitKey,
				}),
			},
		},
		st.products, carts, orders, tokens, st.apikeys,
	)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(newRouter(ctx, cfg, h, healthSvc),
			httpmiddleware.Instrument("storefront-api", m.TracerProvider(), m.MeterProvider()),
		),
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return errors.Wrap(err, "listen")
	}

	// Outbox relay: Kafka when brokers are configured, the log otherwise.
	var publisher outbox.Publisher = outbox.LogPublisher{}
	var consumer *kafkamsg.PaymentConsumer
	if len(cfg.Kafka.Brokers) > 0 {
		kcfg := kafkamsg.Config{
			Brokers:       cfg.Kafka.Brokers,
			OrdersTopic:   cfg.Kafka.OrdersTopic,
			PaymentsTopic: cfg.Kafka.PaymentsTopic,
			GroupID:       cfg.Kafka.GroupID,
		}
		kp := kafkamsg.NewPublisher(kcfg)
		defer func() { _ = kp.Close() }()
		publisher = kp
		consumer = kafkamsg.NewPaymentConsumer(kcfg, orders)
		lg.Info("Kafka enabled", zap.Strings("brokers", cfg.Kafka.Brokers))
	}
	relay := outbox.NewRelay(st.outbox, publisher, outbox.Config{
		Interval:  cfg.Outbox.Interval,
		BatchSize: cfg.Outbox.BatchSize,
	})

	workers, workersCtx := errgroup.WithContext(ctx)
	workers.Go(func() error {
		return relay.Run(workersCtx)
	})
	if consumer != nil {
		workers.Go(func() error {
			return consumer.Run(workersCtx)
		})
	}
	if cfg.Carts.PurgeInterval > 0 {
		workers.Go(func() error {
			return purgeCarts(workersCtx, carts, cfg.Carts.PurgeInterval)
		})
	}

	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-workersCtx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		if ctx.Err() != nil {
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
	}()

	lg.Info("Server listening", zap.Stringer("addr", ln.Addr()))
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone

	if err := workers.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "workers")
	}
	return nil
}

// newRouter mounts the API and health probes behind the shared middleware.
// Route-aware middleware runs inside chi so it sees the matched pattern.
func newRouter(ctx context.Context, cfg *Config, h *handler.Handler, healthSvc *health.Health) http.Handler {
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.Recovery(),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", "api_key", httpmiddleware.HeaderRequestID},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
			Skip:   isProbe,
		}),
		httpmiddleware.LogRequests(),
		httpmiddleware.Labeler(),
	)
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	r.Mount("/api", h.Routes())
	return r
}

func isProbe(r *http.Request) bool {
	return r.URL.Path == "/livez" || r.URL.Path == "/readyz"
}

func kafkaCheck(broker string) health.CheckFunc {
	return health.DialCheck(func(ctx context.Context) (interface{ Close() error }, error) {
		return kafka.DialContext(ctx, "tcp", broker)
	})
}

// purgeCarts deletes abandoned carts every interval until ctx is done.
func purgeCarts(ctx context.Context, carts *cart.Service, interval time.Duration) error {
	lg := zctx.From(ctx).Named("carts")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		n, err := carts.PurgeAbandoned(ctx)
		if err != nil {
			lg.Warn("Purge abandoned carts", zap.Error(err))
			continue
		}
		if n > 0 {
			lg.Info("Purged abandoned carts", zap.Int("count", n))
		}
	}
}
