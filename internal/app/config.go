package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Storage backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Store        string `default:"postgres" usage:"Storage backend: memory or postgres"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for product images" flag:"image-base-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	// WebhookKey is accepted for the payment webhook in memory mode, where
	// no API key table exists.
	WebhookKey string `usage:"Payment webhook API key for store=memory" flag:"webhook-key"`

	JWT       JWTConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Outbox    OutboxConfig
	Carts     CartsConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// JWTConfig controls bearer token verification.
type JWTConfig struct {
	Secret string        `usage:"HS256 signing secret, at least 16 bytes"`
	Issuer string        `default:"storefront" usage:"Expected token issuer"`
	TTL    time.Duration `default:"24h" usage:"Lifetime of issued tokens"`
}

// RedisConfig enables the coupon cache when Addr is set.
type RedisConfig struct {
	Addr     string        `usage:"Redis address (host:port); empty disables the coupon cache"`
	Password string        `usage:"Redis password"`
	DB       int           `default:"0" usage:"Redis database number"`
	TTL      time.Duration `default:"1m" usage:"Coupon cache entry lifetime"`
}

// KafkaConfig enables event publishing and payment consumption when
// Brokers is set.
type KafkaConfig struct {
	Brokers       []string `usage:"Kafka bootstrap brokers; empty logs events instead"`
	OrdersTopic   string   `default:"orders.events" usage:"Topic for order events" flag:"kafka-orders-topic"`
	PaymentsTopic string   `default:"payments.events" usage:"Topic with payment gateway events" flag:"kafka-payments-topic"`
	GroupID       string   `default:"storefront" usage:"Consumer group for payment events" flag:"kafka-group-id"`
}

// OutboxConfig controls the outbox relay.
type OutboxConfig struct {
	Interval  time.Duration `default:"1s" usage:"Outbox poll interval" flag:"outbox-interval"`
	BatchSize int           `default:"100" usage:"Events published per batch" flag:"outbox-batch"`
}

// CartsConfig controls abandoned cart cleanup.
type CartsConfig struct {
	PurgeInterval time.Duration `default:"1h" usage:"How often abandoned carts are purged; 0 disables" flag:"cart-purge-interval"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
		}
	default:
		return errors.Errorf("unknown store %q", c.Store)
	}
	if len(c.JWT.Secret) < 16 {
		return errors.New("JWT secret is required: set SHOP_JWT_SECRET (at least 16 bytes)")
	}
	if c.APIKeyPepper == "" {
		return errors.New("API key pepper is required: set SHOP_API_KEY_PEPPER")
	}
	if c.Outbox.Interval <= 0 {
		return errors.New("outbox interval must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables that
// use standard names like DATABASE_URL and PORT to the application's
// SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults(getenv func(string) string) {
	if c.DatabaseURL == "" {
		c.DatabaseURL = getenv("DATABASE_URL")
	}
	if port := getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
