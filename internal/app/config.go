package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (STORE_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Auth        AuthConfig
	Payment     PaymentConfig
	Shipping    ShippingConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// AuthConfig configures session token verification.
type AuthConfig struct {
	JWTSecret  string `env:"JWT_SECRET" usage:"HS256 secret shared with the session issuer" flag:"jwt-secret"`
	CookieName string `default:"token" usage:"Session cookie name"`
}

// PaymentConfig configures the payment provider.
type PaymentConfig struct {
	APIURL         string        `env:"API_URL" default:"https://appws.picpay.com/ecommerce/public" usage:"Payment provider API base URL"`
	Token          string        `usage:"Payment provider API token"`
	SellerToken    string        `usage:"Payment provider seller token"`
	CallbackSecret string        `usage:"Shared secret expected on payment callbacks" flag:"callback-secret"`
	CallbackURL    string        `usage:"Public URL of POST /api/payments/callback"`
	ReturnURL      string        `usage:"URL the buyer returns to after paying"`
	Timeout        time.Duration `default:"10s" usage:"Payment provider call timeout"`
}

// ShippingConfig configures the carrier rate service. Quotes are disabled
// when URL is empty.
type ShippingConfig struct {
	URL             string        `usage:"Carrier rate service base URL"`
	OriginZipCode   string        `default:"57000000" usage:"Origin zip code of parcels"`
	FreeShippingMin string        `default:"150.00" usage:"Subtotal from which shipping is free"`
	Timeout         time.Duration `default:"5s" usage:"Carrier call timeout"`
}

// RedisConfig configures the idempotency store. Idempotency keys are
// ignored when Addr is empty.
type RedisConfig struct {
	Addr     string        `usage:"Redis address (host:port)"`
	Password string        `usage:"Redis password"`
	DB       int           `default:"0" usage:"Redis database"`
	TTL      time.Duration `default:"24h" usage:"Idempotency record lifetime"`
}

// KafkaConfig configures order event publishing. Events are dropped when no
// brokers are set.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka broker addresses"`
	Topic   string   `default:"storefront.orders" usage:"Order events topic"`
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
		EnvPrefix: "STORE",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set STORE_DATABASE_URL or DATABASE_URL")
	case c.Auth.JWTSecret == "":
		return errors.New("JWT secret is required: set STORE_AUTH_JWT_SECRET")
	case c.Payment.CallbackSecret == "":
		return errors.New("payment callback secret is required: set STORE_PAYMENT_CALLBACK_SECRET")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's STORE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
