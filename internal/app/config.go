package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/shipping"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	ImageBaseURL string `default:"" usage:"Base URL for product images (e.g. https://cdn.example.com/images/)" flag:"image-base-url"`
	Storage      StorageConfig
	Auth         AuthConfig
	Payment      PaymentConfig
	Shipping     ShippingConfig
	Order        OrderConfig
	Notify       NotifyConfig
	Events       EventsConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver        string `default:"postgres" usage:"Storage driver: postgres or mongo"`
	DatabaseURL   string `usage:"PostgreSQL connection URL (KART_STORAGE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	MongoURI      string `usage:"MongoDB connection URI (KART_STORAGE_MONGO_URI or MONGODB_URI)" flag:"mongo-uri"`
	MongoDatabase string `default:"kart" usage:"MongoDB database name" flag:"mongo-database"`
}

// AuthConfig controls API key hashing and session tokens.
type AuthConfig struct {
	JWTSecret    string        `usage:"HMAC secret for access tokens" flag:"jwt-secret"`
	AccessTTL    time.Duration `default:"15m" usage:"Access token lifetime"`
	RefreshTTL   time.Duration `default:"720h" usage:"Refresh token and session lifetime"`
	APIKeyPepper string        `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
}

// PaymentConfig selects the online payment gateway.
type PaymentConfig struct {
	Provider  string `default:"none" usage:"Payment provider: razorpay or none"`
	KeyID     string `usage:"Razorpay key id"`
	KeySecret string `usage:"Razorpay key secret"`
	Currency  string `default:"INR" usage:"Currency passed to the gateway"`
}

// ShippingConfig controls distance based shipping.
type ShippingConfig struct {
	Enabled             bool          `default:"false" usage:"Price shipping by driving distance"`
	MapboxToken         string        `usage:"Mapbox access token"`
	MapboxBaseURL       string        `usage:"Override the Mapbox API base URL"`
	StoreLat            float64       `default:"12.9716" usage:"Store latitude"`
	StoreLng            float64       `default:"77.5946" usage:"Store longitude"`
	Rates               string        `usage:"Per-km rate table, e.g. 5:2,10:4,+:15"`
	Tiers               string        `usage:"Distance tier names, e.g. 5:Short Distance,+:Remote Area"`
	MinCharge           string        `default:"40" usage:"Lowest shipping charge"`
	PostalRanges        string        `usage:"Serviceable postal code ranges, e.g. 560001-560110"`
	ExcludedPostalCodes string        `usage:"Postal codes excluded from the ranges"`
	Country             string        `default:"India" usage:"Country appended to geocoding queries"`
	LookupTimeout       time.Duration `default:"8s" usage:"Timeout of each Mapbox lookup"`
}

// OrderConfig controls order defaults.
type OrderConfig struct {
	EstimateWindow time.Duration `default:"240h" usage:"Delivery estimate added to the order date"`
}

// NotifyConfig controls order emails.
type NotifyConfig struct {
	Enabled        bool          `default:"false" usage:"Send order notifications"`
	SMTPHost       string        `usage:"SMTP host; notifications are logged when empty"`
	SMTPPort       int           `default:"587" usage:"SMTP port"`
	Username       string        `usage:"SMTP username"`
	Password       string        `usage:"SMTP password"`
	From           string        `usage:"Sender address"`
	QueueSize      int           `default:"256" usage:"Pending notification queue size"`
	Workers        int           `default:"2" usage:"Delivery workers"`
	MaxRetries     uint          `default:"4" usage:"Delivery attempts per notification"`
	InitialBackoff time.Duration `default:"500ms" usage:"First retry delay"`
}

// EventsConfig controls order event publishing. No brokers disables it.
type EventsConfig struct {
	Brokers []string `usage:"Kafka seed brokers"`
	Topic   string   `default:"kart.orders" usage:"Order events topic"`
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

// LoadConfig loads an optional .env file, then configuration from
// environment variables, flags and YAML files, applies platform defaults and
// validates the result.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KART",
		Files:     []string{"config.yaml", "/etc/kart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's KART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Storage.DatabaseURL == "" {
		c.Storage.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Storage.MongoURI == "" {
		c.Storage.MongoURI = os.Getenv("MONGODB_URI")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

// Validate reports the first configuration problem.
func (c *Config) Validate() error {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return errors.New("database URL is required: set KART_STORAGE_DATABASE_URL or DATABASE_URL")
		}
	case "mongo":
		if c.Storage.MongoURI == "" {
			return errors.New("mongo URI is required: set KART_STORAGE_MONGO_URI or MONGODB_URI")
		}
		if c.Storage.MongoDatabase == "" {
			return errors.New("mongo database name is required")
		}
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("JWT secret is required: set KART_AUTH_JWT_SECRET")
	}
	if c.Auth.APIKeyPepper == "" {
		return errors.New("API key pepper is required: set KART_AUTH_API_KEY_PEPPER")
	}

	c.Payment.Provider = strings.ToLower(strings.TrimSpace(c.Payment.Provider))
	switch c.Payment.Provider {
	case "none", "":
		c.Payment.Provider = "none"
	case "razorpay":
		if c.Payment.KeyID == "" || c.Payment.KeySecret == "" {
			return errors.New("razorpay key id and secret are required")
		}
	default:
		return errors.Errorf("unknown payment provider %q", c.Payment.Provider)
	}

	if c.Shipping.Enabled {
		if c.Shipping.MapboxToken == "" {
			return errors.New("mapbox token is required when shipping is enabled")
		}
		if _, err := c.Shipping.estimatorConfig(); err != nil {
			return errors.Wrap(err, "shipping")
		}
	}

	if c.Notify.Enabled && c.Notify.SMTPHost != "" && c.Notify.From == "" {
		return errors.New("notification sender address is required with SMTP")
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

// estimatorConfig parses the shipping tables. Empty tables take the
// estimator defaults.
func (c ShippingConfig) estimatorConfig() (shipping.Config, error) {
	out := shipping.Config{
		Store:         shipping.Coordinate{Lat: c.StoreLat, Lng: c.StoreLng},
		LookupTimeout: c.LookupTimeout,
		Country:       c.Country,
	}
	if c.Rates != "" {
		t, err := shipping.ParseRateTable(c.Rates)
		if err != nil {
			return out, errors.Wrap(err, "rates")
		}
		out.Rates = t
	}
	if c.Tiers != "" {
		t, err := shipping.ParseTierTable(c.Tiers)
		if err != nil {
			return out, errors.Wrap(err, "tiers")
		}
		out.Tiers = t
	}
	if c.PostalRanges != "" || c.ExcludedPostalCodes != "" {
		ranges := c.PostalRanges
		if ranges == "" {
			ranges = shipping.DefaultPostalRanges
		}
		r, err := shipping.ParseRegion(ranges, c.ExcludedPostalCodes)
		if err != nil {
			return out, errors.Wrap(err, "postal ranges")
		}
		out.Region = r
	}
	if c.MinCharge != "" {
		d, err := decimal.NewFromString(c.MinCharge)
		if err != nil || d.IsNegative() {
			return out, errors.Errorf("min charge %q must be a non-negative number", c.MinCharge)
		}
		out.MinCharge = d
	}
	return out, nil
}
