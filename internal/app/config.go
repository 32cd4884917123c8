package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/techshop/storefront/internal/imagehost"
	"github.com/techshop/storefront/internal/payment"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	ImageBaseURL string `default:"" usage:"Base URL for product images (e.g. https://cdn.example.com/images)" flag:"image-base-url"`

	Mongo     MongoConfig
	Redis     RedisConfig
	AMQP      AMQPConfig
	JWT       JWTConfig
	Payment   payment.Config
	ImageHost imagehost.Config
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// MongoConfig holds the document store connection settings.
type MongoConfig struct {
	URI      string `usage:"MongoDB connection URI (SHOP_MONGO_URI or MONGO_URI)" flag:"mongo-uri"`
	Database string `default:"storefront" usage:"MongoDB database name" flag:"mongo-database"`
}

// RedisConfig holds the cache connection settings.
type RedisConfig struct {
	Addr     string        `default:"" usage:"Redis address; empty disables the tree cache" flag:"redis-addr"`
	Password string        `default:"" usage:"Redis password" flag:"redis-password"`
	DB       int           `default:"0" usage:"Redis database number" flag:"redis-db"`
	TreeTTL  time.Duration `default:"10m" usage:"Category tree cache TTL" flag:"redis-tree-ttl"`
}

// AMQPConfig holds the notification broker settings.
type AMQPConfig struct {
	URL      string `default:"" usage:"AMQP broker URL; empty stores notifications without publishing" flag:"amqp-url"`
	Exchange string `default:"shop.notifications" usage:"Topic exchange for notifications" flag:"amqp-exchange"`
}

// JWTConfig holds bearer-token verification settings.
type JWTConfig struct {
	Secret string `usage:"HMAC secret for bearer token verification (SHOP_JWT_SECRET)" flag:"jwt-secret"`
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

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.Mongo.URI == "" {
		return nil, errors.New("mongo URI is required: set SHOP_MONGO_URI or MONGO_URI")
	}
	if cfg.JWT.Secret == "" {
		return nil, errors.New("JWT secret is required: set SHOP_JWT_SECRET")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like MONGO_URI and PORT
// to the application's SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Mongo.URI == "" {
		if v := os.Getenv("MONGO_URI"); v != "" {
			c.Mongo.URI = v
		}
	}
	if c.Redis.Addr == "" {
		if v := os.Getenv("REDIS_ADDR"); v != "" {
			c.Redis.Addr = v
		}
	}
	if c.AMQP.URL == "" {
		if v := os.Getenv("AMQP_URL"); v != "" {
			c.AMQP.URL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
