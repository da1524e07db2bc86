package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (BOOKSTORE_ prefix), a .env file, flags, or YAML
// config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"HTTP listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (BOOKSTORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	AutoMigrate  bool   `default:"true" usage:"Apply pending migrations on start" flag:"auto-migrate"`
	RedisURL     string `usage:"Redis URL for sessions and rate limits; empty keeps both in memory" flag:"redis-url"`
	APIKeyPepper string `usage:"HMAC pepper for staff API key hashing" flag:"api-key-pepper"`
	Session      SessionConfig
	Kafka        KafkaConfig
	Auth         AuthConfig
	Upload       UploadConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// SessionConfig controls the session cookie.
type SessionConfig struct {
	CookieName string        `default:"sessionid" usage:"Session cookie name" flag:"session-cookie"`
	TTL        time.Duration `default:"336h" usage:"Session lifetime after last activity" flag:"session-ttl"`
	Secure     bool          `default:"false" usage:"Mark the session cookie Secure" flag:"session-secure"`
}

// KafkaConfig configures order event publishing. Without brokers events are
// dropped.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers" flag:"kafka-brokers"`
	Topic   string   `default:"bookstore.orders" usage:"Topic for order events" flag:"kafka-topic"`
	Buffer  int      `default:"256" usage:"Pending events kept in memory" flag:"kafka-buffer"`
}

// AuthConfig configures password reset links.
type AuthConfig struct {
	ResetSecret string        `usage:"Secret signing password reset tokens" flag:"reset-secret"`
	ResetTTL    time.Duration `default:"72h" usage:"Password reset link lifetime" flag:"reset-ttl"`
	BaseURL     string        `default:"http://localhost:8080" usage:"Public base URL used in reset links" flag:"base-url"`
}

// UploadConfig limits return request attachments.
type UploadConfig struct {
	MaxBytes int64 `default:"5242880" usage:"Maximum attachment size in bytes" flag:"upload-max-bytes"`
}

// RateLimitConfig controls the per-client fixed window rate limiter applied to
// mutating requests.
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

// LoadConfig loads configuration from a .env file, environment variables and
// YAML config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(false)
}

func loadConfig(skipFlags bool) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "BOOKSTORE",
		SkipFlags: skipFlags,
		Files:     []string{"config.yaml", "/etc/bookstore/config.yaml"},
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
		return errors.New("database URL is required: set BOOKSTORE_DATABASE_URL or DATABASE_URL")
	case c.Auth.ResetSecret == "":
		return errors.New("reset secret is required: set BOOKSTORE_AUTH_RESET_SECRET")
	case c.APIKeyPepper == "":
		return errors.New("api key pepper is required: set BOOKSTORE_API_KEY_PEPPER")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's BOOKSTORE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
