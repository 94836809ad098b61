// Package config loads the service configuration from environment variables.
//
// Keys, defaults and types live in struct tags and are decoded with
// envconfig. Load then normalizes free-form values (case, base path, gin
// mode) and validates the whole configuration, reporting every problem at
// once rather than the first one found.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// DefaultSecretKey is the placeholder secret; it is rejected in production.
const DefaultSecretKey = "change-me"

// Config is the complete service configuration.
type Config struct {
	AppName   string `envconfig:"APP_NAME" default:"purchases-api"`
	AppEnv    string `envconfig:"APP_ENV" default:"development"`
	SecretKey string `envconfig:"SECRET_KEY" default:"change-me"` // keys idempotency fingerprints

	APIBasePath    string `envconfig:"API_BASE_PATH" default:"/api/v1"`
	SwaggerEnabled bool   `envconfig:"SWAGGER_ENABLED" default:"false"`

	Server   ServerConfig
	Log      LogConfig
	Store    StoreConfig
	Rate     RateConfig
	CORS     CORSConfig
	Security SecurityConfig
	OTEL     OTELConfig
}

// ServerConfig covers the listener and request size limits.
type ServerConfig struct {
	Port              string        `envconfig:"PORT" default:"8000"`
	GinMode           string        `envconfig:"GIN_MODE" default:"release"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"20s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	MaxBodyBytes      int64         `envconfig:"MAX_BODY_BYTES" default:"1048576"`
}

// LogConfig selects level and format of the zerolog output.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
	Redact bool   `envconfig:"LOG_REDACT" default:"true"` // scrub PII from access logs
}

// StoreConfig picks the purchase store and the idempotency record lifetime.
// The SQLite database at DSN always holds idempotency records; it holds
// purchases only when Driver is StoreSQLite.
type StoreConfig struct {
	Driver         string        `envconfig:"STORE_DRIVER" default:"memory"`
	DSN            string        `envconfig:"DB_DSN" default:"file:purchases?mode=memory&cache=shared"`
	Mutations      bool          `envconfig:"PURCHASE_MUTATIONS" default:"false"` // enables PUT/DELETE /purchases/{id}
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
}

// RateConfig holds the per-client token buckets. Write applies to
// POST/PUT/DELETE on purchases; every other request draws from Read.
type RateConfig struct {
	RPS        float64 `envconfig:"RATE_RPS" default:"5"`
	Burst      int     `envconfig:"RATE_BURST" default:"10"`
	WriteRPS   float64 `envconfig:"WRITE_RATE_RPS" default:"2"`
	WriteBurst int     `envconfig:"WRITE_RATE_BURST" default:"5"`
}

// CORSConfig lists the browser origins allowed to call the API. Empty means
// any origin.
type CORSConfig struct {
	AllowedOrigins Origins `envconfig:"CORS_ALLOWED_ORIGINS"`
}

// SecurityConfig controls HSTS.
type SecurityConfig struct {
	EnableHSTS bool          `envconfig:"ENABLE_HSTS" default:"false"`
	HSTSMaxAge time.Duration `envconfig:"HSTS_MAX_AGE" default:"4320h"`
}

// OTELConfig configures trace export over OTLP/gRPC.
type OTELConfig struct {
	Enabled     bool    `envconfig:"OTEL_ENABLED" default:"false"`
	Endpoint    string  `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	Insecure    bool    `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
	ServiceName string  `envconfig:"OTEL_SERVICE_NAME"` // defaults to AppName
	SampleRatio float64 `envconfig:"OTEL_TRACES_SAMPLER_ARG" default:"1"`
}

// Origins is a comma-separated list with blanks and surrounding space dropped.
type Origins []string

// Decode implements envconfig.Decoder.
func (o *Origins) Decode(v string) error {
	var out Origins
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*o = out
	return nil
}

// MustLoad is Load for main packages: it panics on any error.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load decodes the environment into a Config, normalizes it and validates it.
// A value that does not parse as its field type is an error, never a silent
// fallback to the default.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	cfg.normalize()
	return cfg, cfg.Validate()
}

func (c *Config) normalize() {
	c.AppEnv = strings.ToLower(strings.TrimSpace(c.AppEnv))
	c.APIBasePath = normalizeBasePath(c.APIBasePath)

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "warning" {
		c.Log.Level = "warn"
	}

	c.Server.GinMode = strings.ToLower(strings.TrimSpace(c.Server.GinMode))
	switch c.Server.GinMode {
	case "debug", "release", "test":
	default:
		c.Server.GinMode = "release"
	}

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))

	if strings.TrimSpace(c.OTEL.ServiceName) == "" {
		c.OTEL.ServiceName = c.AppName
	}
}

// Validate reports every invalid setting, joined into one error.
func (c Config) Validate() error {
	var errs []error
	require := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		errs = append(errs, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic"))
	}
	switch c.Store.Driver {
	case StoreMemory, StoreSQLite:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreMemory, StoreSQLite, c.Store.Driver))
	}

	s := c.Server
	require(strings.TrimSpace(s.Port) != "", "PORT must not be empty")
	require(s.ReadTimeout > 0 && s.ReadHeaderTimeout > 0 && s.WriteTimeout > 0 && s.IdleTimeout > 0,
		"server timeouts must be positive")
	require(s.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")
	require(s.MaxBodyBytes > 0, "MAX_BODY_BYTES must be > 0")

	require(strings.TrimSpace(c.SecretKey) != "", "SECRET_KEY must not be empty")
	require(c.AppEnv != "production" || c.SecretKey != DefaultSecretKey, "SECRET_KEY must be set in production")

	require(strings.TrimSpace(c.Store.DSN) != "", "DB_DSN must not be empty")
	require(c.Store.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0")

	require(c.Rate.RPS >= 0 && c.Rate.WriteRPS >= 0, "RATE_RPS and WRITE_RATE_RPS must be >= 0")
	require(c.Rate.Burst >= 1 && c.Rate.WriteBurst >= 1, "RATE_BURST and WRITE_RATE_BURST must be >= 1")

	require(c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	require(c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1], got %v", c.OTEL.SampleRatio)

	return errors.Join(errs...)
}

// normalizeBasePath returns p with one leading slash and no trailing slash;
// blank becomes "/".
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
