package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"APP_NAME", "APP_ENV", "SECRET_KEY", "API_BASE_PATH", "SWAGGER_ENABLED",
	"PORT", "GIN_MODE", "READ_TIMEOUT", "READ_HEADER_TIMEOUT", "WRITE_TIMEOUT",
	"IDLE_TIMEOUT", "MAX_HEADER_BYTES", "MAX_BODY_BYTES",
	"LOG_LEVEL", "LOG_PRETTY", "LOG_REDACT",
	"STORE_DRIVER", "DB_DSN", "PURCHASE_MUTATIONS", "IDEMPOTENCY_TTL",
	"RATE_RPS", "RATE_BURST", "WRITE_RATE_RPS", "WRITE_RATE_BURST",
	"CORS_ALLOWED_ORIGINS", "ENABLE_HSTS", "HSTS_MAX_AGE",
	"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE",
	"OTEL_SERVICE_NAME", "OTEL_TRACES_SAMPLER_ARG",
}

// cleanEnv unsets every key Load reads and restores them after the test.
func cleanEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func validConfig(t *testing.T) Config {
	t.Helper()
	cleanEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := validConfig(t)

	assert.Equal(t, "purchases-api", cfg.AppName)
	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, DefaultSecretKey, cfg.SecretKey)
	assert.Equal(t, "/api/v1", cfg.APIBasePath)
	assert.False(t, cfg.SwaggerEnabled)

	assert.Equal(t, ServerConfig{
		Port:              "8000",
		GinMode:           "release",
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
		MaxBodyBytes:      1 << 20,
	}, cfg.Server)
	assert.Equal(t, LogConfig{Level: "info", Pretty: false, Redact: true}, cfg.Log)
	assert.Equal(t, StoreConfig{
		Driver:         StoreMemory,
		DSN:            "file:purchases?mode=memory&cache=shared",
		Mutations:      false,
		IdempotencyTTL: 24 * time.Hour,
	}, cfg.Store)
	assert.Equal(t, RateConfig{RPS: 5, Burst: 10, WriteRPS: 2, WriteBurst: 5}, cfg.Rate)
	assert.Empty(t, cfg.CORS.AllowedOrigins)
	assert.Equal(t, SecurityConfig{EnableHSTS: false, HSTSMaxAge: 180 * 24 * time.Hour}, cfg.Security)
	assert.Equal(t, OTELConfig{
		Enabled:     false,
		Endpoint:    "localhost:4317",
		Insecure:    true,
		ServiceName: "purchases-api",
		SampleRatio: 1,
	}, cfg.OTEL)
}

func TestLoad_OverridesAndNormalization(t *testing.T) {
	cleanEnv(t)
	t.Setenv("APP_NAME", "shop")
	t.Setenv("APP_ENV", " Staging ")
	t.Setenv("SECRET_KEY", "k3y")
	t.Setenv("API_BASE_PATH", "api/v2/")
	t.Setenv("PORT", "8088")
	t.Setenv("GIN_MODE", "weird")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("MAX_BODY_BYTES", "4096")
	t.Setenv("LOG_LEVEL", "WARNING")
	t.Setenv("LOG_REDACT", "false")
	t.Setenv("STORE_DRIVER", " SQLite ")
	t.Setenv("DB_DSN", "file:test.db")
	t.Setenv("PURCHASE_MUTATIONS", "true")
	t.Setenv("WRITE_RATE_RPS", "0.5")
	t.Setenv("WRITE_RATE_BURST", "2")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("HSTS_MAX_AGE", "24h")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.AppEnv)
	assert.Equal(t, "/api/v2", cfg.APIBasePath)
	assert.Equal(t, "8088", cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.GinMode)
	assert.Equal(t, 2*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, int64(4096), cfg.Server.MaxBodyBytes)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.False(t, cfg.Log.Redact)
	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, "file:test.db", cfg.Store.DSN)
	assert.True(t, cfg.Store.Mutations)
	assert.Equal(t, 0.5, cfg.Rate.WriteRPS)
	assert.Equal(t, 2, cfg.Rate.WriteBurst)
	assert.Equal(t, 5.0, cfg.Rate.RPS, "untouched budget keeps its default")
	assert.Equal(t, []string{"https://a.com", "http://b"}, []string(cfg.CORS.AllowedOrigins))
	assert.Equal(t, 24*time.Hour, cfg.Security.HSTSMaxAge)
	assert.Equal(t, "shop", cfg.OTEL.ServiceName, "service name follows APP_NAME")
	assert.Equal(t, 0.25, cfg.OTEL.SampleRatio)
}

func TestLoad_UnparsableValuesAreErrors(t *testing.T) {
	cases := map[string]string{
		"RATE_RPS":           "fast",
		"PURCHASE_MUTATIONS": "maybe",
		"IDEMPOTENCY_TTL":    "a day",
		"MAX_BODY_BYTES":     "1MB",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			cleanEnv(t)
			t.Setenv(key, val)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestValidate_Rules(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.Log.Level = "verbose" }, "LOG_LEVEL"},
		{"store driver", func(c *Config) { c.Store.Driver = "redis" }, `STORE_DRIVER must be "memory" or "sqlite", got "redis"`},
		{"blank port", func(c *Config) { c.Server.Port = " " }, "PORT must not be empty"},
		{"zero timeout", func(c *Config) { c.Server.IdleTimeout = 0 }, "server timeouts must be positive"},
		{"header cap", func(c *Config) { c.Server.MaxHeaderBytes = 0 }, "MAX_HEADER_BYTES"},
		{"body cap", func(c *Config) { c.Server.MaxBodyBytes = -1 }, "MAX_BODY_BYTES"},
		{"blank secret", func(c *Config) { c.SecretKey = "" }, "SECRET_KEY must not be empty"},
		{"placeholder secret in production", func(c *Config) { c.AppEnv = "production" }, "SECRET_KEY must be set in production"},
		{"blank dsn", func(c *Config) { c.Store.DSN = "" }, "DB_DSN"},
		{"idempotency ttl", func(c *Config) { c.Store.IdempotencyTTL = 0 }, "IDEMPOTENCY_TTL"},
		{"negative write rate", func(c *Config) { c.Rate.WriteRPS = -1 }, "WRITE_RATE_RPS"},
		{"zero burst", func(c *Config) { c.Rate.Burst = 0 }, "RATE_BURST"},
		{"hsts age", func(c *Config) { c.Security.HSTSMaxAge = -time.Second }, "HSTS_MAX_AGE"},
		{"sample ratio", func(c *Config) { c.OTEL.SampleRatio = 1.5 }, "got 1.5"},
	}
	base := validConfig(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := validConfig(t)
	cfg.Log.Level = "loud"
	cfg.Store.Driver = "csv"
	cfg.Rate.Burst = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"LOG_LEVEL", "STORE_DRIVER", "RATE_BURST"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoad_ProductionNeedsRealSecret(t *testing.T) {
	cleanEnv(t)
	t.Setenv("APP_ENV", "Production")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("SECRET_KEY", "s3cr3t")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.AppEnv)
}

func TestMustLoad(t *testing.T) {
	cleanEnv(t)
	assert.NotPanics(t, func() { _ = MustLoad() })

	t.Setenv("LOG_LEVEL", "verbose")
	assert.Panics(t, func() { _ = MustLoad() })
}

func TestNormalizeBasePath(t *testing.T) {
	for in, want := range map[string]string{
		"":          "/",
		"/":         "/",
		"  ":        "/",
		"api/v1":    "/api/v1",
		"/api/v1/":  "/api/v1",
		" /shop/ ":  "/shop",
		"//nested/": "/nested",
	} {
		assert.Equal(t, want, normalizeBasePath(in), "input %q", in)
	}
}

func TestOrigins_Decode(t *testing.T) {
	var o Origins
	require.NoError(t, o.Decode("https://a.com, ,http://b ,"))
	assert.Equal(t, Origins{"https://a.com", "http://b"}, o)

	require.NoError(t, o.Decode(" , "))
	assert.Nil(t, o)
}
