package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	AuthMode       string `mapstructure:"AUTH_MODE"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	RedisURL     string        `mapstructure:"REDIS_URL"`
	SlotCacheTTL time.Duration `mapstructure:"SLOT_CACHE_TTL"`

	ClinicTimezone   string `mapstructure:"CLINIC_TIMEZONE"`
	SlotQueryMaxDays int    `mapstructure:"SLOT_QUERY_MAX_DAYS"`

	KafkaBrokers       string        `mapstructure:"KAFKA_BROKERS"`
	OutboxPollInterval time.Duration `mapstructure:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize    int           `mapstructure:"OUTBOX_BATCH_SIZE"`

	OTelEnabled      bool    `mapstructure:"OTEL_ENABLED"`
	OTelServiceName  string  `mapstructure:"OTEL_SERVICE_NAME"`
	OTelEndpoint     string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelSamplingRate float64 `mapstructure:"OTEL_SAMPLING_RATIO"`
}

const (
	AuthModeDevelopment = "development"
	AuthModeJWT         = "jwt"

	minSigningKeyLen = 32
)

var defaults = map[string]any{
	"PORT":                        "8000",
	"ENV":                         "development",
	"AUTH_MODE":                   "", // inferred from ENV
	"DB_MAX_CONNS":                20,
	"DB_MIN_CONNS":                2,
	"CORS_ORIGINS":                "http://localhost:3000",
	"RATE_LIMIT_RPS":              50,
	"RATE_LIMIT_BURST":            100,
	"REQUEST_TIMEOUT":             "15s",
	"SLOT_CACHE_TTL":              "30s",
	"CLINIC_TIMEZONE":             "UTC",
	"SLOT_QUERY_MAX_DAYS":         62,
	"OUTBOX_POLL_INTERVAL":        "2s",
	"OUTBOX_BATCH_SIZE":           50,
	"OTEL_ENABLED":                false,
	"OTEL_SERVICE_NAME":           "clinic-server",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "localhost:4317",
	"OTEL_SAMPLING_RATIO":         1.0,
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_MODE", "AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"REDIS_URL", "SLOT_CACHE_TTL",
	"CLINIC_TIMEZONE", "SLOT_QUERY_MAX_DAYS",
	"KAFKA_BROKERS", "OUTBOX_POLL_INTERVAL", "OUTBOX_BATCH_SIZE",
	"OTEL_ENABLED", "OTEL_SERVICE_NAME", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SAMPLING_RATIO",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Normalize "a, b" whether viper split it or not.
	cfg.CORSOrigins = splitList(strings.Join(cfg.CORSOrigins, ","))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.ResolvedAuthMode() == AuthModeDevelopment {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: AUTH_MODE=development: DevAuthMiddleware trusts X-User-ID.")
		log.Println("WARNING: Requests without headers get admin access.")
		log.Println("WARNING: Set ENV=production and AUTH_SIGNING_KEY for real deployments.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set, otherwise "development" under
// ENV=development and "jwt" everywhere else.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthModeDevelopment
	}
	return AuthModeJWT
}

// Location loads CLINIC_TIMEZONE. Slot dates and windows are interpreted in it.
func (c *Config) Location() (*time.Location, error) {
	name := c.ClinicTimezone
	if name == "" {
		name = "UTC"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE %q: %w", name, err)
	}
	return loc, nil
}

// KafkaBrokerList returns the configured brokers, empty when publishing is disabled.
func (c *Config) KafkaBrokerList() []string {
	return splitList(c.KafkaBrokers)
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case AuthModeDevelopment:
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed with ENV=production")
		}
	case AuthModeJWT:
		if len(c.AuthSigningKey) < minSigningKeyLen {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least %d bytes in jwt mode (got %d)",
				minSigningKeyLen, len(c.AuthSigningKey))
		}
	default:
		return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeDevelopment, AuthModeJWT, mode)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.SlotQueryMaxDays < 1 {
		return fmt.Errorf("SLOT_QUERY_MAX_DAYS must be positive, got %d", c.SlotQueryMaxDays)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.OTelSamplingRate < 0 || c.OTelSamplingRate > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATIO must be within [0,1], got %g", c.OTelSamplingRate)
	}
	if len(c.KafkaBrokerList()) > 0 && (c.OutboxPollInterval <= 0 || c.OutboxBatchSize <= 0) {
		return fmt.Errorf("OUTBOX_POLL_INTERVAL and OUTBOX_BATCH_SIZE must be positive when KAFKA_BROKERS is set")
	}
	return nil
}
