// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"

	"tenant-auth-service/internal/security"
)

// Refresh record backends accepted by REFRESH_STORE.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

const minRefreshSecretBytes = 32

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address of the cookie-based HTTP API (e.g. :5501).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health server.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Required.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is a redis:// URL; required when RefreshStore is "redis".
	RedisURL string `mapstructure:"REDIS_URL"`
	// RefreshStore selects the refresh record backend: "postgres" or "redis".
	RefreshStore string `mapstructure:"REFRESH_STORE"`

	// JWTPrivateKey is the PEM-encoded RSA private key or a path to one.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the matching PEM-encoded public key or a path to one.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	// JWTAccessTTL is the access token lifetime (e.g. "1h").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token and record lifetime (e.g. "8760h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// RefreshTokenSecret is the HS256 key for refresh tokens; at least 32 bytes.
	RefreshTokenSecret string `mapstructure:"REFRESH_TOKEN_SECRET"`
	// BcryptCost is the bcrypt work factor; values below 10 are raised to 10.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	CookieDomain string `mapstructure:"COOKIE_DOMAIN"`
	// CookieSecure sets the Secure attribute on auth cookies. Must be true in production.
	CookieSecure bool `mapstructure:"COOKIE_SECURE"`

	// StoreTimeout bounds each storage call made by the session coordinator.
	StoreTimeout string `mapstructure:"STORE_TIMEOUT"`
	// RefreshRotateInTx runs refresh rotation in one database transaction (postgres only).
	RefreshRotateInTx bool `mapstructure:"REFRESH_ROTATE_IN_TX"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// OTLPEndpoint enables OTLP export of traces, metrics and audit logs when set.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces a plaintext connection to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// RateLimitRPS and RateLimitBurst bound login and register per client IP. Zero RPS disables limiting.
	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
	// TrustedProxies is a comma-separated list of proxy IPs or CIDRs whose forwarding
	// headers are honoured. Empty trusts none and uses the connection's remote address.
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
// Invalid security settings are reported as *security.ConfigurationError.
func Load() (*Config, error) {
	cfg, err := Read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read loads Config like Load without validating it. Used by tools that need only
// a subset of the settings (e.g. cmd/migrate needs DATABASE_URL).
func Read() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":5501")
	v.SetDefault("GRPC_ADDR", ":5502")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REFRESH_STORE", StorePostgres)
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "auth-service")
	v.SetDefault("JWT_ACCESS_TTL", "1h")
	v.SetDefault("JWT_REFRESH_TTL", "8760h") // 1y
	v.SetDefault("REFRESH_TOKEN_SECRET", "")
	v.SetDefault("BCRYPT_COST", security.MinWorkFactor)
	v.SetDefault("COOKIE_DOMAIN", "localhost")
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("STORE_TIMEOUT", "5s")
	v.SetDefault("REFRESH_ROTATE_IN_TX", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("RATE_LIMIT_RPS", 5.0)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("APP_ENV", "")
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL must be set")
	}
	switch c.RefreshStore {
	case StorePostgres:
	case StoreRedis:
		if c.RedisURL == "" {
			return errors.New("config: REDIS_URL must be set when REFRESH_STORE=redis")
		}
	default:
		return fmt.Errorf("config: REFRESH_STORE must be %q or %q, got %q", StorePostgres, StoreRedis, c.RefreshStore)
	}
	if len(c.RefreshTokenSecret) < minRefreshSecretBytes {
		return &security.ConfigurationError{
			Field: "REFRESH_TOKEN_SECRET",
			Err:   fmt.Errorf("must be at least %d bytes", minRefreshSecretBytes),
		}
	}
	if c.IsProduction() && !c.CookieSecure {
		return errors.New("config: COOKIE_SECURE must be true when APP_ENV=production")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return errors.New("config: RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	for _, p := range c.TrustedProxyList() {
		if !validProxy(p) {
			return fmt.Errorf("config: TRUSTED_PROXIES entry %q is not an IP or CIDR", p)
		}
	}
	for name, raw := range map[string]string{"JWT_ACCESS_TTL": c.JWTAccessTTL, "JWT_REFRESH_TTL": c.JWTRefreshTTL} {
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			return &security.ConfigurationError{Field: name, Err: fmt.Errorf("invalid duration %q", raw)}
		}
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// TrustedProxyList splits TrustedProxies on commas. It returns nil when none are set.
func (c *Config) TrustedProxyList() []string {
	var out []string
	for _, p := range strings.Split(c.TrustedProxies, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validProxy(p string) bool {
	if _, err := netip.ParsePrefix(p); err == nil {
		return true
	}
	_, err := netip.ParseAddr(p)
	return err == nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 1h if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, time.Hour)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 8760h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 8760*time.Hour)
}

// StoreTimeoutDuration parses StoreTimeout. Returns 5s if unset or invalid.
func (c *Config) StoreTimeoutDuration() time.Duration {
	return parseDuration(c.StoreTimeout, 5*time.Second)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
