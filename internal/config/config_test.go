package config

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"tenant-auth-service/internal/security"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// resetEnv clears the environment and sets the minimum needed for Load to succeed, then applies kv pairs.
func resetEnv(t *testing.T, kv ...string) {
	t.Helper()
	os.Clearenv()
	os.Setenv("REFRESH_TOKEN_SECRET", testSecret)
	os.Setenv("DATABASE_URL", "postgres://localhost/app")
	for i := 0; i+1 < len(kv); i += 2 {
		os.Setenv(kv[i], kv[i+1])
	}
}

func TestLoad_Defaults(t *testing.T) {
	resetEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":5501" {
		t.Errorf("HTTPAddr = %q, want :5501", cfg.HTTPAddr)
	}
	if cfg.GRPCAddr != ":5502" {
		t.Errorf("GRPCAddr = %q, want :5502", cfg.GRPCAddr)
	}
	if cfg.RefreshStore != StorePostgres {
		t.Errorf("RefreshStore = %q, want postgres", cfg.RefreshStore)
	}
	if cfg.JWTIssuer != "auth-service" {
		t.Errorf("JWTIssuer = %q, want auth-service", cfg.JWTIssuer)
	}
	if cfg.AccessTTL() != time.Hour {
		t.Errorf("AccessTTL = %v, want 1h", cfg.AccessTTL())
	}
	if cfg.RefreshTTL() != 8760*time.Hour {
		t.Errorf("RefreshTTL = %v, want 8760h", cfg.RefreshTTL())
	}
	if cfg.BcryptCost != security.MinWorkFactor {
		t.Errorf("BcryptCost = %d, want %d", cfg.BcryptCost, security.MinWorkFactor)
	}
	if cfg.CookieDomain != "localhost" || cfg.CookieSecure {
		t.Errorf("cookie defaults = %q secure=%v", cfg.CookieDomain, cfg.CookieSecure)
	}
	if cfg.StoreTimeoutDuration() != 5*time.Second {
		t.Errorf("StoreTimeout = %v, want 5s", cfg.StoreTimeoutDuration())
	}
	if cfg.RefreshRotateInTx {
		t.Error("RefreshRotateInTx should default to false")
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Errorf("log defaults = %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.RateLimitRPS != 5 || cfg.RateLimitBurst != 10 {
		t.Errorf("rate limit defaults = %v/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	resetEnv(t,
		"HTTP_ADDR", ":9090",
		"JWT_ISSUER", "custom-issuer",
		"BCRYPT_COST", "12",
		"JWT_ACCESS_TTL", "30m",
		"STORE_TIMEOUT", "250ms",
		"REFRESH_ROTATE_IN_TX", "true",
		"RATE_LIMIT_RPS", "2.5",
	)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
	}
	if cfg.JWTIssuer != "custom-issuer" {
		t.Errorf("JWTIssuer = %q, want custom-issuer", cfg.JWTIssuer)
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.AccessTTL() != 30*time.Minute {
		t.Errorf("AccessTTL = %v, want 30m", cfg.AccessTTL())
	}
	if cfg.StoreTimeoutDuration() != 250*time.Millisecond {
		t.Errorf("StoreTimeout = %v, want 250ms", cfg.StoreTimeoutDuration())
	}
	if !cfg.RefreshRotateInTx {
		t.Error("RefreshRotateInTx should be true")
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Errorf("RateLimitRPS = %v, want 2.5", cfg.RateLimitRPS)
	}
}

func TestLoad_RefreshSecretTooShort(t *testing.T) {
	for _, secret := range []string{"", "short"} {
		resetEnv(t, "REFRESH_TOKEN_SECRET", secret)

		cfg, err := Load()
		if cfg != nil {
			t.Error("Load should return nil config on error")
		}
		var cerr *security.ConfigurationError
		if !errors.As(err, &cerr) || cerr.Field != "REFRESH_TOKEN_SECRET" {
			t.Fatalf("secret %q: want ConfigurationError for REFRESH_TOKEN_SECRET, got %v", secret, err)
		}
		if !errors.Is(err, security.ErrConfiguration) {
			t.Errorf("error should match ErrConfiguration: %v", err)
		}
	}
}

func TestLoad_ProductionRequiresSecureCookies(t *testing.T) {
	resetEnv(t, "APP_ENV", "production")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "COOKIE_SECURE") {
		t.Fatalf("want COOKIE_SECURE error, got %v", err)
	}

	resetEnv(t, "APP_ENV", "production", "COOKIE_SECURE", "true")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.IsProduction() || !cfg.CookieSecure {
		t.Errorf("IsProduction=%v CookieSecure=%v", cfg.IsProduction(), cfg.CookieSecure)
	}
}

func TestLoad_RefreshStore(t *testing.T) {
	testCases := []struct {
		name string
		kv   []string
		err  string
	}{
		{"postgres", []string{"REFRESH_STORE", "postgres"}, ""},
		{"redis with url", []string{"REFRESH_STORE", "redis", "REDIS_URL", "redis://localhost:6379/0"}, ""},
		{"redis without url", []string{"REFRESH_STORE", "redis"}, "REDIS_URL"},
		{"unknown", []string{"REFRESH_STORE", "memcached"}, "REFRESH_STORE"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resetEnv(t, tc.kv...)
			_, err := Load()
			if tc.err == "" {
				if err != nil {
					t.Fatalf("Load: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.err) {
				t.Fatalf("want error mentioning %s, got %v", tc.err, err)
			}
		})
	}
}

func TestLoad_InvalidTTL(t *testing.T) {
	for _, key := range []string{"JWT_ACCESS_TTL", "JWT_REFRESH_TTL"} {
		for _, value := range []string{"invalid", "0", "-5m"} {
			resetEnv(t, key, value)
			_, err := Load()
			var cerr *security.ConfigurationError
			if !errors.As(err, &cerr) || cerr.Field != key {
				t.Errorf("%s=%q: want ConfigurationError, got %v", key, value, err)
			}
		}
	}
}

func TestLoad_DatabaseURLRequired(t *testing.T) {
	resetEnv(t, "DATABASE_URL", "")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("want DATABASE_URL error, got %v", err)
	}
}

func TestLoad_NegativeRateLimit(t *testing.T) {
	resetEnv(t, "RATE_LIMIT_RPS", "-1")
	if _, err := Load(); err == nil {
		t.Fatal("Load should reject a negative rate")
	}
}

func TestDurationFallbacks(t *testing.T) {
	cfg := &Config{JWTAccessTTL: "bogus", JWTRefreshTTL: "", StoreTimeout: "-1s"}
	if cfg.AccessTTL() != time.Hour {
		t.Errorf("AccessTTL = %v, want 1h", cfg.AccessTTL())
	}
	if cfg.RefreshTTL() != 8760*time.Hour {
		t.Errorf("RefreshTTL = %v, want 8760h", cfg.RefreshTTL())
	}
	if cfg.StoreTimeoutDuration() != 5*time.Second {
		t.Errorf("StoreTimeout = %v, want 5s", cfg.StoreTimeoutDuration())
	}
}

func TestRead_SkipsValidation(t *testing.T) {
	os.Clearenv()
	os.Setenv("DATABASE_URL", "postgres://localhost/app")

	cfg, err := Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if cfg.DatabaseURL != "postgres://localhost/app" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate should fail without REFRESH_TOKEN_SECRET")
	}
}

func TestLoad_TrustedProxies(t *testing.T) {
	resetEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.TrustedProxyList(); got != nil {
		t.Errorf("TrustedProxyList default = %v, want nil", got)
	}

	resetEnv(t, "TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.1 ,")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := cfg.TrustedProxyList()
	if len(got) != 2 || got[0] != "10.0.0.0/8" || got[1] != "192.0.2.1" {
		t.Errorf("TrustedProxyList = %v", got)
	}

	resetEnv(t, "TRUSTED_PROXIES", "10.0.0.0/8,not-an-ip")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "TRUSTED_PROXIES") {
		t.Fatalf("want TRUSTED_PROXIES error, got %v", err)
	}
}
