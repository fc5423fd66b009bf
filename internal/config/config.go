package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName         = "VeriFlow"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultAccessTTL       = 15 * time.Minute
	defaultRefreshTTL      = 720 * time.Hour
	defaultProviderBaseURL = "https://stationapi.veriff.com"
	defaultS3Region        = "eu-west-1"
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	JWTSecret       string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// KYC provider credentials. Both must be present for the gateway to be
	// configured; all verification actions fail fast otherwise.
	ProviderAPIKey       string
	ProviderSharedSecret string
	ProviderBaseURL      string

	// SiteURL is the fallback base for provider callback URLs when the request
	// carries no Origin or forwarded-host headers.
	SiteURL string

	// WebhookStrict rejects webhook deliveries whose HMAC signature does not
	// match. Disable only in test/debug environments.
	WebhookStrict bool

	S3Region string
	S3Bucket string

	// TestMode permits clearing the profile verified flag on delete-and-reset.
	TestMode bool
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:              getEnv("APP_NAME", defaultAppName),
		AppEnv:               getEnv("APP_ENV", defaultAppEnv),
		Port:                 getEnv("PORT", defaultPort),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisURL:             os.Getenv("REDIS_URL"),
		ShutdownPeriod:       defaultShutdownDelay,
		IdempotencyTTL:       defaultIdempotencyTTL,
		JWTSecret:            os.Getenv("JWT_SECRET"),
		RefreshSecret:        os.Getenv("REFRESH_SECRET"),
		AccessTokenTTL:       defaultAccessTTL,
		RefreshTokenTTL:      defaultRefreshTTL,
		ProviderAPIKey:       os.Getenv("PROVIDER_API_KEY"),
		ProviderSharedSecret: os.Getenv("PROVIDER_SHARED_SECRET"),
		ProviderBaseURL:      getEnv("PROVIDER_BASE_URL", defaultProviderBaseURL),
		SiteURL:              os.Getenv("SITE_URL"),
		WebhookStrict:        true,
		S3Region:             getEnv("S3_REGION", defaultS3Region),
		S3Bucket:             os.Getenv("S3_BUCKET"),
	}

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(shutdownDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownDurationEnvVar, err)
		}
		cfg.ShutdownPeriod = d
	}

	if v := os.Getenv(idemTTLSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLSecondsEnvVar, err)
		}
		cfg.IdempotencyTTL = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(idemTTLDurEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLDurEnvVar, err)
		}
		cfg.IdempotencyTTL = d
	}

	if v := os.Getenv("ACCESS_TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ACCESS_TOKEN_TTL: %w", err)
		}
		cfg.AccessTokenTTL = d
	}
	if v := os.Getenv("REFRESH_TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid REFRESH_TOKEN_TTL: %w", err)
		}
		cfg.RefreshTokenTTL = d
	}

	if v := os.Getenv("WEBHOOK_STRICT"); v != "" {
		strict, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid WEBHOOK_STRICT: %w", err)
		}
		cfg.WebhookStrict = strict
	}
	if v := os.Getenv("TEST_MODE"); v != "" {
		testMode, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TEST_MODE: %w", err)
		}
		cfg.TestMode = testMode
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET must be set")
	}
	if cfg.RefreshSecret == "" {
		cfg.RefreshSecret = cfg.JWTSecret
	}

	return cfg, nil
}

// ProviderConfigured reports whether both gateway credentials are present.
func (c Config) ProviderConfigured() bool {
	return c.ProviderAPIKey != "" && c.ProviderSharedSecret != ""
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
