package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Daraja API hosts selected by MPESA_ENV.
const (
	sandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	productionBaseURL = "https://api.safaricom.co.ke"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	LogLevel  string
	LogFormat string

	MetricsNamespace string
	MetricsBuckets   string

	TracingEnabled       bool
	TracingEndpoint      string
	TracingSamplingRatio float64

	MpesaEnv            string
	MpesaBaseURL        string
	MpesaConsumerKey    string
	MpesaConsumerSecret string
	MpesaShortCode      string
	MpesaPasskey        string
	MpesaCallbackURL    string
	MpesaHTTPTimeout    time.Duration
	MpesaTokenTTL       time.Duration
	MpesaMaxAttempts    int
	MpesaBaseBackoff    time.Duration

	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration

	CartTTL          time.Duration
	IdempotencyTTL   time.Duration
	CallbackLockTTL  time.Duration
	PaymentListLimit int
	TaxBps           int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		LogLevel:  valueOrDefault(k.String("LOG_LEVEL"), "info"),
		LogFormat: valueOrDefault(k.String("LOG_FORMAT"), "json"),

		MetricsNamespace: valueOrDefault(k.String("METRICS_NAMESPACE"), "pos"),
		MetricsBuckets:   k.String("METRICS_BUCKETS_MS"),

		TracingEnabled:       strings.EqualFold(k.String("TRACING_ENABLED"), "true"),
		TracingEndpoint:      k.String("TRACING_OTLP_ENDPOINT"),
		TracingSamplingRatio: parseFloat(k.String("TRACING_SAMPLING_RATIO"), 1),

		MpesaEnv:            valueOrDefault(strings.ToLower(k.String("MPESA_ENV")), "sandbox"),
		MpesaConsumerKey:    k.String("MPESA_CONSUMER_KEY"),
		MpesaConsumerSecret: k.String("MPESA_CONSUMER_SECRET"),
		MpesaShortCode:      k.String("MPESA_SHORTCODE"),
		MpesaPasskey:        k.String("MPESA_PASSKEY"),
		MpesaCallbackURL:    k.String("MPESA_CALLBACK_URL"),
		MpesaHTTPTimeout:    parseDuration(k.String("MPESA_HTTP_TIMEOUT"), "30s"),
		MpesaTokenTTL:       parseDuration(k.String("MPESA_TOKEN_TTL"), "3600s"),
		MpesaMaxAttempts:    parseInt(k.String("MPESA_MAX_ATTEMPTS"), 3),
		MpesaBaseBackoff:    parseDuration(k.String("MPESA_BASE_BACKOFF"), "200ms"),

		BreakerMinRequests:  parseInt(k.String("BREAKER_MIN_REQUESTS"), 5),
		BreakerFailureRatio: parseFloat(k.String("BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:      parseDuration(k.String("BREAKER_OPEN_FOR"), "30s"),

		CartTTL:          parseDuration(k.String("CART_TTL"), "168h"),
		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		CallbackLockTTL:  parseDuration(k.String("CALLBACK_LOCK_TTL"), "10s"),
		PaymentListLimit: parseInt(k.String("PAYMENT_LIST_LIMIT"), 50),
		TaxBps:           parseNonNegativeInt(k.String("TAX_BPS"), 1600),
	}

	switch cfg.MpesaEnv {
	case "production":
		cfg.MpesaBaseURL = productionBaseURL
	default:
		cfg.MpesaBaseURL = sandboxBaseURL
	}
	if override := strings.TrimSpace(k.String("MPESA_BASE_URL")); override != "" {
		cfg.MpesaBaseURL = strings.TrimRight(override, "/")
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.AppEnv != "test" {
		if cfg.MpesaConsumerKey == "" || cfg.MpesaConsumerSecret == "" {
			return nil, errors.New("MPESA_CONSUMER_KEY and MPESA_CONSUMER_SECRET are required")
		}
		if cfg.MpesaShortCode == "" || cfg.MpesaPasskey == "" {
			return nil, errors.New("MPESA_SHORTCODE and MPESA_PASSKEY are required")
		}
		if cfg.MpesaCallbackURL == "" {
			return nil, errors.New("MPESA_CALLBACK_URL is required")
		}
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseFloat(value string, fallback float64) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var parsed float64
	if _, err := fmt.Sscanf(trimmed, "%g", &parsed); err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var parsed int
	if _, err := fmt.Sscanf(trimmed, "%d", &parsed); err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// parseNonNegativeInt keeps an explicit zero, unlike parseInt. Used for
// knobs where zero is a meaningful setting rather than "unset".
func parseNonNegativeInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var parsed int
	if _, err := fmt.Sscanf(trimmed, "%d", &parsed); err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
