package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

// Store drivers supported for surcharge persistence.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
	StoreDriverDynamo   = "dynamo"
)

// Surcharge sources.
const (
	SurchargeSourceLocal  = "local"
	SurchargeSourceRemote = "remote"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	AutoMigrate        bool

	StoreDriver    string
	MongoURI       string
	MongoDatabase  string
	DynamoRegion   string
	DynamoEndpoint string
	DynamoTable    string

	CatalogBaseURL      string
	CatalogTimeout      time.Duration
	CatalogCacheTTL     time.Duration
	CatalogMaxConns     int
	RetryMaxAttempts    int
	RetryBaseBackoff    time.Duration
	RetryJitterPercent  int
	CircuitMinRequests  int
	CircuitFailureRatio float64
	CircuitOpenFor      time.Duration

	SurchargeSource string
	SurchargeAPIURL string

	CartMaxConcurrency int

	RateLimitStrategy string
	RateLimitWindow   time.Duration
	RateLimitMax      int
	BodyLimitBytes    int64
	SecurityHeaders   bool
	EnableHSTS        bool
	IdempotencyTTL    time.Duration
	UploadLockTTL     time.Duration

	KafkaBrokers     []string
	KafkaTopicPrefix string

	Pricing PricingConfig
}

// PricingConfig carries the monetary amounts of the pricing rule set.
type PricingConfig struct {
	MinimumInsuredPrice decimal.Decimal
	HighValueThreshold  decimal.Decimal
	LowRangeValue       decimal.Decimal
	MidRangeValue       decimal.Decimal
	HighRangeValue      decimal.Decimal
	ElectronicsAddOn    decimal.Decimal
	CameraAddOn         decimal.Decimal
	CartCameraSurcharge decimal.Decimal
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
		AutoMigrate:        parseBool(k.String("DB_AUTO_MIGRATE")),

		StoreDriver:    strings.ToLower(valueOrDefault(k.String("STORE_DRIVER"), StoreDriverPostgres)),
		MongoURI:       k.String("MONGO_URI"),
		MongoDatabase:  valueOrDefault(k.String("MONGO_DATABASE"), "insurance"),
		DynamoRegion:   valueOrDefault(k.String("DYNAMO_REGION"), "us-east-1"),
		DynamoEndpoint: strings.TrimSpace(k.String("DYNAMO_ENDPOINT")),
		DynamoTable:    valueOrDefault(k.String("DYNAMO_TABLE"), "insurance_surcharges"),

		CatalogBaseURL:      strings.TrimRight(strings.TrimSpace(k.String("CATALOG_API_URL")), "/"),
		CatalogTimeout:      parseDuration(k.String("CATALOG_TIMEOUT"), "3s"),
		CatalogCacheTTL:     parseDuration(k.String("CATALOG_CACHE_TTL"), "60s"),
		CatalogMaxConns:     parseInt(k.String("CATALOG_MAX_CONNS_PER_HOST"), 32),
		RetryMaxAttempts:    parseInt(k.String("CATALOG_RETRY_MAX_ATTEMPTS"), 3),
		RetryBaseBackoff:    parseDuration(k.String("CATALOG_RETRY_BASE_BACKOFF"), "100ms"),
		RetryJitterPercent:  parseInt(k.String("CATALOG_RETRY_JITTER_PCT"), 20),
		CircuitMinRequests:  parseInt(k.String("CATALOG_CB_MIN_REQUESTS"), 20),
		CircuitFailureRatio: parseFloat(k.String("CATALOG_CB_FAILURE_RATIO"), 0.5),
		CircuitOpenFor:      parseDuration(k.String("CATALOG_CB_OPEN_FOR"), "30s"),

		SurchargeSource: strings.ToLower(valueOrDefault(k.String("SURCHARGE_SOURCE"), SurchargeSourceLocal)),
		SurchargeAPIURL: strings.TrimRight(strings.TrimSpace(k.String("SURCHARGE_API_URL")), "/"),

		CartMaxConcurrency: parseInt(k.String("CART_MAX_CONCURRENCY"), 0),

		RateLimitStrategy: strings.ToLower(valueOrDefault(k.String("RATE_LIMIT_STRATEGY"), "sliding")),
		RateLimitWindow:   parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:      parseInt(k.String("RATE_LIMIT_MAX"), 120),
		BodyLimitBytes:    int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		SecurityHeaders:   parseBoolDefault(k.String("SECURITY_HEADERS"), true),
		EnableHSTS:        parseBool(k.String("SECURITY_HSTS")),
		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		UploadLockTTL:     parseDuration(k.String("SURCHARGE_UPLOAD_LOCK_TTL"), "10s"),

		KafkaBrokers:     splitAndTrim(k.String("KAFKA_BROKERS")),
		KafkaTopicPrefix: strings.TrimSpace(k.String("KAFKA_TOPIC_PREFIX")),

		Pricing: PricingConfig{
			MinimumInsuredPrice: parseDecimal(k.String("PRICING_MIN_INSURED_PRICE"), 500),
			HighValueThreshold:  parseDecimal(k.String("PRICING_HIGH_VALUE_THRESHOLD"), 2000),
			LowRangeValue:       parseDecimal(k.String("PRICING_LOW_RANGE_VALUE"), 500),
			MidRangeValue:       parseDecimal(k.String("PRICING_MID_RANGE_VALUE"), 1000),
			HighRangeValue:      parseDecimal(k.String("PRICING_HIGH_RANGE_VALUE"), 2000),
			ElectronicsAddOn:    parseDecimal(k.String("PRICING_ELECTRONICS_ADDON"), 500),
			CameraAddOn:         parseDecimal(k.String("PRICING_CAMERA_ADDON"), 500),
			CartCameraSurcharge: parseDecimal(k.String("PRICING_CART_CAMERA_SURCHARGE"), 500),
		},
	}

	if cfg.CatalogBaseURL == "" {
		return nil, errors.New("CATALOG_API_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required")
		}
	case StoreDriverMongo:
		if cfg.MongoURI == "" {
			return nil, errors.New("MONGO_URI is required when STORE_DRIVER=mongo")
		}
	case StoreDriverDynamo:
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}
	switch cfg.SurchargeSource {
	case SurchargeSourceLocal:
	case SurchargeSourceRemote:
		if cfg.SurchargeAPIURL == "" {
			return nil, errors.New("SURCHARGE_API_URL is required when SURCHARGE_SOURCE=remote")
		}
	default:
		return nil, fmt.Errorf("unsupported SURCHARGE_SOURCE %q", cfg.SurchargeSource)
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
		return strings.TrimSpace(value)
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

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// parseDecimal rejects negative amounts and falls back on anything unparsable.
func parseDecimal(value string, fallback int64) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil || d.IsNegative() {
		return decimal.NewFromInt(fallback)
	}
	return d
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
