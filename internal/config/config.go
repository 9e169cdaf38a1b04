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
)

const defaultQRAPIURL = "https://checkout-sandbox.payway.com.kh/api/payment-gateway/v1/payments/generate-qr"

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	DBAutoMigrate      bool
	RedisURL           string
	PublicBaseURL      string
	CORSAllowedOrigins []string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	IdempotencyTTL    time.Duration
	CallbackReplayTTL time.Duration
	RateLimitWindow   time.Duration
	RateLimitMax      int

	EventsBackend       string
	KafkaBrokers        []string
	KafkaTopicOrderPaid string

	WorkerConcurrency int
	ShutdownDrain     time.Duration
	ShutdownTimeout   time.Duration

	Obs    Observability
	PayWay PayWay
}

// Observability holds the OBS_* switches for logging, metrics, tracing and pprof.
type Observability struct {
	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	MetricsBuckets   string
	TracingEnabled   bool
	TracingExporter  string
	OTLPEndpoint     string
	SamplingRatio    float64
	PprofEnabled     bool
	PprofUser        string
	PprofPassword    string
}

// PayWay groups the gateway credentials and behaviour switches.
type PayWay struct {
	MerchantID            string
	PrivateKey            string
	PublicKey             string
	CheckoutURL           string
	QRAPIURL              string
	CallbackURL           string
	APIKey                string
	SigningProfile        string
	Currency              string
	PaymentOption         string
	GatewayTimeout        time.Duration
	CallbackRequireHash   bool
	ManualConfirmEnabled  bool
	CallbackGuardCanceled bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	appEnv := valueOrDefault(k.String("APP_ENV"), "development")
	development := strings.EqualFold(appEnv, "development")
	publicBase := strings.TrimRight(valueOrDefault(k.String("PUBLIC_BASE_URL"), "http://localhost:3000"), "/")

	cfg := &Config{
		AppEnv:             appEnv,
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		DBAutoMigrate:      parseBoolDefault(k.String("DB_AUTO_MIGRATE"), true),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		PublicBaseURL:      publicBase,
		CORSAllowedOrigins: splitAndTrim(valueOrDefault(k.String("CORS_ALLOWED_ORIGINS"), "*")),

		JWTSecret:   k.String("JWT_SECRET"),
		JWTIssuer:   strings.TrimSpace(k.String("JWT_ISSUER")),
		JWTAudience: strings.TrimSpace(k.String("JWT_AUDIENCE")),

		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		CallbackReplayTTL: parseDuration(k.String("CALLBACK_REPLAY_TTL"), "10m"),
		RateLimitWindow:   parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:      parseInt(k.String("RATE_LIMIT_MAX"), 60),

		EventsBackend:       strings.ToLower(valueOrDefault(k.String("EVENTS_BACKEND"), "log")),
		KafkaBrokers:        splitAndTrim(k.String("KAFKA_BROKERS")),
		KafkaTopicOrderPaid: valueOrDefault(k.String("KAFKA_TOPIC_ORDER_PAID"), "order.paid"),

		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 4),
		ShutdownDrain:     parseDuration(k.String("SHUTDOWN_DRAIN"), "2s"),
		ShutdownTimeout:   parseDuration(k.String("SHUTDOWN_TIMEOUT"), "15s"),

		Obs: Observability{
			LogFormat:        strings.ToLower(valueOrDefault(k.String("OBS_LOG_FORMAT"), "json")),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsEnabled:   parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "bakery"),
			MetricsBuckets:   k.String("OBS_METRICS_BUCKETS_MS"),
			TracingEnabled:   parseBoolDefault(k.String("OBS_ENABLE_TRACING"), true),
			TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseRatio(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
			PprofEnabled:     parseBoolDefault(k.String("OBS_ENABLE_PPROF"), development),
			PprofUser:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_USER")),
			PprofPassword:    strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_PASS")),
		},

		PayWay: PayWay{
			MerchantID:            firstNonEmpty(k.String("PAYWAY_MERCHANT_ID"), k.String("ABA_MERCHANT_ID")),
			PrivateKey:            firstNonEmpty(k.String("PAYWAY_PRIVATE_KEY"), k.String("ABA_PRIVATE_KEY")),
			PublicKey:             k.String("PAYWAY_PUBLIC_KEY"),
			CheckoutURL:           firstNonEmpty(k.String("PAYWAY_CHECKOUT_URL"), k.String("ABA_CHECKOUT_URL")),
			QRAPIURL:              valueOrDefault(k.String("PAYWAY_QR_API_URL"), defaultQRAPIURL),
			CallbackURL:           valueOrDefault(k.String("PAYWAY_CALLBACK_URL"), publicBase+"/callback"),
			APIKey:                firstNonEmpty(k.String("PAYWAY_API_KEY"), k.String("ABA_API_KEY")),
			SigningProfile:        strings.ToUpper(valueOrDefault(k.String("PAYWAY_SIGNING_PROFILE"), "RSA-SHA512")),
			Currency:              strings.ToUpper(valueOrDefault(k.String("PAYWAY_CURRENCY"), "USD")),
			PaymentOption:         valueOrDefault(k.String("PAYWAY_PAYMENT_OPTION"), "abapay"),
			GatewayTimeout:        parseDuration(k.String("PAYWAY_GATEWAY_TIMEOUT"), "10s"),
			CallbackRequireHash:   parseBoolDefault(k.String("PAYWAY_CALLBACK_REQUIRE_HASH"), !development),
			ManualConfirmEnabled:  parseBoolDefault(k.String("PAYWAY_MANUAL_CONFIRM_ENABLED"), development),
			CallbackGuardCanceled: parseBoolDefault(k.String("PAYWAY_CALLBACK_GUARD_CANCELLED"), true),
		},
	}

	switch cfg.EventsBackend {
	case "log", "asynq", "kafka":
	default:
		return nil, fmt.Errorf("EVENTS_BACKEND %q is not supported", cfg.EventsBackend)
	}
	if cfg.EventsBackend == "asynq" && cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required when EVENTS_BACKEND=asynq")
	}
	if cfg.EventsBackend == "kafka" && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required when EVENTS_BACKEND=kafka")
	}
	if cfg.PayWay.CallbackRequireHash && strings.TrimSpace(cfg.PayWay.APIKey) == "" {
		return nil, errors.New("PAYWAY_API_KEY is required when PAYWAY_CALLBACK_REQUIRE_HASH is enabled")
	}
	if cfg.Obs.PprofEnabled && !development && (cfg.Obs.PprofUser == "" || cfg.Obs.PprofPassword == "") {
		return nil, errors.New("SECURE_PPROF_BASIC_AUTH_USER and SECURE_PPROF_BASIC_AUTH_PASS are required to enable pprof outside development")
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

// IsDevelopment reports whether the service runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
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

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
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

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseRatio(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || f <= 0 || f > 1 {
		return fallback
	}
	return f
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
