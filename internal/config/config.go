package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr string

	Telemetry TelemetryConfig

	// MigrateOnStart applies pending migrations when the app boots.
	MigrateOnStart bool

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis RedisConfig
	Kafka KafkaConfig

	Providers ProvidersConfig

	SchedulerInterval time.Duration
	// SchedulerJobs limits a scheduler instance to the named jobs.
	SchedulerJobs []string
}

// TelemetryConfig drives logging and OTLP export.
type TelemetryConfig struct {
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OTLPEndpoint  string
	OTLPProtocol  string
	SamplingRatio float64
	// AlwaysSamplePayments exports every provider call and webhook span.
	AlwaysSamplePayments bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address was configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

type ProvidersConfig struct {
	Timeout     time.Duration
	RedirectURL string
	Stripe      StripeConfig
	Paystack    PaystackConfig
	Flutterwave FlutterwaveConfig
}

type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	BaseURL       string
}

type PaystackConfig struct {
	SecretKey string
	BaseURL   string
}

type FlutterwaveConfig struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "paycore"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		MigrateOnStart:    getenvBool("MIGRATE_ON_START", true),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "paycore"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 1800)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 300)),
		Telemetry: TelemetryConfig{
			LogLevel:             strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:            strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OtelEnabled:          getenvBool("OTEL_ENABLED", true),
			OTLPEndpoint:         strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			OTLPProtocol:         strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			SamplingRatio:        getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
			AlwaysSamplePayments: getenvBool("OTEL_ALWAYS_SAMPLE_PAYMENTS", true),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},
		Kafka: KafkaConfig{
			Brokers: parseList(getenv("KAFKA_BROKERS", "")),
			Topic:   getenv("KAFKA_TOPIC", "paycore.events"),
		},
		SchedulerInterval: time.Duration(getenvInt64("SCHEDULER_INTERVAL_SECONDS", 30)) * time.Second,
		SchedulerJobs:     parseList(getenv("SCHEDULER_JOBS", "")),
		Providers: ProvidersConfig{
			Timeout:     clampTimeout(time.Duration(getenvInt64("PROVIDER_TIMEOUT_SECONDS", 15)) * time.Second),
			RedirectURL: strings.TrimSpace(getenv("PROVIDER_REDIRECT_URL", "")),
			Stripe: StripeConfig{
				APIKey:        strings.TrimSpace(getenv("STRIPE_API_KEY", "")),
				WebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
				BaseURL:       strings.TrimSpace(getenv("STRIPE_BASE_URL", "")),
			},
			Paystack: PaystackConfig{
				SecretKey: strings.TrimSpace(getenv("PAYSTACK_SECRET_KEY", "")),
				BaseURL:   strings.TrimSpace(getenv("PAYSTACK_BASE_URL", "")),
			},
			Flutterwave: FlutterwaveConfig{
				SecretKey:     strings.TrimSpace(getenv("FLUTTERWAVE_SECRET_KEY", "")),
				WebhookSecret: strings.TrimSpace(getenv("FLUTTERWAVE_WEBHOOK_SECRET", "")),
				BaseURL:       strings.TrimSpace(getenv("FLUTTERWAVE_BASE_URL", "")),
			},
		},
	}

	return cfg
}

// clampTimeout keeps provider calls within 10s..30s.
func clampTimeout(d time.Duration) time.Duration {
	switch {
	case d < 10*time.Second:
		return 10 * time.Second
	case d > 30*time.Second:
		return 30 * time.Second
	default:
		return d
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
