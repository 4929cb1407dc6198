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
	HTTPAddr    string

	OTLPEndpoint string

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
	DBRunMigrations   bool
	DBSeedDemoData    bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Admin    AdminConfig
	Gateways GatewayConfig
	Redirect RedirectConfig
	Email    EmailConfig
	Alert    AlertConfig
	Webhook  WebhookLimitConfig

	MetricsPush MetricsPushConfig
	Telemetry   TelemetryConfig

	PipelineConfigPath string
}

// AdminConfig secures the inventory admin surface.
type AdminConfig struct {
	JWTSecret string
	JWTIssuer string
}

// GatewayConfig carries per-gateway secrets and defaults.
type GatewayConfig struct {
	CardWebhookSecret    string
	CardSignatureMaxSkew time.Duration
	EsewaSecretKey       string
	EsewaMerchantCode    string
	EsewaCurrency        string
	KhaltiSecretKey      string
	KhaltiLookupURL      string
	KhaltiLookupTimeout  time.Duration
	KhaltiCurrency       string
}

// RedirectConfig is where buyers land after a redirect callback.
type RedirectConfig struct {
	SuccessURL string
	FailureURL string
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// WebhookLimitConfig throttles inbound gateway traffic per gateway and client.
type WebhookLimitConfig struct {
	RatePerSecond float64
	Burst         int
}

// MetricsPushConfig ships metrics from processes nobody scrapes, such as the
// standalone reaper. An empty exporter disables pushing.
type MetricsPushConfig struct {
	Exporter  string
	Endpoint  string
	AuthToken string
	Interval  time.Duration
}

// TelemetryConfig drives logging and OpenTelemetry export.
type TelemetryConfig struct {
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OtelProtocol  string
	SamplingRatio float64
}

type AlertConfig struct {
	WebhookURL string
	Timeout    time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "storefront"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "storefront"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBRunMigrations:   getenvBool("DATABASE_RUN_MIGRATIONS", true),
		DBSeedDemoData:    getenvBool("DATABASE_SEED_DEMO_DATA", false),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           getenvInt("REDIS_DB", 0),
		Admin: AdminConfig{
			JWTSecret: strings.TrimSpace(getenv("ADMIN_JWT_SECRET", "")),
			JWTIssuer: strings.TrimSpace(getenv("ADMIN_JWT_ISSUER", "storefront-admin")),
		},
		Gateways: GatewayConfig{
			CardWebhookSecret:    strings.TrimSpace(getenv("CARD_WEBHOOK_SECRET", "")),
			CardSignatureMaxSkew: getenvDuration("CARD_SIGNATURE_MAX_SKEW", 5*time.Minute),
			EsewaSecretKey:       strings.TrimSpace(getenv("ESEWA_SECRET_KEY", "")),
			EsewaMerchantCode:    strings.TrimSpace(getenv("ESEWA_MERCHANT_CODE", "")),
			EsewaCurrency:        strings.ToUpper(getenv("ESEWA_CURRENCY", "NPR")),
			KhaltiSecretKey:      strings.TrimSpace(getenv("KHALTI_SECRET_KEY", "")),
			KhaltiLookupURL:      strings.TrimSpace(getenv("KHALTI_LOOKUP_URL", "")),
			KhaltiLookupTimeout:  getenvDuration("KHALTI_LOOKUP_TIMEOUT", 10*time.Second),
			KhaltiCurrency:       strings.ToUpper(getenv("KHALTI_CURRENCY", "NPR")),
		},
		Redirect: RedirectConfig{
			SuccessURL: getenv("PAYMENT_SUCCESS_URL", "/checkout/success"),
			FailureURL: getenv("PAYMENT_FAILURE_URL", "/checkout/failure"),
		},
		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", "localhost"),
			SMTPPort:     getenvInt("SMTP_PORT", 1025),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "orders@storefront.local"),
		},
		Alert: AlertConfig{
			WebhookURL: strings.TrimSpace(getenv("OPS_ALERT_WEBHOOK_URL", "")),
			Timeout:    getenvDuration("OPS_ALERT_TIMEOUT", 5*time.Second),
		},
		Webhook: WebhookLimitConfig{
			RatePerSecond: getenvFloat("WEBHOOK_RATE_PER_SECOND", 20),
			Burst:         getenvInt("WEBHOOK_RATE_BURST", 40),
		},
		MetricsPush: MetricsPushConfig{
			Exporter:  strings.ToLower(strings.TrimSpace(getenv("METRICS_PUSH_EXPORTER", ""))),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
			Interval:  getenvDuration("METRICS_PUSH_INTERVAL", time.Minute),
		},
		Telemetry: TelemetryConfig{
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OtelEnabled:   getenvBool("OTEL_ENABLED", true),
			OtelProtocol:  strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		PipelineConfigPath: strings.TrimSpace(getenv("PIPELINE_CONFIG_PATH", "")),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
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

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
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

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
