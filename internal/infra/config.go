package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	LogLevel    string
	Port        string
	DatabaseURL string
	DBMaxConns  int
	StoreDriver string
	JWTSecret   string

	MigrateOnStart bool

	BreakerFailureThreshold int
	BreakerTimeout          time.Duration
	BreakerHalfOpenMax      int

	QualityPassThreshold float64
	ArtifactAllowedHosts []string

	VideoProviderBaseURL     string
	VideoProviderAPIKey      string
	VideoProviderCallbackURL string
	VideoProviderTimeout     time.Duration

	ProviderWebhookSecret string
	PaymentWebhookSecret  string

	StoragePath      string
	StorageBaseURL   string
	S3Bucket         string
	S3Prefix         string
	ArtifactMaxBytes int64

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	BalanceCacheTTL time.Duration

	NATSURL                string
	NATSPaymentSubject     string
	NATSPaymentStream      string
	NATSRedeliverAfter     time.Duration
	NATSEventSubjectPrefix string

	SweepInterval       time.Duration
	StuckAfter          time.Duration
	SweepBatchSize      int
	RefundRetryAttempts int
	RefundRetryBackoff  time.Duration

	BatchMaxItems    int
	BatchConcurrency int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int

	CORSAllowedOrigins []string
	DefaultLocale      string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DBMaxConns:     getEnvInt("DB_MAX_CONNS", 10),
		StoreDriver:    strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		MigrateOnStart: getEnvBool("MIGRATE_ON_START", true),

		BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerTimeout:          getEnvDuration("BREAKER_TIMEOUT", 60*time.Second),
		BreakerHalfOpenMax:      getEnvInt("BREAKER_HALF_OPEN_MAX", 3),

		QualityPassThreshold: getEnvFloat("QUALITY_PASS_THRESHOLD", 0.5),
		ArtifactAllowedHosts: getEnvList("ARTIFACT_ALLOWED_HOSTS", nil),

		VideoProviderBaseURL:     getEnv("VIDEO_PROVIDER_BASE_URL", "https://api.kie.ai/api/v1"),
		VideoProviderAPIKey:      os.Getenv("VIDEO_PROVIDER_API_KEY"),
		VideoProviderCallbackURL: os.Getenv("VIDEO_PROVIDER_CALLBACK_URL"),
		VideoProviderTimeout:     getEnvDuration("VIDEO_PROVIDER_TIMEOUT", 60*time.Second),

		ProviderWebhookSecret: os.Getenv("PROVIDER_WEBHOOK_SECRET"),
		PaymentWebhookSecret:  os.Getenv("PAYMENT_WEBHOOK_SECRET"),

		StoragePath:      getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:   os.Getenv("STORAGE_BASE_URL"),
		S3Bucket:         os.Getenv("S3_BUCKET"),
		S3Prefix:         getEnv("S3_PREFIX", "artifacts"),
		ArtifactMaxBytes: int64(getEnvInt("ARTIFACT_MAX_BYTES", 200<<20)),

		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		BalanceCacheTTL: getEnvDuration("BALANCE_CACHE_TTL", 30*time.Second),

		NATSURL:                os.Getenv("NATS_URL"),
		NATSPaymentSubject:     getEnv("NATS_PAYMENT_SUBJECT", "payments.credits"),
		NATSPaymentStream:      getEnv("NATS_PAYMENT_STREAM", "REELGEN_PAYMENTS"),
		NATSRedeliverAfter:     getEnvDuration("NATS_REDELIVER_AFTER", 5*time.Second),
		NATSEventSubjectPrefix: getEnv("NATS_EVENT_SUBJECT_PREFIX", "reelgen.jobs"),

		SweepInterval:       getEnvDuration("SWEEP_INTERVAL", time.Minute),
		StuckAfter:          getEnvDuration("STUCK_AFTER", 2*time.Hour),
		SweepBatchSize:      getEnvInt("SWEEP_BATCH_SIZE", 100),
		RefundRetryAttempts: getEnvInt("REFUND_RETRY_ATTEMPTS", 3),
		RefundRetryBackoff:  getEnvDuration("REFUND_RETRY_BACKOFF", 200*time.Millisecond),

		BatchMaxItems:    getEnvInt("BATCH_MAX_ITEMS", 50),
		BatchConcurrency: getEnvInt("BATCH_CONCURRENCY", 4),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),
		DefaultLocale:      getEnv("DEFAULT_LOCALE", "en"),
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q", StoreDriverPostgres, StoreDriverMemory)
	}

	if cfg.StorageBaseURL == "" {
		cfg.StorageBaseURL = fmt.Sprintf("http://localhost:%s/static", cfg.Port)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.QualityPassThreshold <= 0 || cfg.QualityPassThreshold > 1 {
		return nil, fmt.Errorf("QUALITY_PASS_THRESHOLD must be in (0, 1]")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
