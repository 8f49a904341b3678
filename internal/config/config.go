package config

import (
	"os"
	"strconv"
	"strings"

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

	Redis      RedisConfig
	RateLimit  RateLimitConfig
	Usage      UsageConfig
	Completion CompletionConfig

	// LimitsFile points at an explicit limits.yml; empty searches the default paths.
	LimitsFile          string
	TierCacheTTLSeconds int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Enabled bool

	FeatureLockEnabled    bool
	FeatureLockTTLSeconds int
}

type UsageConfig struct {
	CostReadFailure       FailurePolicy
	FeatureReadFailure    FailurePolicy
	EstimatedOutputTokens int
}

type CompletionConfig struct {
	GeminiAPIKey string
	GeminiModel  string
}

// FailurePolicy decides what a ledger read does when the table store is unreachable.
type FailurePolicy string

const (
	FailOpen   FailurePolicy = "open"
	FailClosed FailurePolicy = "closed"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:           getenv("APP_SERVICE", "quotaguard"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", ""),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:               getenvBool("RATE_LIMIT_ENABLED", true),
			FeatureLockEnabled:    getenvBool("FEATURE_LOCK_ENABLED", false),
			FeatureLockTTLSeconds: getenvInt("FEATURE_LOCK_TTL_SECONDS", 5),
		},
		Usage: UsageConfig{
			CostReadFailure:       parseFailurePolicy(getenv("USAGE_COST_READ_FAILURE", ""), FailOpen),
			FeatureReadFailure:    parseFailurePolicy(getenv("USAGE_FEATURE_READ_FAILURE", ""), FailClosed),
			EstimatedOutputTokens: getenvInt("USAGE_ESTIMATED_OUTPUT_TOKENS", 1000),
		},
		Completion: CompletionConfig{
			GeminiAPIKey: strings.TrimSpace(getenv("GEMINI_API_KEY", "")),
			GeminiModel:  strings.TrimSpace(getenv("GEMINI_MODEL", "gemini-2.0-flash")),
		},
		LimitsFile:          strings.TrimSpace(getenv("LIMITS_FILE", "")),
		TierCacheTTLSeconds: getenvInt("TIER_CACHE_TTL_SECONDS", 30),
	}
}

func parseFailurePolicy(raw string, def FailurePolicy) FailurePolicy {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case FailOpen:
		return FailOpen
	case FailClosed:
		return FailClosed
	default:
		return def
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
