package observability

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/quotaguard/internal/config"
	"gorm.io/gorm/logger"
)

const (
	defaultMetricsPath = "/metrics"
	defaultHealthPath  = "/health"
)

// Config holds the observability settings of the quota service. Service
// identity and the OTLP endpoint come from the application config; the
// OTEL_* and LOG_* variables override them.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64

	// MetricsPath serves the Prometheus scrape endpoint. It and HealthPath
	// are logged at debug so probes do not drown quota denials.
	MetricsPath string
	HealthPath  string

	// Ledger queries slower than DBSlowQuery are logged at warn.
	DBLogLevel  logger.LogLevel
	DBSlowQuery time.Duration
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "quotaguard"
	}

	endpoint := getenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	protocol := getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))

	return Config{
		ServiceName: serviceName,
		Environment: getenv("DEPLOYMENT_ENV", cfg.Environment),
		Version:     getenv("SERVICE_VERSION", cfg.AppVersion),

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getenv("LOG_FORMAT", "json")),

		OtelEnabled:          getenvBool("OTEL_ENABLED", endpoint != ""),
		OtelExporterEndpoint: endpoint,
		OtelExporterProtocol: strings.ToLower(protocol),
		OtelSamplingRatio:    getenvFloat("OTEL_SAMPLING_RATIO", 0.1),

		MetricsPath: normalizePath(getenv("METRICS_PATH", defaultMetricsPath)),
		HealthPath:  normalizePath(getenv("HEALTH_PATH", defaultHealthPath)),

		DBLogLevel:  parseDBLogLevel(getenv("DB_LOG_LEVEL", "warn")),
		DBSlowQuery: time.Duration(getenvInt("DB_SLOW_QUERY_MS", 200)) * time.Millisecond,
	}
}

func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func (c Config) MetricsRoute() string {
	if c.MetricsPath == "" {
		return defaultMetricsPath
	}
	return c.MetricsPath
}

func (c Config) HealthRoute() string {
	if c.HealthPath == "" {
		return defaultHealthPath
	}
	return c.HealthPath
}

// ProbePaths lists the routes whose request logs are demoted to debug.
func (c Config) ProbePaths() []string {
	return []string{c.MetricsRoute(), c.HealthRoute()}
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

func parseDBLogLevel(raw string) logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func getenv(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return def
}

func getenvBool(key string, def bool) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return def
	}
	return parsed
}
