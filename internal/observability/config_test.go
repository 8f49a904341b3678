package observability

import (
	"testing"
	"time"

	"github.com/smallbiznis/quotaguard/internal/config"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

func clearObservabilityEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OTEL_ENABLED",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
		"OTEL_EXPORTER_OTLP_PROTOCOL",
		"OTEL_EXPORTER_OTLP_TRACES_PROTOCOL",
		"LOG_LEVEL",
		"METRICS_PATH",
		"HEALTH_PATH",
		"DB_LOG_LEVEL",
		"DB_SLOW_QUERY_MS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearObservabilityEnv(t)

	cfg := LoadConfig(config.Config{Environment: "production"})
	assert.Equal(t, "quotaguard", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.OtelEnabled)
	assert.False(t, cfg.Debug())
	assert.Equal(t, "/metrics", cfg.MetricsRoute())
	assert.Equal(t, "/health", cfg.HealthRoute())
	assert.Equal(t, logger.Warn, cfg.DBLogLevel)
	assert.Equal(t, 200*time.Millisecond, cfg.DBSlowQuery)
}

func TestLoadConfigEnablesOtelWithEndpoint(t *testing.T) {
	clearObservabilityEnv(t)

	cfg := LoadConfig(config.Config{AppName: "qg", Environment: "dev", OTLPEndpoint: "collector:4317"})
	assert.Equal(t, "qg", cfg.ServiceName)
	assert.True(t, cfg.OtelEnabled)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.True(t, cfg.Debug())
}

func TestLoadConfigProbeAndDatabaseOverrides(t *testing.T) {
	clearObservabilityEnv(t)
	t.Setenv("METRICS_PATH", "internal/metrics")
	t.Setenv("DB_LOG_LEVEL", "error")
	t.Setenv("DB_SLOW_QUERY_MS", "50")

	cfg := LoadConfig(config.Config{})
	assert.Equal(t, []string{"/internal/metrics", "/health"}, cfg.ProbePaths())
	assert.Equal(t, logger.Error, cfg.DBLogLevel)

	gormCfg := provideGormLoggerConfig(cfg)
	assert.Equal(t, logger.Error, gormCfg.Level)
	assert.Equal(t, 50*time.Millisecond, gormCfg.SlowThreshold)
	assert.True(t, gormCfg.IgnoreRecordNotFound)
}

func TestConfigRoutesDefaultWhenUnset(t *testing.T) {
	var cfg Config
	assert.Equal(t, []string{"/metrics", "/health"}, cfg.ProbePaths())
}
