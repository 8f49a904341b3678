package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes quota and usage instruments.
type Metrics struct {
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
	usageRecorded    metric.Int64Counter
	usageCost        metric.Float64Counter
	quotaDenied      metric.Int64Counter
	featureDenied    metric.Int64Counter
	ledgerReadErrors metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "quotaguard"
	}
	meter := provider.Meter(name)

	rateLimitAllowed, err := meter.Int64Counter("quotaguard_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("quotaguard_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}
	usageRecorded, err := meter.Int64Counter("quotaguard_usage_recorded_total")
	if err != nil {
		return nil, err
	}
	usageCost, err := meter.Float64Counter("quotaguard_usage_cost_usd_total", metric.WithUnit("USD"))
	if err != nil {
		return nil, err
	}
	quotaDenied, err := meter.Int64Counter("quotaguard_quota_denied_total")
	if err != nil {
		return nil, err
	}
	featureDenied, err := meter.Int64Counter("quotaguard_feature_denied_total")
	if err != nil {
		return nil, err
	}
	ledgerReadErrors, err := meter.Int64Counter("quotaguard_ledger_read_errors_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		rateLimitAllowed: rateLimitAllowed,
		rateLimitDenied:  rateLimitDenied,
		usageRecorded:    usageRecorded,
		usageCost:        usageCost,
		quotaDenied:      quotaDenied,
		featureDenied:    featureDenied,
		ledgerReadErrors: ledgerReadErrors,
	}, nil
}

func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, tier, feature string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("tier", strings.TrimSpace(tier)),
		attribute.String("feature", strings.TrimSpace(feature)),
	)
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, tier, feature, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("tier", strings.TrimSpace(tier)),
		attribute.String("feature", strings.TrimSpace(feature)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordUsage counts one cost ledger append and its USD cost.
func (m *Metrics) RecordUsage(ctx context.Context, tier string, cost float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("tier", strings.TrimSpace(tier)))...)
	m.usageRecorded.Add(ctx, 1, attrs)
	if cost > 0 {
		m.usageCost.Add(ctx, cost, attrs)
	}
}

func (m *Metrics) RecordQuotaDenied(ctx context.Context, tier string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("tier", strings.TrimSpace(tier)))
	m.quotaDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordFeatureDenied(ctx context.Context, tier, feature string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("tier", strings.TrimSpace(tier)),
		attribute.String("feature", strings.TrimSpace(feature)),
	)
	m.featureDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLedgerReadError counts failed ledger reads by which ledger and the
// failure policy applied.
func (m *Metrics) RecordLedgerReadError(ctx context.Context, ledger, policy string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("ledger", strings.TrimSpace(ledger)),
		attribute.String("reason", strings.TrimSpace(policy)),
	)
	m.ledgerReadErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"tier":        {},
	"feature":     {},
	"reason":      {},
	"ledger":      {},
	"service":     {},
	"endpoint":    {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
