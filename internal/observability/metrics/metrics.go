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

// Metrics exposes application-level instruments.
type Metrics struct {
	recordWrites   metric.Int64Counter
	importRows     metric.Int64Counter
	recapRebuilds  metric.Int64Counter
	configMissing  metric.Int64Counter
	consistencyErr metric.Int64Counter
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
		name = "ziswaf"
	}
	meter := provider.Meter(name)

	recordWrites, err := meter.Int64Counter("ziswaf_record_writes_total")
	if err != nil {
		return nil, err
	}
	importRows, err := meter.Int64Counter("ziswaf_import_rows_total")
	if err != nil {
		return nil, err
	}
	recapRebuilds, err := meter.Int64Counter("ziswaf_recap_rebuilds_total")
	if err != nil {
		return nil, err
	}
	configMissing, err := meter.Int64Counter("ziswaf_allocation_config_missing_total")
	if err != nil {
		return nil, err
	}
	consistencyErr, err := meter.Int64Counter("ziswaf_recap_consistency_violations_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		recordWrites:   recordWrites,
		importRows:     importRows,
		recapRebuilds:  recapRebuilds,
		configMissing:  configMissing,
		consistencyErr: consistencyErr,
	}, nil
}

// RecordWrite counts a source record lifecycle transition.
func (m *Metrics) RecordWrite(ctx context.Context, recordType, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("record_type", strings.TrimSpace(recordType)),
		attribute.String("event_kind", strings.TrimSpace(kind)),
	)
	m.recordWrites.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordImportRows counts imported spreadsheet rows by status.
func (m *Metrics) RecordImportRows(ctx context.Context, status string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.importRows.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordRecapRebuild counts recap rebuilds by recap kind, granularity and outcome.
func (m *Metrics) RecordRecapRebuild(ctx context.Context, recap, granularity, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("recap", strings.TrimSpace(recap)),
		attribute.String("granularity", strings.TrimSpace(granularity)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.recapRebuilds.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordConfigurationMissing counts allocation rebuilds blocked by a missing rule.
func (m *Metrics) RecordConfigurationMissing(ctx context.Context, fundType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("fund_type", strings.TrimSpace(fundType)))
	m.configMissing.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordConsistencyViolation counts failed recap sum checks.
func (m *Metrics) RecordConsistencyViolation(ctx context.Context, recap string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("recap", strings.TrimSpace(recap)))
	m.consistencyErr.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"record_type": {},
	"event_kind":  {},
	"status":      {},
	"recap":       {},
	"granularity": {},
	"outcome":     {},
	"fund_type":   {},
	"task_type":   {},
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
