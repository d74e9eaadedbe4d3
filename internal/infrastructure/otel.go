package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	ServiceName    = "tradeetl"
	ServiceVersion = "1.0.0"
	MeterName      = "cbstrade"
)

// OTelConfig holds OpenTelemetry configuration
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	EnableMetrics  bool
	EnableTracing  bool
}

// OTelProviders holds the OpenTelemetry providers
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
}

// InitializeOTel sets up the meter provider (Prometheus exporter on a private
// registry) and, when enabled, a stdout span exporter. Disabled signals fall
// back to no-op implementations so callers never need nil checks.
func InitializeOTel(cfg OTelConfig, logger *slog.Logger) (*OTelProviders, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = ServiceName
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = ServiceVersion
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		attribute.String("service.instance.id", GenerateTraceID()),
	)

	providers := &OTelProviders{
		Tracer: otel.Tracer(MeterName),
		Meter:  noop.NewMeterProvider().Meter(MeterName),
	}

	if cfg.EnableTracing {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		providers.TracerProvider = tp
		providers.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
		otel.SetTracerProvider(tp)
	}

	if cfg.EnableMetrics {
		registry := promclient.NewRegistry()
		exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)
		providers.MeterProvider = mp
		providers.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(cfg.ServiceVersion))
		providers.PrometheusHTTP = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
		otel.SetMeterProvider(mp)
	}

	logger.Info("OpenTelemetry initialized",
		slog.Bool("tracing_enabled", cfg.EnableTracing),
		slog.Bool("metrics_enabled", cfg.EnableMetrics))

	return providers, nil
}

// Shutdown flushes and stops the providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error
	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// PipelineMetrics are the counters and histograms of an ETL run
type PipelineMetrics struct {
	entriesSeen      metric.Int64Counter
	decisions        metric.Int64Counter
	rowErrors        metric.Int64Counter
	downloadFailures metric.Int64Counter
	parseFailures    metric.Int64Counter
	recordsInserted  metric.Int64Counter
	recordsDuplicate metric.Int64Counter
	downloadDuration metric.Float64Histogram
	processDuration  metric.Float64Histogram
}

// NewPipelineMetrics registers the pipeline instruments on meter
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(MeterName)
	}

	m := &PipelineMetrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.entriesSeen, "tradeetl_table_entries_total", "Rows read from the published files table"},
		{&m.decisions, "tradeetl_change_decisions_total", "Change detection outcomes per entry"},
		{&m.rowErrors, "tradeetl_table_row_errors_total", "Table rows that could not be decoded"},
		{&m.downloadFailures, "tradeetl_download_failures_total", "Archives that could not be downloaded"},
		{&m.parseFailures, "tradeetl_parse_failures_total", "Archives reported as not parsed"},
		{&m.recordsInserted, "tradeetl_records_inserted_total", "Trade records inserted"},
		{&m.recordsDuplicate, "tradeetl_records_duplicate_total", "Trade records skipped as duplicates"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create counter %s: %w", c.name, err)
		}
	}

	m.downloadDuration, err = meter.Float64Histogram("tradeetl_download_duration_seconds",
		metric.WithDescription("Archive download duration"), metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create download histogram: %w", err)
	}
	m.processDuration, err = meter.Float64Histogram("tradeetl_process_duration_seconds",
		metric.WithDescription("Archive processing duration"), metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create process histogram: %w", err)
	}

	return m, nil
}

// RecordEntry counts a table entry and its change decision
func (m *PipelineMetrics) RecordEntry(ctx context.Context, dataType, decision string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("data_type", dataType))
	m.entriesSeen.Add(ctx, 1, attrs)
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("data_type", dataType),
		attribute.String("decision", decision)))
}

// RecordRowError counts an undecodable table row
func (m *PipelineMetrics) RecordRowError(ctx context.Context, dataType string) {
	if m == nil {
		return
	}
	m.rowErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("data_type", dataType)))
}

// RecordDownload records a download attempt outcome and duration
func (m *PipelineMetrics) RecordDownload(ctx context.Context, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.downloadDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.Bool("success", err == nil)))
	if err != nil {
		m.downloadFailures.Add(ctx, 1)
	}
}

// RecordProcess records an archive processing outcome
func (m *PipelineMetrics) RecordProcess(ctx context.Context, duration time.Duration, parsed bool) {
	if m == nil {
		return
	}
	m.processDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.Bool("parsed", parsed)))
	if !parsed {
		m.parseFailures.Add(ctx, 1)
	}
}

// RecordInsert counts inserted and duplicate records
func (m *PipelineMetrics) RecordInsert(ctx context.Context, inserted, duplicates int) {
	if m == nil {
		return
	}
	m.recordsInserted.Add(ctx, int64(inserted))
	m.recordsDuplicate.Add(ctx, int64(duplicates))
}
