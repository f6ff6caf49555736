package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"

	"mindwell/internal/config"
)

const (
	ServiceName    = "mindwell-api"
	ServiceVersion = "1.0.0"
	MeterName      = "mindwell"
)

// OTelProviders holds the OpenTelemetry providers
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Metrics        *BusinessMetrics
	logger         *slog.Logger
}

// InitializeOTel sets up tracing and metrics according to cfg. Each call
// gets its own Prometheus registry so several providers can coexist in one
// process.
func InitializeOTel(cfg config.TelemetryConfig, logger *slog.Logger) (*OTelProviders, error) {
	if logger == nil {
		logger = GetLogger()
	}
	ctx := context.Background()

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(ServiceVersion),
		semconv.DeploymentEnvironmentName(cfg.Environment),
		attribute.String("service.instance.id", generateInstanceID()),
	)

	providers := &OTelProviders{logger: logger}

	if err := providers.initTracing(cfg, res); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if err := providers.initMetrics(cfg, res); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	metrics, err := CreateBusinessMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create business metrics: %w", err)
	}
	providers.Metrics = metrics

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.InfoContext(ctx, "OpenTelemetry initialized",
		slog.String("trace_exporter", cfg.TraceExporter),
		slog.Bool("metrics_enabled", cfg.MetricsEnabled),
		slog.String("environment", cfg.Environment))

	return providers, nil
}

func (p *OTelProviders) initTracing(cfg config.TelemetryConfig, res *resource.Resource) error {
	switch cfg.TraceExporter {
	case "", "none":
		p.Tracer = otel.Tracer(MeterName)
		return nil
	case "stdout":
	default:
		return fmt.Errorf("unsupported trace exporter: %s", cfg.TraceExporter)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
	)
	p.TracerProvider = tp
	p.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(ServiceVersion))
	otel.SetTracerProvider(tp)
	return nil
}

func (p *OTelProviders) initMetrics(cfg config.TelemetryConfig, res *resource.Resource) error {
	if !cfg.MetricsEnabled {
		p.Meter = noop.NewMeterProvider().Meter(MeterName)
		return nil
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	p.MeterProvider = mp
	p.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(ServiceVersion))
	p.PrometheusHTTP = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return nil
}

// BusinessMetrics holds all application-specific instruments
type BusinessMetrics struct {
	// HTTP metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter

	// Background job metrics
	JobEventsSent   metric.Int64Counter
	JobRunsTotal    metric.Int64Counter
	JobRunDuration  metric.Float64Histogram
	JobRunFailures  metric.Int64Counter
	JobQueueBacklog metric.Int64UpDownCounter

	// WebSocket metrics
	WSConnections     metric.Int64UpDownCounter
	WSMessagesSent    metric.Int64Counter
	WSMessagesDropped metric.Int64Counter

	// Domain metrics
	AuthLogins      metric.Int64Counter
	ChatMessages    metric.Int64Counter
	MoodEntries     metric.Int64Counter
	ActivityEntries metric.Int64Counter
}

// CreateBusinessMetrics creates the application instruments on meter
func CreateBusinessMetrics(meter metric.Meter) (*BusinessMetrics, error) {
	var (
		m    BusinessMetrics
		errs []error
	)
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}

	m.HTTPRequestsTotal = counter("http_requests_total", "Total number of HTTP requests")
	d, err := meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"), metric.WithUnit("s"))
	errs = append(errs, err)
	m.HTTPRequestDuration = d
	a, err := meter.Int64UpDownCounter("http_active_requests",
		metric.WithDescription("Number of active HTTP requests"))
	errs = append(errs, err)
	m.HTTPActiveRequests = a

	m.JobEventsSent = counter("job_events_sent_total", "Total number of events sent to the job server")
	m.JobRunsTotal = counter("job_runs_total", "Total number of function runs")
	m.JobRunFailures = counter("job_run_failures_total", "Total number of failed function runs")
	jd, err := meter.Float64Histogram("job_run_duration_seconds",
		metric.WithDescription("Function run duration in seconds"), metric.WithUnit("s"))
	errs = append(errs, err)
	m.JobRunDuration = jd
	b, err := meter.Int64UpDownCounter("job_queue_backlog",
		metric.WithDescription("Number of queued function runs"))
	errs = append(errs, err)
	m.JobQueueBacklog = b

	ws, err := meter.Int64UpDownCounter("websocket_connections_active",
		metric.WithDescription("Number of open websocket connections"))
	errs = append(errs, err)
	m.WSConnections = ws
	m.WSMessagesSent = counter("websocket_messages_sent_total", "Total number of websocket messages delivered")
	m.WSMessagesDropped = counter("websocket_messages_dropped_total", "Total number of websocket messages dropped for slow clients")

	m.AuthLogins = counter("auth_logins_total", "Total number of login attempts")
	m.ChatMessages = counter("chat_messages_total", "Total number of chat messages stored")
	m.MoodEntries = counter("mood_entries_total", "Total number of mood entries recorded")
	m.ActivityEntries = counter("activity_entries_total", "Total number of activities logged")

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &m, nil
}

// NoopBusinessMetrics returns instruments that record nothing
func NoopBusinessMetrics() *BusinessMetrics {
	m, _ := CreateBusinessMetrics(noop.NewMeterProvider().Meter(MeterName))
	return m
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

	if err := errors.Join(errs...); err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "OpenTelemetry shutdown complete")
	return nil
}

// generateInstanceID generates a unique instance identifier
func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordJobRun records the outcome of one function run
func RecordJobRun(ctx context.Context, metrics *BusinessMetrics, functionID string, duration time.Duration, err error) {
	if metrics == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "failure"
	}
	attrs := metric.WithAttributes(
		attribute.String("function.id", functionID),
		attribute.String("status", status),
	)
	metrics.JobRunsTotal.Add(ctx, 1, attrs)
	metrics.JobRunDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		metrics.JobRunFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("function.id", functionID),
			attribute.String("error.type", fmt.Sprintf("%T", err)),
		))
	}
}
