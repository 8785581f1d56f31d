package observability

import (
	"context"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"tirsharpen/internal/logging"
)

const (
	serviceName      = "tirsharpen"
	serviceNamespace = "landsat-thermal"
	defaultOTLP      = "localhost:4317"
)

// TracingConfig says where the spans of a sharpening run go: one span per
// batch, one per scene and one per stage (aggregate, local, global, fusion,
// energy). An empty Exporter leaves tracing off.
type TracingConfig struct {
	Exporter    string  // "stdout" or "otlp"
	Endpoint    string  // OTLP gRPC collector as host:port
	SampleRatio float64 // share of root spans (batches or single scenes) kept
	Version     string  // CLI build version, recorded as service.version
}

// Enabled reports whether spans are exported.
func (c TracingConfig) Enabled() bool { return c.Exporter != "" }

// TracingConfigFromEnv reads TIRSHARPEN_TRACE and TIRSHARPEN_TRACE_SAMPLE.
// TIRSHARPEN_TRACE is "stdout", "otlp" or "otlp://host:port"; unset or "off"
// disables tracing. Invalid values are ignored.
func TracingConfigFromEnv() TracingConfig {
	cfg := TracingConfig{SampleRatio: 1}
	if exp, endpoint, err := parseTraceTarget(os.Getenv("TIRSHARPEN_TRACE")); err == nil {
		cfg.Exporter, cfg.Endpoint = exp, endpoint
	}
	if v, err := strconv.ParseFloat(os.Getenv("TIRSHARPEN_TRACE_SAMPLE"), 64); err == nil && v >= 0 && v <= 1 {
		cfg.SampleRatio = v
	}
	return cfg
}

func parseTraceTarget(target string) (exporter, endpoint string, err error) {
	target = strings.TrimSpace(target)
	switch strings.ToLower(target) {
	case "", "off", "none":
		return "", "", nil
	case "stdout":
		return "stdout", "", nil
	case "otlp":
		return "otlp", defaultOTLP, nil
	}
	u, err := url.Parse(target)
	if err != nil || !strings.EqualFold(u.Scheme, "otlp") || u.Host == "" {
		return "", "", errors.Errorf("invalid trace target %q", target)
	}
	return "otlp", u.Host, nil
}

// InitTracing installs the global tracer provider used by the sharpen and
// pipeline packages. The returned function flushes pending spans.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled() {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	attrs := []attribute.KeyValue{
		attribute.String("service.name", serviceName),
		attribute.String("service.namespace", serviceNamespace),
	}
	if cfg.Version != "" {
		attrs = append(attrs, attribute.String("service.version", cfg.Version))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, errors.Wrap(err, "tracing resource")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	log.Debug(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("endpoint", cfg.Endpoint),
		logging.Float64("sample_ratio", cfg.SampleRatio))
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout":
		// Stdout carries the CLI's own report.
		return stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithoutTimestamps())
	case "otlp":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLP
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	}
	return nil, errors.Errorf("unsupported trace exporter %q", cfg.Exporter)
}

// ShutdownWithTimeout flushes spans, giving up after five seconds. Failures
// are logged, not returned.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "flushing spans failed", logging.Err(err))
	}
}
