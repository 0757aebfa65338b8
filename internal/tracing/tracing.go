// Package tracing bootstraps OpenTelemetry: a real OTLP/HTTP exporter when
// OPENTELEMETRY_ENDPOINT is configured, otherwise a no-op provider so every
// reconcile can unconditionally open a span.
package tracing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const serviceName = "eip-operator"

// Config is read directly from the OPENTELEMETRY_* environment variables.
type Config struct {
	Endpoint   string
	Headers    map[string]string
	SampleRate float64
}

// ConfigFromEnv reads OPENTELEMETRY_ENDPOINT, OPENTELEMETRY_HEADERS (a
// JSON object of header name to value, e.g.
// {"authorization":"Bearer ..."}), and OPENTELEMETRY_SAMPLE_RATE. Endpoint
// is empty when tracing is not configured.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Endpoint:   os.Getenv("OPENTELEMETRY_ENDPOINT"),
		SampleRate: 1.0,
	}
	if raw := os.Getenv("OPENTELEMETRY_HEADERS"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.Headers); err != nil {
			return Config{}, fmt.Errorf("parsing OPENTELEMETRY_HEADERS: %w", err)
		}
	}
	if raw := os.Getenv("OPENTELEMETRY_SAMPLE_RATE"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.SampleRate = v
		}
	}
	return cfg, nil
}

// Init builds and registers a global TracerProvider from cfg. If
// cfg.Endpoint is empty it registers nothing, leaving otel's default
// global provider (which records no spans) in place so tracer.Start calls
// throughout the controllers are always safe, and returns a shutdown func
// that does nothing.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing OPENTELEMETRY_ENDPOINT %q: %w", cfg.Endpoint, err)
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(u.Host),
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	if u.Scheme == "http" {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("building otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("building otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)

	return func(shutdownCtx context.Context) error {
		ctx, cancel := context.WithTimeout(shutdownCtx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}

// Tracer returns the package-level tracer every reconciler opens its spans
// from.
func Tracer() trace.Tracer {
	return otel.Tracer(serviceName)
}
