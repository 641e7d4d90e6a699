package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// Init configures structured logging and, when OTEL_EXPORTER_OTLP_ENDPOINT is
// set, OpenTelemetry tracing for the process. Tracing is optional because the
// binary is usually a short-lived CLI run; logging always works. The returned
// logger writes one JSON object per line to stderr so stdout stays free for
// per-file sync output.
func Init(ctx context.Context, serviceName string) (func(context.Context) error, *log.Logger, error) {
	if serviceName == "" {
		return nil, nil, errors.New("telemetry: service name is required")
	}

	logWriter := newJSONLogWriter(serviceName, os.Stderr)
	logger := log.New(logWriter, "", 0)

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		shutdown := func(context.Context) error { return nil }
		return shutdown, logger, nil
	}

	exporter, err := newTraceExporter(ctx, endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: create exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	shutdown := func(ctx context.Context) error {
		return tracerProvider.Shutdown(ctx)
	}

	return shutdown, logger, nil
}

// Transport wraps base with OpenTelemetry instrumentation so outbound probe
// and upload requests carry spans and propagation headers. A nil base uses
// http.DefaultTransport.
func Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base)
}

func newTraceExporter(ctx context.Context, endpoint string) (*otlptrace.Exporter, error) {
	var opts []otlptracehttp.Option

	parsed, err := url.Parse(endpoint)
	if err == nil && parsed.Scheme != "" {
		if parsed.Host == "" {
			return nil, fmt.Errorf("invalid OTLP endpoint: %s", endpoint)
		}
		opts = append(opts, otlptracehttp.WithEndpoint(parsed.Host))
		if parsed.Path != "" && parsed.Path != "/" {
			opts = append(opts, otlptracehttp.WithURLPath(parsed.Path))
		}
		if parsed.Scheme == "http" {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	return otlptracehttp.New(ctx, opts...)
}

type jsonLogWriter struct {
	mu      sync.Mutex
	service string
	out     io.Writer
}

func newJSONLogWriter(service string, out io.Writer) *jsonLogWriter {
	if out == nil {
		out = os.Stderr
	}
	return &jsonLogWriter{service: service, out: out}
}

func (w *jsonLogWriter) Write(p []byte) (int, error) {
	level, message := parseLevel(strings.TrimSpace(string(p)))
	if err := w.log(level, message); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *jsonLogWriter) log(level, message string) error {
	entry := map[string]string{
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"level":   level,
		"service": w.service,
		"msg":     message,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

func parseLevel(message string) (string, string) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return "INFO", ""
	}

	if strings.HasPrefix(trimmed, "[") {
		if idx := strings.Index(trimmed, "]"); idx > 1 {
			level := strings.ToUpper(trimmed[1:idx])
			rest := strings.TrimSpace(trimmed[idx+1:])
			if isLevel(level) {
				return level, rest
			}
		}
	}

	if idx := strings.Index(trimmed, ":"); idx > 0 {
		level := strings.ToUpper(strings.TrimSpace(trimmed[:idx]))
		rest := strings.TrimSpace(trimmed[idx+1:])
		if isLevel(level) {
			return level, rest
		}
	}

	fields := strings.Fields(trimmed)
	if len(fields) > 1 {
		level := strings.ToUpper(fields[0])
		if isLevel(level) {
			return level, strings.TrimSpace(trimmed[len(fields[0]):])
		}
	}

	return "INFO", trimmed
}

func isLevel(level string) bool {
	switch level {
	case "INFO", "ERROR", "WARN", "WARNING", "DEBUG":
		return true
	default:
		return false
	}
}
