// Package otel sets up OpenTelemetry tracing for the REPL.
package otel

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterZipkin = "zipkin"

	// InstrumentationName names the tracer used by the actors
	InstrumentationName = "github.com/fluxorio/chanrepl"
)

// Config configures tracing
type Config struct {
	ServiceName    string
	ServiceVersion string
	Exporter       string    // none | stdout | zipkin
	Writer         io.Writer // stdout exporter destination, stderr if nil
	Endpoint       string    // zipkin collector URL
}

// Provider owns the tracer provider and its shutdown.
type Provider struct {
	tp       trace.TracerProvider
	shutdown func(context.Context) error
}

// ModuleVersion returns the main module version stamped into the binary,
// or "(devel)" when the build carries none.
func ModuleVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "(devel)"
	}
	return info.Main.Version
}

// NewProvider builds a tracer provider for cfg. The "none" exporter yields
// a no-op provider.
func NewProvider(cfg Config) (*Provider, error) {
	switch cfg.Exporter {
	case "", ExporterNone:
		return &Provider{
			tp:       noop.NewTracerProvider(),
			shutdown: func(context.Context) error { return nil },
		}, nil
	case ExporterStdout, ExporterZipkin:
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", cfg.Exporter)
	}

	attrs := []attribute.KeyValue{attribute.String("service.name", cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, attribute.String("service.version", cfg.ServiceVersion))
	}
	res := sdktrace.WithResource(resource.NewSchemaless(attrs...))

	if cfg.Exporter == ExporterZipkin {
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("zipkin exporter needs an endpoint")
		}
		exporter, err := zipkin.New(cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create zipkin exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), res)
		return &Provider{tp: tp, shutdown: tp.Shutdown}, nil
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	// spans are exported as they end; the REPL is interactive and may be
	// killed rather than shut down
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		res,
	)
	return &Provider{tp: tp, shutdown: tp.Shutdown}, nil
}

// Tracer returns the tracer the actors use
func (p *Provider) Tracer() trace.Tracer {
	return p.tp.Tracer(InstrumentationName)
}

// TracerProvider returns the underlying provider
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tp
}

// Shutdown flushes and stops the provider
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}

// Initialize builds a provider for cfg and installs it as the global
// OpenTelemetry tracer provider.
func Initialize(cfg Config) (*Provider, error) {
	p, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	otelapi.SetTracerProvider(p.tp)
	return p, nil
}
