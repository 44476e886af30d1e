// Package observability installs OpenTelemetry tracing for the letter
// workflow service and holds the span attributes shared by the services.
// Spans leave the process over OTLP gRPC.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials"

	"github.com/tbourn/go-letter-workflow/internal/config"
	"github.com/tbourn/go-letter-workflow/internal/domain"
)

// Span attribute keys for letter operations.
const (
	LetterIDKey   = attribute.Key("letter.id")
	ActorIDKey    = attribute.Key("actor.id")
	ActorRoleKey  = attribute.Key("actor.role")
	DepartmentKey = attribute.Key("department")
)

// LetterAttrs describes an operation by actor on letter id. A zero id is
// left out (ingest has no id yet).
func LetterAttrs(id int64, actor domain.Actor) []attribute.KeyValue {
	kv := make([]attribute.KeyValue, 0, 4)
	if id > 0 {
		kv = append(kv, LetterIDKey.Int64(id))
	}
	kv = append(kv, ActorIDKey.String(actor.ID), ActorRoleKey.String(string(actor.Role)))
	if actor.Department != "" {
		kv = append(kv, DepartmentKey.String(actor.Department))
	}
	return kv
}

// Replaced in tests.
var (
	newExporter = func(ctx context.Context, opts ...otlptracegrpc.Option) (*otlptrace.Exporter, error) {
		return otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	}
	newResource = func(ctx context.Context, info ServiceInfo) (*resource.Resource, error) {
		return resource.New(ctx, resource.WithAttributes(info.attributes()...), resource.WithHost())
	}
)

// ServiceInfo names the process on every exported span.
type ServiceInfo struct {
	Name        string
	Version     string
	Environment string
}

func (s ServiceInfo) attributes() []attribute.KeyValue {
	kv := []attribute.KeyValue{
		semconv.ServiceName(s.Name),
		semconv.ServiceVersion(s.Version),
	}
	if s.Environment != "" {
		kv = append(kv, semconv.DeploymentEnvironment(s.Environment))
	}
	return kv
}

// exporterOptions builds the OTLP client options. TLS uses the system roots.
func exporterOptions(cfg config.OTELConfig) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		return append(opts, otlptracegrpc.WithInsecure())
	}
	return append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
}

// sampler honours the caller's decision and samples root spans at ratio.
func sampler(ratio float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case ratio >= 1:
		root = sdktrace.AlwaysSample()
	case ratio <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(ratio)
	}
	return sdktrace.ParentBased(root)
}

// SetupOTel installs the global tracer provider and W3C propagators and
// returns its shutdown. Disabled tracing returns a no-op shutdown and leaves
// the globals alone; so does any setup error.
func SetupOTel(ctx context.Context, cfg config.OTELConfig, version string) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, exporterOptions(cfg)...)
	if err != nil {
		return nil, err
	}
	res, err := newResource(ctx, ServiceInfo{Name: cfg.ServiceName, Version: version, Environment: cfg.Environment})
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp.Shutdown, nil
}
