package telemetry

import (
	"context"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// ShutdownFunc flushes buffered spans and stops the exporter
type ShutdownFunc func(context.Context) error

// Noop is used when tracing could not be initialized
func Noop(context.Context) error { return nil }

/*
Span layout produced by the server:

	HTTP request (TracingMiddleware)
	  └─ WebSocket.Connect
	       └─ WebSocket.Event (one per inbound event: join, code_change, ...)
	            └─ Room.Flush (synchronous flushes on leave / language change)

Debounced and periodic flushes run detached from any connection and start
their own root Room.Flush span.
*/

// InitJaeger installs a global tracer provider exporting to Jaeger
// sampleRatio is clamped by the SDK: >= 1 samples everything, <= 0 nothing
func InitJaeger(serviceName, version, jaegerEndpoint string, sampleRatio float64) (ShutdownFunc, error) {
	exp, err := jaeger.New(
		jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))),
	)

	otel.SetTracerProvider(tp)

	log.Printf("✓ Jaeger tracing initialized: %s (sample ratio %.2f)", jaegerEndpoint, sampleRatio)

	return tp.Shutdown, nil
}
