package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/portablefn/fnharness/internal/build"
)

type TracerOption func(d *customTracer)

// WithOTLPEndpoint exports spans to an OTLP collector over gRPC. Without an
// endpoint spans only reach the processors registered on the provider.
func WithOTLPEndpoint(endpoint string) TracerOption {
	return func(d *customTracer) {
		d.endpoint = endpoint
	}
}

func WithServiceName(serviceName string) TracerOption {
	return func(d *customTracer) {
		d.attributes = append(d.attributes, semconv.ServiceNameKey.String(serviceName))
	}
}

func WithAttributes(attributes ...attribute.KeyValue) TracerOption {
	return func(d *customTracer) {
		d.attributes = append(d.attributes, attributes...)
	}
}

func WithSamplingRatio(samplingRatio float64) TracerOption {
	return func(d *customTracer) {
		d.samplingRatio = samplingRatio
	}
}

// WithSlowTraceThreshold only exports traces whose root span lasted at least
// threshold.
func WithSlowTraceThreshold(threshold time.Duration) TracerOption {
	return func(d *customTracer) {
		d.slowTraceThreshold = threshold
	}
}

type customTracer struct {
	endpoint   string
	attributes []attribute.KeyValue

	samplingRatio      float64
	slowTraceThreshold time.Duration
}

// MustNewTracerProvider builds a tracer provider, installs it as the global one
// together with the W3C propagators, and returns it.
func MustNewTracerProvider(opts ...TracerOption) TracerProvider {
	tracer := &customTracer{
		attributes: []attribute.KeyValue{
			semconv.ServiceVersionKey.String(build.Version),
		},
	}

	for _, opt := range opts {
		opt(tracer)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(tracer.attributes...),
	)
	if err != nil {
		panic(err)
	}

	providerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(tracer.samplingRatio))),
		sdktrace.WithResource(res),
	}

	if tracer.endpoint != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var exp sdktrace.SpanExporter
		exp, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(tracer.endpoint),
		)
		if err != nil {
			panic(fmt.Sprintf("failed to establish a connection with the otlp exporter: %v", err))
		}

		if tracer.slowTraceThreshold > 0 {
			exp = NewSlowTraceSpanExporter(exp, WithThreshold(tracer.slowTraceThreshold))
		}
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exp))
	}

	tp := sdktrace.NewTracerProvider(providerOpts...)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	otel.SetTracerProvider(tp)

	return &tracerProvider{tp: tp}
}

func TraceError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
