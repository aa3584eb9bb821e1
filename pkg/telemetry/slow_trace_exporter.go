package telemetry

import (
	"context"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const DefaultSlowTraceThreshold = time.Second

type slowTraceSpanExporter struct {
	wrappedExporter sdktrace.SpanExporter

	threshold time.Duration
}

type SlowTraceSpanExporterOption func(o *slowTraceSpanExporter)

func WithThreshold(threshold time.Duration) SlowTraceSpanExporterOption {
	return func(o *slowTraceSpanExporter) {
		o.threshold = threshold
	}
}

var _ sdktrace.SpanExporter = (*slowTraceSpanExporter)(nil)

// NewSlowTraceSpanExporter creates a SpanExporter that sends spans to exporter
// only when the root span of their trace lasted at least the threshold. Spans
// whose root is not part of the same export batch are dropped.
//
// If the exporter is nil, nothing is exported.
func NewSlowTraceSpanExporter(exporter sdktrace.SpanExporter, options ...SlowTraceSpanExporterOption) sdktrace.SpanExporter {
	t := &slowTraceSpanExporter{
		wrappedExporter: exporter,
		threshold:       DefaultSlowTraceThreshold,
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

func (t *slowTraceSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if t.wrappedExporter == nil {
		return nil
	}

	slowTraces := make(map[trace.TraceID]struct{})
	for _, span := range spans {
		if span.Parent().IsValid() {
			continue
		}
		if span.EndTime().Sub(span.StartTime()) >= t.threshold {
			slowTraces[span.SpanContext().TraceID()] = struct{}{}
		}
	}
	if len(slowTraces) == 0 {
		return nil
	}

	slowSpans := make([]sdktrace.ReadOnlySpan, 0, len(spans))
	for _, span := range spans {
		if _, ok := slowTraces[span.SpanContext().TraceID()]; ok {
			slowSpans = append(slowSpans, span)
		}
	}

	return t.wrappedExporter.ExportSpans(ctx, slowSpans)
}

func (t *slowTraceSpanExporter) Shutdown(ctx context.Context) error {
	if t.wrappedExporter == nil {
		return nil
	}
	return t.wrappedExporter.Shutdown(ctx)
}
