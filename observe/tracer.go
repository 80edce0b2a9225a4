package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// OpMeta contains metadata about a dispatched storage operation.
type OpMeta struct {
	Category      string // Operation category (required, e.g. "bucket-read")
	Resource      string // Target resource path (optional, e.g. "/api/v1/buckets")
	CorrelationID string // Correlation id for this logical call (optional)
}

// SpanName returns the deterministic span name for this operation.
// Format: storage.op.<category>
func (m OpMeta) SpanName() string {
	return "storage.op." + m.Category
}

// Tracer wraps OpenTelemetry tracing with operation-scoped span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for a dispatched operation.
	StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new span with operation metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("op.category", meta.Category),
		attribute.Bool("op.error", false), // Updated in EndSpan if error
	}

	if meta.Resource != "" {
		attrs = append(attrs, attribute.String("op.resource", meta.Resource))
	}
	if meta.CorrelationID != "" {
		attrs = append(attrs, attribute.String("correlation_id", meta.CorrelationID))
	}

	ctx, span := t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)

	return ctx, span
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("op.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// nopTracer is a tracer that does nothing.
type nopTracer struct {
	noop trace.Tracer
}

// NopTracer returns a no-op tracer.
func NopTracer() Tracer {
	return &nopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *nopTracer) StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *nopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}
