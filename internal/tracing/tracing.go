package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the name of the tracer used throughout the module.
const InstrumentationName = "github.com/dogmatiq/ledger"

// Start starts a new span as a child of any span in ctx.
func Start(
	ctx context.Context,
	name string,
	attrs ...attribute.KeyValue,
) (context.Context, trace.Span) {
	return otel.Tracer(InstrumentationName).Start(
		ctx,
		name,
		trace.WithAttributes(attrs...),
	)
}

// End ends a span, recording err if it is non-nil.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}
