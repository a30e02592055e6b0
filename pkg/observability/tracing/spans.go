package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer scope used for every txcoord span.
const InstrumentationName = "github.com/nimburion/txcoord"

// SpanOperation represents a traced operation type.
type SpanOperation string

// Span operation constants
const (
	// SpanOperationTxBegin represents starting a transaction through a driver control
	SpanOperationTxBegin SpanOperation = "tx.begin"
	// SpanOperationTxCommit represents committing a transaction
	SpanOperationTxCommit SpanOperation = "tx.commit"
	// SpanOperationTxRollback represents rolling back a transaction
	SpanOperationTxRollback SpanOperation = "tx.rollback"
	// SpanOperationTxJoin represents registering with an external platform
	SpanOperationTxJoin SpanOperation = "tx.join"

	// SpanOperationConnAcquire represents obtaining a physical connection
	SpanOperationConnAcquire SpanOperation = "connection.acquire"
	// SpanOperationConnRelease represents releasing a physical connection
	SpanOperationConnRelease SpanOperation = "connection.release"
)

// StartTransactionSpan creates a span for a transaction lifecycle operation.
func StartTransactionSpan(ctx context.Context, operation SpanOperation, opts ...SpanOption) (context.Context, trace.Span) {
	return start(ctx, "TX", "tx.operation", operation, opts)
}

// StartConnectionSpan creates a span for a physical connection lifecycle operation.
func StartConnectionSpan(ctx context.Context, operation SpanOperation, opts ...SpanOption) (context.Context, trace.Span) {
	return start(ctx, "CONN", "connection.operation", operation, opts)
}

func start(ctx context.Context, prefix, key string, operation SpanOperation, opts []SpanOption) (context.Context, trace.Span) {
	spanOpts := &spanOptions{
		attributes: []attribute.KeyValue{
			attribute.String(key, string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := fmt.Sprintf("%s %s", prefix, operation)
	if spanOpts.backend != "" {
		spanName = fmt.Sprintf("%s %s %s", prefix, operation, spanOpts.backend)
	}

	ctx, span := otel.Tracer(InstrumentationName).Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// SpanOption configures a transaction or connection span.
type SpanOption func(*spanOptions)

type spanOptions struct {
	backend    string
	attributes []attribute.KeyValue
}

// WithBackend sets the coordinator backend ("resource_local", "external").
func WithBackend(backend string) SpanOption {
	return func(opts *spanOptions) {
		opts.backend = backend
		opts.attributes = append(opts.attributes, attribute.String("tx.backend", backend))
	}
}

// WithUnitOfWork tags the span with the owning session id.
func WithUnitOfWork(id string) SpanOption {
	return func(opts *spanOptions) {
		if id == "" {
			return
		}
		opts.attributes = append(opts.attributes, attribute.String("tx.unit_of_work_id", id))
	}
}

// WithReleaseTrigger records what caused a connection release.
func WithReleaseTrigger(trigger string) SpanOption {
	return func(opts *spanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("connection.release_trigger", trigger))
	}
}

// End records err (if any) on span and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	span.End()
}

// RecordError records an error in the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
