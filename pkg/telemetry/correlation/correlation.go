// Package correlation threads one identifier through a request, the
// background work it hands off, and the outbound calls it makes.
package correlation

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

const (
	HeaderCorrelationID = "X-Correlation-Id"
	HeaderTraceID       = "X-Trace-Id"
)

type ctxKey struct{}

func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// WithID stores id on ctx. An empty id leaves ctx unchanged.
func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// Detach keeps the identifiers and span of ctx but drops its cancellation,
// for work that must finish after the caller has gone away.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// OutboundHeaders returns the headers a downstream call should carry so its
// logs can be joined with ours.
func OutboundHeaders(ctx context.Context) map[string]string {
	headers := make(map[string]string, 2)
	if id := ID(ctx); id != "" {
		headers[HeaderCorrelationID] = id
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		headers[HeaderTraceID] = sc.TraceID().String()
	}
	return headers
}
