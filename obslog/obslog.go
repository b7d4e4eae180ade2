// Package obslog is the ambient observability stack: structured logging
// via go.uber.org/zap and a Span helper that wraps a call in an
// OpenTelemetry span. No other package in this module calls Span, so
// suspension points (LLM, embedding, store, HTTP) are not traced. Grounded on steveyegge-beads's use of zap and
// go.opentelemetry.io/otel (github.com/steveyegge/beads go.mod), the only
// pack member that wires a structured logger and a tracer SDK together
// against an LLM-calling codebase.
package obslog

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("thala-sub002")

// New builds the process-wide logger. DevMode enables development
// encoding (human-readable, more verbose) matching THALA_MODE=dev's
// "extra tracing" contract in spec §6.
func New(devMode bool) (*zap.Logger, error) {
	if devMode {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Span wraps fn in an OpenTelemetry span named name, recording error
// status on failure. No call site in this module wraps its LLM,
// embedding, store or HTTP calls in Span.
func Span(ctx context.Context, name string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
