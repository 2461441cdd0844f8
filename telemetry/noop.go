package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NoopLogger discards every log message.
type NoopLogger struct{}

// NewNoopLogger returns a Logger that discards everything, for tests and
// local runs with no log sink configured.
func NewNoopLogger() Logger { return NoopLogger{} }

func (NoopLogger) Debug(context.Context, string, ...any) {}
func (NoopLogger) Info(context.Context, string, ...any)  {}
func (NoopLogger) Warn(context.Context, string, ...any)  {}
func (NoopLogger) Error(context.Context, string, ...any) {}

// NoopMetrics discards every metric.
type NoopMetrics struct{}

// NewNoopMetrics returns a Metrics that discards everything.
func NewNoopMetrics() Metrics { return NoopMetrics{} }

func (NoopMetrics) IncCounter(string, float64, ...string)          {}
func (NoopMetrics) RecordTimer(string, time.Duration, ...string)   {}
func (NoopMetrics) RecordGauge(string, float64, ...string)         {}

// NoopTracer produces spans that record nothing.
type NoopTracer struct{}

// NewNoopTracer returns a Tracer backed by noopSpan.
func NewNoopTracer() Tracer { return NoopTracer{} }

func (NoopTracer) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, Span) {
	return ctx, noopSpan{}
}
func (NoopTracer) Span(context.Context) Span { return noopSpan{} }

type noopSpan struct{}

func (noopSpan) End(...trace.SpanEndOption)                {}
func (noopSpan) AddEvent(string, ...any)                   {}
func (noopSpan) SetStatus(codes.Code, string)              {}
func (noopSpan) RecordError(error, ...trace.EventOption)   {}
