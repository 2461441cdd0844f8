// Package telemetry defines the logging, metrics, and tracing interfaces
// the rest of planforge depends on. goa.design/clue and OpenTelemetry back
// the production implementations; a Noop set satisfies the same interfaces
// for tests and local runs with no collector configured.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger is the structured logger every package depends on instead of the
// concrete Clue API, so engine/vm/planner code never imports Clue directly.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics records counters, timers, and gauges for engine step execution,
// tool invocation latency, and recovery attempts.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer starts spans around dispatch, tool calls, and branch-store writes.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span is an in-flight trace span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// StepTelemetry captures the observability metadata of one dispatched
// instruction: duration, tokens (for calling instructions that invoke an
// LLM-backed tool), and a free-form Extra bag for tool-specific detail.
type StepTelemetry struct {
	DurationMs int64
	TokensUsed int
	Model      string
	Extra      map[string]any
}
