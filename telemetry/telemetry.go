// Package telemetry provides structured, correlated, PII-redacted event
// emission shared across the gateway's components.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured, leveled log messages. Implementations must pass
	// every key/value pair through the package redactor (isSensitiveKey,
	// redactValue) before it reaches a sink.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers, and gauges.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer starts and retrieves spans.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		Span(ctx context.Context) Span
	}

	// Span is the subset of span operations the gateway needs.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}

	// Event is a single structured, correlated occurrence emitted by a pipeline
	// stage. Every Event must carry a non-empty CorrelationID; this is the
	// invariant verified by testable property 7 in SPEC_FULL.md.
	Event struct {
		CorrelationID string
		SessionID     string
		TurnID        string
		Stage         string
		Name          string
		Timestamp     time.Time
		Fields        map[string]any
	}

	// Sink receives emitted Events. Implementations must redact Fields before
	// persisting or forwarding them.
	Sink interface {
		Emit(ctx context.Context, ev Event)
	}
)

// Recorder bundles the three telemetry axes (log, metric, trace) plus the
// correlated Event sink used by the pipeline and other components. It is the
// single handle passed by dependency injection to every component that needs
// to observe itself — never a global singleton.
type Recorder struct {
	Logger  Logger
	Metrics Metrics
	Tracer  Tracer
	Sink    Sink
}

// Emit redacts and forwards ev to the configured Sink, and is a no-op when no
// sink is configured.
func (r *Recorder) Emit(ctx context.Context, ev Event) {
	if r == nil || r.Sink == nil {
		return
	}
	ev.Fields = RedactFields(ev.Fields)
	r.Sink.Emit(ctx, ev)
}
