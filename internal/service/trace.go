package service

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

// TracerName identifies spans emitted by the research engine.
const TracerName = "github.com/hugo-lorenzo-mato/quorum-research"

// Tracer emits run, phase and subtask spans. Without an installed
// provider the global tracer is a no-op.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer returns a tracer backed by the global tracer provider.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

// NewTracerWith wraps an explicit tracer.
func NewTracerWith(t trace.Tracer) *Tracer {
	if t == nil {
		return NewTracer()
	}
	return &Tracer{tracer: t}
}

// StartRun starts the root span of a research run.
func (t *Tracer) StartRun(ctx context.Context, runID, query string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "research.run")
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.Int("run.query_length", len(query)),
	)
	return ctx, span
}

// StartPhase starts a span for one phase of the control loop.
func (t *Tracer) StartPhase(ctx context.Context, phase core.Phase, iteration int) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "phase."+phase.String())
	span.SetAttributes(
		attribute.String("phase.name", phase.String()),
		attribute.Int("phase.iteration", iteration),
	)
	return ctx, span
}

// StartSubtask starts a span for a worker executing a subtask.
func (t *Tracer) StartSubtask(ctx context.Context, st core.Subtask, workerID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "subtask.execute")
	span.SetAttributes(
		attribute.String("subtask.id", st.ID.String()),
		attribute.String("subtask.mode", string(st.Mode)),
		attribute.Int("subtask.priority", st.Priority),
		attribute.String("worker.id", workerID),
	)
	return ctx, span
}

// EndSpan records err on the span, if any, and ends it.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.category", string(core.GetCategory(err))))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
