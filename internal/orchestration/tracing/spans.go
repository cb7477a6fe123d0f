package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Span attribute keys.
const (
	// Run attributes
	AttrProjectID = "project.id"
	AttrRequest   = "run.request"
	AttrIteration = "run.iteration"
	AttrSuccess   = "run.success"

	// Phase attributes
	AttrPhase       = "phase.name"
	AttrParticipant = "phase.participant"

	// Model client attributes
	AttrProvider         = "llm.provider"
	AttrModel            = "llm.model"
	AttrPromptTokens     = "llm.usage.prompt_tokens"
	AttrCompletionTokens = "llm.usage.completion_tokens"
	AttrFailoverTo       = "llm.failover.to"
	AttrCacheHit         = "llm.cache_hit"

	// Review attributes
	AttrScore  = "review.score"
	AttrPassed = "review.passed"

	// Error attributes
	AttrErrorMessage = "error.message"
)

// Span names.
const (
	SpanRun           = "orchestrator.run"
	SpanPrefixPhase   = "phase."
	SpanComplete      = "llm.complete"
	SpanPrefixAttempt = "llm.attempt."
)

// Event names for span events.
const (
	EventProviderFailed = "provider.failed"
	EventFailover       = "provider.failover"
	EventRemediation    = "review.remediation"
)

// noopTracer backs OrNoop.
var noopTracer = noop.NewTracerProvider().Tracer("noop")

// OrNoop returns t, or a no-op tracer when t is nil.
func OrNoop(t trace.Tracer) trace.Tracer {
	if t == nil {
		return noopTracer
	}
	return t
}

// Start opens an internal span on tracer (nil-safe) with attrs.
func Start(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return OrNoop(tracer).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// End records err on span, sets its status and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// StartRun opens the root span of one orchestrator run.
func StartRun(ctx context.Context, tracer trace.Tracer, projectID, request string) (context.Context, trace.Span) {
	return Start(ctx, tracer, SpanRun,
		attribute.String(AttrProjectID, projectID),
		attribute.String(AttrRequest, request),
	)
}

// StartPhase opens a phase.<name> span for the participant doing the work.
func StartPhase(ctx context.Context, tracer trace.Tracer, phase, participant string) (context.Context, trace.Span) {
	return Start(ctx, tracer, SpanPrefixPhase+phase,
		attribute.String(AttrPhase, phase),
		attribute.String(AttrParticipant, participant),
	)
}

// StartAttempt opens an llm.attempt.<provider> span under a completion.
func StartAttempt(ctx context.Context, tracer trace.Tracer, provider string) (context.Context, trace.Span) {
	return Start(ctx, tracer, SpanPrefixAttempt+provider, attribute.String(AttrProvider, provider))
}
